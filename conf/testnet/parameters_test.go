/*
 * Copyright 2022 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package testnet

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/DocChain/proto"
)

func TestGetTestNetConfig(t *testing.T) {
	Convey("testnet config parses", t, func() {
		config := GetTestNetConfig()
		So(config, ShouldNotBeNil)
		So(config.Network, ShouldEqual, proto.NetworkID(3))
		So(config.MetricWeb, ShouldNotBeEmpty)
		So(config.Sync, ShouldNotBeNil)
		So(config.Sync.BatchSize, ShouldEqual, 128)
	})
}
