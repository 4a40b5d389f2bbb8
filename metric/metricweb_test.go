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

package metric

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/DocChain/utils"
)

func TestInitMetricWeb(t *testing.T) {
	Convey("init metric web", t, func() {
		DefaultPipeline.AddSubmitted()
		DefaultPipeline.AddApplied()
		registry := StartMetricCollector()
		So(registry, ShouldNotBeNil)

		ports, err := utils.GetRandomPorts("127.0.0.1", 1025, 60000, 1)
		So(err, ShouldBeNil)
		addr := fmt.Sprintf("127.0.0.1:%d", ports[0])
		err = InitMetricWeb(addr, registry)
		So(err, ShouldBeNil)
		time.Sleep(time.Second)

		resp, err := http.Get("http://" + addr + "/debug/metrics")
		So(err, ShouldBeNil)
		buf := make([]byte, 40960)
		_, err = resp.Body.Read(buf)
		So(err, ShouldBeNil)
		So(string(buf), ShouldContainSubstring, "pipeline:applied")
		So(string(buf), ShouldContainSubstring, "go:alloc")

		resp, err = http.Get("http://" + addr + "/metrics")
		So(err, ShouldBeNil)
		buf = make([]byte, 40960)
		_, err = resp.Body.Read(buf)
		So(err, ShouldBeNil)
		So(string(buf), ShouldContainSubstring, "docchainstats_mutation_submitted_total")
	})
}
