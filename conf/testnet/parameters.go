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

// Package testnet contains the parameters of the DocChain TestNet.
package testnet

import (
	yaml "gopkg.in/yaml.v2"

	"github.com/CovenantSQL/DocChain/conf"
	"github.com/CovenantSQL/DocChain/utils/log"
)

const (
	// DocChainConfigYAML is the config string in YAML format of the DocChain
	// TestNet.
	DocChainConfigYAML = `
Network: 3
MetricWeb: "0.0.0.0:4665"
Sync:
  BatchSize: 128
`
)

// GetTestNetConfig parses and returns the DocChain TestNet config.
func GetTestNetConfig() (config *conf.Config) {
	var err error
	config = &conf.Config{}
	if err = yaml.Unmarshal([]byte(DocChainConfigYAML), config); err != nil {
		log.WithError(err).Fatal("unmarshal testnet config failed")
	}
	return
}
