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

// Package conf holds the yaml node configuration. The yaml file carries
// identity, paths and integer limits; timing parameters live in
// parameters.go as package constants.
package conf

import (
	"io/ioutil"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/CovenantSQL/DocChain/proto"
)

// ChainConfig overrides the ordering service limits, zero keeps the default.
type ChainConfig struct {
	// MaxBlockMutations seals the open block early once it holds this many
	// mutations.
	MaxBlockMutations uint32 `yaml:"MaxBlockMutations,omitempty"`
	// QueueDepth bounds the submission queue.
	QueueDepth int `yaml:"QueueDepth,omitempty"`
}

// RollupConfig overrides the rollup engine limits, zero keeps the default.
type RollupConfig struct {
	// MinRollupSize is the raw byte threshold below which a young range
	// accumulates instead of being sealed.
	MinRollupSize uint64 `yaml:"MinRollupSize,omitempty"`
	// MaxIntervalBlocks caps how many blocks a small range may accumulate
	// before it is sealed regardless of size.
	MaxIntervalBlocks uint64 `yaml:"MaxIntervalBlocks,omitempty"`
	// RetryAlertThreshold is the consecutive round failure count past which
	// failures are logged at error level.
	RetryAlertThreshold uint32 `yaml:"RetryAlertThreshold,omitempty"`
	// GCRoundOffset is how many archived ranges behind the newest a range
	// must fall before its local log entries are collected.
	GCRoundOffset int `yaml:"GCRoundOffset,omitempty"`
}

// SyncConfig overrides the contract event processor limits, zero keeps the
// default.
type SyncConfig struct {
	// BatchSize bounds the block span of one event log fetch.
	BatchSize uint64 `yaml:"BatchSize,omitempty"`
}

// Config holds all the config read from the yaml config file.
type Config struct {
	// Network is the network magic every mutation of this deployment must
	// carry.
	Network proto.NetworkID `yaml:"Network"`
	// WorkingRoot is the directory holding all local state of the node.
	WorkingRoot string `yaml:"WorkingRoot"`
	// LogLevel is the logrus level name, empty keeps info.
	LogLevel string `yaml:"LogLevel,omitempty"`
	// MetricWeb is the listen address of the prometheus web endpoint, empty
	// disables it.
	MetricWeb string `yaml:"MetricWeb,omitempty"`

	Chain  *ChainConfig  `yaml:"Chain,omitempty"`
	Rollup *RollupConfig `yaml:"Rollup,omitempty"`
	Sync   *SyncConfig   `yaml:"Sync,omitempty"`
}

// GConf is the global config pointer.
var GConf *Config

// LoadConfig loads config from configPath.
func LoadConfig(configPath string) (config *Config, err error) {
	configBytes, err := ioutil.ReadFile(configPath)
	if err != nil {
		err = errors.Wrapf(err, "read config file %s failed", configPath)
		return
	}
	config = &Config{}
	if err = yaml.Unmarshal(configBytes, config); err != nil {
		config = nil
		err = errors.Wrap(err, "unmarshal config file failed")
		return
	}
	return
}
