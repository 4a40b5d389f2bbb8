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

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/CovenantSQL/DocChain/chain"
	"github.com/CovenantSQL/DocChain/conf"
	"github.com/CovenantSQL/DocChain/conf/testnet"
	"github.com/CovenantSQL/DocChain/eventsync"
	"github.com/CovenantSQL/DocChain/metric"
	"github.com/CovenantSQL/DocChain/node"
	"github.com/CovenantSQL/DocChain/rollup"
	"github.com/CovenantSQL/DocChain/utils"
	"github.com/CovenantSQL/DocChain/utils/log"
	_ "github.com/CovenantSQL/DocChain/utils/log/debug"
)

const logo = `
 ____              ____ _           _
|  _ \  ___   ___ / ___| |__   __ _(_)_ __
| | | |/ _ \ / __| |   | '_ \ / _' | | '_ \
| |_| | (_) | (__| |___| | | | (_| | | | | |
|____/ \___/ \___|\____|_| |_|\__,_|_|_| |_|

`

var (
	version = "1"
	commit  = "unknown"
	branch  = "unknown"
)

var (
	// config
	configFile  string
	workingRoot string
	useTestNet  bool

	// profile
	cpuProfile string
	memProfile string

	// other
	noLogo      bool
	showVersion bool
)

const name = `docchaind`
const desc = `DocChain is a decentralized document database mirroring contract events`

func init() {
	flag.BoolVar(&noLogo, "nologo", false, "Do not print logo")
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
	flag.BoolVar(&useTestNet, "testnet", false, "Use the built-in TestNet config")
	flag.StringVar(&configFile, "config", "./config.yaml", "Config file path")
	flag.StringVar(&workingRoot, "root", "", "Working root override")

	flag.StringVar(&cpuProfile, "cpu-profile", "", "Path to file for CPU profiling information")
	flag.StringVar(&memProfile, "mem-profile", "", "Path to file for memory profiling information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "\n%s\n\n", desc)
		fmt.Fprintf(os.Stderr, "Usage: %s [arguments]\n", name)
		flag.PrintDefaults()
	}
}

func initLogs() {
	log.Infof("%s starting, version %s, commit %s, branch %s", name, version, commit, branch)
	log.Infof("%s, target architecture is %s, operating system target is %s",
		runtime.Version(), runtime.GOARCH, runtime.GOOS)
}

// nodeConfig maps the yaml config and the conf package parameters onto the
// component configs.
func nodeConfig(cfg *conf.Config) *node.Config {
	chainCfg := &chain.Config{
		BlockInterval:     conf.BlockInterval,
		MaxBlockMutations: conf.MaxBlockMutations,
		QueueDepth:        conf.MaxSubmitQueueDepth,
	}
	if c := cfg.Chain; c != nil {
		if c.MaxBlockMutations > 0 {
			chainCfg.MaxBlockMutations = c.MaxBlockMutations
		}
		if c.QueueDepth > 0 {
			chainCfg.QueueDepth = c.QueueDepth
		}
	}

	rollupCfg := &rollup.Config{
		Interval:         conf.RollupInterval,
		WriteRetryWindow: conf.WriteRetryWindow,
	}
	if r := cfg.Rollup; r != nil {
		rollupCfg.MinRollupSize = r.MinRollupSize
		rollupCfg.MaxIntervalBlocks = r.MaxIntervalBlocks
		rollupCfg.RetryAlertThreshold = r.RetryAlertThreshold
		rollupCfg.GCRoundOffset = r.GCRoundOffset
	}

	syncCfg := &eventsync.Config{
		BatchSize:        conf.MaxSyncBatchSize,
		Interval:         conf.SyncInterval,
		FetchRetryWindow: conf.FetchRetryWindow,
	}
	if s := cfg.Sync; s != nil && s.BatchSize > 0 {
		syncCfg.BatchSize = s.BatchSize
	}

	return &node.Config{
		Network: cfg.Network,
		DataDir: filepath.Join(cfg.WorkingRoot, "data"),
		Chain:   chainCfg,
		Rollup:  rollupCfg,
		Sync:    syncCfg,
	}
}

func main() {
	flag.Parse()

	if showVersion {
		log.Infof("%s %s %s %s %s (commit %s, branch %s)",
			name, version, runtime.GOOS, runtime.GOARCH, runtime.Version(), commit, branch)
		os.Exit(0)
	}

	var err error
	if useTestNet {
		conf.GConf = testnet.GetTestNetConfig()
	} else if conf.GConf, err = conf.LoadConfig(configFile); err != nil {
		log.Fatalf("load config from %s failed: %s", configFile, err)
	}
	if workingRoot != "" {
		conf.GConf.WorkingRoot = workingRoot
	}
	if conf.GConf.WorkingRoot == "" {
		conf.GConf.WorkingRoot = "."
	}
	log.SetStringLevel(conf.GConf.LogLevel, log.InfoLevel)
	log.Debugf("config:\n%#v", conf.GConf)

	initLogs()
	if !noLogo {
		fmt.Print(logo)
	}

	// init profile, if cpuProfile, memProfile length is 0, nothing will be done
	utils.StartProfile(cpuProfile, memProfile)
	defer utils.StopProfile()

	var nd *node.Node
	if nd, err = node.New(nodeConfig(conf.GConf)); err != nil {
		log.Fatalf("init node failed: %v", err)
	}
	if err = nd.Start(); err != nil {
		log.Fatalf("start node failed: %v", err)
	}

	// start metric collector
	registry := metric.StartMetricCollector()
	if conf.GConf.MetricWeb != "" {
		if err = metric.InitMetricWeb(conf.GConf.MetricWeb, registry); err != nil {
			log.Fatalf("start metric web failed: %v", err)
		}
	}

	<-utils.WaitForExit()

	if err = nd.Stop(); err != nil {
		log.WithError(err).Error("stop node failed")
	}
	log.Info("docchaind stopped")
}
