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
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"

	"github.com/CovenantSQL/DocChain/utils/log"
)

const (
	// KB is 1024 Bytes
	KB int64 = 1024
	// MB is 1024 KB
	MB int64 = KB * 1024
	// GB is 1024 MB
	GB int64 = MB * 1024
	// TB is 1024 GB
	TB int64 = GB * 1024
)

// StartMetricCollector starts a registry with the pipeline collector and the
// process runtime collectors registered.
func StartMetricCollector() (registry *prometheus.Registry) {
	collectors := map[string]prometheus.Collector{
		"pipeline": DefaultPipeline,
		"go":       prometheus.NewGoCollector(),
		"process":  prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		"version":  version.NewCollector("docchain"),
	}

	var names []string
	for n := range collectors {
		names = append(names, n)
	}
	sort.Strings(names)

	registry = prometheus.NewRegistry()
	log.Infof("Enabled collectors:")
	for _, n := range names {
		if err := registry.Register(collectors[n]); err != nil {
			log.Errorf("couldn't register %s collector: %s", n, err)
			return nil
		}
		log.Infof(" - %s", n)
	}

	return
}
