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
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// pipelineMetrics provide description, value, and value type for mutation
// pipeline metrics.
type pipelineMetrics []struct {
	desc    *prometheus.Desc
	eval    func(*PipelineCollector) float64
	valType prometheus.ValueType
}

// PipelineCollector collects the mutation pipeline counters of a node. The
// pipeline components bump the counters through the Add hooks; prometheus
// reads them through the Collector interface.
type PipelineCollector struct {
	submitted      uint64
	applied        uint64
	rejected       uint64
	replayed       uint64
	sealedBlocks   uint64
	rolledSegments uint64
	rollupRetries  uint64
	syncedEvents   uint64

	// metrics to describe and collect
	metrics pipelineMetrics
}

// DefaultPipeline is the collector instance the pipeline components report
// to. Register it through StartMetricCollector.
var DefaultPipeline = NewPipelineCollector()

func pipelineStatNamespace(s string) string {
	return fmt.Sprintf("docchainstats_%s", s)
}

// NewPipelineCollector returns a new PipelineCollector.
func NewPipelineCollector() *PipelineCollector {
	pc := &PipelineCollector{}
	pc.metrics = pipelineMetrics{
		{
			desc: prometheus.NewDesc(
				pipelineStatNamespace("mutation_submitted_total"),
				"Mutations entering the ordering service",
				nil, nil,
			),
			eval:    func(pc *PipelineCollector) float64 { return float64(atomic.LoadUint64(&pc.submitted)) },
			valType: prometheus.CounterValue,
		},
		{
			desc: prometheus.NewDesc(
				pipelineStatNamespace("mutation_applied_total"),
				"Mutations durably appended and applied",
				nil, nil,
			),
			eval:    func(pc *PipelineCollector) float64 { return float64(atomic.LoadUint64(&pc.applied)) },
			valType: prometheus.CounterValue,
		},
		{
			desc: prometheus.NewDesc(
				pipelineStatNamespace("mutation_rejected_total"),
				"Mutations rejected before ordering",
				nil, nil,
			),
			eval:    func(pc *PipelineCollector) float64 { return float64(atomic.LoadUint64(&pc.rejected)) },
			valType: prometheus.CounterValue,
		},
		{
			desc: prometheus.NewDesc(
				pipelineStatNamespace("mutation_replayed_total"),
				"Mutations re-applied from the log tail on restart",
				nil, nil,
			),
			eval:    func(pc *PipelineCollector) float64 { return float64(atomic.LoadUint64(&pc.replayed)) },
			valType: prometheus.CounterValue,
		},
		{
			desc: prometheus.NewDesc(
				pipelineStatNamespace("block_sealed_total"),
				"Sealed mutation blocks",
				nil, nil,
			),
			eval:    func(pc *PipelineCollector) float64 { return float64(atomic.LoadUint64(&pc.sealedBlocks)) },
			valType: prometheus.CounterValue,
		},
		{
			desc: prometheus.NewDesc(
				pipelineStatNamespace("rollup_segment_total"),
				"Log segments archived externally",
				nil, nil,
			),
			eval:    func(pc *PipelineCollector) float64 { return float64(atomic.LoadUint64(&pc.rolledSegments)) },
			valType: prometheus.CounterValue,
		},
		{
			desc: prometheus.NewDesc(
				pipelineStatNamespace("rollup_retry_total"),
				"Failed archive writes sent back to pending",
				nil, nil,
			),
			eval:    func(pc *PipelineCollector) float64 { return float64(atomic.LoadUint64(&pc.rollupRetries)) },
			valType: prometheus.CounterValue,
		},
		{
			desc: prometheus.NewDesc(
				pipelineStatNamespace("synced_event_total"),
				"Contract events turned into mutations",
				nil, nil,
			),
			eval:    func(pc *PipelineCollector) float64 { return float64(atomic.LoadUint64(&pc.syncedEvents)) },
			valType: prometheus.CounterValue,
		},
	}
	return pc
}

// Describe returns all descriptions of the collector.
func (pc *PipelineCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, i := range pc.metrics {
		ch <- i.desc
	}
}

// Collect returns the current state of all metrics of the collector.
func (pc *PipelineCollector) Collect(ch chan<- prometheus.Metric) {
	for _, i := range pc.metrics {
		ch <- prometheus.MustNewConstMetric(i.desc, i.valType, i.eval(pc))
	}
}

// AddSubmitted counts one mutation entering the ordering service.
func (pc *PipelineCollector) AddSubmitted() { atomic.AddUint64(&pc.submitted, 1) }

// AddApplied counts one mutation durably appended and applied.
func (pc *PipelineCollector) AddApplied() { atomic.AddUint64(&pc.applied, 1) }

// AddRejected counts one mutation rejected before ordering.
func (pc *PipelineCollector) AddRejected() { atomic.AddUint64(&pc.rejected, 1) }

// AddReplayed counts mutations re-applied from the log tail on restart.
func (pc *PipelineCollector) AddReplayed(n int) { atomic.AddUint64(&pc.replayed, uint64(n)) }

// AddSealedBlock counts one sealed block.
func (pc *PipelineCollector) AddSealedBlock() { atomic.AddUint64(&pc.sealedBlocks, 1) }

// AddRolledSegment counts one segment archived externally.
func (pc *PipelineCollector) AddRolledSegment() { atomic.AddUint64(&pc.rolledSegments, 1) }

// AddRollupRetry counts one archive write sent back to pending.
func (pc *PipelineCollector) AddRollupRetry() { atomic.AddUint64(&pc.rollupRetries, 1) }

// AddSyncedEvents counts contract events turned into mutations.
func (pc *PipelineCollector) AddSyncedEvents(n int) { atomic.AddUint64(&pc.syncedEvents, uint64(n)) }
