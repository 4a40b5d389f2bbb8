/*
 * Copyright 2022 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metric

import (
	"expvar"
	"net/http"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	mw "github.com/zserge/metric"

	"github.com/CovenantSQL/DocChain/utils/log"
)

// SimpleMetricMap is map from metric name to MetricFamily.
type SimpleMetricMap map[string]*dto.MetricFamily

// FilterCrucialMetrics filters the pipeline metrics worth graphing on the
// debug web.
func (mfm SimpleMetricMap) FilterCrucialMetrics() (ret map[string]float64) {
	crucialMetricNameMap := map[string]string{
		"docchainstats_mutation_submitted_total": "pipeline:submitted",
		"docchainstats_mutation_applied_total":   "pipeline:applied",
		"docchainstats_mutation_rejected_total":  "pipeline:rejected",
		"docchainstats_block_sealed_total":       "pipeline:blocks",
		"docchainstats_rollup_segment_total":     "pipeline:segments",
		"docchainstats_rollup_retry_total":       "pipeline:retries",
		"docchainstats_synced_event_total":       "pipeline:events",
	}
	ret = make(map[string]float64)
	for _, v := range mfm {
		if newName, ok := crucialMetricNameMap[*v.Name]; ok {
			var metricVal float64
			switch v.GetType() {
			case dto.MetricType_GAUGE:
				metricVal = v.GetMetric()[0].GetGauge().GetValue()
			case dto.MetricType_COUNTER:
				metricVal = v.GetMetric()[0].GetCounter().GetValue()
			case dto.MetricType_UNTYPED:
				metricVal = v.GetMetric()[0].GetUntyped().GetValue()
			default:
				continue
			}
			ret[newName] = metricVal
		}
	}
	return
}

func collect(registry *prometheus.Registry) (err error) {
	mfs, err := registry.Gather()
	if err != nil {
		err = errors.Wrap(err, "gathering node metrics failed")
		return
	}
	mm := make(SimpleMetricMap, len(mfs))
	for _, mf := range mfs {
		mm[*mf.Name] = mf
		log.Debugf("gathered node: %v", mf)
	}
	crucialMetrics := mm.FilterCrucialMetrics()
	for k, v := range crucialMetrics {
		var val expvar.Var
		if val = expvar.Get(k); val == nil {
			expvar.Publish(k, mw.NewGauge("1h1m"))
			val = expvar.Get(k)
		}
		val.(mw.Metric).Add(v)
	}

	return
}

// InitMetricWeb initializes the /metrics and /debug/metrics webs.
func InitMetricWeb(metricWeb string, registry *prometheus.Registry) (err error) {
	// Some Go internal metrics
	expvar.Publish("go:numgoroutine", mw.NewGauge("1m1s", "5m5s", "1h1m"))
	expvar.Publish("go:numcgocall", mw.NewGauge("1m1s", "5m5s", "1h1m"))
	expvar.Publish("go:alloc", mw.NewGauge("1m1s", "5m5s", "1h1m"))
	expvar.Publish("go:alloctotal", mw.NewGauge("1m1s", "5m5s", "1h1m"))

	err = collect(registry)
	if err != nil {
		return
	}

	go func() {
		for range time.Tick(time.Minute) {
			_ = collect(registry)
		}
	}()

	go func() {
		for range time.Tick(5 * time.Second) {
			m := &runtime.MemStats{}
			runtime.ReadMemStats(m)
			expvar.Get("go:numgoroutine").(mw.Metric).Add(float64(runtime.NumGoroutine()))
			expvar.Get("go:numcgocall").(mw.Metric).Add(float64(runtime.NumCgoCall()))
			expvar.Get("go:alloc").(mw.Metric).Add(float64(m.Alloc) / float64(MB))
			expvar.Get("go:alloctotal").(mw.Metric).Add(float64(m.TotalAlloc) / float64(MB))
		}
	}()
	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	http.Handle("/debug/metrics", mw.Handler(mw.Exposed))
	go func() {
		_ = http.ListenAndServe(metricWeb, nil)
	}()
	return
}
