/*
 * Copyright 2026 The Tiercache Authors
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

package tiercache

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PerfCounters exports handle statistics on a private Prometheus
// registry. Only handles with performance counters enabled are
// reported; enabling them forces statistics collection on.
type PerfCounters[K comparable, V any] struct {
	manager  *Manager[K, V]
	registry *prometheus.Registry
}

// NewPerfCounters registers a collector over the manager's handles.
func NewPerfCounters[K comparable, V any](m *Manager[K, V]) *PerfCounters[K, V] {
	p := &PerfCounters[K, V]{
		manager:  m,
		registry: prometheus.NewRegistry(),
	}
	p.registry.MustRegister(&statsCollector[K, V]{manager: m})
	return p
}

// Handler returns an http.Handler for the /metrics endpoint.
func (p *PerfCounters[K, V]) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for callers embedding it into
// their own metrics pipeline.
func (p *PerfCounters[K, V]) Registry() *prometheus.Registry { return p.registry }

var (
	perfCounterDesc = prometheus.NewDesc(
		"tiercache_handle_operations_total",
		"Cache handle operation counters by handle and kind.",
		[]string{"cache", "handle", "kind"}, nil,
	)
	perfItemsDesc = prometheus.NewDesc(
		"tiercache_handle_items",
		"Number of items currently held by the handle.",
		[]string{"cache", "handle"}, nil,
	)
)

// statsCollector snapshots each handle's counters on scrape.
type statsCollector[K comparable, V any] struct {
	manager *Manager[K, V]
}

func (c *statsCollector[K, V]) Describe(ch chan<- *prometheus.Desc) {
	ch <- perfCounterDesc
	ch <- perfItemsDesc
}

func (c *statsCollector[K, V]) Collect(ch chan<- prometheus.Metric) {
	cache := c.manager.Name()
	for _, h := range c.manager.handles {
		cfg := h.Config()
		if !cfg.EnablePerformanceCounters {
			continue
		}
		s := h.Stats()
		counters := map[string]int64{
			"add":    s.AddCalls(),
			"put":    s.PutCalls(),
			"get":    s.GetCalls(),
			"hit":    s.Hits(),
			"miss":   s.Misses(),
			"remove": s.RemoveCalls(),
			"clear":  s.ClearCalls(),
		}
		for kind, v := range counters {
			ch <- prometheus.MustNewConstMetric(
				perfCounterDesc, prometheus.CounterValue, float64(v), cache, cfg.Name, kind,
			)
		}
		ch <- prometheus.MustNewConstMetric(
			perfItemsDesc, prometheus.GaugeValue, float64(s.Items()), cache, cfg.Name,
		)
	}
}
