// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hashtable

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts table operations by outcome. A single Metrics may be shared
// by several tables (see WithMetrics).
type Metrics struct {
	lookups *prometheus.CounterVec
	adds    *prometheus.CounterVec
	removes *prometheus.CounterVec
}

// NewMetrics creates the operation counters and registers them with
// registerer, which may be nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		lookups: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "hashtable_lookups_total",
			Help: "Total number of table lookups by result (hit, miss).",
		}, []string{"result"}),
		adds: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "hashtable_adds_total",
			Help: "Total number of table insertions by result (inserted, exists, replaced).",
		}, []string{"result"}),
		removes: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "hashtable_removes_total",
			Help: "Total number of table removals by result (removed, missing).",
		}, []string{"result"}),
	}
}

func (m *Metrics) observeLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.lookups.WithLabelValues("hit").Inc()
	} else {
		m.lookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) observeAdd(result string) {
	if m == nil {
		return
	}
	m.adds.WithLabelValues(result).Inc()
}

func (m *Metrics) observeRemove(removed bool) {
	if m == nil {
		return
	}
	if removed {
		m.removes.WithLabelValues("removed").Inc()
	} else {
		m.removes.WithLabelValues("missing").Inc()
	}
}

// Collector exports the shape of a table (see Table.Stats) as gauges.
type Collector struct {
	t *Table

	entries     *prometheus.Desc
	buckets     *prometheus.Desc
	usedBuckets *prometheus.Desc
	maxChain    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for t whose metrics carry the label
// table=name. Collecting takes the table lock if t is synchronized, so it
// must not happen while the caller holds it.
func NewCollector(t *Table, name string) *Collector {
	labels := prometheus.Labels{"table": name}
	return &Collector{
		t: t,
		entries: prometheus.NewDesc("hashtable_entries",
			"Number of entries in the table.", nil, labels),
		buckets: prometheus.NewDesc("hashtable_buckets",
			"Number of buckets in the table.", nil, labels),
		usedBuckets: prometheus.NewDesc("hashtable_used_buckets",
			"Number of buckets holding at least one entry.", nil, labels),
		maxChain: prometheus.NewDesc("hashtable_max_chain_length",
			"Length of the longest bucket chain.", nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.buckets
	ch <- c.usedBuckets
	ch <- c.maxChain
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.t.Stats()
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.Entries))
	ch <- prometheus.MustNewConstMetric(c.buckets, prometheus.GaugeValue, float64(s.Buckets))
	ch <- prometheus.MustNewConstMetric(c.usedBuckets, prometheus.GaugeValue, float64(s.UsedBuckets))
	ch <- prometheus.MustNewConstMetric(c.maxChain, prometheus.GaugeValue, float64(s.MaxChain))
}
