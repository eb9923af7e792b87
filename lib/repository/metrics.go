// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "bureau_vault"

type metrics struct {
	chunksStored   prometheus.Counter
	dedupHits      prometheus.Counter
	conflicts      prometheus.Counter
	bytesIngested  prometheus.Counter
	bytesStored    prometheus.Counter
	chunksRead     prometheus.Counter
	archives       prometheus.Gauge
	gcRuns         prometheus.Counter
	gcBytesFreed   prometheus.Counter
	gcDuration     prometheus.Histogram
	indexRebuilds  prometheus.Counter
	commitDuration prometheus.Histogram
}

func newMetrics() *metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}
	return &metrics{
		chunksStored:  counter("chunks_stored_total", "Chunks encoded and appended to a segment."),
		dedupHits:     counter("dedup_hits_total", "Chunks satisfied by an existing index entry."),
		conflicts:     counter("ingest_conflicts_total", "Chunks stored concurrently by two writers; the loser's copy is garbage."),
		bytesIngested: counter("ingested_bytes_total", "Plaintext bytes passed through ingestion."),
		bytesStored:   counter("stored_bytes_total", "Encoded bytes appended for new chunks."),
		chunksRead:    counter("chunks_read_total", "Chunks read, decoded and verified."),
		archives: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "archives",
			Help:      "Archives in the current catalog.",
		}),
		gcRuns:       counter("gc_runs_total", "Completed garbage collection passes."),
		gcBytesFreed: counter("gc_freed_bytes_total", "Segment bytes reclaimed by compaction."),
		gcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "gc_duration_seconds",
			Help:      "Duration of garbage collection passes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		indexRebuilds: counter("index_rebuilds_total", "Index rebuilds by segment rescan."),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "commit_duration_seconds",
			Help:      "Time from Commit to a durable catalog.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.chunksStored, m.dedupHits, m.conflicts, m.bytesIngested, m.bytesStored,
		m.chunksRead, m.archives, m.gcRuns, m.gcBytesFreed, m.gcDuration,
		m.indexRebuilds, m.commitDuration,
	}
}

// register adds every collector to registerer. A repository closed
// with Close unregisters them again, so a process may open repositories
// one after another against the same registry.
func (m *metrics) register(registerer prometheus.Registerer) error {
	if registerer == nil {
		return nil
	}
	for i, collector := range m.collectors() {
		if err := registerer.Register(collector); err != nil {
			for _, registered := range m.collectors()[:i] {
				registerer.Unregister(registered)
			}
			return fmt.Errorf("registering repository metrics: %w", err)
		}
	}
	return nil
}

func (m *metrics) unregister(registerer prometheus.Registerer) {
	if registerer == nil {
		return
	}
	for _, collector := range m.collectors() {
		registerer.Unregister(collector)
	}
}
