// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package silo

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/redact"
	"github.com/prometheus/client_golang/prometheus"
)

// LevelMetrics holds per-level metrics: the number of live sstables and their
// total size.
type LevelMetrics struct {
	Level    uint32
	NumFiles int64
	Size     uint64
}

// Metrics is a point-in-time snapshot of the database's internal counters.
type Metrics struct {
	WAL struct {
		// Size is the byte length of the record stream.
		Size int64
		// Records is the number of records in the log.
		Records int64
	}

	MemTable struct {
		// Size is the active memtable's byte-size estimate.
		Size int64
		// FrozenQueue is the number of frozen memtables awaiting flush.
		FrozenQueue int64
	}

	Flush struct {
		// Count is the number of frozen memtables flushed to L0.
		Count int64
		// Retries is the number of failed flush attempts.
		Retries int64
	}

	Manifest struct {
		NextFileNum uint64
		LastSeqNum  uint64
	}

	// Levels lists the state of each level, ascending. L0 is always present.
	Levels []LevelMetrics
}

// SafeFormat implements redact.SafeFormatter.
func (m *Metrics) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("      |   size |  count\n")
	w.Printf("wal   | %6d | %6d\n", redact.Safe(m.WAL.Size), redact.Safe(m.WAL.Records))
	w.Printf("mem   | %6d | frozen %d\n",
		redact.Safe(m.MemTable.Size), redact.Safe(m.MemTable.FrozenQueue))
	w.Printf("flush | count %d | retries %d\n",
		redact.Safe(m.Flush.Count), redact.Safe(m.Flush.Retries))
	w.Printf("seq   | committed %d | next file %06d\n",
		redact.Safe(m.Manifest.LastSeqNum), redact.Safe(m.Manifest.NextFileNum))
	for _, l := range m.Levels {
		w.Printf("L%d    | %6d | %6d\n",
			redact.Safe(l.Level), redact.Safe(l.Size), redact.Safe(l.NumFiles))
	}
}

func (m *Metrics) String() string {
	return redact.StringWithoutMarkers(m)
}

var _ redact.SafeFormatter = (*Metrics)(nil)

// Metrics returns a snapshot of the database's counters. It takes the writer
// mutex briefly to read the WAL counters consistently.
func (d *DB) Metrics() *Metrics {
	m := &Metrics{}

	d.mu.Lock()
	m.WAL.Size = d.wal.Size()
	m.WAL.Records = int64(d.wal.Len())
	d.mu.Unlock()

	mem := d.mem.Load()
	m.MemTable.Size = atomic.LoadInt64(&mem.size)
	m.MemTable.FrozenQueue = int64(d.queue.depth())

	m.Flush.Count = atomic.LoadInt64(&d.flushCount)
	m.Flush.Retries = atomic.LoadInt64(&d.flushRetries)

	man := d.tm.manifestSnapshot()
	m.Manifest.NextFileNum = uint64(man.NextFileNum)
	m.Manifest.LastSeqNum = uint64(man.LastSeqNum)
	for _, lm := range man.SortedLevels() {
		l := LevelMetrics{Level: uint32(lm.Level), NumFiles: int64(len(lm.Files))}
		for _, f := range lm.Files {
			l.Size += f.Size
		}
		m.Levels = append(m.Levels, l)
	}
	return m
}

var (
	walSizeDesc = prometheus.NewDesc(
		"silo_wal_size_bytes", "Byte length of the write-ahead log record stream.", nil, nil)
	walRecordsDesc = prometheus.NewDesc(
		"silo_wal_records", "Number of records in the write-ahead log.", nil, nil)
	memTableSizeDesc = prometheus.NewDesc(
		"silo_memtable_size_bytes", "Byte-size estimate of the active memtable.", nil, nil)
	frozenQueueDesc = prometheus.NewDesc(
		"silo_frozen_memtables", "Number of frozen memtables awaiting flush.", nil, nil)
	flushCountDesc = prometheus.NewDesc(
		"silo_flush_total", "Number of frozen memtables flushed to L0.", nil, nil)
	flushRetriesDesc = prometheus.NewDesc(
		"silo_flush_retries_total", "Number of failed flush attempts.", nil, nil)
	committedSeqDesc = prometheus.NewDesc(
		"silo_committed_seqno", "Last committed sequence number.", nil, nil)
	levelFilesDesc = prometheus.NewDesc(
		"silo_level_files", "Number of live sstables in a level.", []string{"level"}, nil)
	levelSizeDesc = prometheus.NewDesc(
		"silo_level_size_bytes", "Total size of the live sstables in a level.", []string{"level"}, nil)
)

type metricsCollector struct {
	d *DB
}

// Collector returns a prometheus.Collector exposing the database's counters.
// The caller registers it with the application's registry.
func (d *DB) Collector() prometheus.Collector {
	return metricsCollector{d: d}
}

func (metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- walSizeDesc
	ch <- walRecordsDesc
	ch <- memTableSizeDesc
	ch <- frozenQueueDesc
	ch <- flushCountDesc
	ch <- flushRetriesDesc
	ch <- committedSeqDesc
	ch <- levelFilesDesc
	ch <- levelSizeDesc
}

func (c metricsCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.d.Metrics()
	gauge := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
	}
	gauge(walSizeDesc, float64(m.WAL.Size))
	gauge(walRecordsDesc, float64(m.WAL.Records))
	gauge(memTableSizeDesc, float64(m.MemTable.Size))
	gauge(frozenQueueDesc, float64(m.MemTable.FrozenQueue))
	gauge(flushCountDesc, float64(m.Flush.Count))
	gauge(flushRetriesDesc, float64(m.Flush.Retries))
	gauge(committedSeqDesc, float64(m.Manifest.LastSeqNum))
	for _, l := range m.Levels {
		label := fmt.Sprintf("L%d", l.Level)
		gauge(levelFilesDesc, float64(l.NumFiles), label)
		gauge(levelSizeDesc, float64(l.Size), label)
	}
}
