// Copyright 2024 The Silo Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package silo

import (
	"sync/atomic"
	"time"
)

// flushRetryDelay is how long the flush worker waits before retrying after a
// failed flush. The frozen memtable stays pending and the WAL still holds its
// records, so a retry is always safe.
const flushRetryDelay = time.Second

// flushLoop is the background flush worker. It drains the frozen queue oldest
// first: write the table's sstables, mark the table flushed once the manifest
// references them, raise the committed seqno, drop the flushed prefix, and
// finally try to truncate the WAL.
func (d *DB) flushLoop() {
	defer d.flushWG.Done()
	for {
		select {
		case <-d.stopC:
			return
		case <-d.flushC:
		}

		for {
			frozen := d.queue.peekFront()
			if frozen == nil {
				break
			}
			if err := d.tm.flushFrozen(frozen); err != nil {
				atomic.AddInt64(&d.flushRetries, 1)
				d.opts.Logger.Errorf("flush failed (will retry): %v", err)
				if !d.sleepOrStop(flushRetryDelay) {
					return
				}
				continue
			}
			// The sstables are durably cataloged: the table leaves the read
			// view and the committed horizon advances to cover it.
			d.queue.markFlushed()
			for {
				err := d.tm.setLastSeqNum(frozen.maxSeqNum)
				if err == nil {
					break
				}
				d.opts.Logger.Errorf("advancing committed seqno failed (will retry): %v", err)
				if !d.sleepOrStop(flushRetryDelay) {
					return
				}
			}
			d.queue.compact()
			atomic.AddInt64(&d.flushCount, 1)
			d.maybeTruncateWAL()
		}
	}
}

func (d *DB) sleepOrStop(dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-d.stopC:
		return false
	case <-t.C:
		return true
	}
}

// maybeTruncateWAL truncates the log once every record it holds is covered by
// the durable committed seqno: the active memtable is empty and no frozen
// table remains unflushed. Taking the writer mutex excludes a concurrent
// append between the check and the truncate.
func (d *DB) maybeTruncateWAL() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return
	}
	if !d.mem.Load().empty() || !d.queue.fullyFlushed() {
		return
	}
	if err := d.wal.Clear(); err != nil {
		d.opts.Logger.Errorf("wal truncation failed: %v", err)
	}
}

// signalFlush wakes the flush worker without blocking the writer.
func (d *DB) signalFlush() {
	select {
	case d.flushC <- struct{}{}:
	default:
	}
}
