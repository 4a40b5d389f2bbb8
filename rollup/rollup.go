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

// Package rollup implements the archive pipeline of a node: it periodically
// seals contiguous ranges of the mutation log into immutable, content
// addressed segments on an external store, drives every range through the
// Pending/Doing/Done lifecycle and collects the local log entries of ranges
// archived long enough ago.
package rollup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/DocChain/metric"
	"github.com/CovenantSQL/DocChain/mstore"
	"github.com/CovenantSQL/DocChain/proto"
	"github.com/CovenantSQL/DocChain/types"
	"github.com/CovenantSQL/DocChain/utils/log"
)

const (
	// DefaultInterval is the rollup round interval used when the config
	// leaves it zero.
	DefaultInterval = 30 * time.Second
	// DefaultMinRollupSize is the raw size threshold used when the config
	// leaves it zero.
	DefaultMinRollupSize = 1 << 20
	// DefaultMaxIntervalBlocks is the accumulation span cap used when the
	// config leaves it zero.
	DefaultMaxIntervalBlocks = 64
	// DefaultRetryAlertThreshold is the consecutive failure alert level used
	// when the config leaves it zero.
	DefaultRetryAlertThreshold = 3
	// DefaultGCRoundOffset is the archive age, in Done ranges, used when the
	// config leaves it zero.
	DefaultGCRoundOffset = 4
	// DefaultWriteRetryWindow bounds the in-round write retries when the
	// config leaves it zero.
	DefaultWriteRetryWindow = 10 * time.Second
)

// Config defines the rollup engine config.
type Config struct {
	// Network stamps every encoded segment.
	Network proto.NetworkID
	// Interval is the wall clock distance between rollup rounds.
	Interval time.Duration
	// MinRollupSize is the raw byte threshold below which a young range is
	// left to accumulate instead of being sealed.
	MinRollupSize uint64
	// MaxIntervalBlocks caps how many blocks a small range may accumulate
	// before it is sealed regardless of size.
	MaxIntervalBlocks uint64
	// RetryAlertThreshold is the consecutive round failure count past which
	// failures are logged at error level.
	RetryAlertThreshold uint32
	// GCRoundOffset is how many Done ranges behind the newest a range must
	// fall before its local log entries are collected.
	GCRoundOffset int
	// WriteRetryWindow bounds the backoff retries of one external write.
	WriteRetryWindow time.Duration
	// Head reports the block currently open for writes. Blocks before it are
	// sealed and eligible for rollup.
	Head func() uint64
}

// Engine drives the rollup rounds. One range is active at a time: a round
// either resumes the interrupted non-Done range found in the status table or
// freezes the next one directly after the newest Done range, so archived
// ranges stay pairwise disjoint and contiguous.
type Engine struct {
	network  proto.NetworkID
	interval time.Duration
	minSize  uint64
	maxSpan  uint64
	alertAt  uint32
	gcOffset int
	retryWin time.Duration
	head     func() uint64

	ms    *mstore.Store
	store SegmentStore

	// consecutive failed rounds, reset on the first success
	failures uint32

	started uint32
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// PendingStats reports the log range accumulated past the newest archived
// block. EndBlock is below StartBlock while no sealed block awaits rollup.
type PendingStats struct {
	StartBlock    uint64
	EndBlock      uint64
	MutationCount uint64
	RawSize       uint64
	Failures      uint32
}

// New creates the rollup engine on the given log store and segment store.
func New(cfg *Config, ms *mstore.Store, store SegmentStore) (e *Engine, err error) {
	if cfg == nil || cfg.Head == nil {
		err = errors.Wrap(ErrInvalidConfig, "nil config or head source")
		return
	}
	if ms == nil || store == nil {
		err = errors.Wrap(ErrInvalidConfig, "nil store")
		return
	}

	e = &Engine{
		network:  cfg.Network,
		interval: cfg.Interval,
		minSize:  cfg.MinRollupSize,
		maxSpan:  cfg.MaxIntervalBlocks,
		alertAt:  cfg.RetryAlertThreshold,
		gcOffset: cfg.GCRoundOffset,
		retryWin: cfg.WriteRetryWindow,
		head:     cfg.Head,
		ms:       ms,
		store:    store,
		stopCh:   make(chan struct{}),
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.minSize == 0 {
		e.minSize = DefaultMinRollupSize
	}
	if e.maxSpan == 0 {
		e.maxSpan = DefaultMaxIntervalBlocks
	}
	if e.alertAt == 0 {
		e.alertAt = DefaultRetryAlertThreshold
	}
	if e.gcOffset <= 0 {
		e.gcOffset = DefaultGCRoundOffset
	}
	if e.retryWin <= 0 {
		e.retryWin = DefaultWriteRetryWindow
	}
	return
}

// Start starts the rollup cycle. The first round runs immediately so a range
// interrupted by a restart is resumed without waiting a full interval.
func (e *Engine) Start() (err error) {
	if !atomic.CompareAndSwapUint32(&e.started, 0, 1) {
		return
	}

	e.goFunc(e.rollupCycle)

	return
}

// Stop waits for the rollup cycle to stop. A round in flight completes
// first, an external write is never abandoned midway.
func (e *Engine) Stop() (err error) {
	if !atomic.CompareAndSwapUint32(&e.started, 1, 2) {
		return
	}

	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	e.wg.Wait()

	return
}

// PendingStats scans the sealed log range not yet frozen into any rollup
// record and reports its accumulated size along with the consecutive round
// failure count.
func (e *Engine) PendingStats() (st *PendingStats, err error) {
	records, err := e.ms.RollupRecords()
	if err != nil {
		err = errors.Wrap(err, "load rollup records failed")
		return
	}
	var lastEnd uint64
	for _, r := range records {
		if r.EndBlock > lastEnd {
			lastEnd = r.EndBlock
		}
	}

	st = &PendingStats{
		StartBlock: lastEnd + 1,
		EndBlock:   e.head() - 1,
		Failures:   atomic.LoadUint32(&e.failures),
	}
	if st.EndBlock < st.StartBlock {
		return
	}
	if err = e.ms.RangeBlocks(st.StartBlock, st.EndBlock, func(h *types.MutationHeader, _ *types.MutationBody) error {
		st.MutationCount++
		st.RawSize += h.Size
		return nil
	}); err != nil {
		st = nil
		err = errors.Wrap(err, "scan pending range failed")
	}
	return
}

func (e *Engine) rollupCycle() {
	e.runRound()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.runRound()
		}
	}
}

// runRound selects or resumes at most one range and drives it to Done. Round
// failures are counted, escalated past the alert threshold and retried on
// later ticks, never abandoned.
func (e *Engine) runRound() {
	rec, err := e.selectRecord()
	if err != nil {
		e.reportFailure(err)
		return
	}
	if rec == nil {
		return
	}
	if err = e.process(rec); err != nil {
		e.reportFailure(err)
		return
	}
	atomic.StoreUint32(&e.failures, 0)
	e.collectArchived()
}

// selectRecord returns the range the round works on: the interrupted non-Done
// record if one exists, else a fresh Pending record frozen over the sealed
// blocks after the newest Done range. nil means nothing to do this round.
func (e *Engine) selectRecord() (rec *types.RollupRecord, err error) {
	records, err := e.ms.RollupRecords()
	if err != nil {
		err = errors.Wrap(err, "load rollup records failed")
		return
	}

	var lastDone uint64
	for _, r := range records {
		if r.Status != types.RollupDone {
			rec = r
			return
		}
		if r.EndBlock > lastDone {
			lastDone = r.EndBlock
		}
	}

	head := e.head()
	if head <= lastDone+1 {
		return
	}
	start, end := lastDone+1, head-1

	var count, rawSize uint64
	if err = e.ms.RangeBlocks(start, end, func(h *types.MutationHeader, _ *types.MutationBody) error {
		count++
		rawSize += h.Size
		return nil
	}); err != nil {
		err = errors.Wrap(err, "scan candidate range failed")
		return
	}
	if count == 0 {
		return
	}
	if rawSize < e.minSize && end-start+1 < e.maxSpan {
		// too small and too young, leave it to accumulate
		return
	}

	rec = &types.RollupRecord{
		StartBlock:    start,
		EndBlock:      end,
		Status:        types.RollupPending,
		MutationCount: count,
		RawSize:       rawSize,
		Time:          time.Now().UTC(),
	}
	if err = e.ms.PutRollupRecord(rec); err != nil {
		rec = nil
		err = errors.Wrap(err, "freeze rollup range failed")
		return
	}
	log.WithFields(log.Fields{
		"range":     rec.Range(),
		"mutations": count,
		"rawSize":   rawSize,
	}).Debug("froze rollup range")
	return
}

// process drives one record to Done: encode the range, mark Doing, write
// externally with backoff, persist the locator. A failed write puts the
// record back to Pending so the next round retries the same frozen range.
func (e *Engine) process(rec *types.RollupRecord) (err error) {
	var (
		hs     []*types.MutationHeader
		bodies []*types.MutationBody
	)
	if err = e.ms.RangeBlocks(rec.StartBlock, rec.EndBlock, func(h *types.MutationHeader, b *types.MutationBody) error {
		hs = append(hs, h)
		bodies = append(bodies, b)
		return nil
	}); err != nil {
		err = errors.Wrapf(err, "load rollup range %s failed", rec.Range())
		return
	}

	var segment []byte
	if segment, err = EncodeSegment(e.network, rec.StartBlock, rec.EndBlock, hs, bodies); err != nil {
		err = errors.Wrapf(err, "encode segment %s failed", rec.Range())
		return
	}

	rec.Status = types.RollupDoing
	rec.Time = time.Now().UTC()
	if err = e.ms.PutRollupRecord(rec); err != nil {
		err = errors.Wrapf(err, "mark rollup %s doing failed", rec.Range())
		return
	}

	var locator string
	if locator, err = e.writeSegment(segment); err != nil {
		rec.Status = types.RollupPending
		rec.Retries++
		rec.Time = time.Now().UTC()
		metric.DefaultPipeline.AddRollupRetry()
		if perr := e.ms.PutRollupRecord(rec); perr != nil {
			// the record stays Doing on disk, the boot resume path picks
			// it up the same way
			log.WithField("range", rec.Range()).WithError(perr).Error(
				"revert rollup record failed")
		}
		err = errors.Wrapf(err, "write segment %s failed", rec.Range())
		return
	}

	rec.Status = types.RollupDone
	rec.SegmentID = locator
	rec.CompressedSize = uint64(len(segment))
	rec.Time = time.Now().UTC()
	if err = e.ms.PutRollupRecord(rec); err != nil {
		err = errors.Wrapf(err, "mark rollup %s done failed", rec.Range())
		return
	}
	metric.DefaultPipeline.AddRolledSegment()
	log.WithFields(log.Fields{
		"range":          rec.Range(),
		"segment":        locator,
		"mutations":      rec.MutationCount,
		"rawSize":        rec.RawSize,
		"compressedSize": rec.CompressedSize,
	}).Info("archived rollup segment")
	return
}

// writeSegment pushes one segment to the external store, retrying transient
// failures within the round's retry window. The write itself is never
// cancelled midway.
func (e *Engine) writeSegment(segment []byte) (locator string, err error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = e.retryWin
	err = backoff.Retry(func() (err error) {
		locator, err = e.store.Write(context.Background(), segment)
		return
	}, bo)
	return
}

// collectArchived removes the local log entries of the oldest Done range once
// enough newer ranges are Done, one range per round. Collection failures only
// delay the cleanup, the archive already holds the data.
func (e *Engine) collectArchived() {
	records, err := e.ms.RollupRecords()
	if err != nil {
		log.WithError(err).Warning("load rollup records for gc failed")
		return
	}
	gcs, err := e.ms.GCRecords()
	if err != nil {
		log.WithError(err).Warning("load gc records failed")
		return
	}
	collected := make(map[uint64]bool, len(gcs))
	for _, g := range gcs {
		collected[g.StartBlock] = true
	}

	var done []*types.RollupRecord
	for _, r := range records {
		if r.Status == types.RollupDone {
			done = append(done, r)
		}
	}
	for i, r := range done {
		if len(done)-i <= e.gcOffset {
			return
		}
		if collected[r.StartBlock] {
			continue
		}
		var gc *types.GCRecord
		if gc, err = e.ms.GCRange(r.StartBlock, r.EndBlock); err != nil {
			log.WithField("range", r.Range()).WithError(err).Warning(
				"collect archived range failed")
			return
		}
		log.WithFields(log.Fields{
			"range":    r.Range(),
			"dataSize": gc.DataSize,
		}).Info("collected archived log range")
		return
	}
}

func (e *Engine) reportFailure(err error) {
	n := atomic.AddUint32(&e.failures, 1)
	entry := log.WithField("failures", n).WithError(err)
	if n >= e.alertAt {
		entry.Error("rollup round failed repeatedly")
	} else {
		entry.Warning("rollup round failed")
	}
}

func (e *Engine) goFunc(f func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		f()
	}()
}
