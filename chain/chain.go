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

// Package chain implements the mutation ordering service: the single global
// writer that assigns (block, order) positions to validated mutations,
// appends them to the durable log and applies their effects to the document
// store.
package chain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/DocChain/crypto/hash"
	"github.com/CovenantSQL/DocChain/docstore"
	"github.com/CovenantSQL/DocChain/metric"
	"github.com/CovenantSQL/DocChain/mstore"
	"github.com/CovenantSQL/DocChain/proto"
	"github.com/CovenantSQL/DocChain/types"
	"github.com/CovenantSQL/DocChain/utils"
	"github.com/CovenantSQL/DocChain/utils/log"
)

const (
	// DefaultBlockInterval is the block seal interval used when the config
	// leaves it zero.
	DefaultBlockInterval = 10 * time.Second
	// DefaultMaxBlockMutations is the early seal threshold used when the
	// config leaves it zero.
	DefaultMaxBlockMutations = 4096
	// DefaultQueueDepth is the submission queue window used when the config
	// leaves it zero.
	DefaultQueueDepth = 256
)

// Config defines the ordering service config.
type Config struct {
	// Network is the deployment magic every accepted mutation must carry.
	Network proto.NetworkID
	// BlockInterval is the wall clock distance between block seals.
	BlockInterval time.Duration
	// MaxBlockMutations seals the open block early once it holds this many
	// mutations.
	MaxBlockMutations uint32
	// QueueDepth bounds the submission queue.
	QueueDepth int
}

// Chain drives every mutation, client submitted or syncer synthesized,
// through one critical section: nonce admission, document staging, durable
// append, staged commit. Positions handed out by the cycle are the sole
// replay order.
type Chain struct {
	network      proto.NetworkID
	interval     time.Duration
	maxMutations uint32

	ms *mstore.Store
	ds *docstore.Store

	// block cursor, written only inside processCycle; nextBlock is read by
	// other goroutines through CurrentBlock
	nextBlock  uint64
	nextOrder  uint32
	blockCount uint32

	// halted flags a log entry the store could not apply; only a restart
	// replay clears it
	halted uint32

	submitCh chan *submitReq

	started uint32
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// submitReq defines the ordering operation input.
type submitReq struct {
	ctx       context.Context
	mutation  *types.Mutation
	sender    proto.AccountAddress
	payload   []byte
	signature []byte
	result    *submitFuture
}

// submitResult defines the ordering operation result.
type submitResult struct {
	header *types.MutationHeader
	err    error
}

type submitFuture struct {
	ch chan *submitResult
}

func newSubmitFuture() *submitFuture {
	return &submitFuture{
		ch: make(chan *submitResult, 1),
	}
}

func (f *submitFuture) Get(ctx context.Context) (sr *submitResult, err error) {
	if f == nil || f.ch == nil {
		err = errors.Wrap(ctx.Err(), "enqueue mutation timeout")
		return
	}

	select {
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "get submit result timeout")
		return
	case sr = <-f.ch:
		return
	}
}

func (f *submitFuture) Set(sr *submitResult) {
	select {
	case f.ch <- sr:
	default:
	}
}

// New creates the ordering service on the given stores, replays the
// appended-but-unapplied log tail and positions the block cursor after the
// last appended mutation.
func New(cfg *Config, ms *mstore.Store, ds *docstore.Store) (c *Chain, err error) {
	if cfg == nil {
		err = errors.Wrap(ErrInvalidConfig, "nil config")
		return
	}
	if ms == nil || ds == nil {
		err = errors.Wrap(ErrInvalidConfig, "nil store")
		return
	}

	c = &Chain{
		network:      cfg.Network,
		interval:     cfg.BlockInterval,
		maxMutations: cfg.MaxBlockMutations,
		ms:           ms,
		ds:           ds,
		stopCh:       make(chan struct{}),
	}
	if c.interval <= 0 {
		c.interval = DefaultBlockInterval
	}
	if c.maxMutations == 0 {
		c.maxMutations = DefaultMaxBlockMutations
	}
	queueDepth := cfg.QueueDepth
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	c.submitCh = make(chan *submitReq, queueDepth)

	if err = c.recover(); err != nil {
		c = nil
		return
	}
	return
}

func (c *Chain) recover() (err error) {
	var ap proto.Position
	if ap, err = c.ds.AppliedPosition(); err != nil {
		err = errors.Wrap(err, "read applied position failed")
		return
	}

	var replayed int
	if err = c.ms.Replay(ap, func(h *types.MutationHeader, b *types.MutationBody) (err error) {
		var m *types.Mutation
		if m, err = types.DecodeMutation(b.Payload); err != nil {
			return errors.Wrapf(err, "decode logged mutation %s failed", h.Position())
		}
		var st *docstore.Staged
		if st, err = c.ds.Prepare(m, h.Sender); err != nil {
			return errors.Wrapf(err, "replay mutation %s failed", h.Position())
		}
		if err = c.ds.Commit(st, h.Position()); err != nil {
			return errors.Wrapf(err, "commit replayed mutation %s failed", h.Position())
		}
		replayed++
		return
	}); err != nil {
		return
	}
	if replayed > 0 {
		metric.DefaultPipeline.AddReplayed(replayed)
		log.WithField("count", replayed).Info("replayed unapplied mutation log tail")
	}

	nextBlock := uint64(1)
	var (
		lastPos proto.Position
		ok      bool
	)
	if lastPos, ok, err = c.ms.LastPosition(); err != nil {
		err = errors.Wrap(err, "read last log position failed")
		return
	}
	if ok {
		nextBlock = lastPos.Block + 1
	}
	var bs *mstore.BlockState
	if bs, err = c.ms.GetBlockState(); err != nil {
		err = errors.Wrap(err, "read block cursor failed")
		return
	}
	if bs != nil && bs.NextBlock > nextBlock {
		nextBlock = bs.NextBlock
	}
	atomic.StoreUint64(&c.nextBlock, nextBlock)
	return
}

// Start starts the ordering cycle.
func (c *Chain) Start() (err error) {
	if !atomic.CompareAndSwapUint32(&c.started, 0, 1) {
		return
	}

	c.goFunc(c.processCycle)

	return
}

// Stop waits for the ordering cycle to stop. Submissions still queued are
// answered with ErrStopped.
func (c *Chain) Stop() (err error) {
	if !atomic.CompareAndSwapUint32(&c.started, 1, 2) {
		return
	}

	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.wg.Wait()

	return
}

// CurrentBlock returns the id of the open block. Mutations in it are not yet
// eligible for rollup.
func (c *Chain) CurrentBlock() uint64 {
	return atomic.LoadUint64(&c.nextBlock)
}

// Nonce returns the sender's last accepted nonce.
func (c *Chain) Nonce(sender proto.AccountAddress) (nonce uint64, err error) {
	return c.ms.Nonce(sender)
}

// Submit verifies a client mutation body and drives it through the ordering
// pipeline, returning the assigned header.
func (c *Chain) Submit(ctx context.Context, body *types.MutationBody) (header *types.MutationHeader, err error) {
	if atomic.LoadUint32(&c.started) != 1 {
		err = ErrStopped
		return
	}

	metric.DefaultPipeline.AddSubmitted()

	var (
		m      *types.Mutation
		sender proto.AccountAddress
	)
	if m, sender, err = types.VerifyMutationBody(body); err != nil {
		metric.DefaultPipeline.AddRejected()
		return
	}

	return c.submit(ctx, m, sender, body.Payload, body.Signature)
}

// SubmitSynthetic drives an internally synthesized mutation through the
// pipeline under the given identity. It skips signature recovery but passes
// the same structural, network, nonce and ordering rules as a client
// submission.
func (c *Chain) SubmitSynthetic(ctx context.Context, m *types.Mutation, sender proto.AccountAddress) (header *types.MutationHeader, err error) {
	if atomic.LoadUint32(&c.started) != 1 {
		err = ErrStopped
		return
	}

	metric.DefaultPipeline.AddSubmitted()

	if m == nil {
		metric.DefaultPipeline.AddRejected()
		err = errors.Wrap(types.ErrMutationMalformed, "nil mutation")
		return
	}
	if err = m.SanityCheck(); err != nil {
		metric.DefaultPipeline.AddRejected()
		return
	}

	// canonical payload, so the content id is stable across resubmissions
	enc, err := utils.EncodeMsgPack(m)
	if err != nil {
		metric.DefaultPipeline.AddRejected()
		err = errors.Wrap(err, "encode synthetic mutation failed")
		return
	}

	return c.submit(ctx, m, sender, enc.Bytes(), nil)
}

func (c *Chain) submit(ctx context.Context, m *types.Mutation, sender proto.AccountAddress, payload, signature []byte) (header *types.MutationHeader, err error) {
	if m.Network != c.network {
		metric.DefaultPipeline.AddRejected()
		err = errors.Wrapf(types.ErrWrongNetwork, "mutation network %d, node network %d", m.Network, c.network)
		return
	}
	if atomic.LoadUint32(&c.halted) == 1 {
		err = ErrHalted
		return
	}

	f := newSubmitFuture()
	req := &submitReq{
		ctx:       ctx,
		mutation:  m,
		sender:    sender,
		payload:   payload,
		signature: signature,
		result:    f,
	}

	select {
	case <-ctx.Done():
		f = nil
	case <-c.stopCh:
		err = ErrStopped
		return
	case c.submitCh <- req:
	}

	var sr *submitResult
	if sr, err = f.Get(ctx); err != nil {
		return
	}

	header = sr.header
	err = sr.err
	return
}

func (c *Chain) processCycle() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			c.drain()
			return
		case <-ticker.C:
			c.sealBlock()
		case req := <-c.submitCh:
			if req != nil {
				c.processSubmit(req)
			}
		}
	}
}

// drain answers submissions that were queued but never processed.
func (c *Chain) drain() {
	for {
		select {
		case req := <-c.submitCh:
			req.result.Set(&submitResult{err: ErrStopped})
		default:
			return
		}
	}
}

func (c *Chain) processSubmit(req *submitReq) {
	select {
	case <-req.ctx.Done():
		// caller is gone, do not consume an order or a nonce for it
		req.result.Set(&submitResult{err: errors.Wrap(req.ctx.Err(), "mutation expired in queue")})
		return
	default:
	}

	header, err := c.process(req)
	if err != nil {
		metric.DefaultPipeline.AddRejected()
	} else {
		metric.DefaultPipeline.AddApplied()
	}
	req.result.Set(&submitResult{header: header, err: err})
}

// process runs the ordering critical section for one mutation. A rejection
// at any step before the append leaves log, store and nonce cursor
// untouched.
func (c *Chain) process(req *submitReq) (header *types.MutationHeader, err error) {
	if atomic.LoadUint32(&c.halted) == 1 {
		err = ErrHalted
		return
	}

	m := req.mutation

	var last uint64
	if last, err = c.ms.Nonce(req.sender); err != nil {
		err = errors.Wrap(err, "read nonce cursor failed")
		return
	}
	if m.Nonce <= last {
		err = errors.Wrapf(ErrNonceTooLow, "nonce %d not above %d", m.Nonce, last)
		return
	}

	var st *docstore.Staged
	if st, err = c.ds.Prepare(m, req.sender); err != nil {
		return
	}

	pos := proto.Position{Block: atomic.LoadUint64(&c.nextBlock), Order: c.nextOrder}
	header = &types.MutationHeader{
		BlockID:   pos.Block,
		OrderID:   pos.Order,
		Sender:    req.sender,
		Timestamp: time.Now().UTC(),
		ID:        hash.THashH(req.payload),
		Size:      uint64(len(req.payload)),
		Nonce:     m.Nonce,
		Network:   m.Network,
		Action:    m.Action,
		DBAddress: st.DBAddress,
		DocIDs:    st.DocIDs,
	}

	if err = c.ms.Append(header, &types.MutationBody{Payload: req.payload, Signature: req.signature}); err != nil {
		header = nil
		err = errors.Wrap(err, "append mutation failed")
		return
	}

	if err = c.ds.Commit(st, pos); err != nil {
		// the mutation is durable but not applied; the restart replay will
		// finish it, continuing here would order mutations against a store
		// that no longer matches the log
		atomic.StoreUint32(&c.halted, 1)
		log.WithField("position", pos).WithError(err).Error(
			"commit appended mutation failed, halting chain")
		header = nil
		err = errors.Wrap(ErrHalted, "commit appended mutation failed")
		return
	}

	c.nextOrder++
	c.blockCount++
	if c.blockCount >= c.maxMutations {
		c.sealBlock()
	}
	return
}

// sealBlock closes the open block once it holds at least one mutation and
// opens the next one. The cursor is persisted first so a restart never
// reuses a sealed block id.
func (c *Chain) sealBlock() {
	if c.blockCount == 0 {
		return
	}

	sealed := atomic.LoadUint64(&c.nextBlock)
	bs := &mstore.BlockState{
		NextBlock: sealed + 1,
		SealedAt:  time.Now().UTC(),
	}
	if err := c.ms.PutBlockState(bs); err != nil {
		log.WithError(err).Warning("persist block cursor failed")
		return
	}

	log.WithFields(log.Fields{
		"block":     sealed,
		"mutations": c.blockCount,
	}).Debug("sealed mutation block")

	atomic.StoreUint64(&c.nextBlock, sealed+1)
	c.nextOrder = 0
	c.blockCount = 0
	metric.DefaultPipeline.AddSealedBlock()
}

func (c *Chain) goFunc(f func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		f()
	}()
}
