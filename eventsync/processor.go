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

// Package eventsync implements the contract event pipeline of a node: one
// processor per event database polls an external evm chain, translates the
// mirrored contract events into document mutations and feeds them through
// the ordering service under the database's reserved syncer identity.
package eventsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/DocChain/chain"
	"github.com/CovenantSQL/DocChain/docstore"
	"github.com/CovenantSQL/DocChain/metric"
	"github.com/CovenantSQL/DocChain/proto"
	"github.com/CovenantSQL/DocChain/types"
	"github.com/CovenantSQL/DocChain/utils/log"
)

const (
	// DefaultBatchSize is the block span cap per fetch used when the config
	// leaves it zero.
	DefaultBatchSize = 256
	// DefaultInterval is the head poll interval used when the config leaves
	// it zero.
	DefaultInterval = 10 * time.Second
	// DefaultFetchRetryWindow bounds the in-batch fetch retries when the
	// config leaves it zero.
	DefaultFetchRetryWindow = 10 * time.Second
)

// Config defines the contract event processor config.
type Config struct {
	// Network is the deployment magic stamped on synthesized mutations.
	Network proto.NetworkID
	// BatchSize bounds the block span fetched per batch.
	BatchSize uint64
	// Interval is the poll distance between rounds at the chain head.
	Interval time.Duration
	// FetchRetryWindow bounds the in-batch retries of a failed chain fetch.
	FetchRetryWindow time.Duration
}

// Processor mirrors the events of one contract into its event database. The
// watermark only moves after a whole batch applied, so a batch interrupted
// by a crash is re-driven on the next round and deduplicated by the stable
// per-log document ids.
type Processor struct {
	contract  string
	nodeURL   string
	dbAddress proto.DatabaseAddress
	sender    proto.AccountAddress
	network   proto.NetworkID

	decoder *eventDecoder
	fetcher LogFetcher
	chain   *chain.Chain
	ds      *docstore.Store

	batchSize uint64
	interval  time.Duration
	retryWin  time.Duration

	// live mirror of the persisted watermark, read by Status
	blockNumber uint64
	eventNumber uint64

	started uint32
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewProcessor creates the event processor of one event database and points
// it at the persisted watermark, or at the database's start block on first
// run.
func NewProcessor(cfg *Config, db *docstore.EventDatabase, fetcher LogFetcher, c *chain.Chain, ds *docstore.Store) (p *Processor, err error) {
	if cfg == nil || db == nil {
		err = errors.Wrap(ErrInvalidConfig, "nil config or database")
		return
	}
	if fetcher == nil || c == nil || ds == nil {
		err = errors.Wrap(ErrInvalidConfig, "nil chain source, chain or store")
		return
	}

	var decoder *eventDecoder
	if decoder, err = newEventDecoder(db.EventsJSONABI, db.Collections); err != nil {
		return
	}

	p = &Processor{
		contract:  db.ContractAddress,
		nodeURL:   db.EvmNodeURL,
		dbAddress: db.Address,
		sender:    proto.DatabaseSyncerAddress(db.Address),
		network:   cfg.Network,
		decoder:   decoder,
		fetcher:   fetcher,
		chain:     c,
		ds:        ds,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		retryWin:  cfg.FetchRetryWindow,
		stopCh:    make(chan struct{}),
	}
	if p.batchSize == 0 {
		p.batchSize = DefaultBatchSize
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.retryWin <= 0 {
		p.retryWin = DefaultFetchRetryWindow
	}

	var st *types.ContractSyncStatus
	if st, err = ds.GetContractSyncStatus(db.ContractAddress); err != nil {
		p = nil
		err = errors.Wrap(err, "load sync watermark failed")
		return
	}
	if st != nil {
		p.blockNumber = st.BlockNumber
		p.eventNumber = st.EventNumber
	} else if db.StartBlock > 0 {
		// first run, the opening batch starts at the database's start block
		p.blockNumber = db.StartBlock - 1
	}
	return
}

// Contract returns the mirrored contract address.
func (p *Processor) Contract() string {
	return p.contract
}

// Status reports the processor's watermark without touching the store.
func (p *Processor) Status() *types.ContractSyncStatus {
	return &types.ContractSyncStatus{
		ContractAddress: p.contract,
		EvmNodeURL:      p.nodeURL,
		BlockNumber:     atomic.LoadUint64(&p.blockNumber),
		EventNumber:     atomic.LoadUint64(&p.eventNumber),
	}
}

// Start starts the sync cycle.
func (p *Processor) Start() (err error) {
	if !atomic.CompareAndSwapUint32(&p.started, 0, 1) {
		return
	}

	p.goFunc(p.syncCycle)

	return
}

// Stop waits for the sync cycle to stop and releases the chain source. A
// batch in flight completes first, cancellation only happens between
// batches.
func (p *Processor) Stop() (err error) {
	if !atomic.CompareAndSwapUint32(&p.started, 1, 2) {
		return
	}

	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	p.wg.Wait()
	p.fetcher.Close()

	return
}

func (p *Processor) syncCycle() {
	p.runBatches()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runBatches()
		}
	}
}

// runBatches drains bounded batches until the chain head is reached, a batch
// fails, or the processor is stopped. A failed batch left the watermark
// unmoved, so the next round re-drives it.
func (p *Processor) runBatches() {
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		more, err := p.runBatch()
		if err != nil {
			log.WithFields(log.Fields{
				"contract": p.contract,
				"block":    atomic.LoadUint64(&p.blockNumber),
			}).WithError(err).Warning("sync contract events failed")
			return
		}
		if !more {
			return
		}
	}
}

// runBatch fetches and applies one bounded batch. more reports whether the
// head is still ahead of the watermark afterwards.
func (p *Processor) runBatch() (more bool, err error) {
	var head uint64
	if err = p.withRetry(func() (ferr error) {
		head, ferr = p.fetcher.HeadBlock(context.Background())
		return
	}); err != nil {
		return
	}

	wm := atomic.LoadUint64(&p.blockNumber)
	if head <= wm {
		return
	}
	from, to := wm+1, head
	if to > wm+p.batchSize {
		to = wm + p.batchSize
	}

	var logs []ethtypes.Log
	if err = p.withRetry(func() (ferr error) {
		logs, ferr = p.fetcher.FetchLogs(context.Background(), p.contract, from, to)
		return
	}); err != nil {
		return
	}

	var count uint64
	for i := range logs {
		var processed bool
		if processed, err = p.applyLog(&logs[i]); err != nil {
			return
		}
		if processed {
			count++
		}
	}

	// the whole batch applied, move the watermark
	st := &types.ContractSyncStatus{
		ContractAddress: p.contract,
		EvmNodeURL:      p.nodeURL,
		BlockNumber:     to,
		EventNumber:     atomic.LoadUint64(&p.eventNumber) + count,
	}
	if err = p.ds.PutContractSyncStatus(st); err != nil {
		err = errors.Wrap(err, "persist sync watermark failed")
		return
	}
	atomic.StoreUint64(&p.blockNumber, st.BlockNumber)
	atomic.StoreUint64(&p.eventNumber, st.EventNumber)

	if count > 0 {
		metric.DefaultPipeline.AddSyncedEvents(int(count))
	}
	log.WithFields(log.Fields{
		"contract": p.contract,
		"from":     from,
		"to":       to,
		"events":   count,
	}).Debug("synced contract event batch")

	more = to < head
	return
}

// applyLog translates one log and drives it through the ordering service.
// Logs of events the database does not mirror are skipped. A document id
// already stored marks a re-driven batch, the event counts as processed.
func (p *Processor) applyLog(l *ethtypes.Log) (processed bool, err error) {
	collection, doc, ok, err := p.decoder.decode(l)
	if err != nil || !ok {
		return
	}

	var last uint64
	if last, err = p.chain.Nonce(p.sender); err != nil {
		err = errors.Wrap(err, "read syncer nonce failed")
		return
	}
	m := &types.Mutation{
		Action:    types.ActionAddDocument,
		DBAddress: p.dbAddress,
		Nonce:     last + 1,
		Network:   p.network,
		Bodies: []types.BodyWrapper{{
			Document: &types.DocumentMutation{
				CollectionName: collection,
				Documents:      []types.Document{doc},
			},
		}},
	}
	if _, err = p.chain.SubmitSynthetic(context.Background(), m, p.sender); err != nil {
		if errors.Cause(err) == docstore.ErrDocumentExists {
			processed = true
			err = nil
			return
		}
		err = errors.Wrapf(err, "submit event document %d failed", doc.ID)
		return
	}
	processed = true
	return
}

func (p *Processor) withRetry(op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = p.retryWin
	return backoff.Retry(op, bo)
}

func (p *Processor) goFunc(f func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		f()
	}()
}
