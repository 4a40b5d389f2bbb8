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

// Package node assembles the mutation ordering service, the rollup engine
// and the contract event processors into one runnable document chain node.
package node

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/DocChain/chain"
	"github.com/CovenantSQL/DocChain/docstore"
	"github.com/CovenantSQL/DocChain/eventsync"
	"github.com/CovenantSQL/DocChain/mstore"
	"github.com/CovenantSQL/DocChain/proto"
	"github.com/CovenantSQL/DocChain/rollup"
	"github.com/CovenantSQL/DocChain/types"
	"github.com/CovenantSQL/DocChain/utils/log"
)

// Config defines the node config. Component configs left nil take every
// default, their network id is stamped by the node.
type Config struct {
	// Network is the deployment magic of this node.
	Network proto.NetworkID
	// DataDir is the root of the node's local stores.
	DataDir string

	// Chain tunes the ordering service.
	Chain *chain.Config
	// Rollup tunes the rollup engine. Its head source is wired to the
	// ordering service by the node.
	Rollup *rollup.Config
	// Sync tunes the contract event processors.
	Sync *eventsync.Config

	// Segments overrides the archive store, nil keeps the file store under
	// DataDir.
	Segments rollup.SegmentStore
	// Dial overrides the evm node dialer of event processors, nil keeps the
	// ethereum json-rpc client.
	Dial func(url string) (eventsync.LogFetcher, error)
}

// Node owns the local stores and drives the three long running components
// over them. Mutations enter through Submit, queries and sync status leave
// through the read methods.
type Node struct {
	network proto.NetworkID
	syncCfg eventsync.Config

	ms       *mstore.Store
	ds       *docstore.Store
	segments rollup.SegmentStore
	dial     func(url string) (eventsync.LogFetcher, error)

	chain  *chain.Chain
	rollup *rollup.Engine

	mu         sync.Mutex
	processors map[string]*eventsync.Processor

	started uint32
}

// New opens the local stores under cfg.DataDir, rebuilds them from the
// archive if they are empty, and builds the ordering service and the rollup
// engine over them.
func New(cfg *Config) (n *Node, err error) {
	if cfg == nil || cfg.DataDir == "" {
		err = errors.Wrap(ErrInvalidConfig, "nil config or empty data dir")
		return
	}

	n = &Node{
		network:    cfg.Network,
		dial:       cfg.Dial,
		processors: make(map[string]*eventsync.Processor),
	}
	if cfg.Sync != nil {
		n.syncCfg = *cfg.Sync
	}
	n.syncCfg.Network = cfg.Network
	if n.dial == nil {
		n.dial = eventsync.DialFetcher
	}
	defer func() {
		if err != nil {
			n.closeStores()
			n = nil
		}
	}()

	if err = os.MkdirAll(cfg.DataDir, 0755); err != nil {
		err = errors.Wrapf(err, "create data dir %s failed", cfg.DataDir)
		return
	}
	if n.ms, err = mstore.New(filepath.Join(cfg.DataDir, "mutations")); err != nil {
		err = errors.Wrap(err, "open mutation log failed")
		return
	}
	if n.ds, err = docstore.New(filepath.Join(cfg.DataDir, "documents")); err != nil {
		err = errors.Wrap(err, "open document store failed")
		return
	}
	if n.segments = cfg.Segments; n.segments == nil {
		if n.segments, err = rollup.NewFileSegmentStore(filepath.Join(cfg.DataDir, "segments")); err != nil {
			err = errors.Wrap(err, "open segment store failed")
			return
		}
	}

	// The restore must land before the ordering service opens so that the
	// block cursor picks up from the replayed log.
	if err = n.restore(); err != nil {
		return
	}

	chainCfg := &chain.Config{}
	if cfg.Chain != nil {
		*chainCfg = *cfg.Chain
	}
	chainCfg.Network = cfg.Network
	if n.chain, err = chain.New(chainCfg, n.ms, n.ds); err != nil {
		return
	}

	rollupCfg := &rollup.Config{}
	if cfg.Rollup != nil {
		*rollupCfg = *cfg.Rollup
	}
	rollupCfg.Network = cfg.Network
	rollupCfg.Head = n.chain.CurrentBlock
	if n.rollup, err = rollup.New(rollupCfg, n.ms, n.segments); err != nil {
		return
	}
	return
}

// restore rebuilds empty local stores from the archive. A node that kept its
// local state skips it, a node that lost its disk comes back with every
// archived mutation replayed.
func (n *Node) restore() (err error) {
	r, err := rollup.NewRestorer(n.network, n.ms, n.ds, n.segments)
	if err != nil {
		return
	}
	if _, err = r.Restore(context.Background()); errors.Cause(err) == rollup.ErrStoreNotEmpty {
		err = nil
	}
	return
}

// Start starts the ordering service, the rollup engine and one event
// processor per persisted event database.
func (n *Node) Start() (err error) {
	if !atomic.CompareAndSwapUint32(&n.started, 0, 1) {
		return
	}
	if err = n.chain.Start(); err != nil {
		return
	}
	if err = n.rollup.Start(); err != nil {
		return
	}
	n.recoverProcessors()
	return
}

// recoverProcessors restarts the event pipeline of every persisted event
// database. A database whose evm node cannot be dialed is logged and left
// behind, the rest of the node keeps running.
func (n *Node) recoverProcessors() {
	dbs, err := n.ds.EventDatabases()
	if err != nil {
		log.WithError(err).Error("load event databases failed")
		return
	}
	for _, db := range dbs {
		if err = n.startProcessor(db); err != nil {
			log.WithFields(log.Fields{
				"database": db.Address,
				"contract": db.ContractAddress,
			}).WithError(err).Warning("start event processor failed")
		}
	}
}

// Stop winds the node down: the rollup engine first so no new round starts,
// then the event processors between batches, then the ordering service, then
// the stores.
func (n *Node) Stop() (err error) {
	if atomic.CompareAndSwapUint32(&n.started, 0, 2) {
		n.closeStores()
		return
	}
	if !atomic.CompareAndSwapUint32(&n.started, 1, 2) {
		return
	}
	n.rollup.Stop()
	n.mu.Lock()
	for _, p := range n.processors {
		p.Stop()
	}
	n.processors = make(map[string]*eventsync.Processor)
	n.mu.Unlock()
	n.chain.Stop()
	n.closeStores()
	return
}

func (n *Node) closeStores() {
	if n.ms != nil {
		n.ms.Close()
	}
	if n.ds != nil {
		n.ds.Close()
	}
}

// Submit drives a client signed mutation through the ordering service. A
// mutation creating an event database is rejected before ordering if its
// contract is already mirrored, and gets its event processor started once
// applied.
func (n *Node) Submit(ctx context.Context, body *types.MutationBody) (header *types.MutationHeader, err error) {
	if body == nil {
		err = errors.Wrap(types.ErrMutationMalformed, "nil mutation body")
		return
	}
	m, err := types.DecodeMutation(body.Payload)
	if err != nil {
		return
	}
	if m.Action == types.ActionCreateEventDB {
		for i := range m.Bodies {
			if ed := m.Bodies[i].EventDatabase; ed != nil && n.mirrors(ed.ContractAddress) {
				err = errors.Wrapf(ErrDuplicateContract, "contract %s", ed.ContractAddress)
				return
			}
		}
	}

	if header, err = n.chain.Submit(ctx, body); err != nil {
		return
	}

	if m.Action == types.ActionCreateEventDB {
		if serr := n.startEventDatabase(header.DBAddress); serr != nil {
			// The database is created and durable either way, recovery on
			// the next boot picks the processor up.
			log.WithField("database", header.DBAddress).WithError(serr).Error(
				"start event processor failed")
		}
	}
	return
}

func (n *Node) mirrors(contract string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.processors[contract]
	return ok
}

func (n *Node) startEventDatabase(addr proto.DatabaseAddress) (err error) {
	dbs, err := n.ds.EventDatabases()
	if err != nil {
		return errors.Wrap(err, "load event databases failed")
	}
	for _, db := range dbs {
		if db.Address == addr {
			return n.startProcessor(db)
		}
	}
	return errors.Wrapf(docstore.ErrDatabaseNotFound, "database %s", addr)
}

func (n *Node) startProcessor(db *docstore.EventDatabase) (err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.processors[db.ContractAddress]; ok {
		return errors.Wrapf(ErrDuplicateContract, "contract %s", db.ContractAddress)
	}

	fetcher, err := n.dial(db.EvmNodeURL)
	if err != nil {
		return errors.Wrapf(err, "dial evm node %s failed", db.EvmNodeURL)
	}
	cfg := n.syncCfg
	p, err := eventsync.NewProcessor(&cfg, db, fetcher, n.chain, n.ds)
	if err != nil {
		fetcher.Close()
		return
	}
	if err = p.Start(); err != nil {
		fetcher.Close()
		return
	}
	n.processors[db.ContractAddress] = p

	log.WithFields(log.Fields{
		"database": db.Address,
		"contract": db.ContractAddress,
	}).Info("started contract event processor")
	return
}

// RunQuery evaluates a read only query against one collection.
func (n *Node) RunQuery(db proto.DatabaseAddress, colName string, q *types.Query) (res *types.QueryResult, err error) {
	return n.ds.RunQuery(db, colName, q)
}

// Nonce returns the last accepted nonce of the sender.
func (n *Node) Nonce(sender proto.AccountAddress) (nonce uint64, err error) {
	return n.chain.Nonce(sender)
}

// CurrentBlock returns the id of the block currently open for writes.
func (n *Node) CurrentBlock() uint64 {
	return n.chain.CurrentBlock()
}

// PendingRollup reports the mutation span accumulated beyond the newest
// archived range.
func (n *Node) PendingRollup() (st *rollup.PendingStats, err error) {
	return n.rollup.PendingStats()
}

// GetContractSyncStatus lists the sync watermark of every mirrored contract,
// live processor counters overlaying the persisted rows.
func (n *Node) GetContractSyncStatus() (list []*types.ContractSyncStatus, err error) {
	if list, err = n.ds.ListContractSyncStatus(); err != nil {
		return
	}

	n.mu.Lock()
	live := make(map[string]*types.ContractSyncStatus, len(n.processors))
	for contract, p := range n.processors {
		live[contract] = p.Status()
	}
	n.mu.Unlock()

	for i, st := range list {
		if l, ok := live[st.ContractAddress]; ok {
			list[i] = l
			delete(live, st.ContractAddress)
		}
	}
	for _, st := range live {
		list = append(list, st)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ContractAddress < list[j].ContractAddress
	})
	return
}
