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

// Package mstore implements the durable mutation log of a node: ordered
// header/body records, per-sender nonce cursors, the block cursor and the
// rollup bookkeeping tables, all in one leveldb keyspace so related updates
// share a write batch.
package mstore

import (
	"bytes"
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/CovenantSQL/DocChain/proto"
	"github.com/CovenantSQL/DocChain/types"
	"github.com/CovenantSQL/DocChain/utils"
)

var (
	// mutationHeaderKeyPrefix defines the leveldb mutation header key prefix.
	mutationHeaderKeyPrefix = []byte{'M', 'H'}
	// mutationBodyKeyPrefix defines the leveldb mutation body key prefix.
	mutationBodyKeyPrefix = []byte{'M', 'B'}
	// nonceKeyPrefix defines the per-sender nonce cursor key prefix.
	nonceKeyPrefix = []byte{'N', 'C'}
	// rollupKeyPrefix defines the rollup record key prefix.
	rollupKeyPrefix = []byte{'R', 'R'}
	// gcKeyPrefix defines the gc record key prefix.
	gcKeyPrefix = []byte{'G', 'C'}
	// blockStateKey defines the block cursor key.
	blockStateKey = []byte{'B', 'S'}
)

var syncWrite = &opt.WriteOptions{Sync: true}

// BlockState persists the block cursor across restarts. A restarted node
// always opens NextBlock, never reuses a sealed one.
type BlockState struct {
	NextBlock uint64    `json:"nb"`
	SealedAt  time.Time `json:"t"`
}

// Store defines the mutation log over leveldb.
type Store struct {
	db     *leveldb.DB
	closed uint32
}

// New opens or creates a mutation store at filename.
func New(filename string) (s *Store, err error) {
	s = &Store{}
	if s.db, err = leveldb.OpenFile(filename, nil); err != nil {
		s = nil
		err = errors.Wrap(err, "open mutation store failed")
		return
	}
	return
}

// Close releases the underlying database.
func (s *Store) Close() {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return
	}
	if s.db != nil {
		s.db.Close()
	}
}

// Append writes one accepted mutation and advances its sender's nonce cursor
// in a single synced batch, so a mutation can never be durable without its
// nonce or the other way round.
func (s *Store) Append(h *types.MutationHeader, b *types.MutationBody) (err error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		err = ErrStoreClosed
		return
	}
	if h == nil || b == nil {
		err = ErrInvalidMutation
		return
	}

	pos := h.Position()
	headerKey := headerKey(pos)

	if _, err = s.db.Get(headerKey, nil); err != nil && err != leveldb.ErrNotFound {
		err = errors.Wrap(err, "access mutation store failed")
		return
	} else if err == nil {
		err = ErrAlreadyExists
		return
	}

	var encHeader, encBody *bytes.Buffer
	if encHeader, err = utils.EncodeMsgPack(h); err != nil {
		err = errors.Wrap(err, "encode mutation header failed")
		return
	}
	if encBody, err = utils.EncodeMsgPack(b); err != nil {
		err = errors.Wrap(err, "encode mutation body failed")
		return
	}

	batch := new(leveldb.Batch)
	batch.Put(headerKey, encHeader.Bytes())
	batch.Put(bodyKey(pos), encBody.Bytes())
	batch.Put(nonceKey(h.Sender), uint64ToBytes(h.Nonce))

	if err = s.db.Write(batch, syncWrite); err != nil {
		err = errors.Wrap(err, "write mutation failed")
	}
	return
}

// Get reads the mutation at pos.
func (s *Store) Get(pos proto.Position) (h *types.MutationHeader, b *types.MutationBody, err error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		err = ErrStoreClosed
		return
	}

	var encHeader []byte
	if encHeader, err = s.db.Get(headerKey(pos), nil); err == leveldb.ErrNotFound {
		err = ErrNotExists
		return
	} else if err != nil {
		err = errors.Wrap(err, "get mutation header failed")
		return
	}

	return s.load(pos, encHeader)
}

// Replay calls fn for every mutation with a position strictly after the
// given one, in log order. It is the recovery path: the caller passes the
// applied watermark and re-applies the tail.
func (s *Store) Replay(after proto.Position, fn func(*types.MutationHeader, *types.MutationBody) error) (err error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		err = ErrStoreClosed
		return
	}

	it := s.db.NewIterator(util.BytesPrefix(mutationHeaderKeyPrefix), nil)
	defer it.Release()

	startKey := headerKey(after)
	for ok := it.Seek(startKey); ok; ok = it.Next() {
		if bytes.Equal(it.Key(), startKey) {
			continue
		}
		var (
			pos proto.Position
			h   *types.MutationHeader
			b   *types.MutationBody
		)
		if pos, err = proto.PositionFromBytes(it.Key()[len(mutationHeaderKeyPrefix):]); err != nil {
			err = errors.Wrap(err, "decode log position failed")
			return
		}
		if h, b, err = s.load(pos, it.Value()); err != nil {
			return
		}
		if err = fn(h, b); err != nil {
			return
		}
	}
	err = errors.Wrap(it.Error(), "iterate mutation log failed")
	return
}

// RangeBlocks calls fn for every mutation in blocks [startBlock, endBlock],
// bounds inclusive, in log order.
func (s *Store) RangeBlocks(startBlock, endBlock uint64, fn func(*types.MutationHeader, *types.MutationBody) error) (err error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		err = ErrStoreClosed
		return
	}

	it := s.db.NewIterator(&util.Range{
		Start: headerKey(proto.Position{Block: startBlock}),
		Limit: headerKey(proto.Position{Block: endBlock + 1}),
	}, nil)
	defer it.Release()

	for it.Next() {
		var (
			pos proto.Position
			h   *types.MutationHeader
			b   *types.MutationBody
		)
		if pos, err = proto.PositionFromBytes(it.Key()[len(mutationHeaderKeyPrefix):]); err != nil {
			err = errors.Wrap(err, "decode log position failed")
			return
		}
		if h, b, err = s.load(pos, it.Value()); err != nil {
			return
		}
		if err = fn(h, b); err != nil {
			return
		}
	}
	err = errors.Wrap(it.Error(), "iterate mutation log failed")
	return
}

// LastPosition returns the position of the newest appended mutation. ok is
// false on an empty log.
func (s *Store) LastPosition() (pos proto.Position, ok bool, err error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		err = ErrStoreClosed
		return
	}

	it := s.db.NewIterator(util.BytesPrefix(mutationHeaderKeyPrefix), nil)
	defer it.Release()

	if !it.Last() {
		err = errors.Wrap(it.Error(), "seek log tail failed")
		return
	}
	if pos, err = proto.PositionFromBytes(it.Key()[len(mutationHeaderKeyPrefix):]); err != nil {
		err = errors.Wrap(err, "decode log position failed")
		return
	}
	ok = true
	return
}

// Nonce returns the last accepted nonce of sender, zero when the sender has
// never been seen.
func (s *Store) Nonce(sender proto.AccountAddress) (nonce uint64, err error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		err = ErrStoreClosed
		return
	}

	var value []byte
	if value, err = s.db.Get(nonceKey(sender), nil); err == leveldb.ErrNotFound {
		err = nil
		return
	} else if err != nil {
		err = errors.Wrap(err, "get nonce cursor failed")
		return
	}
	nonce = bytesToUint64(value)
	return
}

// PutBlockState persists the block cursor.
func (s *Store) PutBlockState(bs *BlockState) (err error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		err = ErrStoreClosed
		return
	}

	var enc *bytes.Buffer
	if enc, err = utils.EncodeMsgPack(bs); err != nil {
		err = errors.Wrap(err, "encode block state failed")
		return
	}
	if err = s.db.Put(blockStateKey, enc.Bytes(), syncWrite); err != nil {
		err = errors.Wrap(err, "write block state failed")
	}
	return
}

// GetBlockState loads the persisted block cursor, nil when never sealed.
func (s *Store) GetBlockState() (bs *BlockState, err error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		err = ErrStoreClosed
		return
	}

	var value []byte
	if value, err = s.db.Get(blockStateKey, nil); err == leveldb.ErrNotFound {
		err = nil
		return
	} else if err != nil {
		err = errors.Wrap(err, "get block state failed")
		return
	}
	bs = new(BlockState)
	if err = utils.DecodeMsgPack(value, bs); err != nil {
		err = errors.Wrap(err, "decode block state failed")
		bs = nil
	}
	return
}

// PutRollupRecord persists a rollup record keyed by its start block.
func (s *Store) PutRollupRecord(r *types.RollupRecord) (err error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		err = ErrStoreClosed
		return
	}

	var enc *bytes.Buffer
	if enc, err = utils.EncodeMsgPack(r); err != nil {
		err = errors.Wrap(err, "encode rollup record failed")
		return
	}
	key := append(append([]byte(nil), rollupKeyPrefix...), uint64ToBytes(r.StartBlock)...)
	if err = s.db.Put(key, enc.Bytes(), syncWrite); err != nil {
		err = errors.Wrap(err, "write rollup record failed")
	}
	return
}

// RollupRecords loads every rollup record in ascending start block order.
func (s *Store) RollupRecords() (records []*types.RollupRecord, err error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		err = ErrStoreClosed
		return
	}

	it := s.db.NewIterator(util.BytesPrefix(rollupKeyPrefix), nil)
	defer it.Release()

	for it.Next() {
		r := new(types.RollupRecord)
		if err = utils.DecodeMsgPack(it.Value(), r); err != nil {
			err = errors.Wrap(err, "decode rollup record failed")
			return
		}
		records = append(records, r)
	}
	err = errors.Wrap(it.Error(), "iterate rollup records failed")
	return
}

// GCRange removes the sealed log entries of blocks [startBlock, endBlock]
// and records the collection, all in one synced batch.
func (s *Store) GCRange(startBlock, endBlock uint64) (rec *types.GCRecord, err error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		err = ErrStoreClosed
		return
	}

	batch := new(leveldb.Batch)
	rec = &types.GCRecord{
		StartBlock: startBlock,
		EndBlock:   endBlock,
		Time:       time.Now().UTC(),
	}

	for _, prefix := range [][]byte{mutationHeaderKeyPrefix, mutationBodyKeyPrefix} {
		it := s.db.NewIterator(&util.Range{
			Start: append(append([]byte(nil), prefix...), proto.Position{Block: startBlock}.Bytes()...),
			Limit: append(append([]byte(nil), prefix...), proto.Position{Block: endBlock + 1}.Bytes()...),
		}, nil)
		for it.Next() {
			batch.Delete(append([]byte(nil), it.Key()...))
			rec.DataSize += uint64(len(it.Value()))
		}
		err = it.Error()
		it.Release()
		if err != nil {
			err = errors.Wrap(err, "iterate gc range failed")
			rec = nil
			return
		}
	}

	var enc *bytes.Buffer
	if enc, err = utils.EncodeMsgPack(rec); err != nil {
		err = errors.Wrap(err, "encode gc record failed")
		rec = nil
		return
	}
	batch.Put(append(append([]byte(nil), gcKeyPrefix...), uint64ToBytes(startBlock)...), enc.Bytes())

	if err = s.db.Write(batch, syncWrite); err != nil {
		err = errors.Wrap(err, "write gc batch failed")
		rec = nil
	}
	return
}

// GCRecords loads every gc record in ascending start block order.
func (s *Store) GCRecords() (records []*types.GCRecord, err error) {
	if atomic.LoadUint32(&s.closed) == 1 {
		err = ErrStoreClosed
		return
	}

	it := s.db.NewIterator(util.BytesPrefix(gcKeyPrefix), nil)
	defer it.Release()

	for it.Next() {
		r := new(types.GCRecord)
		if err = utils.DecodeMsgPack(it.Value(), r); err != nil {
			err = errors.Wrap(err, "decode gc record failed")
			return
		}
		records = append(records, r)
	}
	err = errors.Wrap(it.Error(), "iterate gc records failed")
	return
}

func (s *Store) load(pos proto.Position, encHeader []byte) (h *types.MutationHeader, b *types.MutationBody, err error) {
	h = new(types.MutationHeader)
	if err = utils.DecodeMsgPack(encHeader, h); err != nil {
		err = errors.Wrap(err, "decode mutation header failed")
		return
	}

	var encBody []byte
	if encBody, err = s.db.Get(bodyKey(pos), nil); err != nil {
		err = errors.Wrap(err, "get mutation body failed")
		return
	}
	b = new(types.MutationBody)
	if err = utils.DecodeMsgPack(encBody, b); err != nil {
		err = errors.Wrap(err, "decode mutation body failed")
	}
	return
}

func headerKey(pos proto.Position) []byte {
	return append(append([]byte(nil), mutationHeaderKeyPrefix...), pos.Bytes()...)
}

func bodyKey(pos proto.Position) []byte {
	return append(append([]byte(nil), mutationBodyKeyPrefix...), pos.Bytes()...)
}

func nonceKey(sender proto.AccountAddress) []byte {
	return append(append([]byte(nil), nonceKeyPrefix...), sender[:]...)
}

func uint64ToBytes(o uint64) (res []byte) {
	res = make([]byte, 8)
	binary.BigEndian.PutUint64(res, o)
	return
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
