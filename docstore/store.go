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

// Package docstore materializes ordered mutations into queryable databases,
// collections and documents over a single leveldb keyspace. All writes enter
// through the Prepare/Commit pair driven by the ordering service; reads are
// served directly and never mutate state.
package docstore

import (
	"bytes"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/CovenantSQL/DocChain/proto"
	"github.com/CovenantSQL/DocChain/types"
	"github.com/CovenantSQL/DocChain/utils"
)

var (
	// databaseKeyPrefix defines the database record key prefix.
	databaseKeyPrefix = []byte{'D', 'B'}
	// collectionKeyPrefix defines the collection record key prefix.
	collectionKeyPrefix = []byte{'C', 'L'}
	// documentKeyPrefix defines the document record key prefix.
	documentKeyPrefix = []byte{'D', 'C'}
	// indexKeyPrefix defines the index entry key prefix.
	indexKeyPrefix = []byte{'I', 'X'}
	// syncStatusKeyPrefix defines the contract sync status key prefix.
	syncStatusKeyPrefix = []byte{'C', 'S'}
	// appliedPositionKey defines the applied watermark key.
	appliedPositionKey = []byte{'A', 'P'}
)

var syncWrite = &opt.WriteOptions{Sync: true}

// defaultCollectionCacheSize bounds the collection metadata cache.
const defaultCollectionCacheSize = 1024

// databaseRecord is the stored form of a database. EventDB is nil for plain
// document databases.
type databaseRecord struct {
	Address proto.DatabaseAddress `json:"a"`
	Sender  proto.AccountAddress  `json:"s"`
	Nonce   uint64                `json:"n"`
	Network proto.NetworkID       `json:"nw"`
	Desc    string                `json:"d"`
	EventDB *eventDBRecord        `json:"e,omitempty"`
}

// eventDBRecord is the stored contract mirroring config of an event database.
type eventDBRecord struct {
	ContractAddress string   `json:"c"`
	TTL             int64    `json:"t"`
	EventsJSONABI   string   `json:"abi"`
	EvmNodeURL      string   `json:"u"`
	StartBlock      uint64   `json:"sb"`
	Collections     []string `json:"cl"`
}

// collectionRecord is the stored form of a collection. Metadata is immutable
// once created, which is what makes the cache safe without invalidation.
type collectionRecord struct {
	Name    string        `json:"n"`
	Indexes []types.Index `json:"i,omitempty"`
}

// EventDatabase is the read view of a stored event database, consumed by the
// node to restart contract sync tasks after a restart.
type EventDatabase struct {
	Address         proto.DatabaseAddress
	ContractAddress string
	TTL             int64
	Desc            string
	EventsJSONABI   string
	EvmNodeURL      string
	StartBlock      uint64
	Collections     []string
}

// Store defines the document store over leveldb.
type Store struct {
	db       *leveldb.DB
	colCache *lru.Cache
	closed   uint32
}

// New opens or creates a document store at filename.
func New(filename string) (s *Store, err error) {
	s = &Store{}
	if s.colCache, err = lru.New(defaultCollectionCacheSize); err != nil {
		s = nil
		err = errors.Wrap(err, "create collection cache failed")
		return
	}
	if s.db, err = leveldb.OpenFile(filename, nil); err != nil {
		s = nil
		err = errors.Wrap(err, "open document store failed")
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

func (s *Store) isClosed() bool {
	return atomic.LoadUint32(&s.closed) == 1
}

// AppliedPosition returns the watermark of the last committed mutation, zero
// when nothing has been applied yet.
func (s *Store) AppliedPosition() (pos proto.Position, err error) {
	if s.isClosed() {
		err = ErrStoreClosed
		return
	}

	var value []byte
	if value, err = s.db.Get(appliedPositionKey, nil); err == leveldb.ErrNotFound {
		err = nil
		return
	} else if err != nil {
		err = errors.Wrap(err, "get applied position failed")
		return
	}
	return proto.PositionFromBytes(value)
}

// getDatabase loads a database record, ErrDatabaseNotFound when absent.
func (s *Store) getDatabase(addr proto.DatabaseAddress) (rec *databaseRecord, err error) {
	var value []byte
	if value, err = s.db.Get(databaseKey(addr), nil); err == leveldb.ErrNotFound {
		err = ErrDatabaseNotFound
		return
	} else if err != nil {
		err = errors.Wrap(err, "get database record failed")
		return
	}
	rec = new(databaseRecord)
	if err = utils.DecodeMsgPack(value, rec); err != nil {
		err = errors.Wrap(err, "decode database record failed")
		rec = nil
	}
	return
}

// getCollection loads collection metadata through the cache. Records are
// immutable so cached entries never go stale; the returned record is a deep
// copy so callers cannot alias the cached one.
func (s *Store) getCollection(db proto.DatabaseAddress, name string) (rec *collectionRecord, err error) {
	cacheKey := string(collectionKey(db, name))
	if cached, ok := s.colCache.Get(cacheKey); ok {
		rec = deepcopy.Copy(cached).(*collectionRecord)
		return
	}

	var value []byte
	if value, err = s.db.Get(collectionKey(db, name), nil); err == leveldb.ErrNotFound {
		err = ErrCollectionNotFound
		return
	} else if err != nil {
		err = errors.Wrap(err, "get collection record failed")
		return
	}
	rec = new(collectionRecord)
	if err = utils.DecodeMsgPack(value, rec); err != nil {
		err = errors.Wrap(err, "decode collection record failed")
		rec = nil
		return
	}
	s.colCache.Add(cacheKey, rec)
	rec = deepcopy.Copy(rec).(*collectionRecord)
	return
}

// getDocument loads the field map of a stored document, nil when absent.
func (s *Store) getDocument(db proto.DatabaseAddress, col string, id int64) (fields map[string]interface{}, err error) {
	var value []byte
	if value, err = s.db.Get(documentKey(db, col, id), nil); err == leveldb.ErrNotFound {
		err = nil
		return
	} else if err != nil {
		err = errors.Wrap(err, "get document failed")
		return
	}
	fields = make(map[string]interface{})
	if err = utils.DecodeMsgPack(value, &fields); err != nil {
		err = errors.Wrap(err, "decode document failed")
		fields = nil
	}
	return
}

// EventDatabases lists every stored event database.
func (s *Store) EventDatabases() (dbs []*EventDatabase, err error) {
	if s.isClosed() {
		err = ErrStoreClosed
		return
	}

	it := s.db.NewIterator(util.BytesPrefix(databaseKeyPrefix), nil)
	defer it.Release()

	for it.Next() {
		rec := new(databaseRecord)
		if err = utils.DecodeMsgPack(it.Value(), rec); err != nil {
			err = errors.Wrap(err, "decode database record failed")
			return
		}
		if rec.EventDB == nil {
			continue
		}
		dbs = append(dbs, &EventDatabase{
			Address:         rec.Address,
			ContractAddress: rec.EventDB.ContractAddress,
			TTL:             rec.EventDB.TTL,
			Desc:            rec.Desc,
			EventsJSONABI:   rec.EventDB.EventsJSONABI,
			EvmNodeURL:      rec.EventDB.EvmNodeURL,
			StartBlock:      rec.EventDB.StartBlock,
			Collections:     append([]string(nil), rec.EventDB.Collections...),
		})
	}
	err = errors.Wrap(it.Error(), "iterate database records failed")
	return
}

// PutContractSyncStatus persists a contract sync watermark.
func (s *Store) PutContractSyncStatus(st *types.ContractSyncStatus) (err error) {
	if s.isClosed() {
		err = ErrStoreClosed
		return
	}

	var enc *bytes.Buffer
	if enc, err = utils.EncodeMsgPack(st); err != nil {
		err = errors.Wrap(err, "encode sync status failed")
		return
	}
	if err = s.db.Put(syncStatusKey(st.ContractAddress), enc.Bytes(), syncWrite); err != nil {
		err = errors.Wrap(err, "write sync status failed")
	}
	return
}

// GetContractSyncStatus loads the sync watermark of a contract, nil when the
// contract has never checkpointed.
func (s *Store) GetContractSyncStatus(contract string) (st *types.ContractSyncStatus, err error) {
	if s.isClosed() {
		err = ErrStoreClosed
		return
	}

	var value []byte
	if value, err = s.db.Get(syncStatusKey(contract), nil); err == leveldb.ErrNotFound {
		err = nil
		return
	} else if err != nil {
		err = errors.Wrap(err, "get sync status failed")
		return
	}
	st = new(types.ContractSyncStatus)
	if err = utils.DecodeMsgPack(value, st); err != nil {
		err = errors.Wrap(err, "decode sync status failed")
		st = nil
	}
	return
}

// ListContractSyncStatus lists every persisted contract sync watermark.
func (s *Store) ListContractSyncStatus() (list []*types.ContractSyncStatus, err error) {
	if s.isClosed() {
		err = ErrStoreClosed
		return
	}

	it := s.db.NewIterator(util.BytesPrefix(syncStatusKeyPrefix), nil)
	defer it.Release()

	for it.Next() {
		st := new(types.ContractSyncStatus)
		if err = utils.DecodeMsgPack(it.Value(), st); err != nil {
			err = errors.Wrap(err, "decode sync status failed")
			return
		}
		list = append(list, st)
	}
	err = errors.Wrap(it.Error(), "iterate sync status failed")
	return
}

func databaseKey(addr proto.DatabaseAddress) []byte {
	return append(append([]byte(nil), databaseKeyPrefix...), addr[:]...)
}

func collectionKey(addr proto.DatabaseAddress, name string) []byte {
	key := append(append([]byte(nil), collectionKeyPrefix...), addr[:]...)
	return append(key, name...)
}

func documentKey(addr proto.DatabaseAddress, name string, id int64) []byte {
	return append(documentPrefix(addr, name), idBytes(id)...)
}

// documentPrefix spans every document of a collection. Collection names must
// not contain the zero separator, checked at creation.
func documentPrefix(addr proto.DatabaseAddress, name string) []byte {
	key := append(append([]byte(nil), documentKeyPrefix...), addr[:]...)
	key = append(key, name...)
	return append(key, 0x00)
}

func indexKey(addr proto.DatabaseAddress, name, field string, valueKey []byte, id int64) []byte {
	return append(indexPrefix(addr, name, field, valueKey), idBytes(id)...)
}

// indexPrefix spans every index entry of one field value. Field names must
// not contain the zero separator, checked at creation.
func indexPrefix(addr proto.DatabaseAddress, name, field string, valueKey []byte) []byte {
	key := append(append([]byte(nil), indexKeyPrefix...), addr[:]...)
	key = append(key, name...)
	key = append(key, 0x00)
	key = append(key, field...)
	key = append(key, 0x00)
	return append(key, valueKey...)
}

func syncStatusKey(contract string) []byte {
	return append(append([]byte(nil), syncStatusKeyPrefix...), contract...)
}
