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

package docstore

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/CovenantSQL/DocChain/proto"
	"github.com/CovenantSQL/DocChain/types"
	"github.com/CovenantSQL/DocChain/utils"
)

// Staged is a fully checked mutation waiting for its log position. It holds
// every store write of the mutation in one batch; nothing is visible until
// Commit.
type Staged struct {
	// DBAddress is the database the mutation applies to. For create actions
	// it is derived from (sender, nonce, network) and reported back through
	// the mutation header.
	DBAddress proto.DatabaseAddress
	// DocIDs lists the document ids addressed per collection.
	DocIDs map[string][]int64

	batch *leveldb.Batch
}

// stagedDoc tracks the in-mutation view of a document so later bodies of the
// same mutation observe the effects of earlier ones.
type stagedDoc struct {
	fields  map[string]interface{}
	deleted bool
}

// prepare accumulates the staged state of one mutation.
type prepare struct {
	s      *Store
	dbAddr proto.DatabaseAddress
	dbRec  *databaseRecord
	batch  *leveldb.Batch
	docIDs map[string][]int64
	cols   map[string]*collectionRecord
	docs   map[string]*stagedDoc
	dbNew  bool
}

// Prepare checks a validated mutation against the current store state and
// stages its effects. It performs every semantic check of the action but
// writes nothing; the ordering service appends the mutation to the durable
// log first and only then calls Commit. Prepare reads but never mutates store
// state, so a failed mutation is a pure no-op.
func (s *Store) Prepare(m *types.Mutation, sender proto.AccountAddress) (st *Staged, err error) {
	if s.isClosed() {
		err = ErrStoreClosed
		return
	}
	if m == nil {
		err = errors.Wrap(types.ErrMutationMalformed, "nil mutation")
		return
	}
	if err = m.SanityCheck(); err != nil {
		return
	}

	p := &prepare{
		s:      s,
		batch:  new(leveldb.Batch),
		docIDs: make(map[string][]int64),
		cols:   make(map[string]*collectionRecord),
		docs:   make(map[string]*stagedDoc),
	}

	switch m.Action {
	case types.ActionCreateDocumentDB, types.ActionCreateEventDB:
		p.dbAddr = proto.NewDatabaseAddress(sender, m.Nonce, m.Network)
		if _, err = s.getDatabase(p.dbAddr); err == nil {
			err = errors.Wrapf(ErrDatabaseExists, "database %s", p.dbAddr)
			return
		} else if errors.Cause(err) != ErrDatabaseNotFound {
			return
		}
		err = nil
	default:
		p.dbAddr = m.DBAddress
		if p.dbRec, err = s.getDatabase(p.dbAddr); err != nil {
			return
		}
	}

	for i := range m.Bodies {
		w := &m.Bodies[i]
		switch m.Action {
		case types.ActionCreateDocumentDB:
			err = p.createDocumentDB(sender, m, w.DocDatabase)
		case types.ActionCreateEventDB:
			err = p.createEventDB(sender, m, w.EventDatabase)
		case types.ActionAddCollection:
			err = p.stageCollection(w.Collection)
		case types.ActionAddDocument:
			err = p.addDocuments(w.Document)
		case types.ActionUpdateDocument:
			err = p.updateDocuments(w.Document)
		case types.ActionDeleteDocument:
			err = p.deleteDocuments(w.Document)
		}
		if err != nil {
			err = errors.Wrapf(err, "body #%d", i)
			return
		}
	}

	st = &Staged{
		DBAddress: p.dbAddr,
		DocIDs:    p.docIDs,
		batch:     p.batch,
	}
	return
}

// Commit writes a staged mutation and the applied watermark in one synced
// batch. The watermark always moves with the effects it covers, which is what
// makes restart replay safe to cut at the watermark.
func (s *Store) Commit(st *Staged, pos proto.Position) (err error) {
	if s.isClosed() {
		err = ErrStoreClosed
		return
	}
	if st == nil || st.batch == nil {
		err = errors.New("nil staged mutation")
		return
	}

	st.batch.Put(appliedPositionKey, pos.Bytes())
	err = errors.Wrap(s.db.Write(st.batch, syncWrite), "commit staged mutation failed")
	return
}

func (p *prepare) createDocumentDB(sender proto.AccountAddress, m *types.Mutation, b *types.DocumentDatabaseMutation) (err error) {
	if p.dbNew {
		return errors.Wrapf(ErrDatabaseExists, "database %s", p.dbAddr)
	}
	rec := &databaseRecord{
		Address: p.dbAddr,
		Sender:  sender,
		Nonce:   m.Nonce,
		Network: m.Network,
		Desc:    b.Desc,
	}
	if err = p.stagePut(databaseKey(p.dbAddr), rec); err != nil {
		return
	}
	p.dbRec = rec
	p.dbNew = true
	return
}

func (p *prepare) createEventDB(sender proto.AccountAddress, m *types.Mutation, b *types.EventDatabaseMutation) (err error) {
	if p.dbNew {
		return errors.Wrapf(ErrDatabaseExists, "database %s", p.dbAddr)
	}

	var parsed abi.ABI
	if parsed, err = abi.JSON(strings.NewReader(b.EventsJSONABI)); err != nil {
		return errors.Wrapf(ErrInvalidEventABI, "parse events abi failed: %v", err)
	}

	names := make([]string, 0, len(b.Collections))
	for i := range b.Collections {
		col := &b.Collections[i]
		if _, ok := parsed.Events[col.CollectionName]; !ok {
			return errors.Wrapf(ErrInvalidEventABI, "no event %q in abi", col.CollectionName)
		}
		if err = p.stageCollection(col); err != nil {
			return
		}
		names = append(names, col.CollectionName)
	}

	rec := &databaseRecord{
		Address: p.dbAddr,
		Sender:  sender,
		Nonce:   m.Nonce,
		Network: m.Network,
		Desc:    b.Desc,
		EventDB: &eventDBRecord{
			ContractAddress: b.ContractAddress,
			TTL:             b.TTL,
			EventsJSONABI:   b.EventsJSONABI,
			EvmNodeURL:      b.EvmNodeURL,
			StartBlock:      b.StartBlock,
			Collections:     names,
		},
	}
	if err = p.stagePut(databaseKey(p.dbAddr), rec); err != nil {
		return
	}
	p.dbRec = rec
	p.dbNew = true
	return
}

func (p *prepare) stageCollection(b *types.CollectionMutation) (err error) {
	name := b.CollectionName
	if strings.IndexByte(name, 0x00) >= 0 {
		return errors.Wrap(types.ErrMutationMalformed, "collection name contains a zero byte")
	}
	for i := range b.Index {
		if f := b.Index[i].Field; f == "" || strings.IndexByte(f, 0x00) >= 0 {
			return errors.Wrapf(types.ErrMutationMalformed, "invalid index field %q", f)
		}
	}

	if _, ok := p.cols[name]; ok {
		return errors.Wrapf(ErrCollectionExists, "collection %s", name)
	}
	if _, err = p.s.getCollection(p.dbAddr, name); err == nil {
		return errors.Wrapf(ErrCollectionExists, "collection %s", name)
	} else if errors.Cause(err) != ErrCollectionNotFound {
		return
	}
	err = nil

	rec := &collectionRecord{
		Name:    name,
		Indexes: append([]types.Index(nil), b.Index...),
	}
	if err = p.stagePut(collectionKey(p.dbAddr, name), rec); err != nil {
		return
	}
	p.cols[name] = rec
	return
}

func (p *prepare) addDocuments(b *types.DocumentMutation) (err error) {
	var col *collectionRecord
	if col, err = p.collection(b.CollectionName); err != nil {
		return
	}

	for i := range b.Documents {
		doc := &b.Documents[i]
		var current map[string]interface{}
		if current, err = p.currentFields(b.CollectionName, doc.ID); err != nil {
			return
		}
		if current != nil {
			return errors.Wrapf(ErrDocumentExists, "document %d", doc.ID)
		}

		key := documentKey(p.dbAddr, b.CollectionName, doc.ID)
		if err = p.stagePut(key, doc.Fields); err != nil {
			return
		}
		p.stageIndexPuts(col, b.CollectionName, doc.ID, doc.Fields)
		p.docs[string(key)] = &stagedDoc{fields: doc.Fields}
		p.docIDs[b.CollectionName] = append(p.docIDs[b.CollectionName], doc.ID)
	}
	return
}

func (p *prepare) updateDocuments(b *types.DocumentMutation) (err error) {
	var col *collectionRecord
	if col, err = p.collection(b.CollectionName); err != nil {
		return
	}

	for i := range b.Documents {
		doc := &b.Documents[i]
		var current map[string]interface{}
		if current, err = p.currentFields(b.CollectionName, doc.ID); err != nil {
			return
		}
		if current == nil {
			return errors.Wrapf(ErrDocumentNotFound, "document %d", doc.ID)
		}

		p.stageIndexDeletes(col, b.CollectionName, doc.ID, current)
		updated := applyMask(current, doc.Fields, &b.Masks[i])

		key := documentKey(p.dbAddr, b.CollectionName, doc.ID)
		if err = p.stagePut(key, updated); err != nil {
			return
		}
		p.stageIndexPuts(col, b.CollectionName, doc.ID, updated)
		p.docs[string(key)] = &stagedDoc{fields: updated}
		p.docIDs[b.CollectionName] = append(p.docIDs[b.CollectionName], doc.ID)
	}
	return
}

func (p *prepare) deleteDocuments(b *types.DocumentMutation) (err error) {
	var col *collectionRecord
	if col, err = p.collection(b.CollectionName); err != nil {
		return
	}

	for _, id := range b.IDs {
		p.docIDs[b.CollectionName] = append(p.docIDs[b.CollectionName], id)

		var current map[string]interface{}
		if current, err = p.currentFields(b.CollectionName, id); err != nil {
			return
		}
		if current == nil {
			// Deleting an absent id is a no-op so replay after partial
			// application stays safe.
			continue
		}

		key := documentKey(p.dbAddr, b.CollectionName, id)
		p.batch.Delete(key)
		p.stageIndexDeletes(col, b.CollectionName, id, current)
		p.docs[string(key)] = &stagedDoc{deleted: true}
	}
	return
}

// applyMask merges an incoming document into the current one: masked fields
// are replaced, masked fields absent from the incoming document are removed,
// unmasked fields stay untouched.
func applyMask(current, incoming map[string]interface{}, mask *types.DocumentMask) map[string]interface{} {
	out := make(map[string]interface{}, len(current))
	for k, v := range current {
		out[k] = v
	}
	for _, f := range mask.Fields {
		if v, ok := incoming[f]; ok {
			out[f] = v
		} else {
			delete(out, f)
		}
	}
	return out
}

// collection resolves collection metadata through the staged view first so a
// collection created earlier in the same mutation is already addressable.
func (p *prepare) collection(name string) (rec *collectionRecord, err error) {
	var ok bool
	if rec, ok = p.cols[name]; ok {
		return
	}
	if rec, err = p.s.getCollection(p.dbAddr, name); err != nil {
		return
	}
	p.cols[name] = rec
	return
}

// currentFields resolves a document through the staged view first, nil when
// the document does not exist.
func (p *prepare) currentFields(colName string, id int64) (fields map[string]interface{}, err error) {
	if sd, ok := p.docs[string(documentKey(p.dbAddr, colName, id))]; ok {
		if sd.deleted {
			return
		}
		fields = sd.fields
		return
	}
	return p.s.getDocument(p.dbAddr, colName, id)
}

func (p *prepare) stageIndexPuts(col *collectionRecord, name string, id int64, fields map[string]interface{}) {
	for i := range col.Indexes {
		field := col.Indexes[i].Field
		v, ok := fields[field]
		if !ok {
			continue
		}
		vk, ok := encodeValueKey(normalizeValue(v))
		if !ok {
			// Non-scalar values stay out of the index.
			continue
		}
		p.batch.Put(indexKey(p.dbAddr, name, field, vk, id), nil)
	}
}

func (p *prepare) stageIndexDeletes(col *collectionRecord, name string, id int64, fields map[string]interface{}) {
	for i := range col.Indexes {
		field := col.Indexes[i].Field
		v, ok := fields[field]
		if !ok {
			continue
		}
		vk, ok := encodeValueKey(normalizeValue(v))
		if !ok {
			continue
		}
		p.batch.Delete(indexKey(p.dbAddr, name, field, vk, id))
	}
}

func (p *prepare) stagePut(key []byte, record interface{}) (err error) {
	enc, err := utils.EncodeMsgPack(record)
	if err != nil {
		return errors.Wrap(err, "encode store record failed")
	}
	p.batch.Put(key, enc.Bytes())
	return
}
