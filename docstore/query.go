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
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/CovenantSQL/DocChain/proto"
	"github.com/CovenantSQL/DocChain/types"
	"github.com/CovenantSQL/DocChain/utils"
)

// RunQuery evaluates a query against one collection. The first equality
// filter on an indexed scalar field drives an index lookup with the remaining
// filters applied as residuals; without such a filter the whole collection is
// scanned. Filters match only documents that carry the field with a scalar
// value of the same type family, so an index lookup and a scan always select
// the same documents.
func (s *Store) RunQuery(db proto.DatabaseAddress, colName string, q *types.Query) (res *types.QueryResult, err error) {
	if s.isClosed() {
		err = ErrStoreClosed
		return
	}

	var col *collectionRecord
	if col, err = s.getCollection(db, colName); err != nil {
		return
	}
	if q == nil {
		q = &types.Query{}
	}

	chosen, valueKey := pickIndexedFilter(col, q.Filters)

	var docs []*types.Document
	if chosen >= 0 {
		residual := make([]types.Filter, 0, len(q.Filters)-1)
		residual = append(residual, q.Filters[:chosen]...)
		residual = append(residual, q.Filters[chosen+1:]...)
		docs, err = s.queryByIndex(db, colName, q.Filters[chosen].Field, valueKey, residual, q.Limit)
	} else {
		docs, err = s.queryByScan(db, colName, q.Filters, q.Limit)
	}
	if err != nil {
		return
	}

	res = &types.QueryResult{
		Documents: docs,
		Count:     int64(len(docs)),
	}
	return
}

// pickIndexedFilter returns the first equality filter usable for an index
// lookup along with the encoded value key, or -1 when the query has to scan.
func pickIndexedFilter(col *collectionRecord, filters []types.Filter) (chosen int, valueKey []byte) {
	chosen = -1
	if len(col.Indexes) == 0 {
		return
	}
	indexed := make(map[string]bool, len(col.Indexes))
	for i := range col.Indexes {
		indexed[col.Indexes[i].Field] = true
	}
	for i := range filters {
		f := &filters[i]
		if f.Op != types.FilterEqual || !indexed[f.Field] {
			continue
		}
		if vk, ok := encodeValueKey(normalizeValue(f.Value)); ok {
			chosen, valueKey = i, vk
			return
		}
	}
	return
}

func (s *Store) queryByIndex(db proto.DatabaseAddress, colName, field string, valueKey []byte, residual []types.Filter, limit int64) (docs []*types.Document, err error) {
	prefix := indexPrefix(db, colName, field, valueKey)
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	// An entry of the exact value is prefix plus the 8 id bytes; longer keys
	// belong to values this one is a prefix of.
	want := len(prefix) + 8
	for it.Next() {
		key := it.Key()
		if len(key) != want {
			continue
		}
		id := idFromBytes(key[len(prefix):])

		var fields map[string]interface{}
		if fields, err = s.getDocument(db, colName, id); err != nil {
			return
		}
		if fields == nil || !matchFilters(fields, residual) {
			continue
		}
		docs = append(docs, &types.Document{ID: id, Fields: fields})
		if limit > 0 && int64(len(docs)) >= limit {
			return
		}
	}
	err = errors.Wrap(it.Error(), "iterate index failed")
	return
}

func (s *Store) queryByScan(db proto.DatabaseAddress, colName string, filters []types.Filter, limit int64) (docs []*types.Document, err error) {
	prefix := documentPrefix(db, colName)
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	for it.Next() {
		id := idFromBytes(it.Key()[len(prefix):])
		fields := make(map[string]interface{})
		if err = utils.DecodeMsgPack(it.Value(), &fields); err != nil {
			err = errors.Wrap(err, "decode document failed")
			return
		}
		if !matchFilters(fields, filters) {
			continue
		}
		docs = append(docs, &types.Document{ID: id, Fields: fields})
		if limit > 0 && int64(len(docs)) >= limit {
			return
		}
	}
	err = errors.Wrap(it.Error(), "iterate collection failed")
	return
}

func matchFilters(fields map[string]interface{}, filters []types.Filter) bool {
	for i := range filters {
		if !matchFilter(fields, &filters[i]) {
			return false
		}
	}
	return true
}

func matchFilter(fields map[string]interface{}, f *types.Filter) bool {
	v, ok := fields[f.Field]
	if !ok {
		return false
	}
	c, ok := compareValues(normalizeValue(v), normalizeValue(f.Value))
	if !ok {
		return false
	}
	switch f.Op {
	case types.FilterEqual:
		return c == 0
	case types.FilterNotEqual:
		return c != 0
	case types.FilterGreater:
		return c > 0
	case types.FilterGreaterEqual:
		return c >= 0
	case types.FilterLess:
		return c < 0
	case types.FilterLessEqual:
		return c <= 0
	default:
		return false
	}
}
