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
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/DocChain/proto"
	"github.com/CovenantSQL/DocChain/types"
)

const testEventsABI = `[{"type":"event","name":"Transfer","anonymous":false,"inputs":[` +
	`{"indexed":true,"name":"from","type":"address"},` +
	`{"indexed":true,"name":"to","type":"address"},` +
	`{"indexed":false,"name":"value","type":"uint256"}]}]`

var testSender = proto.AccountAddress{0x01}

func newCreateDB(nonce uint64) *types.Mutation {
	return &types.Mutation{
		Action:  types.ActionCreateDocumentDB,
		Nonce:   nonce,
		Network: 1,
		Bodies: []types.BodyWrapper{
			{DocDatabase: &types.DocumentDatabaseMutation{Desc: "test database"}},
		},
	}
}

func newAddCollection(db proto.DatabaseAddress, nonce uint64, name string, indexFields ...string) *types.Mutation {
	col := &types.CollectionMutation{CollectionName: name}
	for _, f := range indexFields {
		col.Index = append(col.Index, types.Index{Field: f})
	}
	return &types.Mutation{
		Action:    types.ActionAddCollection,
		DBAddress: db,
		Nonce:     nonce,
		Network:   1,
		Bodies:    []types.BodyWrapper{{Collection: col}},
	}
}

func newAddDocs(db proto.DatabaseAddress, nonce uint64, col string, docs ...types.Document) *types.Mutation {
	return &types.Mutation{
		Action:    types.ActionAddDocument,
		DBAddress: db,
		Nonce:     nonce,
		Network:   1,
		Bodies: []types.BodyWrapper{
			{Document: &types.DocumentMutation{CollectionName: col, Documents: docs}},
		},
	}
}

func newUpdateDocs(db proto.DatabaseAddress, nonce uint64, col string, docs []types.Document, masks []types.DocumentMask) *types.Mutation {
	return &types.Mutation{
		Action:    types.ActionUpdateDocument,
		DBAddress: db,
		Nonce:     nonce,
		Network:   1,
		Bodies: []types.BodyWrapper{
			{Document: &types.DocumentMutation{CollectionName: col, Documents: docs, Masks: masks}},
		},
	}
}

func newDeleteDocs(db proto.DatabaseAddress, nonce uint64, col string, ids ...int64) *types.Mutation {
	return &types.Mutation{
		Action:    types.ActionDeleteDocument,
		DBAddress: db,
		Nonce:     nonce,
		Network:   1,
		Bodies: []types.BodyWrapper{
			{Document: &types.DocumentMutation{CollectionName: col, IDs: ids}},
		},
	}
}

func resultIDs(res *types.QueryResult) (ids []int64) {
	for _, d := range res.Documents {
		ids = append(ids, d.ID)
	}
	return
}

func TestStore_DatabaseLifecycle(t *testing.T) {
	Convey("database and collection creation", t, func() {
		dbDir, err := ioutil.TempDir("", "docstore_test_")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dbDir)
		s, err := New(filepath.Join(dbDir, "doc.ldb"))
		So(err, ShouldBeNil)
		defer s.Close()

		var order uint32
		apply := func(m *types.Mutation) (*Staged, error) {
			st, err := s.Prepare(m, testSender)
			if err != nil {
				return nil, err
			}
			order++
			return st, s.Commit(st, proto.Position{Block: 1, Order: order})
		}

		st, err := apply(newCreateDB(1))
		So(err, ShouldBeNil)
		So(st.DBAddress, ShouldResemble, proto.NewDatabaseAddress(testSender, 1, 1))
		dbAddr := st.DBAddress

		// Same (sender, nonce, network) derives the same address again.
		_, err = s.Prepare(newCreateDB(1), testSender)
		So(errors.Cause(err), ShouldEqual, ErrDatabaseExists)

		// Another nonce creates a distinct database.
		st, err = apply(newCreateDB(2))
		So(err, ShouldBeNil)
		So(st.DBAddress, ShouldNotResemble, dbAddr)

		// Collections require an existing database.
		_, err = s.Prepare(newAddCollection(proto.DatabaseAddress{0xff}, 3, "books"), testSender)
		So(errors.Cause(err), ShouldEqual, ErrDatabaseNotFound)

		_, err = apply(newAddCollection(dbAddr, 3, "books", "title"))
		So(err, ShouldBeNil)
		_, err = s.Prepare(newAddCollection(dbAddr, 4, "books"), testSender)
		So(errors.Cause(err), ShouldEqual, ErrCollectionExists)

		// Separator bytes are refused in names and index fields.
		_, err = s.Prepare(newAddCollection(dbAddr, 4, "bad\x00name"), testSender)
		So(errors.Cause(err), ShouldEqual, types.ErrMutationMalformed)
		_, err = s.Prepare(newAddCollection(dbAddr, 4, "ok", "bad\x00field"), testSender)
		So(errors.Cause(err), ShouldEqual, types.ErrMutationMalformed)

		// The watermark follows the last commit.
		pos, err := s.AppliedPosition()
		So(err, ShouldBeNil)
		So(pos, ShouldResemble, proto.Position{Block: 1, Order: order})

		// Rejected mutations leave no trace.
		res, err := s.RunQuery(dbAddr, "books", nil)
		So(err, ShouldBeNil)
		So(res.Count, ShouldEqual, 0)
		_, err = s.RunQuery(dbAddr, "ok", nil)
		So(errors.Cause(err), ShouldEqual, ErrCollectionNotFound)
	})
}

func TestStore_DocumentCRUD(t *testing.T) {
	Convey("insert, masked update and delete", t, func() {
		dbDir, err := ioutil.TempDir("", "docstore_test_")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dbDir)
		s, err := New(filepath.Join(dbDir, "doc.ldb"))
		So(err, ShouldBeNil)
		defer s.Close()

		var order uint32
		apply := func(m *types.Mutation) (*Staged, error) {
			st, err := s.Prepare(m, testSender)
			if err != nil {
				return nil, err
			}
			order++
			return st, s.Commit(st, proto.Position{Block: 1, Order: order})
		}

		st, err := apply(newCreateDB(1))
		So(err, ShouldBeNil)
		dbAddr := st.DBAddress
		_, err = apply(newAddCollection(dbAddr, 2, "books", "title"))
		So(err, ShouldBeNil)

		st, err = apply(newAddDocs(dbAddr, 3, "books",
			types.Document{ID: 1, Fields: map[string]interface{}{"a": 1, "b": 2}},
			types.Document{ID: 2, Fields: map[string]interface{}{"title": "dune"}},
		))
		So(err, ShouldBeNil)
		So(st.DocIDs["books"], ShouldResemble, []int64{1, 2})

		// A colliding insert fails whole, the non-colliding part included.
		_, err = s.Prepare(newAddDocs(dbAddr, 4, "books",
			types.Document{ID: 9, Fields: map[string]interface{}{"title": "new"}},
			types.Document{ID: 1, Fields: map[string]interface{}{"title": "dup"}},
		), testSender)
		So(errors.Cause(err), ShouldEqual, ErrDocumentExists)
		res, err := s.RunQuery(dbAddr, "books", nil)
		So(err, ShouldBeNil)
		So(resultIDs(res), ShouldResemble, []int64{1, 2})

		// Inserting the same id twice within one mutation collides too.
		dup := newAddDocs(dbAddr, 4, "books", types.Document{ID: 7, Fields: map[string]interface{}{}})
		dup.Bodies = append(dup.Bodies, types.BodyWrapper{Document: &types.DocumentMutation{
			CollectionName: "books",
			Documents:      []types.Document{{ID: 7, Fields: map[string]interface{}{}}},
		}})
		_, err = s.Prepare(dup, testSender)
		So(errors.Cause(err), ShouldEqual, ErrDocumentExists)

		// Masked update: masked fields are replaced or removed, unmasked kept.
		_, err = apply(newUpdateDocs(dbAddr, 4, "books",
			[]types.Document{{ID: 1, Fields: map[string]interface{}{"b": 9}}},
			[]types.DocumentMask{{Fields: []string{"a"}}},
		))
		So(err, ShouldBeNil)
		res, err = s.RunQuery(dbAddr, "books", &types.Query{
			Filters: []types.Filter{{Field: "b", Op: types.FilterEqual, Value: 2}},
		})
		So(err, ShouldBeNil)
		So(resultIDs(res), ShouldResemble, []int64{1})
		So(len(res.Documents[0].Fields), ShouldEqual, 1)
		So(normalizeValue(res.Documents[0].Fields["b"]), ShouldEqual, int64(2))

		// Later bodies of one mutation see earlier effects.
		twoStep := newUpdateDocs(dbAddr, 5, "books",
			[]types.Document{{ID: 1, Fields: map[string]interface{}{"n": 2}}},
			[]types.DocumentMask{{Fields: []string{"n"}}},
		)
		twoStep.Bodies = append(twoStep.Bodies, types.BodyWrapper{Document: &types.DocumentMutation{
			CollectionName: "books",
			Documents:      []types.Document{{ID: 1, Fields: map[string]interface{}{"m": 3}}},
			Masks:          []types.DocumentMask{{Fields: []string{"m"}}},
		}})
		_, err = apply(twoStep)
		So(err, ShouldBeNil)
		res, err = s.RunQuery(dbAddr, "books", &types.Query{
			Filters: []types.Filter{{Field: "n", Op: types.FilterEqual, Value: 2}},
		})
		So(err, ShouldBeNil)
		So(resultIDs(res), ShouldResemble, []int64{1})
		So(normalizeValue(res.Documents[0].Fields["m"]), ShouldEqual, int64(3))

		// Updating an absent id fails without touching the named ones.
		_, err = s.Prepare(newUpdateDocs(dbAddr, 6, "books",
			[]types.Document{{ID: 404, Fields: map[string]interface{}{}}},
			[]types.DocumentMask{{Fields: nil}},
		), testSender)
		So(errors.Cause(err), ShouldEqual, ErrDocumentNotFound)

		// Deletes are idempotent: absent ids are a no-op, twice equals once.
		_, err = apply(newDeleteDocs(dbAddr, 6, "books", 404))
		So(err, ShouldBeNil)
		_, err = apply(newDeleteDocs(dbAddr, 7, "books", 2))
		So(err, ShouldBeNil)
		_, err = apply(newDeleteDocs(dbAddr, 8, "books", 2))
		So(err, ShouldBeNil)
		res, err = s.RunQuery(dbAddr, "books", nil)
		So(err, ShouldBeNil)
		So(resultIDs(res), ShouldResemble, []int64{1})
	})
}

func TestStore_Query(t *testing.T) {
	Convey("index lookups and scans select the same documents", t, func() {
		dbDir, err := ioutil.TempDir("", "docstore_test_")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dbDir)
		s, err := New(filepath.Join(dbDir, "doc.ldb"))
		So(err, ShouldBeNil)
		defer s.Close()

		var order uint32
		apply := func(m *types.Mutation) (*Staged, error) {
			st, err := s.Prepare(m, testSender)
			if err != nil {
				return nil, err
			}
			order++
			return st, s.Commit(st, proto.Position{Block: 1, Order: order})
		}

		st, err := apply(newCreateDB(1))
		So(err, ShouldBeNil)
		dbAddr := st.DBAddress
		_, err = apply(newAddCollection(dbAddr, 2, "users", "email"))
		So(err, ShouldBeNil)
		_, err = apply(newAddCollection(dbAddr, 3, "users_flat"))
		So(err, ShouldBeNil)

		docs := []types.Document{
			{ID: 1, Fields: map[string]interface{}{"email": "ann@x.io", "age": 30}},
			{ID: 2, Fields: map[string]interface{}{"email": "bob@x.io", "age": 41}},
			{ID: 3, Fields: map[string]interface{}{"email": "ann@x.io", "age": 17}},
			{ID: 4, Fields: map[string]interface{}{"email": "ann", "age": 30}},
			{ID: 5, Fields: map[string]interface{}{"age": 30.0}},
		}
		_, err = apply(newAddDocs(dbAddr, 4, "users", docs...))
		So(err, ShouldBeNil)
		_, err = apply(newAddDocs(dbAddr, 5, "users_flat", docs...))
		So(err, ShouldBeNil)

		queries := []*types.Query{
			{Filters: []types.Filter{{Field: "email", Op: types.FilterEqual, Value: "ann@x.io"}}},
			{Filters: []types.Filter{{Field: "email", Op: types.FilterEqual, Value: "ann"}}},
			{Filters: []types.Filter{
				{Field: "email", Op: types.FilterEqual, Value: "ann@x.io"},
				{Field: "age", Op: types.FilterGreater, Value: 20},
			}},
			{Filters: []types.Filter{{Field: "age", Op: types.FilterLessEqual, Value: 30}}},
			{Filters: []types.Filter{{Field: "age", Op: types.FilterNotEqual, Value: 30}}},
			{Filters: []types.Filter{{Field: "email", Op: types.FilterEqual, Value: "nobody"}}},
		}
		expected := [][]int64{
			{1, 3},
			{4},
			{1},
			{1, 3, 4},
			{2, 3},
			nil,
		}
		for i, q := range queries {
			indexedRes, err := s.RunQuery(dbAddr, "users", q)
			So(err, ShouldBeNil)
			So(resultIDs(indexedRes), ShouldResemble, expected[i])
			scanRes, err := s.RunQuery(dbAddr, "users_flat", q)
			So(err, ShouldBeNil)
			So(resultIDs(scanRes), ShouldResemble, expected[i])
		}

		// Filters are type strict: an integer never matches a float or string.
		res, err := s.RunQuery(dbAddr, "users", &types.Query{
			Filters: []types.Filter{{Field: "age", Op: types.FilterEqual, Value: "30"}},
		})
		So(err, ShouldBeNil)
		So(res.Count, ShouldEqual, 0)
		res, err = s.RunQuery(dbAddr, "users", &types.Query{
			Filters: []types.Filter{{Field: "age", Op: types.FilterEqual, Value: 30.0}},
		})
		So(err, ShouldBeNil)
		So(resultIDs(res), ShouldResemble, []int64{5})

		// Limit caps the result after filtering.
		res, err = s.RunQuery(dbAddr, "users", &types.Query{
			Filters: []types.Filter{{Field: "email", Op: types.FilterEqual, Value: "ann@x.io"}},
			Limit:   1,
		})
		So(err, ShouldBeNil)
		So(resultIDs(res), ShouldResemble, []int64{1})
		So(res.Count, ShouldEqual, 1)

		// Index entries follow updates and deletes.
		_, err = apply(newUpdateDocs(dbAddr, 6, "users",
			[]types.Document{{ID: 3, Fields: map[string]interface{}{"email": "carol@x.io"}}},
			[]types.DocumentMask{{Fields: []string{"email"}}},
		))
		So(err, ShouldBeNil)
		res, err = s.RunQuery(dbAddr, "users", &types.Query{
			Filters: []types.Filter{{Field: "email", Op: types.FilterEqual, Value: "ann@x.io"}},
		})
		So(err, ShouldBeNil)
		So(resultIDs(res), ShouldResemble, []int64{1})
		res, err = s.RunQuery(dbAddr, "users", &types.Query{
			Filters: []types.Filter{{Field: "email", Op: types.FilterEqual, Value: "carol@x.io"}},
		})
		So(err, ShouldBeNil)
		So(resultIDs(res), ShouldResemble, []int64{3})

		_, err = apply(newDeleteDocs(dbAddr, 7, "users", 3))
		So(err, ShouldBeNil)
		res, err = s.RunQuery(dbAddr, "users", &types.Query{
			Filters: []types.Filter{{Field: "email", Op: types.FilterEqual, Value: "carol@x.io"}},
		})
		So(err, ShouldBeNil)
		So(res.Count, ShouldEqual, 0)
	})
}

func TestStore_EventDatabase(t *testing.T) {
	Convey("event database creation and sync status", t, func() {
		dbDir, err := ioutil.TempDir("", "docstore_test_")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dbDir)
		s, err := New(filepath.Join(dbDir, "doc.ldb"))
		So(err, ShouldBeNil)
		defer s.Close()

		newEventDB := func(nonce uint64, abiJSON string, cols ...string) *types.Mutation {
			body := &types.EventDatabaseMutation{
				ContractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
				TTL:             86400,
				Desc:            "transfer mirror",
				EventsJSONABI:   abiJSON,
				EvmNodeURL:      "ws://127.0.0.1:8545",
				StartBlock:      100,
			}
			for _, c := range cols {
				body.Collections = append(body.Collections, types.CollectionMutation{CollectionName: c})
			}
			return &types.Mutation{
				Action:  types.ActionCreateEventDB,
				Nonce:   nonce,
				Network: 1,
				Bodies:  []types.BodyWrapper{{EventDatabase: body}},
			}
		}

		// The declared collections must name events of the ABI.
		_, err = s.Prepare(newEventDB(1, testEventsABI, "Mint"), testSender)
		So(errors.Cause(err), ShouldEqual, ErrInvalidEventABI)
		_, err = s.Prepare(newEventDB(1, "not an abi", "Transfer"), testSender)
		So(errors.Cause(err), ShouldEqual, ErrInvalidEventABI)

		st, err := s.Prepare(newEventDB(1, testEventsABI, "Transfer"), testSender)
		So(err, ShouldBeNil)
		So(s.Commit(st, proto.Position{Block: 1, Order: 1}), ShouldBeNil)

		// The event collections are immediately queryable.
		res, err := s.RunQuery(st.DBAddress, "Transfer", nil)
		So(err, ShouldBeNil)
		So(res.Count, ShouldEqual, 0)

		dbs, err := s.EventDatabases()
		So(err, ShouldBeNil)
		So(dbs, ShouldHaveLength, 1)
		So(dbs[0].Address, ShouldResemble, st.DBAddress)
		So(dbs[0].ContractAddress, ShouldEqual, "0x5FbDB2315678afecb367f032d93F642f64180aa3")
		So(dbs[0].StartBlock, ShouldEqual, 100)
		So(dbs[0].Collections, ShouldResemble, []string{"Transfer"})

		// Sync status checkpoints roundtrip.
		got, err := s.GetContractSyncStatus(dbs[0].ContractAddress)
		So(err, ShouldBeNil)
		So(got, ShouldBeNil)
		So(s.PutContractSyncStatus(&types.ContractSyncStatus{
			ContractAddress: dbs[0].ContractAddress,
			EvmNodeURL:      dbs[0].EvmNodeURL,
			BlockNumber:     123,
			EventNumber:     7,
		}), ShouldBeNil)
		got, err = s.GetContractSyncStatus(dbs[0].ContractAddress)
		So(err, ShouldBeNil)
		So(got.BlockNumber, ShouldEqual, 123)
		list, err := s.ListContractSyncStatus()
		So(err, ShouldBeNil)
		So(list, ShouldHaveLength, 1)
		So(list[0].EventNumber, ShouldEqual, 7)
	})
}

func TestStore_ReplayDeterminism(t *testing.T) {
	Convey("the same mutation sequence rebuilds the same state", t, func() {
		dbDir, err := ioutil.TempDir("", "docstore_test_")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dbDir)

		openApply := func(name string) (*Store, func(*types.Mutation) *Staged) {
			s, err := New(filepath.Join(dbDir, name))
			So(err, ShouldBeNil)
			var order uint32
			return s, func(m *types.Mutation) *Staged {
				st, err := s.Prepare(m, testSender)
				So(err, ShouldBeNil)
				order++
				So(s.Commit(st, proto.Position{Block: 1, Order: order}), ShouldBeNil)
				return st
			}
		}

		s1, apply1 := openApply("doc1.ldb")
		defer s1.Close()
		s2, apply2 := openApply("doc2.ldb")
		defer s2.Close()

		create := newCreateDB(1)
		st := apply1(create)
		dbAddr := st.DBAddress
		rest := []*types.Mutation{
			newAddCollection(dbAddr, 2, "books", "title"),
			newAddDocs(dbAddr, 3, "books",
				types.Document{ID: 1, Fields: map[string]interface{}{"title": "dune", "pages": 412}},
				types.Document{ID: 2, Fields: map[string]interface{}{"title": "solaris"}},
			),
			newUpdateDocs(dbAddr, 4, "books",
				[]types.Document{{ID: 2, Fields: map[string]interface{}{"pages": 204}}},
				[]types.DocumentMask{{Fields: []string{"pages", "draft"}}},
			),
			newDeleteDocs(dbAddr, 5, "books", 1, 404),
		}
		for _, m := range rest {
			apply1(m)
		}
		apply2(create)
		for _, m := range rest {
			apply2(m)
		}

		q := &types.Query{Filters: []types.Filter{{Field: "pages", Op: types.FilterGreaterEqual, Value: 0}}}
		r1, err := s1.RunQuery(dbAddr, "books", q)
		So(err, ShouldBeNil)
		r2, err := s2.RunQuery(dbAddr, "books", q)
		So(err, ShouldBeNil)
		So(r1, ShouldResemble, r2)
		So(resultIDs(r1), ShouldResemble, []int64{2})

		full1, err := s1.RunQuery(dbAddr, "books", nil)
		So(err, ShouldBeNil)
		full2, err := s2.RunQuery(dbAddr, "books", nil)
		So(err, ShouldBeNil)
		So(full1, ShouldResemble, full2)
	})
}

func TestStore_Reopen(t *testing.T) {
	Convey("state survives reopen", t, func() {
		dbDir, err := ioutil.TempDir("", "docstore_test_")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dbDir)
		dbFile := filepath.Join(dbDir, "doc.ldb")

		s, err := New(dbFile)
		So(err, ShouldBeNil)
		st, err := s.Prepare(newCreateDB(1), testSender)
		So(err, ShouldBeNil)
		So(s.Commit(st, proto.Position{Block: 1, Order: 1}), ShouldBeNil)
		dbAddr := st.DBAddress
		st, err = s.Prepare(newAddCollection(dbAddr, 2, "books"), testSender)
		So(err, ShouldBeNil)
		So(s.Commit(st, proto.Position{Block: 1, Order: 2}), ShouldBeNil)
		st, err = s.Prepare(newAddDocs(dbAddr, 3, "books",
			types.Document{ID: 1, Fields: map[string]interface{}{"title": "dune"}}), testSender)
		So(err, ShouldBeNil)
		So(s.Commit(st, proto.Position{Block: 2, Order: 0}), ShouldBeNil)
		s.Close()

		_, err = s.RunQuery(dbAddr, "books", nil)
		So(err, ShouldEqual, ErrStoreClosed)

		s, err = New(dbFile)
		So(err, ShouldBeNil)
		defer s.Close()

		pos, err := s.AppliedPosition()
		So(err, ShouldBeNil)
		So(pos, ShouldResemble, proto.Position{Block: 2, Order: 0})
		res, err := s.RunQuery(dbAddr, "books", nil)
		So(err, ShouldBeNil)
		So(resultIDs(res), ShouldResemble, []int64{1})
	})
}
