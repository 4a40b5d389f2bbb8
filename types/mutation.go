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

package types

import (
	"time"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/DocChain/crypto/hash"
	"github.com/CovenantSQL/DocChain/proto"
)

// Action enumerates available mutation types.
type Action int32

const (
	// ActionInvalid defines the zero action, always rejected.
	ActionInvalid Action = iota
	// ActionCreateDocumentDB creates a document database.
	ActionCreateDocumentDB
	// ActionCreateEventDB creates an event database mirroring a contract.
	ActionCreateEventDB
	// ActionAddCollection adds collections to an existing database.
	ActionAddCollection
	// ActionAddDocument inserts documents into a collection.
	ActionAddDocument
	// ActionUpdateDocument applies masked updates to existing documents.
	ActionUpdateDocument
	// ActionDeleteDocument removes documents by id.
	ActionDeleteDocument
)

// String implements fmt.Stringer for logging purpose.
func (a Action) String() string {
	switch a {
	case ActionCreateDocumentDB:
		return "CreateDocumentDB"
	case ActionCreateEventDB:
		return "CreateEventDB"
	case ActionAddCollection:
		return "AddCollection"
	case ActionAddDocument:
		return "AddDocument"
	case ActionUpdateDocument:
		return "UpdateDocument"
	case ActionDeleteDocument:
		return "DeleteDocument"
	default:
		return "Unknown"
	}
}

// Index declares a single-field index of a collection.
type Index struct {
	Field string `json:"f"`
}

// CollectionMutation declares a collection with its indexed fields. Within an
// event database the collection name must match an ABI event name.
type CollectionMutation struct {
	CollectionName string  `json:"cn"`
	Index          []Index `json:"i,omitempty"`
}

// Document is a single schemaless record of a collection. The id is always
// assigned by the writer, never by the store, which keeps log replay
// deterministic.
type Document struct {
	ID     int64                  `json:"id"`
	Fields map[string]interface{} `json:"fs"`
}

// DocumentMask lists the document fields affected by an update. A masked
// field absent from the incoming document is removed from the stored one;
// unmasked stored fields are left untouched.
type DocumentMask struct {
	Fields []string `json:"f"`
}

// DocumentMutation carries the per-collection arguments of document actions:
// Documents for inserts, Documents with parallel Masks for updates, IDs for
// deletes.
type DocumentMutation struct {
	CollectionName string         `json:"cn"`
	Documents      []Document     `json:"ds,omitempty"`
	Masks          []DocumentMask `json:"ms,omitempty"`
	IDs            []int64        `json:"ids,omitempty"`
}

// DocumentDatabaseMutation carries the arguments of CreateDocumentDB.
type DocumentDatabaseMutation struct {
	Desc string `json:"d"`
}

// EventDatabaseMutation carries the arguments of CreateEventDB. Collections
// name the ABI events to mirror; the ABI itself is validated at application
// time.
type EventDatabaseMutation struct {
	ContractAddress string               `json:"ca"`
	TTL             int64                `json:"ttl"`
	Desc            string               `json:"d"`
	EventsJSONABI   string               `json:"abi"`
	EvmNodeURL      string               `json:"url"`
	StartBlock      uint64               `json:"sb"`
	Collections     []CollectionMutation `json:"cs"`
}

// BodyWrapper is a tagged union over the mutation body kinds. Exactly one
// arm must be set.
type BodyWrapper struct {
	Collection    *CollectionMutation       `json:"c,omitempty"`
	Document      *DocumentMutation         `json:"d,omitempty"`
	DocDatabase   *DocumentDatabaseMutation `json:"dd,omitempty"`
	EventDatabase *EventDatabaseMutation    `json:"ed,omitempty"`
}

func (w *BodyWrapper) armCount() (c int) {
	if w.Collection != nil {
		c++
	}
	if w.Document != nil {
		c++
	}
	if w.DocDatabase != nil {
		c++
	}
	if w.EventDatabase != nil {
		c++
	}
	return
}

// Mutation defines a single write submitted to the ordering service. The
// whole structure is the signed payload; nonce and network are covered by
// the signature so neither can be replayed across senders or deployments.
type Mutation struct {
	Action    Action                `json:"a"`
	DBAddress proto.DatabaseAddress `json:"db"`
	Nonce     uint64                `json:"n"`
	Network   proto.NetworkID       `json:"nw"`
	Bodies    []BodyWrapper         `json:"bs"`
}

// SanityCheck performs the structural checks of a decoded mutation: known
// action, at least one body, and every body arm matching the action. It does
// not touch any store state.
func (m *Mutation) SanityCheck() (err error) {
	if len(m.Bodies) == 0 {
		return errors.Wrap(ErrMutationMalformed, "no mutation body")
	}
	for i := range m.Bodies {
		w := &m.Bodies[i]
		if w.armCount() != 1 {
			return errors.Wrapf(ErrMutationMalformed, "body #%d sets %d arms", i, w.armCount())
		}
		switch m.Action {
		case ActionCreateDocumentDB:
			if w.DocDatabase == nil {
				return errors.Wrapf(ErrMutationMalformed, "body #%d is not a document database body", i)
			}
		case ActionCreateEventDB:
			if err = checkEventDatabaseBody(w.EventDatabase); err != nil {
				return errors.Wrapf(err, "body #%d", i)
			}
		case ActionAddCollection:
			if w.Collection == nil || w.Collection.CollectionName == "" {
				return errors.Wrapf(ErrMutationMalformed, "body #%d is not a named collection body", i)
			}
		case ActionAddDocument:
			if w.Document == nil || w.Document.CollectionName == "" || len(w.Document.Documents) == 0 {
				return errors.Wrapf(ErrMutationMalformed, "body #%d is not an insert body", i)
			}
		case ActionUpdateDocument:
			if w.Document == nil || w.Document.CollectionName == "" ||
				len(w.Document.Documents) == 0 || len(w.Document.Masks) != len(w.Document.Documents) {
				return errors.Wrapf(ErrMutationMalformed, "body #%d is not a masked update body", i)
			}
		case ActionDeleteDocument:
			if w.Document == nil || w.Document.CollectionName == "" || len(w.Document.IDs) == 0 {
				return errors.Wrapf(ErrMutationMalformed, "body #%d is not a delete body", i)
			}
		default:
			return errors.Wrapf(ErrMutationMalformed, "unknown action %d", m.Action)
		}
	}
	return
}

func checkEventDatabaseBody(b *EventDatabaseMutation) error {
	if b == nil {
		return errors.Wrap(ErrMutationMalformed, "not an event database body")
	}
	if b.ContractAddress == "" || b.EventsJSONABI == "" || b.EvmNodeURL == "" {
		return errors.Wrap(ErrMutationMalformed, "event database body misses contract, abi or node url")
	}
	if len(b.Collections) == 0 {
		return errors.Wrap(ErrMutationMalformed, "event database declares no collections")
	}
	for i := range b.Collections {
		if b.Collections[i].CollectionName == "" {
			return errors.Wrapf(ErrMutationMalformed, "event database collection #%d unnamed", i)
		}
	}
	return nil
}

// MutationHeader defines the metadata assigned to an accepted mutation by
// the ordering service. The id is a content hash of the body payload; DocIDs
// lists the document ids touched per collection so callers can address what
// they just wrote.
type MutationHeader struct {
	BlockID   uint64                `json:"b"`
	OrderID   uint32                `json:"o"`
	Sender    proto.AccountAddress  `json:"s"`
	Timestamp time.Time             `json:"t"`
	ID        hash.Hash             `json:"id"`
	Size      uint64                `json:"sz"`
	Nonce     uint64                `json:"n"`
	Network   proto.NetworkID       `json:"nw"`
	Action    Action                `json:"a"`
	DBAddress proto.DatabaseAddress `json:"db"`
	DocIDs    map[string][]int64    `json:"dids,omitempty"`
}

// Position returns the total-order key of the mutation.
func (h *MutationHeader) Position() proto.Position {
	return proto.Position{Block: h.BlockID, Order: h.OrderID}
}

// MutationBody is the wire form of a mutation: the canonical msgpack payload
// and a compact recoverable signature over the payload hash.
type MutationBody struct {
	Payload   []byte `json:"p"`
	Signature []byte `json:"s"`
}
