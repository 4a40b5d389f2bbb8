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

package rollup

import (
	"bytes"
	"encoding/binary"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/DocChain/crypto/hash"
	"github.com/CovenantSQL/DocChain/proto"
	"github.com/CovenantSQL/DocChain/types"
	"github.com/CovenantSQL/DocChain/utils"
)

const (
	segmentMagic   = "DCSG"
	segmentVersion = uint16(1)
	// segment wire layout: magic, version, reserved, network, start block,
	// end block, then one snappy block of the msgpack encoded columns
	segmentHeaderSize = 4 + 2 + 2 + 8 + 8 + 8
)

// Segment describes the identity of a decoded archive segment.
type Segment struct {
	Version    uint16
	Network    proto.NetworkID
	StartBlock uint64
	EndBlock   uint64
}

// segmentColumns is the archived form of a log range: one column per header
// field plus the body columns, one row per mutation, in position order. Doc
// id maps are flattened into name-sorted pairs so a fixed range always
// encodes to the same bytes.
type segmentColumns struct {
	Blocks      []uint64                `json:"b"`
	Orders      []uint32                `json:"o"`
	Senders     []proto.AccountAddress  `json:"s"`
	Timestamps  []time.Time             `json:"t"`
	IDs         []hash.Hash             `json:"id"`
	Sizes       []uint64                `json:"sz"`
	Nonces      []uint64                `json:"n"`
	Networks    []proto.NetworkID       `json:"nw"`
	Actions     []types.Action          `json:"a"`
	DBs         []proto.DatabaseAddress `json:"db"`
	Collections [][]string              `json:"dc"`
	DocIDs      [][][]int64             `json:"di"`
	Payloads    [][]byte                `json:"p"`
	Signatures  [][]byte                `json:"sig"`
}

// EncodeSegment seals a contiguous log range into one archive segment.
// Encoding a fixed range is deterministic, so a retried rollup produces the
// same bytes and the same content address.
func EncodeSegment(network proto.NetworkID, startBlock, endBlock uint64, hs []*types.MutationHeader, bodies []*types.MutationBody) (segment []byte, err error) {
	if len(hs) != len(bodies) {
		err = errors.Wrapf(ErrBadSegment, "header count %d, body count %d", len(hs), len(bodies))
		return
	}
	if len(hs) == 0 {
		err = errors.Wrap(ErrBadSegment, "empty range")
		return
	}

	n := len(hs)
	cols := &segmentColumns{
		Blocks:      make([]uint64, n),
		Orders:      make([]uint32, n),
		Senders:     make([]proto.AccountAddress, n),
		Timestamps:  make([]time.Time, n),
		IDs:         make([]hash.Hash, n),
		Sizes:       make([]uint64, n),
		Nonces:      make([]uint64, n),
		Networks:    make([]proto.NetworkID, n),
		Actions:     make([]types.Action, n),
		DBs:         make([]proto.DatabaseAddress, n),
		Collections: make([][]string, n),
		DocIDs:      make([][][]int64, n),
		Payloads:    make([][]byte, n),
		Signatures:  make([][]byte, n),
	}
	for i, h := range hs {
		if h.BlockID < startBlock || h.BlockID > endBlock {
			err = errors.Wrapf(ErrBadSegment, "mutation %s outside range [%d, %d]",
				h.Position(), startBlock, endBlock)
			return
		}
		cols.Blocks[i] = h.BlockID
		cols.Orders[i] = h.OrderID
		cols.Senders[i] = h.Sender
		cols.Timestamps[i] = h.Timestamp
		cols.IDs[i] = h.ID
		cols.Sizes[i] = h.Size
		cols.Nonces[i] = h.Nonce
		cols.Networks[i] = h.Network
		cols.Actions[i] = h.Action
		cols.DBs[i] = h.DBAddress

		names := make([]string, 0, len(h.DocIDs))
		for name := range h.DocIDs {
			names = append(names, name)
		}
		sort.Strings(names)
		ids := make([][]int64, len(names))
		for j, name := range names {
			ids[j] = h.DocIDs[name]
		}
		cols.Collections[i] = names
		cols.DocIDs[i] = ids

		cols.Payloads[i] = bodies[i].Payload
		cols.Signatures[i] = bodies[i].Signature
	}

	var enc *bytes.Buffer
	if enc, err = utils.EncodeMsgPack(cols); err != nil {
		err = errors.Wrap(err, "encode segment columns failed")
		return
	}
	packed := snappy.Encode(nil, enc.Bytes())

	segment = make([]byte, segmentHeaderSize, segmentHeaderSize+len(packed))
	copy(segment, segmentMagic)
	binary.BigEndian.PutUint16(segment[4:], segmentVersion)
	binary.BigEndian.PutUint64(segment[8:], uint64(network))
	binary.BigEndian.PutUint64(segment[16:], startBlock)
	binary.BigEndian.PutUint64(segment[24:], endBlock)
	segment = append(segment, packed...)
	return
}

// DecodeSegment validates an archive segment and rebuilds its mutation rows
// in position order.
func DecodeSegment(segment []byte) (info *Segment, hs []*types.MutationHeader, bodies []*types.MutationBody, err error) {
	if len(segment) < segmentHeaderSize {
		err = errors.Wrapf(ErrBadSegment, "truncated header: %d bytes", len(segment))
		return
	}
	if string(segment[:4]) != segmentMagic {
		err = errors.Wrap(ErrBadSegment, "bad magic")
		return
	}
	version := binary.BigEndian.Uint16(segment[4:])
	if version == 0 || version > segmentVersion {
		err = errors.Wrapf(ErrBadSegment, "unsupported version %d", version)
		return
	}
	info = &Segment{
		Version:    version,
		Network:    proto.NetworkID(binary.BigEndian.Uint64(segment[8:])),
		StartBlock: binary.BigEndian.Uint64(segment[16:]),
		EndBlock:   binary.BigEndian.Uint64(segment[24:]),
	}

	raw, err := snappy.Decode(nil, segment[segmentHeaderSize:])
	if err != nil {
		info = nil
		err = errors.Wrapf(ErrBadSegment, "decompress: %v", err)
		return
	}
	cols := &segmentColumns{}
	if err = utils.DecodeMsgPack(raw, cols); err != nil {
		info = nil
		err = errors.Wrapf(ErrBadSegment, "decode columns: %v", err)
		return
	}

	n := len(cols.Blocks)
	if n == 0 ||
		len(cols.Orders) != n || len(cols.Senders) != n || len(cols.Timestamps) != n ||
		len(cols.IDs) != n || len(cols.Sizes) != n || len(cols.Nonces) != n ||
		len(cols.Networks) != n || len(cols.Actions) != n || len(cols.DBs) != n ||
		len(cols.Collections) != n || len(cols.DocIDs) != n ||
		len(cols.Payloads) != n || len(cols.Signatures) != n {
		info = nil
		err = errors.Wrap(ErrBadSegment, "column lengths diverge")
		return
	}

	hs = make([]*types.MutationHeader, n)
	bodies = make([]*types.MutationBody, n)
	var prev proto.Position
	for i := 0; i < n; i++ {
		if len(cols.Collections[i]) != len(cols.DocIDs[i]) {
			info, hs, bodies = nil, nil, nil
			err = errors.Wrapf(ErrBadSegment, "row %d doc id columns diverge", i)
			return
		}
		h := &types.MutationHeader{
			BlockID:   cols.Blocks[i],
			OrderID:   cols.Orders[i],
			Sender:    cols.Senders[i],
			Timestamp: cols.Timestamps[i],
			ID:        cols.IDs[i],
			Size:      cols.Sizes[i],
			Nonce:     cols.Nonces[i],
			Network:   cols.Networks[i],
			Action:    cols.Actions[i],
			DBAddress: cols.DBs[i],
		}
		if len(cols.Collections[i]) > 0 {
			h.DocIDs = make(map[string][]int64, len(cols.Collections[i]))
			for j, name := range cols.Collections[i] {
				h.DocIDs[name] = cols.DocIDs[i][j]
			}
		}

		pos := h.Position()
		if h.BlockID < info.StartBlock || h.BlockID > info.EndBlock {
			info, hs, bodies = nil, nil, nil
			err = errors.Wrapf(ErrBadSegment, "mutation %s outside range", pos)
			return
		}
		if i > 0 && !prev.Less(pos) {
			info, hs, bodies = nil, nil, nil
			err = errors.Wrapf(ErrBadSegment, "mutation order broken at %s", pos)
			return
		}
		prev = pos

		hs[i] = h
		bodies[i] = &types.MutationBody{
			Payload:   cols.Payloads[i],
			Signature: cols.Signatures[i],
		}
	}
	return
}
