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
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/DocChain/docstore"
	"github.com/CovenantSQL/DocChain/mstore"
	"github.com/CovenantSQL/DocChain/proto"
	"github.com/CovenantSQL/DocChain/types"
	"github.com/CovenantSQL/DocChain/utils/log"
)

// Restorer rebuilds empty local stores from an archive: every segment is
// replayed in range order through the same append and apply discipline the
// ordering service uses, and its Done rollup record is recreated so the
// engine never re-archives a restored range.
type Restorer struct {
	network proto.NetworkID
	ms      *mstore.Store
	ds      *docstore.Store
	store   SegmentStore
}

// loadedSegment pairs a decoded segment with its locator and raw length for
// the recreated rollup record.
type loadedSegment struct {
	locator string
	size    uint64
	info    *Segment
	hs      []*types.MutationHeader
	bodies  []*types.MutationBody
}

// NewRestorer creates a restorer over the given stores.
func NewRestorer(network proto.NetworkID, ms *mstore.Store, ds *docstore.Store, store SegmentStore) (r *Restorer, err error) {
	if ms == nil || ds == nil || store == nil {
		err = errors.Wrap(ErrInvalidConfig, "nil store")
		return
	}
	r = &Restorer{
		network: network,
		ms:      ms,
		ds:      ds,
		store:   store,
	}
	return
}

// Restore replays the whole archive into the local stores and returns the
// number of restored mutations. It refuses to touch stores that already hold
// data and is a no-op on an empty archive.
func (r *Restorer) Restore(ctx context.Context) (restored int, err error) {
	if _, ok, lerr := r.ms.LastPosition(); lerr != nil {
		err = errors.Wrap(lerr, "probe mutation log failed")
		return
	} else if ok {
		err = errors.Wrap(ErrStoreNotEmpty, "mutation log not empty")
		return
	}
	if ap, aerr := r.ds.AppliedPosition(); aerr != nil {
		err = errors.Wrap(aerr, "probe document store failed")
		return
	} else if !ap.IsZero() {
		err = errors.Wrap(ErrStoreNotEmpty, "document store not empty")
		return
	}

	locators, err := r.store.List(ctx)
	if err != nil {
		err = errors.Wrap(err, "list archive failed")
		return
	}
	if len(locators) == 0 {
		return
	}

	segments := make([]*loadedSegment, 0, len(locators))
	for _, locator := range locators {
		var seg *loadedSegment
		if seg, err = r.load(ctx, locator); err != nil {
			return
		}
		segments = append(segments, seg)
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].info.StartBlock < segments[j].info.StartBlock
	})

	var prevEnd uint64
	for _, seg := range segments {
		if seg.info.StartBlock != prevEnd+1 {
			err = errors.Wrapf(ErrBadSegment,
				"archive not contiguous: [%d, %d] after block %d",
				seg.info.StartBlock, seg.info.EndBlock, prevEnd)
			return
		}
		prevEnd = seg.info.EndBlock
	}

	for _, seg := range segments {
		if err = r.replay(seg); err != nil {
			return
		}
		restored += len(seg.hs)
	}

	log.WithFields(log.Fields{
		"segments":  len(segments),
		"mutations": restored,
		"lastBlock": prevEnd,
	}).Info("restored local stores from archive")
	return
}

func (r *Restorer) load(ctx context.Context, locator string) (seg *loadedSegment, err error) {
	raw, err := r.store.Read(ctx, locator)
	if err != nil {
		err = errors.Wrapf(err, "read segment %s failed", locator)
		return
	}
	seg = &loadedSegment{
		locator: locator,
		size:    uint64(len(raw)),
	}
	if seg.info, seg.hs, seg.bodies, err = DecodeSegment(raw); err != nil {
		seg = nil
		err = errors.Wrapf(err, "decode segment %s failed", locator)
		return
	}
	if seg.info.Network != r.network {
		err = errors.Wrapf(types.ErrWrongNetwork,
			"segment %s network %d, node network %d", locator, seg.info.Network, r.network)
		seg = nil
	}
	return
}

// replay re-appends and re-applies one segment's mutations and recreates its
// Done rollup record.
func (r *Restorer) replay(seg *loadedSegment) (err error) {
	rec := &types.RollupRecord{
		StartBlock:     seg.info.StartBlock,
		EndBlock:       seg.info.EndBlock,
		Status:         types.RollupDone,
		SegmentID:      seg.locator,
		MutationCount:  uint64(len(seg.hs)),
		CompressedSize: seg.size,
		Time:           time.Now().UTC(),
	}

	for i, h := range seg.hs {
		b := seg.bodies[i]
		rec.RawSize += h.Size

		var m *types.Mutation
		if m, err = types.DecodeMutation(b.Payload); err != nil {
			return errors.Wrapf(err, "decode archived mutation %s failed", h.Position())
		}
		var st *docstore.Staged
		if st, err = r.ds.Prepare(m, h.Sender); err != nil {
			return errors.Wrapf(err, "restore mutation %s failed", h.Position())
		}
		if err = r.ms.Append(h, b); err != nil {
			return errors.Wrapf(err, "append archived mutation %s failed", h.Position())
		}
		if err = r.ds.Commit(st, h.Position()); err != nil {
			return errors.Wrapf(err, "commit archived mutation %s failed", h.Position())
		}
	}

	if err = r.ms.PutRollupRecord(rec); err != nil {
		err = errors.Wrapf(err, "record restored segment %s failed", rec.Range())
	}
	return
}
