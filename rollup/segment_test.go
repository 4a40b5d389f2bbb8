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
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/DocChain/crypto/hash"
	"github.com/CovenantSQL/DocChain/proto"
	"github.com/CovenantSQL/DocChain/types"
)

const testNetwork proto.NetworkID = 1

func testRows(start, end uint64, perBlock int) (hs []*types.MutationHeader, bodies []*types.MutationBody) {
	var nonce uint64
	for block := start; block <= end; block++ {
		for order := 0; order < perBlock; order++ {
			nonce++
			payload := []byte(fmt.Sprintf("payload-%d-%d", block, order))
			var sender proto.AccountAddress
			sender[0] = byte(block)
			h := &types.MutationHeader{
				BlockID:   block,
				OrderID:   uint32(order),
				Sender:    sender,
				Timestamp: time.Unix(1600000000+int64(nonce), 0).UTC(),
				ID:        hash.THashH(payload),
				Size:      uint64(len(payload)),
				Nonce:     nonce,
				Network:   testNetwork,
				Action:    types.ActionAddDocument,
				DBAddress: proto.NewDatabaseAddress(sender, 1, testNetwork),
			}
			if nonce%2 == 0 {
				h.DocIDs = map[string][]int64{
					"users":  {int64(nonce)},
					"events": {int64(nonce), int64(nonce) + 1},
				}
			}
			hs = append(hs, h)
			bodies = append(bodies, &types.MutationBody{
				Payload:   payload,
				Signature: make([]byte, 65),
			})
		}
	}
	return
}

func TestSegmentCodec(t *testing.T) {
	Convey("segments roundtrip and stay deterministic", t, func() {
		hs, bodies := testRows(3, 5, 2)

		seg, err := EncodeSegment(testNetwork, 3, 5, hs, bodies)
		So(err, ShouldBeNil)
		So(len(seg), ShouldBeGreaterThan, segmentHeaderSize)

		info, gh, gb, err := DecodeSegment(seg)
		So(err, ShouldBeNil)
		So(info.Version, ShouldEqual, segmentVersion)
		So(info.Network, ShouldEqual, testNetwork)
		So(info.StartBlock, ShouldEqual, 3)
		So(info.EndBlock, ShouldEqual, 5)
		So(gh, ShouldHaveLength, len(hs))
		So(gb, ShouldHaveLength, len(bodies))
		for i := range hs {
			So(gh[i].Position(), ShouldResemble, hs[i].Position())
			So(gh[i].Sender, ShouldResemble, hs[i].Sender)
			So(gh[i].Timestamp.Equal(hs[i].Timestamp), ShouldBeTrue)
			So(gh[i].ID, ShouldResemble, hs[i].ID)
			So(gh[i].Size, ShouldEqual, hs[i].Size)
			So(gh[i].Nonce, ShouldEqual, hs[i].Nonce)
			So(gh[i].Network, ShouldEqual, hs[i].Network)
			So(gh[i].Action, ShouldEqual, hs[i].Action)
			So(gh[i].DBAddress, ShouldResemble, hs[i].DBAddress)
			So(gh[i].DocIDs, ShouldResemble, hs[i].DocIDs)
			So(gb[i].Payload, ShouldResemble, bodies[i].Payload)
			So(gb[i].Signature, ShouldResemble, bodies[i].Signature)
		}

		// a fixed range always encodes to the same bytes
		seg2, err := EncodeSegment(testNetwork, 3, 5, hs, bodies)
		So(err, ShouldBeNil)
		So(seg2, ShouldResemble, seg)
	})

	Convey("malformed inputs are refused", t, func() {
		hs, bodies := testRows(3, 5, 2)

		_, err := EncodeSegment(testNetwork, 3, 5, hs[:1], bodies)
		So(errors.Cause(err), ShouldEqual, ErrBadSegment)

		_, err = EncodeSegment(testNetwork, 3, 5, nil, nil)
		So(errors.Cause(err), ShouldEqual, ErrBadSegment)

		// block 3 rows fall outside a [4, 5] segment
		_, err = EncodeSegment(testNetwork, 4, 5, hs, bodies)
		So(errors.Cause(err), ShouldEqual, ErrBadSegment)
	})
}

func TestSegmentCodec_Corruption(t *testing.T) {
	Convey("corrupted segments are refused", t, func() {
		hs, bodies := testRows(1, 2, 1)
		seg, err := EncodeSegment(testNetwork, 1, 2, hs, bodies)
		So(err, ShouldBeNil)

		_, _, _, err = DecodeSegment(seg[:10])
		So(errors.Cause(err), ShouldEqual, ErrBadSegment)

		bad := append([]byte(nil), seg...)
		copy(bad, "XXXX")
		_, _, _, err = DecodeSegment(bad)
		So(errors.Cause(err), ShouldEqual, ErrBadSegment)

		bad = append([]byte(nil), seg...)
		binary.BigEndian.PutUint16(bad[4:], segmentVersion+1)
		_, _, _, err = DecodeSegment(bad)
		So(errors.Cause(err), ShouldEqual, ErrBadSegment)

		bad = append([]byte(nil), seg[:segmentHeaderSize]...)
		bad = append(bad, []byte("not snappy data")...)
		_, _, _, err = DecodeSegment(bad)
		So(errors.Cause(err), ShouldEqual, ErrBadSegment)
	})
}
