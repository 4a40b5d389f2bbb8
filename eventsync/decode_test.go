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

package eventsync

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/DocChain/docstore"
)

const decodeABI = `[
 {"type":"event","name":"Transfer","inputs":[
  {"name":"from","type":"address","indexed":true},
  {"name":"to","type":"address","indexed":true},
  {"name":"value","type":"uint256","indexed":false}]},
 {"type":"event","name":"Adjusted","inputs":[
  {"name":"delta","type":"int256","indexed":true},
  {"name":"active","type":"bool","indexed":true},
  {"name":"tag","type":"bytes32","indexed":false},
  {"name":"memo","type":"string","indexed":false},
  {"name":"blob","type":"bytes","indexed":false}]}
]`

func TestEventDecoder(t *testing.T) {
	Convey("logs decode into stable documents", t, func() {
		parsed, err := abi.JSON(strings.NewReader(decodeABI))
		So(err, ShouldBeNil)
		transfer := parsed.Events["Transfer"]
		adjusted := parsed.Events["Adjusted"]

		d, err := newEventDecoder(decodeABI, []string{"Transfer", "Adjusted"})
		So(err, ShouldBeNil)

		from := common.HexToAddress("0x00000000000000000000000000000000000000a1")
		to := common.HexToAddress("0x00000000000000000000000000000000000000b2")
		data, err := transfer.Inputs.NonIndexed().Pack(big.NewInt(1000))
		So(err, ShouldBeNil)
		l := ethtypes.Log{
			Topics: []common.Hash{
				transfer.Id(),
				common.BytesToHash(from.Bytes()),
				common.BytesToHash(to.Bytes()),
			},
			Data:        data,
			BlockNumber: 4242,
			TxHash:      common.HexToHash("0x01"),
			Index:       7,
		}

		collection, doc, ok, err := d.decode(&l)
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)
		So(collection, ShouldEqual, "Transfer")
		So(doc.ID, ShouldEqual, int64(4242<<16|7))
		So(doc.Fields["from"], ShouldEqual, from.Hex())
		So(doc.Fields["to"], ShouldEqual, to.Hex())
		So(doc.Fields["value"], ShouldEqual, int64(1000))
		So(doc.Fields["block_number"], ShouldEqual, int64(4242))
		So(doc.Fields["log_index"], ShouldEqual, int64(7))
		So(doc.Fields["tx_hash"], ShouldEqual, l.TxHash.Hex())

		// decoding is pure, the same log yields the same document
		_, doc2, ok, err := d.decode(&l)
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)
		So(doc2, ShouldResemble, doc)

		// values beyond int64 fall back to decimal strings
		huge := new(big.Int).Lsh(big.NewInt(1), 70)
		data, err = transfer.Inputs.NonIndexed().Pack(huge)
		So(err, ShouldBeNil)
		l.Data = data
		_, doc, ok, err = d.decode(&l)
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)
		So(doc.Fields["value"], ShouldEqual, huge.String())

		// signed, boolean and byte inputs keep native or hex form
		tag := [32]byte{0xfe, 0xed}
		data, err = adjusted.Inputs.NonIndexed().Pack(tag, "rebalance", []byte{0xde, 0xad})
		So(err, ShouldBeNil)
		al := ethtypes.Log{
			Topics: []common.Hash{
				adjusted.Id(),
				common.BigToHash(ethmath.U256(big.NewInt(-42))),
				common.BigToHash(big.NewInt(1)),
			},
			Data:        data,
			BlockNumber: 4243,
			TxHash:      common.HexToHash("0x02"),
		}
		collection, doc, ok, err = d.decode(&al)
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)
		So(collection, ShouldEqual, "Adjusted")
		So(doc.ID, ShouldEqual, int64(4243<<16))
		So(doc.Fields["delta"], ShouldEqual, int64(-42))
		So(doc.Fields["active"], ShouldEqual, true)
		So(doc.Fields["tag"], ShouldEqual, hexutil.Encode(tag[:]))
		So(doc.Fields["memo"], ShouldEqual, "rebalance")
		So(doc.Fields["blob"], ShouldEqual, "0xdead")
	})
}

func TestEventDecoder_Rejects(t *testing.T) {
	Convey("unmirrored and malformed logs", t, func() {
		parsed, err := abi.JSON(strings.NewReader(decodeABI))
		So(err, ShouldBeNil)
		transfer := parsed.Events["Transfer"]

		// only Transfer is mirrored
		d, err := newEventDecoder(decodeABI, []string{"Transfer"})
		So(err, ShouldBeNil)

		_, _, ok, err := d.decode(&ethtypes.Log{BlockNumber: 1})
		So(err, ShouldBeNil)
		So(ok, ShouldBeFalse)

		_, _, ok, err = d.decode(&ethtypes.Log{
			Topics:      []common.Hash{parsed.Events["Adjusted"].Id()},
			BlockNumber: 1,
		})
		So(err, ShouldBeNil)
		So(ok, ShouldBeFalse)

		from := common.HexToAddress("0x00000000000000000000000000000000000000a1")
		_, _, _, err = d.decode(&ethtypes.Log{
			Topics:      []common.Hash{transfer.Id(), common.BytesToHash(from.Bytes())},
			BlockNumber: 1,
		})
		So(errors.Cause(err), ShouldEqual, ErrBadEventLog)

		data, err := transfer.Inputs.NonIndexed().Pack(big.NewInt(7))
		So(err, ShouldBeNil)
		_, _, _, err = d.decode(&ethtypes.Log{
			Topics: []common.Hash{
				transfer.Id(),
				common.BytesToHash(from.Bytes()),
				common.BytesToHash(from.Bytes()),
			},
			Data:        data[:8],
			BlockNumber: 1,
		})
		So(errors.Cause(err), ShouldEqual, ErrBadEventLog)
	})

	Convey("decoder construction validates the abi", t, func() {
		_, err := newEventDecoder("junk", []string{"Transfer"})
		So(errors.Cause(err), ShouldEqual, docstore.ErrInvalidEventABI)

		_, err = newEventDecoder(decodeABI, []string{"Nope"})
		So(errors.Cause(err), ShouldEqual, docstore.ErrInvalidEventABI)
	})
}
