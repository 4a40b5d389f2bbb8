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
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/DocChain/docstore"
	"github.com/CovenantSQL/DocChain/types"
)

// eventDecoder translates contract logs into documents of the mirrored
// collections. Decoding is pure, so re-running it over the same logs always
// yields the same documents and ids.
type eventDecoder struct {
	events map[common.Hash]abi.Event
}

func newEventDecoder(jsonABI string, collections []string) (d *eventDecoder, err error) {
	parsed, err := abi.JSON(strings.NewReader(jsonABI))
	if err != nil {
		err = errors.Wrapf(docstore.ErrInvalidEventABI, "parse events abi failed: %v", err)
		return
	}
	d = &eventDecoder{
		events: make(map[common.Hash]abi.Event, len(collections)),
	}
	for _, name := range collections {
		ev, ok := parsed.Events[name]
		if !ok {
			d = nil
			err = errors.Wrapf(docstore.ErrInvalidEventABI, "no event %q in abi", name)
			return
		}
		d.events[ev.Id()] = ev
	}
	return
}

// eventDocID derives the stable document id of a log. Block number and log
// index identify a log for the life of the chain, so a re-driven range maps
// onto the very same ids.
func eventDocID(l *ethtypes.Log) int64 {
	return int64(l.BlockNumber<<16 | uint64(l.Index))
}

// decode translates one log into a document of the collection named after
// its event. ok is false for logs of events the database does not mirror.
func (d *eventDecoder) decode(l *ethtypes.Log) (collection string, doc types.Document, ok bool, err error) {
	if len(l.Topics) == 0 {
		return
	}
	ev, found := d.events[l.Topics[0]]
	if !found {
		return
	}

	fields := make(map[string]interface{}, len(ev.Inputs)+3)

	// indexed inputs live in the remaining topics, in declaration order
	topicIdx := 1
	for _, arg := range ev.Inputs {
		if !arg.Indexed {
			continue
		}
		if topicIdx >= len(l.Topics) {
			err = errors.Wrapf(ErrBadEventLog, "event %s log %d.%d misses topic %d",
				ev.Name, l.BlockNumber, l.Index, topicIdx)
			return
		}
		fields[arg.Name] = topicValue(arg.Type, l.Topics[topicIdx])
		topicIdx++
	}

	// the non-indexed inputs are abi packed in the data section
	values, uerr := ev.Inputs.UnpackValues(l.Data)
	if uerr != nil {
		err = errors.Wrapf(ErrBadEventLog, "unpack event %s log %d.%d failed: %v",
			ev.Name, l.BlockNumber, l.Index, uerr)
		return
	}
	for i, arg := range ev.Inputs.NonIndexed() {
		if i >= len(values) {
			break
		}
		fields[arg.Name] = fieldValue(values[i])
	}

	fields["block_number"] = int64(l.BlockNumber)
	fields["tx_hash"] = l.TxHash.Hex()
	fields["log_index"] = int64(l.Index)

	collection = ev.Name
	doc = types.Document{
		ID:     eventDocID(l),
		Fields: fields,
	}
	ok = true
	return
}

// topicValue decodes one indexed input from its topic. An indexed dynamic
// input carries only its hash on chain, which is kept in hex form.
func topicValue(t abi.Type, topic common.Hash) interface{} {
	switch t.T {
	case abi.AddressTy:
		return common.BytesToAddress(topic.Bytes()).Hex()
	case abi.UintTy:
		return bigValue(topic.Big())
	case abi.IntTy:
		return bigValue(ethmath.S256(topic.Big()))
	case abi.BoolTy:
		return topic.Big().Sign() != 0
	default:
		return topic.Hex()
	}
}

// fieldValue folds an unpacked abi value into a document field value. Numbers
// beyond the int64 range fall back to their decimal string form, byte blobs
// to hex, so every field stays scalar and indexable.
func fieldValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case *big.Int:
		return bigValue(tv)
	case common.Address:
		return tv.Hex()
	case common.Hash:
		return tv.Hex()
	case []byte:
		return hexutil.Encode(tv)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)
		return hexutil.Encode(b)
	}
	return v
}

func bigValue(v *big.Int) interface{} {
	if v.IsInt64() {
		return v.Int64()
	}
	return v.String()
}
