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
	"encoding/binary"
	"math"
)

// Index value type tags. The tag leads the encoded value so different value
// types land in disjoint, stably ordered key ranges.
const (
	tagNil byte = iota
	tagBool
	tagInt
	tagFloat
	tagString
)

const signBit = uint64(1) << 63

// normalizeValue folds the integer and float families into int64 and float64
// so that a value compares and encodes the same no matter which concrete type
// the decoder produced. Non-scalar values pass through untouched and stay
// outside the index and the filter comparisons.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		return t
	case string:
		return t
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return normalizeValue(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		if t > math.MaxInt64 {
			return float64(t)
		}
		return int64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	default:
		return v
	}
}

// encodeValueKey encodes a normalized scalar into bytes whose memcmp order
// equals the value order within its type. ok is false for non-scalar values.
func encodeValueKey(v interface{}) (key []byte, ok bool) {
	switch t := v.(type) {
	case nil:
		return []byte{tagNil}, true
	case bool:
		if t {
			return []byte{tagBool, 1}, true
		}
		return []byte{tagBool, 0}, true
	case int64:
		key = make([]byte, 9)
		key[0] = tagInt
		binary.BigEndian.PutUint64(key[1:], uint64(t)^signBit)
		return key, true
	case float64:
		bits := math.Float64bits(t)
		if bits&signBit != 0 {
			bits = ^bits
		} else {
			bits |= signBit
		}
		key = make([]byte, 9)
		key[0] = tagFloat
		binary.BigEndian.PutUint64(key[1:], bits)
		return key, true
	case string:
		key = make([]byte, 1+len(t))
		key[0] = tagString
		copy(key[1:], t)
		return key, true
	default:
		return nil, false
	}
}

// compareValues orders two normalized values. ok is false when the values are
// of different types or not scalars, in which case no filter matches. The
// integer and float buckets stay separate on purpose so that a scan and an
// index lookup always agree on what a filter selects.
func compareValues(a, b interface{}) (c int, ok bool) {
	switch av := a.(type) {
	case nil:
		if b == nil {
			return 0, true
		}
	case bool:
		if bv, match := b.(bool); match {
			switch {
			case av == bv:
				return 0, true
			case bv:
				return -1, true
			default:
				return 1, true
			}
		}
	case int64:
		if bv, match := b.(int64); match {
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			default:
				return 0, true
			}
		}
	case float64:
		if bv, match := b.(float64); match {
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			default:
				return 0, true
			}
		}
	case string:
		if bv, match := b.(string); match {
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	return 0, false
}

// idBytes encodes a document id into 8 sign-flipped big-endian bytes so ids
// order correctly inside document and index keys.
func idBytes(id int64) (b []byte) {
	b = make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id)^signBit)
	return
}

func idFromBytes(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ signBit)
}
