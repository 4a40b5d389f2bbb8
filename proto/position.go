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

package proto

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// PositionBytesLen is the length of the binary position codec.
const PositionBytesLen = 12

// Position is the (block, order) pair assigned to every applied mutation.
// Lexicographic comparison of positions is the total order of the mutation
// log.
type Position struct {
	Block uint64 `yaml:"Block"`
	Order uint32 `yaml:"Order"`
}

// String implements the fmt.Stringer interface.
func (p Position) String() string {
	return fmt.Sprintf("%d/%d", p.Block, p.Order)
}

// Less returns true if p orders strictly before q.
func (p Position) Less(q Position) bool {
	if p.Block != q.Block {
		return p.Block < q.Block
	}
	return p.Order < q.Order
}

// IsZero returns true for the zero position, which orders before any applied
// mutation.
func (p Position) IsZero() bool {
	return p.Block == 0 && p.Order == 0
}

// Bytes returns the 12-byte big-endian codec of the position. Byte order of
// encoded positions matches their total order, which keeps range scans over
// position-keyed tables in log order.
func (p Position) Bytes() []byte {
	buf := make([]byte, PositionBytesLen)
	binary.BigEndian.PutUint64(buf[0:8], p.Block)
	binary.BigEndian.PutUint32(buf[8:12], p.Order)
	return buf
}

// PositionFromBytes decodes a position from its binary codec.
func PositionFromBytes(b []byte) (p Position, err error) {
	if len(b) != PositionBytesLen {
		err = errors.Errorf("invalid position length %d", len(b))
		return
	}
	p.Block = binary.BigEndian.Uint64(b[0:8])
	p.Order = binary.BigEndian.Uint32(b[8:12])
	return
}
