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
	"fmt"
	"time"
)

// RollupStatus enumerates the lifecycle stages of a rollup range.
type RollupStatus int32

const (
	// RollupPending defines a selected range not yet written externally.
	RollupPending RollupStatus = iota
	// RollupDoing defines a range whose external write is in flight.
	RollupDoing
	// RollupDone defines a range durably archived externally.
	RollupDone
)

// String implements fmt.Stringer for logging purpose.
func (s RollupStatus) String() string {
	switch s {
	case RollupPending:
		return "Pending"
	case RollupDoing:
		return "Doing"
	case RollupDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// RollupRecord tracks one rollup range through its lifecycle. Block bounds
// are inclusive. SegmentID holds the external locator once the range is
// Done; must stay empty before that.
type RollupRecord struct {
	StartBlock     uint64       `json:"sb"`
	EndBlock       uint64       `json:"eb"`
	Status         RollupStatus `json:"st"`
	SegmentID      string       `json:"sid,omitempty"`
	MutationCount  uint64       `json:"mc"`
	RawSize        uint64       `json:"rs"`
	CompressedSize uint64       `json:"cs"`
	Time           time.Time    `json:"t"`
	Retries        uint32       `json:"r"`
}

// Range returns the record's block range for logging purpose.
func (r *RollupRecord) Range() string {
	return fmt.Sprintf("[%d, %d]", r.StartBlock, r.EndBlock)
}

// GCRecord notes a range of sealed log entries removed from the local log
// after their archive was confirmed durable.
type GCRecord struct {
	StartBlock uint64    `json:"sb"`
	EndBlock   uint64    `json:"eb"`
	DataSize   uint64    `json:"ds"`
	Time       time.Time `json:"t"`
}

// ContractSyncStatus reports the persisted watermark of one contract event
// syncer: the last fully processed block and the cumulative count of events
// written so far.
type ContractSyncStatus struct {
	ContractAddress string `json:"ca"`
	EvmNodeURL      string `json:"url"`
	BlockNumber     uint64 `json:"bn"`
	EventNumber     uint64 `json:"en"`
}
