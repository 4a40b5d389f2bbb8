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

package conf

import "time"

// These parameters pace the local pipeline. They are safe to change between
// restarts, the stored history never depends on them.
const (
	// BlockInterval is the wall clock distance between block seals.
	BlockInterval = 10 * time.Second
	// RollupInterval is the wall clock distance between rollup rounds.
	RollupInterval = time.Minute
	// SyncInterval is the poll distance of contract event processors.
	SyncInterval = 10 * time.Second
	// WriteRetryWindow bounds the backoff retries of one archive write.
	WriteRetryWindow = 2 * time.Minute
	// FetchRetryWindow bounds the backoff retries of one evm node call.
	FetchRetryWindow = 30 * time.Second
)
