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

// These limits bound per node resource use when the yaml config leaves them
// out. They never affect the stored history.
const (
	// MaxBlockMutations defines the early seal threshold of the open block.
	MaxBlockMutations = 4096
	// MaxSubmitQueueDepth defines the pending submission queue window.
	MaxSubmitQueueDepth = 1024
	// MaxSyncBatchSize defines the block span limit of one event log fetch.
	MaxSyncBatchSize = 256
)
