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

package chain

import "github.com/pkg/errors"

var (
	// ErrInvalidConfig indicates an unusable ordering service config.
	ErrInvalidConfig = errors.New("invalid chain config")
	// ErrStopped indicates the ordering service is not running.
	ErrStopped = errors.New("chain is stopped")
	// ErrHalted indicates the service refused further mutations after a
	// mutation was durably appended but could not be applied. Restarting the
	// node replays the log tail and clears the condition.
	ErrHalted = errors.New("chain halted, log ahead of document store")
	// ErrNonceTooLow indicates a mutation nonce at or below the sender's
	// last accepted one. The caller must resubmit with a fresh nonce.
	ErrNonceTooLow = errors.New("mutation nonce too low")
)
