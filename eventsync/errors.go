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

import "github.com/pkg/errors"

var (
	// ErrInvalidConfig indicates an unusable event processor config.
	ErrInvalidConfig = errors.New("invalid event processor config")
	// ErrBadEventLog indicates a contract log that does not decode against
	// the declared event ABI. The owning batch is retried, never skipped.
	ErrBadEventLog = errors.New("bad contract event log")
)
