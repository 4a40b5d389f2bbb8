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

import "github.com/pkg/errors"

var (
	// ErrInvalidConfig indicates an unusable rollup engine config.
	ErrInvalidConfig = errors.New("invalid rollup config")
	// ErrBadSegment indicates an archive segment that fails structural or
	// checksum validation.
	ErrBadSegment = errors.New("bad archive segment")
	// ErrSegmentNotFound indicates an unknown segment locator.
	ErrSegmentNotFound = errors.New("archive segment not found")
	// ErrStoreNotEmpty indicates a restore attempt over local state that
	// already holds mutations.
	ErrStoreNotEmpty = errors.New("local stores not empty")
)
