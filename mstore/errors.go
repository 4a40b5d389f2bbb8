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

package mstore

import "github.com/pkg/errors"

var (
	// ErrStoreClosed represents an access to an already closed store.
	ErrStoreClosed = errors.New("mutation store closed")
	// ErrInvalidMutation represents an append of a nil header or body.
	ErrInvalidMutation = errors.New("invalid mutation record")
	// ErrAlreadyExists represents an append to an occupied log position.
	ErrAlreadyExists = errors.New("log position already exists")
	// ErrNotExists represents a read of an absent log position.
	ErrNotExists = errors.New("log position not exists")
)
