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

import "github.com/pkg/errors"

var (
	// ErrStoreClosed represents an access to an already closed store.
	ErrStoreClosed = errors.New("document store closed")
	// ErrDatabaseExists represents a create of an occupied database address.
	ErrDatabaseExists = errors.New("database already exists")
	// ErrDatabaseNotFound represents an access to an absent database.
	ErrDatabaseNotFound = errors.New("database not found")
	// ErrCollectionExists represents a create of an occupied collection name.
	ErrCollectionExists = errors.New("collection already exists")
	// ErrCollectionNotFound represents an access to an absent collection.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrDocumentExists represents an insert colliding with a stored id.
	ErrDocumentExists = errors.New("document already exists")
	// ErrDocumentNotFound represents an update of an absent document id.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrInvalidEventABI represents an event database body whose ABI does not
	// parse or does not declare the mirrored events.
	ErrInvalidEventABI = errors.New("invalid contract event abi")
)
