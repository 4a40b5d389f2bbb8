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
	"errors"
)

var (
	// ErrMutationMalformed indicates an undecodable or structurally invalid
	// mutation payload. Never retried, rejected to the caller.
	ErrMutationMalformed = errors.New("mutation payload malformed")
	// ErrInvalidSignature indicates a mutation body signature that does not
	// recover to a valid sender.
	ErrInvalidSignature = errors.New("invalid mutation signature")
	// ErrWrongNetwork indicates a mutation signed for another deployment.
	ErrWrongNetwork = errors.New("mutation belongs to another network")
)
