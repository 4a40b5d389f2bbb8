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

// FilterOp enumerates the comparison operators of a query filter.
type FilterOp int32

const (
	// FilterEqual matches documents whose field equals the value. The only
	// operator eligible for index scans.
	FilterEqual FilterOp = iota
	// FilterNotEqual matches documents whose field differs from the value.
	FilterNotEqual
	// FilterGreater matches documents whose field orders after the value.
	FilterGreater
	// FilterGreaterEqual matches documents whose field orders after or equals
	// the value.
	FilterGreaterEqual
	// FilterLess matches documents whose field orders before the value.
	FilterLess
	// FilterLessEqual matches documents whose field orders before or equals
	// the value.
	FilterLessEqual
)

// String implements fmt.Stringer for logging purpose.
func (op FilterOp) String() string {
	switch op {
	case FilterEqual:
		return "=="
	case FilterNotEqual:
		return "!="
	case FilterGreater:
		return ">"
	case FilterGreaterEqual:
		return ">="
	case FilterLess:
		return "<"
	case FilterLessEqual:
		return "<="
	default:
		return "?"
	}
}

// Filter matches a document field against a value.
type Filter struct {
	Field string      `json:"f"`
	Op    FilterOp    `json:"op"`
	Value interface{} `json:"v"`
}

// Query selects documents of a collection. All filters must match
// (conjunction). A non-positive limit returns every match.
type Query struct {
	Filters []Filter `json:"fs,omitempty"`
	Limit   int64    `json:"l,omitempty"`
}

// QueryResult carries the documents matched by a query.
type QueryResult struct {
	Documents []*Document `json:"ds"`
	Count     int64       `json:"c"`
}
