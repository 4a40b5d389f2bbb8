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

// Package proto contains the node-level identifiers shared by every other
// package: account addresses, database addresses and mutation positions.
package proto

import (
	"encoding/binary"

	"github.com/CovenantSQL/DocChain/crypto/hash"
)

// NetworkID distinguishes mutation payloads of different deployments. A
// mutation signed for one network is rejected by nodes of another.
type NetworkID uint64

// AccountAddress is the identity of a mutation sender, derived from the
// sender's public key.
type AccountAddress hash.Hash

// String implements the fmt.Stringer interface.
func (z AccountAddress) String() string {
	return hash.Hash(z).String()
}

// MarshalJSON implements the json.Marshaler interface.
func (z AccountAddress) MarshalJSON() ([]byte, error) {
	return hash.Hash(z).MarshalJSON()
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (z *AccountAddress) UnmarshalJSON(data []byte) error {
	return (*hash.Hash)(z).UnmarshalJSON(data)
}

// MarshalYAML implements the yaml.Marshaler interface.
func (z AccountAddress) MarshalYAML() (interface{}, error) {
	return hash.Hash(z).MarshalYAML()
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (z *AccountAddress) UnmarshalYAML(unmarshal func(interface{}) error) error {
	return (*hash.Hash)(z).UnmarshalYAML(unmarshal)
}

// ParseAccountAddress parses the hex form of an account address.
func ParseAccountAddress(addr string) (z AccountAddress, err error) {
	err = hash.Decode((*hash.Hash)(&z), addr)
	return
}

// DatabaseAddress identifies a document database or an event database on a
// node.
type DatabaseAddress hash.Hash

// String implements the fmt.Stringer interface.
func (z DatabaseAddress) String() string {
	return hash.Hash(z).String()
}

// MarshalJSON implements the json.Marshaler interface.
func (z DatabaseAddress) MarshalJSON() ([]byte, error) {
	return hash.Hash(z).MarshalJSON()
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (z *DatabaseAddress) UnmarshalJSON(data []byte) error {
	return (*hash.Hash)(z).UnmarshalJSON(data)
}

// MarshalYAML implements the yaml.Marshaler interface.
func (z DatabaseAddress) MarshalYAML() (interface{}, error) {
	return hash.Hash(z).MarshalYAML()
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (z *DatabaseAddress) UnmarshalYAML(unmarshal func(interface{}) error) error {
	return (*hash.Hash)(z).UnmarshalYAML(unmarshal)
}

// ParseDatabaseAddress parses the hex form of a database address.
func ParseDatabaseAddress(addr string) (z DatabaseAddress, err error) {
	err = hash.Decode((*hash.Hash)(&z), addr)
	return
}

// NewDatabaseAddress derives the address of the database created by the
// sender's mutation carrying nonce on the given network. Derivation is
// deterministic so replaying the creating mutation always rebuilds the same
// address, and distinct without nonce reuse.
func NewDatabaseAddress(sender AccountAddress, nonce uint64, network NetworkID) DatabaseAddress {
	buf := make([]byte, hash.HashSize+16)
	copy(buf, sender[:])
	binary.BigEndian.PutUint64(buf[hash.HashSize:], nonce)
	binary.BigEndian.PutUint64(buf[hash.HashSize+8:], uint64(network))
	return DatabaseAddress(hash.THashH(buf))
}

// DatabaseSyncerAddress derives the reserved account under which contract
// events of the given event database are written. Keeping synthetic mutations
// on their own per-database identity gives them an independent nonce lane.
func DatabaseSyncerAddress(db DatabaseAddress) AccountAddress {
	buf := make([]byte, 0, len(syncerAddressTag)+hash.HashSize)
	buf = append(buf, syncerAddressTag...)
	buf = append(buf, db[:]...)
	return AccountAddress(hash.THashH(buf))
}

var syncerAddressTag = []byte("eventsync/")
