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

package asymmetric

import (
	ec "github.com/btcsuite/btcd/btcec"

	"github.com/CovenantSQL/DocChain/utils/log"
)

// PrivKeyBytesLen defines the length in bytes of a serialized private key.
const PrivKeyBytesLen = 32

// PrivateKey wraps an ec.PrivateKey as a convenience mainly for signing
// things with the private key without having to directly import the ec
// package.
type PrivateKey ec.PrivateKey

// PublicKey wraps an ec.PublicKey as a convenience mainly for verifying
// signatures with the public key without having to directly import the ec
// package.
type PublicKey ec.PublicKey

// GenSecp256k1KeyPair generates a private/public key pair on the secp256k1
// curve.
func GenSecp256k1KeyPair() (privateKey *PrivateKey, publicKey *PublicKey, err error) {
	pk, err := ec.NewPrivateKey(ec.S256())
	if err != nil {
		log.WithError(err).Error("private key generation failed")
		return
	}
	privateKey = (*PrivateKey)(pk)
	publicKey = privateKey.PubKey()
	return
}

// PrivKeyFromBytes returns a private and public key derived from the
// big-endian binary-encoded private key number pk.
func PrivKeyFromBytes(pk []byte) (*PrivateKey, *PublicKey) {
	priv, pub := ec.PrivKeyFromBytes(ec.S256(), pk)
	return (*PrivateKey)(priv), (*PublicKey)(pub)
}

// PubKey returns the public key corresponding to the private key.
func (p *PrivateKey) PubKey() *PublicKey {
	return (*PublicKey)((*ec.PrivateKey)(p).PubKey())
}

// Serialize returns the private key number d as a big-endian binary-encoded
// number, padded to a length of 32 bytes.
func (p *PrivateKey) Serialize() []byte {
	b := make([]byte, 0, PrivKeyBytesLen)
	return paddedAppend(PrivKeyBytesLen, b, p.D.Bytes())
}

// Serialize returns the public key in the 33-byte compressed format.
func (p *PublicKey) Serialize() []byte {
	return (*ec.PublicKey)(p).SerializeCompressed()
}

// IsEqual returns true if target has the same curve point as the public key.
func (p *PublicKey) IsEqual(target *PublicKey) bool {
	if p == nil || target == nil {
		return p == target
	}
	return p.X.Cmp(target.X) == 0 && p.Y.Cmp(target.Y) == 0
}

// ParsePubKey parses a public key from its compressed, uncompressed or
// hybrid serialization.
func ParsePubKey(pubKeyStr []byte) (*PublicKey, error) {
	pub, err := ec.ParsePubKey(pubKeyStr, ec.S256())
	return (*PublicKey)(pub), err
}

// paddedAppend appends the src byte slice to dst, returning the new slice.
// If the length of the source is smaller than the passed size, leading zero
// bytes are appended to the dst slice before appending src.
func paddedAppend(size uint, dst, src []byte) []byte {
	for i := 0; i < int(size)-len(src); i++ {
		dst = append(dst, 0)
	}
	return append(dst, src...)
}
