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
	"crypto/ecdsa"
	"math/big"

	ec "github.com/btcsuite/btcd/btcec"
)

// CompactSigSize is the size in bytes of a compact recoverable signature:
// 1 byte recovery header plus 32-byte R and 32-byte S values.
const CompactSigSize = 65

// Signature is a type representing an ecdsa signature.
type Signature struct {
	R *big.Int
	S *big.Int
}

// Serialize converts a signature to the DER format.
func (s *Signature) Serialize() []byte {
	return (*ec.Signature)(s).Serialize()
}

// ParseSignature recovers the signature from sigStr in the DER format.
func ParseSignature(sigStr []byte) (*Signature, error) {
	sig, err := ec.ParseDERSignature(sigStr, ec.S256())
	return (*Signature)(sig), err
}

// IsEqual returns true if both signatures are equivalent.
func (s *Signature) IsEqual(signature *Signature) bool {
	return (*ec.Signature)(s).IsEqual((*ec.Signature)(signature))
}

// Sign generates an ECDSA signature for the provided hash (which should be
// the result of hashing a larger message) using the private key. Produced
// signature is deterministic (same message and same key yield the same
// signature) and canonical in accordance with RFC6979 and BIP0062.
func (p *PrivateKey) Sign(hash []byte) (*Signature, error) {
	s, e := (*ec.PrivateKey)(p).Sign(hash)
	return (*Signature)(s), e
}

// Verify calls ecdsa.Verify to verify the signature of hash using the public
// key. It returns true if the signature is valid, false otherwise.
func (s *Signature) Verify(hash []byte, signee *PublicKey) bool {
	if s == nil || signee == nil {
		return false
	}
	return ecdsa.Verify((*ecdsa.PublicKey)(signee), hash, s.R, s.S)
}

// SignCompact produces a 65-byte compact recoverable signature of hash using
// the private key. The signee public key can later be recovered from the
// signature with RecoverCompact.
func SignCompact(p *PrivateKey, hash []byte) ([]byte, error) {
	return ec.SignCompact(ec.S256(), (*ec.PrivateKey)(p), hash, true)
}

// RecoverCompact recovers the public key which produced signature from hash.
// It also reports whether the signee serializes its public key in the
// compressed format.
func RecoverCompact(signature, hash []byte) (signee *PublicKey, compressed bool, err error) {
	pub, compressed, err := ec.RecoverCompact(ec.S256(), signature, hash)
	if err != nil {
		return
	}
	signee = (*PublicKey)(pub)
	return
}
