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
	"github.com/pkg/errors"

	"github.com/CovenantSQL/DocChain/crypto"
	"github.com/CovenantSQL/DocChain/crypto/asymmetric"
	"github.com/CovenantSQL/DocChain/crypto/hash"
	"github.com/CovenantSQL/DocChain/proto"
	"github.com/CovenantSQL/DocChain/utils"
)

// SignMutation encodes the mutation and signs the payload hash with the
// private key, producing the wire form accepted by VerifyMutationBody.
func SignMutation(m *Mutation, signer *asymmetric.PrivateKey) (body *MutationBody, err error) {
	if err = m.SanityCheck(); err != nil {
		return
	}
	buf, err := utils.EncodeMsgPack(m)
	if err != nil {
		err = errors.Wrap(err, "encode mutation")
		return
	}
	payload := buf.Bytes()
	sig, err := asymmetric.SignCompact(signer, hash.THashB(payload))
	if err != nil {
		err = errors.Wrap(err, "sign mutation payload")
		return
	}
	body = &MutationBody{
		Payload:   payload,
		Signature: sig,
	}
	return
}

// DecodeMutation decodes a mutation payload and runs the structural checks.
// No signature is involved; the syncer path uses it directly.
func DecodeMutation(payload []byte) (m *Mutation, err error) {
	if len(payload) == 0 {
		err = errors.Wrap(ErrMutationMalformed, "empty payload")
		return
	}
	m = &Mutation{}
	if err = utils.DecodeMsgPack(payload, m); err != nil {
		err = errors.Wrapf(ErrMutationMalformed, "decode mutation: %v", err)
		m = nil
		return
	}
	if err = m.SanityCheck(); err != nil {
		m = nil
		return
	}
	return
}

// VerifyMutationBody decodes the payload, checks its structure and recovers
// the sender from the compact signature. Pure function of its input: no store
// or log state is consulted, so rejected bodies leave nothing behind.
func VerifyMutationBody(body *MutationBody) (m *Mutation, sender proto.AccountAddress, err error) {
	if body == nil {
		err = errors.Wrap(ErrMutationMalformed, "nil mutation body")
		return
	}
	if m, err = DecodeMutation(body.Payload); err != nil {
		return
	}
	if len(body.Signature) != asymmetric.CompactSigSize {
		m = nil
		err = errors.Wrapf(ErrInvalidSignature, "signature length %d", len(body.Signature))
		return
	}
	signee, _, err := asymmetric.RecoverCompact(body.Signature, hash.THashB(body.Payload))
	if err != nil {
		m = nil
		err = errors.Wrapf(ErrInvalidSignature, "recover signee: %v", err)
		return
	}
	if sender, err = crypto.PubKeyHash(signee); err != nil {
		m = nil
		err = errors.Wrapf(ErrInvalidSignature, "hash signee: %v", err)
		return
	}
	return
}
