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

/*
Package asymmetric is a wrapper of btcsuite's secp256k1 package, except that
it only exports the types and functions used by the mutation pipeline.

Koblitz curve cryptography (specifically secp256k1) is used for signing
mutation bodies and for deriving account addresses from public keys. Compact
recoverable signatures allow the signee to be recovered from the signature
itself so mutations carry no explicit public key.
*/
package asymmetric
