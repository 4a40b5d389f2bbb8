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

package hash

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	yaml "gopkg.in/yaml.v2"
)

var sampleDigest = Hash([HashSize]byte{ // Make go vet happy.
	0x6f, 0xe2, 0x8c, 0x0a, 0xb6, 0xf1, 0xb3, 0x72,
	0xc1, 0xa6, 0xa2, 0x46, 0xae, 0x63, 0xf7, 0x4f,
	0x93, 0x1e, 0x83, 0x65, 0xe1, 0x5a, 0x08, 0x9c,
	0x68, 0xd6, 0x19, 0x00, 0x00, 0x00, 0x00, 0x00,
})

// TestHash tests the Hash API.
func TestHash(t *testing.T) {
	digestStr := "14a0810ac680a3eb3f82edc878cea25ec41d6b790744e5daeef"
	digest, err := NewHashFromStr(digestStr)
	if err != nil {
		t.Errorf("NewHashFromStr: %v", err)
	}

	buf := []byte{
		0x79, 0xa6, 0x1a, 0xdb, 0xc6, 0xe5, 0xa2, 0xe1,
		0x39, 0xd2, 0x71, 0x3a, 0x54, 0x6e, 0xc7, 0xc8,
		0x75, 0x63, 0x2e, 0x75, 0xf1, 0xdf, 0x9c, 0x3f,
		0xa6, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}

	hash, err := NewHash(buf)
	if err != nil {
		t.Errorf("NewHash: unexpected error %v", err)
	}

	// Ensure proper size.
	if len(hash) != HashSize {
		t.Errorf("NewHash: hash length mismatch - got: %v, want: %v",
			len(hash), HashSize)
	}

	// Ensure contents match.
	if !bytes.Equal(hash[:], buf) {
		t.Errorf("NewHash: hash contents mismatch - got: %v, want: %v",
			hash[:], buf)
	}

	// Ensure the two digests don't match.
	if hash.IsEqual(digest) {
		t.Errorf("IsEqual: hash contents should not match - got: %v, want: %v",
			hash, digest)
	}

	// Set hash from byte slice and ensure contents match.
	err = hash.SetBytes(digest.CloneBytes())
	if err != nil {
		t.Errorf("SetBytes: %v", err)
	}
	if !hash.IsEqual(digest) {
		t.Errorf("IsEqual: hash contents mismatch - got: %v, want: %v",
			hash, digest)
	}

	// Ensure nil hashes are handled properly.
	if !(*Hash)(nil).IsEqual(nil) {
		t.Error("IsEqual: nil hashes should match")
	}
	if hash.IsEqual(nil) {
		t.Error("IsEqual: non-nil hash matches nil hash")
	}

	// Invalid size for SetBytes.
	err = hash.SetBytes([]byte{0x00})
	if err == nil {
		t.Error("SetBytes: failed to received expected err - got: nil")
	}

	// Invalid size for NewHash.
	invalidHash := make([]byte, HashSize+1)
	_, err = NewHash(invalidHash)
	if err == nil {
		t.Error("NewHash: failed to received expected err - got: nil")
	}
}

// TestHashString tests the stringized output for hashes.
func TestHashString(t *testing.T) {
	wantStr := "000000000003ba27aa200b1cecaad478d2b00432346c3f1f3986da1afd33e506"
	hash := Hash([HashSize]byte{ // Make go vet happy.
		0x06, 0xe5, 0x33, 0xfd, 0x1a, 0xda, 0x86, 0x39,
		0x1f, 0x3f, 0x6c, 0x34, 0x32, 0x04, 0xb0, 0xd2,
		0x78, 0xd4, 0xaa, 0xec, 0x1c, 0x0b, 0x20, 0xaa,
		0x27, 0xba, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00,
	})

	hashStr := hash.String()
	if hashStr != wantStr {
		t.Errorf("string: wrong hash string - got %v, want %v",
			hashStr, wantStr)
	}
	for n := 0; n < 2*HashSize; n++ {
		var l = HashSize
		if n < l {
			l = n
		}
		expect := string([]byte(wantStr)[:2*l])
		actual := hash.Short(n)
		if expect != actual {
			t.Errorf("short result mismatched: expect=%s actual=%s", expect, actual)
		}
	}
}

// TestNewHashFromStr executes tests against the NewHashFromStr function.
func TestNewHashFromStr(t *testing.T) {
	tests := []struct {
		in   string
		want Hash
		err  error
	}{
		// Full length hash.
		{
			"000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f",
			sampleDigest,
			nil,
		},

		// Same hash with stripped leading zeros.
		{
			"19d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f",
			sampleDigest,
			nil,
		},

		// Empty string.
		{
			"",
			Hash{},
			nil,
		},

		// Single digit hash.
		{
			"1",
			Hash([HashSize]byte{ // Make go vet happy.
				0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			}),
			nil,
		},

		// Odd length hash with stripped leading zeros.
		{
			"3264bc2ac36a60840790ba1d475d01367e7c723da941069e9dc",
			Hash([HashSize]byte{ // Make go vet happy.
				0xdc, 0xe9, 0x69, 0x10, 0x94, 0xda, 0x23, 0xc7,
				0xe7, 0x67, 0x13, 0xd0, 0x75, 0xd4, 0xa1, 0x0b,
				0x79, 0x40, 0x08, 0xa6, 0x36, 0xac, 0xc2, 0x4b,
				0x26, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			}),
			nil,
		},

		// Hash string that is too long.
		{
			"01234567890123456789012345678901234567890123456789012345678912345",
			Hash{},
			ErrHashStrSize,
		},

		// Hash string that is contains non-hex chars.
		{
			"abcdefg",
			Hash{},
			hex.InvalidByteError('g'),
		},
	}

	unexpectedErrStr := "NewHashFromStr #%d failed to detect expected error - got: %v want: %v"
	unexpectedResultStr := "NewHashFromStr #%d got: %v want: %v"
	t.Logf("Running %d tests", len(tests))
	for i, test := range tests {
		result, err := NewHashFromStr(test.in)
		if err != test.err {
			t.Errorf(unexpectedErrStr, i, err, test.err)
			continue
		} else if err != nil {
			// Got expected error. Move on to the next test.
			continue
		}
		if !test.want.IsEqual(result) {
			t.Errorf(unexpectedResultStr, i, result, &test.want)
			continue
		}
	}
}

func TestHashFuncs(t *testing.T) {
	Convey("digest funcs", t, func() {
		// Known sha256 vector of "abc".
		want, _ := hex.DecodeString(
			"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad")
		So(HashB([]byte("abc")), ShouldResemble, want)
		So(HashH([]byte("abc")).AsBytes(), ShouldResemble, want)

		So(DoubleHashB([]byte("abc")), ShouldResemble, HashB(HashB([]byte("abc"))))
		So(DoubleHashH([]byte("abc")).AsBytes(), ShouldResemble, DoubleHashB([]byte("abc")))
		So(THashB([]byte("abc")), ShouldResemble, THashH([]byte("abc")).AsBytes())

		// Different inputs must not collide on any func.
		So(THashH([]byte("abc")), ShouldNotResemble, THashH([]byte("abd")))
		So(DoubleHashH([]byte("abc")), ShouldNotResemble, HashH([]byte("abc")))
	})
}

func unmarshalAndMarshalYAML(str string) string {
	var hash Hash
	yaml.Unmarshal([]byte(str), &hash)
	ret, _ := yaml.Marshal(hash)

	return strings.TrimSpace(string(ret))
}

func unmarshalAndMarshalJSON(str string) string {
	var hash Hash
	json.Unmarshal([]byte(str), &hash)
	ret, _ := json.Marshal(hash)

	return strings.TrimSpace(string(ret))
}

func TestHash_MarshalYAML(t *testing.T) {
	Convey("marshal unmarshal yaml", t, func() {
		So(unmarshalAndMarshalYAML("029e54e333da9ff38acb0f1afd8b425d57ba301539bc7b26a94f1ab663605efb"), ShouldEqual, "029e54e333da9ff38acb0f1afd8b425d57ba301539bc7b26a94f1ab663605efb")
		So(unmarshalAndMarshalYAML("02c76216704d797c64c58bc11519fb68582e8e63de7e5b3b2dbbbe8733efe5fd"), ShouldEqual, "02c76216704d797c64c58bc11519fb68582e8e63de7e5b3b2dbbbe8733efe5fd")
	})
}

func TestHash_MarshalJSON(t *testing.T) {
	Convey("marshal unmarshal json", t, func() {
		So(unmarshalAndMarshalJSON(`"029e54e333da9ff38acb0f1afd8b425d57ba301539bc7b26a94f1ab663605efb"`), ShouldEqual, `"029e54e333da9ff38acb0f1afd8b425d57ba301539bc7b26a94f1ab663605efb"`)
		So(unmarshalAndMarshalJSON(`"02c76216704d797c64c58bc11519fb68582e8e63de7e5b3b2dbbbe8733efe5fd"`), ShouldEqual, `"02c76216704d797c64c58bc11519fb68582e8e63de7e5b3b2dbbbe8733efe5fd"`)
	})
}
