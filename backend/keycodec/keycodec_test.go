// Copyright 2024 The Strongbox Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package keycodec

import (
	"bytes"
	"testing"
)

func TestEncodeDecodePart_Roundtrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xff},
		{0x00, 0xff, 0x00, 0xff},
		[]byte("hello world"),
		{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a},
	}
	for _, raw := range cases {
		enc := EncodePart(raw)
		for _, b := range enc {
			if b == sep {
				t.Errorf("encoded part %v for raw %v contains sep byte", enc, raw)
			}
		}
		dec := DecodePart(enc)
		if !bytes.Equal(dec, raw) {
			t.Errorf("roundtrip mismatch: raw=%v enc=%v dec=%v", raw, enc, dec)
		}
	}
}

func TestEncodeDecodeKeyPath_Roundtrip(t *testing.T) {
	paths := []Path{
		StringPath("a"),
		StringPath("users", "42", "profile"),
		StringPath("", "x"),
		{[]byte{0x00, 0xff}, []byte("mid"), []byte{}},
	}
	for _, p := range paths {
		enc := EncodeKeyPath(p)
		dec, err := DecodeKey(enc)
		if err != nil {
			t.Fatalf("DecodeKey(%v) error: %v", enc, err)
		}
		if !dec.Equal(p.Normalize()) {
			t.Errorf("roundtrip mismatch: path=%v enc=%v dec=%v", p, enc, dec)
		}
	}
}

func TestEncodeKeyPath_EmptyPathNormalizes(t *testing.T) {
	enc := EncodeKeyPath(nil)
	dec, err := DecodeKey(enc)
	if err != nil {
		t.Fatalf("DecodeKey error: %v", err)
	}
	if !dec.Equal(Path{[]byte{}}) {
		t.Errorf("expected single empty component, got %v", dec)
	}
}

func TestEncodeLevelPath_PrefixesItsKeys(t *testing.T) {
	level := StringPath("users", "42")
	prefix := EncodeLevelPath(level)

	key := append(level, []byte("profile"))
	enc := EncodeKeyPath(key)

	if !bytes.HasPrefix(enc, prefix) {
		t.Errorf("encoded key %v does not have level prefix %v", enc, prefix)
	}
}

func TestEncodeKeyPath_OrderingMatchesLexicalLevelOrder(t *testing.T) {
	a := EncodeKeyPath(StringPath("a", "x"))
	b := EncodeKeyPath(StringPath("b", "x"))
	if bytes.Compare(a, b) >= 0 {
		t.Errorf("expected encoded(a,x) < encoded(b,x), got a=%v b=%v", a, b)
	}
}

func TestDecodeKey_UnbalancedSeparatorErrors(t *testing.T) {
	enc := EncodeKeyPath(StringPath("a", "b"))
	enc = append(enc, sep)
	enc = append(enc, EncodePart([]byte("c"))...)
	// Separators now follow the unwrapped key-actual "b", and the trailing
	// segment "c" has an opening separator after it but no balanced form.
	broken := append([]byte{}, enc...)
	broken = append(broken, sep)

	_, err := DecodeKey(broken)
	if err == nil {
		t.Errorf("expected error decoding unbalanced key, got none")
	}
}

func TestNextLex(t *testing.T) {
	cases := []struct {
		in   []byte
		want []byte
	}{
		{[]byte{0x00}, []byte{0x01}},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte("ab"), []byte("ac")},
	}
	for _, c := range cases {
		got := NextLex(c.in)
		if !bytes.Equal(got, c.want) {
			t.Errorf("NextLex(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNextLex_AllFFIsUnbounded(t *testing.T) {
	if got := NextLex([]byte{0xff, 0xff}); got != nil {
		t.Errorf("expected nil bound for all-0xff input, got %v", got)
	}
	if got := NextLex(nil); got != nil {
		t.Errorf("expected nil bound for empty input, got %v", got)
	}
}

func TestPath_Equal(t *testing.T) {
	a := StringPath("x", "y")
	b := StringPath("x", "y")
	c := StringPath("x", "z")
	if !a.Equal(b) {
		t.Errorf("expected equal paths to compare equal")
	}
	if a.Equal(c) {
		t.Errorf("expected differing paths to compare unequal")
	}
}

func TestPath_CloneIsIndependent(t *testing.T) {
	a := StringPath("x")
	b := a.Clone()
	b[0][0] = 'z'
	if a[0][0] == 'z' {
		t.Errorf("mutating clone affected original")
	}
}
