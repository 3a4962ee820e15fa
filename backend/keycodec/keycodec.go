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

// Package keycodec implements the hierarchical key-path <-> flat ordered
// byte-key encoding described by the store's data model: an ordered
// sequence of arbitrary-byte components (a Path) is mapped, reversibly, to
// a single byte string that the underlying LSM engine can order
// lexicographically, while preserving prefix-iteration semantics per level
// and permitting any byte value, including the separator itself, inside a
// component.
package keycodec

import (
	"bytes"
	"fmt"

	"github.com/strongboxdb/strongbox/common"
)

const (
	// sep separates level segments. It never appears inside an encoded
	// component, which is what makes the grammar unambiguous to parse.
	sep byte = 0x00
	// emptyMarker is the encoded form of a zero-length component. It sorts
	// before any non-empty encoded content because it is numerically below
	// the alphabet's base.
	emptyMarker byte = 0x01
	// alphabetBase is the first byte value used by the base-128 re-encoding
	// of component bytes; the alphabet spans [alphabetBase, alphabetBase+127].
	alphabetBase byte = 0x02
)

// ErrParseKey indicates an encoded key could not be decoded: an unbalanced
// separator was found where a level segment was presumed to start, with no
// fallback single-component parse available.
const ErrParseKey common.ConstError = "keycodec: malformed encoded key"

// Path is an ordered sequence of byte-string key-path components. The last
// component is the key-actual; all preceding components are the level path.
type Path [][]byte

// StringPath builds a Path out of plain strings, the common case where no
// component needs arbitrary binary content.
func StringPath(parts ...string) Path {
	p := make(Path, len(parts))
	for i, s := range parts {
		p[i] = []byte(s)
	}
	return p
}

// Normalize applies the data model's rule that an empty key-path (zero
// components) is treated as a path holding a single empty component.
func (p Path) Normalize() Path {
	if len(p) == 0 {
		return Path{[]byte{}}
	}
	return p
}

// Clone returns a deep copy, so callers may freely mutate the result
// without affecting shared backing arrays.
func (p Path) Clone() Path {
	out := make(Path, len(p))
	for i, c := range p {
		cp := make([]byte, len(c))
		copy(cp, c)
		out[i] = cp
	}
	return out
}

// Equal reports whether two paths hold the same components in the same
// order.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if !bytes.Equal(p[i], other[i]) {
			return false
		}
	}
	return true
}

// EncodePart base-128 re-encodes a single raw component so that the result
// never contains sep or collides with emptyMarker, using alphabet
// [alphabetBase, alphabetBase+127]. An empty component encodes to the
// single-byte emptyMarker.
func EncodePart(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte{emptyMarker}
	}

	out := make([]byte, 0, (len(raw)*8+6)/7)
	var acc uint32
	var bits uint
	for _, b := range raw {
		acc = (acc << 8) | uint32(b)
		bits += 8
		for bits >= 7 {
			bits -= 7
			v := (acc >> bits) & 0x7f
			out = append(out, alphabetBase+byte(v))
		}
		acc &= (uint32(1) << bits) - 1
	}
	if bits > 0 {
		v := (acc << (7 - bits)) & 0x7f
		out = append(out, alphabetBase+byte(v))
	}
	return out
}

// DecodePart reverses EncodePart.
func DecodePart(enc []byte) []byte {
	if len(enc) == 1 && enc[0] == emptyMarker {
		return []byte{}
	}

	out := make([]byte, 0, len(enc)*7/8)
	var acc uint32
	var bits uint
	for _, e := range enc {
		v := uint32(e - alphabetBase)
		acc = (acc << 7) | v
		bits += 7
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(acc>>bits))
		}
		acc &= (uint32(1) << bits) - 1
	}
	return out
}

// EncodeKeyPath produces the encoded key for a full path: N-1 separator-
// wrapped level segments followed by the unwrapped key-actual segment.
func EncodeKeyPath(path Path) []byte {
	path = path.Normalize()

	var out []byte
	for _, level := range path[:len(path)-1] {
		out = append(out, sep)
		out = append(out, EncodePart(level)...)
		out = append(out, sep)
	}
	out = append(out, EncodePart(path[len(path)-1])...)
	return out
}

// EncodeLevelPath produces N complete, separator-wrapped level segments for
// every component of level. It is used to derive the iteration bound for a
// given level-path prefix: any key stored under that level starts with this
// byte string.
func EncodeLevelPath(level Path) []byte {
	var out []byte
	for _, part := range level {
		out = append(out, sep)
		out = append(out, EncodePart(part)...)
		out = append(out, sep)
	}
	return out
}

// DecodeKey parses an encoded key back into its path, greedily peeling
// balanced `sep part sep` level segments from the left and treating the
// remainder as the key-actual. If no balanced segment is found at all, the
// entire buffer is treated as a single-component path.
func DecodeKey(encoded []byte) (Path, error) {
	var components Path
	pos := 0
	for pos < len(encoded) && encoded[pos] == sep {
		end := bytes.IndexByte(encoded[pos+1:], sep)
		if end < 0 {
			if pos == 0 {
				// No balanced separator anywhere: fall back to a single
				// key-actual spanning the whole buffer.
				return Path{DecodePart(encoded)}, nil
			}
			return nil, fmt.Errorf("%w: unbalanced separator at offset %d", ErrParseKey, pos)
		}
		end += pos + 1
		components = append(components, DecodePart(encoded[pos+1:end]))
		pos = end + 1
	}
	if i := bytes.IndexByte(encoded[pos:], sep); i >= 0 {
		return nil, fmt.Errorf("%w: unbalanced separator at offset %d", ErrParseKey, pos+i)
	}
	components = append(components, DecodePart(encoded[pos:]))
	return components, nil
}

// NextLex returns the lexicographically smallest byte string strictly
// greater than every string having b as a prefix: b with its last byte
// incremented, carrying into preceding bytes on overflow. If b consists
// entirely of 0xFF bytes (or is empty), there is no finite byte string
// bounding every extension of b, so NextLex returns nil; callers must treat
// a nil bound as unbounded (scan to the end of the keyspace).
func NextLex(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}
