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

package db

import (
	"github.com/strongboxdb/strongbox/backend/crypto"
	"github.com/strongboxdb/strongbox/backend/engine"
	"github.com/strongboxdb/strongbox/backend/keycodec"
)

// Path is a key-path: an ordered sequence of byte-string components. The
// last component is the key-actual; all preceding components are the
// level path.
type Path = keycodec.Path

// StringPath builds a Path from plain strings.
func StringPath(parts ...string) Path {
	return keycodec.StringPath(parts...)
}

// Options configures Open.
type Options struct {
	// Binding is the storage engine adapter: rocks.New() for production,
	// memldb.New() for tests and small deployments.
	Binding engine.Binding
	// Engine carries the database-open tunables (cache/buffer sizes,
	// compression, log level) forwarded to Binding.Open.
	Engine engine.Options

	// Key and Ops configure the optional crypto envelope. Ops is nil when
	// no encryption is wanted; values are then stored verbatim.
	Key []byte
	Ops crypto.Ops

	// Fresh, if true, recursively deletes the data directory before
	// opening, producing an empty database.
	Fresh bool
}

// RangeOptions bounds and shapes a ranged read (Iterator, Clear, Count).
// Gt/Gte/Lt/Lte are relative to the level path the call was issued
// against and are composed with that level's encoded prefix.
type RangeOptions struct {
	Gt, Gte, Lt, Lte Path

	// Limit caps the number of entries; -1 (the default) means unlimited.
	Limit int
	// Reverse iterates from the high end of the range to the low end.
	Reverse bool

	// Keys and Values control whether each slot is populated at all;
	// false skips decoding work for that slot entirely.
	Keys   bool
	Values bool

	// KeyAsBytes and ValueAsBytes select []byte vs string/structured
	// decoding for keys and values respectively.
	KeyAsBytes   bool
	ValueAsBytes bool

	// Raw mirrors the raw flag used by Get/Put: when true, Values are
	// returned as their stored raw bytes rather than JSON-deserialized.
	Raw bool

	// Snapshot pins the read to an explicit, caller-held snapshot. Within
	// a transaction this is ignored: the transaction's own lazily
	// established snapshot is always used.
	Snapshot engine.Snapshot

	// Sync is accepted for Clear but is not forwarded: engine.Binding.Clear
	// takes no durability flag, so clears use the engine's default write
	// options.
	Sync bool
}

// DefaultRangeOptions returns the external interface's stated defaults:
// unlimited, forward, both keys and values returned as bytes.
func DefaultRangeOptions() RangeOptions {
	return RangeOptions{
		Limit:        -1,
		Keys:         true,
		Values:       true,
		KeyAsBytes:   true,
		ValueAsBytes: true,
	}
}

// levelBounds derives the half-open engine.Range for iterating/clearing
// everything under level, composed with any user-supplied relative bounds,
// per the range-derivation rule: gt = encode_level_path(level) (exclusive,
// skipping the level's own empty-marker record), lt =
// next_lex(encode_level_path(level)).
func levelBounds(level Path, opts RangeOptions) engine.Range {
	prefix := keycodec.EncodeLevelPath(level)

	r := engine.Range{Reverse: opts.Reverse}

	switch {
	case opts.Gt != nil:
		r.Lower = append(append([]byte{}, prefix...), keycodec.EncodeKeyPath(opts.Gt)...)
		r.LowerExclusive = true
	case opts.Gte != nil:
		r.Lower = append(append([]byte{}, prefix...), keycodec.EncodeKeyPath(opts.Gte)...)
		r.LowerExclusive = false
	default:
		r.Lower = prefix
		r.LowerExclusive = true
	}

	switch {
	case opts.Lt != nil:
		r.Upper = append(append([]byte{}, prefix...), keycodec.EncodeKeyPath(opts.Lt)...)
		r.UpperInclusive = false
	case opts.Lte != nil:
		r.Upper = append(append([]byte{}, prefix...), keycodec.EncodeKeyPath(opts.Lte)...)
		r.UpperInclusive = true
	default:
		r.Upper = keycodec.NextLex(prefix)
		r.UpperInclusive = false
	}

	return r
}

var dataLevel = keycodec.StringPath("data")
var canaryKeyPath = keycodec.StringPath("canary")

const canaryText = "deadbeef"

func withDataPrefix(p Path) Path {
	out := make(Path, 0, len(dataLevel)+len(p))
	out = append(out, dataLevel...)
	out = append(out, p...)
	return out
}
