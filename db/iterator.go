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
	"sync/atomic"

	"github.com/strongboxdb/strongbox/backend/crypto"
	"github.com/strongboxdb/strongbox/backend/engine"
	"github.com/strongboxdb/strongbox/backend/keycodec"
)

// iteratorOwner is implemented by both Database and Transaction: it is
// the seam that lets Iterator drive either a plain engine binding read or
// a transaction's overlay view without caring which.
type iteratorOwner interface {
	iteratorInit(r engine.Range, snap engine.Snapshot) (engine.Iterator, error)
	cryptoEnvelope() *crypto.Envelope
	untrackIterator(it *Iterator)
}

// Iterator performs a ranged, ordered traversal over a level, returning
// entries with the level prefix stripped and values decrypted/decoded per
// RangeOptions. It follows the bufio.Scanner shape: call Next until it
// returns false, check Err, then read Key/Value.
//
// Adaptive batch sizing (1 then 1000) minimizes the latency of consuming
// only the first record while amortizing syscall overhead for full scans.
type Iterator struct {
	owner  iteratorOwner
	level  Path
	prefix []byte
	opts   RangeOptions
	eng    engine.Iterator

	cache    []engine.Entry
	cachePos int
	first    bool
	finished bool
	emitted  int

	busy       atomic.Bool
	destroyed  bool
	lastErr    error
	curKey     []byte
	curValue   []byte
}

func newIterator(owner iteratorOwner, level Path, opts RangeOptions, snap engine.Snapshot) (*Iterator, error) {
	r := levelBounds(level, opts)
	eng, err := owner.iteratorInit(r, snap)
	if err != nil {
		return nil, err
	}
	return &Iterator{
		owner:  owner,
		level:  level,
		prefix: keycodec.EncodeLevelPath(level),
		opts:   opts,
		eng:    eng,
		first:  true,
	}, nil
}

// Seek repositions the iterator at key_path (relative to its level),
// resetting batching state. Fails with ErrIteratorBusy if a Next is
// currently in flight, ErrIteratorDestroyed if closed.
func (it *Iterator) Seek(keyPath Path) error {
	if it.destroyed {
		return ErrIteratorDestroyed
	}
	if it.busy.Load() {
		return ErrIteratorBusy
	}
	full := append(append([]byte{}, it.prefix...), keycodec.EncodeKeyPath(keyPath)...)
	it.eng.Seek(full)
	it.cache = nil
	it.cachePos = 0
	it.first = true
	it.finished = false
	return nil
}

// Next advances to the next entry, returning false when the range is
// exhausted, the optional limit is reached, or an error occurred (check
// Err to tell an error apart from the other cases).
func (it *Iterator) Next() bool {
	if it.destroyed || it.lastErr != nil {
		return false
	}
	if it.opts.Limit >= 0 && it.emitted >= it.opts.Limit {
		return false
	}

	it.busy.Store(true)
	defer it.busy.Store(false)

	for it.cachePos >= len(it.cache) {
		if it.finished {
			return false
		}
		n := 1
		if !it.first {
			n = 1000
		}
		it.first = false

		entries, finished, err := it.eng.NextV(n)
		if err != nil {
			it.lastErr = err
			return false
		}
		it.cache = entries
		it.cachePos = 0
		it.finished = finished
		if len(entries) == 0 {
			return false
		}
	}

	entry := it.cache[it.cachePos]
	it.cachePos++
	it.emitted++

	if it.opts.Keys {
		it.curKey = entry.Key[len(it.prefix):]
	} else {
		it.curKey = nil
	}
	if it.opts.Values {
		it.curValue = entry.Value
	} else {
		it.curValue = nil
	}
	return true
}

// Err reports the first error encountered during iteration, if any.
func (it *Iterator) Err() error {
	return it.lastErr
}

// KeyPath returns the current entry's key, decoded to its full path
// relative to the iterated level.
func (it *Iterator) KeyPath() (Path, error) {
	if it.curKey == nil {
		return nil, nil
	}
	return keycodec.DecodeKey(it.curKey)
}

// Key returns the current entry's key as bytes or a string per
// KeyAsBytes, taking the key-actual (final path component) relative to
// the level — the common case where the iterated level is the entry's
// immediate parent.
func (it *Iterator) Key() (any, error) {
	if it.curKey == nil {
		return nil, nil
	}
	p, err := keycodec.DecodeKey(it.curKey)
	if err != nil {
		return nil, err
	}
	last := p[len(p)-1]
	if it.opts.KeyAsBytes {
		return last, nil
	}
	return string(last), nil
}

// Value returns the current entry's value, decrypted and decoded per
// ValueAsBytes/Raw.
func (it *Iterator) Value() (any, error) {
	if it.curValue == nil {
		return nil, nil
	}
	env := it.owner.cryptoEnvelope()
	if it.opts.ValueAsBytes || it.opts.Raw {
		var out []byte
		if err := env.DeserializeDecrypt(it.curValue, true, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var out any
	if err := env.DeserializeDecrypt(it.curValue, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying engine iterator and removes this
// iterator from its owner's registry. Idempotent.
func (it *Iterator) Close() error {
	if it.destroyed {
		return nil
	}
	it.destroyed = true
	it.eng.Close()
	it.owner.untrackIterator(it)
	return nil
}
