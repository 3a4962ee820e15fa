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

package rocks

import (
	"bytes"
	"fmt"

	"github.com/linxGnu/grocksdb"
	"github.com/strongboxdb/strongbox/backend/engine"
)

// iterator wraps a grocksdb.Iterator, enforcing the half-open range bounds
// manually: grocksdb's own upper/lower bound options apply only to forward
// iteration and this adapter needs identical bound semantics in reverse.
type iterator struct {
	it      *grocksdb.Iterator
	ro      *grocksdb.ReadOptions
	ownedRO bool
	r       engine.Range
	started bool
}

func newIterator(it *grocksdb.Iterator, ro *grocksdb.ReadOptions, ownedRO bool, r engine.Range) *iterator {
	return &iterator{it: it, ro: ro, ownedRO: ownedRO, r: r}
}

func (i *iterator) Seek(key []byte) {
	i.started = true
	if i.r.Reverse {
		i.it.SeekForPrev(key)
		return
	}
	i.it.Seek(key)
}

func (i *iterator) ensureStarted() {
	if i.started {
		return
	}
	i.started = true
	if i.r.Reverse {
		if i.r.Upper != nil {
			i.it.SeekForPrev(i.r.Upper)
			if i.it.Valid() && !i.r.UpperInclusive && bytes.Equal(i.it.Key().Data(), i.r.Upper) {
				i.it.Prev()
			}
		} else {
			i.it.SeekToLast()
		}
	} else {
		if i.r.Lower != nil {
			i.it.Seek(i.r.Lower)
			if i.r.LowerExclusive && i.it.Valid() && bytes.Equal(i.it.Key().Data(), i.r.Lower) {
				i.it.Next()
			}
		} else {
			i.it.SeekToFirst()
		}
	}
}

func (i *iterator) inBounds() bool {
	if !i.it.Valid() {
		return false
	}
	k := i.it.Key().Data()
	if i.r.Reverse {
		if i.r.Lower != nil {
			cmp := bytes.Compare(k, i.r.Lower)
			if cmp < 0 || (cmp == 0 && i.r.LowerExclusive) {
				return false
			}
		}
		return true
	}
	if i.r.Upper != nil {
		cmp := bytes.Compare(k, i.r.Upper)
		if cmp > 0 || (cmp == 0 && !i.r.UpperInclusive) {
			return false
		}
	}
	return true
}

func (i *iterator) NextV(n int) ([]engine.Entry, bool, error) {
	i.ensureStarted()

	var out []engine.Entry
	for len(out) < n && i.inBounds() {
		key := i.it.Key()
		val := i.it.Value()
		k := make([]byte, key.Size())
		copy(k, key.Data())
		v := make([]byte, val.Size())
		copy(v, val.Data())
		key.Free()
		val.Free()
		out = append(out, engine.Entry{Key: k, Value: v})
		if i.r.Reverse {
			i.it.Prev()
		} else {
			i.it.Next()
		}
	}

	if err := i.it.Err(); err != nil {
		return out, true, fmt.Errorf("rocks: iterate: %w", err)
	}
	return out, !i.inBounds(), nil
}

func (i *iterator) Close() {
	i.it.Close()
	if i.ownedRO {
		i.ro.Destroy()
	}
}
