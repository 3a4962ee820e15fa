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

package memldb

import (
	"bytes"
	"fmt"

	"github.com/strongboxdb/strongbox/backend/engine"
	"github.com/syndtr/goleveldb/leveldb/iterator"
)

// baseIterator adapts a goleveldb iterator.Iterator, already range-scoped
// via util.Range, to engine.Iterator. goleveldb has no reverse-range mode,
// so reverse traversal walks the same cursor backwards from the last key in
// range.
type baseIterator struct {
	it      iterator.Iterator
	r       engine.Range
	started bool
}

func newIterator(it iterator.Iterator, r engine.Range) *baseIterator {
	return &baseIterator{it: it, r: r}
}

func (b *baseIterator) Seek(key []byte) {
	b.started = true
	b.it.Seek(key)
	if b.r.Reverse {
		// Position just before key so Prev-walking starts at the right spot.
		if b.it.Valid() && bytes.Equal(b.it.Key(), key) {
			return
		}
		b.it.Prev()
	}
}

func (b *baseIterator) ensureStarted() {
	if b.started {
		return
	}
	b.started = true
	if b.r.Reverse {
		b.it.Last()
	} else {
		b.it.First()
	}
}

func (b *baseIterator) NextV(n int) ([]engine.Entry, bool, error) {
	b.ensureStarted()

	var out []engine.Entry
	for len(out) < n && b.it.Valid() {
		k := append([]byte{}, b.it.Key()...)
		v := append([]byte{}, b.it.Value()...)
		out = append(out, engine.Entry{Key: k, Value: v})
		if b.r.Reverse {
			b.it.Prev()
		} else {
			b.it.Next()
		}
	}

	if err := b.it.Error(); err != nil {
		return out, true, fmt.Errorf("memldb: iterate: %w", err)
	}
	return out, !b.it.Valid(), nil
}

func (b *baseIterator) Close() {
	b.it.Release()
}

// overlayIterator merge-iterates a transaction's buffered writes/deletes
// (already sorted by overlaySorted) ahead of the base snapshot cursor: on a
// key collision the overlay entry wins and, if it is a delete tombstone,
// the base entry is skipped entirely. This gives the transaction's own
// pending writes priority over its snapshot view, as required by the
// overlay semantics.
type overlayIterator struct {
	base    engine.Iterator
	overlay []engine.Entry
	r       engine.Range

	baseBuf  []engine.Entry
	baseDone bool
	oPos     int
}

func newOverlayIterator(base engine.Iterator, overlay []engine.Entry, r engine.Range) *overlayIterator {
	return &overlayIterator{base: base, overlay: overlay, r: r}
}

func (o *overlayIterator) Seek(key []byte) {
	o.base.Seek(key)
	o.baseBuf = nil
	o.baseDone = false
	for o.oPos < len(o.overlay) && less(o.overlay[o.oPos].Key, key, o.r.Reverse) {
		o.oPos++
	}
}

func less(a, b []byte, reverse bool) bool {
	if reverse {
		return bytes.Compare(a, b) > 0
	}
	return bytes.Compare(a, b) < 0
}

func (o *overlayIterator) refillBase() error {
	if o.baseDone || len(o.baseBuf) > 0 {
		return nil
	}
	entries, finished, err := o.base.NextV(64)
	if err != nil {
		return err
	}
	o.baseBuf = entries
	o.baseDone = finished && len(entries) == 0
	if finished {
		o.baseDone = true
	}
	return nil
}

func (o *overlayIterator) NextV(n int) ([]engine.Entry, bool, error) {
	var out []engine.Entry
	for len(out) < n {
		if err := o.refillBase(); err != nil {
			return out, true, err
		}

		haveBase := len(o.baseBuf) > 0
		haveOverlay := o.oPos < len(o.overlay)
		if !haveBase && !haveOverlay {
			return out, true, nil
		}

		switch {
		case haveBase && haveOverlay:
			bk := o.baseBuf[0].Key
			ov := o.overlay[o.oPos]
			cmp := bytes.Compare(bk, ov.Key)
			if o.r.Reverse {
				cmp = -cmp
			}
			switch {
			case cmp < 0:
				out = append(out, o.baseBuf[0])
				o.baseBuf = o.baseBuf[1:]
			case cmp > 0:
				if ov.Value != nil {
					out = append(out, ov)
				}
				o.oPos++
			default:
				if ov.Value != nil {
					out = append(out, ov)
				}
				o.baseBuf = o.baseBuf[1:]
				o.oPos++
			}
		case haveBase:
			out = append(out, o.baseBuf[0])
			o.baseBuf = o.baseBuf[1:]
		default:
			ov := o.overlay[o.oPos]
			o.oPos++
			if ov.Value != nil {
				out = append(out, ov)
			}
		}
	}
	finished := o.baseDone && len(o.baseBuf) == 0 && o.oPos >= len(o.overlay)
	return out, finished, nil
}

func (o *overlayIterator) Close() {
	o.base.Close()
}
