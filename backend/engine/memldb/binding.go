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

// Package memldb adapts github.com/syndtr/goleveldb to the engine.Binding
// contract. goleveldb has no notion of an optimistic transaction: its
// *leveldb.Transaction type is pessimistic and holds an exclusive write
// lock for its whole lifetime. To still honor the get_for_update conflict
// contract, this adapter tracks a per-key write sequence number and
// diffs it at commit time: a transaction records a key's sequence number
// when it first reads that key for update or writes it, and any recorded
// key whose sequence number has moved since then aborts the commit with
// engine.ErrConflict. A change made to a key before the transaction first
// records it is not detected, even if the transaction's snapshot is older
// than that change. This is the test-default
// engine; rocks.Binding is the production engine with native conflict
// detection.
package memldb

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/strongboxdb/strongbox/backend/engine"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Binding is an engine.Binding over an in-process goleveldb database.
type Binding struct {
	db *leveldb.DB

	mu   sync.Mutex
	seq  map[string]uint64
	next uint64
}

// New returns an unopened Binding; call Open before use.
func New() *Binding {
	return &Binding{seq: make(map[string]uint64)}
}

func (b *Binding) Open(path string, opts engine.Options) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("memldb: create data directory: %w", err)
	}

	o := &opt.Options{
		ErrorIfExist: opts.ErrorIfExists,
	}
	if !opts.CreateIfMissing {
		o.ErrorIfMissing = true
	}
	if opts.WriteBufferSize > 0 {
		o.WriteBuffer = int(opts.WriteBufferSize)
	}
	if opts.BlockSize > 0 {
		o.BlockSize = opts.BlockSize
	}
	if opts.BlockRestartInterval > 0 {
		o.BlockRestartInterval = opts.BlockRestartInterval
	}
	if opts.MaxOpenFiles > 0 {
		o.OpenFilesCacheCapacity = opts.MaxOpenFiles
	}
	if opts.CacheSize > 0 {
		o.BlockCacheCapacity = int(opts.CacheSize)
	}
	switch opts.Compression {
	case engine.CompressionSnappy:
		o.Compression = opt.SnappyCompression
	case engine.CompressionNone:
		o.Compression = opt.NoCompression
	default:
		o.Compression = opt.DefaultCompression
	}

	db, err := leveldb.OpenFile(path, o)
	if err != nil {
		return fmt.Errorf("memldb: open: %w", err)
	}
	b.db = db
	return nil
}

func (b *Binding) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Binding) bump(key []byte) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.seq[string(key)] = b.next
	return b.next
}

func (b *Binding) seqOf(key []byte) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq[string(key)]
}

func (b *Binding) Get(key []byte, snap engine.Snapshot) ([]byte, error) {
	var reader interface {
		Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	}
	if snap != nil {
		reader = snap.(*snapshot).handle
	} else {
		reader = b.db
	}
	v, err := reader.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memldb: get: %w", err)
	}
	return v, nil
}

func (b *Binding) Put(key, value []byte, sync bool) error {
	if err := b.db.Put(key, value, writeOpts(sync)); err != nil {
		return fmt.Errorf("memldb: put: %w", err)
	}
	b.bump(key)
	return nil
}

func (b *Binding) Delete(key []byte, sync bool) error {
	if err := b.db.Delete(key, writeOpts(sync)); err != nil {
		return fmt.Errorf("memldb: delete: %w", err)
	}
	b.bump(key)
	return nil
}

func writeOpts(sync bool) *opt.WriteOptions {
	if !sync {
		return nil
	}
	return &opt.WriteOptions{Sync: true}
}

func (b *Binding) BatchDo(ops []engine.Op, sync bool) error {
	batch := new(leveldb.Batch)
	for _, op := range ops {
		if op.Delete {
			batch.Delete(op.Key)
		} else {
			batch.Put(op.Key, op.Value)
		}
	}
	if err := b.db.Write(batch, writeOpts(sync)); err != nil {
		return fmt.Errorf("memldb: batch: %w", err)
	}
	for _, op := range ops {
		b.bump(op.Key)
	}
	return nil
}

func rangeOf(r engine.Range) *util.Range {
	ur := &util.Range{}
	if r.Lower != nil {
		ur.Start = r.Lower
		if r.LowerExclusive {
			ur.Start = append(append([]byte{}, r.Lower...), 0x00)
		}
	}
	if r.Upper != nil {
		ur.Limit = r.Upper
		if r.UpperInclusive {
			ur.Limit = append(append([]byte{}, r.Upper...), 0x00)
		}
	}
	return ur
}

func (b *Binding) IteratorInit(r engine.Range, snap engine.Snapshot) (engine.Iterator, error) {
	ur := rangeOf(r)
	var it iterator.Iterator
	if snap != nil {
		it = snap.(*snapshot).handle.NewIterator(ur, nil)
	} else {
		it = b.db.NewIterator(ur, nil)
	}
	return newIterator(it, r), nil
}

func (b *Binding) Clear(r engine.Range) error {
	it, err := b.IteratorInit(r, nil)
	if err != nil {
		return err
	}
	defer it.Close()

	batch := new(leveldb.Batch)
	var keys [][]byte
	for {
		entries, finished, err := it.NextV(1000)
		if err != nil {
			return err
		}
		for _, e := range entries {
			batch.Delete(e.Key)
			keys = append(keys, e.Key)
		}
		if finished {
			break
		}
	}
	if err := b.db.Write(batch, nil); err != nil {
		return fmt.Errorf("memldb: clear: %w", err)
	}
	for _, k := range keys {
		b.bump(k)
	}
	return nil
}

type snapshot struct {
	handle *leveldb.Snapshot
}

func (s *snapshot) Release() {
	s.handle.Release()
}

func (b *Binding) SnapshotInit() (engine.Snapshot, error) {
	snap, err := b.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("memldb: snapshot: %w", err)
	}
	return &snapshot{handle: snap}, nil
}

func (b *Binding) TransactionInit(opts engine.TransactionOptions) (engine.Transaction, error) {
	return &transaction{
		binding: b,
		sync:    opts.Sync,
		reads:   make(map[string]uint64),
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}, nil
}

// transaction buffers writes in memory and tracks the sequence numbers
// observed for every tracked (GetForUpdate) key, replaying the buffer as a
// single atomic batch on commit after verifying no tracked key moved.
type transaction struct {
	binding *Binding
	sync    bool
	snap    *snapshot

	mu      sync.Mutex
	reads   map[string]uint64 // tracked keys -> sequence observed at read time
	writes  map[string][]byte
	deletes map[string]bool
}

func (t *transaction) Snapshot() (engine.Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap != nil {
		return t.snap, nil
	}
	s, err := t.binding.SnapshotInit()
	if err != nil {
		return nil, err
	}
	t.snap = s.(*snapshot)
	return t.snap, nil
}

func (t *transaction) overlayGet(key []byte) ([]byte, bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := string(key)
	if t.deletes[k] {
		return nil, true, true
	}
	if v, ok := t.writes[k]; ok {
		return v, true, true
	}
	return nil, false, false
}

func (t *transaction) Get(key []byte) ([]byte, error) {
	if v, deleted, hit := t.overlayGet(key); hit {
		if deleted {
			return nil, engine.ErrNotFound
		}
		return v, nil
	}
	snap, err := t.Snapshot()
	if err != nil {
		return nil, err
	}
	return t.binding.Get(key, snap)
}

func (t *transaction) GetForUpdate(key []byte) ([]byte, error) {
	if _, err := t.Snapshot(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.reads[string(key)] = t.binding.seqOf(key)
	t.mu.Unlock()
	return t.Get(key)
}

func (t *transaction) MultiGet(keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		v, err := t.Get(k)
		if err != nil && err != engine.ErrNotFound {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (t *transaction) MultiGetForUpdate(keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		v, err := t.GetForUpdate(k)
		if err != nil && err != engine.ErrNotFound {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (t *transaction) Put(key, value []byte) error {
	if _, err := t.Snapshot(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	k := string(key)
	t.writes[k] = append([]byte{}, value...)
	delete(t.deletes, k)
	// A write also participates in conflict tracking: if this key was
	// concurrently modified between our snapshot and commit, that is a
	// genuine write-write conflict regardless of get_for_update.
	if _, tracked := t.reads[k]; !tracked {
		t.reads[k] = t.binding.seqOf(key)
	}
	return nil
}

func (t *transaction) Delete(key []byte) error {
	if _, err := t.Snapshot(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	k := string(key)
	t.deletes[k] = true
	delete(t.writes, k)
	if _, tracked := t.reads[k]; !tracked {
		t.reads[k] = t.binding.seqOf(key)
	}
	return nil
}

func (t *transaction) Clear(r engine.Range) error {
	it, err := t.IteratorInit(r)
	if err != nil {
		return err
	}
	defer it.Close()
	for {
		entries, finished, err := it.NextV(1000)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := t.Delete(e.Key); err != nil {
				return err
			}
		}
		if finished {
			break
		}
	}
	return nil
}

func (t *transaction) IteratorInit(r engine.Range) (engine.Iterator, error) {
	snap, err := t.Snapshot()
	if err != nil {
		return nil, err
	}
	base, err := t.binding.IteratorInit(r, snap)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	overlay := t.overlaySorted(r)
	t.mu.Unlock()
	return newOverlayIterator(base, overlay, r), nil
}

// overlaySorted returns this transaction's pending writes and deletes that
// fall within r, sorted for merge-iteration with the base snapshot cursor.
func (t *transaction) overlaySorted(r engine.Range) []engine.Entry {
	var out []engine.Entry
	for k, v := range t.writes {
		kb := []byte(k)
		if inRange(kb, r) {
			out = append(out, engine.Entry{Key: kb, Value: v})
		}
	}
	for k := range t.deletes {
		kb := []byte(k)
		if inRange(kb, r) {
			out = append(out, engine.Entry{Key: kb, Value: nil})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if r.Reverse {
			return bytes.Compare(out[i].Key, out[j].Key) > 0
		}
		return bytes.Compare(out[i].Key, out[j].Key) < 0
	})
	return out
}

func inRange(k []byte, r engine.Range) bool {
	if r.Lower != nil {
		cmp := bytes.Compare(k, r.Lower)
		if cmp < 0 || (cmp == 0 && r.LowerExclusive) {
			return false
		}
	}
	if r.Upper != nil {
		cmp := bytes.Compare(k, r.Upper)
		if cmp > 0 || (cmp == 0 && !r.UpperInclusive) {
			return false
		}
	}
	return true
}

func (t *transaction) Commit() error {
	defer func() {
		if t.snap != nil {
			t.snap.Release()
		}
	}()
	t.mu.Lock()
	for k, observed := range t.reads {
		if t.binding.seqOf([]byte(k)) != observed {
			t.mu.Unlock()
			return engine.ErrConflict
		}
	}

	batch := new(leveldb.Batch)
	var touched [][]byte
	for k, v := range t.writes {
		batch.Put([]byte(k), v)
		touched = append(touched, []byte(k))
	}
	for k := range t.deletes {
		batch.Delete([]byte(k))
		touched = append(touched, []byte(k))
	}
	t.mu.Unlock()

	if err := t.binding.db.Write(batch, writeOpts(t.sync)); err != nil {
		return fmt.Errorf("memldb: commit: %w", err)
	}
	for _, k := range touched {
		t.binding.bump(k)
	}
	return nil
}

func (t *transaction) Rollback() error {
	if t.snap != nil {
		t.snap.Release()
	}
	return nil
}
