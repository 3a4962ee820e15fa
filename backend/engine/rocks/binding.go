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

// Package rocks adapts github.com/linxGnu/grocksdb's OptimisticTransactionDB
// to the engine.Binding contract. It is the production engine: RocksDB's
// optimistic transactions give native commit-time conflict detection for
// get_for_update-tracked reads, matching the store's write-skew model
// directly instead of needing it synthesized in software.
package rocks

import (
	"fmt"
	"os"
	"strings"

	"github.com/linxGnu/grocksdb"
	"github.com/strongboxdb/strongbox/backend/engine"
)

// Binding is an engine.Binding over a RocksDB optimistic transaction
// database.
type Binding struct {
	db *grocksdb.OptimisticTransactionDB
	wo *grocksdb.WriteOptions
	ro *grocksdb.ReadOptions
}

// New returns an unopened Binding; call Open before use.
func New() *Binding {
	return &Binding{}
}

func (b *Binding) Open(path string, opts engine.Options) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("rocks: create data directory: %w", err)
	}

	rOpts := grocksdb.NewDefaultOptions()
	rOpts.SetCreateIfMissing(opts.CreateIfMissing)
	rOpts.SetErrorIfExists(opts.ErrorIfExists)
	rOpts.SetCompression(translateCompression(opts.Compression))
	if opts.WriteBufferSize > 0 {
		rOpts.SetWriteBufferSize(uint64(opts.WriteBufferSize))
	}
	if opts.MaxOpenFiles > 0 {
		rOpts.SetMaxOpenFiles(opts.MaxOpenFiles)
	}
	rOpts.SetInfoLogLevel(translateLogLevel(opts.InfoLogLevel))

	if opts.CacheSize > 0 || opts.BlockSize > 0 || opts.BlockRestartInterval > 0 {
		bbto := grocksdb.NewDefaultBlockBasedTableOptions()
		if opts.CacheSize > 0 {
			bbto.SetBlockCache(grocksdb.NewLRUCache(uint64(opts.CacheSize)))
		}
		if opts.BlockSize > 0 {
			bbto.SetBlockSize(opts.BlockSize)
		}
		if opts.BlockRestartInterval > 0 {
			bbto.SetBlockSizeDeviation(opts.BlockRestartInterval)
		}
		rOpts.SetBlockBasedTableFactory(bbto)
	}

	db, err := grocksdb.OpenOptimisticTransactionDb(rOpts, path)
	if err != nil {
		return fmt.Errorf("rocks: open: %w", err)
	}

	b.db = db
	b.wo = grocksdb.NewDefaultWriteOptions()
	b.ro = grocksdb.NewDefaultReadOptions()
	return nil
}

func translateCompression(c engine.Compression) grocksdb.CompressionType {
	switch c {
	case engine.CompressionSnappy:
		return grocksdb.SnappyCompression
	case engine.CompressionZSTD:
		return grocksdb.ZSTDCompression
	default:
		return grocksdb.NoCompression
	}
}

func translateLogLevel(l engine.InfoLogLevel) grocksdb.InfoLogLevel {
	switch l {
	case engine.LogDebug:
		return grocksdb.DebugInfoLogLevel
	case engine.LogWarn:
		return grocksdb.WarnInfoLogLevel
	case engine.LogError:
		return grocksdb.ErrorInfoLogLevel
	case engine.LogFatal:
		return grocksdb.FatalInfoLogLevel
	case engine.LogHeader:
		return grocksdb.HeaderInfoLogLevel
	default:
		return grocksdb.InfoInfoLogLevel
	}
}

func (b *Binding) Close() error {
	if b.wo != nil {
		b.wo.Destroy()
	}
	if b.ro != nil {
		b.ro.Destroy()
	}
	if b.db != nil {
		b.db.Close()
	}
	return nil
}

func (b *Binding) baseReadOpts(snap engine.Snapshot) *grocksdb.ReadOptions {
	ro := b.ro
	if snap != nil {
		ro = grocksdb.NewDefaultReadOptions()
		ro.SetSnapshot(snap.(*snapshot).handle)
	}
	return ro
}

func (b *Binding) Get(key []byte, snap engine.Snapshot) ([]byte, error) {
	ro := b.baseReadOpts(snap)
	if ro != b.ro {
		defer ro.Destroy()
	}
	slice, err := b.db.GetBaseDB().Get(ro, key)
	if err != nil {
		return nil, fmt.Errorf("rocks: get: %w", err)
	}
	defer slice.Free()
	if !slice.Exists() {
		return nil, engine.ErrNotFound
	}
	out := make([]byte, slice.Size())
	copy(out, slice.Data())
	return out, nil
}

func (b *Binding) Put(key, value []byte, sync bool) error {
	wo := b.writeOpts(sync)
	if wo != b.wo {
		defer wo.Destroy()
	}
	if err := b.db.GetBaseDB().Put(wo, key, value); err != nil {
		return fmt.Errorf("rocks: put: %w", err)
	}
	return nil
}

func (b *Binding) Delete(key []byte, sync bool) error {
	wo := b.writeOpts(sync)
	if wo != b.wo {
		defer wo.Destroy()
	}
	if err := b.db.GetBaseDB().Delete(wo, key); err != nil {
		return fmt.Errorf("rocks: delete: %w", err)
	}
	return nil
}

func (b *Binding) writeOpts(sync bool) *grocksdb.WriteOptions {
	if !sync {
		return b.wo
	}
	wo := grocksdb.NewDefaultWriteOptions()
	wo.SetSync(true)
	return wo
}

func (b *Binding) BatchDo(ops []engine.Op, sync bool) error {
	wb := grocksdb.NewWriteBatch()
	defer wb.Destroy()
	for _, op := range ops {
		if op.Delete {
			wb.Delete(op.Key)
		} else {
			wb.Put(op.Key, op.Value)
		}
	}
	wo := b.writeOpts(sync)
	if wo != b.wo {
		defer wo.Destroy()
	}
	if err := b.db.GetBaseDB().Write(wo, wb); err != nil {
		return fmt.Errorf("rocks: batch: %w", err)
	}
	return nil
}

func (b *Binding) IteratorInit(r engine.Range, snap engine.Snapshot) (engine.Iterator, error) {
	ro := b.baseReadOpts(snap)
	owned := ro != b.ro
	it := b.db.GetBaseDB().NewIterator(ro)
	return newIterator(it, ro, owned, r), nil
}

func (b *Binding) Clear(r engine.Range) error {
	it, err := b.IteratorInit(r, nil)
	if err != nil {
		return err
	}
	defer it.Close()

	wb := grocksdb.NewWriteBatch()
	defer wb.Destroy()
	for {
		entries, finished, err := it.NextV(1000)
		if err != nil {
			return err
		}
		for _, e := range entries {
			wb.Delete(e.Key)
		}
		if finished {
			break
		}
	}
	if err := b.db.GetBaseDB().Write(b.wo, wb); err != nil {
		return fmt.Errorf("rocks: clear: %w", err)
	}
	return nil
}

type snapshot struct {
	handle *grocksdb.Snapshot
	db     *grocksdb.DB
}

func (s *snapshot) Release() {
	s.db.ReleaseSnapshot(s.handle)
}

func (b *Binding) SnapshotInit() (engine.Snapshot, error) {
	base := b.db.GetBaseDB()
	return &snapshot{handle: base.NewSnapshot(), db: base}, nil
}

func (b *Binding) TransactionInit(opts engine.TransactionOptions) (engine.Transaction, error) {
	wo := b.writeOpts(opts.Sync)
	txnOpts := grocksdb.NewDefaultOptimisticTransactionOptions()
	txn := b.db.TransactionBegin(wo, txnOpts, nil)
	return &transaction{binding: b, txn: txn, wo: wo, ownedWO: wo != b.wo}, nil
}

type transaction struct {
	binding *Binding
	txn     *grocksdb.Transaction
	wo      *grocksdb.WriteOptions
	ownedWO bool
	snap    *snapshot
}

func (t *transaction) Get(key []byte) ([]byte, error) {
	slice, err := t.txn.Get(t.binding.ro, key)
	if err != nil {
		return nil, fmt.Errorf("rocks: tx get: %w", err)
	}
	defer slice.Free()
	if !slice.Exists() {
		return nil, engine.ErrNotFound
	}
	out := make([]byte, slice.Size())
	copy(out, slice.Data())
	return out, nil
}

func (t *transaction) GetForUpdate(key []byte) ([]byte, error) {
	slice, err := t.txn.GetForUpdate(t.binding.ro, key)
	if err != nil {
		if isConflict(err) {
			return nil, engine.ErrConflict
		}
		return nil, fmt.Errorf("rocks: tx get-for-update: %w", err)
	}
	defer slice.Free()
	if !slice.Exists() {
		return nil, engine.ErrNotFound
	}
	out := make([]byte, slice.Size())
	copy(out, slice.Data())
	return out, nil
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
	if err := t.txn.Put(key, value); err != nil {
		return fmt.Errorf("rocks: tx put: %w", err)
	}
	return nil
}

func (t *transaction) Delete(key []byte) error {
	if err := t.txn.Delete(key); err != nil {
		return fmt.Errorf("rocks: tx delete: %w", err)
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
	it := t.txn.NewIterator(t.binding.ro)
	return newIterator(it, nil, false, r), nil
}

func (t *transaction) Snapshot() (engine.Snapshot, error) {
	if t.snap != nil {
		return t.snap, nil
	}
	t.txn.SetSnapshot()
	base := t.binding.db.GetBaseDB()
	t.snap = &snapshot{handle: base.GetSnapshot(), db: base}
	return t.snap, nil
}

func (t *transaction) Commit() error {
	err := t.txn.Commit()
	t.txn.Destroy()
	if t.ownedWO {
		t.wo.Destroy()
	}
	if err != nil {
		if isConflict(err) {
			return engine.ErrConflict
		}
		return fmt.Errorf("rocks: commit: %w", err)
	}
	return nil
}

func (t *transaction) Rollback() error {
	err := t.txn.Rollback()
	t.txn.Destroy()
	if t.ownedWO {
		t.wo.Destroy()
	}
	if err != nil {
		return fmt.Errorf("rocks: rollback: %w", err)
	}
	return nil
}

// isConflict recognizes RocksDB's "Busy"/"TryAgain" status class, the
// signal an optimistic transaction was invalidated by a concurrent commit.
func isConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "try again") || strings.Contains(msg, "conflict")
}
