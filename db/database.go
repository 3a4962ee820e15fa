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

// Package db is the top-level key-value store surface: directory-backed
// open/close, root-level namespacing ("data" for user keys, "canary" for
// the key-validation record), a resource registry for outstanding
// iterators and transactions, and the transaction factory.
package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/strongboxdb/strongbox/backend/crypto"
	"github.com/strongboxdb/strongbox/backend/engine"
	"github.com/strongboxdb/strongbox/backend/keycodec"
	"github.com/strongboxdb/strongbox/backend/lockbox"
	"github.com/strongboxdb/strongbox/common"
)

const lockFileName = "LOCK"

// Database is the top-level handle to an open store.
type Database struct {
	dir      string
	binding  engine.Binding
	envelope *crypto.Envelope
	lockBox  *lockbox.LockBox
	fileLock common.LockFile

	mu           sync.Mutex
	running      bool
	destroyed    bool
	nextTxnID    uint64
	iterators    map[*Iterator]struct{}
	transactions map[uint64]*Transaction
}

// Open creates the data directory if absent, opens the configured engine,
// and — if crypto is configured — validates the canary record. On any
// failure after the engine was opened, the engine is closed so its file
// lock does not persist.
func Open(dir string, opts Options) (*Database, error) {
	if opts.Fresh {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDelete, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreate, err)
	}

	fileLock, err := common.CreateLockFile(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: another process holds this database: %w", ErrCreate, err)
	}

	engOpts := opts.Engine
	if engOpts == (engine.Options{}) {
		engOpts = engine.DefaultOptions()
	}
	if err := opts.Binding.Open(dir, engOpts); err != nil {
		fileLock.Release()
		return nil, err
	}

	d := &Database{
		dir:          dir,
		binding:      opts.Binding,
		envelope:     &crypto.Envelope{Key: opts.Key, Ops: opts.Ops},
		lockBox:      lockbox.New(),
		fileLock:     fileLock,
		running:      true,
		iterators:    make(map[*Iterator]struct{}),
		transactions: make(map[uint64]*Transaction),
	}

	if d.envelope.Configured() {
		if err := d.checkCanary(); err != nil {
			opts.Binding.Close()
			fileLock.Release()
			return nil, err
		}
	}

	return d, nil
}

func (d *Database) checkCanary() error {
	key := canaryKeyPath.Clone()
	encoded := encodeRootPath(key)

	stored, err := d.binding.Get(encoded, nil)
	if errors.Is(err, engine.ErrNotFound) {
		plaintext, err := d.envelope.SerializeEncrypt(canaryText, false)
		if err != nil {
			return err
		}
		return d.binding.Put(encoded, plaintext, true)
	}
	if err != nil {
		return err
	}

	var got string
	if derr := d.envelope.DeserializeDecrypt(stored, false, &got); derr != nil {
		if errors.Is(derr, crypto.ErrDecrypt) {
			return ErrKey
		}
		return ErrKey
	}
	if got != canaryText {
		return ErrKey
	}
	return nil
}

func (d *Database) checkRunning() error {
	if d.destroyed {
		return ErrDestroyed
	}
	if !d.running {
		return ErrNotRunning
	}
	return nil
}

func (d *Database) cryptoEnvelope() *crypto.Envelope { return d.envelope }

func (d *Database) iteratorInit(r engine.Range, snap engine.Snapshot) (engine.Iterator, error) {
	return d.binding.IteratorInit(r, snap)
}

func (d *Database) untrackIterator(it *Iterator) {
	d.mu.Lock()
	delete(d.iterators, it)
	d.mu.Unlock()
}

func (d *Database) untrackTransaction(id uint64) {
	d.mu.Lock()
	delete(d.transactions, id)
	d.mu.Unlock()
}

// Get reads key_path (prefixed under the user "data" namespace).
func (d *Database) Get(keyPath Path, raw bool) (any, bool, error) {
	d.mu.Lock()
	if err := d.checkRunning(); err != nil {
		d.mu.Unlock()
		return nil, false, err
	}
	d.mu.Unlock()

	stored, err := d.binding.Get(encodeDataPath(keyPath), nil)
	if errors.Is(err, engine.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := decodeValue(d.envelope, stored, raw)
	return v, true, err
}

func decodeValue(env *crypto.Envelope, stored []byte, raw bool) (any, error) {
	if raw {
		var out []byte
		if err := env.DeserializeDecrypt(stored, true, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var out any
	if err := env.DeserializeDecrypt(stored, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Put writes value at key_path, prefixed under "data".
func (d *Database) Put(keyPath Path, value any, raw bool, sync bool) error {
	d.mu.Lock()
	if err := d.checkRunning(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	stored, err := d.envelope.SerializeEncrypt(value, raw)
	if err != nil {
		return err
	}
	return d.binding.Put(encodeDataPath(keyPath), stored, sync)
}

// Del removes key_path, prefixed under "data".
func (d *Database) Del(keyPath Path, sync bool) error {
	d.mu.Lock()
	if err := d.checkRunning(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()
	return d.binding.Delete(encodeDataPath(keyPath), sync)
}

// BatchOp is a single put/del in an atomic Batch call.
type BatchOp struct {
	Delete  bool
	KeyPath Path
	Value   any
	Raw     bool
}

// Batch submits ops atomically: each key_path is prefixed under "data"
// and each value encrypted before reaching the engine's write batch.
func (d *Database) Batch(ops []BatchOp, sync bool) error {
	d.mu.Lock()
	if err := d.checkRunning(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	engOps := make([]engine.Op, len(ops))
	for i, op := range ops {
		engOps[i].Delete = op.Delete
		engOps[i].Key = encodeDataPath(op.KeyPath)
		if !op.Delete {
			stored, err := d.envelope.SerializeEncrypt(op.Value, op.Raw)
			if err != nil {
				return err
			}
			engOps[i].Value = stored
		}
	}
	return d.binding.BatchDo(engOps, sync)
}

// Iterator returns a ranged, level-relative Iterator over level, prefixed
// under "data".
func (d *Database) Iterator(level Path, opts RangeOptions) (*Iterator, error) {
	d.mu.Lock()
	if err := d.checkRunning(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()

	it, err := newIterator(d, withDataPrefix(level), opts, opts.Snapshot)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.iterators[it] = struct{}{}
	d.mu.Unlock()
	return it, nil
}

// Clear ranged-deletes every entry under level, prefixed under "data".
// The delete is non-atomic: concurrent readers may observe a partially
// cleared range.
func (d *Database) Clear(level Path, opts RangeOptions) error {
	d.mu.Lock()
	if err := d.checkRunning(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()
	return d.binding.Clear(levelBounds(withDataPrefix(level), opts))
}

// Count iterates level with values disabled and returns the entry count.
func (d *Database) Count(level Path, opts RangeOptions) (int, error) {
	opts.Values = false
	it, err := d.Iterator(level, opts)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Err()
}

// DumpEntry is a single (path, value) pair returned by Dump.
type DumpEntry struct {
	Path  Path
	Value any
}

// Dump iterates level (root=true exposes the reserved namespaces
// unprefixed) and returns every entry as a decoded path/value pair. It is
// a diagnostic operation, not meant for production-sized ranges.
func (d *Database) Dump(level Path, raw bool, root bool) ([]DumpEntry, error) {
	d.mu.Lock()
	if err := d.checkRunning(); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()

	effective := level
	if !root {
		effective = withDataPrefix(level)
	}
	opts := DefaultRangeOptions()
	opts.Raw = raw
	opts.ValueAsBytes = raw

	it, err := newIterator(d, effective, opts, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []DumpEntry
	for it.Next() {
		p, err := it.KeyPath()
		if err != nil {
			return nil, err
		}
		v, err := it.Value()
		if err != nil {
			return nil, err
		}
		out = append(out, DumpEntry{Path: p, Value: v})
	}
	return out, it.Err()
}

// Transaction begins a new optimistic transaction and returns it paired
// with a release function: call release(nil) to commit (falling back to
// rollback if commit fails), or release(err) to roll back with cause.
// release always runs the transaction through to Destroy, so its held
// locks are freed and it is dropped from the Database's registry whether
// the commit attempt succeeded, failed, or a cause forced a rollback.
func (d *Database) Transaction() (*Transaction, func(error) error, error) {
	d.mu.Lock()
	if err := d.checkRunning(); err != nil {
		d.mu.Unlock()
		return nil, nil, err
	}
	d.nextTxnID++
	id := d.nextTxnID
	d.mu.Unlock()

	eng, err := d.binding.TransactionInit(engine.TransactionOptions{Sync: true})
	if err != nil {
		return nil, nil, err
	}

	txn := newTransaction(d, id, eng)
	d.mu.Lock()
	d.transactions[id] = txn
	d.mu.Unlock()

	release := func(cause error) error {
		if cause == nil {
			if commitErr := txn.Commit(); commitErr != nil {
				rollbackErr := txn.Rollback(commitErr)
				return errors.Join(commitErr, rollbackErr, txn.Destroy())
			}
			return txn.Destroy()
		}
		rollbackErr := txn.Rollback(cause)
		return errors.Join(cause, rollbackErr, txn.Destroy())
	}
	return txn, release, nil
}

// WithTransaction runs fn against a fresh Transaction, committing on a nil
// return and rolling back (with fn's error as cause) otherwise.
func (d *Database) WithTransaction(fn func(*Transaction) error) error {
	txn, release, err := d.Transaction()
	if err != nil {
		return err
	}
	return release(fn(txn))
}

// SetWorkerManager attaches a crypto offload pool for subsequent
// encrypt/decrypt operations.
func (d *Database) SetWorkerManager(w crypto.WorkerPool, threshold int) {
	d.envelope.Worker = w
	d.envelope.WorkerThreshold = threshold
}

// UnsetWorkerManager detaches any previously attached worker pool.
func (d *Database) UnsetWorkerManager() {
	d.envelope.Worker = nil
}

// Stop drives every outstanding iterator and transaction to completion —
// iterators are closed, active transactions are force-rolled-back, and
// any transaction left undestroyed (including ones just force-rolled-back)
// is destroyed so its locks are freed — then closes the engine and
// releases the process-exclusive file lock. No operation observes a
// closed engine mid-shutdown. A transaction force-rolled-back this way
// reports ErrTransactionRollbacked from any later Commit/release call,
// not nil — its prior destruction does not erase that outcome.
func (d *Database) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	iters := make([]*Iterator, 0, len(d.iterators))
	for it := range d.iterators {
		iters = append(iters, it)
	}
	txns := make([]*Transaction, 0, len(d.transactions))
	for _, t := range d.transactions {
		txns = append(txns, t)
	}
	d.mu.Unlock()

	for _, it := range iters {
		it.Close()
	}
	for _, t := range txns {
		t.mu.Lock()
		state, destroyed := t.state, t.destroyed
		t.mu.Unlock()
		if state == txnActive {
			t.Rollback(ErrNotRunning)
			state = txnRollbacked
		}
		// Transactions already committing/rollbacking run to completion
		// synchronously within their own Commit/Rollback call, so by the
		// time Stop observes them here there is nothing left to await.
		if !destroyed && (state == txnCommitted || state == txnRollbacked) {
			t.Destroy()
		}
	}

	if err := d.binding.Close(); err != nil {
		return err
	}
	if err := d.fileLock.Release(); err != nil {
		return err
	}

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	return nil
}

// Destroy recursively deletes the data directory. The database must
// already be stopped.
func (d *Database) Destroy() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrRunning
	}
	d.destroyed = true
	d.mu.Unlock()

	if err := os.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("%w: %v", ErrDelete, err)
	}
	return nil
}

func encodeRootPath(keyPath Path) []byte {
	return keycodec.EncodeKeyPath(keyPath)
}

func encodeDataPath(keyPath Path) []byte {
	return encodeRootPath(withDataPrefix(keyPath))
}
