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
	"errors"
	"sync"

	"github.com/strongboxdb/strongbox/backend/crypto"
	"github.com/strongboxdb/strongbox/backend/engine"
	"github.com/strongboxdb/strongbox/backend/keycodec"
	"github.com/strongboxdb/strongbox/backend/lockbox"
)

// Mode and LockRequest re-export lockbox's vocabulary so callers need not
// import the backend package directly.
type Mode = lockbox.Mode

const (
	LockWrite = lockbox.Write
	LockRead  = lockbox.Read
)

type LockRequest = lockbox.Request

type txnState int

const (
	txnActive txnState = iota
	txnCommitting
	txnCommitted
	txnRollbacking
	txnRollbacked
)

// Transaction layers an optimistic write overlay over a lazily-acquired
// snapshot view of the database. get_for_update-tracked reads participate
// in the engine's commit-time conflict detection; LockMulti-acquired
// advisory locks add an orthogonal, user-driven coordination mechanism.
// Commit/Rollback settle the transaction's outcome; Destroy is a separate,
// later step that releases locks and drops the transaction from its
// Database's registry.
type Transaction struct {
	db  *Database
	id  uint64
	eng engine.Transaction

	mu        sync.Mutex
	state     txnState
	destroyed bool

	iterators map[*Iterator]struct{}

	heldLocks map[string]Mode
	lockOrder []*lockbox.Handle

	onSuccess []func() error
	onFailure []func(error) error
	onFinally []func() error
}

func newTransaction(d *Database, id uint64, eng engine.Transaction) *Transaction {
	return &Transaction{
		db:        d,
		id:        id,
		eng:       eng,
		iterators: make(map[*Iterator]struct{}),
		heldLocks: make(map[string]Mode),
	}
}

func (t *Transaction) checkActive() error {
	switch t.state {
	case txnCommitting, txnCommitted:
		return ErrTransactionCommitted
	case txnRollbacking, txnRollbacked:
		return ErrTransactionRollbacked
	default:
		return nil
	}
}

func (t *Transaction) cryptoEnvelope() *crypto.Envelope {
	return t.db.envelope
}

// SetSnapshot pins the transaction's consistent view ahead of its first
// read or write. Without an explicit call, the view is established lazily
// by whichever of Get/GetForUpdate/Put/Del runs first; SetSnapshot lets a
// caller that needs a repeatable read establish it up front instead.
// Calling it again once a snapshot already exists is a no-op.
func (t *Transaction) SetSnapshot() error {
	t.mu.Lock()
	if err := t.checkActive(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	_, err := t.eng.Snapshot()
	return err
}

func (t *Transaction) iteratorInit(r engine.Range, _ engine.Snapshot) (engine.Iterator, error) {
	// A transaction's iterator always overlays its own pending writes on
	// its own snapshot; an explicit RangeOptions.Snapshot is meaningless
	// here and intentionally ignored.
	return t.eng.IteratorInit(r)
}

func (t *Transaction) untrackIterator(it *Iterator) {
	t.mu.Lock()
	delete(t.iterators, it)
	t.mu.Unlock()
}

func (t *Transaction) fullPath(keyPath Path) []byte {
	return keycodec.EncodeKeyPath(withDataPrefix(keyPath))
}

// Get reads a key through the transaction's lazy snapshot.
func (t *Transaction) Get(keyPath Path, raw bool) (any, bool, error) {
	t.mu.Lock()
	if err := t.checkActive(); err != nil {
		t.mu.Unlock()
		return nil, false, err
	}
	t.mu.Unlock()

	stored, err := t.eng.Get(t.fullPath(keyPath))
	if errors.Is(err, engine.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := t.decode(stored, raw)
	return v, true, err
}

// GetForUpdate promotes the read to a tracked same-value write for
// commit-time conflict detection.
func (t *Transaction) GetForUpdate(keyPath Path, raw bool) (any, bool, error) {
	t.mu.Lock()
	if err := t.checkActive(); err != nil {
		t.mu.Unlock()
		return nil, false, err
	}
	t.mu.Unlock()

	stored, err := t.eng.GetForUpdate(t.fullPath(keyPath))
	if errors.Is(err, engine.ErrConflict) {
		return nil, false, ErrTransactionConflict
	}
	if errors.Is(err, engine.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := t.decode(stored, raw)
	return v, true, err
}

func (t *Transaction) decode(stored []byte, raw bool) (any, error) {
	if raw {
		var out []byte
		if err := t.db.envelope.DeserializeDecrypt(stored, true, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var out any
	if err := t.db.envelope.DeserializeDecrypt(stored, false, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MultiGet is the bulk variant of Get.
func (t *Transaction) MultiGet(keyPaths []Path, raw bool) ([]any, error) {
	out := make([]any, len(keyPaths))
	for i, p := range keyPaths {
		v, ok, err := t.Get(p, raw)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = v
		}
	}
	return out, nil
}

// MultiGetForUpdate is the bulk variant of GetForUpdate.
func (t *Transaction) MultiGetForUpdate(keyPaths []Path, raw bool) ([]any, error) {
	out := make([]any, len(keyPaths))
	for i, p := range keyPaths {
		v, ok, err := t.GetForUpdate(p, raw)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = v
		}
	}
	return out, nil
}

// Put writes key_path/value into the transaction's overlay, establishing
// the lazy snapshot if this is the first read or write.
func (t *Transaction) Put(keyPath Path, value any, raw bool) error {
	t.mu.Lock()
	if err := t.checkActive(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	stored, err := t.db.envelope.SerializeEncrypt(value, raw)
	if err != nil {
		return err
	}
	return t.eng.Put(t.fullPath(keyPath), stored)
}

// Del removes key_path from the transaction's overlay.
func (t *Transaction) Del(keyPath Path) error {
	t.mu.Lock()
	if err := t.checkActive(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()
	return t.eng.Delete(t.fullPath(keyPath))
}

// Iterator returns a transaction-aware Iterator over level, overlaying
// pending writes on the snapshot view.
func (t *Transaction) Iterator(level Path, opts RangeOptions) (*Iterator, error) {
	t.mu.Lock()
	if err := t.checkActive(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	it, err := newIterator(t, withDataPrefix(level), opts, nil)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.iterators[it] = struct{}{}
	t.mu.Unlock()
	return it, nil
}

// Clear deletes every entry under level into the transaction's overlay.
func (t *Transaction) Clear(level Path, opts RangeOptions) error {
	t.mu.Lock()
	if err := t.checkActive(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()
	return t.eng.Clear(levelBounds(withDataPrefix(level), opts))
}

// Count iterates level with values disabled and returns the entry count.
func (t *Transaction) Count(level Path, opts RangeOptions) (int, error) {
	opts.Values = false
	it, err := t.Iterator(level, opts)
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

// Lock acquires the named advisory locks in sorted order. Re-requesting an
// already-held key with the same mode is a no-op; a different mode fails
// with ErrTransactionLockType.
func (t *Transaction) Lock(requests ...LockRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var fresh []LockRequest
	for _, r := range requests {
		if mode, held := t.heldLocks[r.Key]; held {
			if mode != r.Mode {
				return ErrTransactionLockType
			}
			continue
		}
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return nil
	}

	handles := t.db.lockBox.LockMulti(fresh...)
	for _, h := range handles {
		t.heldLocks[h.Key] = h.Mode
		t.lockOrder = append(t.lockOrder, h)
	}
	return nil
}

// Unlock releases the named locks, in the given order, if held.
func (t *Transaction) Unlock(keys ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range keys {
		if _, held := t.heldLocks[key]; !held {
			continue
		}
		delete(t.heldLocks, key)
		for i, h := range t.lockOrder {
			if h.Key == key {
				h.Release()
				t.lockOrder = append(t.lockOrder[:i], t.lockOrder[i+1:]...)
				break
			}
		}
	}
}

func (t *Transaction) QueueSuccess(f func() error) { t.onSuccess = append(t.onSuccess, f) }
func (t *Transaction) QueueFailure(f func(error) error) {
	t.onFailure = append(t.onFailure, f)
}
func (t *Transaction) QueueFinally(f func() error) { t.onFinally = append(t.onFinally, f) }

func (t *Transaction) destroyIterators() {
	t.mu.Lock()
	iters := make([]*Iterator, 0, len(t.iterators))
	for it := range t.iterators {
		iters = append(iters, it)
	}
	t.mu.Unlock()
	for _, it := range iters {
		it.Close()
	}
}

// releaseLocks unlocks every held lock in reverse acquisition order.
func (t *Transaction) releaseLocks() {
	t.mu.Lock()
	order := t.lockOrder
	t.lockOrder = nil
	t.heldLocks = make(map[string]Mode)
	t.mu.Unlock()
	for i := len(order) - 1; i >= 0; i-- {
		order[i].Release()
	}
}

func (t *Transaction) runFinally() error {
	var errs []error
	for _, f := range t.onFinally {
		if err := f(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Commit finalizes the transaction. If the engine reports an optimistic
// isolation violation, that is surfaced as ErrTransactionConflict so the
// caller can retry. Commit is idempotent once committed.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	switch t.state {
	case txnCommitted:
		t.mu.Unlock()
		return nil
	case txnRollbacking, txnRollbacked:
		t.mu.Unlock()
		return ErrTransactionRollbacked
	}
	t.state = txnCommitting
	t.mu.Unlock()

	t.destroyIterators()

	commitErr := t.eng.Commit()
	if errors.Is(commitErr, engine.ErrConflict) {
		commitErr = ErrTransactionConflict
	}

	t.mu.Lock()
	t.state = txnCommitted
	t.mu.Unlock()

	var successErr error
	if commitErr == nil {
		for _, f := range t.onSuccess {
			if err := f(); err != nil {
				successErr = errors.Join(successErr, err)
			}
		}
	}
	finallyErr := t.runFinally()

	return errors.Join(commitErr, successErr, finallyErr)
}

// Rollback aborts the transaction, running registered failure then
// finally callbacks with cause. Idempotent once rolled back.
func (t *Transaction) Rollback(cause error) error {
	t.mu.Lock()
	switch t.state {
	case txnRollbacked:
		t.mu.Unlock()
		return nil
	case txnCommitting, txnCommitted:
		t.mu.Unlock()
		return ErrTransactionCommitted
	}
	t.state = txnRollbacking
	t.mu.Unlock()

	t.destroyIterators()

	rollbackErr := t.eng.Rollback()

	var failureErr error
	for _, f := range t.onFailure {
		if err := f(cause); err != nil {
			failureErr = errors.Join(failureErr, err)
		}
	}
	finallyErr := t.runFinally()

	t.mu.Lock()
	t.state = txnRollbacked
	t.mu.Unlock()

	return errors.Join(rollbackErr, failureErr, finallyErr)
}

// Destroy releases the transaction's held locks and removes it from its
// Database's registry. It is the distinct terminal step that follows a
// Commit or Rollback: it may only run once the transaction has reached
// Committed or Rollbacked, and it may only run once. Calling it before
// then returns ErrTransactionNotCommittedNorRolled; calling it again
// returns ErrTransactionDestroyed.
func (t *Transaction) Destroy() error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return ErrTransactionDestroyed
	}
	switch t.state {
	case txnCommitted, txnRollbacked:
	default:
		t.mu.Unlock()
		return ErrTransactionNotCommittedNorRolled
	}
	t.destroyed = true
	t.mu.Unlock()

	t.releaseLocks()
	t.db.untrackTransaction(t.id)
	return nil
}
