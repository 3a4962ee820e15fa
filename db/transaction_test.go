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
	"testing"
)

func TestTransaction_PutIsVisibleToItselfBeforeCommit(t *testing.T) {
	d := openTestDatabase(t)
	txn, release, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if err := txn.Put(StringPath("k"), "v", false); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	v, ok, err := txn.Get(StringPath("k"), false)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || v != "v" {
		t.Fatalf("got (%v, %v), want (v, true)", v, ok)
	}

	if err := release(nil); err != nil {
		t.Fatalf("release failed: %v", err)
	}
}

func TestTransaction_PutNotVisibleToDatabaseBeforeCommit(t *testing.T) {
	d := openTestDatabase(t)
	txn, release, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := txn.Put(StringPath("k"), "v", false); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	_, ok, err := d.Get(StringPath("k"), false)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("uncommitted write should not be visible outside the transaction")
	}

	if err := release(nil); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	v, ok, err := d.Get(StringPath("k"), false)
	if err != nil || !ok || v != "v" {
		t.Fatalf("got (%v, %v, %v), want (v, true, nil) after commit", v, ok, err)
	}
}

func TestTransaction_RollbackDiscardsWrites(t *testing.T) {
	d := openTestDatabase(t)
	txn, release, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := txn.Put(StringPath("k"), "v", false); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	abort := errors.New("abort")
	if err := release(abort); !errors.Is(err, abort) {
		t.Fatalf("got %v, want %v", err, abort)
	}
	_, ok, err := d.Get(StringPath("k"), false)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("rolled-back write should not be visible")
	}
}

func TestTransaction_CommitIsIdempotent(t *testing.T) {
	d := openTestDatabase(t)
	txn, _, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("second commit should be a no-op, got: %v", err)
	}
}

func TestTransaction_CommitAfterRollbackFails(t *testing.T) {
	d := openTestDatabase(t)
	txn, _, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := txn.Rollback(errors.New("abort")); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if err := txn.Commit(); !errors.Is(err, ErrTransactionRollbacked) {
		t.Fatalf("got %v, want ErrTransactionRollbacked", err)
	}
}

func TestTransaction_GetForUpdateDetectsConflict(t *testing.T) {
	d := openTestDatabase(t)
	if err := d.Put(StringPath("k"), "v1", false, true); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	txn1, _, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin txn1 failed: %v", err)
	}
	if _, _, err := txn1.GetForUpdate(StringPath("k"), false); err != nil {
		t.Fatalf("get-for-update failed: %v", err)
	}

	if err := d.Put(StringPath("k"), "v2", false, true); err != nil {
		t.Fatalf("concurrent put failed: %v", err)
	}

	if err := txn1.Put(StringPath("other"), "x", false); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	err = txn1.Commit()
	if !errors.Is(err, ErrTransactionConflict) {
		t.Fatalf("got %v, want ErrTransactionConflict", err)
	}
}

func TestTransaction_Lock_SameModeReentrant(t *testing.T) {
	d := openTestDatabase(t)
	txn, release, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := txn.Lock(LockRequest{Key: "a", Mode: LockWrite}); err != nil {
		t.Fatalf("first lock failed: %v", err)
	}
	if err := txn.Lock(LockRequest{Key: "a", Mode: LockWrite}); err != nil {
		t.Fatalf("re-locking the same key/mode should be a no-op, got: %v", err)
	}
	if err := release(nil); err != nil {
		t.Fatalf("release failed: %v", err)
	}
}

func TestTransaction_Lock_ConflictingModeFails(t *testing.T) {
	d := openTestDatabase(t)
	txn, release, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := txn.Lock(LockRequest{Key: "a", Mode: LockWrite}); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	err = txn.Lock(LockRequest{Key: "a", Mode: LockRead})
	if !errors.Is(err, ErrTransactionLockType) {
		t.Fatalf("got %v, want ErrTransactionLockType", err)
	}
	release(nil)
}

func TestTransaction_QueueCallbacks_RunOnCommit(t *testing.T) {
	d := openTestDatabase(t)
	txn, release, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	var successRan, finallyRan bool
	txn.QueueSuccess(func() error { successRan = true; return nil })
	txn.QueueFinally(func() error { finallyRan = true; return nil })

	if err := release(nil); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if !successRan {
		t.Fatalf("expected the success callback to run on commit")
	}
	if !finallyRan {
		t.Fatalf("expected the finally callback to run on commit")
	}
}

func TestTransaction_QueueCallbacks_FailureRunsOnRollback(t *testing.T) {
	d := openTestDatabase(t)
	txn, release, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	var failureCause error
	txn.QueueFailure(func(cause error) error { failureCause = cause; return nil })

	cause := errors.New("boom")
	if err := release(cause); !errors.Is(err, cause) {
		t.Fatalf("got %v, want %v", err, cause)
	}
	if !errors.Is(failureCause, cause) {
		t.Fatalf("got %v, want %v", failureCause, cause)
	}
}

func TestTransaction_SetSnapshotPinsRepeatableRead(t *testing.T) {
	d := openTestDatabase(t)
	if err := d.Put(StringPath("k"), "v1", false, true); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	txn, release, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := txn.SetSnapshot(); err != nil {
		t.Fatalf("set snapshot failed: %v", err)
	}

	if err := d.Put(StringPath("k"), "v2", false, true); err != nil {
		t.Fatalf("concurrent put failed: %v", err)
	}

	v, ok, err := txn.Get(StringPath("k"), false)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || v != "v1" {
		t.Fatalf("got (%v, %v), want (v1, true) — SetSnapshot should pin the pre-write view", v, ok)
	}

	if err := release(nil); err != nil {
		t.Fatalf("release failed: %v", err)
	}
}

func TestTransaction_DanglingAfterStopReportsRollbacked(t *testing.T) {
	d := openTestDatabase(t)
	txn, release, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := txn.Put(StringPath("k"), "v", false); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if err := release(nil); !errors.Is(err, ErrTransactionRollbacked) {
		t.Fatalf("got %v, want ErrTransactionRollbacked", err)
	}
}

func TestTransaction_DestroyRequiresCommitOrRollback(t *testing.T) {
	d := openTestDatabase(t)
	txn, release, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := txn.Destroy(); !errors.Is(err, ErrTransactionNotCommittedNorRolled) {
		t.Fatalf("got %v, want ErrTransactionNotCommittedNorRolled", err)
	}
	if err := release(nil); err != nil {
		t.Fatalf("release failed: %v", err)
	}
}

func TestTransaction_DestroyIsNotIdempotent(t *testing.T) {
	d := openTestDatabase(t)
	txn, _, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := txn.Destroy(); err != nil {
		t.Fatalf("first destroy failed: %v", err)
	}
	if err := txn.Destroy(); !errors.Is(err, ErrTransactionDestroyed) {
		t.Fatalf("got %v, want ErrTransactionDestroyed", err)
	}
}

func TestTransaction_IteratorOverlaysUncommittedWrites(t *testing.T) {
	d := openTestDatabase(t)
	if err := d.Put(StringPath("level", "a"), "a", false, true); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	txn, release, err := d.Transaction()
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := txn.Put(StringPath("level", "b"), "b", false); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := txn.Del(StringPath("level", "a")); err != nil {
		t.Fatalf("del failed: %v", err)
	}

	it, err := txn.Iterator(StringPath("level"), DefaultRangeOptions())
	if err != nil {
		t.Fatalf("iterator failed: %v", err)
	}
	var got []string
	for it.Next() {
		k, err := it.Key()
		if err != nil {
			t.Fatalf("key decode failed: %v", err)
		}
		got = append(got, string(k.([]byte)))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration error: %v", err)
	}
	it.Close()

	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("got %v, want [b]", got)
	}

	if err := release(nil); err != nil {
		t.Fatalf("release failed: %v", err)
	}
}
