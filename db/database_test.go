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
	"os"
	"path/filepath"
	"testing"

	"github.com/strongboxdb/strongbox/backend/crypto"
	"github.com/strongboxdb/strongbox/backend/engine/memldb"
)

func openTestDatabase(t *testing.T) *Database {
	t.Helper()
	opts := Options{Binding: memldb.New()}
	d, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { d.Stop() })
	return d
}

func TestOpen_FreshDirectoryWorks(t *testing.T) {
	openTestDatabase(t)
}

func TestOpen_InvalidDirectoryFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "some_file.dat")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	_, err := Open(path, Options{Binding: memldb.New()})
	if err == nil {
		t.Fatalf("expected an error opening a regular file as a database directory")
	}
}

func TestOpen_FreshOptionWipesExistingData(t *testing.T) {
	dir := t.TempDir()
	d := openDatabaseAt(t, dir, Options{Binding: memldb.New()})
	if err := d.Put(StringPath("k"), "v", false, true); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	d.Stop()

	d2 := openDatabaseAt(t, dir, Options{Binding: memldb.New(), Fresh: true})
	_, ok, err := d2.Get(StringPath("k"), false)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be gone after Fresh open")
	}
}

func openDatabaseAt(t *testing.T, dir string, opts Options) *Database {
	t.Helper()
	d, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { d.Stop() })
	return d
}

func TestPutGetDel_Roundtrip(t *testing.T) {
	d := openTestDatabase(t)

	if err := d.Put(StringPath("a", "b"), "hello", false, true); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	v, ok, err := d.Get(StringPath("a", "b"), false)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || v != "hello" {
		t.Fatalf("got (%v, %v), want (hello, true)", v, ok)
	}

	if err := d.Del(StringPath("a", "b"), true); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	_, ok, err = d.Get(StringPath("a", "b"), false)
	if err != nil {
		t.Fatalf("get after del failed: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be gone after del")
	}
}

func TestGet_MissingKeyReturnsFalseNoError(t *testing.T) {
	d := openTestDatabase(t)
	_, ok, err := d.Get(StringPath("missing"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for a missing key")
	}
}

func TestPutGet_RawBytes(t *testing.T) {
	d := openTestDatabase(t)
	payload := []byte{0x00, 0x01, 0xff}
	if err := d.Put(StringPath("r"), payload, true, true); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	v, ok, err := d.Get(StringPath("r"), true)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected the key to exist")
	}
	got, isBytes := v.([]byte)
	if !isBytes || string(got) != string(payload) {
		t.Fatalf("got %v, want %v", v, payload)
	}
}

func TestBatch_AppliesPutsAndDeletesAtomically(t *testing.T) {
	d := openTestDatabase(t)
	if err := d.Put(StringPath("x"), "old", false, true); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	ops := []BatchOp{
		{KeyPath: StringPath("x"), Delete: true},
		{KeyPath: StringPath("y"), Value: "new"},
	}
	if err := d.Batch(ops, true); err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	_, ok, _ := d.Get(StringPath("x"), false)
	if ok {
		t.Fatalf("expected x to be deleted by the batch")
	}
	v, ok, _ := d.Get(StringPath("y"), false)
	if !ok || v != "new" {
		t.Fatalf("expected y=new, got (%v, %v)", v, ok)
	}
}

func TestIterator_ScansLevelInOrder(t *testing.T) {
	d := openTestDatabase(t)
	for _, k := range []string{"b", "a", "c"} {
		if err := d.Put(StringPath("level", k), k, false, true); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	it, err := d.Iterator(StringPath("level"), DefaultRangeOptions())
	if err != nil {
		t.Fatalf("iterator failed: %v", err)
	}
	defer it.Close()

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

	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestClear_RemovesEveryEntryUnderLevel(t *testing.T) {
	d := openTestDatabase(t)
	for _, k := range []string{"a", "b", "c"} {
		if err := d.Put(StringPath("level", k), k, false, true); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}
	if err := d.Clear(StringPath("level"), DefaultRangeOptions()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	n, err := d.Count(StringPath("level"), DefaultRangeOptions())
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 entries after Clear, got %d", n)
	}
}

func TestCount_MatchesNumberOfEntries(t *testing.T) {
	d := openTestDatabase(t)
	for i := 0; i < 5; i++ {
		if err := d.Put(StringPath("level", string(rune('a'+i))), i, false, true); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}
	n, err := d.Count(StringPath("level"), DefaultRangeOptions())
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 5 {
		t.Fatalf("got %d, want 5", n)
	}
}

func TestWithTransaction_CommitsOnNilReturn(t *testing.T) {
	d := openTestDatabase(t)
	err := d.WithTransaction(func(txn *Transaction) error {
		return txn.Put(StringPath("k"), "v", false)
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}
	v, ok, err := d.Get(StringPath("k"), false)
	if err != nil || !ok || v != "v" {
		t.Fatalf("got (%v, %v, %v), want (v, true, nil)", v, ok, err)
	}
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	d := openTestDatabase(t)
	injected := errors.New("injected")
	err := d.WithTransaction(func(txn *Transaction) error {
		if err := txn.Put(StringPath("k"), "v", false); err != nil {
			return err
		}
		return injected
	})
	if !errors.Is(err, injected) {
		t.Fatalf("got %v, want %v", err, injected)
	}
	_, ok, _ := d.Get(StringPath("k"), false)
	if ok {
		t.Fatalf("expected the write to be rolled back")
	}
}

func TestStop_IsIdempotent(t *testing.T) {
	d := openTestDatabase(t)
	if err := d.Stop(); err != nil {
		t.Fatalf("first stop failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("second stop should be a no-op, got: %v", err)
	}
}

func TestOperations_FailAfterStop(t *testing.T) {
	d := openTestDatabase(t)
	if err := d.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	_, _, err := d.Get(StringPath("k"), false)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("got %v, want ErrNotRunning", err)
	}
}

func TestDestroy_RequiresStoppedDatabase(t *testing.T) {
	d := openTestDatabase(t)
	if err := d.Destroy(); !errors.Is(err, ErrRunning) {
		t.Fatalf("got %v, want ErrRunning", err)
	}
}

func TestDestroy_RemovesDataDirectory(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir, Options{Binding: memldb.New()})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := d.Destroy(); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected directory to be removed, stat err: %v", err)
	}
}

func TestOpen_CanaryDetectsWrongKey(t *testing.T) {
	dir := t.TempDir()
	ops := crypto.NewChaCha20Poly1305()

	d, err := Open(dir, Options{
		Binding: memldb.New(),
		Key:     make([]byte, 32),
		Ops:     ops,
	})
	if err != nil {
		t.Fatalf("open with key failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	wrongKey := make([]byte, 32)
	wrongKey[0] = 1
	_, err = Open(dir, Options{
		Binding: memldb.New(),
		Key:     wrongKey,
		Ops:     ops,
	})
	if !errors.Is(err, ErrKey) {
		t.Fatalf("got %v, want ErrKey", err)
	}
}

func TestDump_RootExposesCanaryNamespace(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir, Options{
		Binding: memldb.New(),
		Key:     make([]byte, 32),
		Ops:     crypto.NewChaCha20Poly1305(),
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { d.Stop() })

	if err := d.Put(StringPath("a"), "v", false, true); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	entries, err := d.Dump(nil, false, true)
	if err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected at least the data namespace entry at root")
	}
	foundCanary := false
	for _, e := range entries {
		if e.Path.Equal(StringPath("canary")) {
			foundCanary = true
		}
	}
	if !foundCanary {
		t.Fatalf("expected the canary record in a root dump, got %v", entries)
	}
}
