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

// Package engine declares the abstract contract a storage engine must
// satisfy to back a Database: directory-backed open/close, point
// operations, atomic batches, range iteration, and optimistic
// transactions with commit-time conflict detection. Concrete engines live
// in subpackages (rocks, memldb).
package engine

import (
	"github.com/strongboxdb/strongbox/common"
)

// ErrNotFound is returned by Get and transaction Get/GetForUpdate when the
// key does not exist. It is distinct from a zero-length value.
const ErrNotFound common.ConstError = "engine: key not found"

// ErrConflict is returned by Commit when the engine detects that the
// transaction's optimistic isolation was violated: a key read via
// GetForUpdate (or written) was modified by another committed transaction
// since this transaction's snapshot was established.
const ErrConflict common.ConstError = "engine: transaction conflict"

// InfoLogLevel mirrors the engine's native logging verbosity levels.
type InfoLogLevel int

const (
	LogDebug InfoLogLevel = iota
	LogInfo
	LogWarn
	LogError
	LogFatal
	LogHeader
)

// Compression selects the engine's block compression algorithm.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionZSTD
)

// Options configures Open. Sizes are in bytes; zero values fall back to
// the engine's own defaults.
type Options struct {
	CreateIfMissing bool
	ErrorIfExists   bool
	Compression     Compression
	CacheSize       int64
	WriteBufferSize int64
	BlockSize       int
	MaxOpenFiles    int
	BlockRestartInterval int
	MaxFileSize     int64
	InfoLogLevel    InfoLogLevel
}

// DefaultOptions returns the database-options defaults named by the
// external interface: 8 MiB cache, 4 MiB write buffer, 4096-byte blocks,
// 1000 open files, restart interval 16, 2 MiB max sstable size.
func DefaultOptions() Options {
	return Options{
		CreateIfMissing:      true,
		CacheSize:            8 << 20,
		WriteBufferSize:      4 << 20,
		BlockSize:            4096,
		MaxOpenFiles:         1000,
		BlockRestartInterval: 16,
		MaxFileSize:          2 << 20,
		InfoLogLevel:         LogInfo,
	}
}

// Entry is a single decoded key/value pair returned by NextV.
type Entry struct {
	Key   []byte
	Value []byte
}

// Range bounds an iteration or clear. A nil bound on Lower/Upper means
// unbounded in that direction. Lower is exclusive when LowerExclusive is
// set (used for the level-prefix "gt" bound); Upper is exclusive unless
// UpperInclusive is set.
type Range struct {
	Lower          []byte
	LowerExclusive bool
	Upper          []byte
	UpperInclusive bool
	Reverse        bool
}

// Op is a single mutation in an atomic BatchDo call.
type Op struct {
	Delete bool
	Key    []byte
	Value  []byte
}

// Snapshot is an opaque handle to a consistent point-in-time view of the
// database, acquired from a Binding or a Transaction and released exactly
// once.
type Snapshot interface {
	Release()
}

// Iterator is the engine-level cursor produced by IteratorInit. Batch reads
// are driven by NextV; the caller owns translating the raw keys/values.
type Iterator interface {
	Seek(key []byte)
	// NextV returns up to n entries starting from the cursor, advancing it,
	// and reports whether iteration is finished (no more entries after
	// this batch).
	NextV(n int) (entries []Entry, finished bool, err error)
	Close()
}

// Transaction is an optimistic transaction bound to a Binding. Conflict
// detection is engine-internal: Commit returns ErrConflict when a tracked
// read (via GetForUpdate/MultiGetForUpdate) or write collides with another
// transaction committed in the meantime.
type Transaction interface {
	Get(key []byte) ([]byte, error)
	GetForUpdate(key []byte) ([]byte, error)
	MultiGet(keys [][]byte) ([][]byte, error)
	MultiGetForUpdate(keys [][]byte) ([][]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Clear(r Range) error
	IteratorInit(r Range) (Iterator, error)
	// Snapshot returns the transaction-bound snapshot, lazily establishing
	// one on first call. Idempotent.
	Snapshot() (Snapshot, error)
	Commit() error
	Rollback() error
}

// TransactionOptions configures Init.
type TransactionOptions struct {
	Sync bool
}

// Binding is the abstract interface a storage engine must implement.
// Concrete adapters (rocks.Binding, memldb.Binding) wrap a real engine
// handle; Database and Transaction are written only against this
// interface.
type Binding interface {
	Open(path string, opts Options) error
	Close() error

	Get(key []byte, snap Snapshot) ([]byte, error)
	Put(key, value []byte, sync bool) error
	Delete(key []byte, sync bool) error
	BatchDo(ops []Op, sync bool) error

	IteratorInit(r Range, snap Snapshot) (Iterator, error)
	Clear(r Range) error

	SnapshotInit() (Snapshot, error)

	TransactionInit(opts TransactionOptions) (Transaction, error)
}
