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

import "github.com/strongboxdb/strongbox/common"

// Database lifecycle errors.
const (
	ErrRunning    common.ConstError = "db: database is already running"
	ErrNotRunning common.ConstError = "db: database is not running"
	ErrDestroyed  common.ConstError = "db: database has been destroyed"
)

// Filesystem-level errors.
const (
	ErrCreate common.ConstError = "db: failed to create data directory"
	ErrDelete common.ConstError = "db: failed to delete data directory"
)

// ErrKey signals the canary record did not validate: either the
// configured crypto key is wrong, or the database is corrupted.
const ErrKey common.ConstError = "db: incorrect key or database is corrupted"

// Transaction state-machine errors.
const (
	ErrTransactionDestroyed             common.ConstError = "db: transaction has been destroyed"
	ErrTransactionCommitted             common.ConstError = "db: transaction is already committed"
	ErrTransactionRollbacked            common.ConstError = "db: transaction is already rolled back"
	ErrTransactionNotCommittedNorRolled common.ConstError = "db: transaction is neither committed nor rolled back"
)

// ErrTransactionConflict signals the engine detected an optimistic
// isolation violation at commit time: the caller should retry the
// transaction from scratch.
const ErrTransactionConflict common.ConstError = "db: transaction conflict"

// ErrTransactionLockType signals a lock was re-requested for an
// already-held key under a different mode within the same transaction.
const ErrTransactionLockType common.ConstError = "db: lock already held under a different mode"

// Iterator state errors.
const (
	ErrIteratorDestroyed common.ConstError = "db: iterator has been destroyed"
	ErrIteratorBusy      common.ConstError = "db: iterator has a read already in flight"
)
