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

package common

// Releaser is an interface for types owning engine-level resources (engine
// snapshots, iterators, transactions) that must be released exactly once to
// avoid leaking file locks or pinned sstables.
type Releaser interface {
	// Release releases bound resources for re-use. The object this function is
	// called on becomes invalid for any future operation afterwards.
	Release()
}
