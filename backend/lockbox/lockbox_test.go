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

package lockbox

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestLockMulti_AcquisitionOrderIsSortedByKey(t *testing.T) {
	b := New()
	handles := b.LockMulti(Request{Key: "z", Mode: Write}, Request{Key: "a", Mode: Write}, Request{Key: "m", Mode: Write})
	defer func() {
		for i := len(handles) - 1; i >= 0; i-- {
			handles[i].Release()
		}
	}()

	want := []string{"a", "m", "z"}
	for i, h := range handles {
		if h.Key != want[i] {
			t.Errorf("handle %d key = %q, want %q", i, h.Key, want[i])
		}
	}
}

func TestLockMulti_DedupesRepeatedKeys(t *testing.T) {
	b := New()
	handles := b.LockMulti(Request{Key: "a", Mode: Write}, Request{Key: "a", Mode: Write})
	if len(handles) != 1 {
		t.Fatalf("expected 1 handle, got %d", len(handles))
	}
	handles[0].Release()
}

func TestLockMulti_WriteLockExcludesReaders(t *testing.T) {
	b := New()
	h := b.LockMulti(Request{Key: "k", Mode: Write})[0]

	done := make(chan struct{})
	go func() {
		inner := b.LockMulti(Request{Key: "k", Mode: Read})
		close(done)
		inner[0].Release()
	}()

	select {
	case <-done:
		t.Fatalf("reader acquired lock while writer held it")
	case <-time.After(20 * time.Millisecond):
	}

	h.Release()
	<-done
}

func TestLockMulti_MultipleReadersConcurrent(t *testing.T) {
	b := New()
	var active atomic.Int32
	var maxActive atomic.Int32

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			h := b.LockMulti(Request{Key: "shared", Mode: Read})
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			h[0].Release()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	if maxActive.Load() < 2 {
		t.Errorf("expected concurrent readers, max observed = %d", maxActive.Load())
	}
}

func TestHandle_ReleaseIsIdempotent(t *testing.T) {
	b := New()
	h := b.LockMulti(Request{Key: "k", Mode: Write})[0]
	h.Release()
	h.Release()
}
