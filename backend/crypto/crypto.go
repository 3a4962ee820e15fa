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

// Package crypto wraps serialized values in an optional, caller-supplied
// AEAD envelope before they reach the storage engine, and handles the
// raw-bytes/JSON branching used for both user values and the canary record.
package crypto

import (
	"encoding/json"
	"fmt"

	"github.com/strongboxdb/strongbox/common"
)

// ErrDecrypt signals that an AEAD seal could not be authenticated: the key
// is wrong, or the stored bytes are corrupted.
const ErrDecrypt common.ConstError = "crypto: decryption failed"

// ErrParseValue signals that deserialized bytes were not valid JSON for the
// value's static shape.
const ErrParseValue common.ConstError = "crypto: malformed value"

// Ops is the AEAD primitive supplied by the caller. Decrypt returns
// ok=false, rather than an error, when authentication fails, mirroring the
// spec's "decrypt returning None signals authentication failure" contract.
type Ops interface {
	Encrypt(key, plaintext []byte) (ciphertext []byte, err error)
	Decrypt(key, ciphertext []byte) (plaintext []byte, ok bool)
}

// WorkerPool is an optional offload hook: when set on an Envelope, seals
// and opens at or above a size threshold are run through it instead of
// inline.
// The contract and result are identical either way; only where the work
// runs changes.
type WorkerPool interface {
	Run(func() ([]byte, error)) ([]byte, error)
}

// Envelope bundles an AEAD key and Ops, and implements the
// serialize-then-encrypt / decrypt-then-deserialize pipeline. A nil Ops
// means crypto is not configured: values are stored verbatim.
type Envelope struct {
	Key []byte
	Ops Ops

	// Worker, if set, receives offload-eligible encrypt/decrypt closures
	// instead of running them on the caller's goroutine.
	Worker WorkerPool
	// WorkerThreshold is the plaintext/ciphertext size, in bytes, at or
	// above which work is offloaded to Worker. Zero means always offload when a
	// Worker is set.
	WorkerThreshold int
}

// Configured reports whether an AEAD primitive has been supplied.
func (e *Envelope) Configured() bool {
	return e != nil && e.Ops != nil
}

// SerializeEncrypt turns value into storable bytes: raw bytes verbatim
// when raw is true, otherwise its JSON encoding; then seals the result if
// crypto is configured.
func (e *Envelope) SerializeEncrypt(value any, raw bool) ([]byte, error) {
	plaintext, err := toPlaintext(value, raw)
	if err != nil {
		return nil, err
	}
	if !e.Configured() {
		return plaintext, nil
	}
	return e.run(len(plaintext), func() ([]byte, error) {
		return e.Ops.Encrypt(e.Key, plaintext)
	})
}

// DeserializeDecrypt reverses SerializeEncrypt: opens the AEAD seal if
// crypto is configured, then returns the raw bytes or JSON-decodes them
// into a structured value.
func (e *Envelope) DeserializeDecrypt(stored []byte, raw bool, out any) error {
	plaintext := stored
	if e.Configured() {
		opened, err := e.run(len(stored), func() ([]byte, error) {
			pt, ok := e.Ops.Decrypt(e.Key, stored)
			if !ok {
				return nil, ErrDecrypt
			}
			return pt, nil
		})
		if err != nil {
			return err
		}
		plaintext = opened
	}
	if raw {
		switch dst := out.(type) {
		case *[]byte:
			*dst = plaintext
			return nil
		default:
			return fmt.Errorf("crypto: raw output destination must be *[]byte")
		}
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: %v", ErrParseValue, err)
	}
	return nil
}

func toPlaintext(value any, raw bool) ([]byte, error) {
	if raw {
		b, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("crypto: raw value must be []byte, got %T", value)
		}
		return b, nil
	}
	return json.Marshal(value)
}

func (e *Envelope) run(size int, f func() ([]byte, error)) ([]byte, error) {
	if e.Worker == nil || size < e.WorkerThreshold {
		return f()
	}
	return e.Worker.Run(f)
}
