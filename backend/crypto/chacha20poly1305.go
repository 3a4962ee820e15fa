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

package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// chacha20poly1305Ops is a ready-to-use Ops backed by
// golang.org/x/crypto/chacha20poly1305. Every seal prepends a fresh random
// nonce to the ciphertext; Open reads it back off the front.
type chacha20poly1305Ops struct{}

// NewChaCha20Poly1305 returns an Ops callers can hand to Envelope without
// bringing their own AEAD implementation. It requires a 32-byte key, the
// size chacha20poly1305.New expects.
func NewChaCha20Poly1305() Ops {
	return chacha20poly1305Ops{}
}

func (chacha20poly1305Ops) Encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid key: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce generation failed: %w", err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

func (chacha20poly1305Ops) Decrypt(key, ciphertext []byte) ([]byte, bool) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, false
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, false
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}
