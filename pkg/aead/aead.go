// Package aead provides the encryption-at-rest collaborator used by the
// database engine to seal row values before they reach the WAL or a
// segment. The interface is deliberately narrow (encrypt/decrypt a value
// bound to a table name and primary key) so the engine never needs to
// know which AEAD construction backs it.
//
// The default implementation uses golang.org/x/crypto/chacha20poly1305:
// constant time without a hardware-AES dependency, and keyed by a single
// 32-byte secret.
package aead

import (
	"crypto/rand"
	"io"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer is the AEAD collaborator interface: encrypt and
// decrypt take the table name and primary key as associated data, binding
// a ciphertext to the row it belongs to so it cannot be copied to a
// different key or table undetected.
type Sealer interface {
	Encrypt(plaintext []byte, table string, pk []byte) ([]byte, error)
	Decrypt(ciphertext []byte, table string, pk []byte) ([]byte, error)
}

// ChaCha20Poly1305 is the default Sealer, keyed by a single 32-byte secret
// supplied at Options construction time.
type ChaCha20Poly1305 struct {
	key [chacha20poly1305.KeySize]byte
}

// NewChaCha20Poly1305 builds a Sealer from a 32-byte key.
func NewChaCha20Poly1305(key []byte) (*ChaCha20Poly1305, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.Newf("aead: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	s := &ChaCha20Poly1305{}
	copy(s.key[:], key)
	return s, nil
}

func additionalData(table string, pk []byte) []byte {
	aad := make([]byte, 0, len(table)+1+len(pk))
	aad = append(aad, []byte(table)...)
	aad = append(aad, 0)
	aad = append(aad, pk...)
	return aad
}

// Encrypt seals plaintext, prefixing the returned ciphertext with a random
// nonce so Decrypt is self-contained.
func (s *ChaCha20Poly1305) Encrypt(plaintext []byte, table string, pk []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(s.key[:])
	if err != nil {
		return nil, errors.Wrap(err, "aead: construct cipher")
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "aead: generate nonce")
	}
	out := aead.Seal(nonce, nonce, plaintext, additionalData(table, pk))
	return out, nil
}

// Decrypt opens a ciphertext produced by Encrypt. table and pk must match
// what was supplied at encryption time or the AEAD tag check fails.
func (s *ChaCha20Poly1305) Decrypt(ciphertext []byte, table string, pk []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(s.key[:])
	if err != nil {
		return nil, errors.Wrap(err, "aead: construct cipher")
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, errors.New("aead: ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, additionalData(table, pk))
	if err != nil {
		return nil, errors.Wrap(err, "aead: decrypt")
	}
	return plaintext, nil
}

// NoopSealer passes values through unchanged; used when Options.Encryption
// is nil, so the engine's row-write path never needs a nil check.
type NoopSealer struct{}

func (NoopSealer) Encrypt(plaintext []byte, table string, pk []byte) ([]byte, error) {
	return plaintext, nil
}

func (NoopSealer) Decrypt(ciphertext []byte, table string, pk []byte) ([]byte, error) {
	return ciphertext, nil
}
