// ABOUTME: XChaCha20-Poly1305 sealing of small secrets such as Redmine API tokens
// ABOUTME: Output format is version byte, 24-byte nonce, then ciphertext with tag

package secrets

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size in bytes of the encryption key.
const KeySize = chacha20poly1305.KeySize

// blobVersion prefixes every sealed blob and is authenticated as AAD.
const blobVersion byte = 0x01

// blobOverhead is version + nonce + Poly1305 tag.
const blobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// ErrDecrypt is returned when a blob cannot be opened with the current key.
var ErrDecrypt = errors.New("decryption failed")

// NewKey returns a fresh random key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

func buildAAD(version byte, label string) []byte {
	aad := make([]byte, 0, 1+len(label))
	aad = append(aad, version)
	return append(aad, label...)
}

// seal encrypts plaintext. The label is bound into the AAD so a blob sealed
// for one identity cannot be replayed under another key name.
func seal(key, plaintext []byte, label string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), blobOverhead+len(plaintext))
	out[0] = blobVersion
	copy(out[1:], nonce[:])
	return aead.Seal(out, nonce[:], plaintext, buildAAD(blobVersion, label)), nil
}

// open reverses seal. Any failure wraps ErrDecrypt.
func open(key, blob []byte, label string) ([]byte, error) {
	if len(blob) < blobOverhead {
		return nil, fmt.Errorf("%w: blob is %d bytes, minimum is %d", ErrDecrypt, len(blob), blobOverhead)
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("%w: unsupported blob version %d", ErrDecrypt, blob[0])
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], buildAAD(blob[0], label))
	if err != nil {
		return nil, fmt.Errorf("%w: wrong key or tampered data", ErrDecrypt)
	}
	return plaintext, nil
}
