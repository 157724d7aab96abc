// ABOUTME: Process-wide encryption key kept in the fast store under encryption:key
// ABOUTME: Bootstraps the key once, then seals and opens string secrets with it

package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/redmine-bridge/internal/store"
)

// KeyName is the fast-store key holding the base64 encryption key.
const KeyName = "encryption:key"

var (
	// ErrKeyMissing is returned when the encryption key is absent from the store.
	ErrKeyMissing = errors.New("encryption key missing from store")

	// ErrKeyUnavailable means the store holding the key could not be read. Retryable.
	ErrKeyUnavailable = errors.New("encryption key unavailable")
)

// Keyring loads the encryption key from a KV store on first use and caches it.
type Keyring struct {
	kv     store.KV
	logger *slog.Logger

	mu  sync.Mutex
	key []byte
}

// NewKeyring creates a keyring backed by kv.
func NewKeyring(kv store.KV, logger *slog.Logger) *Keyring {
	return &Keyring{kv: kv, logger: logger.With("component", "secrets")}
}

// Ensure creates the key when none exists. It reports whether a new key was written.
// Concurrent callers across processes agree on one key because the write is SETNX.
func (k *Keyring) Ensure(ctx context.Context) (bool, error) {
	key, err := NewKey()
	if err != nil {
		return false, err
	}
	created, err := k.kv.SetNX(ctx, KeyName, []byte(base64.StdEncoding.EncodeToString(key)))
	if err != nil {
		return false, fmt.Errorf("storing encryption key: %w", err)
	}
	if created {
		k.logger.Info("generated new encryption key")
	}
	return created, nil
}

func (k *Keyring) load(ctx context.Context) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.key != nil {
		return k.key, nil
	}

	raw, err := k.kv.Get(ctx, KeyName)
	if errors.Is(err, store.ErrNotFound) {
		k.logger.Error("encryption key is missing; refusing to handle secrets", "key", KeyName)
		return nil, ErrKeyMissing
	}
	if err != nil {
		k.logger.Warn("failed to read encryption key", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(key) != KeySize {
		return nil, fmt.Errorf("%w: stored key is malformed", ErrDecrypt)
	}
	k.key = key
	return key, nil
}

// Encrypt seals plaintext bound to label and returns base64 text.
func (k *Keyring) Encrypt(ctx context.Context, plaintext, label string) (string, error) {
	key, err := k.load(ctx)
	if err != nil {
		return "", err
	}
	blob, err := seal(key, []byte(plaintext), label)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens text produced by Encrypt with the same label.
func (k *Keyring) Decrypt(ctx context.Context, ciphertext, label string) (string, error) {
	key, err := k.load(ctx)
	if err != nil {
		return "", err
	}
	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: not base64", ErrDecrypt)
	}
	plaintext, err := open(key, blob, label)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// configLabel binds config values to their own AAD domain.
const configLabel = "config"

// EncryptConfigValue returns the "enc:" form of a config value.
func (k *Keyring) EncryptConfigValue(ctx context.Context, value string) (string, error) {
	sealed, err := k.Encrypt(ctx, value, configLabel)
	if err != nil {
		return "", err
	}
	return "enc:" + sealed, nil
}

// DecryptConfigValue returns value unchanged unless it carries the "enc:" prefix,
// in which case it is decrypted.
func (k *Keyring) DecryptConfigValue(ctx context.Context, value string) (string, error) {
	sealed, ok := strings.CutPrefix(value, "enc:")
	if !ok {
		return value, nil
	}
	return k.Decrypt(ctx, sealed, configLabel)
}
