// ABOUTME: Cache-aside resolution of per-user Redmine API tokens and chat bindings
// ABOUTME: Tokens are cached encrypted with a TTL; chat bindings are kept without expiry

package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/redmine-bridge/internal/keyed"
	"github.com/2389/redmine-bridge/internal/metrics"
	"github.com/2389/redmine-bridge/internal/secrets"
	"github.com/2389/redmine-bridge/internal/store"
)

// BackingStore is the authoritative source of API tokens.
type BackingStore interface {
	LookupCredential(ctx context.Context, login string) (Record, error)
}

// Sealer encrypts values bound to a label.
type Sealer interface {
	Encrypt(ctx context.Context, plaintext, label string) (string, error)
	Decrypt(ctx context.Context, ciphertext, label string) (string, error)
}

// Credential is a resolved Redmine identity.
type Credential struct {
	Login       string
	Token       string
	UserID      int64
	ChatBinding string
}

// cachedEntry holds token and user id in one value so they expire together.
type cachedEntry struct {
	Token  string `json:"token"`
	UserID int64  `json:"user_id"`
}

func credKey(login string) string { return "cred:" + login }
func chatKey(login string) string { return "chat:" + login }

// Resolver looks up credentials through the fast store, falling back to the
// backing store on a miss.
type Resolver struct {
	kv      store.KV
	backing BackingStore
	sealer  Sealer
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	locks keyed.Mutex
}

// NewResolver creates a Resolver. m may be nil.
func NewResolver(kv store.KV, backing BackingStore, sealer Sealer, ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{
		kv:      kv,
		backing: backing,
		sealer:  sealer,
		ttl:     ttl,
		logger:  logger.With("component", "credentials"),
		metrics: m,
	}
}

// Resolve returns the credential for login. When observedChatID is non-empty
// and differs from the stored binding, the binding is rewritten.
//
// Errors: ErrUserNotFound, ErrCredentialUnavailable, ErrBackingStore, or a
// secrets error when the cached token cannot be decrypted.
func (r *Resolver) Resolve(ctx context.Context, login, observedChatID string) (*Credential, error) {
	unlock := r.locks.Lock(login)
	defer unlock()

	cred, err := r.cachedCredential(ctx, login)
	if err != nil {
		return nil, err
	}

	if cred == nil {
		r.metrics.BackingQuery()
		rec, err := r.backing.LookupCredential(ctx, login)
		if errors.Is(err, ErrUserNotFound) {
			r.metrics.CredentialLookup("not_found")
			return nil, ErrUserNotFound
		}
		if err != nil {
			r.metrics.CredentialLookup("error")
			r.logger.Error("credential database lookup failed", "login", login, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrBackingStore, err)
		}

		r.metrics.CredentialLookup("miss")
		cred = &Credential{Login: login, Token: rec.Token, UserID: rec.UserID}
		if err := r.storeCredential(ctx, cred); err != nil {
			return nil, err
		}
	} else {
		r.metrics.CredentialLookup("hit")
	}

	binding, err := r.chatBinding(ctx, login)
	if err != nil {
		return nil, err
	}
	if observedChatID != "" && observedChatID != binding {
		if err := r.kv.Set(ctx, chatKey(login), []byte(observedChatID), 0); err != nil {
			r.logger.Warn("failed to update chat binding", "login", login, "error", err)
		} else {
			r.logger.Debug("chat binding updated", "login", login, "chat_id", observedChatID)
			binding = observedChatID
		}
	}
	cred.ChatBinding = binding

	return cred, nil
}

// ChatBinding returns the chat bound to login, or "" when none is known.
// It never touches the token cache or the backing store.
func (r *Resolver) ChatBinding(ctx context.Context, login string) (string, error) {
	unlock := r.locks.Lock(login)
	defer unlock()
	return r.chatBinding(ctx, login)
}

func (r *Resolver) chatBinding(ctx context.Context, login string) (string, error) {
	raw, err := r.kv.Get(ctx, chatKey(login))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		r.logger.Warn("fast store read failed", "login", login, "key", "chat", "error", err)
		return "", fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}
	return string(raw), nil
}

// cachedCredential returns nil, nil on a miss.
func (r *Resolver) cachedCredential(ctx context.Context, login string) (*Credential, error) {
	raw, err := r.kv.Get(ctx, credKey(login))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		r.metrics.CredentialLookup("error")
		r.logger.Warn("fast store read failed", "login", login, "key", "cred", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	var entry cachedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		r.logger.Warn("discarding unreadable cache entry", "login", login, "error", err)
		return nil, nil
	}

	token, err := r.sealer.Decrypt(ctx, entry.Token, credKey(login))
	if err != nil {
		r.metrics.CredentialLookup("error")
		r.logger.Error("cached token could not be decrypted", "login", login, "error", err)
		return nil, sealerErr("decrypting cached token", err)
	}

	return &Credential{Login: login, Token: token, UserID: entry.UserID}, nil
}

// sealerErr keeps a failed key read retryable; every other sealing failure
// is a hard error for the call.
func sealerErr(doing string, err error) error {
	if errors.Is(err, secrets.ErrKeyUnavailable) {
		return fmt.Errorf("%w: %s: %w", ErrCredentialUnavailable, doing, err)
	}
	return fmt.Errorf("%s: %w", doing, err)
}

// storeCredential caches cred. An encryption failure aborts the resolution;
// a failed write is only logged since the caller still has a usable credential.
func (r *Resolver) storeCredential(ctx context.Context, cred *Credential) error {
	sealed, err := r.sealer.Encrypt(ctx, cred.Token, credKey(cred.Login))
	if err != nil {
		r.logger.Error("failed to encrypt token for caching", "login", cred.Login, "error", err)
		return sealerErr("encrypting token", err)
	}
	raw, err := json.Marshal(cachedEntry{Token: sealed, UserID: cred.UserID})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := r.kv.Set(ctx, credKey(cred.Login), raw, r.ttl); err != nil {
		r.logger.Warn("failed to cache credential", "login", cred.Login, "error", err)
	}
	return nil
}
