// Package securecache stores small participant payloads encrypted at rest.
// Entries are a latency aid only: every read failure is reported as a miss.
package securecache

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
)

// MinSecretLen is the shortest device secret accepted.
const MinSecretLen = 16

// ErrWeakSecret is returned for a device secret shorter than MinSecretLen.
var ErrWeakSecret = errors.New("device secret too short")

// Cache seals JSON values with XChaCha20-Poly1305 under a key derived from a
// per-device secret.
type Cache struct {
	store Store
	info  []byte

	mu   sync.RWMutex
	aead cipher.AEAD
}

// New creates a cache over store. info scopes the derived key, so two
// caches sharing a secret but not an info string cannot read each other.
func New(store Store, secret []byte, info string) (*Cache, error) {
	c := &Cache{store: store, info: []byte(info)}
	if err := c.Rekey(secret); err != nil {
		return nil, err
	}
	return c, nil
}

// Rekey derives a new key from secret. Entries sealed under the old key
// become misses.
func (c *Cache) Rekey(secret []byte) error {
	aead, err := deriveAEAD(secret, c.info)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.aead = aead
	c.mu.Unlock()
	return nil
}

// Put serializes v to JSON, seals it and stores it under key.
func (c *Cache) Put(ctx context.Context, key string, v interface{}) error {
	plain, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}

	c.mu.RLock()
	aead := c.aead
	c.mu.RUnlock()

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plain, []byte(key))

	if err := c.store.Save(ctx, key, sealed); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// Get loads the entry under key into out. It returns false when the entry is
// absent, cannot be decrypted or cannot be decoded.
func (c *Cache) Get(ctx context.Context, key string, out interface{}) bool {
	l := pkglog.Ctx(ctx)

	sealed, err := c.store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			l.Warn().Err(err).Str("key", key).Msg("secure cache load failed")
		}
		return false
	}

	c.mu.RLock()
	aead := c.aead
	c.mu.RUnlock()

	ns := aead.NonceSize()
	if len(sealed) < ns+aead.Overhead() {
		l.Debug().Str("key", key).Msg("secure cache entry truncated")
		return false
	}
	plain, err := aead.Open(nil, sealed[:ns], sealed[ns:], []byte(key))
	if err != nil {
		l.Debug().Str("key", key).Msg("secure cache entry did not authenticate")
		return false
	}
	if err := json.Unmarshal(plain, out); err != nil {
		l.Debug().Err(err).Str("key", key).Msg("secure cache entry not decodable")
		return false
	}
	return true
}

// Delete removes the entry under key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.store.Remove(ctx, key)
}

func deriveAEAD(secret, info []byte) (cipher.AEAD, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), key); err != nil {
		return nil, fmt.Errorf("failed to derive cache key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}
