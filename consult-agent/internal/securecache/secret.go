package securecache

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	pkglog "github.com/weiawesome/wes-io-consult/pkg/log"
)

// LoadOrCreateSecret reads the hex encoded device secret at path, creating a
// random one with owner-only permissions when the file does not exist.
func LoadOrCreateSecret(path string) ([]byte, error) {
	secret, err := ReadSecret(path)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	secret = make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate device secret: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secret dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write device secret: %w", err)
	}
	return secret, nil
}

// ReadSecret reads a hex encoded device secret.
func ReadSecret(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	secret, err := hex.DecodeString(string(bytes.TrimSpace(raw)))
	if err != nil {
		return nil, fmt.Errorf("device secret is not hex: %w", err)
	}
	if len(secret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	return secret, nil
}

// WatchSecret rekeys c whenever the secret file at path is rewritten. It
// blocks until ctx is done.
func WatchSecret(ctx context.Context, c *Cache, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are seen too.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	l := pkglog.Ctx(ctx)
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			secret, err := ReadSecret(path)
			if err != nil {
				l.Warn().Err(err).Msg("device secret changed but is unreadable, keeping current key")
				continue
			}
			if err := c.Rekey(secret); err != nil {
				l.Warn().Err(err).Msg("rekey failed")
				continue
			}
			l.Info().Msg("secure cache rekeyed")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.Warn().Err(err).Msg("secret watcher error")
		}
	}
}
