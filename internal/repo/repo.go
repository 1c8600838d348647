// Package repo holds one typed repository per persisted collection. Each repository
// owns a fixed set of kv keys and rewrites its whole collection on mutation.
//
// Writes return their failure to the caller. Reads that fail (missing or unreadable
// value) degrade to an empty default and log a warning. Mutations load the collection
// with loadJSON instead, so a failed read is never written back as an empty collection.
package repo

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"bizmatrix/api/internal/kv"
)

const (
	keyVersionIndex  = "matrix_versions"
	keyVersionPrefix = "matrix_version_"
	keyActiveMatrix  = "active_matrix"
	keyActiveVersion = "active_version_id"
	keySettings      = "app_settings"
	keyAPIKeys       = "api_keys"
	keyConversations = "chat_history"
)

// Repositories bundles the collections so they can be built once and injected.
type Repositories struct {
	Versions      *Versions
	ActiveMatrix  *ActiveMatrix
	Settings      *Settings
	APIKeys       *APIKeys
	Conversations *Conversations
}

// New builds all repositories over one kv store. secret seals API keys at rest.
func New(store kv.Store, secret string, log *zap.Logger) (*Repositories, error) {
	keys, err := NewAPIKeys(store, secret, log)
	if err != nil {
		return nil, err
	}
	return &Repositories{
		Versions:      NewVersions(store, log),
		ActiveMatrix:  NewActiveMatrix(store, log),
		Settings:      NewSettings(store, log),
		APIKeys:       keys,
		Conversations: NewConversations(store, log),
	}, nil
}

// readJSON loads key into target. It reports false when the value is missing or
// unreadable; unreadable values are logged.
func readJSON(ctx context.Context, store kv.Store, log *zap.Logger, key string, target any) bool {
	err := kv.GetJSON(ctx, store, key, target)
	if err == nil {
		return true
	}
	if !errors.Is(err, kv.ErrNotFound) {
		log.Warn("read degraded to default", zap.String("key", key), zap.Error(err))
	}
	return false
}

// loadJSON is the read half of a mutation. A missing key leaves target untouched; any
// other failure is returned.
func loadJSON(ctx context.Context, store kv.Store, key string, target any) error {
	err := kv.GetJSON(ctx, store, key, target)
	if err == nil || errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("load %s: %w", key, err)
}
