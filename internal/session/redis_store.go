// Package session provides the Redis backend for refresh tokens.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bizmatrix/api/internal/store"
)

// ErrSessionNotFound is returned for unknown, expired or revoked refresh tokens.
var ErrSessionNotFound = errors.New("refresh session not found or expired")

const defaultTTL = 30 * 24 * time.Hour

// TokenData is the value stored for each refresh token.
type TokenData struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserLoader resolves the current name and role of a user when a session is read.
type UserLoader func(ctx context.Context, userID string) (store.User, error)

// RedisStore keeps refresh sessions as expiring Redis keys.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	loadUser UserLoader
}

// NewRedisStore wraps a shared client. loadUser may be nil, in which case the
// name and role captured at login are returned.
func NewRedisStore(client *redis.Client, loadUser UserLoader) *RedisStore {
	return &RedisStore{
		client:   client,
		prefix:   "bizmatrix:refresh:",
		loadUser: loadUser,
	}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SaveRefreshSession stores a refresh token until expiresAt.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	data := TokenData{UserID: userID, CreatedAt: time.Now().UTC()}
	if s.loadUser != nil {
		if user, err := s.loadUser(ctx, userID); err == nil {
			data.DisplayName = user.DisplayName
			data.Role = user.Role
		}
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if err := s.client.Set(ctx, s.key(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// LookupRefreshSession returns the user owning a live refresh token.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	jsonData, err := s.client.Get(ctx, s.key(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.User{}, ErrSessionNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return store.User{}, fmt.Errorf("unmarshal token data: %w", err)
	}

	if s.loadUser != nil {
		user, err := s.loadUser(ctx, data.UserID)
		if err != nil {
			return store.User{}, fmt.Errorf("load session user: %w", err)
		}
		return user, nil
	}

	if data.Role == "" {
		data.Role = "viewer"
	}
	return store.User{ID: data.UserID, DisplayName: data.DisplayName, Role: data.Role}, nil
}

// RevokeRefreshSession deletes a refresh token.
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
