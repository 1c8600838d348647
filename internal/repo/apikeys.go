package repo

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/secretbox"

	"bizmatrix/api/internal/kv"
	"bizmatrix/api/internal/logger"
	"bizmatrix/api/internal/util"
)

// ErrNoSecret is returned when API keys cannot be sealed.
var ErrNoSecret = errors.New("api key secret is not configured")

// APIKey is the listing form of a stored key. The key material is never returned.
type APIKey struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Priority  int       `json:"priority"`
	Masked    string    `json:"masked"`
	CreatedAt time.Time `json:"createdAt"`
}

type sealedKey struct {
	APIKey
	Sealed string `json:"sealed"`
}

// APIKeys is the ordered key list. The effective key is the one with the highest
// priority; ties go to the most recently added.
type APIKeys struct {
	store  kv.Store
	log    *zap.Logger
	secret [32]byte
	now    func() time.Time
}

func NewAPIKeys(store kv.Store, secret string, log *zap.Logger) (*APIKeys, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &APIKeys{
		store:  store,
		log:    logger.OrNop(log),
		secret: sha256.Sum256([]byte(secret)),
		now:    time.Now,
	}, nil
}

func (k *APIKeys) load(ctx context.Context) []sealedKey {
	var keys []sealedKey
	if !readJSON(ctx, k.store, k.log, keyAPIKeys, &keys) {
		return nil
	}
	sortKeys(keys)
	return keys
}

// loadForWrite is load for mutations: a failed read is returned, not degraded.
func (k *APIKeys) loadForWrite(ctx context.Context) ([]sealedKey, error) {
	var keys []sealedKey
	if err := loadJSON(ctx, k.store, keyAPIKeys, &keys); err != nil {
		return nil, err
	}
	sortKeys(keys)
	return keys, nil
}

func sortKeys(keys []sealedKey) {
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i].Priority != keys[j].Priority {
			return keys[i].Priority > keys[j].Priority
		}
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
}

// List returns the keys by descending priority.
func (k *APIKeys) List(ctx context.Context) []APIKey {
	keys := k.load(ctx)
	out := make([]APIKey, 0, len(keys))
	for _, key := range keys {
		out = append(out, key.APIKey)
	}
	return out
}

func (k *APIKeys) Add(ctx context.Context, label, key string, priority int) (APIKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return APIKey{}, errors.New("api key is empty")
	}
	sealed, err := k.seal(key)
	if err != nil {
		return APIKey{}, err
	}
	entry := sealedKey{
		APIKey: APIKey{
			ID:        util.NewID("key"),
			Label:     label,
			Priority:  priority,
			Masked:    Mask(key),
			CreatedAt: k.now().UTC(),
		},
		Sealed: sealed,
	}
	keys, err := k.loadForWrite(ctx)
	if err != nil {
		return APIKey{}, fmt.Errorf("save api keys: %w", err)
	}
	keys = append(keys, entry)
	if err := kv.SetJSON(ctx, k.store, keyAPIKeys, keys); err != nil {
		return APIKey{}, fmt.Errorf("save api keys: %w", err)
	}
	return entry.APIKey, nil
}

func (k *APIKeys) Delete(ctx context.Context, id string) error {
	keys, err := k.loadForWrite(ctx)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	kept := keys[:0]
	for _, key := range keys {
		if key.ID != id {
			kept = append(kept, key)
		}
	}
	if len(kept) == len(keys) {
		return kv.ErrNotFound
	}
	if err := kv.SetJSON(ctx, k.store, keyAPIKeys, kept); err != nil {
		return fmt.Errorf("save api keys: %w", err)
	}
	return nil
}

// Effective returns the plaintext of the highest priority key that can be opened.
func (k *APIKeys) Effective(ctx context.Context) (string, bool) {
	for _, key := range k.load(ctx) {
		plain, err := k.open(key.Sealed)
		if err != nil {
			k.log.Warn("skipping unreadable api key", zap.String("key_id", key.ID), zap.Error(err))
			continue
		}
		return plain, true
	}
	return "", false
}

func (k *APIKeys) seal(plain string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, &k.secret)
	return base64.StdEncoding.EncodeToString(box), nil
}

func (k *APIKeys) open(sealed string) (string, error) {
	box, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	if len(box) < 24 {
		return "", errors.New("sealed key too short")
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, &k.secret)
	if !ok {
		return "", errors.New("sealed key does not open")
	}
	return string(plain), nil
}

// Mask keeps the last four characters of a key.
func Mask(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 8) + key[len(key)-4:]
}
