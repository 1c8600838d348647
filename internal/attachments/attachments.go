// Package attachments keeps files attached to chat messages in an S3-compatible bucket.
package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"bizmatrix/api/internal/logger"
	"bizmatrix/api/internal/util"
)

// MaxSize bounds a single attachment. The collaborator receives the bytes inline, so
// anything larger would not fit a request anyway.
const MaxSize = 20 << 20

var (
	ErrTooLarge = errors.New("attachment too large")
	ErrEmpty    = errors.New("attachment is empty")
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store uploads and reads attachment objects.
type Store struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
	now    func() time.Time
}

// New connects to the endpoint and creates the bucket when it does not exist.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	s := &Store{client: client, bucket: cfg.Bucket, log: logger.OrNop(log).Named("attachments"), now: time.Now}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		s.log.Info("created bucket", zap.String("bucket", cfg.Bucket))
	}
	return s, nil
}

// Put stores data under a key scoped to the conversation and returns the key.
func (s *Store) Put(ctx context.Context, conversationID, name, mimeType string, data []byte) (string, error) {
	if err := Check(data); err != nil {
		return "", err
	}
	key := ObjectKey(conversationID, name, s.now())
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	s.log.Debug("uploaded attachment", zap.String("key", key), zap.Int("size", len(data)))
	return key, nil
}

// Get reads an attachment back.
func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("stat %s: %w", key, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	return data, info.ContentType, nil
}

// Remove deletes one attachment.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// RemoveConversation deletes every object stored for a conversation.
func (s *Store) RemoveConversation(ctx context.Context, conversationID string) error {
	prefix := conversationPrefix(conversationID)
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	for err := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if err.Err != nil {
			return fmt.Errorf("remove %s: %w", err.ObjectName, err.Err)
		}
	}
	return nil
}

// Check rejects empty and oversized payloads.
func Check(data []byte) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) > MaxSize {
		return ErrTooLarge
	}
	return nil
}

// ObjectKey is conversations/<id>/<yyyymmdd>/<random>-<clean name>.
func ObjectKey(conversationID, name string, at time.Time) string {
	return path.Join(
		strings.TrimSuffix(conversationPrefix(conversationID), "/"),
		at.UTC().Format("20060102"),
		util.NewID("att")+"-"+cleanName(name),
	)
}

func conversationPrefix(conversationID string) string {
	return "conversations/" + cleanName(conversationID) + "/"
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}
