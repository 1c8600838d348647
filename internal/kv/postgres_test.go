package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bizmatrix/api/internal/store"
)

func TestPostgresStore(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := store.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()
	if _, err := store.ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	s := NewPostgres(db)
	if err := s.Set(ctx, "active_matrix", []byte(`{"tasks":[]}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "active_matrix", []byte(`{"tasks":[{"id":"t1"}]}`)); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, err := s.Get(ctx, "active_matrix")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !strings.Contains(string(got), `"t1"`) {
		t.Errorf("expected overwritten value, got %s", got)
	}

	if err := s.Delete(ctx, "active_matrix"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "active_matrix"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
