package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckpointRepo_UnknownRouteIsZero(t *testing.T) {
	repo := NewCheckpointRepo(filepath.Join(t.TempDir(), "checkpoints.yaml"))

	off, err := repo.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if off != 0 {
		t.Errorf("expected zero offset, got %d", off)
	}
}

func TestCheckpointRepo_SetSharesFileAcrossRoutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoints.yaml")
	repo := NewCheckpointRepo(path)
	ctx := context.Background()

	if err := repo.Set(ctx, "news", 42); err != nil {
		t.Fatalf("Set news failed: %v", err)
	}
	if err := repo.Set(ctx, "photos", 7); err != nil {
		t.Fatalf("Set photos failed: %v", err)
	}

	// A fresh repository sees both entries.
	reopened := NewCheckpointRepo(path)
	all, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if all["news"] != 42 || all["photos"] != 7 {
		t.Errorf("unexpected checkpoints: %v", all)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), `news: "42"`) {
		t.Errorf("expected decimal string entry, got:\n%s", data)
	}
}

func TestCheckpointRepo_OperatorEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.yaml")
	if err := os.WriteFile(path, []byte("news: \"100\"\nphotos: 5\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	repo := NewCheckpointRepo(path)
	off, err := repo.Get(context.Background(), "photos")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if off != 5 {
		t.Errorf("expected 5, got %d", off)
	}
}

func TestCheckpointRepo_InvalidEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.yaml")
	if err := os.WriteFile(path, []byte("news: abc\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	repo := NewCheckpointRepo(path)
	if _, err := repo.Get(context.Background(), "news"); err == nil {
		t.Error("expected error for non-decimal offset")
	}
}

func TestCheckpointRepo_CancelledSetDoesNotWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.yaml")
	repo := NewCheckpointRepo(path)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := repo.Set(ctx, "news", 1); err == nil {
		t.Fatal("expected context error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no file after cancelled Set, stat err = %v", err)
	}
}

func TestCheckpointRepo_LookupStoredZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.yaml")
	if err := os.WriteFile(path, []byte("news: \"0\"\nphotos: \"\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	repo := NewCheckpointRepo(path)
	ctx := context.Background()

	off, ok, err := repo.Lookup(ctx, "news")
	if err != nil || !ok || off != 0 {
		t.Errorf("Lookup(news) = %d, %v, %v; want 0, true, nil", off, ok, err)
	}
	if _, ok, _ := repo.Lookup(ctx, "photos"); ok {
		t.Error("empty entry should count as unset")
	}
	if _, ok, _ := repo.Lookup(ctx, "missing"); ok {
		t.Error("missing entry should count as unset")
	}
}
