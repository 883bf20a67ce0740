package file

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/chatrelay/internal/core/domain"
)

func TestAbandonedRepo_AddListResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abandoned.yaml")
	repo := NewAbandonedRepo(path)
	ctx := context.Background()

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, route := range []string{"news", "news", "photos"} {
		err := repo.Add(ctx, &domain.AbandonedMessage{
			ID:          route + string(rune('a'+i)),
			Route:       route,
			MessageID:   domain.Offset(100 + i),
			Kind:        domain.FailureTransient,
			Error:       "connection reset",
			Attempts:    6,
			AbandonedAt: at,
		})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	// a fresh repository sees what was persisted
	reopened := NewAbandonedRepo(path)
	news, err := reopened.List(ctx, "news")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(news) != 2 || news[0].MessageID != 100 || news[1].MessageID != 101 {
		t.Fatalf("unexpected news records: %+v", news)
	}
	if !news[0].AbandonedAt.Equal(at) || news[0].Kind != domain.FailureTransient || news[0].Attempts != 6 {
		t.Errorf("record not round-tripped: %+v", news[0])
	}

	all, _ := reopened.List(ctx)
	if len(all) != 3 {
		t.Errorf("expected 3 records, got %d", len(all))
	}

	if err := reopened.Resolve(ctx, "newsa"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if n, _ := reopened.Count(ctx, "news"); n != 1 {
		t.Errorf("expected 1 news record after resolve, got %d", n)
	}
	if err := reopened.Resolve(ctx, "missing"); err != nil {
		t.Errorf("resolving an unknown id should be a no-op, got %v", err)
	}
}

func TestAbandonedRepo_EmptyFile(t *testing.T) {
	repo := NewAbandonedRepo(filepath.Join(t.TempDir(), "none.yaml"))
	msgs, err := repo.List(context.Background())
	if err != nil || len(msgs) != 0 {
		t.Errorf("expected empty list, got %v, %v", msgs, err)
	}
}
