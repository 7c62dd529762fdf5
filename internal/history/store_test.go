package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/murmurlabs/murmur-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenDisabled(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.HistoryConfig{}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Append(ctx, Entry{Transcript: "hi", Response: "hello"}); err != nil {
		t.Fatalf("append on disabled store: %v", err)
	}
	entries, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("list on disabled store: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries, got %v", entries)
	}
}

func TestAppendAndList(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "history.db"), MaxEntries: 100}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Append(context.Background(), Entry{RunID: "run-1", Transcript: "what time is it", Response: "It is noon."}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(context.Background(), Entry{RunID: "run-2", Transcript: "thanks", Response: "Anytime."}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-2" {
		t.Fatalf("expected newest first, got %q", entries[0].RunID)
	}
	if entries[1].Transcript != "what time is it" {
		t.Fatalf("unexpected transcript: %q", entries[1].Transcript)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.HistoryConfig{Path: filepath.Join(tmp, "history.db"), MaxEntries: 3}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < 6; i++ {
		e := Entry{RunID: fmt.Sprintf("run-%d", i), Transcript: "q", Response: "a"}
		if err := s.Append(context.Background(), e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := s.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after prune, got %d", len(entries))
	}
	if entries[0].RunID != "run-5" || entries[2].RunID != "run-3" {
		t.Fatalf("prune kept wrong rows: %v", entries)
	}
}
