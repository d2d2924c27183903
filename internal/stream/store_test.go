package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func setupTestStore(t *testing.T, opts StoreOptions) (*Store, string) {
	t.Helper()
	dir := t.TempDir()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	store, err := Open(dir, opts, logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store, dir
}

func TestStore_ReplayReplacesReusedOffset(t *testing.T) {
	dir := t.TempDir()
	streamDir := filepath.Join(dir, "streams", "txns")
	if err := os.MkdirAll(streamDir, 0755); err != nil {
		t.Fatalf("failed to create stream dir: %v", err)
	}

	// Offset 1 appears twice, as left behind by a batch retried after an
	// uncommitted partial failure. Only the later write was reported to a
	// producer, so replay must keep it and stay duplicate-free.
	var data []byte
	for _, e := range []Entry{
		{Offset: 0, Payload: []byte("first"), AppendedAt: time.Now().UTC()},
		{Offset: 1, Payload: []byte("stale"), AppendedAt: time.Now().UTC()},
		{Offset: 1, Payload: []byte("retried"), AppendedAt: time.Now().UTC()},
		{Offset: 2, Payload: []byte("third"), AppendedAt: time.Now().UTC()},
	} {
		line, err := json.Marshal(e)
		if err != nil {
			t.Fatalf("failed to marshal entry: %v", err)
		}
		data = append(data, line...)
		data = append(data, '\n')
	}
	if err := os.WriteFile(filepath.Join(streamDir, "segment-1.log"), data, 0644); err != nil {
		t.Fatalf("failed to write segment: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	store, err := Open(dir, StoreOptions{}, logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	length, err := store.Len("txns")
	if err != nil {
		t.Fatalf("failed to get length: %v", err)
	}
	if length != 3 {
		t.Fatalf("expected 3 entries after replay, got %d", length)
	}

	entries, err := store.ReadRange("txns", 0, 10)
	if err != nil {
		t.Fatalf("failed to read range: %v", err)
	}
	want := []string{"first", "retried", "third"}
	for i, entry := range entries {
		if entry.Offset != uint64(i) || string(entry.Payload) != want[i] {
			t.Errorf("entry mismatch at %d: offset %d payload %q", i, entry.Offset, entry.Payload)
		}
	}

	offset, err := store.Append("txns", []byte("fourth"))
	if err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if offset != 3 {
		t.Errorf("expected append to continue at offset 3, got %d", offset)
	}
}

func TestStore_AppendAssignsContiguousOffsets(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})

	for i := 0; i < 10; i++ {
		offset, err := store.Append("txns", []byte(fmt.Sprintf("payload-%d", i)))
		if err != nil {
			t.Fatalf("failed to append: %v", err)
		}
		if offset != uint64(i) {
			t.Errorf("expected offset %d, got %d", i, offset)
		}
	}

	length, err := store.Len("txns")
	if err != nil {
		t.Fatalf("failed to get length: %v", err)
	}
	if length != 10 {
		t.Errorf("expected length 10, got %d", length)
	}
}

func TestStore_ConcurrentAppendsGetUniqueOffsets(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[uint64]bool)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				offset, err := store.Append("txns", []byte(fmt.Sprintf("w%d-%d", w, i)))
				if err != nil {
					t.Errorf("failed to append: %v", err)
					return
				}
				mu.Lock()
				if seen[offset] {
					t.Errorf("offset %d assigned twice", offset)
				}
				seen[offset] = true
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	if len(seen) != writers*perWriter {
		t.Fatalf("expected %d distinct offsets, got %d", writers*perWriter, len(seen))
	}
	// Offsets must be dense: every value in [0, N) assigned exactly once.
	for i := uint64(0); i < writers*perWriter; i++ {
		if !seen[i] {
			t.Errorf("offset %d was never assigned", i)
		}
	}
}

func TestStore_AppendBatchIsContiguous(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})

	if _, err := store.Append("txns", []byte("first")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	payloads := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	offsets, err := store.AppendBatch("txns", payloads)
	if err != nil {
		t.Fatalf("failed to append batch: %v", err)
	}
	if len(offsets) != 3 {
		t.Fatalf("expected 3 offsets, got %d", len(offsets))
	}
	for i, offset := range offsets {
		if offset != uint64(i+1) {
			t.Errorf("expected offset %d, got %d", i+1, offset)
		}
	}
}

func TestStore_ReadRange(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})

	for i := 0; i < 5; i++ {
		if _, err := store.Append("txns", []byte(fmt.Sprintf("p%d", i))); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}

	t.Run("from middle", func(t *testing.T) {
		entries, err := store.ReadRange("txns", 2, 10)
		if err != nil {
			t.Fatalf("failed to read range: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(entries))
		}
		if entries[0].Offset != 2 || string(entries[0].Payload) != "p2" {
			t.Errorf("unexpected first entry: %+v", entries[0])
		}
	})

	t.Run("max caps result", func(t *testing.T) {
		entries, err := store.ReadRange("txns", 0, 2)
		if err != nil {
			t.Fatalf("failed to read range: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(entries))
		}
	})

	t.Run("beyond end is empty", func(t *testing.T) {
		entries, err := store.ReadRange("txns", 100, 10)
		if err != nil {
			t.Fatalf("failed to read range: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("expected empty result, got %d entries", len(entries))
		}
	})

	t.Run("unknown stream", func(t *testing.T) {
		_, err := store.ReadRange("missing", 0, 10)
		if !errors.Is(err, ErrStreamNotFound) {
			t.Errorf("expected ErrStreamNotFound, got %v", err)
		}
	})
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	store, err := Open(dir, StoreOptions{}, logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := store.Append("txns", []byte(fmt.Sprintf("p%d", i))); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	store, err = Open(dir, StoreOptions{}, logger)
	if err != nil {
		t.Fatalf("failed to re-open store: %v", err)
	}
	defer store.Close()

	entries, err := store.ReadRange("txns", 0, 10)
	if err != nil {
		t.Fatalf("failed to read after reopen: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries after reopen, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Offset != uint64(i) || string(entry.Payload) != fmt.Sprintf("p%d", i) {
			t.Errorf("entry mismatch at %d: %+v", i, entry)
		}
	}

	// Offsets keep counting from where the previous run stopped.
	offset, err := store.Append("txns", []byte("p5"))
	if err != nil {
		t.Fatalf("failed to append after reopen: %v", err)
	}
	if offset != 5 {
		t.Errorf("expected offset 5 after reopen, got %d", offset)
	}
}

func TestStore_SegmentRotation(t *testing.T) {
	store, dir := setupTestStore(t, StoreOptions{MaxSegmentSize: 128})

	for i := 0; i < 20; i++ {
		payload := []byte(fmt.Sprintf("a payload long enough to force rotation %d", i))
		if _, err := store.Append("txns", payload); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}

	segments, err := filepath.Glob(filepath.Join(dir, "streams", "txns", segmentPrefix+"*"))
	if err != nil {
		t.Fatalf("failed to glob segments: %v", err)
	}
	if len(segments) < 2 {
		t.Errorf("expected at least 2 segments, got %d", len(segments))
	}

	entries, err := store.ReadRange("txns", 0, 100)
	if err != nil {
		t.Fatalf("failed to read range: %v", err)
	}
	if len(entries) != 20 {
		t.Errorf("expected 20 entries across segments, got %d", len(entries))
	}
}

func TestStore_CreateGroup(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})

	t.Run("idempotent creation keeps cursor", func(t *testing.T) {
		if err := store.CreateGroup("txns", "scorers", StartBeginning); err != nil {
			t.Fatalf("failed to create group: %v", err)
		}
		if _, err := store.Append("txns", []byte("p0")); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
		if _, err := store.ReadNext(context.Background(), "txns", "scorers", "c1", 1, 0); err != nil {
			t.Fatalf("failed to read: %v", err)
		}

		// Re-creating must not reset the cursor or the pending table.
		if err := store.CreateGroup("txns", "scorers", StartBeginning); err != nil {
			t.Fatalf("re-creating group failed: %v", err)
		}
		cursor, err := store.Cursor("txns", "scorers")
		if err != nil {
			t.Fatalf("failed to get cursor: %v", err)
		}
		if cursor != 1 {
			t.Errorf("expected cursor 1 after re-create, got %d", cursor)
		}
		pending, err := store.PendingEntries("txns", "scorers")
		if err != nil {
			t.Fatalf("failed to get pending: %v", err)
		}
		if len(pending) != 1 {
			t.Errorf("expected 1 pending entry after re-create, got %d", len(pending))
		}
	})

	t.Run("start at end skips existing entries", func(t *testing.T) {
		if err := store.CreateGroup("txns", "tail", StartEnd); err != nil {
			t.Fatalf("failed to create group: %v", err)
		}
		deliveries, err := store.ReadNext(context.Background(), "txns", "tail", "c1", 10, 0)
		if err != nil {
			t.Fatalf("failed to read: %v", err)
		}
		if len(deliveries) != 0 {
			t.Errorf("expected no deliveries for end-started group, got %d", len(deliveries))
		}
	})

	t.Run("creates stream implicitly", func(t *testing.T) {
		if err := store.CreateGroup("fresh", "g", StartBeginning); err != nil {
			t.Fatalf("failed to create group on new stream: %v", err)
		}
		length, err := store.Len("fresh")
		if err != nil {
			t.Fatalf("expected stream to exist: %v", err)
		}
		if length != 0 {
			t.Errorf("expected empty stream, got length %d", length)
		}
	})
}

func TestStore_GroupStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	store, err := Open(dir, StoreOptions{}, logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := store.Append("txns", []byte(fmt.Sprintf("p%d", i))); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}
	if err := store.CreateGroup("txns", "scorers", StartBeginning); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}

	deliveries, err := store.ReadNext(context.Background(), "txns", "scorers", "c1", 3, 0)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if len(deliveries) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(deliveries))
	}
	if err := store.Ack("txns", "scorers", deliveries[0].Offset); err != nil {
		t.Fatalf("failed to ack: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	store, err = Open(dir, StoreOptions{}, logger)
	if err != nil {
		t.Fatalf("failed to re-open store: %v", err)
	}
	defer store.Close()

	cursor, err := store.Cursor("txns", "scorers")
	if err != nil {
		t.Fatalf("failed to get cursor: %v", err)
	}
	if cursor != 3 {
		t.Errorf("expected cursor 3 after reopen, got %d", cursor)
	}

	pending, err := store.PendingEntries("txns", "scorers")
	if err != nil {
		t.Fatalf("failed to get pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending entries after reopen, got %d", len(pending))
	}
	if pending[0].Offset != 1 || pending[1].Offset != 2 {
		t.Errorf("unexpected pending offsets: %d, %d", pending[0].Offset, pending[1].Offset)
	}
	if pending[0].Consumer != "c1" {
		t.Errorf("expected pending owner c1, got %q", pending[0].Consumer)
	}
}

func TestStore_GroupErrors(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})

	if _, err := store.Append("txns", []byte("p0")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	if _, err := store.ReadNext(context.Background(), "txns", "missing", "c1", 1, 0); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound, got %v", err)
	}
	if _, err := store.ReadNext(context.Background(), "missing", "g", "c1", 1, 0); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("expected ErrStreamNotFound, got %v", err)
	}
	if err := store.Ack("txns", "missing", 0); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound for ack, got %v", err)
	}
}

func TestStore_InfoAndStreams(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})

	appendTo := func(name string, n int) {
		for i := 0; i < n; i++ {
			if _, err := store.Append(name, []byte("p")); err != nil {
				t.Fatalf("failed to append to %s: %v", name, err)
			}
		}
	}
	appendTo("txns", 3)
	appendTo("alerts", 1)
	if err := store.CreateGroup("txns", "scorers", StartBeginning); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}

	streams := store.Streams()
	if len(streams) != 2 || streams[0] != "alerts" || streams[1] != "txns" {
		t.Errorf("unexpected stream listing: %v", streams)
	}

	info, err := store.Info("txns")
	if err != nil {
		t.Fatalf("failed to get info: %v", err)
	}
	if info.Length != 3 || info.NextOffset != 3 || info.Groups != 1 {
		t.Errorf("unexpected stream info: %+v", info)
	}
}

func TestStore_ClosedStoreRejectsOperations(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})

	if _, err := store.Append("txns", []byte("p0")); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	if _, err := store.Append("txns", []byte("p1")); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := store.ReadRange("txns", 0, 1); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}
