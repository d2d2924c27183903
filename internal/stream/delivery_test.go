package stream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func appendN(t *testing.T, store *Store, streamName string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := store.Append(streamName, []byte(fmt.Sprintf("p%d", i))); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}
}

func TestReadNext_ZeroMaxStillValidatesStreamAndGroup(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})
	ctx := context.Background()

	if _, err := store.ReadNext(ctx, "missing", "scorers", "c1", 0, 0); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("expected ErrStreamNotFound, got %v", err)
	}

	appendN(t, store, "txns", 1)
	if _, err := store.ReadNext(ctx, "txns", "missing", "c1", 0, 0); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound, got %v", err)
	}

	if err := store.CreateGroup("txns", "scorers", StartBeginning); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	start := time.Now()
	deliveries, err := store.ReadNext(ctx, "txns", "scorers", "c1", 0, time.Second)
	if err != nil {
		t.Fatalf("zero-max read must not error on a valid group: %v", err)
	}
	if len(deliveries) != 0 {
		t.Errorf("expected no deliveries for max 0, got %d", len(deliveries))
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("zero-max read must not block, took %v", elapsed)
	}
}

func TestReadNext_DeliversInOrder(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})
	appendN(t, store, "txns", 5)
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
	for i, d := range deliveries {
		if d.Offset != uint64(i) || string(d.Payload) != fmt.Sprintf("p%d", i) {
			t.Errorf("delivery mismatch at %d: %+v", i, d)
		}
	}

	cursor, err := store.Cursor("txns", "scorers")
	if err != nil {
		t.Fatalf("failed to get cursor: %v", err)
	}
	if cursor != 3 {
		t.Errorf("expected cursor 3, got %d", cursor)
	}
}

func TestReadNext_ReplaysOwnPendingBeforeNew(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})
	appendN(t, store, "txns", 5)
	if err := store.CreateGroup("txns", "scorers", StartBeginning); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}

	first, err := store.ReadNext(context.Background(), "txns", "scorers", "c1", 2, 0)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(first))
	}

	// Without an ack, a second read re-offers the same entries first and
	// then fills remaining capacity with new ones.
	second, err := store.ReadNext(context.Background(), "txns", "scorers", "c1", 4, 0)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if len(second) != 4 {
		t.Fatalf("expected 4 deliveries, got %d", len(second))
	}
	wantOffsets := []uint64{0, 1, 2, 3}
	for i, d := range second {
		if d.Offset != wantOffsets[i] {
			t.Errorf("expected offset %d at position %d, got %d", wantOffsets[i], i, d.Offset)
		}
	}

	pending, err := store.PendingEntries("txns", "scorers")
	if err != nil {
		t.Fatalf("failed to get pending: %v", err)
	}
	if len(pending) != 4 {
		t.Fatalf("expected 4 pending entries, got %d", len(pending))
	}
	if pending[0].DeliveryCount != 2 {
		t.Errorf("expected delivery count 2 for replayed entry, got %d", pending[0].DeliveryCount)
	}
	if pending[2].DeliveryCount != 1 {
		t.Errorf("expected delivery count 1 for fresh entry, got %d", pending[2].DeliveryCount)
	}
}

func TestReadNext_NoEntryDeliveredToTwoConsumers(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})
	appendN(t, store, "txns", 5)
	if err := store.CreateGroup("txns", "scorers", StartBeginning); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}

	d1, err := store.ReadNext(context.Background(), "txns", "scorers", "c1", 3, 0)
	if err != nil {
		t.Fatalf("failed to read as c1: %v", err)
	}
	d2, err := store.ReadNext(context.Background(), "txns", "scorers", "c2", 3, 0)
	if err != nil {
		t.Fatalf("failed to read as c2: %v", err)
	}

	if len(d1) != 3 {
		t.Fatalf("expected c1 to get 3 entries, got %d", len(d1))
	}
	if len(d2) != 2 {
		t.Fatalf("expected c2 to get the remaining 2 entries, got %d", len(d2))
	}

	seen := make(map[uint64]string)
	for _, d := range d1 {
		seen[d.Offset] = "c1"
	}
	for _, d := range d2 {
		if owner, ok := seen[d.Offset]; ok {
			t.Errorf("offset %d delivered to both %s and c2", d.Offset, owner)
		}
	}
}

func TestReadNext_SeparateGroupsEachSeeEverything(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})
	appendN(t, store, "txns", 3)
	for _, g := range []string{"scorers", "auditors"} {
		if err := store.CreateGroup("txns", g, StartBeginning); err != nil {
			t.Fatalf("failed to create group %s: %v", g, err)
		}
	}

	for _, g := range []string{"scorers", "auditors"} {
		deliveries, err := store.ReadNext(context.Background(), "txns", g, "c1", 10, 0)
		if err != nil {
			t.Fatalf("failed to read as group %s: %v", g, err)
		}
		if len(deliveries) != 3 {
			t.Errorf("expected group %s to see all 3 entries, got %d", g, len(deliveries))
		}
	}
}

func TestAck(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})
	appendN(t, store, "txns", 3)
	if err := store.CreateGroup("txns", "scorers", StartBeginning); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	if _, err := store.ReadNext(context.Background(), "txns", "scorers", "c1", 3, 0); err != nil {
		t.Fatalf("failed to read: %v", err)
	}

	t.Run("removes entry from pending", func(t *testing.T) {
		if err := store.Ack("txns", "scorers", 1); err != nil {
			t.Fatalf("failed to ack: %v", err)
		}
		pending, err := store.PendingEntries("txns", "scorers")
		if err != nil {
			t.Fatalf("failed to get pending: %v", err)
		}
		if len(pending) != 2 {
			t.Fatalf("expected 2 pending entries, got %d", len(pending))
		}
		for _, p := range pending {
			if p.Offset == 1 {
				t.Error("acked entry still pending")
			}
		}
	})

	t.Run("duplicate ack is a no-op", func(t *testing.T) {
		if err := store.Ack("txns", "scorers", 1); err != nil {
			t.Fatalf("duplicate ack should succeed: %v", err)
		}
	})

	t.Run("ack of never-delivered entry is a no-op", func(t *testing.T) {
		if err := store.Ack("txns", "scorers", 999); err != nil {
			t.Fatalf("ack of unknown offset should succeed: %v", err)
		}
	})

	t.Run("acked entry is not redelivered", func(t *testing.T) {
		deliveries, err := store.ReadNext(context.Background(), "txns", "scorers", "c1", 10, 0)
		if err != nil {
			t.Fatalf("failed to read: %v", err)
		}
		for _, d := range deliveries {
			if d.Offset == 1 {
				t.Error("acked entry was redelivered")
			}
		}
	})
}

func TestClaim(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})
	appendN(t, store, "txns", 3)
	if err := store.CreateGroup("txns", "scorers", StartBeginning); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	if _, err := store.ReadNext(context.Background(), "txns", "scorers", "c1", 3, 0); err != nil {
		t.Fatalf("failed to read: %v", err)
	}

	t.Run("min idle filters fresh entries", func(t *testing.T) {
		claimed, err := store.Claim("txns", "scorers", "c2", time.Hour, 0, 1, 2)
		if err != nil {
			t.Fatalf("failed to claim: %v", err)
		}
		if len(claimed) != 0 {
			t.Errorf("expected no claims below min idle, got %d", len(claimed))
		}
	})

	t.Run("transfers ownership and bumps delivery count", func(t *testing.T) {
		claimed, err := store.Claim("txns", "scorers", "c2", 0, 0, 1)
		if err != nil {
			t.Fatalf("failed to claim: %v", err)
		}
		if len(claimed) != 2 {
			t.Fatalf("expected 2 claimed entries, got %d", len(claimed))
		}

		pending, err := store.PendingEntries("txns", "scorers")
		if err != nil {
			t.Fatalf("failed to get pending: %v", err)
		}
		for _, p := range pending {
			switch p.Offset {
			case 0, 1:
				if p.Consumer != "c2" {
					t.Errorf("offset %d should belong to c2, got %q", p.Offset, p.Consumer)
				}
				if p.DeliveryCount != 2 {
					t.Errorf("offset %d should have delivery count 2, got %d", p.Offset, p.DeliveryCount)
				}
			case 2:
				if p.Consumer != "c1" {
					t.Errorf("offset 2 should still belong to c1, got %q", p.Consumer)
				}
			}
		}
	})

	t.Run("unknown offsets are skipped", func(t *testing.T) {
		claimed, err := store.Claim("txns", "scorers", "c2", 0, 999)
		if err != nil {
			t.Fatalf("failed to claim: %v", err)
		}
		if len(claimed) != 0 {
			t.Errorf("expected no claims for unknown offset, got %d", len(claimed))
		}
	})

	t.Run("claimed entries replay to the new consumer", func(t *testing.T) {
		deliveries, err := store.ReadNext(context.Background(), "txns", "scorers", "c2", 10, 0)
		if err != nil {
			t.Fatalf("failed to read as c2: %v", err)
		}
		got := make(map[uint64]bool)
		for _, d := range deliveries {
			got[d.Offset] = true
		}
		if !got[0] || !got[1] {
			t.Errorf("expected c2 to be re-offered claimed offsets 0 and 1, got %v", got)
		}
	})
}

func TestPendingEntries_SnapshotIsReadOnly(t *testing.T) {
	store, _ := setupTestStore(t, StoreOptions{})
	appendN(t, store, "txns", 3)
	if err := store.CreateGroup("txns", "scorers", StartBeginning); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	if _, err := store.ReadNext(context.Background(), "txns", "scorers", "c1", 3, 0); err != nil {
		t.Fatalf("failed to read: %v", err)
	}

	before, err := store.PendingEntries("txns", "scorers")
	if err != nil {
		t.Fatalf("failed to get pending: %v", err)
	}
	after, err := store.PendingEntries("txns", "scorers")
	if err != nil {
		t.Fatalf("failed to get pending: %v", err)
	}

	if len(before) != 3 || len(after) != 3 {
		t.Fatalf("expected 3 pending entries in both snapshots, got %d and %d", len(before), len(after))
	}
	for i := range before {
		if before[i].DeliveryCount != after[i].DeliveryCount {
			t.Errorf("inspection changed delivery count at offset %d", before[i].Offset)
		}
	}
	for i := 1; i < len(before); i++ {
		if before[i].Offset <= before[i-1].Offset {
			t.Errorf("pending snapshot not sorted: %d after %d", before[i].Offset, before[i-1].Offset)
		}
	}
}
