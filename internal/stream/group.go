package stream

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

const groupStateVersion = 1

// pendingEntry tracks a delivered-but-unacknowledged entry within a group.
type pendingEntry struct {
	Consumer      string    `json:"consumer"`
	DeliveredAt   time.Time `json:"delivered_at"`
	DeliveryCount int64     `json:"delivery_count"`
}

// group holds the delivery state of one consumer group on one stream:
// the cursor separating delivered-at-least-once from never-delivered,
// and the pending-entries table. State is persisted as JSON and written
// atomically via a temp file so a crash never leaves a torn state file.
type group struct {
	stream string
	name   string
	path   string

	mu      sync.Mutex
	cursor  uint64
	pending map[uint64]*pendingEntry
}

type groupState struct {
	Version uint8                    `json:"version"`
	Stream  string                   `json:"stream"`
	Group   string                   `json:"group"`
	Cursor  uint64                   `json:"cursor"`
	Pending map[uint64]*pendingEntry `json:"pending"`
	SavedAt int64                    `json:"saved_at"`
}

func newGroup(stream, name, path string, cursor uint64) *group {
	return &group{
		stream:  stream,
		name:    name,
		path:    path,
		cursor:  cursor,
		pending: make(map[uint64]*pendingEntry),
	}
}

func loadGroup(stream, name, path string) (*group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read group state %s: %v", ErrStorageFailure, path, err)
	}

	var state groupState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group state %s: %w", path, err)
	}
	if state.Version > groupStateVersion {
		return nil, fmt.Errorf("unsupported group state version %d in %s", state.Version, path)
	}

	g := newGroup(stream, name, path, state.Cursor)
	if state.Pending != nil {
		g.pending = state.Pending
	}
	return g, nil
}

// save persists the group state. Callers must hold g.mu.
func (g *group) save() error {
	state := groupState{
		Version: groupStateVersion,
		Stream:  g.stream,
		Group:   g.name,
		Cursor:  g.cursor,
		Pending: g.pending,
		SavedAt: time.Now().UnixMilli(),
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal group state: %w", err)
	}

	tempPath := g.path + ".tmp"
	if err := os.WriteFile(tempPath, data, filePerm); err != nil {
		return fmt.Errorf("%w: failed to write group state: %v", ErrStorageFailure, err)
	}
	if err := os.Rename(tempPath, g.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("%w: failed to rename group state: %v", ErrStorageFailure, err)
	}
	return nil
}

// selfPendingOffsets returns the offsets currently pending for the given
// consumer, in original delivery (offset) order. Callers must hold g.mu.
func (g *group) selfPendingOffsets(consumer string) []uint64 {
	var offsets []uint64
	for offset, p := range g.pending {
		if p.Consumer == consumer {
			offsets = append(offsets, offset)
		}
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

// snapshotPending returns a read-only copy of the pending table sorted by
// offset. It never mutates state.
func (g *group) snapshotPending(now time.Time) []PendingInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]PendingInfo, 0, len(g.pending))
	for offset, p := range g.pending {
		out = append(out, PendingInfo{
			Offset:        offset,
			Consumer:      p.Consumer,
			DeliveryCount: p.DeliveryCount,
			Idle:          now.Sub(p.DeliveredAt),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}
