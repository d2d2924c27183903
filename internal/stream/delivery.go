package stream

import (
	"context"
	"time"
)

// ReadNext delivers up to max entries to the named consumer:
//
//  1. Entries already pending for this consumer are re-offered first, in
//     original delivery order, with their delivery count incremented. A
//     consumer resuming after a crash re-observes its own unfinished work
//     before receiving anything new.
//  2. Remaining capacity is filled with never-delivered entries starting
//     at the group cursor; each becomes pending for this consumer and the
//     cursor advances past it.
//  3. With nothing available and block > 0, the call suspends until an
//     append wakes it, the block duration elapses, or ctx is cancelled,
//     then retries step 2 once. An empty result is a normal outcome, not
//     an error, and the timeout path claims nothing.
//
// Two consumers of the same group never receive the same never-delivered
// entry: claim assignment happens under the group lock, atomically per
// entry.
func (s *Store) ReadNext(ctx context.Context, streamName, groupName, consumer string, max int, block time.Duration) ([]Delivery, error) {
	lg, g, err := s.getGroup(streamName, groupName)
	if err != nil {
		return nil, err
	}
	if max <= 0 {
		return nil, nil
	}

	// The notify channel must be observed before the first delivery
	// attempt; an append racing that attempt closes this snapshot and the
	// wait below returns immediately.
	var notify <-chan struct{}
	if block > 0 {
		notify = lg.notifyChan()
	}

	out := s.deliver(lg, g, consumer, max, true)
	if len(out) == 0 && block > 0 {
		if lg.waitForAppend(ctx, notify, block) {
			out = s.deliver(lg, g, consumer, max, false)
		}
	}
	return out, nil
}

// deliver performs the self-pending replay and new-entry claim steps under
// the group lock. The blocking wait in ReadNext happens outside it.
func (s *Store) deliver(lg *log, g *group, consumer string, max int, replayPending bool) []Delivery {
	now := time.Now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Delivery, 0, max)
	dirty := false

	if replayPending {
		for _, offset := range g.selfPendingOffsets(consumer) {
			if len(out) >= max {
				break
			}
			entry, ok := lg.get(offset)
			if !ok {
				// Entries are never trimmed by normal operation, so a missing
				// offset means an unreadable segment; drop the orphaned claim.
				delete(g.pending, offset)
				dirty = true
				continue
			}
			p := g.pending[offset]
			p.DeliveredAt = now
			p.DeliveryCount++
			out = append(out, Delivery{Offset: entry.Offset, Payload: entry.Payload})
			dirty = true
		}
	}

	if len(out) < max {
		fresh := lg.readRange(g.cursor, max-len(out))
		for _, entry := range fresh {
			g.pending[entry.Offset] = &pendingEntry{
				Consumer:      consumer,
				DeliveredAt:   now,
				DeliveryCount: 1,
			}
			g.cursor = entry.Offset + 1
			out = append(out, Delivery{Offset: entry.Offset, Payload: entry.Payload})
			dirty = true
		}
	}

	if dirty {
		if err := g.save(); err != nil {
			// In-memory state stays authoritative for this process; a stale
			// state file only causes redelivery after a restart, which
			// at-least-once consumers must tolerate anyway.
			s.logger.Warn("failed to persist group state", "stream", g.stream, "group", g.name, "error", err)
		}
	}
	return out
}

// Ack removes an entry from the group's pending table. Acknowledging an
// entry that is not pending (already acked, or never delivered) is a
// silent no-op so that retried acks after a consumer crash stay safe.
func (s *Store) Ack(streamName, groupName string, offset uint64) error {
	_, g, err := s.getGroup(streamName, groupName)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.pending[offset]; !ok {
		return nil
	}
	delete(g.pending, offset)

	if err := g.save(); err != nil {
		s.logger.Warn("failed to persist group state after ack", "stream", streamName, "group", groupName, "error", err)
	}
	return nil
}

// PendingEntries returns a read-only snapshot of the group's pending
// table, sorted by offset. It never mutates delivery state.
func (s *Store) PendingEntries(streamName, groupName string) ([]PendingInfo, error) {
	_, g, err := s.getGroup(streamName, groupName)
	if err != nil {
		return nil, err
	}
	return g.snapshotPending(time.Now().UTC()), nil
}

// Claim transfers ownership of pending entries to a new consumer, but only
// for entries that have been idle for at least minIdle. It returns the
// offsets actually claimed. Claiming is the only way an entry moves
// between consumers; delivery never reassigns implicitly.
func (s *Store) Claim(streamName, groupName, newConsumer string, minIdle time.Duration, offsets ...uint64) ([]uint64, error) {
	_, g, err := s.getGroup(streamName, groupName)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()

	claimed := make([]uint64, 0, len(offsets))
	for _, offset := range offsets {
		p, ok := g.pending[offset]
		if !ok || now.Sub(p.DeliveredAt) < minIdle {
			continue
		}
		p.Consumer = newConsumer
		p.DeliveredAt = now
		p.DeliveryCount++
		claimed = append(claimed, offset)
	}

	if len(claimed) > 0 {
		if err := g.save(); err != nil {
			s.logger.Warn("failed to persist group state after claim", "stream", streamName, "group", groupName, "error", err)
		}
	}
	return claimed, nil
}
