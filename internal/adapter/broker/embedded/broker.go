package embedded

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/user/txstream/internal/domain"
	"github.com/user/txstream/internal/stream"
)

// Broker implements domain.Broker and domain.StreamAdminRepository on top
// of the embedded durable stream store. Transactions are marshalled to
// JSON at this boundary; the store only ever sees opaque bytes.
type Broker struct {
	store      *stream.Store
	streamName string
	logger     *slog.Logger
}

// NewBroker creates an embedded broker bound to a single stream.
func NewBroker(store *stream.Store, streamName string, logger *slog.Logger) *Broker {
	return &Broker{
		store:      store,
		streamName: streamName,
		logger:     logger.With("component", "embedded_broker", "stream", streamName),
	}
}

func formatOffset(offset uint64) string {
	return strconv.FormatUint(offset, 10)
}

func parseOffset(id string) (uint64, error) {
	offset, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid entry id %q: %w", id, err)
	}
	return offset, nil
}

// Publish appends a single transaction to the stream.
func (b *Broker) Publish(ctx context.Context, txn domain.Transaction) error {
	payload, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	if _, err := b.store.Append(b.streamName, payload); err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// PublishBatch appends transactions in order. The returned ids identify
// the durably written prefix; on error the remainder must be retried.
func (b *Broker) PublishBatch(ctx context.Context, txns []domain.Transaction) ([]string, error) {
	if len(txns) == 0 {
		return nil, nil
	}

	payloads := make([][]byte, len(txns))
	for i, txn := range txns {
		data, err := json.Marshal(txn)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal transaction %s: %w", txn.ID, err)
		}
		payloads[i] = data
	}

	offsets, err := b.store.AppendBatch(b.streamName, payloads)
	ids := make([]string, len(offsets))
	for i, offset := range offsets {
		ids[i] = formatOffset(offset)
	}
	if err != nil {
		return ids, fmt.Errorf("batch append stopped after %d of %d entries: %w", len(offsets), len(txns), err)
	}
	return ids, nil
}

// CreateGroup registers a consumer group reading from the beginning of the
// stream. An already existing group is left untouched.
func (b *Broker) CreateGroup(ctx context.Context, group string) error {
	return b.store.CreateGroup(b.streamName, group, stream.StartBeginning)
}

// ReadBatch delivers up to count transactions to the named consumer.
func (b *Broker) ReadBatch(ctx context.Context, group, consumer string, count int, block time.Duration) ([]domain.Transaction, error) {
	deliveries, err := b.store.ReadNext(ctx, b.streamName, group, consumer, count, block)
	if err != nil {
		return nil, err
	}

	txns := make([]domain.Transaction, 0, len(deliveries))
	for _, d := range deliveries {
		var txn domain.Transaction
		if err := json.Unmarshal(d.Payload, &txn); err != nil {
			b.logger.Warn("failed to unmarshal delivered transaction, skipping", "offset", d.Offset, "error", err)
			continue
		}
		txn.StreamEntryID = formatOffset(d.Offset)
		txns = append(txns, txn)
	}
	return txns, nil
}

// Ack marks entries as processed. Unknown ids are silent no-ops.
func (b *Broker) Ack(ctx context.Context, group string, entryIDs ...string) error {
	for _, id := range entryIDs {
		offset, err := parseOffset(id)
		if err != nil {
			return err
		}
		if err := b.store.Ack(b.streamName, group, offset); err != nil {
			return err
		}
	}
	return nil
}

// GetGroupInfo describes the consumer groups of a stream.
func (b *Broker) GetGroupInfo(ctx context.Context, streamName string) ([]domain.ConsumerGroupInfo, error) {
	groups := b.store.Groups(streamName)
	out := make([]domain.ConsumerGroupInfo, 0, len(groups))

	for _, group := range groups {
		pending, err := b.store.PendingEntries(streamName, group)
		if err != nil {
			return nil, err
		}
		cursor, err := b.store.Cursor(streamName, group)
		if err != nil {
			return nil, err
		}

		consumers := make(map[string]struct{})
		for _, p := range pending {
			consumers[p.Consumer] = struct{}{}
		}

		lastDelivered := ""
		if cursor > 0 {
			lastDelivered = formatOffset(cursor - 1)
		}
		out = append(out, domain.ConsumerGroupInfo{
			Name:            group,
			Consumers:       int64(len(consumers)),
			Pending:         int64(len(pending)),
			LastDeliveredID: lastDelivered,
		})
	}
	return out, nil
}

// GetConsumerInfo describes the consumers holding pending entries in a group.
func (b *Broker) GetConsumerInfo(ctx context.Context, streamName, group string) ([]domain.ConsumerInfo, error) {
	pending, err := b.store.PendingEntries(streamName, group)
	if err != nil {
		return nil, err
	}

	type agg struct {
		count int64
		idle  time.Duration
	}
	byConsumer := make(map[string]*agg)
	for _, p := range pending {
		a, ok := byConsumer[p.Consumer]
		if !ok {
			a = &agg{idle: p.Idle}
			byConsumer[p.Consumer] = a
		}
		a.count++
		if p.Idle < a.idle {
			a.idle = p.Idle
		}
	}

	out := make([]domain.ConsumerInfo, 0, len(byConsumer))
	for name, a := range byConsumer {
		out = append(out, domain.ConsumerInfo{Name: name, Pending: a.count, Idle: a.idle})
	}
	return out, nil
}

// GetPendingSummary summarizes delivered-but-unacknowledged entries.
func (b *Broker) GetPendingSummary(ctx context.Context, streamName, group string) (*domain.PendingSummary, error) {
	pending, err := b.store.PendingEntries(streamName, group)
	if err != nil {
		return nil, err
	}

	summary := &domain.PendingSummary{
		Total:          int64(len(pending)),
		ConsumerTotals: make(map[string]int64),
	}
	if len(pending) > 0 {
		summary.FirstEntryID = formatOffset(pending[0].Offset)
		summary.LastEntryID = formatOffset(pending[len(pending)-1].Offset)
	}
	for _, p := range pending {
		summary.ConsumerTotals[p.Consumer]++
	}
	return summary, nil
}

// GetPendingEntries lists pending entries, optionally filtered by consumer.
func (b *Broker) GetPendingEntries(ctx context.Context, streamName, group, consumer string, count int64) ([]domain.PendingDetail, error) {
	pending, err := b.store.PendingEntries(streamName, group)
	if err != nil {
		return nil, err
	}

	out := make([]domain.PendingDetail, 0, len(pending))
	for _, p := range pending {
		if consumer != "" && p.Consumer != consumer {
			continue
		}
		out = append(out, domain.PendingDetail{
			ID:            formatOffset(p.Offset),
			Consumer:      p.Consumer,
			IdleTime:      p.Idle,
			DeliveryCount: p.DeliveryCount,
		})
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

// ClaimEntries transfers pending entries idle for at least minIdle to a new
// consumer and returns the transactions actually claimed.
func (b *Broker) ClaimEntries(ctx context.Context, streamName, group, consumer string, minIdle time.Duration, entryIDs []string) ([]domain.Transaction, error) {
	offsets := make([]uint64, 0, len(entryIDs))
	for _, id := range entryIDs {
		offset, err := parseOffset(id)
		if err != nil {
			return nil, err
		}
		offsets = append(offsets, offset)
	}

	claimed, err := b.store.Claim(streamName, group, consumer, minIdle, offsets...)
	if err != nil {
		return nil, err
	}

	txns := make([]domain.Transaction, 0, len(claimed))
	for _, offset := range claimed {
		entries, err := b.store.ReadRange(streamName, offset, 1)
		if err != nil || len(entries) == 0 || entries[0].Offset != offset {
			continue
		}
		var txn domain.Transaction
		if err := json.Unmarshal(entries[0].Payload, &txn); err != nil {
			b.logger.Warn("failed to unmarshal claimed transaction", "offset", offset, "error", err)
			continue
		}
		txn.StreamEntryID = formatOffset(offset)
		txns = append(txns, txn)
	}
	return txns, nil
}

// AcknowledgeEntries acks entries on behalf of an operator.
func (b *Broker) AcknowledgeEntries(ctx context.Context, streamName, group string, entryIDs ...string) (int64, error) {
	pendingBefore, err := b.store.PendingEntries(streamName, group)
	if err != nil {
		return 0, err
	}
	wasPending := make(map[uint64]bool, len(pendingBefore))
	for _, p := range pendingBefore {
		wasPending[p.Offset] = true
	}

	var acked int64
	for _, id := range entryIDs {
		offset, err := parseOffset(id)
		if err != nil {
			return acked, err
		}
		if err := b.store.Ack(streamName, group, offset); err != nil {
			return acked, err
		}
		if wasPending[offset] {
			acked++
		}
	}
	return acked, nil
}

// StreamLength returns the number of entries in the stream.
func (b *Broker) StreamLength(ctx context.Context, streamName string) (int64, error) {
	n, err := b.store.Len(streamName)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
