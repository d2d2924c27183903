package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/user/txstream/internal/domain"
)

// AdminRepository implements domain.StreamAdminRepository on Redis Streams.
type AdminRepository struct {
	client *redis.Client
	logger *slog.Logger
}

// NewAdminRepository creates a new Redis admin repository.
func NewAdminRepository(client *redis.Client, logger *slog.Logger) *AdminRepository {
	return &AdminRepository{
		client: client,
		logger: logger.With("component", "redis_admin"),
	}
}

// GetGroupInfo describes the consumer groups of a stream.
func (r *AdminRepository) GetGroupInfo(ctx context.Context, stream string) ([]domain.ConsumerGroupInfo, error) {
	groups, err := r.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get group info for stream %s: %w", stream, err)
	}

	result := make([]domain.ConsumerGroupInfo, len(groups))
	for i, g := range groups {
		result[i] = domain.ConsumerGroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
		}
	}
	return result, nil
}

// GetConsumerInfo describes the consumers of a group.
func (r *AdminRepository) GetConsumerInfo(ctx context.Context, stream, group string) ([]domain.ConsumerInfo, error) {
	consumers, err := r.client.XInfoConsumers(ctx, stream, group).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer info for stream %s, group %s: %w", stream, group, err)
	}

	result := make([]domain.ConsumerInfo, len(consumers))
	for i, c := range consumers {
		result[i] = domain.ConsumerInfo{
			Name:    c.Name,
			Pending: c.Pending,
			Idle:    time.Duration(c.Idle) * time.Millisecond,
		}
	}
	return result, nil
}

// GetPendingSummary summarizes delivered-but-unacknowledged entries.
func (r *AdminRepository) GetPendingSummary(ctx context.Context, stream, group string) (*domain.PendingSummary, error) {
	pending, err := r.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pending summary for stream %s, group %s: %w", stream, group, err)
	}

	return &domain.PendingSummary{
		Total:          pending.Count,
		FirstEntryID:   pending.Lower,
		LastEntryID:    pending.Higher,
		ConsumerTotals: pending.Consumers,
	}, nil
}

// GetPendingEntries lists pending entries, optionally filtered by consumer.
func (r *AdminRepository) GetPendingEntries(ctx context.Context, stream, group, consumer string, count int64) ([]domain.PendingDetail, error) {
	if count <= 0 {
		count = 100
	}
	args := &redis.XPendingExtArgs{
		Stream:   stream,
		Group:    group,
		Start:    "-",
		End:      "+",
		Count:    count,
		Consumer: consumer,
	}

	entries, err := r.client.XPendingExt(ctx, args).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pending entries: %w", err)
	}

	result := make([]domain.PendingDetail, len(entries))
	for i, e := range entries {
		result[i] = domain.PendingDetail{
			ID:            e.ID,
			Consumer:      e.Consumer,
			IdleTime:      e.Idle,
			DeliveryCount: e.RetryCount,
		}
	}
	return result, nil
}

// ClaimEntries claims pending entries for a new consumer.
func (r *AdminRepository) ClaimEntries(ctx context.Context, stream, group, consumer string, minIdle time.Duration, entryIDs []string) ([]domain.Transaction, error) {
	args := &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: entryIDs,
	}

	claimed, err := r.client.XClaim(ctx, args).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim entries: %w", err)
	}

	txns := make([]domain.Transaction, 0, len(claimed))
	for _, msg := range claimed {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			r.logger.Warn("claimed message has no payload field", "message_id", msg.ID)
			continue
		}
		var txn domain.Transaction
		if err := json.Unmarshal([]byte(payload), &txn); err != nil {
			r.logger.Warn("failed to unmarshal claimed transaction", "message_id", msg.ID, "error", err)
			continue
		}
		txn.StreamEntryID = msg.ID
		txns = append(txns, txn)
	}
	return txns, nil
}

// AcknowledgeEntries acks entries on behalf of an operator.
func (r *AdminRepository) AcknowledgeEntries(ctx context.Context, stream, group string, entryIDs ...string) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	return r.client.XAck(ctx, stream, group, entryIDs...).Result()
}

// StreamLength returns the number of entries in the stream.
func (r *AdminRepository) StreamLength(ctx context.Context, stream string) (int64, error) {
	return r.client.XLen(ctx, stream).Result()
}
