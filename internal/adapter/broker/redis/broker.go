package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/user/txstream/internal/domain"
)

// Broker implements domain.Broker on Redis Streams. It exists for
// deployments that want the stream shared between processes instead of
// kept inside one; the embedded backend is the default.
type Broker struct {
	client     *redis.Client
	streamName string
	logger     *slog.Logger
}

// NewBroker creates a Redis-backed broker bound to a single stream.
func NewBroker(client *redis.Client, streamName string, logger *slog.Logger) *Broker {
	return &Broker{
		client:     client,
		streamName: streamName,
		logger:     logger.With("component", "redis_broker", "stream", streamName),
	}
}

// Publish adds a single transaction to the stream.
func (b *Broker) Publish(ctx context.Context, txn domain.Transaction) error {
	payload, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: b.streamName,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to redis stream: %w", err)
	}
	return nil
}

// PublishBatch adds transactions in order through a single pipeline.
func (b *Broker) PublishBatch(ctx context.Context, txns []domain.Transaction) ([]string, error) {
	if len(txns) == 0 {
		return nil, nil
	}

	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(txns))
	for _, txn := range txns {
		payload, err := json.Marshal(txn)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal transaction %s: %w", txn.ID, err)
		}
		cmds = append(cmds, pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: b.streamName,
			Values: map[string]interface{}{"payload": payload},
		}))
	}

	_, execErr := pipe.Exec(ctx)

	// Report ids for every XADD that succeeded; the pipeline stops being
	// useful at the first failure but prior adds are already in the stream.
	ids := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		id, err := cmd.Result()
		if err != nil {
			break
		}
		ids = append(ids, id)
	}
	if execErr != nil {
		return ids, fmt.Errorf("batch publish stopped after %d of %d entries: %w", len(ids), len(txns), execErr)
	}
	return ids, nil
}

// CreateGroup registers a consumer group reading from the beginning of the
// stream, creating the stream if needed. An existing group is left as is.
func (b *Broker) CreateGroup(ctx context.Context, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, b.streamName, group, "0").Err()
	if err != nil && !isRedisBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// ReadBatch delivers up to count transactions to the named consumer. The
// consumer's own pending entries are re-offered before new ones are
// claimed, so a restarted consumer resumes its unfinished work first.
func (b *Broker) ReadBatch(ctx context.Context, group, consumer string, count int, block time.Duration) ([]domain.Transaction, error) {
	pending, err := b.readGroup(ctx, group, consumer, "0", count, 0)
	if err != nil {
		return nil, err
	}
	if len(pending) >= count {
		return pending, nil
	}

	fresh, err := b.readGroup(ctx, group, consumer, ">", count-len(pending), block)
	if err != nil {
		if len(pending) > 0 {
			return pending, nil
		}
		return nil, err
	}
	return append(pending, fresh...), nil
}

func (b *Broker) readGroup(ctx context.Context, group, consumer, cursor string, count int, block time.Duration) ([]domain.Transaction, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{b.streamName, cursor},
		Count:    int64(count),
	}
	if block > 0 {
		args.Block = block
	} else {
		args.Block = -1 // do not block
	}

	streams, err := b.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP from redis: %w", err)
	}
	if len(streams) == 0 {
		return nil, nil
	}

	messages := streams[0].Messages
	txns := make([]domain.Transaction, 0, len(messages))
	for _, msg := range messages {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			b.logger.Warn("invalid message format in stream, skipping", "message_id", msg.ID)
			continue
		}

		var txn domain.Transaction
		if err := json.Unmarshal([]byte(payload), &txn); err != nil {
			b.logger.Warn("failed to unmarshal transaction from stream, skipping", "message_id", msg.ID, "error", err)
			continue
		}
		txn.StreamEntryID = msg.ID
		txns = append(txns, txn)
	}
	return txns, nil
}

// Ack acknowledges processed entries. XACK on an unknown id is already a
// no-op on the Redis side.
func (b *Broker) Ack(ctx context.Context, group string, entryIDs ...string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	if err := b.client.XAck(ctx, b.streamName, group, entryIDs...).Err(); err != nil {
		return fmt.Errorf("failed to XACK entries in redis: %w", err)
	}
	return nil
}

func isRedisBusyGroupError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}
