package domain

import (
	"context"
	"time"
)

// Broker defines the producer/consumer surface of the transaction stream.
// This abstracts away the specific backends (embedded durable log, Redis
// Streams). A Broker instance is bound to one stream at construction time.
type Broker interface {
	// Publish appends a single transaction to the stream.
	Publish(ctx context.Context, txn Transaction) error

	// PublishBatch appends transactions in order and returns the assigned
	// entry ids for the ones durably written. When err is non-nil the ids
	// cover a prefix of the batch; the remainder must be retried.
	PublishBatch(ctx context.Context, txns []Transaction) ([]string, error)

	// CreateGroup registers a consumer group reading from the beginning of
	// the stream. Creating a group that already exists is a no-op.
	CreateGroup(ctx context.Context, group string) error

	// ReadBatch delivers up to count transactions to the named consumer,
	// re-offering the consumer's own pending entries before new ones. It
	// blocks up to the block duration when nothing is available and
	// returns an empty batch on timeout, which is not an error.
	ReadBatch(ctx context.Context, group, consumer string, count int, block time.Duration) ([]Transaction, error)

	// Ack marks entries as processed. Acknowledging an entry that is not
	// pending is a silent no-op.
	Ack(ctx context.Context, group string, entryIDs ...string) error
}

// TransactionRepository defines the interface for the analytics sink.
type TransactionRepository interface {
	// WriteBatch durably stores a batch of scored transactions. It must be
	// idempotent per transaction id, since at-least-once delivery can
	// resubmit a batch after a crash.
	WriteBatch(ctx context.Context, txns []Transaction) error

	// GetFraudStats returns overall fraud statistics from the sink.
	GetFraudStats(ctx context.Context) (*FraudStats, error)

	// GetTopMerchants returns merchants ordered by transaction volume.
	GetTopMerchants(ctx context.Context, limit int) ([]MerchantStats, error)

	// GetRecentFraud returns the most recent fraudulent transactions.
	GetRecentFraud(ctx context.Context, limit int) ([]Transaction, error)
}

// StreamAdminRepository defines read-mostly introspection and recovery
// operations over the stream, independent of the consume path.
type StreamAdminRepository interface {
	// GetGroupInfo describes the consumer groups of a stream.
	GetGroupInfo(ctx context.Context, stream string) ([]ConsumerGroupInfo, error)

	// GetConsumerInfo describes the consumers holding pending entries in a group.
	GetConsumerInfo(ctx context.Context, stream, group string) ([]ConsumerInfo, error)

	// GetPendingSummary summarizes delivered-but-unacknowledged entries.
	GetPendingSummary(ctx context.Context, stream, group string) (*PendingSummary, error)

	// GetPendingEntries lists pending entries, optionally filtered by consumer.
	GetPendingEntries(ctx context.Context, stream, group, consumer string, count int64) ([]PendingDetail, error)

	// ClaimEntries transfers pending entries idle for at least minIdle to a
	// new consumer and returns the transactions actually claimed.
	ClaimEntries(ctx context.Context, stream, group, consumer string, minIdle time.Duration, entryIDs []string) ([]Transaction, error)

	// AcknowledgeEntries acks entries on behalf of an operator and returns
	// how many were newly acknowledged.
	AcknowledgeEntries(ctx context.Context, stream, group string, entryIDs ...string) (int64, error)

	// StreamLength returns the number of entries in the stream.
	StreamLength(ctx context.Context, stream string) (int64, error)
}
