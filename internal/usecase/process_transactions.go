package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/txstream/internal/adapter/metrics"
	"github.com/user/txstream/internal/domain"
)

// FraudScorer assigns a fraud score to a transaction and reports whether
// it crosses the flag threshold.
type FraudScorer interface {
	Score(txn *domain.Transaction) bool
}

// ProcessTransactionsUseCase orchestrates the scoring consumer: read a
// batch from the stream, score it, write it to the analytics sink, and
// acknowledge only after the sink write succeeded.
type ProcessTransactionsUseCase struct {
	broker       domain.Broker
	sink         domain.TransactionRepository
	scorer       FraudScorer
	logger       *slog.Logger
	metrics      *metrics.PipelineMetrics
	group        string
	consumer     string
	batchSize    int
	blockTimeout time.Duration
	retryCount   int
	retryBackoff time.Duration
}

// NewProcessTransactionsUseCase creates a new use case for processing
// transactions.
func NewProcessTransactionsUseCase(
	broker domain.Broker,
	sink domain.TransactionRepository,
	scorer FraudScorer,
	logger *slog.Logger,
	m *metrics.PipelineMetrics,
	group, consumer string,
	batchSize int,
	blockTimeout time.Duration,
	retryCount int,
	retryBackoff time.Duration,
) *ProcessTransactionsUseCase {
	return &ProcessTransactionsUseCase{
		broker:       broker,
		sink:         sink,
		scorer:       scorer,
		logger:       logger,
		metrics:      m,
		group:        group,
		consumer:     consumer,
		batchSize:    batchSize,
		blockTimeout: blockTimeout,
		retryCount:   retryCount,
		retryBackoff: retryBackoff,
	}
}

// Run processes batches until the context is cancelled.
func (uc *ProcessTransactionsUseCase) Run(ctx context.Context) error {
	uc.logger.Info("starting transaction processor", "group", uc.group, "consumer", uc.consumer, "batch_size", uc.batchSize)

	for {
		if ctx.Err() != nil {
			uc.logger.Info("transaction processor stopped")
			return nil
		}
		if _, err := uc.ProcessBatch(ctx); err != nil {
			if ctx.Err() != nil {
				uc.logger.Info("transaction processor stopped")
				return nil
			}
			uc.logger.Error("error processing batch", "error", err)
			select {
			case <-time.After(uc.retryBackoff):
			case <-ctx.Done():
			}
		}
	}
}

// ProcessBatch handles one read-score-sink-ack cycle and returns the
// number of transactions processed. An empty read after the block timeout
// is a normal outcome.
func (uc *ProcessTransactionsUseCase) ProcessBatch(ctx context.Context) (int, error) {
	txns, err := uc.broker.ReadBatch(ctx, uc.group, uc.consumer, uc.batchSize, uc.blockTimeout)
	if err != nil {
		return 0, err
	}
	if len(txns) == 0 {
		return 0, nil
	}

	var flagged int
	for i := range txns {
		if uc.scorer.Score(&txns[i]) {
			flagged++
		}
	}
	if flagged > 0 {
		uc.metrics.FraudFlagged.Add(float64(flagged))
	}

	if err := uc.writeWithRetry(ctx, txns); err != nil {
		// Not acknowledging here is deliberate: the entries stay pending
		// and are re-offered to this consumer on the next read. The sink
		// upsert absorbs the resulting duplicates.
		uc.metrics.ProcessedTotal.WithLabelValues("error_sink").Add(float64(len(txns)))
		uc.logger.Error("failed to write batch to sink after retries, leaving entries pending", "count", len(txns), "error", err)
		return 0, err
	}

	entryIDs := make([]string, len(txns))
	for i, txn := range txns {
		entryIDs[i] = txn.StreamEntryID
	}
	if err := uc.broker.Ack(ctx, uc.group, entryIDs...); err != nil {
		// The batch is in the sink but not acked; redelivery will hit the
		// idempotent upsert, so this is safe but worth counting.
		uc.metrics.ProcessedTotal.WithLabelValues("error_ack").Add(float64(len(txns)))
		uc.logger.Error("failed to acknowledge processed entries", "error", err)
		return 0, err
	}

	uc.metrics.ProcessedTotal.WithLabelValues("sunk").Add(float64(len(txns)))
	uc.logger.Debug("processed transaction batch", "count", len(txns), "flagged", flagged)
	return len(txns), nil
}

func (uc *ProcessTransactionsUseCase) writeWithRetry(ctx context.Context, txns []domain.Transaction) error {
	var lastErr error
	for i := 0; i < uc.retryCount; i++ {
		start := time.Now()
		err := uc.sink.WriteBatch(ctx, txns)
		uc.metrics.SinkWriteSeconds.Observe(time.Since(start).Seconds())
		if err == nil {
			return nil
		}
		lastErr = err
		uc.logger.Warn("failed to write batch to sink, retrying", "attempt", i+1, "error", err)
		select {
		case <-time.After(uc.retryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
