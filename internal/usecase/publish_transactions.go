package usecase

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/user/txstream/internal/adapter/metrics"
	"github.com/user/txstream/internal/domain"
	"github.com/user/txstream/internal/txgen"
)

// PublishTransactionsUseCase drives the synthetic transaction feed: it
// draws batches from the generator and publishes them to the stream at a
// bounded rate.
type PublishTransactionsUseCase struct {
	broker     domain.Broker
	generator  *txgen.Generator
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *metrics.PipelineMetrics
	batchSize  int
	fraudRatio float64
}

// NewPublishTransactionsUseCase creates a publisher emitting perSecond
// transactions on average, in batches of batchSize.
func NewPublishTransactionsUseCase(
	broker domain.Broker,
	generator *txgen.Generator,
	logger *slog.Logger,
	m *metrics.PipelineMetrics,
	perSecond float64,
	batchSize int,
	fraudRatio float64,
) *PublishTransactionsUseCase {
	return &PublishTransactionsUseCase{
		broker:     broker,
		generator:  generator,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), batchSize),
		logger:     logger,
		metrics:    m,
		batchSize:  batchSize,
		fraudRatio: fraudRatio,
	}
}

// Run publishes batches until the context is cancelled.
func (uc *PublishTransactionsUseCase) Run(ctx context.Context) error {
	uc.logger.Info("starting transaction publisher", "batch_size", uc.batchSize, "fraud_ratio", uc.fraudRatio)

	for {
		if err := uc.limiter.WaitN(ctx, uc.batchSize); err != nil {
			if ctx.Err() != nil {
				uc.logger.Info("transaction publisher stopped")
				return nil
			}
			return err
		}

		if err := uc.PublishBatch(ctx); err != nil {
			if ctx.Err() != nil {
				uc.logger.Info("transaction publisher stopped")
				return nil
			}
			uc.logger.Error("failed to publish batch", "error", err)
		}
	}
}

// PublishBatch generates and publishes one batch. When the broker reports
// a durable prefix, the unwritten remainder is retried once before giving
// up so a transient failure does not silently drop transactions.
func (uc *PublishTransactionsUseCase) PublishBatch(ctx context.Context) error {
	batch := uc.generator.Batch(uc.batchSize, uc.fraudRatio)

	ids, err := uc.broker.PublishBatch(ctx, batch)
	uc.metrics.PublishedTotal.WithLabelValues("ok").Add(float64(len(ids)))
	if err == nil {
		uc.logger.Debug("published transaction batch", "count", len(ids))
		return nil
	}

	remainder := batch[len(ids):]
	uc.logger.Warn("batch publish was cut short, retrying remainder", "published", len(ids), "remaining", len(remainder), "error", err)

	retryIDs, retryErr := uc.broker.PublishBatch(ctx, remainder)
	uc.metrics.PublishedTotal.WithLabelValues("ok").Add(float64(len(retryIDs)))
	if retryErr != nil {
		dropped := len(remainder) - len(retryIDs)
		uc.metrics.PublishedTotal.WithLabelValues("error").Add(float64(dropped))
		return retryErr
	}
	return nil
}
