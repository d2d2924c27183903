package usecase

import (
	"context"
	"time"

	"github.com/user/txstream/internal/domain"
)

// AdminStreamUseCase provides use cases for stream administration.
type AdminStreamUseCase struct {
	repo domain.StreamAdminRepository
}

// NewAdminStreamUseCase creates a new AdminStreamUseCase.
func NewAdminStreamUseCase(repo domain.StreamAdminRepository) *AdminStreamUseCase {
	return &AdminStreamUseCase{repo: repo}
}

func (uc *AdminStreamUseCase) GetGroupInfo(ctx context.Context, stream string) ([]domain.ConsumerGroupInfo, error) {
	return uc.repo.GetGroupInfo(ctx, stream)
}

func (uc *AdminStreamUseCase) GetConsumerInfo(ctx context.Context, stream, group string) ([]domain.ConsumerInfo, error) {
	return uc.repo.GetConsumerInfo(ctx, stream, group)
}

func (uc *AdminStreamUseCase) GetPendingSummary(ctx context.Context, stream, group string) (*domain.PendingSummary, error) {
	return uc.repo.GetPendingSummary(ctx, stream, group)
}

func (uc *AdminStreamUseCase) GetPendingEntries(ctx context.Context, stream, group, consumer string, count int64) ([]domain.PendingDetail, error) {
	if count <= 0 {
		count = 100 // Default count
	}
	return uc.repo.GetPendingEntries(ctx, stream, group, consumer, count)
}

func (uc *AdminStreamUseCase) ClaimEntries(ctx context.Context, stream, group, consumer string, minIdle time.Duration, entryIDs []string) ([]domain.Transaction, error) {
	return uc.repo.ClaimEntries(ctx, stream, group, consumer, minIdle, entryIDs)
}

func (uc *AdminStreamUseCase) AcknowledgeEntries(ctx context.Context, stream, group string, entryIDs ...string) (int64, error) {
	return uc.repo.AcknowledgeEntries(ctx, stream, group, entryIDs...)
}

func (uc *AdminStreamUseCase) StreamLength(ctx context.Context, stream string) (int64, error) {
	return uc.repo.StreamLength(ctx, stream)
}
