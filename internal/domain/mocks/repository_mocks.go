package mocks

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/user/txstream/internal/domain"
)

// MockBroker is a mock implementation of domain.Broker for testing.
type MockBroker struct {
	mu              sync.Mutex
	Published       []domain.Transaction
	CreatedGroups   []string
	AckedEntryIDs   []string
	ReadBatchResult []domain.Transaction
	PublishErr      error
	CreateGroupErr  error
	ReadErr         error
	AckErr          error
}

func (m *MockBroker) Publish(ctx context.Context, txn domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Published = append(m.Published, txn)
	return nil
}

func (m *MockBroker) PublishBatch(ctx context.Context, txns []domain.Transaction) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return nil, m.PublishErr
	}
	ids := make([]string, len(txns))
	for i, txn := range txns {
		ids[i] = strconv.Itoa(len(m.Published))
		m.Published = append(m.Published, txn)
	}
	return ids, nil
}

func (m *MockBroker) CreateGroup(ctx context.Context, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateGroupErr != nil {
		return m.CreateGroupErr
	}
	m.CreatedGroups = append(m.CreatedGroups, group)
	return nil
}

func (m *MockBroker) ReadBatch(ctx context.Context, group, consumer string, count int, block time.Duration) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	return m.ReadBatchResult, nil
}

func (m *MockBroker) Ack(ctx context.Context, group string, entryIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.AckedEntryIDs = append(m.AckedEntryIDs, entryIDs...)
	return nil
}

// MockTransactionRepository is a mock implementation of
// domain.TransactionRepository for testing.
type MockTransactionRepository struct {
	mu          sync.Mutex
	WrittenTxns []domain.Transaction
	StatsResult *domain.FraudStats
	WriteErr    error
	StatsErr    error
	WriteCalls  int
}

func (m *MockTransactionRepository) WriteBatch(ctx context.Context, txns []domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteCalls++
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.WrittenTxns = append(m.WrittenTxns, txns...)
	return nil
}

func (m *MockTransactionRepository) GetFraudStats(ctx context.Context) (*domain.FraudStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StatsErr != nil {
		return nil, m.StatsErr
	}
	return m.StatsResult, nil
}

func (m *MockTransactionRepository) GetTopMerchants(ctx context.Context, limit int) ([]domain.MerchantStats, error) {
	return nil, nil
}

func (m *MockTransactionRepository) GetRecentFraud(ctx context.Context, limit int) ([]domain.Transaction, error) {
	return nil, nil
}
