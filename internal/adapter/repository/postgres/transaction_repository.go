package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/lib/pq"
	"github.com/user/txstream/internal/domain"
)

// TransactionRepository implements domain.TransactionRepository on
// PostgreSQL. Batches land via the COPY protocol into a temp table and are
// merged with an upsert, so redelivered batches never create duplicates.
type TransactionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTransactionRepository creates a new PostgreSQL transaction repository.
func NewTransactionRepository(db *sql.DB, logger *slog.Logger) *TransactionRepository {
	return &TransactionRepository{db: db, logger: logger}
}

var transactionColumns = []string{
	"transaction_id", "user_id", "ts", "amount",
	"merchant_id", "merchant_name", "merchant_category",
	"card_last4", "device_id", "ip_address",
	"location_lat", "location_lon",
	"is_fraud", "fraud_type", "fraudster_id", "fraud_score",
}

// WriteBatch stores a batch of scored transactions, keyed on transaction_id.
func (r *TransactionRepository) WriteBatch(ctx context.Context, txns []domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	dbTxn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTxn.Rollback() // Rollback is a no-op if Commit() is called

	// Stage through a temp table, then merge. COPY cannot express ON
	// CONFLICT on its own, and row-at-a-time upserts are far too slow.
	tempTableName := "transactions_temp_import"
	_, err = dbTxn.ExecContext(ctx, `CREATE TEMP TABLE `+tempTableName+` (LIKE transactions INCLUDING DEFAULTS) ON COMMIT DROP;`)
	if err != nil {
		return err
	}

	stmt, err := dbTxn.Prepare(pq.CopyIn(tempTableName, transactionColumns...))
	if err != nil {
		return err
	}

	for _, txn := range txns {
		_, err = stmt.ExecContext(ctx,
			txn.ID, txn.UserID, txn.Timestamp, txn.Amount,
			txn.MerchantID, txn.MerchantName, txn.MerchantCategory,
			txn.CardLast4, txn.DeviceID, txn.IPAddress,
			txn.LocationLat, txn.LocationLon,
			txn.IsFraud, txn.FraudType, txn.FraudsterID, txn.FraudScore,
		)
		if err != nil {
			_ = stmt.Close()
			return err
		}
	}

	if err := stmt.Close(); err != nil {
		return err
	}

	upsertQuery := `
		INSERT INTO transactions (
			transaction_id, user_id, ts, amount,
			merchant_id, merchant_name, merchant_category,
			card_last4, device_id, ip_address,
			location_lat, location_lon,
			is_fraud, fraud_type, fraudster_id, fraud_score
		)
		SELECT
			transaction_id, user_id, ts, amount,
			merchant_id, merchant_name, merchant_category,
			card_last4, device_id, ip_address,
			location_lat, location_lon,
			is_fraud, fraud_type, fraudster_id, fraud_score
		FROM ` + tempTableName + `
		ON CONFLICT (transaction_id) DO UPDATE SET
			fraud_score = EXCLUDED.fraud_score,
			is_fraud = EXCLUDED.is_fraud,
			fraud_type = EXCLUDED.fraud_type,
			fraudster_id = EXCLUDED.fraudster_id;
	`
	_, err = dbTxn.ExecContext(ctx, upsertQuery)
	if err != nil {
		return err
	}

	return dbTxn.Commit()
}

// GetFraudStats returns overall fraud statistics across all stored
// transactions.
func (r *TransactionRepository) GetFraudStats(ctx context.Context) (*domain.FraudStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_fraud THEN 1 ELSE 0 END), 0),
			COALESCE(ROUND(100.0 * SUM(CASE WHEN is_fraud THEN 1 ELSE 0 END) / NULLIF(COUNT(*), 0), 2), 0),
			COALESCE(ROUND(AVG(amount)::numeric, 2), 0),
			COALESCE(ROUND(SUM(CASE WHEN is_fraud THEN amount ELSE 0 END)::numeric, 2), 0)
		FROM transactions;
	`

	var stats domain.FraudStats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalTransactions,
		&stats.FraudCount,
		&stats.FraudRate,
		&stats.AvgAmount,
		&stats.FraudAmount,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetTopMerchants returns merchants ordered by transaction volume.
func (r *TransactionRepository) GetTopMerchants(ctx context.Context, limit int) ([]domain.MerchantStats, error) {
	query := `
		SELECT
			merchant_name,
			COUNT(*),
			SUM(CASE WHEN is_fraud THEN 1 ELSE 0 END),
			ROUND(100.0 * SUM(CASE WHEN is_fraud THEN 1 ELSE 0 END) / COUNT(*), 2),
			ROUND(SUM(amount)::numeric, 2)
		FROM transactions
		GROUP BY merchant_name
		ORDER BY COUNT(*) DESC
		LIMIT $1;
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var merchants []domain.MerchantStats
	for rows.Next() {
		var m domain.MerchantStats
		if err := rows.Scan(&m.MerchantName, &m.TransactionCount, &m.FraudCount, &m.FraudRate, &m.TotalAmount); err != nil {
			return nil, err
		}
		merchants = append(merchants, m)
	}
	return merchants, rows.Err()
}

// GetRecentFraud returns the most recent transactions flagged as fraud.
func (r *TransactionRepository) GetRecentFraud(ctx context.Context, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT
			transaction_id, user_id, ts, amount,
			merchant_name, merchant_category,
			COALESCE(fraud_type, ''), COALESCE(fraudster_id, ''), fraud_score
		FROM transactions
		WHERE is_fraud = true
		ORDER BY ts DESC
		LIMIT $1;
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		txn := domain.Transaction{IsFraud: true}
		err := rows.Scan(
			&txn.ID, &txn.UserID, &txn.Timestamp, &txn.Amount,
			&txn.MerchantName, &txn.MerchantCategory,
			&txn.FraudType, &txn.FraudsterID, &txn.FraudScore,
		)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
