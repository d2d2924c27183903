package domain

import "time"

// Transaction is the canonical synthetic transaction record flowing
// through the pipeline. It is serialized to JSON at the broker boundary
// and the broker treats the bytes as opaque.
type Transaction struct {
	ID               string    `json:"transaction_id"`
	UserID           string    `json:"user_id"`
	Timestamp        time.Time `json:"timestamp"`
	Amount           float64   `json:"amount"`
	MerchantID       string    `json:"merchant_id"`
	MerchantName     string    `json:"merchant_name"`
	MerchantCategory string    `json:"merchant_category"`
	CardLast4        string    `json:"card_last4"`
	DeviceID         string    `json:"device_id"`
	IPAddress        string    `json:"ip_address"`
	LocationLat      float64   `json:"location_lat"`
	LocationLon      float64   `json:"location_lon"`
	IsFraud          bool      `json:"is_fraud"`
	FraudType        string    `json:"fraud_type,omitempty"`
	FraudsterID      string    `json:"fraudster_id,omitempty"`

	// FraudScore is assigned by the scoring consumer, not the generator.
	FraudScore float64 `json:"fraud_score,omitempty"`

	// StreamEntryID is the broker-assigned entry id, set on delivery and
	// used to acknowledge the entry. Never serialized into the payload.
	StreamEntryID string `json:"-"`
}

// FraudStats summarizes fraud across all sunk transactions.
type FraudStats struct {
	TotalTransactions int64   `json:"total_transactions"`
	FraudCount        int64   `json:"fraud_count"`
	FraudRate         float64 `json:"fraud_rate"`
	AvgAmount         float64 `json:"avg_amount"`
	FraudAmount       float64 `json:"fraud_amount"`
}

// MerchantStats aggregates transaction volume and fraud per merchant.
type MerchantStats struct {
	MerchantName     string  `json:"merchant_name"`
	TransactionCount int64   `json:"transaction_count"`
	FraudCount       int64   `json:"fraud_count"`
	FraudRate        float64 `json:"fraud_rate"`
	TotalAmount      float64 `json:"total_amount"`
}
