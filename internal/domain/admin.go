package domain

import "time"

// ConsumerGroupInfo represents information about a stream consumer group.
type ConsumerGroupInfo struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	LastDeliveredID string `json:"last_delivered_id"`
}

// ConsumerInfo represents information about a specific consumer in a group.
type ConsumerInfo struct {
	Name    string        `json:"name"`
	Pending int64         `json:"pending"`
	Idle    time.Duration `json:"idle_ms"`
}

// PendingSummary provides a summary of pending entries for a consumer group.
type PendingSummary struct {
	Total          int64            `json:"total"`
	FirstEntryID   string           `json:"first_entry_id,omitempty"`
	LastEntryID    string           `json:"last_entry_id,omitempty"`
	ConsumerTotals map[string]int64 `json:"consumer_totals,omitempty"`
}

// PendingDetail represents a detailed view of a single pending entry.
type PendingDetail struct {
	ID            string        `json:"id"`
	Consumer      string        `json:"consumer"`
	IdleTime      time.Duration `json:"idle_time_ms"`
	DeliveryCount int64         `json:"delivery_count"`
}
