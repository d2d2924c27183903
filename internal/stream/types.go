package stream

import "time"

// Entry is an immutable record in a stream. The offset is assigned by the
// store at append time and is strictly increasing within a stream.
type Entry struct {
	Offset     uint64    `json:"offset"`
	Payload    []byte    `json:"payload"`
	AppendedAt time.Time `json:"appended_at"`
}

// Delivery is a single entry handed to a consumer by ReadNext.
type Delivery struct {
	Offset  uint64
	Payload []byte
}

// PendingInfo describes one delivered-but-unacknowledged entry of a group.
type PendingInfo struct {
	Offset        uint64
	Consumer      string
	DeliveryCount int64
	Idle          time.Duration
}

// StartPosition controls where a newly created consumer group begins reading.
type StartPosition int

const (
	// StartBeginning delivers every entry already in the stream.
	StartBeginning StartPosition = iota
	// StartEnd delivers only entries appended after group creation.
	StartEnd
)

// StreamInfo is a read-only snapshot of a stream's state.
type StreamInfo struct {
	Name       string `json:"name"`
	Length     uint64 `json:"length"`
	NextOffset uint64 `json:"next_offset"`
	Groups     int    `json:"groups"`
}
