package stream

import "errors"

var (
	// ErrStorageFailure indicates the durability layer rejected a write or read.
	// Callers should retry the whole operation with backoff; no offset was assigned.
	ErrStorageFailure = errors.New("stream: storage failure")

	// ErrStreamNotFound is returned when an operation references a stream that must already exist.
	ErrStreamNotFound = errors.New("stream: stream not found")

	// ErrGroupNotFound is returned when an operation references an unknown consumer group.
	ErrGroupNotFound = errors.New("stream: consumer group not found")

	// ErrStoreClosed is returned for any operation on a closed store.
	ErrStoreClosed = errors.New("stream: store is closed")
)
