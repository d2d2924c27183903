package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	segmentPrefix = "segment-"
	filePerm      = 0644
)

// log is the append-only entry store for a single stream. Entries are kept
// in memory for reads and persisted to JSON-line segment files, which are
// replayed on open. Offset assignment happens under the log mutex, so
// concurrent appends observe a contiguous, duplicate-free sequence.
type log struct {
	dir            string
	maxSegmentSize int64
	logger         *slog.Logger

	mu             sync.Mutex
	entries        []Entry
	nextOffset     uint64
	currentSegment *os.File
	currentSize    int64

	// notifyCh is closed and replaced on every successful append so that
	// blocked readers wake without polling.
	notifyCh chan struct{}
}

func openLog(dir string, maxSegmentSize int64, logger *slog.Logger) (*log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create stream directory %s: %v", ErrStorageFailure, dir, err)
	}

	l := &log{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		logger:         logger.With("component", "stream_log", "dir", dir),
		notifyCh:       make(chan struct{}),
	}

	if err := l.replay(); err != nil {
		return nil, err
	}
	if err := l.openLatestSegment(); err != nil {
		return nil, err
	}

	return l, nil
}

// append assigns the next offset and durably writes the entry before
// returning. On failure no offset is consumed.
func (l *log) append(payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := l.writeEntry(l.nextOffset, payload)
	if err != nil {
		return 0, err
	}
	if err := l.currentSegment.Sync(); err != nil {
		return 0, fmt.Errorf("%w: failed to sync segment: %v", ErrStorageFailure, err)
	}
	l.commit([]Entry{entry})

	return entry.Offset, nil
}

// appendBatch writes all payloads with a single sync at the end. The
// returned offsets cover exactly the entries that were durably written;
// on a mid-batch write failure the successfully synced prefix is reported
// alongside the error so callers can account for every item.
func (l *log) appendBatch(payloads [][]byte) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	written := make([]Entry, 0, len(payloads))
	for i, payload := range payloads {
		entry, err := l.writeEntry(l.nextOffset+uint64(i), payload)
		if err != nil {
			// A failed rotation leaves no open segment, but it already
			// synced and closed the previous one, so the entries written
			// there are durable and must be committed: otherwise a retry
			// would reuse their offsets.
			if l.currentSegment != nil {
				if syncErr := l.currentSegment.Sync(); syncErr != nil {
					return nil, fmt.Errorf("%w: failed to sync segment: %v", ErrStorageFailure, syncErr)
				}
			}
			return l.commit(written), err
		}
		written = append(written, entry)
	}
	if err := l.currentSegment.Sync(); err != nil {
		return nil, fmt.Errorf("%w: failed to sync segment: %v", ErrStorageFailure, err)
	}

	return l.commit(written), nil
}

// writeEntry serializes one entry into the current segment. Callers must
// hold l.mu and commit once the write is durable.
func (l *log) writeEntry(offset uint64, payload []byte) (Entry, error) {
	entry := Entry{
		Offset:     offset,
		Payload:    payload,
		AppendedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal entry: %w", err)
	}
	data = append(data, '\n')

	if l.currentSize+int64(len(data)) > l.maxSegmentSize && l.currentSize > 0 {
		if err := l.rotate(); err != nil {
			return Entry{}, err
		}
	}

	n, err := l.currentSegment.Write(data)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: failed to write segment: %v", ErrStorageFailure, err)
	}
	l.currentSize += int64(n)

	return entry, nil
}

// commit makes durably written entries visible to readers and wakes
// blocked ReadNext callers. Callers must hold l.mu.
func (l *log) commit(written []Entry) []uint64 {
	if len(written) == 0 {
		return nil
	}
	offsets := make([]uint64, len(written))
	for i, e := range written {
		l.entries = append(l.entries, e)
		offsets[i] = e.Offset
	}
	l.nextOffset = written[len(written)-1].Offset + 1

	close(l.notifyCh)
	l.notifyCh = make(chan struct{})

	return offsets
}

// readRange returns up to max entries with offset >= from, ascending.
// An empty result is not an error.
func (l *log) readRange(from uint64, max int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].Offset >= from
	})

	out := make([]Entry, 0, max)
	for i := idx; i < len(l.entries) && len(out) < max; i++ {
		out = append(out, l.entries[i])
	}
	return out
}

// get returns the entry at the given offset, if present.
func (l *log) get(offset uint64) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].Offset >= offset
	})
	if idx < len(l.entries) && l.entries[idx].Offset == offset {
		return l.entries[idx], true
	}
	return Entry{}, false
}

func (l *log) length() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.entries))
}

func (l *log) next() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextOffset
}

// notifyChan returns the channel the next append will close. Blocking
// readers must snapshot it before checking for entries: an append landing
// between the check and the wait closes the snapshot, so the wait returns
// instead of sleeping through an entry that is already in the log.
func (l *log) notifyChan() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notifyCh
}

// waitForAppend blocks until ch is closed by an append, the timeout
// elapses, or the context is cancelled. It returns true only when woken
// by an append. No lock is held while waiting.
func (l *log) waitForAppend(ctx context.Context, ch <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *log) replay() error {
	segments, err := l.sortedSegments()
	if err != nil {
		return err
	}

	for _, segmentPath := range segments {
		file, err := os.Open(segmentPath)
		if err != nil {
			return fmt.Errorf("%w: failed to open segment %s: %v", ErrStorageFailure, segmentPath, err)
		}

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			var entry Entry
			if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
				// A torn final line from a crash mid-write is expected and safe
				// to drop; the offset was never reported to the producer.
				l.logger.Warn("skipping unparsable segment line", "path", segmentPath, "error", err)
				continue
			}
			if entry.Offset < l.nextOffset {
				// An offset written twice comes from a batch retried after an
				// uncommitted partial failure; only the later write was ever
				// reported to a producer.
				l.logger.Warn("replacing duplicate offset during replay", "path", segmentPath, "offset", entry.Offset)
				idx := sort.Search(len(l.entries), func(i int) bool {
					return l.entries[i].Offset >= entry.Offset
				})
				if idx < len(l.entries) && l.entries[idx].Offset == entry.Offset {
					l.entries[idx] = entry
				}
				continue
			}
			l.entries = append(l.entries, entry)
			l.nextOffset = entry.Offset + 1
		}
		if err := scanner.Err(); err != nil {
			file.Close()
			return fmt.Errorf("%w: error scanning segment %s: %v", ErrStorageFailure, segmentPath, err)
		}
		file.Close()
	}

	if len(l.entries) > 0 {
		l.logger.Info("replayed stream segments", "segments", len(segments), "entries", len(l.entries), "next_offset", l.nextOffset)
	}
	return nil
}

func (l *log) rotate() error {
	if l.currentSegment != nil {
		if err := l.currentSegment.Sync(); err != nil {
			l.logger.Error("failed to sync segment before rotating", "error", err)
		}
		if err := l.currentSegment.Close(); err != nil {
			l.logger.Error("failed to close segment before rotating", "error", err)
		}
		l.currentSegment = nil
	}

	segmentName := fmt.Sprintf("%s%d.log", segmentPrefix, time.Now().UnixNano())
	path := filepath.Join(l.dir, segmentName)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("%w: failed to create segment %s: %v", ErrStorageFailure, path, err)
	}

	l.currentSegment = f
	l.currentSize = 0
	return nil
}

func (l *log) openLatestSegment() error {
	segments, err := l.sortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return l.rotate()
	}

	latest := segments[len(segments)-1]
	stat, err := os.Stat(latest)
	if err != nil {
		return fmt.Errorf("%w: failed to stat segment %s: %v", ErrStorageFailure, latest, err)
	}

	f, err := os.OpenFile(latest, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("%w: failed to open segment %s: %v", ErrStorageFailure, latest, err)
	}

	l.currentSegment = f
	l.currentSize = stat.Size()

	if l.currentSize >= l.maxSegmentSize {
		return l.rotate()
	}
	return nil
}

func (l *log) sortedSegments() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read stream directory: %v", ErrStorageFailure, err)
	}

	var segments []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), segmentPrefix) {
			segments = append(segments, filepath.Join(l.dir, entry.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (l *log) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentSegment != nil {
		err := l.currentSegment.Close()
		l.currentSegment = nil
		return err
	}
	return nil
}
