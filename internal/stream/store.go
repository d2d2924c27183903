package stream

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const defaultMaxSegmentSize = 64 * 1024 * 1024 // 64MB

// Store is a durable, replayable log organized into named streams, each
// readable by named consumer groups. It is the single entry point for
// producers and consumers; all state lives under one base directory:
//
//	<dir>/streams/<stream>/segment-*.log
//	<dir>/groups/<stream>/<group>.json
//
// A Store is safe for concurrent use. Appends to different streams and
// deliveries to different groups never contend with each other.
type Store struct {
	dir            string
	maxSegmentSize int64
	logger         *slog.Logger

	mu     sync.RWMutex
	logs   map[string]*log
	groups map[string]map[string]*group
	closed bool
}

// StoreOptions configures a Store. The zero value selects defaults.
type StoreOptions struct {
	// MaxSegmentSize caps individual segment files before rotation.
	MaxSegmentSize int64
}

// Open creates or reopens a store rooted at dir, replaying any existing
// stream segments and consumer group state.
func Open(dir string, opts StoreOptions, logger *slog.Logger) (*Store, error) {
	if opts.MaxSegmentSize <= 0 {
		opts.MaxSegmentSize = defaultMaxSegmentSize
	}

	s := &Store{
		dir:            dir,
		maxSegmentSize: opts.MaxSegmentSize,
		logger:         logger.With("component", "stream_store"),
		logs:           make(map[string]*log),
		groups:         make(map[string]map[string]*group),
	}

	for _, sub := range []string{s.streamsDir(), s.groupsDir()} {
		if err := os.MkdirAll(sub, 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create store directory %s: %v", ErrStorageFailure, sub, err)
		}
	}

	if err := s.loadStreams(); err != nil {
		return nil, err
	}
	if err := s.loadGroups(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) streamsDir() string { return filepath.Join(s.dir, "streams") }
func (s *Store) groupsDir() string  { return filepath.Join(s.dir, "groups") }

func (s *Store) loadStreams() error {
	entries, err := os.ReadDir(s.streamsDir())
	if err != nil {
		return fmt.Errorf("%w: failed to read streams directory: %v", ErrStorageFailure, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		lg, err := openLog(filepath.Join(s.streamsDir(), name), s.maxSegmentSize, s.logger)
		if err != nil {
			return fmt.Errorf("failed to load stream %s: %w", name, err)
		}
		s.logs[name] = lg
	}
	return nil
}

func (s *Store) loadGroups() error {
	streamDirs, err := os.ReadDir(s.groupsDir())
	if err != nil {
		return fmt.Errorf("%w: failed to read groups directory: %v", ErrStorageFailure, err)
	}

	for _, streamDir := range streamDirs {
		if !streamDir.IsDir() {
			continue
		}
		streamName := streamDir.Name()

		files, err := os.ReadDir(filepath.Join(s.groupsDir(), streamName))
		if err != nil {
			return fmt.Errorf("%w: failed to read group directory for stream %s: %v", ErrStorageFailure, streamName, err)
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
				continue
			}
			groupName := strings.TrimSuffix(file.Name(), ".json")
			path := filepath.Join(s.groupsDir(), streamName, file.Name())

			g, err := loadGroup(streamName, groupName, path)
			if err != nil {
				return fmt.Errorf("failed to load group %s/%s: %w", streamName, groupName, err)
			}
			if s.groups[streamName] == nil {
				s.groups[streamName] = make(map[string]*group)
			}
			s.groups[streamName][groupName] = g
		}
	}
	return nil
}

// getOrCreateLog returns the log for a stream, creating it on first use.
// Streams come into existence implicitly on first append or group creation.
func (s *Store) getOrCreateLog(streamName string) (*log, error) {
	s.mu.RLock()
	lg, ok := s.logs[streamName]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrStoreClosed
	}
	if ok {
		return lg, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if lg, ok := s.logs[streamName]; ok {
		return lg, nil
	}

	lg, err := openLog(filepath.Join(s.streamsDir(), streamName), s.maxSegmentSize, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream %s: %w", streamName, err)
	}
	s.logs[streamName] = lg
	s.logger.Info("created stream", "stream", streamName)
	return lg, nil
}

func (s *Store) getLog(streamName string) (*log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	lg, ok := s.logs[streamName]
	if !ok {
		return nil, ErrStreamNotFound
	}
	return lg, nil
}

func (s *Store) getGroup(streamName, groupName string) (*log, *group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, nil, ErrStoreClosed
	}
	lg, ok := s.logs[streamName]
	if !ok {
		return nil, nil, ErrStreamNotFound
	}
	g, ok := s.groups[streamName][groupName]
	if !ok {
		return nil, nil, ErrGroupNotFound
	}
	return lg, g, nil
}

// Append durably stores a payload on the stream and returns its assigned
// offset. The payload bytes are preserved exactly as given.
func (s *Store) Append(streamName string, payload []byte) (uint64, error) {
	lg, err := s.getOrCreateLog(streamName)
	if err != nil {
		return 0, err
	}
	return lg.append(payload)
}

// AppendBatch appends payloads in order. The returned offsets cover
// exactly the entries that were durably written; when err is non-nil the
// remaining payloads were not appended and should be retried.
func (s *Store) AppendBatch(streamName string, payloads [][]byte) ([]uint64, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	lg, err := s.getOrCreateLog(streamName)
	if err != nil {
		return nil, err
	}
	return lg.appendBatch(payloads)
}

// ReadRange returns up to max entries with offset >= from, in ascending
// offset order. An empty result means no such entries exist.
func (s *Store) ReadRange(streamName string, from uint64, max int) ([]Entry, error) {
	lg, err := s.getLog(streamName)
	if err != nil {
		return nil, err
	}
	return lg.readRange(from, max), nil
}

// CreateGroup registers a consumer group on a stream, creating the stream
// if needed. Creating a group that already exists is a no-op: the existing
// cursor and pending state are left untouched.
func (s *Store) CreateGroup(streamName, groupName string, start StartPosition) error {
	lg, err := s.getOrCreateLog(streamName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.groups[streamName][groupName]; exists {
		return nil
	}

	var cursor uint64
	if start == StartEnd {
		cursor = lg.next()
	}

	dir := filepath.Join(s.groupsDir(), streamName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create group directory: %v", ErrStorageFailure, err)
	}

	g := newGroup(streamName, groupName, filepath.Join(dir, groupName+".json"), cursor)
	g.mu.Lock()
	err = g.save()
	g.mu.Unlock()
	if err != nil {
		return err
	}

	if s.groups[streamName] == nil {
		s.groups[streamName] = make(map[string]*group)
	}
	s.groups[streamName][groupName] = g
	s.logger.Info("created consumer group", "stream", streamName, "group", groupName, "cursor", cursor)
	return nil
}

// Cursor returns the group's cursor: the offset boundary below which every
// entry has been delivered to some consumer at least once.
func (s *Store) Cursor(streamName, groupName string) (uint64, error) {
	_, g, err := s.getGroup(streamName, groupName)
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cursor, nil
}

// Len returns the number of entries in a stream.
func (s *Store) Len(streamName string) (uint64, error) {
	lg, err := s.getLog(streamName)
	if err != nil {
		return 0, err
	}
	return lg.length(), nil
}

// Info returns a snapshot of a stream's state.
func (s *Store) Info(streamName string) (StreamInfo, error) {
	lg, err := s.getLog(streamName)
	if err != nil {
		return StreamInfo{}, err
	}

	s.mu.RLock()
	groupCount := len(s.groups[streamName])
	s.mu.RUnlock()

	return StreamInfo{
		Name:       streamName,
		Length:     lg.length(),
		NextOffset: lg.next(),
		Groups:     groupCount,
	}, nil
}

// Streams returns all stream names, sorted.
func (s *Store) Streams() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.logs))
	for name := range s.logs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Groups returns the names of all consumer groups on a stream, sorted.
func (s *Store) Groups(streamName string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.groups[streamName]))
	for name := range s.groups[streamName] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all stream segment files. Group state is already durable
// at this point since it is saved on every mutation.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var lastErr error
	for _, lg := range s.logs {
		if err := lg.close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
