// Package logstore provides per-session storage for child stdout, child
// stderr, and core-generated informational lines: a bounded in-memory
// ring buffer plus an append-only on-disk log file, retaining individual
// lines rather than byte chunks and persisting them to disk.
package logstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kdlbs/sessiond/internal/corelog"
	"github.com/kdlbs/sessiond/internal/coreerr"
)

// Stream tags the origin of a log line.
type Stream string

const (
	StreamOut Stream = "OUT"
	StreamErr Stream = "ERR"
	StreamSys Stream = "SYS"
)

// maxInMemory is the per-session in-memory ring buffer capacity.
const maxInMemory = 1000

// Entry is one logical log line.
type Entry struct {
	ID        string
	Timestamp time.Time
	Stream    Stream
	Content   string
}

type sessionLog struct {
	mu      sync.Mutex
	entries []Entry // ring buffer, oldest first, capacity maxInMemory
	file    *os.File
}

// Store holds every session's log state.
type Store struct {
	logger     *corelog.Logger
	appDataDir string

	mu       sync.RWMutex
	sessions map[int]*sessionLog
}

// New constructs a Store writing disk logs under
// <appDataDir>/logs/session-<id>.log.
func New(log *corelog.Logger, appDataDir string) *Store {
	return &Store{
		logger:     log.WithFields(zap.String("component", "log-store")),
		appDataDir: appDataDir,
		sessions:   make(map[int]*sessionLog),
	}
}

// FilePathFor returns the on-disk log path for session, whether or not it
// has been created yet.
func (s *Store) FilePathFor(session int) string {
	return filepath.Join(s.appDataDir, "logs", fmt.Sprintf("session-%d.log", session))
}

func (s *Store) sessionFor(session int) *sessionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.sessions[session]
	if !ok {
		sl = &sessionLog{}
		s.sessions[session] = sl
	}
	return sl
}

// Append adds one log line to session's in-memory buffer (evicting the
// oldest entry on overflow) and to its on-disk file, opening and caching
// the file handle lazily on first write.
func (s *Store) Append(session int, stream Stream, content string) Entry {
	entry := Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Stream:    stream,
		Content:   content,
	}

	sl := s.sessionFor(session)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.entries = append(sl.entries, entry)
	if len(sl.entries) > maxInMemory {
		sl.entries = sl.entries[len(sl.entries)-maxInMemory:]
	}

	if err := s.writeToDiskLocked(session, sl, entry); err != nil {
		s.logger.Warn("failed to persist log entry", zap.Int("session", session), zap.Error(err))
	}
	return entry
}

func (s *Store) writeToDiskLocked(session int, sl *sessionLog, entry Entry) error {
	if sl.file == nil {
		path := s.FilePathFor(session)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("%w: %v", coreerr.ErrLogFileUnavailable, err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("%w: %v", coreerr.ErrLogFileUnavailable, err)
		}
		sl.file = f
	}
	line := formatLine(entry)
	_, err := sl.file.WriteString(line)
	return err
}

func formatLine(e Entry) string {
	return fmt.Sprintf("[%s] [%s] %s\n", e.Timestamp.Format("15:04:05.000"), e.Stream, e.Content)
}

// Get returns up to count most recent entries for session, optionally
// filtered to one stream. Only the in-memory buffer is consulted; callers
// wanting more than maxInMemory entries of history must use
// ReadFromDisk.
func (s *Store) Get(session int, count int, stream *Stream) []Entry {
	sl := s.sessionFor(session)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var filtered []Entry
	if stream == nil {
		filtered = sl.entries
	} else {
		for _, e := range sl.entries {
			if e.Stream == *stream {
				filtered = append(filtered, e)
			}
		}
	}

	if count <= 0 || count >= len(filtered) {
		out := make([]Entry, len(filtered))
		copy(out, filtered)
		return out
	}
	out := make([]Entry, count)
	copy(out, filtered[len(filtered)-count:])
	return out
}

// GetAll returns every in-memory entry for session.
func (s *Store) GetAll(session int) []Entry {
	return s.Get(session, 0, nil)
}

// GetAsString renders the last count entries as newline-joined
// "[STREAM] content" lines.
func (s *Store) GetAsString(session int, count int) string {
	entries := s.Get(session, count, nil)
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("[%s] %s\n", e.Stream, e.Content))
	}
	return b.String()
}

// Search returns every in-memory entry for session whose content contains
// needle, case-insensitively.
func (s *Store) Search(session int, needle string) []Entry {
	needle = strings.ToLower(needle)
	sl := s.sessionFor(session)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var out []Entry
	for _, e := range sl.entries {
		if strings.Contains(strings.ToLower(e.Content), needle) {
			out = append(out, e)
		}
	}
	return out
}

// Clear discards session's in-memory buffer and closes its cached disk
// file handle (the on-disk history itself is retained).
func (s *Store) Clear(session int) {
	s.mu.Lock()
	sl, ok := s.sessions[session]
	if ok {
		delete(s.sessions, session)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.entries = nil
	if sl.file != nil {
		_ = sl.file.Close()
		sl.file = nil
	}
}

// ClearAll clears every session's in-memory buffer and file handle.
func (s *Store) ClearAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[int]*sessionLog)
	s.mu.Unlock()

	for _, sl := range sessions {
		sl.mu.Lock()
		if sl.file != nil {
			_ = sl.file.Close()
		}
		sl.mu.Unlock()
	}
}

// ReadFromDisk reads the complete persisted log file for session,
// parsing each "[HH:MM:SS.mmm] [STREAM] content" line back into an Entry
// (IDs are regenerated since they are not persisted).
func (s *Store) ReadFromDisk(session int) ([]Entry, error) {
	path := s.FilePathFor(session)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerr.ErrLogFileUnavailable, err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		entry, ok := parseLine(scanner.Text())
		if ok {
			out = append(out, entry)
		}
	}
	return out, scanner.Err()
}

func parseLine(line string) (Entry, bool) {
	if !strings.HasPrefix(line, "[") {
		return Entry{}, false
	}
	closeTS := strings.Index(line, "]")
	if closeTS < 0 {
		return Entry{}, false
	}
	ts := line[1:closeTS]
	rest := strings.TrimSpace(line[closeTS+1:])
	if !strings.HasPrefix(rest, "[") {
		return Entry{}, false
	}
	closeStream := strings.Index(rest, "]")
	if closeStream < 0 {
		return Entry{}, false
	}
	stream := Stream(rest[1:closeStream])
	content := strings.TrimPrefix(rest[closeStream+1:], " ")

	parsedTime, _ := time.Parse("15:04:05.000", ts)
	return Entry{ID: uuid.New().String(), Timestamp: parsedTime, Stream: stream, Content: content}, true
}

// ActiveSessions returns the IDs of every session with in-memory state.
func (s *Store) ActiveSessions() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}
