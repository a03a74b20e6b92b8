package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/apperr"
	"github.com/kandev/orchestrator/internal/common/atomicfile"
	"github.com/kandev/orchestrator/internal/common/logger"
)

// Store is the append-only, in-memory-cached audit log.
type Store struct {
	mu        sync.RWMutex
	events    []Event
	eventsLog string
	log       *logger.Logger
}

// NewStore loads dataDir/audit/events.jsonl if it exists, tolerating and
// skipping malformed lines the same way runlog's event log does, and is
// ready to append from there.
func NewStore(dataDir string, log *logger.Logger) (*Store, error) {
	eventsLog := filepath.Join(dataDir, "audit", "events.jsonl")

	s := &Store{eventsLog: eventsLog, log: log}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	file, err := os.Open(s.eventsLog)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.Storage("failed to open audit log", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var events []Event
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			if s.log != nil {
				s.log.Warn("skipping malformed audit event", zap.Error(err))
			}
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return apperr.Storage("failed to read audit log", err)
	}

	s.events = events
	return nil
}

// Append writes event to the log and keeps it in the in-memory cache.
func (s *Store) Append(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return apperr.Storage("failed to encode audit event", err)
	}

	if err := atomicfile.AppendLine(s.eventsLog, data); err != nil {
		return apperr.Storage("failed to write audit log", err)
	}

	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

// RecordHostAudit implements tokenauth.AuditSink: it records a host
// enrollment lifecycle action with no task/execution association. Append
// failures are logged, not returned — callers (the Token Authority) invoke
// this best-effort after a persist they've already committed to, and a
// dropped audit line must not unwind a host-enrollment response.
func (s *Store) RecordHostAudit(orgID, hostID, action string, at time.Time) {
	event := Event{
		ID:        uuid.NewString(),
		Timestamp: at,
		OrgID:     orgID,
		Actor:     "host:" + hostID,
		Action:    action,
		HostID:    hostID,
	}
	if err := s.Append(event); err != nil && s.log != nil {
		s.log.Warn("failed to record host audit event",
			zap.String("hostID", hostID), zap.String("action", action), zap.Error(err))
	}
}

// ListPaginated returns events matching query newest-first, plus whether
// more match beyond the returned page. Matched order walks the in-memory
// cache in reverse append order — the same newest-first semantics the
// original implementation's reverse iteration over its event vector gives.
func (s *Store) ListPaginated(query ListQuery) ([]Event, bool) {
	query = query.normalized()

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := 0
	result := make([]Event, 0, query.Limit)
	for i := len(s.events) - 1; i >= 0; i-- {
		event := s.events[i]
		if !query.matches(event) {
			continue
		}
		if matched < query.Offset {
			matched++
			continue
		}
		if len(result) < query.Limit {
			result = append(result, event)
		}
		matched++
	}

	hasMore := matched > query.Offset+len(result)
	return result, hasMore
}
