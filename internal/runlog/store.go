package runlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/apperr"
	"github.com/kandev/orchestrator/internal/common/atomicfile"
	"github.com/kandev/orchestrator/internal/common/logger"
)

// Store persists runs, their execution events, and their chat messages
// under one directory per run: <dataDir>/runs/<runID>/{run.json,events.jsonl,messages.jsonl}.
type Store struct {
	dataDir string
	log     *logger.Logger
}

// New returns a Store rooted at dataDir. The directory is created on first
// write, not here.
func New(dataDir string, log *logger.Logger) *Store {
	return &Store{dataDir: dataDir, log: log}
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.dataDir, "runs", runID)
}

func (s *Store) runFile(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

func (s *Store) eventsFile(runID string) string {
	return filepath.Join(s.runDir(runID), "events.jsonl")
}

func (s *Store) messagesFile(runID string) string {
	return filepath.Join(s.runDir(runID), "messages.jsonl")
}

// SaveRun writes run.json atomically.
func (s *Store) SaveRun(run *Run) error {
	if err := atomicfile.WriteJSON(s.runFile(run.ID), run); err != nil {
		return apperr.Storage("save run", err)
	}
	return nil
}

// LoadRun reads a run's run.json.
func (s *Store) LoadRun(runID string) (*Run, error) {
	var run Run
	ok, err := atomicfile.ReadJSON(s.runFile(runID), &run)
	if err != nil {
		return nil, apperr.Storage("load run", err)
	}
	if !ok {
		return nil, apperr.NotFound("run", runID)
	}
	return &run, nil
}

// ListRuns returns every run whose TaskID matches taskID, or every run if
// taskID is empty, newest first.
func (s *Store) ListRuns(taskID string) ([]Summary, error) {
	runsRoot := filepath.Join(s.dataDir, "runs")
	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Storage("list runs", err)
	}

	var out []Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.LoadRun(entry.Name())
		if err != nil {
			if s.log != nil {
				s.log.Warn("skipping unreadable run directory", zap.String("runID", entry.Name()), zap.Error(err))
			}
			continue
		}
		if taskID != "" && run.TaskID != taskID {
			continue
		}
		out = append(out, run.ToSummary())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteRun removes a run's entire directory.
func (s *Store) DeleteRun(runID string) error {
	if err := os.RemoveAll(s.runDir(runID)); err != nil {
		return apperr.Storage("delete run", err)
	}
	return nil
}

// DeleteTaskRuns removes every run belonging to taskID and returns how many
// were deleted.
func (s *Store) DeleteTaskRuns(taskID string) (int, error) {
	summaries, err := s.ListRuns(taskID)
	if err != nil {
		return 0, err
	}
	for _, sum := range summaries {
		if err := s.DeleteRun(sum.ID); err != nil {
			return 0, err
		}
	}
	return len(summaries), nil
}

// AppendEvent appends one execution event to a run's events.jsonl.
func (s *Store) AppendEvent(runID string, event ExecutionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return apperr.Storage("marshal event", err)
	}
	if err := atomicfile.AppendLine(s.eventsFile(runID), data); err != nil {
		return apperr.Storage("append event", err)
	}
	return nil
}

// LoadEvents reads every event recorded for a run, in append order. Lines
// that fail to parse are skipped rather than failing the whole read, since a
// reader must tolerate a torn line left by a crash mid-append.
func (s *Store) LoadEvents(runID string) ([]ExecutionEvent, error) {
	events, _, err := s.scanEvents(runID, nil)
	return events, err
}

// LoadEventsPaginated returns up to limit events starting at offset, plus
// whether more events exist beyond the returned page.
func (s *Store) LoadEventsPaginated(runID string, offset, limit int) ([]ExecutionEvent, bool, error) {
	return s.loadEventsFilteredPaginated(runID, offset, limit, nil)
}

// LoadEventsFilteredPaginated is LoadEventsPaginated restricted to events
// whose EventType is in kinds (all kinds if kinds is empty).
func (s *Store) LoadEventsFilteredPaginated(runID string, offset, limit int, kinds []ExecutionEventKind) ([]ExecutionEvent, bool, error) {
	var filter func(ExecutionEvent) bool
	if len(kinds) > 0 {
		allowed := make(map[ExecutionEventKind]bool, len(kinds))
		for _, k := range kinds {
			allowed[k] = true
		}
		filter = func(e ExecutionEvent) bool { return allowed[e.EventType] }
	}
	return s.loadEventsFilteredPaginated(runID, offset, limit, filter)
}

func (s *Store) loadEventsFilteredPaginated(runID string, offset, limit int, filter func(ExecutionEvent) bool) ([]ExecutionEvent, bool, error) {
	all, _, err := s.scanEvents(runID, filter)
	if err != nil {
		return nil, false, err
	}
	if offset >= len(all) {
		return nil, false, nil
	}
	end := offset + limit
	hasMore := end < len(all)
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], hasMore, nil
}

func (s *Store) scanEvents(runID string, filter func(ExecutionEvent) bool) ([]ExecutionEvent, int, error) {
	lines, err := scanJSONL(s.eventsFile(runID), s.log)
	if err != nil {
		return nil, 0, err
	}

	var out []ExecutionEvent
	total := 0
	for _, raw := range lines {
		var event ExecutionEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			continue
		}
		total++
		if filter != nil && !filter(event) {
			continue
		}
		out = append(out, event)
	}
	return out, total, nil
}

// EventCount returns how many events have been recorded for a run.
func (s *Store) EventCount(runID string) (int, error) {
	_, total, err := s.scanEvents(runID, nil)
	return total, err
}

// AppendMessage appends one chat message to a run's messages.jsonl.
func (s *Store) AppendMessage(runID string, msg ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return apperr.Storage("marshal message", err)
	}
	if err := atomicfile.AppendLine(s.messagesFile(runID), data); err != nil {
		return apperr.Storage("append message", err)
	}
	return nil
}

// LoadMessages reads every chat message recorded for a run, in append order.
func (s *Store) LoadMessages(runID string) ([]ChatMessage, error) {
	lines, err := scanJSONL(s.messagesFile(runID), s.log)
	if err != nil {
		return nil, err
	}
	var out []ChatMessage
	for _, raw := range lines {
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// MessageCount returns how many chat messages have been recorded for a run.
func (s *Store) MessageCount(runID string) (int, error) {
	msgs, err := s.LoadMessages(runID)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// scanJSONL reads a JSONL file line by line. A missing file yields an empty
// result rather than an error, matching the not-started-yet run case.
func scanJSONL(path string, log *logger.Logger) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Storage("open "+path, err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		lines = append(lines, cp)
	}
	if err := scanner.Err(); err != nil {
		if log != nil {
			log.Warn("jsonl scan stopped early", zap.String("path", path), zap.Error(err))
		}
	}
	return lines, nil
}
