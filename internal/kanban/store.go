package kanban

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/apperr"
	"github.com/kandev/orchestrator/internal/common/atomicfile"
	"github.com/kandev/orchestrator/internal/common/logger"
)

// Store is a thread-safe, file-persisted kanban board.
type Store struct {
	mu       sync.RWMutex
	state    *BoardState
	filePath string
	log      *logger.Logger
}

// NewStore loads filePath if it exists, or starts from an empty board.
func NewStore(filePath string, log *logger.Logger) (*Store, error) {
	state := NewBoardState()
	if _, err := atomicfile.ReadJSON(filePath, state); err != nil {
		return nil, apperr.Storage("failed to read kanban file", err)
	}

	return &Store{state: state, filePath: filePath, log: log}, nil
}

// State returns a snapshot of the current board.
func (s *Store) State() BoardState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.state
}

// CreateTask adds a new Todo-column task titled title and persists the board.
func (s *Store) CreateTask(title, description string) (Task, error) {
	task := NewTask(uuid.NewString(), title)
	task.Description = description

	s.mu.Lock()
	s.state.AddTask(task)
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return Task{}, err
	}
	return task, nil
}

// AddExistingTask adds an already-constructed task (e.g. mirrored in from
// the Task Store, spec §4.N) to the board and persists it.
func (s *Store) AddExistingTask(task Task) error {
	s.mu.Lock()
	s.state.AddTask(task)
	s.mu.Unlock()
	return s.persist()
}

// MoveTask moves taskID to targetStatus and persists the board. Implements
// the dispatcher.KanbanSink interface (spec §4.E) with targetIndex nil
// (appended to the end of the destination column).
func (s *Store) MoveTask(taskID, targetStatus string) error {
	status := TaskStatus(targetStatus)
	if !status.Valid() {
		return apperr.InvalidInput("unknown kanban status: " + targetStatus)
	}

	s.mu.Lock()
	moved := s.state.MoveTask(taskID, status, nil)
	s.mu.Unlock()

	if !moved {
		return apperr.NotFound("kanban task", taskID)
	}
	return s.persist()
}

// DeleteTask removes taskID from the board and persists it.
func (s *Store) DeleteTask(taskID string) (Task, error) {
	s.mu.Lock()
	task, ok := s.state.DeleteTask(taskID)
	s.mu.Unlock()

	if !ok {
		return Task{}, apperr.NotFound("kanban task", taskID)
	}
	return task, s.persist()
}

// GetTask returns a single task by id.
func (s *Store) GetTask(taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.state.GetTask(taskID)
	if !ok {
		return Task{}, apperr.NotFound("kanban task", taskID)
	}
	return task, nil
}

func (s *Store) persist() error {
	s.mu.RLock()
	state := *s.state
	s.mu.RUnlock()

	if err := atomicfile.WriteJSON(s.filePath, &state); err != nil {
		if s.log != nil {
			s.log.Warn("failed to persist kanban board", zap.String("path", s.filePath), zap.Error(err))
		}
		return apperr.Storage("failed to persist kanban board", err)
	}
	return nil
}
