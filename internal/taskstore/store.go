package taskstore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/orchestrator/internal/common/apperr"
	"github.com/kandev/orchestrator/internal/common/atomicfile"
)

func nowUTC() time.Time { return time.Now().UTC() }

// Store is a thread-safe, file-persisted task repository.
type Store struct {
	mu       sync.RWMutex
	tasks    map[string]Task
	filePath string
}

// NewStore loads filePath if it exists, or starts from an empty store.
func NewStore(filePath string) (*Store, error) {
	var loaded []Task
	if _, err := atomicfile.ReadJSON(filePath, &loaded); err != nil {
		return nil, apperr.Storage("failed to read task store file", err)
	}

	tasks := make(map[string]Task, len(loaded))
	for _, t := range loaded {
		tasks[t.ID] = t
	}
	return &Store{tasks: tasks, filePath: filePath}, nil
}

// Create adds a new task titled title and persists the store.
func (s *Store) Create(title, description string) (Task, error) {
	task := New(uuid.NewString(), title)
	task.Description = description

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return Task{}, err
	}
	return task, nil
}

// Get returns a single task by id.
func (s *Store) Get(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, apperr.NotFound("task", id)
	}
	return task, nil
}

// List returns every task, newest first.
func (s *Store) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	return tasks
}

// FindByStatus returns every task in the given status, newest first.
func (s *Store) FindByStatus(status Status) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tasks []Task
	for _, t := range s.tasks {
		if t.Status == status {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	return tasks
}

// Update replaces the stored task matching task.ID, bumping UpdatedAt, and
// persists the store.
func (s *Store) Update(task Task) (Task, error) {
	s.mu.Lock()
	if _, ok := s.tasks[task.ID]; !ok {
		s.mu.Unlock()
		return Task{}, apperr.NotFound("task", task.ID)
	}
	task.UpdatedAt = nowUTC()
	s.tasks[task.ID] = task
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return Task{}, err
	}
	return task, nil
}

// setStatus moves id to status and persists, used to satisfy
// dispatcher.TaskStatusSink.
func (s *Store) setStatus(id string, status Status) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return apperr.NotFound("task", id)
	}
	task.Status = status
	task.UpdatedAt = nowUTC()
	s.tasks[id] = task
	s.mu.Unlock()

	return s.persist()
}

// MarkDone implements dispatcher.TaskStatusSink: a task's dispatched run
// completed successfully.
func (s *Store) MarkDone(taskID string) error { return s.setStatus(taskID, StatusDone) }

// MarkTodo implements dispatcher.TaskStatusSink: a task's dispatched run
// failed and should be retried, so it goes back to Todo rather than staying
// stuck In Progress.
func (s *Store) MarkTodo(taskID string) error { return s.setStatus(taskID, StatusTodo) }

// Delete removes id from the store and persists it, reporting whether a
// task was actually removed.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	_, existed := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()

	if !existed {
		return false, nil
	}
	return true, s.persist()
}

func (s *Store) persist() error {
	s.mu.RLock()
	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	if err := atomicfile.WriteJSON(s.filePath, tasks); err != nil {
		return apperr.Storage("failed to persist task store", err)
	}
	return nil
}
