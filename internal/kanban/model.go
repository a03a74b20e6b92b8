// Package kanban implements the Kanban Bridge (spec §4.G): a three-column
// board view (Todo/Doing/Done) kept in sync with task and dispatch outcomes,
// persisted as a single JSON document.
package kanban

import "time"

// TaskStatus is a kanban column id.
type TaskStatus string

const (
	StatusTodo  TaskStatus = "todo"
	StatusDoing TaskStatus = "doing"
	StatusDone  TaskStatus = "done"
)

// Valid reports whether status is one of the three known columns.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusDoing, StatusDone:
		return true
	default:
		return false
	}
}

// Task is a card on the board, in the frontend-compatible shape.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      TaskStatus `json:"status"`
	Description string     `json:"description,omitempty"`
	CreatedAt   int64      `json:"createdAt"`
	UpdatedAt   int64      `json:"updatedAt,omitempty"`
	SessionID   string     `json:"sessionId,omitempty"`
}

// NewTask creates a task in the Todo column.
func NewTask(id, title string) Task {
	return Task{
		ID:        id,
		Title:     title,
		Status:    StatusTodo,
		CreatedAt: time.Now().UTC().UnixMilli(),
	}
}

// Column is one of the board's three columns, holding its cards' ids in
// display order.
type Column struct {
	ID      TaskStatus `json:"id"`
	Title   string     `json:"title"`
	TaskIDs []string   `json:"taskIds"`
}

// BoardState is the entire board: every task plus the column layout.
type BoardState struct {
	Tasks       map[string]Task       `json:"tasks"`
	Columns     map[TaskStatus]Column `json:"columns"`
	ColumnOrder []TaskStatus          `json:"columnOrder"`
}

// NewBoardState returns an empty board with the standard three columns.
func NewBoardState() *BoardState {
	return &BoardState{
		Tasks: make(map[string]Task),
		Columns: map[TaskStatus]Column{
			StatusTodo:  {ID: StatusTodo, Title: "To Do", TaskIDs: []string{}},
			StatusDoing: {ID: StatusDoing, Title: "Doing", TaskIDs: []string{}},
			StatusDone:  {ID: StatusDone, Title: "Done", TaskIDs: []string{}},
		},
		ColumnOrder: []TaskStatus{StatusTodo, StatusDoing, StatusDone},
	}
}

// AddTask adds task to the board and its column.
func (b *BoardState) AddTask(task Task) {
	b.Tasks[task.ID] = task
	if column, ok := b.Columns[task.Status]; ok {
		column.TaskIDs = append(column.TaskIDs, task.ID)
		b.Columns[task.Status] = column
	}
}

// MoveTask moves taskID to targetStatus, inserting it at targetIndex in the
// destination column (appended at the end if targetIndex is out of range).
// Reports false if taskID isn't on the board.
func (b *BoardState) MoveTask(taskID string, targetStatus TaskStatus, targetIndex *int) bool {
	task, ok := b.Tasks[taskID]
	if !ok {
		return false
	}

	oldStatus := task.Status
	task.Status = targetStatus
	task.UpdatedAt = time.Now().UTC().UnixMilli()
	b.Tasks[taskID] = task

	if oldColumn, ok := b.Columns[oldStatus]; ok {
		oldColumn.TaskIDs = removeID(oldColumn.TaskIDs, taskID)
		b.Columns[oldStatus] = oldColumn
	}

	if newColumn, ok := b.Columns[targetStatus]; ok {
		index := len(newColumn.TaskIDs)
		if targetIndex != nil && *targetIndex >= 0 && *targetIndex < index {
			index = *targetIndex
		}
		ids := make([]string, 0, len(newColumn.TaskIDs)+1)
		ids = append(ids, newColumn.TaskIDs[:index]...)
		ids = append(ids, taskID)
		ids = append(ids, newColumn.TaskIDs[index:]...)
		newColumn.TaskIDs = ids
		b.Columns[targetStatus] = newColumn
	}

	return true
}

// DeleteTask removes taskID from the board and its column, returning the
// removed task if it existed.
func (b *BoardState) DeleteTask(taskID string) (Task, bool) {
	task, ok := b.Tasks[taskID]
	if !ok {
		return Task{}, false
	}
	delete(b.Tasks, taskID)
	if column, ok := b.Columns[task.Status]; ok {
		column.TaskIDs = removeID(column.TaskIDs, taskID)
		b.Columns[task.Status] = column
	}
	return task, true
}

// GetTask returns the task with the given id, if present.
func (b *BoardState) GetTask(taskID string) (Task, bool) {
	task, ok := b.Tasks[taskID]
	return task, ok
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
