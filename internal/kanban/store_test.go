package kanban

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/orchestrator/internal/common/logger"
)

func setupKanbanStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	store, err := NewStore(filepath.Join(t.TempDir(), "kanban.json"), log)
	require.NoError(t, err)
	return store
}

func TestNewStoreWithoutExistingFileStartsEmpty(t *testing.T) {
	store := setupKanbanStore(t)
	state := store.State()
	assert.Empty(t, state.Tasks)
	assert.Len(t, state.Columns, 3)
}

func TestCreateTaskAddsToTodoColumn(t *testing.T) {
	store := setupKanbanStore(t)
	task, err := store.CreateTask("Test Task", "a description")
	require.NoError(t, err)
	assert.Equal(t, StatusTodo, task.Status)

	state := store.State()
	assert.Contains(t, state.Columns[StatusTodo].TaskIDs, task.ID)
}

func TestMoveTaskMovesBetweenColumnsAndPersists(t *testing.T) {
	store := setupKanbanStore(t)
	task, err := store.CreateTask("Test Task", "")
	require.NoError(t, err)

	require.NoError(t, store.MoveTask(task.ID, "done"))

	state := store.State()
	assert.Empty(t, state.Columns[StatusTodo].TaskIDs)
	assert.Contains(t, state.Columns[StatusDone].TaskIDs, task.ID)

	moved, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, moved.Status)
}

func TestMoveTaskOfUnknownTaskIsNotFound(t *testing.T) {
	store := setupKanbanStore(t)
	require.Error(t, store.MoveTask("does-not-exist", "done"))
}

func TestMoveTaskWithUnknownStatusIsInvalidInput(t *testing.T) {
	store := setupKanbanStore(t)
	task, err := store.CreateTask("Test Task", "")
	require.NoError(t, err)
	require.Error(t, store.MoveTask(task.ID, "archived"))
}

func TestDeleteTaskRemovesFromBoardAndColumn(t *testing.T) {
	store := setupKanbanStore(t)
	task, err := store.CreateTask("Test Task", "")
	require.NoError(t, err)

	deleted, err := store.DeleteTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, deleted.ID)

	_, err = store.GetTask(task.ID)
	assert.Error(t, err)
}

func TestStorePersistsAcrossReload(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "kanban.json")

	store, err := NewStore(path, log)
	require.NoError(t, err)
	task, err := store.CreateTask("Test Task", "")
	require.NoError(t, err)

	reloaded, err := NewStore(path, log)
	require.NoError(t, err)
	found, err := reloaded.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Title, found.Title)
}
