package taskstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTaskStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)
	return store
}

func TestCreateThenGetRoundTrips(t *testing.T) {
	store := setupTaskStore(t)
	task, err := store.Create("Test task", "a description")
	require.NoError(t, err)
	assert.Equal(t, StatusTodo, task.Status)
	assert.Equal(t, PriorityMedium, task.Priority)

	got, err := store.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestGetOfMissingTaskIsNotFound(t *testing.T) {
	store := setupTaskStore(t)
	_, err := store.Get("does-not-exist")
	require.Error(t, err)
}

func TestListOrdersNewestFirst(t *testing.T) {
	store := setupTaskStore(t)
	first, err := store.Create("First", "")
	require.NoError(t, err)
	second, err := store.Create("Second", "")
	require.NoError(t, err)
	second.CreatedAt = first.CreatedAt.Add(time.Hour)
	_, err = store.Update(second)
	require.NoError(t, err)

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestFindByStatusFiltersCorrectly(t *testing.T) {
	store := setupTaskStore(t)
	todo, err := store.Create("Todo task", "")
	require.NoError(t, err)
	inProgress, err := store.Create("In progress task", "")
	require.NoError(t, err)
	_, err = store.Update(Task{ID: inProgress.ID, Title: inProgress.Title, Status: StatusInProgress, Priority: inProgress.Priority, CreatedAt: inProgress.CreatedAt})
	require.NoError(t, err)

	todos := store.FindByStatus(StatusTodo)
	require.Len(t, todos, 1)
	assert.Equal(t, todo.ID, todos[0].ID)

	inProgressTasks := store.FindByStatus(StatusInProgress)
	require.Len(t, inProgressTasks, 1)
	assert.Equal(t, inProgress.ID, inProgressTasks[0].ID)
}

func TestUpdateOfMissingTaskIsNotFound(t *testing.T) {
	store := setupTaskStore(t)
	_, err := store.Update(Task{ID: "does-not-exist"})
	require.Error(t, err)
}

func TestMarkDoneAndMarkTodoTransitionStatus(t *testing.T) {
	store := setupTaskStore(t)
	task, err := store.Create("Test task", "")
	require.NoError(t, err)

	require.NoError(t, store.MarkDone(task.ID))
	got, err := store.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)

	require.NoError(t, store.MarkTodo(task.ID))
	got, err = store.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusTodo, got.Status)
}

func TestDeleteRemovesTaskAndReportsWhetherItExisted(t *testing.T) {
	store := setupTaskStore(t)
	task, err := store.Create("Test task", "")
	require.NoError(t, err)

	existed, err := store.Delete(task.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	existedAgain, err := store.Delete(task.ID)
	require.NoError(t, err)
	assert.False(t, existedAgain)
}

func TestStorePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	store, err := NewStore(path)
	require.NoError(t, err)
	task, err := store.Create("Persistent task", "should survive reload")
	require.NoError(t, err)

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	got, err := reloaded.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
	assert.Equal(t, task.Description, got.Description)
}
