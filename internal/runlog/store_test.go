package runlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/orchestrator/internal/common/logger"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return New(t.TempDir(), log)
}

func TestSaveRunThenLoadRunRoundTrips(t *testing.T) {
	s := setupStore(t)
	run := NewRun("task-1", "opencode", "fix the bug", "main")

	require.NoError(t, s.SaveRun(run))

	loaded, err := s.LoadRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.TaskID, loaded.TaskID)
	assert.Equal(t, StatusInitializing, loaded.Status)
}

func TestLoadRunOfMissingRunIsNotFound(t *testing.T) {
	s := setupStore(t)
	_, err := s.LoadRun("does-not-exist")
	require.Error(t, err)
}

func TestRunLifecycleTransitionsAndDuration(t *testing.T) {
	run := NewRun("task-1", "opencode", "fix the bug", "main")
	assert.True(t, run.IsActive())

	run.MarkStarted()
	assert.Equal(t, StatusRunning, run.Status)

	exitCode := 0
	run.MarkFinished(StatusCompleted, &exitCode, "", "done")

	assert.True(t, run.IsTerminal())
	require.NotNil(t, run.DurationMS)
	assert.Equal(t, "done", run.Summary)
}

func TestRunMarkFinishedRejectsLateCancelRace(t *testing.T) {
	run := NewRun("task-1", "opencode", "fix the bug", "main")
	run.MarkStarted()

	exitCode := 0
	assert.True(t, run.MarkFinished(StatusCompleted, &exitCode, "", "done"))
	assert.False(t, run.MarkFinished(StatusCancelled, nil, "", ""))

	assert.Equal(t, StatusCompleted, run.Status)
	assert.True(t, run.IsTerminal())
}

func TestRunMarkStartedRejectsAfterTerminal(t *testing.T) {
	run := NewRun("task-1", "opencode", "fix the bug", "main")
	run.MarkStarted()
	run.MarkFinished(StatusCancelled, nil, "", "")

	assert.False(t, run.MarkStarted())
	assert.Equal(t, StatusCancelled, run.Status)
}

func TestListRunsFiltersByTaskIDAndOrdersNewestFirst(t *testing.T) {
	s := setupStore(t)

	older := NewRun("task-1", "opencode", "first", "main")
	require.NoError(t, s.SaveRun(older))

	newer := NewRun("task-1", "opencode", "second", "main")
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)
	require.NoError(t, s.SaveRun(newer))

	other := NewRun("task-2", "opencode", "unrelated", "main")
	require.NoError(t, s.SaveRun(other))

	runs, err := s.ListRuns("task-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)
	assert.Equal(t, older.ID, runs[1].ID)
}

func TestDeleteTaskRunsRemovesOnlyMatchingRuns(t *testing.T) {
	s := setupStore(t)
	run1 := NewRun("task-1", "opencode", "a", "main")
	run2 := NewRun("task-1", "opencode", "b", "main")
	other := NewRun("task-2", "opencode", "c", "main")
	require.NoError(t, s.SaveRun(run1))
	require.NoError(t, s.SaveRun(run2))
	require.NoError(t, s.SaveRun(other))

	deleted, err := s.DeleteTaskRuns("task-1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := s.ListRuns("")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, other.ID, remaining[0].ID)
}

func TestAppendEventThenLoadEventsPreservesOrder(t *testing.T) {
	s := setupStore(t)
	run := NewRun("task-1", "opencode", "a", "main")

	require.NoError(t, s.AppendEvent(run.ID, NewStatusChangedEvent(run.ID, run.TaskID, StatusInitializing, StatusRunning)))
	require.NoError(t, s.AppendEvent(run.ID, NewProgressEvent(run.ID, run.TaskID, "halfway", nil)))
	require.NoError(t, s.AppendEvent(run.ID, NewAgentEventRecord(run.ID, run.TaskID, AgentEvent{Kind: AgentEventCompleted, Success: true})))

	events, err := s.LoadEvents(run.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventStatusChanged, events[0].EventType)
	assert.Equal(t, EventProgress, events[1].EventType)
	assert.Equal(t, EventAgentEvent, events[2].EventType)
}

func TestLoadEventsPaginatedComputesHasMore(t *testing.T) {
	s := setupStore(t)
	run := NewRun("task-1", "opencode", "a", "main")
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendEvent(run.ID, NewProgressEvent(run.ID, run.TaskID, "tick", nil)))
	}

	page, hasMore, err := s.LoadEventsPaginated(run.ID, 0, 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.True(t, hasMore)

	page, hasMore, err = s.LoadEventsPaginated(run.ID, 4, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.False(t, hasMore)

	page, hasMore, err = s.LoadEventsPaginated(run.ID, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.False(t, hasMore)
}

func TestLoadEventsFilteredPaginatedRestrictsToRequestedKinds(t *testing.T) {
	s := setupStore(t)
	run := NewRun("task-1", "opencode", "a", "main")
	require.NoError(t, s.AppendEvent(run.ID, NewStatusChangedEvent(run.ID, run.TaskID, StatusInitializing, StatusRunning)))
	require.NoError(t, s.AppendEvent(run.ID, NewProgressEvent(run.ID, run.TaskID, "tick", nil)))
	require.NoError(t, s.AppendEvent(run.ID, NewProgressEvent(run.ID, run.TaskID, "tock", nil)))

	page, hasMore, err := s.LoadEventsFilteredPaginated(run.ID, 0, 10, []ExecutionEventKind{EventProgress})
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, page, 2)
	for _, e := range page {
		assert.Equal(t, EventProgress, e.EventType)
	}
}

func TestEventCountMatchesAppendedEvents(t *testing.T) {
	s := setupStore(t)
	run := NewRun("task-1", "opencode", "a", "main")
	require.NoError(t, s.AppendEvent(run.ID, NewProgressEvent(run.ID, run.TaskID, "tick", nil)))
	require.NoError(t, s.AppendEvent(run.ID, NewProgressEvent(run.ID, run.TaskID, "tock", nil)))

	count, err := s.EventCount(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLoadEventsOfRunWithNoEventsIsEmptyNotError(t *testing.T) {
	s := setupStore(t)
	events, err := s.LoadEvents("never-ran")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAppendMessageThenLoadMessagesPreservesOrder(t *testing.T) {
	s := setupStore(t)
	run := NewRun("task-1", "opencode", "a", "main")

	require.NoError(t, s.AppendMessage(run.ID, NewUserMessage("please fix the bug")))
	require.NoError(t, s.AppendMessage(run.ID, NewAssistantMessage("looking into it")))

	msgs, err := s.LoadMessages(run.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)

	count, err := s.MessageCount(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
