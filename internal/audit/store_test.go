package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/orchestrator/internal/common/logger"
)

func openForAppend(t *testing.T, dataDir string) (*os.File, error) {
	t.Helper()
	return os.OpenFile(filepath.Join(dataDir, "audit", "events.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
}

func setupAuditStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	store, err := NewStore(t.TempDir(), log)
	require.NoError(t, err)
	return store
}

func TestAppendThenListReturnsNewestFirst(t *testing.T) {
	store := setupAuditStore(t)

	first := NewEvent("org-1", "system", "execution.start")
	second := NewEvent("org-1", "system", "execution.stop")
	require.NoError(t, store.Append(first))
	require.NoError(t, store.Append(second))

	events, hasMore := store.ListPaginated(ListQuery{})
	require.False(t, hasMore)
	require.Len(t, events, 2)
	assert.Equal(t, second.Action, events[0].Action)
	assert.Equal(t, first.Action, events[1].Action)
}

func TestListPaginatedFiltersByOrgID(t *testing.T) {
	store := setupAuditStore(t)
	require.NoError(t, store.Append(NewEvent("org-1", "system", "task.created")))
	require.NoError(t, store.Append(NewEvent("org-2", "system", "task.created")))

	events, _ := store.ListPaginated(ListQuery{OrgID: "org-1"})
	require.Len(t, events, 1)
	assert.Equal(t, "org-1", events[0].OrgID)
}

func TestListPaginatedFiltersByActionSubstringCaseInsensitive(t *testing.T) {
	store := setupAuditStore(t)
	require.NoError(t, store.Append(NewEvent("org-1", "system", "Execution.Start")))
	require.NoError(t, store.Append(NewEvent("org-1", "system", "task.created")))

	events, _ := store.ListPaginated(ListQuery{Action: "execution"})
	require.Len(t, events, 1)
	assert.Equal(t, "Execution.Start", events[0].Action)
}

func TestListPaginatedComputesHasMore(t *testing.T) {
	store := setupAuditStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(NewEvent("org-1", "system", "task.created")))
	}

	events, hasMore := store.ListPaginated(ListQuery{Limit: 2})
	require.Len(t, events, 2)
	assert.True(t, hasMore)

	events, hasMore = store.ListPaginated(ListQuery{Offset: 4, Limit: 2})
	require.Len(t, events, 1)
	assert.False(t, hasMore)
}

func TestRecordHostAuditAppendsAHostScopedEvent(t *testing.T) {
	store := setupAuditStore(t)
	now := time.Now().UTC()
	store.RecordHostAudit("org-1", "host-1", "host.enrolled", now)

	events, _ := store.ListPaginated(ListQuery{HostID: "host-1"})
	require.Len(t, events, 1)
	assert.Equal(t, "host.enrolled", events[0].Action)
	assert.Equal(t, "host:host-1", events[0].Actor)
}

func TestMalformedLineIsSkippedOnReload(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	dir := t.TempDir()

	store, err := NewStore(dir, log)
	require.NoError(t, err)
	require.NoError(t, store.Append(NewEvent("org-1", "system", "task.created")))

	// Corrupt the log with a torn line, as a crash mid-append would leave.
	f, err := openForAppend(t, dir)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reloaded, err := NewStore(dir, log)
	require.NoError(t, err)
	events, _ := reloaded.ListPaginated(ListQuery{})
	assert.Len(t, events, 1)
}
