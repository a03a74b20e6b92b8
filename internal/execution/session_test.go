package execution

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/orchestrator/internal/runlog"
)

func TestNewSessionStartsInitializing(t *testing.T) {
	s := New(uuid.NewString(), "task-1", "opencode", "fix it", "main")
	assert.Equal(t, runlog.StatusInitializing, s.Status())
}

func TestUpdateStatusEmitsEventOnlyWhenChanged(t *testing.T) {
	s := New(uuid.NewString(), "task-1", "opencode", "fix it", "main")

	s.UpdateStatus(runlog.StatusRunning)
	s.UpdateStatus(runlog.StatusRunning) // no-op, same status

	select {
	case event := <-s.Events():
		assert.Equal(t, runlog.EventStatusChanged, event.EventType)
		assert.Equal(t, runlog.StatusInitializing, event.OldStatus)
		assert.Equal(t, runlog.StatusRunning, event.NewStatus)
	default:
		t.Fatal("expected a status_changed event")
	}

	select {
	case event := <-s.Events():
		t.Fatalf("unexpected second event: %+v", event)
	default:
	}
}

func TestMarkStartedTransitionsToRunningAndEmitsSessionStarted(t *testing.T) {
	s := New(uuid.NewString(), "task-1", "opencode", "fix it", "main")
	s.SetWorktree("/tmp/wt-1", "agent/task-1")

	pid := 4242
	s.MarkStarted(&pid)

	assert.Equal(t, runlog.StatusRunning, s.Status())
	assert.Equal(t, pid, *s.State().PID)

	var sawStarted bool
	for i := 0; i < 2; i++ {
		select {
		case event := <-s.Events():
			if event.EventType == runlog.EventSessionStarted {
				sawStarted = true
				assert.Equal(t, "/tmp/wt-1", event.WorktreePath)
				assert.Equal(t, "agent/task-1", event.Branch)
			}
		default:
		}
	}
	assert.True(t, sawStarted)
}

func TestCompleteWithZeroExitCodeIsCompleted(t *testing.T) {
	s := New(uuid.NewString(), "task-1", "opencode", "fix it", "main")
	s.MarkStarted(nil)
	drain(s)

	s.Complete(0)
	assert.Equal(t, runlog.StatusCompleted, s.Status())
	assert.Equal(t, 0, *s.State().ExitCode)
}

func TestCompleteWithNonZeroExitCodeIsFailed(t *testing.T) {
	s := New(uuid.NewString(), "task-1", "opencode", "fix it", "main")
	s.MarkStarted(nil)
	drain(s)

	s.Complete(1)
	assert.Equal(t, runlog.StatusFailed, s.Status())
}

func TestCancelAfterCompleteIsRejected(t *testing.T) {
	s := New(uuid.NewString(), "task-1", "opencode", "fix it", "main")
	s.MarkStarted(nil)
	drain(s)

	require.NoError(t, s.Complete(0))
	err := s.Cancel()

	require.Error(t, err)
	assert.Equal(t, runlog.StatusCompleted, s.Status())
}

func TestStartEventForwarderRelaysAgentEventsAsExecutionEvents(t *testing.T) {
	s := New(uuid.NewString(), "task-1", "opencode", "fix it", "main")
	s.StartEventForwarder()

	s.AgentEvents() <- runlog.AgentEvent{Kind: runlog.AgentEventThinking, Content: "considering approach"}

	select {
	case event := <-s.Events():
		require.Equal(t, runlog.EventAgentEvent, event.EventType)
		require.NotNil(t, event.Agent)
		assert.Equal(t, "considering approach", event.Agent.Content)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded agent event")
	}

	s.Close()
}

func TestCloseWithoutForwarderStartedDoesNotDeadlock(t *testing.T) {
	s := New(uuid.NewString(), "task-1", "opencode", "fix it", "main")
	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close deadlocked with no forwarder ever started")
	}
}

// drain empties any events queued so far, so a subsequent assertion on the
// next event doesn't have to account for earlier ones.
func drain(s *Session) {
	for {
		select {
		case <-s.Events():
		default:
			return
		}
	}
}
