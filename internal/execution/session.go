// Package execution implements the Execution component (spec §4.D): the
// live, in-memory coordination object for one dispatched run. It owns the
// run's status transitions and the channel plumbing that turns agent events
// arriving from a host into the run's execution event stream. The
// persistent record of a run lives in internal/runlog; this package is the
// part of a run that only exists while it is active.
package execution

import (
	"sync"
	"time"

	"github.com/kandev/orchestrator/internal/common/apperr"
	"github.com/kandev/orchestrator/internal/runlog"
)

const eventBufferSize = 1000

// State is the live, additional-detail view of a session the status alone
// doesn't carry: the host process id once known, and the terminal outcome
// once reached.
type State struct {
	Status   runlog.ExecutionStatus
	PID      *int
	ExitCode *int
	Error    string
}

// Session coordinates one active run: its status, its worktree location
// once assigned, and the two event streams feeding it (agent events coming
// in, execution events going out to subscribers).
type Session struct {
	ID         string
	TaskID     string
	AgentType  string
	Prompt     string
	BaseBranch string
	CreatedAt  time.Time

	mu             sync.RWMutex
	state          State
	worktreePath   string
	worktreeBranch string
	startedAt      time.Time
	hasStarted     bool

	eventCh         chan runlog.ExecutionEvent
	agentEventCh    chan runlog.AgentEvent
	forwardOnce     sync.Once
	forwardStarted  bool
	forwardDone     chan struct{}
}

// New creates a session in its initial, not-yet-started state.
func New(runID, taskID, agentType, prompt, baseBranch string) *Session {
	return &Session{
		ID:           runID,
		TaskID:       taskID,
		AgentType:    agentType,
		Prompt:       prompt,
		BaseBranch:   baseBranch,
		CreatedAt:    time.Now().UTC(),
		state:        State{Status: runlog.StatusInitializing},
		eventCh:      make(chan runlog.ExecutionEvent, eventBufferSize),
		agentEventCh: make(chan runlog.AgentEvent, eventBufferSize),
		forwardDone:  make(chan struct{}),
	}
}

// State returns a snapshot of the session's live state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns the session's current execution status.
func (s *Session) Status() runlog.ExecutionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Status
}

// SetWorktree records the worktree assigned to this session once the
// worktree has been created.
func (s *Session) SetWorktree(path, branch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worktreePath = path
	s.worktreeBranch = branch
}

// WorktreePath returns the session's assigned worktree path, or "" if none
// has been set yet.
func (s *Session) WorktreePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worktreePath
}

// Events returns the channel of execution events to be consumed by a single
// subscriber (the event bus forwarder, spec §4.F). Calling this more than
// once returns the same channel; fanning out to multiple subscribers is the
// event bus's job, not this channel's.
func (s *Session) Events() <-chan runlog.ExecutionEvent {
	return s.eventCh
}

// AgentEvents returns the channel the dispatcher (spec §4.E) feeds incoming
// agent events into. StartEventForwarder must be running for these to reach
// Events().
func (s *Session) AgentEvents() chan<- runlog.AgentEvent {
	return s.agentEventCh
}

// StartEventForwarder begins relaying agent events into the execution event
// stream. It is safe to call more than once; only the first call starts the
// goroutine.
func (s *Session) StartEventForwarder() {
	s.forwardOnce.Do(func() {
		s.mu.Lock()
		s.forwardStarted = true
		s.mu.Unlock()
		go func() {
			defer close(s.forwardDone)
			for agentEvent := range s.agentEventCh {
				event := runlog.NewAgentEventRecord(s.ID, s.TaskID, agentEvent)
				select {
				case s.eventCh <- event:
				default:
					// Subscriber fell behind; drop rather than block the
					// forwarder indefinitely on a full buffer.
				}
			}
		}()
	})
}

// UpdateStatus transitions the session to newStatus and emits a
// status_changed event. A session that has already reached a terminal
// status never transitions again (spec §4.D: Terminal | — (rejected));
// the attempt is rejected and reported via the returned error instead of
// silently overwriting the terminal state.
func (s *Session) UpdateStatus(newStatus runlog.ExecutionStatus) error {
	s.mu.Lock()
	old := s.state.Status
	if old.IsTerminal() {
		s.mu.Unlock()
		return apperr.SessionNotFound("session " + s.ID + " is already terminal (" + string(old) + ")")
	}
	s.state.Status = newStatus
	s.mu.Unlock()

	if old == newStatus {
		return nil
	}
	s.send(runlog.NewStatusChangedEvent(s.ID, s.TaskID, old, newStatus))
	return nil
}

// EmitProgress emits an informational progress event without changing status.
func (s *Session) EmitProgress(message string, percentage *float32) {
	s.send(runlog.NewProgressEvent(s.ID, s.TaskID, message, percentage))
}

// MarkStarted transitions the session into Running, records the wall-clock
// start time used for duration calculation, and emits a session_started
// event. A session that already reached a terminal status (e.g. an abort
// raced the host's task_started message) is left unchanged and the call
// returns an error.
func (s *Session) MarkStarted(pid *int) error {
	s.mu.Lock()
	if s.state.Status.IsTerminal() {
		terminal := s.state.Status
		s.mu.Unlock()
		return apperr.SessionNotFound("session " + s.ID + " is already terminal (" + string(terminal) + ")")
	}
	s.startedAt = time.Now()
	s.hasStarted = true
	s.state.PID = pid
	s.mu.Unlock()

	if err := s.UpdateStatus(runlog.StatusRunning); err != nil {
		return err
	}
	s.send(runlog.NewSessionStartedEvent(s.ID, s.TaskID, s.WorktreePath(), s.worktreeBranchSnapshot()))
	return nil
}

func (s *Session) worktreeBranchSnapshot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worktreeBranch
}

// Complete marks the session finished with the given exit code, Completed
// if it is zero, Failed otherwise.
func (s *Session) Complete(exitCode int) error {
	status := runlog.StatusCompleted
	if exitCode != 0 {
		status = runlog.StatusFailed
	}
	return s.finish(status, &exitCode, "")
}

// Fail marks the session finished with an explicit error.
func (s *Session) Fail(errMsg string) error {
	return s.finish(runlog.StatusFailed, nil, errMsg)
}

// Cancel marks the session finished as cancelled. A session that already
// reached a terminal status (Complete/Fail already ran) rejects the late
// cancel instead of overwriting its resolved outcome (spec §4.D, §8 terminal
// monotonicity).
func (s *Session) Cancel() error {
	return s.finish(runlog.StatusCancelled, nil, "")
}

func (s *Session) finish(status runlog.ExecutionStatus, exitCode *int, errMsg string) error {
	s.mu.Lock()
	if s.state.Status.IsTerminal() {
		terminal := s.state.Status
		s.mu.Unlock()
		return apperr.SessionNotFound("session " + s.ID + " is already terminal (" + string(terminal) + ")")
	}
	s.state.ExitCode = exitCode
	s.state.Error = errMsg
	started := s.startedAt
	hasStarted := s.hasStarted
	s.mu.Unlock()

	if err := s.UpdateStatus(status); err != nil {
		return err
	}

	var durationMS uint64
	if hasStarted {
		if d := time.Since(started); d > 0 {
			durationMS = uint64(d.Milliseconds())
		}
	}
	s.send(runlog.NewSessionEndedEvent(s.ID, s.TaskID, status, durationMS))
	return nil
}

// Close shuts down the session's channels once it is terminal and no more
// events will be produced. Safe to call whether or not the event forwarder
// was ever started.
func (s *Session) Close() {
	s.mu.RLock()
	started := s.forwardStarted
	s.mu.RUnlock()

	close(s.agentEventCh)
	if started {
		<-s.forwardDone
	}
	close(s.eventCh)
}

func (s *Session) send(event runlog.ExecutionEvent) {
	select {
	case s.eventCh <- event:
	default:
	}
}
