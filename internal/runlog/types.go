// Package runlog implements the Run Log (spec §4.C) and Chat Log (spec
// §4.H): persisted execution records, their append-only event streams, and
// their chat message streams.
package runlog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle state of a run (spec §3, §4.D's state
// machine).
type ExecutionStatus string

const (
	StatusInitializing     ExecutionStatus = "initializing"
	StatusCreatingWorktree ExecutionStatus = "creating_worktree"
	StatusStarting         ExecutionStatus = "starting"
	StatusRunning          ExecutionStatus = "running"
	StatusPaused           ExecutionStatus = "paused"
	StatusCompleted        ExecutionStatus = "completed"
	StatusFailed           ExecutionStatus = "failed"
	StatusCancelled        ExecutionStatus = "cancelled"
	StatusCleaningUp       ExecutionStatus = "cleaning_up"
)

// IsTerminal reports whether the run will never transition again.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the run is still doing work.
func (s ExecutionStatus) IsActive() bool {
	return !s.IsTerminal()
}

// AgentEventKind discriminates the payload carried by an AgentEvent.
type AgentEventKind string

const (
	AgentEventThinking   AgentEventKind = "thinking"
	AgentEventCommand    AgentEventKind = "command"
	AgentEventFileChange AgentEventKind = "file_change"
	AgentEventToolCall   AgentEventKind = "tool_call"
	AgentEventMessage    AgentEventKind = "message"
	AgentEventError      AgentEventKind = "error"
	AgentEventCompleted  AgentEventKind = "completed"
	AgentEventRawOutput  AgentEventKind = "raw_output"
)

// FileAction is the kind of filesystem change a FileChange event reports.
type FileAction string

const (
	FileCreated  FileAction = "created"
	FileModified FileAction = "modified"
	FileDeleted  FileAction = "deleted"
	FileRenamed  FileAction = "renamed"
)

// OutputStream is which stream a RawOutput event captured.
type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// AgentEvent is one event emitted by an executing agent. Only the fields
// relevant to Kind are populated; the rest are zero/omitted, the common Go
// translation of a Rust tagged enum.
type AgentEvent struct {
	Kind AgentEventKind `json:"type"`

	Content string `json:"content,omitempty"` // thinking, message

	Command  string `json:"command,omitempty"` // command
	Output   string `json:"output,omitempty"`  // command
	ExitCode *int   `json:"exitCode,omitempty"`

	Path   string     `json:"path,omitempty"` // file_change
	Action FileAction `json:"action,omitempty"`
	Diff   string     `json:"diff,omitempty"`

	Tool   string          `json:"tool,omitempty"` // tool_call
	Args   json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`

	Message     string `json:"message,omitempty"` // error
	Recoverable bool   `json:"recoverable,omitempty"`

	Success bool   `json:"success,omitempty"` // completed
	Summary string `json:"summary,omitempty"`

	Stream OutputStream `json:"stream,omitempty"` // raw_output
}

// ExecutionEventKind discriminates the payload carried by an ExecutionEvent.
type ExecutionEventKind string

const (
	EventStatusChanged  ExecutionEventKind = "status_changed"
	EventAgentEvent     ExecutionEventKind = "agent_event"
	EventSessionStarted ExecutionEventKind = "session_started"
	EventSessionEnded   ExecutionEventKind = "session_ended"
	EventProgress       ExecutionEventKind = "progress"
)

// ExecutionEvent is one entry in a run's events.jsonl.
type ExecutionEvent struct {
	ID        string             `json:"id"`
	RunID     string             `json:"runId"`
	TaskID    string             `json:"taskId"`
	Timestamp time.Time          `json:"timestamp"`
	EventType ExecutionEventKind `json:"eventType"`

	OldStatus ExecutionStatus `json:"oldStatus,omitempty"` // status_changed
	NewStatus ExecutionStatus `json:"newStatus,omitempty"`

	Agent *AgentEvent `json:"agent,omitempty"` // agent_event

	WorktreePath string `json:"worktreePath,omitempty"` // session_started
	Branch       string `json:"branch,omitempty"`

	DurationMS uint64 `json:"durationMs,omitempty"` // session_ended

	Message    string   `json:"message,omitempty"` // progress
	Percentage *float32 `json:"percentage,omitempty"`
}

func newEvent(runID, taskID string, kind ExecutionEventKind) ExecutionEvent {
	return ExecutionEvent{
		ID:        uuid.NewString(),
		RunID:     runID,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		EventType: kind,
	}
}

// NewStatusChangedEvent records a run's transition from one status to another.
func NewStatusChangedEvent(runID, taskID string, oldStatus, newStatus ExecutionStatus) ExecutionEvent {
	e := newEvent(runID, taskID, EventStatusChanged)
	e.OldStatus = oldStatus
	e.NewStatus = newStatus
	return e
}

// NewAgentEventRecord wraps an AgentEvent as a persisted ExecutionEvent.
func NewAgentEventRecord(runID, taskID string, agent AgentEvent) ExecutionEvent {
	e := newEvent(runID, taskID, EventAgentEvent)
	e.Agent = &agent
	return e
}

// NewSessionStartedEvent records that a run's worktree/session has begun.
func NewSessionStartedEvent(runID, taskID, worktreePath, branch string) ExecutionEvent {
	e := newEvent(runID, taskID, EventSessionStarted)
	e.WorktreePath = worktreePath
	e.Branch = branch
	return e
}

// NewSessionEndedEvent records a run's terminal status and total duration.
func NewSessionEndedEvent(runID, taskID string, status ExecutionStatus, durationMS uint64) ExecutionEvent {
	e := newEvent(runID, taskID, EventSessionEnded)
	e.NewStatus = status
	e.DurationMS = durationMS
	return e
}

// NewProgressEvent records an informational progress update.
func NewProgressEvent(runID, taskID, message string, percentage *float32) ExecutionEvent {
	e := newEvent(runID, taskID, EventProgress)
	e.Message = message
	e.Percentage = percentage
	return e
}

// MessageRole is who sent a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ToolCallInfo records a tool invocation surfaced in a chat message.
type ToolCallInfo struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResultInfo records a tool's outcome surfaced in a chat message.
type ToolResultInfo struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// ChatMessage is one entry in a run's messages.jsonl.
type ChatMessage struct {
	ID          string          `json:"id"`
	Role        MessageRole     `json:"role"`
	Content     string          `json:"content"`
	TimestampMS int64           `json:"timestamp"`
	MessageType string          `json:"messageType,omitempty"`
	ToolCall    *ToolCallInfo   `json:"toolCall,omitempty"`
	ToolResult  *ToolResultInfo `json:"toolResult,omitempty"`
}

func newChatMessage(role MessageRole, content, messageType string) ChatMessage {
	return ChatMessage{
		ID:          uuid.NewString(),
		Role:        role,
		Content:     content,
		TimestampMS: time.Now().UTC().UnixMilli(),
		MessageType: messageType,
	}
}

// NewUserMessage builds a user-authored chat message.
func NewUserMessage(content string) ChatMessage { return newChatMessage(RoleUser, content, "text") }

// NewAssistantMessage builds an assistant-authored chat message.
func NewAssistantMessage(content string) ChatMessage {
	return newChatMessage(RoleAssistant, content, "text")
}

// NewSystemMessage builds a system-authored chat message.
func NewSystemMessage(content string) ChatMessage {
	return newChatMessage(RoleSystem, content, "system")
}

// RunMetadata carries counters and bound context accumulated over a run.
type RunMetadata struct {
	FilesModified    []string `json:"filesModified,omitempty"`
	CommandsExecuted uint32   `json:"commandsExecuted,omitempty"`
	ToolsCalled      uint32   `json:"toolsCalled,omitempty"`
	ThinkingCount    uint32   `json:"thinkingCount,omitempty"`
	MessageCount     uint32   `json:"messageCount,omitempty"`
	ErrorCount       uint32   `json:"errorCount,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	ProjectID        string   `json:"projectId,omitempty"`
	WorkspaceID      string   `json:"workspaceId,omitempty"`
}

// Run is the persistent execution record for one agent run against a task.
type Run struct {
	ID             string          `json:"id"`
	TaskID         string          `json:"taskId"`
	AgentType      string          `json:"agentType"`
	Prompt         string          `json:"prompt"`
	BaseBranch     string          `json:"baseBranch"`
	WorktreeBranch string          `json:"worktreeBranch,omitempty"`
	WorktreePath   string          `json:"worktreePath,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	EndedAt        *time.Time      `json:"endedAt,omitempty"`
	DurationMS     *uint64         `json:"durationMs,omitempty"`
	Status         ExecutionStatus `json:"status"`
	ExitCode       *int            `json:"exitCode,omitempty"`
	Error          string          `json:"error,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	EventCount     uint32          `json:"eventCount"`
	Metadata       RunMetadata     `json:"metadata"`
}

// NewRun starts a fresh, not-yet-started run record.
func NewRun(taskID, agentType, prompt, baseBranch string) *Run {
	return NewRunWithID(uuid.NewString(), taskID, agentType, prompt, baseBranch)
}

// NewRunWithID is NewRun with a caller-supplied run id.
func NewRunWithID(id, taskID, agentType, prompt, baseBranch string) *Run {
	return &Run{
		ID:         id,
		TaskID:     taskID,
		AgentType:  agentType,
		Prompt:     prompt,
		BaseBranch: baseBranch,
		CreatedAt:  time.Now().UTC(),
		Status:     StatusInitializing,
	}
}

// MarkStarted transitions the run to Running and records its start time. A
// no-op returning false if the run already reached a terminal status.
func (r *Run) MarkStarted() bool {
	if r.Status.IsTerminal() {
		return false
	}
	now := time.Now().UTC()
	r.StartedAt = &now
	r.Status = StatusRunning
	return true
}

// MarkFinished moves the run into a terminal state and computes its
// duration. A run that has already reached a terminal status rejects the
// call instead of overwriting its resolved outcome (spec §4.D, §8 terminal
// monotonicity): a late cancel racing a completion must not clobber the
// completion. Returns false when rejected.
func (r *Run) MarkFinished(status ExecutionStatus, exitCode *int, errMsg, summary string) bool {
	if r.Status.IsTerminal() {
		return false
	}
	now := time.Now().UTC()
	r.EndedAt = &now
	r.Status = status
	r.ExitCode = exitCode
	if errMsg != "" {
		r.Error = errMsg
	}
	if summary != "" {
		r.Summary = summary
	}
	r.calculateDuration()
	return true
}

func (r *Run) calculateDuration() {
	if r.StartedAt == nil || r.EndedAt == nil {
		return
	}
	d := r.EndedAt.Sub(*r.StartedAt)
	if d < 0 {
		d = 0
	}
	ms := uint64(d.Milliseconds())
	r.DurationMS = &ms
}

// IsTerminal reports whether the run has finished (spec §4.D).
func (r *Run) IsTerminal() bool { return r.Status.IsTerminal() }

// IsActive reports whether the run is still doing work.
func (r *Run) IsActive() bool { return r.Status.IsActive() }

// IncrementEventCount bumps the run's persisted event counter.
func (r *Run) IncrementEventCount() { r.EventCount++ }

const promptPreviewLen = 100

// Summary is the lightweight listing projection of a Run.
type Summary struct {
	ID            string          `json:"id"`
	TaskID        string          `json:"taskId"`
	AgentType     string          `json:"agentType"`
	PromptPreview string          `json:"promptPreview"`
	CreatedAt     time.Time       `json:"createdAt"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	EndedAt       *time.Time      `json:"endedAt,omitempty"`
	DurationMS    *uint64         `json:"durationMs,omitempty"`
	Status        ExecutionStatus `json:"status"`
	EventCount    uint32          `json:"eventCount"`
}

// ToSummary projects a Run down to its listing view.
func (r *Run) ToSummary() Summary {
	preview := r.Prompt
	if len(preview) > promptPreviewLen {
		preview = preview[:promptPreviewLen] + "..."
	}
	return Summary{
		ID:            r.ID,
		TaskID:        r.TaskID,
		AgentType:     r.AgentType,
		PromptPreview: preview,
		CreatedAt:     r.CreatedAt,
		StartedAt:     r.StartedAt,
		EndedAt:       r.EndedAt,
		DurationMS:    r.DurationMS,
		Status:        r.Status,
		EventCount:    r.EventCount,
	}
}
