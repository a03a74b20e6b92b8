// Package dispatcher implements the Dispatcher (spec §4.E): routing tasks,
// aborts, input, and model requests to connected hosts, and reacting to the
// outcomes hosts report back. It owns none of the connection bookkeeping
// itself — that is the Host Registry's (spec §4.B, internal/hostregistry)
// job — and it does not serialize wire frames — that is the Host Gateway's
// (spec §4.M) job. This package is the routing and outcome-handling logic
// that sits between them.
package dispatcher

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/apperr"
	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/hostregistry"
	"github.com/kandev/orchestrator/internal/runlog"
)

const modelsRequestTimeout = 30 * time.Second

// TaskRequest is what the dispatcher asks a host to run.
type TaskRequest struct {
	TaskID         string            `json:"taskId"`
	Prompt         string            `json:"prompt"`
	Cwd            string            `json:"cwd"`
	AgentType      string            `json:"agentType"`
	Model          string            `json:"model,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
	Metadata       json.RawMessage   `json:"metadata,omitempty"`
}

// Outbound message kinds the dispatcher sends to a host. The Host Gateway
// (spec §4.M) is responsible for framing these onto the wire; the
// dispatcher only constructs the logical message.
const (
	MessageTaskExecute   = "task:execute"
	MessageTaskAbort     = "task:abort"
	MessageTaskInput     = "task:input"
	MessageModelsRequest = "models:request"
)

// TaskExecuteMessage asks a host to begin running a task.
type TaskExecuteMessage struct {
	Type string      `json:"type"`
	Task TaskRequest `json:"task"`
}

// TaskAbortMessage asks a host to stop a running task.
type TaskAbortMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId"`
}

// TaskInputMessage delivers follow-up input to a running task.
type TaskInputMessage struct {
	Type    string `json:"type"`
	TaskID  string `json:"taskId"`
	Content string `json:"content"`
}

// ModelsRequestMessage asks a host which model providers it has available.
type ModelsRequestMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

// ProviderInfo is one model provider a host reports as available.
type ProviderInfo struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Models []string `json:"models"`
}

// TaskResult is the outcome a host reports for a finished task.
type TaskResult struct {
	Success      bool     `json:"success"`
	ExitCode     *int     `json:"exitCode,omitempty"`
	Output       string   `json:"output,omitempty"`
	DurationMS   *uint64  `json:"durationMs,omitempty"`
	FilesChanged []string `json:"filesChanged,omitempty"`
}

// HostAgentEvent is a raw agent event as reported by a host, before it is
// turned into a persisted execution event.
type HostAgentEvent struct {
	Type        string          `json:"type"`
	Content     string          `json:"content,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	TimestampMS uint64          `json:"timestamp"`
}

// TaskStatusSink mirrors task completion/failure into the Task Store (spec
// §4.N). Left unset, dispatch outcomes still fire but nothing is mirrored.
type TaskStatusSink interface {
	MarkDone(taskID string) error
	MarkTodo(taskID string) error
}

// KanbanSink mirrors task completion/failure into the Kanban Bridge (spec
// §4.G).
type KanbanSink interface {
	MoveTask(taskID, status string) error
}

// EventSink publishes raw host events onward, typically into the Event Bus
// (spec §4.F) for a task's subscribers.
type EventSink interface {
	PublishHostEvent(hostID, taskID string, event HostAgentEvent)
}

// RunLogSink persists the Run Log record (spec §4.C) for a dispatched task:
// created at dispatch time, appended to as the host reports events, and
// finalized when the task completes or fails.
type RunLogSink interface {
	SaveRun(run *runlog.Run) error
	LoadRun(runID string) (*runlog.Run, error)
	AppendEvent(runID string, event runlog.ExecutionEvent) error
}

// Dispatcher routes tasks to hosts via the Host Registry and reacts to
// completion, failure, and model-list outcomes those hosts report back.
type Dispatcher struct {
	registry *hostregistry.Registry
	log      *logger.Logger

	mu            sync.Mutex
	pendingModels map[string]chan []ProviderInfo
	activeRuns    map[string]string // taskID -> runID, for tasks with an open Run Log record

	taskSink  TaskStatusSink
	kanban    KanbanSink
	eventSink EventSink
	runLog    RunLogSink
}

// New returns a Dispatcher routing through registry.
func New(registry *hostregistry.Registry, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		registry:      registry,
		log:           log,
		pendingModels: make(map[string]chan []ProviderInfo),
		activeRuns:    make(map[string]string),
	}
}

// SetTaskStatusSink wires the Task Store mirror.
func (d *Dispatcher) SetTaskStatusSink(sink TaskStatusSink) { d.taskSink = sink }

// SetKanbanSink wires the Kanban Bridge mirror.
func (d *Dispatcher) SetKanbanSink(sink KanbanSink) { d.kanban = sink }

// SetEventSink wires the outgoing raw-event publisher.
func (d *Dispatcher) SetEventSink(sink EventSink) { d.eventSink = sink }

// SetRunLogSink wires the Run Log persistence layer.
func (d *Dispatcher) SetRunLogSink(sink RunLogSink) { d.runLog = sink }

// DispatchTask finds an available host for req's agent type and sends it
// the task, returning the id of the host it was sent to.
func (d *Dispatcher) DispatchTask(req TaskRequest) (string, error) {
	conn, err := d.registry.FindAvailable(req.AgentType)
	if err != nil {
		return "", err
	}

	d.registry.MarkTaskActive(conn.HostID, req.TaskID)

	msg := TaskExecuteMessage{Type: MessageTaskExecute, Task: req}
	if !d.sendTo(conn, msg) {
		// Send failed: undo the capacity reservation. Filtered by task id,
		// never by host id (see internal/hostregistry's documented fix of
		// the original implementation's equivalent cleanup bug).
		d.registry.MarkTaskInactive(conn.HostID, req.TaskID)
		return "", apperr.SpawnFailed(fmt.Sprintf("failed to dispatch task to host %s", conn.HostID))
	}

	d.openRun(req)

	if d.log != nil {
		d.log.WithHostID(conn.HostID).WithTaskID(req.TaskID).Info("task dispatched")
	}
	return conn.HostID, nil
}

// openRun creates this dispatch's Run Log record and tracks it against
// req.TaskID so later host-reported events and outcomes land in it.
func (d *Dispatcher) openRun(req TaskRequest) {
	if d.runLog == nil {
		return
	}
	run := runlog.NewRun(req.TaskID, req.AgentType, req.Prompt, "")
	d.mu.Lock()
	d.activeRuns[req.TaskID] = run.ID
	d.mu.Unlock()

	if err := d.runLog.SaveRun(run); err != nil && d.log != nil {
		d.log.Warn("failed to persist run record", zap.String("taskID", req.TaskID), zap.Error(err))
	}
}

func (d *Dispatcher) runIDFor(taskID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	runID, ok := d.activeRuns[taskID]
	return runID, ok
}

// closeRun loads, finalizes, and saves the Run Log record open for taskID,
// then stops tracking it. A no-op if no run was ever opened for taskID
// (e.g. the Run Log sink isn't wired).
func (d *Dispatcher) closeRun(taskID string, status runlog.ExecutionStatus, exitCode *int, errMsg string) {
	if d.runLog == nil {
		return
	}
	d.mu.Lock()
	runID, ok := d.activeRuns[taskID]
	if ok {
		delete(d.activeRuns, taskID)
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	run, err := d.runLog.LoadRun(runID)
	if err != nil {
		if d.log != nil {
			d.log.Warn("failed to load run for finish", zap.String("runID", runID), zap.Error(err))
		}
		return
	}
	run.MarkFinished(status, exitCode, errMsg, "")
	if err := d.runLog.SaveRun(run); err != nil && d.log != nil {
		d.log.Warn("failed to save finished run", zap.String("runID", runID), zap.Error(err))
	}
	if err := d.runLog.AppendEvent(runID, runlog.NewSessionEndedEvent(runID, taskID, status, 0)); err != nil && d.log != nil {
		d.log.Warn("failed to append session_ended event", zap.String("runID", runID), zap.Error(err))
	}
}

// AbortTask sends an abort request to whichever host is running taskID.
func (d *Dispatcher) AbortTask(taskID string) error {
	hostID, ok := d.registry.FindHostForTask(taskID)
	if !ok {
		return apperr.NotFound("task", taskID)
	}
	conn, ok := d.registry.Get(hostID)
	if !ok {
		return apperr.NotFound("host", hostID)
	}

	msg := TaskAbortMessage{Type: MessageTaskAbort, TaskID: taskID}
	if !d.sendTo(conn, msg) {
		return apperr.SpawnFailed(fmt.Sprintf("failed to send abort for task %s to host %s", taskID, hostID))
	}
	return nil
}

// SendInput delivers follow-up input to whichever host is running taskID.
func (d *Dispatcher) SendInput(taskID, content string) error {
	hostID, ok := d.registry.FindHostForTask(taskID)
	if !ok {
		return apperr.NotFound("task", taskID)
	}
	conn, ok := d.registry.Get(hostID)
	if !ok {
		return apperr.NotFound("host", hostID)
	}

	msg := TaskInputMessage{Type: MessageTaskInput, TaskID: taskID, Content: content}
	if !d.sendTo(conn, msg) {
		return apperr.SpawnFailed(fmt.Sprintf("failed to send input for task %s to host %s", taskID, hostID))
	}
	return nil
}

// RequestModels asks hostID which model providers it has available and
// blocks until the host responds or 30 seconds pass.
func (d *Dispatcher) RequestModels(hostID string) ([]ProviderInfo, error) {
	conn, ok := d.registry.Get(hostID)
	if !ok {
		return nil, apperr.NotFound("host", hostID)
	}

	requestID := uuid.NewString()
	resultCh := make(chan []ProviderInfo, 1)

	d.mu.Lock()
	d.pendingModels[requestID] = resultCh
	d.mu.Unlock()

	msg := ModelsRequestMessage{Type: MessageModelsRequest, RequestID: requestID}
	if !d.sendTo(conn, msg) {
		d.mu.Lock()
		delete(d.pendingModels, requestID)
		d.mu.Unlock()
		return nil, apperr.SpawnFailed("failed to send models request")
	}

	select {
	case providers := <-resultCh:
		return providers, nil
	case <-time.After(modelsRequestTimeout):
		d.mu.Lock()
		delete(d.pendingModels, requestID)
		d.mu.Unlock()
		return nil, apperr.Timeout("models request timed out")
	}
}

// HandleModelsResponse delivers a host's response to whichever
// RequestModels call is still waiting on requestID, if any.
func (d *Dispatcher) HandleModelsResponse(requestID string, providers []ProviderInfo) {
	d.mu.Lock()
	ch, ok := d.pendingModels[requestID]
	if ok {
		delete(d.pendingModels, requestID)
	}
	d.mu.Unlock()

	if !ok {
		if d.log != nil {
			d.log.Warn("received models response for unknown request", zap.String("requestID", requestID))
		}
		return
	}
	ch <- providers
}

// HandleTaskEvent forwards a raw event a host reported for taskID and, if a
// Run Log record is open for it, appends it to the run's persisted event
// stream (spec §4.C).
func (d *Dispatcher) HandleTaskEvent(hostID, taskID string, event HostAgentEvent) {
	if d.eventSink != nil {
		d.eventSink.PublishHostEvent(hostID, taskID, event)
	}

	if d.runLog == nil {
		return
	}
	runID, ok := d.runIDFor(taskID)
	if !ok {
		return
	}
	record := runlog.NewAgentEventRecord(runID, taskID, runlog.AgentEvent{
		Kind:    runlog.AgentEventKind(event.Type),
		Content: event.Content,
	})
	if err := d.runLog.AppendEvent(runID, record); err != nil && d.log != nil {
		d.log.Warn("failed to append run event", zap.String("runID", runID), zap.Error(err))
	}
}

// HandleTaskCompleted frees the host's capacity for taskID, mirrors the
// outcome into the Task Store and Kanban Bridge if wired, and publishes a
// synthetic completed event so event-stream subscribers see a terminal
// event even though this outcome arrived out-of-band from the task's own
// event stream.
func (d *Dispatcher) HandleTaskCompleted(hostID, taskID string, result TaskResult) {
	d.registry.MarkTaskInactive(hostID, taskID)

	if d.log != nil {
		d.log.WithHostID(hostID).WithTaskID(taskID).Info("task completed", zap.Bool("success", result.Success))
	}

	if d.taskSink != nil {
		if err := d.taskSink.MarkDone(taskID); err != nil && d.log != nil {
			d.log.Warn("failed to mark task done in task store", zap.String("taskID", taskID), zap.Error(err))
		}
	}
	if d.kanban != nil {
		if err := d.kanban.MoveTask(taskID, "done"); err != nil && d.log != nil {
			d.log.Warn("failed to move kanban task to done", zap.String("taskID", taskID), zap.Error(err))
		}
	}

	status := runlog.StatusCompleted
	if !result.Success {
		status = runlog.StatusFailed
	}
	d.closeRun(taskID, status, result.ExitCode, "")

	d.publishSynthetic(hostID, taskID, "completed", fmt.Sprintf("task completed: success=%v", result.Success), result)
}

// HandleTaskFailed frees the host's capacity for taskID, mirrors the
// failure into the Task Store (moved back to Todo so the user can retry)
// and Kanban Bridge if wired, and publishes a synthetic failed event.
func (d *Dispatcher) HandleTaskFailed(hostID, taskID, errMsg string) {
	d.registry.MarkTaskInactive(hostID, taskID)

	if d.log != nil {
		d.log.WithHostID(hostID).WithTaskID(taskID).Error("task failed", zap.String("error", errMsg))
	}

	if d.taskSink != nil {
		if err := d.taskSink.MarkTodo(taskID); err != nil && d.log != nil {
			d.log.Warn("failed to mark task todo in task store after failure", zap.String("taskID", taskID), zap.Error(err))
		}
	}
	if d.kanban != nil {
		if err := d.kanban.MoveTask(taskID, "todo"); err != nil && d.log != nil {
			d.log.Warn("failed to move kanban task to todo after failure", zap.String("taskID", taskID), zap.Error(err))
		}
	}

	d.closeRun(taskID, runlog.StatusFailed, nil, errMsg)

	d.publishSynthetic(hostID, taskID, "failed", fmt.Sprintf("task failed: %s", errMsg), map[string]string{"error": errMsg})
}

func (d *Dispatcher) publishSynthetic(hostID, taskID, eventType, content string, data any) {
	if d.eventSink == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		raw = nil
	}
	d.eventSink.PublishHostEvent(hostID, taskID, HostAgentEvent{
		Type:        eventType,
		Content:     content,
		Data:        raw,
		TimestampMS: uint64(time.Now().UnixMilli()),
	})
}

func (d *Dispatcher) sendTo(conn *hostregistry.Connection, msg any) bool {
	select {
	case conn.Outbox <- msg:
		return true
	default:
		return false
	}
}
