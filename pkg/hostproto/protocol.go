// Package hostproto defines the wire messages exchanged between the
// orchestrator and a connected host over the Host Gateway's WebSocket
// (spec §4.M). Go has no tagged-union enum, so each side's message set is
// represented as a "type" discriminant field plus one concrete struct per
// variant, the same pattern internal/dispatcher already uses for its own
// outbound messages.
package hostproto

import "encoding/json"

// HostCapabilities describes what agent types a host can run and how many
// at once. It mirrors hostregistry.Capabilities on the wire; the two are
// kept as separate types because the wire shape is a protocol contract and
// the registry's is an internal one, even though today they agree field
// for field.
type HostCapabilities struct {
	Name          string            `json:"name"`
	Agents        []string          `json:"agents"`
	MaxConcurrent int               `json:"maxConcurrent"`
	Cwd           string            `json:"cwd"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// TaskRequest is a task handed to a host for execution.
type TaskRequest struct {
	TaskID  string            `json:"taskId"`
	Prompt  string            `json:"prompt"`
	Cwd     string            `json:"cwd"`
	Agent   string            `json:"agentType"`
	Model   string            `json:"model,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout uint64            `json:"timeout,omitempty"`
	// Metadata carries operator-supplied data through to the host untouched.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// AgentEvent is a unit of progress a host reports while a task runs.
type AgentEvent struct {
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp uint64          `json:"timestamp"`
}

const (
	AgentEventLog        = "log"
	AgentEventThinking   = "thinking"
	AgentEventToolCall   = "tool_call"
	AgentEventToolResult = "tool_result"
	AgentEventFileChange = "file_change"
	AgentEventMessage    = "message"
	AgentEventError      = "error"
	AgentEventStdout     = "stdout"
	AgentEventStderr     = "stderr"
	AgentEventOutput     = "output"
	AgentEventCompleted  = "completed"
	AgentEventFailed     = "failed"
)

// TaskResult is what a host reports when a task finishes.
type TaskResult struct {
	Success      bool     `json:"success"`
	ExitCode     *int     `json:"exitCode,omitempty"`
	Output       string   `json:"output,omitempty"`
	DurationMS   *uint64  `json:"duration,omitempty"`
	FilesChanged []string `json:"filesChanged,omitempty"`
}

// ModelInfo is one model a provider exposes.
type ModelInfo struct {
	ID           string            `json:"id"`
	ProviderID   string            `json:"providerId"`
	Name         string            `json:"name"`
	Capabilities *ModelCapabilities `json:"capabilities,omitempty"`
}

// ModelCapabilities flags what a model supports.
type ModelCapabilities struct {
	Temperature bool `json:"temperature"`
	Reasoning   bool `json:"reasoning"`
	Attachment  bool `json:"attachment"`
	ToolCall    bool `json:"toolcall"`
}

// ProviderInfo is one model provider a host reports as available.
type ProviderInfo struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Models []ModelInfo `json:"models"`
}

// Message type discriminants, gateway (host) -> server.
const (
	TypeRegister       = "register"
	TypeHeartbeat      = "heartbeat"
	TypeTaskStarted    = "task:started"
	TypeTaskEvent      = "task:event"
	TypeTaskCompleted  = "task:completed"
	TypeTaskFailed     = "task:failed"
	TypeModelsResponse = "models:response"
)

// Message type discriminants, server -> gateway (host).
const (
	TypeRegistered    = "registered"
	TypePing          = "ping"
	TypeTaskExecute   = "task:execute"
	TypeTaskAbort     = "task:abort"
	TypeTaskInput     = "task:input"
	TypeModelsRequest = "models:request"
)

// Envelope reads just enough of an inbound frame to learn its Type; the
// gateway re-decodes the same bytes into the concrete struct that Type
// names.
type Envelope struct {
	Type string `json:"type"`
}

// RegisterMessage is the first frame a host must send after connecting.
type RegisterMessage struct {
	Type         string           `json:"type"`
	HostID       string           `json:"hostId"`
	Capabilities HostCapabilities `json:"capabilities"`
}

// HeartbeatMessage refreshes a host's liveness with the registry.
type HeartbeatMessage struct {
	Type      string `json:"type"`
	Timestamp uint64 `json:"timestamp"`
}

// TaskStartedMessage announces a host has begun running a dispatched task.
type TaskStartedMessage struct {
	Type      string `json:"type"`
	TaskID    string `json:"taskId"`
	SessionID string `json:"sessionId"`
}

// TaskEventMessage carries one AgentEvent for taskId.
type TaskEventMessage struct {
	Type   string     `json:"type"`
	TaskID string     `json:"taskId"`
	Event  AgentEvent `json:"event"`
}

// TaskCompletedMessage reports a task's terminal success.
type TaskCompletedMessage struct {
	Type   string     `json:"type"`
	TaskID string     `json:"taskId"`
	Result TaskResult `json:"result"`
}

// TaskFailedMessage reports a task's terminal failure.
type TaskFailedMessage struct {
	Type    string          `json:"type"`
	TaskID  string          `json:"taskId"`
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

// ModelsResponseMessage answers a ModelsRequestMessage.
type ModelsResponseMessage struct {
	Type      string         `json:"type"`
	RequestID string         `json:"requestId"`
	Providers []ProviderInfo `json:"providers"`
}

// RegisteredMessage acknowledges (or rejects) a RegisterMessage.
type RegisteredMessage struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// PingMessage is the server's liveness probe; a host need not reply beyond
// the transport-level pong gorilla/websocket handles automatically.
type PingMessage struct {
	Type string `json:"type"`
}

// TaskExecuteMessage asks a host to run a task.
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

// ModelsRequestMessage asks a host which providers/models it has available.
type ModelsRequestMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

// ConnectionStatus mirrors hostregistry.ConnectionStatus on the wire, plus
// the "offline" value a disconnected host's last-known status can carry in
// an API response (the registry itself only ever holds online/busy hosts).
type ConnectionStatus string

const (
	StatusOnline  ConnectionStatus = "online"
	StatusOffline ConnectionStatus = "offline"
	StatusBusy    ConnectionStatus = "busy"
)

// HostStatus is the public, wire-facing view of a connected host, returned
// by the Host Gateway's REST surface.
type HostStatus struct {
	OrgID         string           `json:"orgId"`
	HostID        string           `json:"hostId"`
	Name          string           `json:"name"`
	Status        ConnectionStatus `json:"status"`
	Capabilities  HostCapabilities `json:"capabilities"`
	ActiveTasks   []string         `json:"activeTasks"`
	LastHeartbeat uint64           `json:"lastHeartbeat"`
	ConnectedAt   uint64           `json:"connectedAt"`
}
