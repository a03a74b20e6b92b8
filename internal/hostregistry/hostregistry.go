// Package hostregistry implements the Host Registry (spec §4.B): the set of
// live host connections, their capacity, and their liveness.
package hostregistry

import (
	"sort"
	"sync"
	"time"

	"github.com/kandev/orchestrator/internal/common/apperr"
	"github.com/kandev/orchestrator/internal/common/logger"
)

// ConnectionStatus is the registry's view of a host's current load.
type ConnectionStatus string

const (
	StatusOnline ConnectionStatus = "online"
	StatusBusy   ConnectionStatus = "busy"
)

// Capabilities describes what a connected host can run and how much of it
// at once.
type Capabilities struct {
	Name          string            `json:"name"`
	Agents        []string          `json:"agents"`
	MaxConcurrent int               `json:"maxConcurrent"`
	Cwd           string            `json:"cwd"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// Outbound is a message destined for a connected host. The Host Gateway
// (spec §4.M) defines the concrete message types carried over this channel
// and drains it to the underlying wire connection; this package only routes
// by host id and tracks capacity.
type Outbound any

// Closer tears down the transport behind a Connection: closes its Outbox
// and its underlying wire connection. The Host Gateway's connection type
// satisfies this so the registry can force a superseded connection closed
// without importing the transport package.
type Closer interface {
	Close()
}

// Connection is one live host's registry entry.
type Connection struct {
	HostID        string
	Capabilities  Capabilities
	Outbox        chan<- Outbound
	closer        Closer
	activeTasks   []string
	lastHeartbeat time.Time
	connectedAt   time.Time
}

// IsAvailable reports whether this host can accept another task of the
// given agent type right now (spec §4.B / §5: active_tasks.len() <
// max_concurrent).
func (c *Connection) IsAvailable(agentType string) bool {
	if !contains(c.Capabilities.Agents, agentType) {
		return false
	}
	return len(c.activeTasks) < c.Capabilities.MaxConcurrent
}

// Status is the public, read-only snapshot of a connection returned by List.
type Status struct {
	HostID        string           `json:"hostId"`
	Name          string           `json:"name"`
	Status        ConnectionStatus `json:"status"`
	Capabilities  Capabilities     `json:"capabilities"`
	ActiveTasks   []string         `json:"activeTasks"`
	LastHeartbeat time.Duration    `json:"lastHeartbeatAgo"`
	ConnectedFor  time.Duration    `json:"connectedFor"`
}

// Registry holds every live host connection in memory. It is not persisted:
// a restart drops all connections and hosts are expected to reconnect and
// re-register (spec §4.B).
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	log         *logger.Logger
}

// New returns an empty Registry.
func New(log *logger.Logger) *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		log:         log,
	}
}

// Register adds or replaces a host's connection entry and returns the
// closer of whatever connection it superseded, if any. Re-registering a
// host id that is already connected replaces the old entry outright; the
// caller (the Host Gateway) must close the returned Closer itself, since
// the registry has no way to tear down a transport it doesn't own.
func (r *Registry) Register(hostID string, caps Capabilities, outbox chan<- Outbound, closer Closer) Closer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var previous Closer
	if existing, exists := r.connections[hostID]; exists {
		previous = existing.closer
		if r.log != nil {
			r.log.WithHostID(hostID).Warn("host already registered, replacing connection")
		}
	}

	now := time.Now()
	r.connections[hostID] = &Connection{
		HostID:        hostID,
		Capabilities:  caps,
		Outbox:        outbox,
		closer:        closer,
		activeTasks:   nil,
		lastHeartbeat: now,
		connectedAt:   now,
	}
	if r.log != nil {
		r.log.WithHostID(hostID).Info("host registered")
	}
	return previous
}

// Unregister removes a host's connection entry, typically on disconnect.
func (r *Registry) Unregister(hostID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[hostID]; ok {
		delete(r.connections, hostID)
		if r.log != nil {
			r.log.WithHostID(hostID).Info("host unregistered")
		}
	}
}

// Heartbeat refreshes a host's liveness timestamp.
func (r *Registry) Heartbeat(hostID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.connections[hostID]; ok {
		c.lastHeartbeat = time.Now()
	}
}

// FindAvailable returns a registered host able to accept a task of the given
// agent type: the first match in map iteration order, so which of several
// available hosts is returned is not defined.
func (r *Registry) FindAvailable(agentType string) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.connections {
		if c.IsAvailable(agentType) {
			return c, nil
		}
	}
	return nil, apperr.SpawnFailed("no available host for agent type: " + agentType)
}

// Get returns the connection for hostID, if any.
func (r *Registry) Get(hostID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[hostID]
	return c, ok
}

// MarkTaskActive records a task as running on a host, consuming one unit of
// its concurrency budget.
func (r *Registry) MarkTaskActive(hostID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.connections[hostID]; ok {
		c.activeTasks = append(c.activeTasks, taskID)
	}
}

// MarkTaskInactive removes a task from a host's active set, freeing one
// unit of its concurrency budget. Filtering is by task id, never by host
// id — unlike the dispatch send-failure cleanup in the original
// implementation, which mistakenly filtered by host id (see DESIGN.md).
func (r *Registry) MarkTaskInactive(hostID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.connections[hostID]; ok {
		c.activeTasks = removeString(c.activeTasks, taskID)
	}
}

// FindHostForTask returns the id of the host currently running taskID, if
// any is tracked as active for it.
func (r *Registry) FindHostForTask(taskID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for hostID, c := range r.connections {
		if contains(c.activeTasks, taskID) {
			return hostID, true
		}
	}
	return "", false
}

// List returns a status snapshot of every connected host, ordered by host id.
func (r *Registry) List() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	out := make([]Status, 0, len(r.connections))
	for _, c := range r.connections {
		status := StatusOnline
		if len(c.activeTasks) > 0 {
			status = StatusBusy
		}
		out = append(out, Status{
			HostID:        c.HostID,
			Name:          c.Capabilities.Name,
			Status:        status,
			Capabilities:  c.Capabilities,
			ActiveTasks:   append([]string(nil), c.activeTasks...),
			LastHeartbeat: now.Sub(c.lastHeartbeat),
			ConnectedFor:  now.Sub(c.connectedAt),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HostID < out[j].HostID })
	return out
}

// EvictStale removes every host whose heartbeat is older than timeout and
// returns the evicted host ids (spec §4.B, §5: 30s sweep / 90s threshold).
func (r *Registry) EvictStale(timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var evicted []string
	for hostID, c := range r.connections {
		if now.Sub(c.lastHeartbeat) > timeout {
			evicted = append(evicted, hostID)
			delete(r.connections, hostID)
		}
	}
	if r.log != nil {
		for _, hostID := range evicted {
			r.log.WithHostID(hostID).Warn("host heartbeat timeout, evicted")
		}
	}
	return evicted
}

// Count returns the number of currently connected hosts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

func removeString(items []string, target string) []string {
	out := items[:0]
	for _, item := range items {
		if item != target {
			out = append(out, item)
		}
	}
	return out
}
