// Package audit implements the Audit Store (spec §4.I): an append-only,
// paginated record of lifecycle and dispatch actions across the system,
// written once and never mutated or reordered.
package audit

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one recorded action.
type Event struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	OrgID       string          `json:"orgId"`
	Actor       string          `json:"actor"`
	Action      string          `json:"action"`
	TaskID      string          `json:"taskId,omitempty"`
	ExecutionID string          `json:"executionId,omitempty"`
	HostID      string          `json:"hostId,omitempty"`
	Status      string          `json:"status,omitempty"`
	Detail      json.RawMessage `json:"detail,omitempty"`
}

// NewEvent constructs an event stamped with the current time and a fresh id.
func NewEvent(orgID, actor, action string) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		OrgID:     orgID,
		Actor:     actor,
		Action:    action,
	}
}

// ListQuery filters and paginates ListPaginated.
type ListQuery struct {
	Offset      int
	Limit       int
	OrgID       string
	Action      string
	TaskID      string
	ExecutionID string
	HostID      string
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

func (q ListQuery) normalized() ListQuery {
	n := q
	if n.Limit <= 0 {
		n.Limit = defaultLimit
	}
	if n.Limit > maxLimit {
		n.Limit = maxLimit
	}
	if n.Offset < 0 {
		n.Offset = 0
	}
	return n
}

func (q ListQuery) matches(e Event) bool {
	if q.OrgID != "" && e.OrgID != q.OrgID {
		return false
	}
	if q.Action != "" && !strings.Contains(strings.ToLower(e.Action), strings.ToLower(q.Action)) {
		return false
	}
	if q.TaskID != "" && e.TaskID != q.TaskID {
		return false
	}
	if q.ExecutionID != "" && e.ExecutionID != q.ExecutionID {
		return false
	}
	if q.HostID != "" && e.HostID != q.HostID {
		return false
	}
	return true
}
