package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/dispatcher"
	"github.com/kandev/orchestrator/internal/events/bus"
	"github.com/kandev/orchestrator/internal/runlog"
)

// Sink adapts the event bus into the narrow interfaces the Dispatcher (E)
// and Execution (D) components publish through, so neither has to know
// whether NATS or the in-process bus is backing a deployment.
type Sink struct {
	bus bus.EventBus
	log *logger.Logger
}

// NewSink returns a Sink publishing onto b.
func NewSink(b bus.EventBus, log *logger.Logger) *Sink {
	return &Sink{bus: b, log: log}
}

// PublishHostEvent implements dispatcher.EventSink, publishing a host's raw
// agent event onto the task's subject. Errors are logged, not returned: a
// dropped event on a transient publish failure should not block the
// dispatcher's handling of the underlying host message.
func (s *Sink) PublishHostEvent(hostID, taskID string, event dispatcher.HostAgentEvent) {
	evt := NewEvent(HostAgentEvent, "dispatcher", map[string]interface{}{
		"hostId":    hostID,
		"taskId":    taskID,
		"eventType": event.Type,
		"content":   event.Content,
		"data":      event.Data,
		"timestamp": event.TimestampMS,
	})
	if err := s.bus.Publish(context.Background(), BuildHostAgentEventSubject(taskID), evt); err != nil {
		s.log.Warn("failed to publish host agent event",
			zap.String("taskID", taskID), zap.String("hostID", hostID), zap.Error(err))
	}
}

// PublishExecutionEvent implements runlog's execution-event forwarding
// target, publishing a run's execution event onto the task's subject.
func (s *Sink) PublishExecutionEvent(taskID string, event runlog.ExecutionEvent) {
	evt := NewEvent(ExecutionEvent, "execution", map[string]interface{}{
		"runId":     event.RunID,
		"taskId":    event.TaskID,
		"eventType": event.EventType,
		"event":     event,
	})
	if err := s.bus.Publish(context.Background(), BuildExecutionEventSubject(taskID), evt); err != nil {
		s.log.Warn("failed to publish execution event",
			zap.String("taskID", taskID), zap.String("runID", event.RunID), zap.Error(err))
	}
}

// ForwardExecutionEvents drains events from ch, publishing each until ch is
// closed. Intended to be run in its own goroutine, one per active session,
// fed by execution.Session.Events().
func (s *Sink) ForwardExecutionEvents(taskID string, ch <-chan runlog.ExecutionEvent) {
	for event := range ch {
		s.PublishExecutionEvent(taskID, event)
	}
}
