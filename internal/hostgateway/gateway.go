package hostgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/apperr"
	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/dispatcher"
	"github.com/kandev/orchestrator/internal/hostregistry"
	"github.com/kandev/orchestrator/internal/tokenauth"
	"github.com/kandev/orchestrator/pkg/hostproto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Hosts are not browsers; origin checking buys nothing here and the
		// token query param already gates the connection.
		return true
	},
}

// Gateway accepts host WebSocket connections, authenticates them against
// the Token Authority (spec §4.A), registers them with the Host Registry
// (spec §4.B), and translates wire frames to and from the Dispatcher
// (spec §4.E).
type Gateway struct {
	registry   *hostregistry.Registry
	dispatcher *dispatcher.Dispatcher
	authority  *tokenauth.Authority
	log        *logger.Logger

	staleTimeout  time.Duration
	sweepInterval time.Duration
}

// New returns a Gateway wired to registry, dispatcher, and authority.
// staleTimeout/sweepInterval configure the background eviction sweep
// (spec §4.B, §6 staleTimeoutSeconds/heartbeatIntervalSeconds).
func New(registry *hostregistry.Registry, d *dispatcher.Dispatcher, authority *tokenauth.Authority, log *logger.Logger, staleTimeout, sweepInterval time.Duration) *Gateway {
	return &Gateway{
		registry:      registry,
		dispatcher:    d,
		authority:     authority,
		log:           log,
		staleTimeout:  staleTimeout,
		sweepInterval: sweepInterval,
	}
}

// RegisterRoutes mounts the gateway's WebSocket upgrade endpoint and its
// host-listing REST helpers onto router.
func (g *Gateway) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/gateway/ws", g.HandleConnection)
	router.GET("/hosts", g.ListHostsHandler)
	router.GET("/hosts/:hostId/models", g.GetHostModelsHandler)
}

// HandleConnection upgrades a host's HTTP request to a WebSocket, verifies
// its connection token, and runs the connection's read/write pumps until
// it disconnects.
func (g *Gateway) HandleConnection(c *gin.Context) {
	hostID := c.Query("hostId")
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader("Authorization")
	}
	if hostID == "" || token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hostId and token are required"})
		return
	}

	if _, err := g.authority.Verify(token, hostID); err != nil {
		g.log.WithHostID(hostID).Warn("rejected host connection", zap.Error(err))
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.WithHostID(hostID).Error("failed to upgrade host websocket", zap.Error(err))
		return
	}

	hc := newConnection(hostID, conn, g.log)
	go hc.writePump()
	hc.readPump(func(raw []byte) { g.handleMessage(hc, raw) })

	g.registry.Unregister(hostID)
	hc.Close()
	g.log.WithHostID(hostID).Info("host disconnected")
}

// handleMessage decodes one inbound frame and routes it by its type
// discriminant, mirroring the original gateway's match over
// GatewayToServerMessage.
func (g *Gateway) handleMessage(hc *connection, raw []byte) {
	var env hostproto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		hc.log.Warn("failed to parse host message envelope", zap.Error(err))
		return
	}

	switch env.Type {
	case hostproto.TypeRegister:
		var msg hostproto.RegisterMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			hc.log.Warn("failed to parse register message", zap.Error(err))
			return
		}
		if msg.HostID != hc.hostID {
			hc.log.Warn("host id mismatch between connection and register message",
				zap.String("registered_as", msg.HostID))
		}
		if previous := g.registry.Register(hc.hostID, hostregistry.Capabilities{
			Name:          msg.Capabilities.Name,
			Agents:        msg.Capabilities.Agents,
			MaxConcurrent: msg.Capabilities.MaxConcurrent,
			Cwd:           msg.Capabilities.Cwd,
			Labels:        msg.Capabilities.Labels,
		}, hc.outbox, hc); previous != nil {
			previous.Close()
		}
		hc.outbox <- hostproto.RegisteredMessage{Type: hostproto.TypeRegistered, OK: true}

	case hostproto.TypeHeartbeat:
		g.registry.Heartbeat(hc.hostID)

	case hostproto.TypeTaskStarted:
		var msg hostproto.TaskStartedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			hc.log.Warn("failed to parse task started message", zap.Error(err))
			return
		}
		hc.log.Info("host started task", zap.String("task_id", msg.TaskID), zap.String("session_id", msg.SessionID))

	case hostproto.TypeTaskEvent:
		var msg hostproto.TaskEventMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			hc.log.Warn("failed to parse task event message", zap.Error(err))
			return
		}
		g.dispatcher.HandleTaskEvent(hc.hostID, msg.TaskID, dispatcher.HostAgentEvent{
			Type:        msg.Event.Type,
			Content:     msg.Event.Content,
			Data:        msg.Event.Data,
			TimestampMS: msg.Event.Timestamp,
		})

	case hostproto.TypeTaskCompleted:
		var msg hostproto.TaskCompletedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			hc.log.Warn("failed to parse task completed message", zap.Error(err))
			return
		}
		g.dispatcher.HandleTaskCompleted(hc.hostID, msg.TaskID, dispatcher.TaskResult{
			Success:      msg.Result.Success,
			ExitCode:     msg.Result.ExitCode,
			Output:       msg.Result.Output,
			DurationMS:   msg.Result.DurationMS,
			FilesChanged: msg.Result.FilesChanged,
		})

	case hostproto.TypeTaskFailed:
		var msg hostproto.TaskFailedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			hc.log.Warn("failed to parse task failed message", zap.Error(err))
			return
		}
		g.dispatcher.HandleTaskFailed(hc.hostID, msg.TaskID, msg.Error)

	case hostproto.TypeModelsResponse:
		var msg hostproto.ModelsResponseMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			hc.log.Warn("failed to parse models response message", zap.Error(err))
			return
		}
		providers := make([]dispatcher.ProviderInfo, 0, len(msg.Providers))
		for _, p := range msg.Providers {
			models := make([]string, 0, len(p.Models))
			for _, m := range p.Models {
				models = append(models, m.ID)
			}
			providers = append(providers, dispatcher.ProviderInfo{ID: p.ID, Name: p.Name, Models: models})
		}
		g.dispatcher.HandleModelsResponse(msg.RequestID, providers)

	default:
		hc.log.Warn("unknown host message type", zap.String("type", env.Type))
	}
}

// ListHostsHandler lists every connected host (REST GET /hosts).
func (g *Gateway) ListHostsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, g.registry.List())
}

// GetHostModelsHandler asks a specific host for its available model
// providers (REST GET /hosts/:hostId/models).
func (g *Gateway) GetHostModelsHandler(c *gin.Context) {
	hostID := c.Param("hostId")
	providers, err := g.dispatcher.RequestModels(hostID)
	if err != nil {
		c.JSON(apperr.StatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, providers)
}

// RunStaleSweep periodically evicts hosts whose heartbeat has gone silent
// past staleTimeout, until ctx is cancelled (spec §4.B, §5: 30s sweep / 90s
// threshold by default, both configurable via HostsConfig).
func (g *Gateway) RunStaleSweep(ctx context.Context) {
	ticker := time.NewTicker(g.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.registry.EvictStale(g.staleTimeout)
		}
	}
}
