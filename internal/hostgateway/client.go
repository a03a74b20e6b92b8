// Package hostgateway implements the Host Gateway (spec §4.M): the
// WebSocket endpoint a host connects to, the wire framing of
// pkg/hostproto messages over that connection, and the background sweep
// that evicts hosts whose heartbeat has gone stale.
package hostgateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/hostregistry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	outboxSize     = 256
)

// connection wraps one host's live WebSocket. It is the Host Registry's
// Outbox consumer: messages the Dispatcher (spec §4.E) and this package's
// own ping loop hand it are drained onto the wire by writePump.
type connection struct {
	hostID string
	conn   *websocket.Conn
	outbox chan hostregistry.Outbound
	log    *logger.Logger

	closeOnce sync.Once
}

func newConnection(hostID string, conn *websocket.Conn, log *logger.Logger) *connection {
	return &connection{
		hostID: hostID,
		conn:   conn,
		outbox: make(chan hostregistry.Outbound, outboxSize),
		log:    log.WithFields(zap.String("host_id", hostID)),
	}
}

// Close tears down the connection's outbox and underlying websocket. It
// satisfies hostregistry.Closer so the registry can force a superseded
// connection closed; idempotent regardless of how many times or from which
// goroutine it's invoked.
func (c *connection) Close() {
	c.closeOnce.Do(func() {
		close(c.outbox)
		if err := c.conn.Close(); err != nil {
			c.log.Debug("failed to close host websocket connection", zap.Error(err))
		}
	})
}

// readPump decodes inbound frames and hands each one to onMessage until the
// connection breaks or is closed. It runs on the goroutine that called
// Gateway.HandleConnection and returns when the host disconnects.
func (c *connection) readPump(onMessage func(raw []byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.log.Warn("host websocket read error", zap.Error(err))
			}
			return
		}
		onMessage(message)
	}
}

// writePump drains outbox onto the wire and pings the host on a fixed
// cadence: each queued message is marshaled and written as its own text
// frame, and a ping frame goes out every pingPeriod as a keepalive.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			c.log.Debug("failed to close host websocket connection", zap.Error(err))
		}
	}()

	for {
		select {
		case msg, ok := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("failed to encode outbound host message", zap.Error(err))
				continue
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				_ = w.Close()
				return
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
