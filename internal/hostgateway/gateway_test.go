package hostgateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/dispatcher"
	"github.com/kandev/orchestrator/internal/hostregistry"
	"github.com/kandev/orchestrator/internal/tokenauth"
	"github.com/kandev/orchestrator/pkg/hostproto"
)

type gatewayFixture struct {
	gateway    *Gateway
	registry   *hostregistry.Registry
	dispatcher *dispatcher.Dispatcher
	authority  *tokenauth.Authority
	server     *httptest.Server
}

func setupGateway(t *testing.T) *gatewayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	authority, err := tokenauth.New(t.TempDir(), []byte("test-secret"), time.Hour, log)
	require.NoError(t, err)

	registry := hostregistry.New(log)
	d := dispatcher.New(registry, log)
	gw := New(registry, d, authority, log, 90*time.Second, 30*time.Second)

	router := gin.New()
	group := router.Group("/api/v1")
	gw.RegisterRoutes(group)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &gatewayFixture{gateway: gw, registry: registry, dispatcher: d, authority: authority, server: server}
}

func (f *gatewayFixture) wsURL(hostID, token string) string {
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/gateway/ws"
	return u + "?hostId=" + hostID + "&token=" + token
}

func (f *gatewayFixture) dial(t *testing.T, hostID string) (*websocket.Conn, string) {
	t.Helper()
	issued, err := f.authority.Enroll("org-1", hostID, "test host")
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL(hostID, issued.Token), nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	return conn, issued.Token
}

func TestHandleConnectionRejectsMissingCredentials(t *testing.T) {
	f := setupGateway(t)
	resp, err := http.Get(f.server.URL + "/api/v1/gateway/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleConnectionRejectsUnknownHostToken(t *testing.T) {
	f := setupGateway(t)
	url := f.wsURL("nonexistent-host", "bogus-token")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		defer resp.Body.Close()
		assert.NotEqual(t, http.StatusSwitchingProtocols, resp.StatusCode)
	}
}

func TestRegisterMessageRegistersHostInRegistry(t *testing.T) {
	f := setupGateway(t)
	conn, _ := f.dial(t, "host-1")
	defer conn.Close()

	register := hostproto.RegisterMessage{
		Type:   hostproto.TypeRegister,
		HostID: "host-1",
		Capabilities: hostproto.HostCapabilities{
			Name:          "Test Host",
			Agents:        []string{"opencode"},
			MaxConcurrent: 2,
			Cwd:           "/work",
		},
	}
	require.NoError(t, conn.WriteJSON(register))

	var ack hostproto.RegisteredMessage
	require.NoError(t, conn.ReadJSON(&ack))
	assert.True(t, ack.OK)

	require.Eventually(t, func() bool {
		_, ok := f.registry.Get("host-1")
		return ok
	}, time.Second, 10*time.Millisecond)

	c, _ := f.registry.Get("host-1")
	assert.Equal(t, "Test Host", c.Capabilities.Name)
	assert.ElementsMatch(t, []string{"opencode"}, c.Capabilities.Agents)
}

func TestHeartbeatMessageRefreshesLiveness(t *testing.T) {
	f := setupGateway(t)
	conn, _ := f.dial(t, "host-2")
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(hostproto.RegisterMessage{
		Type: hostproto.TypeRegister, HostID: "host-2",
		Capabilities: hostproto.HostCapabilities{Name: "h2", Agents: []string{"opencode"}, MaxConcurrent: 1},
	}))
	var ack hostproto.RegisteredMessage
	require.NoError(t, conn.ReadJSON(&ack))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.WriteJSON(hostproto.HeartbeatMessage{Type: hostproto.TypeHeartbeat, Timestamp: 123}))

	require.Eventually(t, func() bool {
		for _, status := range f.registry.List() {
			if status.HostID == "host-2" {
				return status.LastHeartbeat < 30*time.Millisecond
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestTaskCompletedMessageFreesHostCapacity(t *testing.T) {
	f := setupGateway(t)
	conn, _ := f.dial(t, "host-3")
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(hostproto.RegisterMessage{
		Type: hostproto.TypeRegister, HostID: "host-3",
		Capabilities: hostproto.HostCapabilities{Name: "h3", Agents: []string{"opencode"}, MaxConcurrent: 1},
	}))
	var ack hostproto.RegisteredMessage
	require.NoError(t, conn.ReadJSON(&ack))

	f.registry.MarkTaskActive("host-3", "task-1")

	require.NoError(t, conn.WriteJSON(hostproto.TaskCompletedMessage{
		Type: hostproto.TypeTaskCompleted, TaskID: "task-1",
		Result: hostproto.TaskResult{Success: true},
	}))

	require.Eventually(t, func() bool {
		_, ok := f.registry.FindHostForTask("task-1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestListHostsHandlerReturnsConnectedHosts(t *testing.T) {
	f := setupGateway(t)
	outbox := make(chan hostregistry.Outbound, 1)
	f.registry.Register("host-4", hostregistry.Capabilities{Name: "h4", Agents: []string{"claude"}, MaxConcurrent: 1}, outbox, nil)

	resp, err := http.Get(f.server.URL + "/api/v1/hosts")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var hosts []hostregistry.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hosts))
	require.Len(t, hosts, 1)
	assert.Equal(t, "host-4", hosts[0].HostID)
}

func TestGetHostModelsHandlerReturnsProvidersFromDispatcher(t *testing.T) {
	f := setupGateway(t)
	outbox := make(chan hostregistry.Outbound, 1)
	f.registry.Register("host-5", hostregistry.Capabilities{Name: "h5", Agents: []string{"claude"}, MaxConcurrent: 1}, outbox, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		msg := <-outbox
		req, ok := msg.(dispatcher.ModelsRequestMessage)
		if !ok {
			return
		}
		f.dispatcher.HandleModelsResponse(req.RequestID, []dispatcher.ProviderInfo{
			{ID: "anthropic", Name: "Anthropic", Models: []string{"claude-3"}},
		})
	}()

	resp, err := http.Get(f.server.URL + "/api/v1/hosts/host-5/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	<-done
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var providers []dispatcher.ProviderInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&providers))
	require.Len(t, providers, 1)
	assert.Equal(t, "anthropic", providers[0].ID)
}
