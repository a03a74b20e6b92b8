package hostregistry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/orchestrator/internal/common/logger"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return New(log)
}

func testCapabilities() Capabilities {
	return Capabilities{
		Name:          "Test Host",
		Agents:        []string{"opencode"},
		MaxConcurrent: 2,
		Cwd:           "/home/user",
	}
}

func TestRegisterAndList(t *testing.T) {
	r := setupRegistry(t)
	outbox := make(chan Outbound, 10)

	r.Register("host-1", testCapabilities(), outbox, nil)

	hosts := r.List()
	require.Len(t, hosts, 1)
	assert.Equal(t, "host-1", hosts[0].HostID)
	assert.Equal(t, "Test Host", hosts[0].Name)
	assert.Equal(t, StatusOnline, hosts[0].Status)
}

func TestUnregisterRemovesHost(t *testing.T) {
	r := setupRegistry(t)
	outbox := make(chan Outbound, 10)

	r.Register("host-1", testCapabilities(), outbox, nil)
	assert.Equal(t, 1, r.Count())

	r.Unregister("host-1")
	assert.Equal(t, 0, r.Count())
}

func TestRegisterReplacesExistingConnection(t *testing.T) {
	r := setupRegistry(t)
	outbox1 := make(chan Outbound, 10)
	outbox2 := make(chan Outbound, 10)

	r.Register("host-1", testCapabilities(), outbox1, nil)

	caps2 := testCapabilities()
	caps2.Name = "Updated Host"
	r.Register("host-1", caps2, outbox2, nil)

	hosts := r.List()
	require.Len(t, hosts, 1)
	assert.Equal(t, "Updated Host", hosts[0].Name)
}

type fakeCloser struct{ closed bool }

func (f *fakeCloser) Close() { f.closed = true }

func TestRegisterReturnsPreviousCloserSoCallerCanTearItDown(t *testing.T) {
	r := setupRegistry(t)
	outbox1 := make(chan Outbound, 10)
	outbox2 := make(chan Outbound, 10)
	first := &fakeCloser{}

	assert.Nil(t, r.Register("host-1", testCapabilities(), outbox1, first))

	previous := r.Register("host-1", testCapabilities(), outbox2, &fakeCloser{})
	require.NotNil(t, previous)
	previous.Close()
	assert.True(t, first.closed)
}

func TestFindAvailableRespectsAgentTypeAndCapacity(t *testing.T) {
	r := setupRegistry(t)
	outbox := make(chan Outbound, 10)
	r.Register("host-1", testCapabilities(), outbox, nil)

	t.Run("matches supported agent type", func(t *testing.T) {
		c, err := r.FindAvailable("opencode")
		require.NoError(t, err)
		assert.Equal(t, "host-1", c.HostID)
	})

	t.Run("rejects unsupported agent type", func(t *testing.T) {
		_, err := r.FindAvailable("claude-code")
		require.Error(t, err)
	})

	t.Run("rejects host at capacity", func(t *testing.T) {
		r.MarkTaskActive("host-1", "task-1")
		r.MarkTaskActive("host-1", "task-2")

		_, err := r.FindAvailable("opencode")
		require.Error(t, err)
	})
}

func TestMarkTaskActiveAndInactiveTrackActiveTasks(t *testing.T) {
	r := setupRegistry(t)
	outbox := make(chan Outbound, 10)
	r.Register("host-1", testCapabilities(), outbox, nil)

	r.MarkTaskActive("host-1", "task-1")
	hosts := r.List()
	require.Len(t, hosts, 1)
	assert.Equal(t, []string{"task-1"}, hosts[0].ActiveTasks)
	assert.Equal(t, StatusBusy, hosts[0].Status)

	r.MarkTaskInactive("host-1", "task-1")
	hosts = r.List()
	assert.Empty(t, hosts[0].ActiveTasks)
	assert.Equal(t, StatusOnline, hosts[0].Status)
}

func TestMarkTaskInactiveFiltersByTaskIDNotHostID(t *testing.T) {
	r := setupRegistry(t)
	outbox := make(chan Outbound, 10)
	r.Register("host-1", testCapabilities(), outbox, nil)

	r.MarkTaskActive("host-1", "task-1")
	r.MarkTaskActive("host-1", "task-2")

	r.MarkTaskInactive("host-1", "task-1")

	c, ok := r.Get("host-1")
	require.True(t, ok)
	assert.Equal(t, []string{"task-2"}, c.activeTasks)
}

func TestFindHostForTask(t *testing.T) {
	r := setupRegistry(t)
	outbox := make(chan Outbound, 10)
	r.Register("host-1", testCapabilities(), outbox, nil)
	r.MarkTaskActive("host-1", "task-1")

	hostID, ok := r.FindHostForTask("task-1")
	require.True(t, ok)
	assert.Equal(t, "host-1", hostID)

	_, ok = r.FindHostForTask("task-missing")
	assert.False(t, ok)
}

func TestHeartbeatUpdatesLivenessWindow(t *testing.T) {
	r := setupRegistry(t)
	outbox := make(chan Outbound, 10)
	r.Register("host-1", testCapabilities(), outbox, nil)

	time.Sleep(5 * time.Millisecond)
	before := r.List()[0].LastHeartbeat

	r.Heartbeat("host-1")
	after := r.List()[0].LastHeartbeat

	assert.Less(t, after, before)
}

func TestEvictStaleRemovesExpiredHosts(t *testing.T) {
	r := setupRegistry(t)
	outbox := make(chan Outbound, 10)
	r.Register("host-1", testCapabilities(), outbox, nil)

	time.Sleep(5 * time.Millisecond)
	evicted := r.EvictStale(time.Millisecond)

	assert.Equal(t, []string{"host-1"}, evicted)
	assert.Equal(t, 0, r.Count())
}

func TestEvictStaleKeepsFreshHosts(t *testing.T) {
	r := setupRegistry(t)
	outbox := make(chan Outbound, 10)
	r.Register("host-1", testCapabilities(), outbox, nil)

	evicted := r.EvictStale(time.Hour)
	assert.Empty(t, evicted)
	assert.Equal(t, 1, r.Count())
}
