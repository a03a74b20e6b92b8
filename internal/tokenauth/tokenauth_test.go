package tokenauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/orchestrator/internal/common/logger"
)

func setupAuthority(t *testing.T) *Authority {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	a, err := New(t.TempDir(), []byte("test-secret"), time.Hour, log)
	require.NoError(t, err)
	return a
}

type recordingSink struct {
	actions []string
}

func (s *recordingSink) RecordHostAudit(orgID, hostID, action string, at time.Time) {
	s.actions = append(s.actions, action)
}

func TestEnrollRotateDisableTokenFlow(t *testing.T) {
	a := setupAuthority(t)

	enrolled, err := a.Enroll("org-a", "host-alpha", "Alpha")
	require.NoError(t, err)

	claims, err := a.Decode(enrolled.Token)
	require.NoError(t, err)
	assert.Equal(t, "org-a", claims.OrgID)
	assert.Equal(t, "host-alpha", claims.HostID)
	assert.EqualValues(t, 1, claims.TokenVersion)

	t.Run("freshly issued token verifies", func(t *testing.T) {
		verified, err := a.Verify(enrolled.Token, "host-alpha")
		require.NoError(t, err)
		assert.Equal(t, StatusActive, verified.Status)
	})

	rotated, err := a.Rotate("org-a", "host-alpha")
	require.NoError(t, err)
	assert.EqualValues(t, 2, rotated.TokenVersion)

	t.Run("prior token rejected after rotation", func(t *testing.T) {
		_, err := a.Verify(enrolled.Token, "host-alpha")
		require.Error(t, err)
	})

	disabled, err := a.Disable("org-a", "host-alpha")
	require.NoError(t, err)
	assert.Equal(t, StatusDisabled, disabled.Status)

	t.Run("rotated token rejected after disable", func(t *testing.T) {
		_, err := a.Verify(rotated.Token, "host-alpha")
		require.Error(t, err)
	})
}

func TestEnrollRejectsHostIDReusedByAnotherOrg(t *testing.T) {
	a := setupAuthority(t)

	_, err := a.Enroll("org-a", "host-alpha", "Alpha")
	require.NoError(t, err)

	_, err = a.Enroll("org-b", "host-alpha", "Other")
	require.Error(t, err)
}

func TestVerifyRejectsHostIDMismatch(t *testing.T) {
	a := setupAuthority(t)

	issued, err := a.Enroll("org-a", "host-alpha", "")
	require.NoError(t, err)

	_, err = a.Verify(issued.Token, "host-beta")
	require.Error(t, err)
}

func TestListReturnsSortedSummariesForOrg(t *testing.T) {
	a := setupAuthority(t)

	_, err := a.Enroll("org-a", "host-zeta", "")
	require.NoError(t, err)
	_, err = a.Enroll("org-a", "host-alpha", "")
	require.NoError(t, err)
	_, err = a.Enroll("org-b", "host-beta", "")
	require.NoError(t, err)

	hosts, err := a.List("org-a")
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "host-alpha", hosts[0].HostID)
	assert.Equal(t, "host-zeta", hosts[1].HostID)
}

func TestEnrollmentSurvivesReload(t *testing.T) {
	dataDir := t.TempDir()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	a, err := New(dataDir, []byte("test-secret"), time.Hour, log)
	require.NoError(t, err)
	_, err = a.Enroll("org-a", "host-alpha", "Alpha")
	require.NoError(t, err)

	reloaded, err := New(dataDir, []byte("test-secret"), time.Hour, log)
	require.NoError(t, err)

	hosts, err := reloaded.List("org-a")
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "host-alpha", hosts[0].HostID)
}

func TestEnrollForwardsAuditEventsToSink(t *testing.T) {
	a := setupAuthority(t)
	sink := &recordingSink{}
	a.SetAuditSink(sink)

	_, err := a.Enroll("org-a", "host-alpha", "")
	require.NoError(t, err)
	_, err = a.Rotate("org-a", "host-alpha")
	require.NoError(t, err)
	_, err = a.Disable("org-a", "host-alpha")
	require.NoError(t, err)

	assert.Equal(t, []string{"host.enrolled", "host.token_rotated", "host.disabled"}, sink.actions)
}

func TestRotateOfUnknownHostReturnsNotFound(t *testing.T) {
	a := setupAuthority(t)
	_, err := a.Rotate("org-a", "host-ghost")
	require.Error(t, err)
}

func TestRotateOfDisabledHostReturnsForbidden(t *testing.T) {
	a := setupAuthority(t)
	_, err := a.Enroll("org-a", "host-alpha", "")
	require.NoError(t, err)
	_, err = a.Disable("org-a", "host-alpha")
	require.NoError(t, err)

	_, err = a.Rotate("org-a", "host-alpha")
	require.Error(t, err)
}
