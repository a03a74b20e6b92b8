// Package tokenauth implements the Token Authority (spec §4.A): host
// enrollment, connection-token issuance, rotation, and verification.
package tokenauth

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kandev/orchestrator/internal/common/apperr"
	"github.com/kandev/orchestrator/internal/common/atomicfile"
	"github.com/kandev/orchestrator/internal/common/logger"
)

// EnrollmentStatus is whether a host enrollment accepts connections.
type EnrollmentStatus string

const (
	StatusActive   EnrollmentStatus = "active"
	StatusDisabled EnrollmentStatus = "disabled"
)

var hostIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Claims are the HS256-signed claims carried by a connection token.
type Claims struct {
	OrgID        string `json:"org_id"`
	HostID       string `json:"host_id"`
	TokenVersion uint64 `json:"token_version"`
	jwt.RegisteredClaims
}

// Summary is the public view of a host enrollment.
type Summary struct {
	OrgID        string           `json:"orgId"`
	HostID       string           `json:"hostId"`
	Name         string           `json:"name,omitempty"`
	Status       EnrollmentStatus `json:"status"`
	TokenVersion uint64           `json:"tokenVersion"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	DisabledAt   *time.Time       `json:"disabledAt,omitempty"`
}

// IssuedToken is returned from Enroll and Rotate.
type IssuedToken struct {
	OrgID        string           `json:"orgId"`
	HostID       string           `json:"hostId"`
	Token        string           `json:"token"`
	TokenType    string           `json:"tokenType"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	TokenVersion uint64           `json:"tokenVersion"`
	Status       EnrollmentStatus `json:"status"`
}

type record struct {
	OrgID        string           `json:"orgId"`
	HostID       string           `json:"hostId"`
	Name         string           `json:"name,omitempty"`
	Status       EnrollmentStatus `json:"status"`
	TokenVersion uint64           `json:"tokenVersion"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	DisabledAt   *time.Time       `json:"disabledAt,omitempty"`
}

// state is the on-disk shape of hosts/state.json. Host lifecycle audit
// events are not duplicated here: they are handed to the Audit Store (spec
// §4.A expansion) instead of kept in a private vector.
type state struct {
	Hosts []record `json:"hosts"`
}

// AuditSink receives enrollment lifecycle events for the shared Audit Store
// (spec §4.I). Authority calls it once for every enroll, rotate and disable,
// before the state file is written, so an action whose write then fails has
// still been reported.
type AuditSink interface {
	RecordHostAudit(orgID, hostID, action string, at time.Time)
}

// Authority is the Token Authority. One instance per process; it owns the
// durable hosts/state.json file named in spec §6.
type Authority struct {
	mu       sync.RWMutex
	byKey    map[string]*record
	filePath string
	secret   []byte
	ttl      time.Duration
	log      *logger.Logger
	sink     AuditSink
}

// New loads (or creates) the host state file under dataDir and returns a
// ready Authority. secret signs and verifies connection tokens; ttl is the
// lifetime of a freshly issued token (spec §4.A, §6 hostTokenTtlSeconds).
func New(dataDir string, secret []byte, ttl time.Duration, log *logger.Logger) (*Authority, error) {
	a := &Authority{
		byKey:    make(map[string]*record),
		filePath: filepath.Join(dataDir, "hosts", "state.json"),
		secret:   secret,
		ttl:      ttl,
		log:      log,
	}

	var st state
	ok, err := atomicfile.ReadJSON(a.filePath, &st)
	if err != nil {
		return nil, apperr.Storage("failed to load host state", err)
	}
	if ok {
		for i := range st.Hosts {
			r := st.Hosts[i]
			a.byKey[hostKey(r.OrgID, r.HostID)] = &r
		}
	}
	return a, nil
}

// SetAuditSink wires the Audit Store so enrollment lifecycle actions are
// recorded there; this package keeps no audit record of its own.
func (a *Authority) SetAuditSink(sink AuditSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
}

// Enroll creates or reactivates a host enrollment and issues its first
// connection token. Re-enrolling an existing host bumps its token version,
// invalidating any token issued before this call.
func (a *Authority) Enroll(orgID, hostID, name string) (*IssuedToken, error) {
	orgID, err := normalizeOrgID(orgID)
	if err != nil {
		return nil, err
	}
	hostID, err = normalizeHostID(hostID)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range a.byKey {
		if r.HostID == hostID && r.OrgID != orgID {
			return nil, apperr.Conflict(fmt.Sprintf("host id '%s' is already enrolled by another organization", hostID))
		}
	}

	now := time.Now().UTC()
	key := hostKey(orgID, hostID)
	r, exists := a.byKey[key]
	if exists {
		r.Status = StatusActive
		r.UpdatedAt = now
		r.DisabledAt = nil
		r.TokenVersion++
		if name != "" {
			r.Name = name
		}
	} else {
		r = &record{
			OrgID:        orgID,
			HostID:       hostID,
			Name:         name,
			Status:       StatusActive,
			TokenVersion: 1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		a.byKey[key] = r
	}

	a.recordAudit(r, "host.enrolled", now)
	issued, err := a.issueToken(r)
	if err != nil {
		return nil, err
	}
	if err := a.persist(); err != nil {
		return nil, err
	}
	if a.log != nil {
		a.log.WithHostID(hostID).Info("host enrolled")
	}
	return issued, nil
}

// Rotate issues a fresh token for an already-enrolled, active host, bumping
// its token version so the previous token is rejected from this call on.
func (a *Authority) Rotate(orgID, hostID string) (*IssuedToken, error) {
	orgID, err := normalizeOrgID(orgID)
	if err != nil {
		return nil, err
	}
	hostID, err = normalizeHostID(hostID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.byKey[hostKey(orgID, hostID)]
	if !ok {
		return nil, apperr.NotFound("host enrollment", hostID)
	}
	if r.Status != StatusActive {
		return nil, apperr.Forbidden(fmt.Sprintf("host '%s' is disabled", r.HostID))
	}

	r.TokenVersion++
	r.UpdatedAt = time.Now().UTC()

	a.recordAudit(r, "host.token_rotated", r.UpdatedAt)
	issued, err := a.issueToken(r)
	if err != nil {
		return nil, err
	}
	if err := a.persist(); err != nil {
		return nil, err
	}
	if a.log != nil {
		a.log.WithHostID(hostID).Info("host token rotated")
	}
	return issued, nil
}

// Disable marks a host enrollment disabled. Already-issued tokens for it
// are rejected on their next Verify call.
func (a *Authority) Disable(orgID, hostID string) (*Summary, error) {
	orgID, err := normalizeOrgID(orgID)
	if err != nil {
		return nil, err
	}
	hostID, err = normalizeHostID(hostID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.byKey[hostKey(orgID, hostID)]
	if !ok {
		return nil, apperr.NotFound("host enrollment", hostID)
	}

	now := time.Now().UTC()
	r.Status = StatusDisabled
	r.DisabledAt = &now
	r.UpdatedAt = now

	a.recordAudit(r, "host.disabled", now)
	if err := a.persist(); err != nil {
		return nil, err
	}
	if a.log != nil {
		a.log.WithHostID(hostID).Info("host disabled")
	}
	summary := toSummary(r)
	return &summary, nil
}

// List returns every host enrollment for an organization, sorted by host id.
func (a *Authority) List(orgID string) ([]Summary, error) {
	orgID, err := normalizeOrgID(orgID)
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []Summary
	for _, r := range a.byKey {
		if r.OrgID == orgID {
			out = append(out, toSummary(r))
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].HostID > out[j].HostID; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

// Verify decodes a connection token and checks it against live enrollment
// state: the host must exist, be active, and the token's embedded version
// must match the enrollment's current version (spec §4.A).
func (a *Authority) Verify(token, expectedHostID string) (*Summary, error) {
	claims, err := a.Decode(token)
	if err != nil {
		return nil, err
	}
	expectedHostID, err = normalizeHostID(expectedHostID)
	if err != nil {
		return nil, err
	}
	if claims.HostID != expectedHostID {
		return nil, apperr.Forbidden("host_id claim does not match requested host")
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	r, ok := a.byKey[hostKey(claims.OrgID, claims.HostID)]
	if !ok {
		return nil, apperr.Unauthorized("host enrollment not found")
	}
	if r.Status != StatusActive {
		return nil, apperr.Forbidden("host is disabled")
	}
	if r.TokenVersion != claims.TokenVersion {
		return nil, apperr.Unauthorized("token version is stale; rotate or re-enroll required")
	}

	summary := toSummary(r)
	return &summary, nil
}

// Decode parses and signature-checks a connection token without consulting
// live enrollment state. Verify should be used wherever an enrollment's
// current status matters; Decode alone is for inspecting an otherwise
// already-verified token.
func (a *Authority) Decode(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, apperr.Unauthorized(fmt.Sprintf("invalid host token: %v", err))
	}
	return claims, nil
}

func (a *Authority) issueToken(r *record) (*IssuedToken, error) {
	now := time.Now()
	expiresAt := now.Add(a.ttl)

	claims := Claims{
		OrgID:        r.OrgID,
		HostID:       r.HostID,
		TokenVersion: r.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "host:" + r.HostID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return nil, apperr.Storage("failed to sign host token", err)
	}

	return &IssuedToken{
		OrgID:        r.OrgID,
		HostID:       r.HostID,
		Token:        signed,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
		TokenVersion: r.TokenVersion,
		Status:       r.Status,
	}, nil
}

// recordAudit forwards a host lifecycle event to the Audit Store sink, if
// one is wired (SPEC_FULL.md §4.A expansion); nothing is kept locally.
func (a *Authority) recordAudit(r *record, action string, at time.Time) {
	if a.sink != nil {
		a.sink.RecordHostAudit(r.OrgID, r.HostID, action, at)
	}
}

func (a *Authority) persist() error {
	st := state{Hosts: make([]record, 0, len(a.byKey))}
	for _, r := range a.byKey {
		st.Hosts = append(st.Hosts, *r)
	}
	if err := atomicfile.WriteJSON(a.filePath, st); err != nil {
		return apperr.Storage("failed to write host state", err)
	}
	return nil
}

func toSummary(r *record) Summary {
	return Summary{
		OrgID:        r.OrgID,
		HostID:       r.HostID,
		Name:         r.Name,
		Status:       r.Status,
		TokenVersion: r.TokenVersion,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		DisabledAt:   r.DisabledAt,
	}
}

func hostKey(orgID, hostID string) string {
	return orgID + ":" + hostID
}

func normalizeOrgID(value string) (string, error) {
	normalized := strings.TrimSpace(value)
	if normalized == "" {
		return "", apperr.InvalidInput("org_id cannot be empty")
	}
	if len(normalized) > 128 {
		return "", apperr.InvalidInput("org_id is too long")
	}
	return normalized, nil
}

func normalizeHostID(value string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "", apperr.InvalidInput("host_id cannot be empty")
	}
	if !hostIDPattern.MatchString(normalized) {
		return "", apperr.InvalidInput("host_id supports only [a-zA-Z0-9-_]")
	}
	return normalized, nil
}
