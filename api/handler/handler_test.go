package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/fastygo/hms-gateway/api/transport"
	"github.com/fastygo/hms-gateway/domain"
	"github.com/fastygo/hms-gateway/internal/infrastructure/monitor"
	"github.com/fastygo/hms-gateway/internal/middleware"
	"github.com/fastygo/hms-gateway/pkg/httpcontext"
	"github.com/fastygo/hms-gateway/repository"
)

type fixedStatus monitor.Status

func (s fixedStatus) GetStatus() monitor.Status { return monitor.Status(s) }

type memoryProfiles struct {
	items map[string]*domain.Profile
	err   error
}

func (m *memoryProfiles) GetByID(_ context.Context, id string) (*domain.Profile, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.items[id]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memoryProfiles) Upsert(_ context.Context, p *domain.Profile) error {
	if m.items == nil {
		m.items = map[string]*domain.Profile{}
	}
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

type memoryEvents struct {
	events []domain.AccessEvent
	filter repository.AuditFilter
}

func (m *memoryEvents) Append(_ context.Context, e *domain.AccessEvent) error {
	m.events = append(m.events, *e)
	return nil
}

func (m *memoryEvents) List(_ context.Context, f repository.AuditFilter) ([]domain.AccessEvent, error) {
	m.filter = f
	return m.events, nil
}

func decodeEnvelope(t *testing.T, ctx *fasthttp.RequestCtx) transport.Envelope {
	t.Helper()
	var env transport.Envelope
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &env))
	return env
}

func TestHealthCheck(t *testing.T) {
	adapter := httpcontext.NewAdapter(time.Second)

	h := NewHealthHandler(fixedStatus{PostgreSQL: monitor.CheckUp, Redis: monitor.CheckDisabled, Outbox: monitor.CheckUp, OutboxSize: 2}, "test", adapter, nil)
	ctx := &fasthttp.RequestCtx{}
	h.Check(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "success", decodeEnvelope(t, ctx).Status)
	assert.Contains(t, string(ctx.Response.Body()), `"size":2`)

	h = NewHealthHandler(fixedStatus{PostgreSQL: monitor.CheckDown, Redis: monitor.CheckDisabled, Outbox: monitor.CheckDisabled}, "test", adapter, nil)
	ctx = &fasthttp.RequestCtx{}
	h.Check(ctx)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	assert.Equal(t, "DEGRADED", decodeEnvelope(t, ctx).Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrUnauthorized, 401},
		{domain.NewError(domain.ErrCodeForbidden, "no"), 403},
		{domain.ErrInvalidPayload, 400},
		{domain.ErrProfileNotFound, 404},
		{domain.ErrAuthorityUnavailable, 503},
		{errors.New("boom"), 500},
	}
	for _, tc := range cases {
		status, _ := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}

type logoutRecorder struct{ called bool }

func (l *logoutRecorder) Logout(ctx *fasthttp.RequestCtx) {
	l.called = true
	ctx.SetStatusCode(fasthttp.StatusTemporaryRedirect)
}

func TestLogoutDelegates(t *testing.T) {
	rec := &logoutRecorder{}
	ctx := &fasthttp.RequestCtx{}
	NewLogoutHandler(rec).Logout(ctx)
	assert.True(t, rec.called)
	assert.Equal(t, fasthttp.StatusTemporaryRedirect, ctx.Response.StatusCode())
}

func adminFixture() (*AdminHandler, *memoryEvents, *memoryProfiles) {
	events := &memoryEvents{events: []domain.AccessEvent{{ID: "e1", Decision: domain.DecisionRedirectToLogin, Path: "/x"}}}
	profiles := &memoryProfiles{items: map[string]*domain.Profile{
		"admin-1": {ID: "admin-1", Role: RoleAdmin, Status: "active"},
		"nurse-1": {ID: "nurse-1", Role: "nurse", Status: "active"},
	}}
	return NewAdminHandler(events, profiles, httpcontext.NewAdapter(time.Second), nil), events, profiles
}

func adminRequest(method, uri, caller string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	if caller != "" {
		ctx.SetUserValue(middleware.UserValueProfileID, caller)
	}
	return ctx
}

func TestListAccessEventsRequiresAdmin(t *testing.T) {
	h, _, _ := adminFixture()

	ctx := adminRequest(fasthttp.MethodGet, "/gateway/audit", "")
	h.ListAccessEvents(ctx)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	for _, caller := range []string{"nurse-1", "ghost"} {
		ctx = adminRequest(fasthttp.MethodGet, "/gateway/audit", caller)
		h.ListAccessEvents(ctx)
		assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode(), caller)
	}
}

func TestListAccessEventsAppliesFilter(t *testing.T) {
	h, events, _ := adminFixture()

	ctx := adminRequest(fasthttp.MethodGet, "/gateway/audit?decision=redirect_login&profile_id=u-1&limit=5&offset=10&since=2026-01-02T03:04:05Z", "admin-1")
	h.ListAccessEvents(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, domain.DecisionRedirectToLogin, events.filter.Decision)
	assert.Equal(t, "u-1", events.filter.ProfileID)
	assert.Equal(t, 5, events.filter.Limit)
	assert.Equal(t, 10, events.filter.Offset)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), events.filter.Since.UTC())
	assert.Contains(t, string(ctx.Response.Body()), `"e1"`)
}

func TestListAccessEventsRejectsBadSince(t *testing.T) {
	h, _, _ := adminFixture()
	ctx := adminRequest(fasthttp.MethodGet, "/gateway/audit?since=yesterday", "admin-1")
	h.ListAccessEvents(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestSyncProfileCreatesAndUpdates(t *testing.T) {
	h, _, profiles := adminFixture()

	ctx := adminRequest(fasthttp.MethodPut, "/gateway/profiles/doc-1", "admin-1")
	ctx.SetUserValue("id", "doc-1")
	ctx.Request.SetBodyString(`{"email":"doc@hms.local","role":"doctor","password_changed":false}`)
	h.SyncProfile(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	created := profiles.items["doc-1"]
	require.NotNil(t, created)
	assert.Equal(t, "doctor", created.Role)
	assert.Equal(t, "active", created.Status)
	assert.True(t, created.MustChangePassword())

	ctx = adminRequest(fasthttp.MethodPut, "/gateway/profiles/doc-1", "admin-1")
	ctx.SetUserValue("id", "doc-1")
	ctx.Request.SetBodyString(`{"password_changed":true}`)
	h.SyncProfile(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.False(t, profiles.items["doc-1"].MustChangePassword())
	assert.Equal(t, "doc@hms.local", profiles.items["doc-1"].Email)
}

func TestSyncProfileRejectsBadPayload(t *testing.T) {
	h, _, _ := adminFixture()
	ctx := adminRequest(fasthttp.MethodPut, "/gateway/profiles/doc-1", "admin-1")
	ctx.SetUserValue("id", "doc-1")
	ctx.Request.SetBodyString(`{not json`)
	h.SyncProfile(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestAdminProfileStoreOutage(t *testing.T) {
	h, _, profiles := adminFixture()
	profiles.err = domain.WrapError(domain.ErrCodeUnavailable, "profiles unavailable", errors.New("dial tcp"))

	ctx := adminRequest(fasthttp.MethodGet, "/gateway/audit", "admin-1")
	h.ListAccessEvents(ctx)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}
