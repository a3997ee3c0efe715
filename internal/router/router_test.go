package router

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	apiHandler "github.com/fastygo/hms-gateway/api/handler"
	"github.com/fastygo/hms-gateway/domain"
	"github.com/fastygo/hms-gateway/internal/infrastructure/monitor"
	"github.com/fastygo/hms-gateway/internal/middleware"
	"github.com/fastygo/hms-gateway/internal/proxy"
	"github.com/fastygo/hms-gateway/repository"
)

type allowList map[string]bool

func (a allowList) Verify(_ context.Context, token string) bool { return a[token] }

func startGateway(t *testing.T, upstreams map[string]string) *fasthttp.Client {
	t.Helper()
	return startGatewayWith(t, upstreams, allowList{"good": true}, nil)
}

func startGatewayWith(t *testing.T, upstreams map[string]string, tokens allowList, admin *apiHandler.AdminHandler) *fasthttp.Client {
	t.Helper()

	forwarder, err := proxy.New(upstreams, time.Second, nil, nil)
	require.NoError(t, err)

	gateway := middleware.NewGateway(middleware.SessionOptions{
		LoginPath:          "/login",
		PasswordChangePath: "/change-password",
		APIPrefix:          "/api/",
		TokenCookie:        "token",
		UserCookie:         "user",
		TokenQueryParam:    "token",
	}, middleware.NewClassifier(
		[]string{"/login", "/api/health"},
		[]string{"/api/auth/"},
	), tokens, nil)

	handlers := Handlers{
		Health: apiHandler.NewHealthHandler(monitor.New(monitor.Dependencies{}, time.Minute, nil), "test", nil, nil),
		Logout: apiHandler.NewLogoutHandler(gateway),
		Admin:  admin,
		Proxy:  forwarder,
	}
	if forwarder.Has(proxy.UIService) {
		handlers.Fallback = forwarder.To(proxy.UIService)
	}

	ln := fasthttputil.NewInmemoryListener()
	t.Cleanup(func() { _ = ln.Close() })
	go func() { _ = fasthttp.Serve(ln, gateway.Wrap(New(handlers).Handler)) }()

	return &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
}

func do(t *testing.T, client *fasthttp.Client, method, uri, token string) *fasthttp.Response {
	t.Helper()
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.Header.SetMethod(method)
	req.SetRequestURI("http://gateway.local" + uri)
	if token != "" {
		req.Header.SetCookie("token", token)
	}
	resp := &fasthttp.Response{}
	require.NoError(t, client.Do(req, resp))
	return resp
}

func echoUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.URL.Path+"|"+r.Header.Get("Authorization"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthIsPublic(t *testing.T) {
	client := startGateway(t, nil)
	resp := do(t, client, fasthttp.MethodGet, "/api/health", "")
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
}

func TestProtectedPageRedirectsToLogin(t *testing.T) {
	client := startGateway(t, nil)
	resp := do(t, client, fasthttp.MethodGet, "/dashboard", "")
	assert.Equal(t, fasthttp.StatusTemporaryRedirect, resp.StatusCode())
	assert.Equal(t, "/login?redirectTo=/dashboard", string(resp.Header.Peek(fasthttp.HeaderLocation)))
}

func TestAPIRequestIsForwardedWithToken(t *testing.T) {
	upstream := echoUpstream(t)
	client := startGateway(t, map[string]string{"pharmacy": upstream.URL})

	resp := do(t, client, fasthttp.MethodGet, "/api/pharmacy/stock", "good")
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Equal(t, "/api/pharmacy/stock|Bearer good", string(resp.Body()))

	resp = do(t, client, fasthttp.MethodGet, "/api/pharmacy/stock", "forged")
	assert.Equal(t, fasthttp.StatusTemporaryRedirect, resp.StatusCode())
}

func TestAuthCallbacksArePublic(t *testing.T) {
	upstream := echoUpstream(t)
	client := startGateway(t, map[string]string{"auth": upstream.URL})

	resp := do(t, client, fasthttp.MethodPost, "/api/auth/login", "")
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Equal(t, "/api/auth/login|", string(resp.Body()))
}

func TestUnknownServiceIsNotFound(t *testing.T) {
	client := startGateway(t, nil)
	resp := do(t, client, fasthttp.MethodGet, "/api/radiology/scans", "good")
	assert.Equal(t, fasthttp.StatusNotFound, resp.StatusCode())
}

func TestPagesFallBackToUI(t *testing.T) {
	upstream := echoUpstream(t)
	client := startGateway(t, map[string]string{proxy.UIService: upstream.URL})

	resp := do(t, client, fasthttp.MethodGet, "/hr/staff", "good")
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Equal(t, "/hr/staff|Bearer good", string(resp.Body()))
}

func TestLogoutClearsSession(t *testing.T) {
	client := startGateway(t, nil)
	resp := do(t, client, fasthttp.MethodGet, "/logout", "good")
	assert.Equal(t, fasthttp.StatusTemporaryRedirect, resp.StatusCode())
	assert.Equal(t, "/login", string(resp.Header.Peek(fasthttp.HeaderLocation)))

	c := &fasthttp.Cookie{}
	c.SetKey("token")
	require.True(t, resp.Header.Cookie(c))
	assert.Empty(t, c.Value())
}

func TestUnroutedPageWithoutUIIsNotFound(t *testing.T) {
	client := startGateway(t, nil)
	resp := do(t, client, fasthttp.MethodGet, "/dashboard", "good")
	assert.Equal(t, fasthttp.StatusNotFound, resp.StatusCode())
}

type profileStore struct {
	mu    sync.Mutex
	items map[string]*domain.Profile
}

func (p *profileStore) GetByID(_ context.Context, id string) (*domain.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	profile, ok := p.items[id]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	cp := *profile
	return &cp, nil
}

func (p *profileStore) Upsert(_ context.Context, profile *domain.Profile) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *profile
	p.items[profile.ID] = &cp
	return nil
}

func (p *profileStore) role(id string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if profile, ok := p.items[id]; ok {
		return profile.Role
	}
	return ""
}

type eventStore struct{}

func (eventStore) Append(context.Context, *domain.AccessEvent) error { return nil }

func (eventStore) List(context.Context, repository.AuditFilter) ([]domain.AccessEvent, error) {
	return []domain.AccessEvent{{ID: "e1", Decision: domain.DecisionRedirectToLogin, Path: "/x"}}, nil
}

func subjectToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": subject}).SignedString([]byte("authority-key"))
	require.NoError(t, err)
	return token
}

func startAdminGateway(t *testing.T) (*fasthttp.Client, *profileStore, map[string]string) {
	t.Helper()
	profiles := &profileStore{items: map[string]*domain.Profile{
		"admin-1": {ID: "admin-1", Role: apiHandler.RoleAdmin, Status: "active"},
		"nurse-1": {ID: "nurse-1", Role: "nurse", Status: "active"},
	}}
	tokens := map[string]string{
		"admin":  subjectToken(t, "admin-1"),
		"nurse":  subjectToken(t, "nurse-1"),
		"opaque": "opaque-session",
	}
	allowed := allowList{}
	for _, token := range tokens {
		allowed[token] = true
	}
	admin := apiHandler.NewAdminHandler(eventStore{}, profiles, nil, nil)
	return startGatewayWith(t, nil, allowed, admin), profiles, tokens
}

func doAdmin(t *testing.T, client *fasthttp.Client, method, uri, token, userCookie, body string) *fasthttp.Response {
	t.Helper()
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.Header.SetMethod(method)
	req.SetRequestURI("http://gateway.local" + uri)
	req.Header.SetCookie("token", token)
	if userCookie != "" {
		req.Header.SetCookie("user", userCookie)
	}
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	resp := &fasthttp.Response{}
	require.NoError(t, client.Do(req, resp))
	return resp
}

func TestAdminEndpointsUseTokenSubject(t *testing.T) {
	client, profiles, tokens := startAdminGateway(t)

	resp := doAdmin(t, client, fasthttp.MethodGet, "/gateway/audit", tokens["admin"], "", "")
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Contains(t, string(resp.Body()), `"e1"`)

	resp = doAdmin(t, client, fasthttp.MethodGet, "/gateway/audit", tokens["nurse"], "", "")
	assert.Equal(t, fasthttp.StatusForbidden, resp.StatusCode())

	resp = doAdmin(t, client, fasthttp.MethodPut, "/gateway/profiles/doc-1", tokens["admin"], "", `{"role":"doctor"}`)
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	assert.Equal(t, "doctor", profiles.role("doc-1"))
}

func TestAdminEndpointsIgnoreUserCookie(t *testing.T) {
	client, profiles, tokens := startAdminGateway(t)

	resp := doAdmin(t, client, fasthttp.MethodPut, "/gateway/profiles/nurse-1", tokens["nurse"], "admin-1", `{"role":"admin"}`)
	assert.Equal(t, fasthttp.StatusForbidden, resp.StatusCode())
	assert.Equal(t, "nurse", profiles.role("nurse-1"))

	resp = doAdmin(t, client, fasthttp.MethodGet, "/gateway/audit", tokens["nurse"], "%7B%22id%22%3A%22admin-1%22%7D", "")
	assert.Equal(t, fasthttp.StatusForbidden, resp.StatusCode())
}

func TestAdminEndpointsRefuseOpaqueTokens(t *testing.T) {
	client, profiles, tokens := startAdminGateway(t)

	resp := doAdmin(t, client, fasthttp.MethodPut, "/gateway/profiles/nurse-1", tokens["opaque"], "admin-1", `{"role":"admin"}`)
	assert.Equal(t, fasthttp.StatusUnauthorized, resp.StatusCode())
	assert.Equal(t, "nurse", profiles.role("nurse-1"))
}
