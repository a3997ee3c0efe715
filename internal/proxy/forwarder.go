package proxy

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/hms-gateway/api/transport"
	"github.com/fastygo/hms-gateway/domain"
	"github.com/fastygo/hms-gateway/internal/middleware"
	"github.com/fastygo/hms-gateway/pkg/httpcontext"
)

// ParamService is the request user value naming the target upstream.
const ParamService = "service"

// UIService is the upstream that receives every non-API path when configured.
const UIService = "ui"

type ErrorObserver interface {
	ObserveUpstreamError(service string)
}

type upstream struct {
	client *fasthttp.HostClient
	host   string
}

// Forwarder relays /api/{service}/... requests to the HMS microservices.
type Forwarder struct {
	upstreams map[string]upstream
	timeout   time.Duration
	observer  ErrorObserver
	logger    *zap.Logger
}

// New builds one connection pool per upstream service.
func New(targets map[string]string, timeout time.Duration, observer ErrorObserver, logger *zap.Logger) (*Forwarder, error) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Forwarder{
		upstreams: make(map[string]upstream, len(targets)),
		timeout:   timeout,
		observer:  observer,
		logger:    logger,
	}
	for name, target := range targets {
		u, err := url.Parse(target)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("upstream %q: invalid url %q", name, target)
		}
		isTLS := u.Scheme == "https"
		f.upstreams[name] = upstream{
			host: u.Host,
			client: &fasthttp.HostClient{
				Addr:                     hostWithPort(u, isTLS),
				Name:                     "hms-gateway",
				IsTLS:                    isTLS,
				ReadTimeout:              timeout,
				WriteTimeout:             timeout,
				MaxIdleConnDuration:      time.Minute,
				NoDefaultUserAgentHeader: true,
				DisablePathNormalizing:   true,
			},
		}
	}
	return f, nil
}

// Services lists the configured upstream names.
func (f *Forwarder) Services() []string {
	names := make([]string, 0, len(f.upstreams))
	for name := range f.upstreams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether service is configured.
func (f *Forwarder) Has(service string) bool {
	_, ok := f.upstreams[service]
	return ok
}

// To returns a handler that always forwards to service.
func (f *Forwarder) To(service string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetUserValue(ParamService, service)
		f.Handle(ctx)
	}
}

// ServiceFromPath extracts "pharmacy" from "/api/pharmacy/stock" for prefix "/api/".
func ServiceFromPath(path, prefix string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := path[len(prefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest, rest != ""
}

// Handle forwards the request to the upstream named by the service route parameter.
func (f *Forwarder) Handle(ctx *fasthttp.RequestCtx) {
	service, _ := ctx.UserValue(ParamService).(string)
	target, ok := f.upstreams[service]
	if !ok {
		transport.WriteJSON(ctx, fasthttp.StatusNotFound,
			transport.NewError(string(domain.ErrCodeNotFound), domain.ErrServiceNotFound.Error(), map[string]string{"service": service}))
		return
	}

	requestID := httpcontext.RequestID(ctx)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	ctx.Request.CopyTo(req)
	req.SetHost(target.host)
	req.Header.Del(fasthttp.HeaderConnection)
	req.Header.Set(httpcontext.HeaderRequestID, requestID)
	if ip := clientIP(ctx); ip != "" {
		req.Header.Set(fasthttp.HeaderXForwardedFor, ip)
	}
	req.Header.Set("X-Forwarded-Host", string(ctx.Host()))
	if token, ok := ctx.UserValue(middleware.UserValueToken).(string); ok && token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	}

	start := time.Now()
	if err := target.client.DoTimeout(req, resp, f.timeout); err != nil {
		if f.observer != nil {
			f.observer.ObserveUpstreamError(service)
		}
		f.logger.Warn("upstream request failed",
			zap.String("service", service),
			zap.String("path", string(ctx.Path())),
			zap.String("request_id", requestID),
			zap.Error(err))
		transport.WriteJSON(ctx, fasthttp.StatusBadGateway,
			transport.NewError(string(domain.ErrCodeUnavailable), "upstream service unavailable", map[string]string{"service": service}))
		return
	}

	resp.Header.Del(fasthttp.HeaderConnection)
	resp.CopyTo(&ctx.Response)
	ctx.Response.Header.Set(httpcontext.HeaderRequestID, requestID)

	f.logger.Debug("request forwarded",
		zap.String("service", service),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("took", time.Since(start)))
}

func hostWithPort(u *url.URL, isTLS bool) string {
	if u.Port() != "" {
		return u.Host
	}
	if isTLS {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}

func clientIP(ctx *fasthttp.RequestCtx) string {
	prior := string(ctx.Request.Header.Peek(fasthttp.HeaderXForwardedFor))
	ip := ctx.RemoteIP()
	if ip == nil || ip.IsUnspecified() {
		return prior
	}
	if prior != "" {
		return prior + ", " + ip.String()
	}
	return ip.String()
}
