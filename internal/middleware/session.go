package middleware

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/hms-gateway/domain"
	"github.com/fastygo/hms-gateway/internal/config"
	"github.com/fastygo/hms-gateway/pkg/httpcontext"
	appLogger "github.com/fastygo/hms-gateway/pkg/logger"
	authUC "github.com/fastygo/hms-gateway/usecase/auth"
)

// User values set on allowed requests for downstream handlers.
// UserValueProfileID is the verified token's subject and is absent for opaque tokens.
const (
	UserValueToken     = "gateway.token"
	UserValueProfileID = "gateway.profile_id"
)

type TokenVerifier interface {
	Verify(ctx context.Context, token string) bool
}

type PasswordChecker interface {
	RequiresChange(ctx context.Context, profileID string) (bool, error)
}

// DecisionRecorder receives an access event for every protected request. It must not block.
type DecisionRecorder interface {
	Record(ctx context.Context, event *domain.AccessEvent)
}

type DecisionObserver interface {
	ObserveDecision(kind domain.DecisionKind)
}

// SessionOptions configures routes and cookies used by the gateway.
type SessionOptions struct {
	LoginPath          string
	PasswordChangePath string
	APIPrefix          string
	TokenCookie        string
	UserCookie         string
	TokenQueryParam    string
	CookieMaxAge       time.Duration
	CookieSecure       bool
	// PasswordFailClosed sends users to the login page when their profile
	// cannot be loaded; otherwise the request is let through.
	PasswordFailClosed bool
}

// SessionOptionsFromConfig maps the gateway configuration onto SessionOptions.
func SessionOptionsFromConfig(gw config.GatewayConfig, pp config.PasswordPolicyConfig) SessionOptions {
	return SessionOptions{
		LoginPath:          gw.LoginPath,
		PasswordChangePath: gw.PasswordChangePath,
		APIPrefix:          gw.APIPrefix,
		TokenCookie:        gw.TokenCookie,
		UserCookie:         gw.UserCookie,
		TokenQueryParam:    gw.TokenQueryParam,
		CookieMaxAge:       gw.CookieMaxAge,
		CookieSecure:       gw.CookieSecure,
		PasswordFailClosed: pp.FailClosed,
	}
}

// RequestInfo is the part of an inbound request the gateway decides on.
type RequestInfo struct {
	Path        string
	RawQuery    string
	CookieToken string
	QueryToken  string
	RemoteAddr  string
	UserAgent   string
	RequestID   string
}

// Gateway authenticates every inbound request and turns the outcome into
// exactly one domain.Decision.
type Gateway struct {
	opts       SessionOptions
	classifier *Classifier
	verifier   TokenVerifier
	passwords  PasswordChecker
	recorder   DecisionRecorder
	observer   DecisionObserver
	adapter    *httpcontext.Adapter
	logger     *zap.Logger
}

type GatewayOption func(*Gateway)

// WithPasswordPolicy enables the password-change redirect.
func WithPasswordPolicy(p PasswordChecker) GatewayOption {
	return func(g *Gateway) { g.passwords = p }
}

func WithRecorder(r DecisionRecorder) GatewayOption {
	return func(g *Gateway) { g.recorder = r }
}

func WithObserver(o DecisionObserver) GatewayOption {
	return func(g *Gateway) { g.observer = o }
}

func WithAdapter(a *httpcontext.Adapter) GatewayOption {
	return func(g *Gateway) {
		if a != nil {
			g.adapter = a
		}
	}
}

func NewGateway(opts SessionOptions, classifier *Classifier, verifier TokenVerifier, logger *zap.Logger, options ...GatewayOption) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CookieMaxAge <= 0 {
		opts.CookieMaxAge = 7 * 24 * time.Hour
	}
	g := &Gateway{
		opts:       opts,
		classifier: classifier,
		verifier:   verifier,
		adapter:    httpcontext.NewAdapter(10 * time.Second),
		logger:     logger,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Decide runs the gateway state machine for one request.
func (g *Gateway) Decide(ctx context.Context, req RequestInfo) domain.Decision {
	if g.classifier.IsPublic(req.Path) {
		return domain.Decision{Kind: domain.DecisionAllow, Public: true, Reason: "public_path"}
	}

	token, source := req.CookieToken, domain.TokenSourceCookie
	if token == "" {
		token, source = req.QueryToken, domain.TokenSourceQuery
	}
	if token == "" {
		return domain.Decision{
			Kind:     domain.DecisionRedirectToLogin,
			Location: g.loginURL(req.Path),
			Reason:   "missing_token",
		}
	}

	if !g.verifier.Verify(ctx, token) {
		return domain.Decision{
			Kind:         domain.DecisionRedirectToLogin,
			Location:     g.loginURL(req.Path),
			ClearSession: true,
			Reason:       "invalid_token",
		}
	}

	// Identity is taken from the verified token only; the user cookie is client-controlled.
	subject := authUC.SubjectFromToken(token)

	if source == domain.TokenSourceQuery {
		return domain.Decision{
			Kind:     domain.DecisionSetCookieAndRedirectClean,
			Location: g.cleanURL(req),
			Token:    token,
			Subject:  subject,
			Reason:   "query_token",
		}
	}

	if decision, ok := g.passwordDecision(ctx, req, subject); ok {
		return decision
	}

	return domain.Decision{Kind: domain.DecisionAllow, Token: token, Subject: subject, Reason: "verified"}
}

// Wrap returns next guarded by the gateway.
func (g *Gateway) Wrap(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		req := g.requestInfo(ctx)

		stdCtx, cancel := g.adapter.Attach(ctx)
		decision := g.Decide(stdCtx, req)
		g.report(stdCtx, req, decision)
		cancel()

		switch decision.Kind {
		case domain.DecisionAllow:
			if decision.Token != "" {
				ctx.SetUserValue(UserValueToken, decision.Token)
				if decision.Subject != "" {
					ctx.SetUserValue(UserValueProfileID, decision.Subject)
				}
			}
			next(ctx)
		case domain.DecisionSetCookieAndRedirectClean:
			g.setTokenCookie(ctx, decision.Token)
			redirect(ctx, decision.Location)
		default:
			if decision.ClearSession {
				g.clearSession(ctx)
			}
			redirect(ctx, decision.Location)
		}
	}
}

// Logout expires the session cookies and sends the browser to the login page.
func (g *Gateway) Logout(ctx *fasthttp.RequestCtx) {
	g.clearSession(ctx)
	redirect(ctx, g.opts.LoginPath)
}

func (g *Gateway) passwordDecision(ctx context.Context, req RequestInfo, subject string) (domain.Decision, bool) {
	if g.passwords == nil || subject == "" {
		return domain.Decision{}, false
	}
	if strings.HasPrefix(req.Path, g.opts.APIPrefix) || req.Path == g.opts.PasswordChangePath {
		return domain.Decision{}, false
	}

	required, err := g.passwords.RequiresChange(ctx, subject)
	switch {
	case errors.Is(err, domain.ErrProfileNotFound):
		// Accounts without a profile row have no initial-password flag to enforce.
		appLogger.WithRequestID(ctx, g.logger).Debug("no profile for password check",
			zap.String("profile_id", subject))
		return domain.Decision{}, false
	case err != nil:
		appLogger.WithRequestID(ctx, g.logger).Warn("profile lookup failed during password check",
			zap.String("profile_id", subject),
			zap.Bool("fail_closed", g.opts.PasswordFailClosed),
			zap.Error(err))
		if g.opts.PasswordFailClosed {
			return domain.Decision{
				Kind:     domain.DecisionRedirectToLogin,
				Location: g.loginURL(req.Path),
				Subject:  subject,
				Reason:   "profile_lookup_failed",
			}, true
		}
		return domain.Decision{}, false
	case !required:
		return domain.Decision{}, false
	}
	return domain.Decision{
		Kind:     domain.DecisionRedirectToPasswordChange,
		Location: g.opts.PasswordChangePath + "?required=true",
		Subject:  subject,
		Reason:   "initial_password",
	}, true
}

func (g *Gateway) requestInfo(ctx *fasthttp.RequestCtx) RequestInfo {
	info := RequestInfo{
		Path:        string(ctx.Path()),
		RawQuery:    string(ctx.URI().QueryString()),
		CookieToken: string(ctx.Request.Header.Cookie(g.opts.TokenCookie)),
		QueryToken:  string(ctx.QueryArgs().Peek(g.opts.TokenQueryParam)),
		UserAgent:   string(ctx.Request.Header.UserAgent()),
		RequestID:   httpcontext.RequestID(ctx),
	}
	if addr := ctx.RemoteAddr(); addr != nil {
		info.RemoteAddr = addr.String()
	}
	return info
}

func (g *Gateway) report(ctx context.Context, req RequestInfo, decision domain.Decision) {
	if g.observer != nil {
		g.observer.ObserveDecision(decision.Kind)
	}

	log := appLogger.WithRequestID(ctx, g.logger)
	if decision.Kind == domain.DecisionAllow {
		log.Debug("request allowed", zap.String("path", req.Path), zap.String("reason", decision.Reason))
	} else {
		log.Info("request redirected",
			zap.String("path", req.Path),
			zap.String("decision", string(decision.Kind)),
			zap.String("reason", decision.Reason))
	}

	if g.recorder == nil || decision.Public {
		return
	}
	token := req.CookieToken
	if token == "" {
		token = req.QueryToken
	}
	g.recorder.Record(ctx, &domain.AccessEvent{
		Decision:    decision.Kind,
		Reason:      decision.Reason,
		Path:        req.Path,
		ProfileID:   decision.Subject,
		Fingerprint: authUC.Fingerprint(token),
		RemoteAddr:  req.RemoteAddr,
		UserAgent:   req.UserAgent,
		RequestID:   req.RequestID,
		CreatedAt:   time.Now().UTC(),
	})
}

// loginURL keeps '/' readable in the redirectTo value: /login?redirectTo=/dashboard.
func (g *Gateway) loginURL(path string) string {
	return g.opts.LoginPath + "?redirectTo=" + strings.ReplaceAll(url.QueryEscape(path), "%2F", "/")
}

func (g *Gateway) cleanURL(req RequestInfo) string {
	var args fasthttp.Args
	args.Parse(req.RawQuery)
	args.Del(g.opts.TokenQueryParam)
	if args.Len() == 0 {
		return req.Path
	}
	return req.Path + "?" + args.String()
}

func (g *Gateway) setTokenCookie(ctx *fasthttp.RequestCtx, token string) {
	c := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(c)

	c.SetKey(g.opts.TokenCookie)
	c.SetValue(token)
	c.SetPath("/")
	c.SetMaxAge(int(g.opts.CookieMaxAge / time.Second))
	c.SetHTTPOnly(false)
	c.SetSecure(g.opts.CookieSecure)
	c.SetSameSite(fasthttp.CookieSameSiteLaxMode)
	ctx.Response.Header.SetCookie(c)
}

func (g *Gateway) clearSession(ctx *fasthttp.RequestCtx) {
	for _, name := range []string{g.opts.TokenCookie, g.opts.UserCookie} {
		if name == "" {
			continue
		}
		c := fasthttp.AcquireCookie()
		c.SetKey(name)
		c.SetValue("")
		c.SetPath("/")
		c.SetExpire(fasthttp.CookieExpireDelete)
		c.SetSameSite(fasthttp.CookieSameSiteLaxMode)
		ctx.Response.Header.SetCookie(c)
		fasthttp.ReleaseCookie(c)
	}
}

func redirect(ctx *fasthttp.RequestCtx, location string) {
	ctx.Response.Header.Set(fasthttp.HeaderLocation, location)
	ctx.Response.Header.Set(fasthttp.HeaderCacheControl, "no-store")
	ctx.SetStatusCode(fasthttp.StatusTemporaryRedirect)
}
