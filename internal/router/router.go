package router

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	apiHandler "github.com/fastygo/hms-gateway/api/handler"
	"github.com/fastygo/hms-gateway/internal/proxy"
)

// Handlers groups everything the gateway serves itself or forwards.
// Metrics, Admin, Proxy and Fallback are optional.
type Handlers struct {
	Health  *apiHandler.HealthHandler
	Logout  *apiHandler.LogoutHandler
	Admin   *apiHandler.AdminHandler
	Metrics fasthttp.RequestHandler
	Proxy   *proxy.Forwarder
	// APIPrefix selects requests forwarded to {APIPrefix}{service}/...; defaults to "/api/".
	APIPrefix string
	// Fallback serves every other path, typically the UI upstream.
	Fallback fasthttp.RequestHandler
}

// New builds the route table. The session gateway wraps the returned
// router's Handler, so every route here has already been authenticated
// unless its path is public.
func New(handlers Handlers) *router.Router {
	r := router.New()
	r.HandleMethodNotAllowed = false

	r.GET("/api/health", handlers.Health.Check)
	if handlers.Metrics != nil {
		r.GET("/metrics", handlers.Metrics)
	}

	r.GET("/logout", handlers.Logout.Logout)
	r.POST("/logout", handlers.Logout.Logout)

	if handlers.Admin != nil {
		r.GET("/gateway/audit", handlers.Admin.ListAccessEvents)
		r.PUT("/gateway/profiles/{id}", handlers.Admin.SyncProfile)
	}

	r.NotFound = dispatch(handlers)
	return r
}

// dispatch sends unrouted API paths to their upstream service and everything
// else to the fallback.
func dispatch(handlers Handlers) fasthttp.RequestHandler {
	prefix := handlers.APIPrefix
	if prefix == "" {
		prefix = "/api/"
	}
	return func(ctx *fasthttp.RequestCtx) {
		if handlers.Proxy != nil {
			if service, ok := proxy.ServiceFromPath(string(ctx.Path()), prefix); ok {
				ctx.SetUserValue(proxy.ParamService, service)
				handlers.Proxy.Handle(ctx)
				return
			}
		}
		if handlers.Fallback != nil {
			handlers.Fallback(ctx)
			return
		}
		ctx.Error(fasthttp.StatusMessage(fasthttp.StatusNotFound), fasthttp.StatusNotFound)
	}
}
