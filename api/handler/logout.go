package handler

import "github.com/valyala/fasthttp"

// SessionTerminator expires the browser session.
type SessionTerminator interface {
	Logout(ctx *fasthttp.RequestCtx)
}

type LogoutHandler struct {
	sessions SessionTerminator
}

func NewLogoutHandler(sessions SessionTerminator) *LogoutHandler {
	return &LogoutHandler{sessions: sessions}
}

func (h *LogoutHandler) Logout(ctx *fasthttp.RequestCtx) {
	h.sessions.Logout(ctx)
}
