package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/hms-gateway/domain"
	"github.com/fastygo/hms-gateway/internal/middleware"
	"github.com/fastygo/hms-gateway/pkg/httpcontext"
	"github.com/fastygo/hms-gateway/repository"
)

// RoleAdmin is the profile role allowed to use the admin endpoints.
const RoleAdmin = "admin"

type ProfileSyncRequest struct {
	Email           string            `json:"email"`
	Role            string            `json:"role"`
	Status          string            `json:"status"`
	PasswordChanged *bool             `json:"password_changed"`
	Metadata        map[string]string `json:"metadata"`
}

// AdminHandler serves the gateway's own administration endpoints: the
// access audit trail and the profile records used by the password policy.
type AdminHandler struct {
	baseHandler
	events   repository.AuditRepository
	profiles repository.ProfileRepository
}

func NewAdminHandler(events repository.AuditRepository, profiles repository.ProfileRepository, adapter *httpcontext.Adapter, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		baseHandler: newBaseHandler(adapter, logger),
		events:      events,
		profiles:    profiles,
	}
}

// ListAccessEvents returns audit events filtered by decision, profile_id and since (RFC3339).
func (h *AdminHandler) ListAccessEvents(ctx *fasthttp.RequestCtx) {
	if !h.authorize(ctx) {
		return
	}

	args := ctx.QueryArgs()
	filter := repository.AuditFilter{
		Decision:  domain.DecisionKind(args.Peek("decision")),
		ProfileID: string(args.Peek("profile_id")),
		Limit:     args.GetUintOrZero("limit"),
		Offset:    args.GetUintOrZero("offset"),
	}
	if raw := string(args.Peek("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.respondError(ctx, domain.WrapError(domain.ErrCodeInvalid, "since must be RFC3339", err))
			return
		}
		filter.Since = since
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	events, err := h.events.List(stdCtx, filter)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, events, map[string]string{
		"count":  strconv.Itoa(len(events)),
		"offset": strconv.Itoa(filter.Offset),
	})
}

// SyncProfile creates or updates the profile identified by the id route parameter.
func (h *AdminHandler) SyncProfile(ctx *fasthttp.RequestCtx) {
	if !h.authorize(ctx) {
		return
	}

	id, _ := ctx.UserValue("id").(string)
	var req ProfileSyncRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || id == "" {
		h.respondError(ctx, domain.ErrInvalidPayload)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	profile, err := h.profiles.GetByID(stdCtx, id)
	switch {
	case errors.Is(err, domain.ErrProfileNotFound):
		profile = &domain.Profile{ID: id, Status: "active"}
	case err != nil:
		h.respondError(ctx, err)
		return
	}

	if req.Email != "" {
		profile.Email = req.Email
	}
	if req.Role != "" {
		profile.Role = req.Role
	}
	if req.Status != "" {
		profile.Status = req.Status
	}
	if req.PasswordChanged != nil {
		profile.PasswordChanged = *req.PasswordChanged
	}
	if req.Metadata != nil {
		profile.Metadata = req.Metadata
	}

	if err := h.profiles.Upsert(stdCtx, profile); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.logger.Info("profile synchronized", zap.String("profile_id", id), zap.Bool("password_changed", profile.PasswordChanged))
	h.respondSuccess(ctx, http.StatusOK, profile, nil)
}

// authorize writes an error response and returns false unless the caller is an active admin.
// The caller is the subject of the token the gateway verified.
func (h *AdminHandler) authorize(ctx *fasthttp.RequestCtx) bool {
	callerID, _ := ctx.UserValue(middleware.UserValueProfileID).(string)
	if callerID == "" {
		h.respondError(ctx, domain.ErrUnauthorized)
		return false
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	caller, err := h.profiles.GetByID(stdCtx, callerID)
	switch {
	case errors.Is(err, domain.ErrProfileNotFound):
		h.respondError(ctx, domain.NewError(domain.ErrCodeForbidden, "admin role required"))
		return false
	case err != nil:
		h.respondError(ctx, err)
		return false
	}
	if !caller.IsActive() || caller.Role != RoleAdmin {
		h.respondError(ctx, domain.NewError(domain.ErrCodeForbidden, "admin role required"))
		return false
	}
	return true
}
