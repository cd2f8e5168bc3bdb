package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

const publicAppointmentsPrefix = "/api/v1/public/appointments/"

// RedactPath hides public access tokens in request paths. Use it wherever a path is logged
// or traced.
var RedactPath = httpx.RedactAfter(publicAppointmentsPrefix)

// Handler exposes the booking engine over HTTP.
type Handler struct {
	engine *booking.Engine
	logger *slog.Logger
	auth   httpx.Middleware
	public httpx.Middleware
}

type Options struct {
	// Auth authenticates a request and stores its claims; see auth.Middleware.
	Auth httpx.Middleware
	// PublicLimit throttles unauthenticated routes. Optional.
	PublicLimit httpx.Middleware
}

func New(engine *booking.Engine, logger *slog.Logger, opts Options) *Handler {
	return &Handler{engine: engine, logger: logger, auth: opts.Auth, public: opts.PublicLimit}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/v1/providers", http.HandlerFunc(h.listProviders))
	mux.Handle("GET /api/v1/providers/{providerID}/slots", h.limited(h.listSlots))

	mux.Handle("GET /api/v1/availability", h.authed(h.listRules))
	mux.Handle("POST /api/v1/availability", h.authed(h.createRule))
	mux.Handle("POST /api/v1/availability/defaults", h.authed(h.provisionDefaults))
	mux.Handle("PATCH /api/v1/availability/{ruleID}", h.authed(h.updateRule))
	mux.Handle("DELETE /api/v1/availability/{ruleID}", h.authed(h.deleteRule))

	mux.Handle("GET /api/v1/appointments", h.authed(h.listAppointments))
	mux.Handle("POST /api/v1/appointments", h.authed(h.createAppointment))
	mux.Handle("GET /api/v1/appointments/{id}", h.authed(h.getAppointment))
	mux.Handle("PATCH /api/v1/appointments/{id}", h.authed(h.updateAppointment))
	mux.Handle("POST /api/v1/appointments/{id}/confirm", h.authed(h.confirmAppointment))
	mux.Handle("POST /api/v1/appointments/{id}/cancel", h.authed(h.cancelAppointment))
	mux.Handle("POST /api/v1/appointments/{id}/complete", h.authed(h.completeAppointment))
	mux.Handle("POST /api/v1/appointments/{id}/no-show", h.authed(h.noShowAppointment))

	mux.Handle("POST /api/v1/public/appointments", h.limited(h.createPublicAppointment))
	mux.Handle("GET /api/v1/public/appointments/{token}", h.limited(h.getPublicAppointment))
	mux.Handle("POST /api/v1/public/appointments/{token}/cancel", h.limited(h.cancelPublicAppointment))
}

func (h *Handler) authed(fn http.HandlerFunc) http.Handler {
	return httpx.Chain(fn, h.auth)
}

func (h *Handler) limited(fn http.HandlerFunc) http.Handler {
	return httpx.Chain(fn, h.public)
}

// actor turns the verified claims into the engine's caller identity. Requests that reach a
// handler without claims get the zero Actor, which the engine rejects.
func actor(r *http.Request) booking.Actor {
	c, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return booking.Actor{}
	}
	return booking.Actor{UserID: c.SubjectID(), Email: c.Email, Role: model.ParseRole(c.Role)}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, booking.ErrInvalidInput), errors.Is(err, booking.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrSlotUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, booking.ErrConflict), errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "err", err, "path", RedactPath(r.URL.Path), "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, status, "internal error")
		return
	}
	httpx.WriteError(w, status, err.Error())
}

// decodeOptional decodes a JSON body when one was sent.
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil
	}
	return httpx.DecodeJSON(r, dst)
}

// parseInstant accepts RFC 3339 timestamps or YYYY-MM-DD dates and reports which one it saw.
func parseInstant(raw string) (t time.Time, dateOnly bool, err error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, false, nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return d, true, nil
}

func parseDate(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(*raw))
	if err != nil {
		return nil, err
	}
	return &d, nil
}
