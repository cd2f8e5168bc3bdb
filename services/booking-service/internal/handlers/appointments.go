package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

type detailsRequest struct {
	ServiceType string `json:"serviceType"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	MeetingLink string `json:"meetingLink"`
}

func (d detailsRequest) details() booking.Details {
	return booking.Details{
		ServiceType: strings.TrimSpace(d.ServiceType),
		Title:       strings.TrimSpace(d.Title),
		Description: strings.TrimSpace(d.Description),
		Location:    strings.TrimSpace(d.Location),
		MeetingLink: strings.TrimSpace(d.MeetingLink),
	}
}

type createAppointmentRequest struct {
	ProviderID string    `json:"providerId"`
	ClientID   string    `json:"clientId"`
	StartTime  time.Time `json:"startTime"`
	Duration   int       `json:"duration"`
	detailsRequest
}

type updateAppointmentRequest struct {
	StartTime   *time.Time `json:"startTime"`
	Duration    *int       `json:"duration"`
	ServiceType *string    `json:"serviceType"`
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
	MeetingLink *string    `json:"meetingLink"`
	Status      *string    `json:"status"`
	Reason      string     `json:"reason"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	appts, err := h.engine.ListAppointments(r.Context(), actor(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointments(appts))
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	appt, err := h.engine.Create(r.Context(), actor(r), booking.CreateRequest{
		ProviderID:     strings.TrimSpace(req.ProviderID),
		ClientID:       strings.TrimSpace(req.ClientID),
		StartTime:      req.StartTime,
		Duration:       req.Duration,
		Details:        req.details(),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toAppointment(appt))
}

func (h *Handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.engine.Get(r.Context(), r.PathValue("id"), actor(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointment(appt))
}

func (h *Handler) updateAppointment(w http.ResponseWriter, r *http.Request) {
	var req updateAppointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	patch := booking.Patch{
		StartTime:   req.StartTime,
		Duration:    req.Duration,
		ServiceType: req.ServiceType,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		MeetingLink: req.MeetingLink,
		Reason:      req.Reason,
	}
	if req.Status != nil {
		st, err := model.ParseStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		patch.Status = &st
	}
	appt, err := h.engine.Update(r.Context(), r.PathValue("id"), actor(r), patch)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointment(appt))
}

func (h *Handler) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.engine.Confirm(r.Context(), r.PathValue("id"), actor(r)))
}

func (h *Handler) completeAppointment(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.engine.Complete(r.Context(), r.PathValue("id"), actor(r)))
}

func (h *Handler) noShowAppointment(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.engine.MarkNoShow(r.Context(), r.PathValue("id"), actor(r)))
}

func (h *Handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r)(h.engine.Cancel(r.Context(), r.PathValue("id"), actor(r), req.Reason))
}

// respond writes the result of a state change.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request) func(model.Appointment, error) {
	return func(appt model.Appointment, err error) {
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, toAppointment(appt))
	}
}
