package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
)

type createPublicRequest struct {
	ProviderID string    `json:"providerId"`
	StartTime  time.Time `json:"startTime"`
	Duration   int       `json:"duration"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	detailsRequest
}

type publicAppointmentResponse struct {
	Appointment appointmentResponse `json:"appointment"`
	// Token is shown once; only its digest is stored.
	Token string `json:"token"`
}

func (h *Handler) createPublicAppointment(w http.ResponseWriter, r *http.Request) {
	var req createPublicRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	appt, token, err := h.engine.CreatePublic(r.Context(), booking.PublicRequest{
		ProviderID: strings.TrimSpace(req.ProviderID),
		StartTime:  req.StartTime,
		Duration:   req.Duration,
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		Details:    req.details(),
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, publicAppointmentResponse{Appointment: toAppointment(appt), Token: token})
}

func (h *Handler) getPublicAppointment(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.engine.GetByToken(r.Context(), r.PathValue("token")))
}

func (h *Handler) cancelPublicAppointment(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r)(h.engine.CancelByToken(r.Context(), r.PathValue("token"), req.Reason))
}
