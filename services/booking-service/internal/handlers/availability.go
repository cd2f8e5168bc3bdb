package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
)

type createRuleRequest struct {
	ProviderID         string  `json:"providerId"`
	DayOfWeek          *int    `json:"dayOfWeek"`
	StartTime          string  `json:"startTime"`
	EndTime            string  `json:"endTime"`
	IsRecurring        *bool   `json:"isRecurring"`
	StartDate          *string `json:"startDate"`
	EndDate            *string `json:"endDate"`
	Timezone           string  `json:"timezone"`
	SlotDuration       int     `json:"slotDuration"`
	BufferTime         int     `json:"bufferTime"`
	MaxBookingsPerSlot int     `json:"maxBookingsPerSlot"`
	IsActive           *bool   `json:"isActive"`
}

type updateRuleRequest struct {
	DayOfWeek          *int    `json:"dayOfWeek"`
	StartTime          *string `json:"startTime"`
	EndTime            *string `json:"endTime"`
	IsRecurring        *bool   `json:"isRecurring"`
	StartDate          *string `json:"startDate"`
	EndDate            *string `json:"endDate"`
	Timezone           *string `json:"timezone"`
	SlotDuration       *int    `json:"slotDuration"`
	BufferTime         *int    `json:"bufferTime"`
	MaxBookingsPerSlot *int    `json:"maxBookingsPerSlot"`
	IsActive           *bool   `json:"isActive"`
}

type provisionRequest struct {
	ProviderID string `json:"providerId"`
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.engine.ListProviders(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	out := make([]providerResponse, 0, len(providers))
	for _, p := range providers {
		out = append(out, providerResponse{ID: p.ID, Name: p.Name, Email: p.Email, Phone: p.Phone})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// listSlots serves GET /api/v1/providers/{providerID}/slots?start=&end=.
func (h *Handler) listSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, startIsDate, err := parseInstant(q.Get("start"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "start must be an RFC 3339 time or a YYYY-MM-DD date")
		return
	}
	end, endIsDate, err := parseInstant(q.Get("end"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "end must be an RFC 3339 time or a YYYY-MM-DD date")
		return
	}
	if startIsDate != endIsDate {
		httpx.WriteError(w, http.StatusBadRequest, "start and end must both be dates or both be timestamps")
		return
	}
	// Dates name calendar days in each rule's own timezone.
	var slots []availability.SlotAvailability
	if startIsDate {
		slots, err = h.engine.ListSlotsOnDates(r.Context(), r.PathValue("providerID"), start, end)
	} else {
		slots, err = h.engine.ListSlots(r.Context(), r.PathValue("providerID"), start, end)
	}
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSlots(slots))
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimSpace(r.URL.Query().Get("providerId"))
	if providerID == "" {
		providerID = actor(r).UserID
	}
	rules, err := h.engine.ListRules(r.Context(), providerID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toRules(rules))
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DayOfWeek == nil {
		httpx.WriteError(w, http.StatusBadRequest, "dayOfWeek is required")
		return
	}
	startDate, err := parseDate(req.StartDate)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "startDate must be YYYY-MM-DD")
		return
	}
	endDate, err := parseDate(req.EndDate)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "endDate must be YYYY-MM-DD")
		return
	}

	rule, err := h.engine.CreateRule(r.Context(), actor(r), booking.RuleInput{
		ProviderID:         strings.TrimSpace(req.ProviderID),
		DayOfWeek:          time.Weekday(*req.DayOfWeek),
		StartTime:          strings.TrimSpace(req.StartTime),
		EndTime:            strings.TrimSpace(req.EndTime),
		IsRecurring:        req.IsRecurring,
		StartDate:          startDate,
		EndDate:            endDate,
		Timezone:           strings.TrimSpace(req.Timezone),
		SlotDuration:       req.SlotDuration,
		BufferTime:         req.BufferTime,
		MaxBookingsPerSlot: req.MaxBookingsPerSlot,
		IsActive:           req.IsActive,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toRule(rule))
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	var req updateRuleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	patch := booking.RulePatch{
		StartTime:          req.StartTime,
		EndTime:            req.EndTime,
		IsRecurring:        req.IsRecurring,
		Timezone:           req.Timezone,
		SlotDuration:       req.SlotDuration,
		BufferTime:         req.BufferTime,
		MaxBookingsPerSlot: req.MaxBookingsPerSlot,
		IsActive:           req.IsActive,
	}
	if req.DayOfWeek != nil {
		d := time.Weekday(*req.DayOfWeek)
		patch.DayOfWeek = &d
	}
	var err error
	if patch.StartDate, err = parseDate(req.StartDate); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "startDate must be YYYY-MM-DD")
		return
	}
	if patch.EndDate, err = parseDate(req.EndDate); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "endDate must be YYYY-MM-DD")
		return
	}

	rule, err := h.engine.UpdateRule(r.Context(), actor(r), r.PathValue("ruleID"), patch)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toRule(rule))
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteRule(r.Context(), actor(r), r.PathValue("ruleID")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) provisionDefaults(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := decodeOptional(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	providerID, created, err := h.engine.ProvisionDefaultsFor(ctx, actor(r), strings.TrimSpace(req.ProviderID))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	rules, err := h.engine.ListRules(ctx, providerID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, map[string]any{"created": created, "rules": toRules(rules)})
}
