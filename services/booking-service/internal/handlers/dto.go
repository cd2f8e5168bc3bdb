package handlers

import (
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

type appointmentResponse struct {
	ID                 string     `json:"id"`
	ProviderID         string     `json:"providerId"`
	ClientID           string     `json:"clientId,omitempty"`
	ClientName         string     `json:"clientName,omitempty"`
	ClientEmail        string     `json:"clientEmail,omitempty"`
	ClientPhone        string     `json:"clientPhone,omitempty"`
	StartTime          time.Time  `json:"startTime"`
	EndTime            time.Time  `json:"endTime"`
	Duration           int        `json:"duration"`
	Status             string     `json:"status"`
	ServiceType        string     `json:"serviceType,omitempty"`
	Title              string     `json:"title,omitempty"`
	Description        string     `json:"description,omitempty"`
	Location           string     `json:"location,omitempty"`
	MeetingLink        string     `json:"meetingLink,omitempty"`
	ConfirmationSent   bool       `json:"confirmationSent"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	CancelledBy        string     `json:"cancelledBy,omitempty"`
	CancellationReason string     `json:"cancellationReason,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func toAppointment(a model.Appointment) appointmentResponse {
	out := appointmentResponse{
		ID:                 a.ID,
		ProviderID:         a.ProviderID,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		Duration:           a.Duration,
		Status:             string(a.Status),
		ServiceType:        a.ServiceType,
		Title:              a.Title,
		Description:        a.Description,
		Location:           a.Location,
		MeetingLink:        a.MeetingLink,
		ConfirmationSent:   a.ConfirmationSent,
		CancelledAt:        a.CancelledAt,
		CancelledBy:        a.CancelledBy,
		CancellationReason: a.CancellationReason,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
	switch c := a.Client.(type) {
	case model.RegisteredClient:
		out.ClientID = c.UserID
	case model.AnonymousClient:
		out.ClientName, out.ClientEmail, out.ClientPhone = c.Name, c.Email, c.Phone
	}
	return out
}

func toAppointments(appts []model.Appointment) []appointmentResponse {
	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointment(a))
	}
	return out
}

type ruleResponse struct {
	ID                 string    `json:"id"`
	ProviderID         string    `json:"providerId"`
	DayOfWeek          int       `json:"dayOfWeek"`
	StartTime          string    `json:"startTime"`
	EndTime            string    `json:"endTime"`
	IsRecurring        bool      `json:"isRecurring"`
	StartDate          string    `json:"startDate,omitempty"`
	EndDate            string    `json:"endDate,omitempty"`
	Timezone           string    `json:"timezone"`
	SlotDuration       int       `json:"slotDuration"`
	BufferTime         int       `json:"bufferTime"`
	MaxBookingsPerSlot int       `json:"maxBookingsPerSlot"`
	IsActive           bool      `json:"isActive"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

func toRule(r model.AvailabilityRule) ruleResponse {
	return ruleResponse{
		ID:                 r.ID,
		ProviderID:         r.ProviderID,
		DayOfWeek:          int(r.DayOfWeek),
		StartTime:          r.StartTime,
		EndTime:            r.EndTime,
		IsRecurring:        r.IsRecurring,
		StartDate:          formatDate(r.StartDate),
		EndDate:            formatDate(r.EndDate),
		Timezone:           r.Timezone,
		SlotDuration:       r.SlotDuration,
		BufferTime:         r.BufferTime,
		MaxBookingsPerSlot: r.MaxBookingsPerSlot,
		IsActive:           r.IsActive,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func toRules(rules []model.AvailabilityRule) []ruleResponse {
	out := make([]ruleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, toRule(r))
	}
	return out
}

type slotResponse struct {
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Duration  int       `json:"duration"`
	Available bool      `json:"available"`
}

func toSlots(slots []availability.SlotAvailability) []slotResponse {
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse{
			Date:      s.Date,
			Time:      s.Time,
			StartTime: s.Start,
			EndTime:   s.End,
			Duration:  s.Duration,
			Available: s.Available,
		})
	}
	return out
}

type providerResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}
