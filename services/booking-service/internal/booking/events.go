package booking

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
)

const (
	EventCreated   = "booking.appointment.created.v1"
	EventConfirmed = "booking.appointment.confirmed.v1"
	EventCancelled = "booking.appointment.cancelled.v1"
	EventUpdated   = "booking.appointment.updated.v1"
	EventCompleted = "booking.appointment.completed.v1"
	EventNoShow    = "booking.appointment.no_show.v1"
)

func appointmentEvent(eventType string, a model.Appointment) (outbox.Event, error) {
	payload := map[string]any{
		"appointment_id": a.ID,
		"provider_id":    a.ProviderID,
		"status":         a.Status,
		"start_time":     a.StartTime.UTC().Format(time.RFC3339),
		"end_time":       a.EndTime.UTC().Format(time.RFC3339),
		"duration":       a.Duration,
		"service_type":   a.ServiceType,
	}
	switch c := a.Client.(type) {
	case model.RegisteredClient:
		payload["client_id"] = c.UserID
	case model.AnonymousClient:
		payload["client_name"] = c.Name
		payload["client_email"] = c.Email
		payload["client_phone"] = c.Phone
	}
	if a.CancelledAt != nil {
		payload["cancelled_at"] = a.CancelledAt.UTC().Format(time.RFC3339)
		payload["cancelled_by"] = a.CancelledBy
		payload["reason"] = a.CancellationReason
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   a.ID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
