package model

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
	StatusNoShow    Status = "NO_SHOW"
)

// ParseStatus accepts the canonical upper-case names.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return st, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

// Blocking reports whether an appointment in this status occupies its time range.
func (s Status) Blocking() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Terminal statuses accept no further transition or mutation.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusNoShow
}

// ClientRef identifies who an appointment is for: a registered user or an anonymous
// contact. Exactly one form exists per appointment.
type ClientRef interface {
	isClientRef()
}

type RegisteredClient struct {
	UserID string
}

type AnonymousClient struct {
	Name  string
	Email string
	Phone string
}

func (RegisteredClient) isClientRef() {}
func (AnonymousClient) isClientRef()  {}

// ClientUserID returns the registered client id, or "" for anonymous clients.
func ClientUserID(c ClientRef) string {
	if rc, ok := c.(RegisteredClient); ok {
		return rc.UserID
	}
	return ""
}

type Appointment struct {
	ID              string
	ProviderID      string
	Client          ClientRef
	PublicTokenHash string

	StartTime time.Time
	EndTime   time.Time
	Duration  int // minutes
	Status    Status

	ServiceType string
	Title       string
	Description string
	Location    string
	MeetingLink string

	CancelledAt        *time.Time
	CancelledBy        string
	CancellationReason string
	ConfirmationSent   bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Blocks reports whether a occupies any instant of [start, end).
func (a Appointment) Blocks(start, end time.Time) bool {
	return a.Status.Blocking() && a.StartTime.Before(end) && start.Before(a.EndTime)
}
