package booking

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
)

// Store is the persistence port. Lookups of missing rows return an error wrapping ErrNotFound.
type Store interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	ListProviders(ctx context.Context) ([]model.User, error)

	GetRule(ctx context.Context, id string) (model.AvailabilityRule, error)
	ListRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error)
	UpdateRule(ctx context.Context, rule *model.AvailabilityRule) error
	DeleteRule(ctx context.Context, id string) error

	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	GetAppointmentByTokenHash(ctx context.Context, hash string) (model.Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error)

	// WithProviderLock runs fn in a transaction that holds an exclusive lock for providerID,
	// serializing every booking write for that provider. fn's error aborts the transaction.
	WithProviderLock(ctx context.Context, providerID string, fn func(tx Tx) error) error
}

// Tx is the set of writes (and consistent reads) allowed while a provider lock is held.
type Tx interface {
	ListRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error)
	InsertRules(ctx context.Context, rules []model.AvailabilityRule) error

	// ListBlocking returns pending or confirmed appointments of providerID overlapping
	// [from, to), skipping excludeID.
	ListBlocking(ctx context.Context, providerID string, from, to time.Time, excludeID string) ([]model.Appointment, error)
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	InsertAppointment(ctx context.Context, a *model.Appointment) error
	UpdateAppointment(ctx context.Context, a *model.Appointment) error

	LookupIdempotencyKey(ctx context.Context, scope, key string) (appointmentID string, found bool, err error)
	SaveIdempotencyKey(ctx context.Context, scope, key, appointmentID string) error

	AppendEvent(ctx context.Context, evt outbox.Event) error
}

// AppointmentFilter selects appointments by party and optionally by overlap with [From, To).
type AppointmentFilter struct {
	ProviderID   string
	ClientID     string
	From         time.Time
	To           time.Time
	BlockingOnly bool
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Confirmation is what the client is told about a new booking.
type Confirmation struct {
	To           string
	ClientName   string
	ProviderName string
	Date         string // YYYY-MM-DD in the provider's timezone
	Time         string // HH:mm in the provider's timezone
	Duration     int
	Location     string
	PublicToken  string
}

// Notifier delivers booking confirmations. The engine calls it off the request path and
// only logs its errors.
type Notifier interface {
	SendAppointmentConfirmation(ctx context.Context, c Confirmation) error
}

// TokenIssuer mints public access tokens and derives the digest that is persisted.
type TokenIssuer interface {
	New() (token string, hash string, err error)
	Hash(token string) string
}

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Email  string
	Role   model.Role
}

func (a Actor) isAdmin() bool { return a.Role == model.RoleAdmin }

// isParty reports whether a is the provider or the registered client of appt, or an admin.
func (a Actor) isParty(appt model.Appointment) bool {
	if a.UserID == "" {
		return false
	}
	return a.isAdmin() || appt.ProviderID == a.UserID || model.ClientUserID(appt.Client) == a.UserID
}
