package booking

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"go.opentelemetry.io/otel/attribute"
)

const (
	actionConfirm  = "confirm"
	actionCancel   = "cancel"
	actionComplete = "complete"
	actionNoShow   = "mark as no-show"
	actionUpdate   = "update"
	actionReopen   = "reopen"

	maxIdempotencyKeyLen = 255
	maxReasonLen         = 500
	publicCanceller      = "public"
)

// Details are the descriptive fields of an appointment.
type Details struct {
	ServiceType string
	Title       string
	Description string
	Location    string
	MeetingLink string
}

func (d Details) validate() error {
	limits := []struct {
		name  string
		value string
		max   int
	}{
		{"serviceType", d.ServiceType, 100},
		{"title", d.Title, 200},
		{"description", d.Description, 1000},
		{"location", d.Location, 200},
	}
	for _, l := range limits {
		if utf8.RuneCountInString(l.value) > l.max {
			return invalidInput("%s must be at most %d characters", l.name, l.max)
		}
	}
	if d.MeetingLink != "" {
		u, err := url.ParseRequestURI(d.MeetingLink)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalidInput("meetingLink must be an http(s) URL")
		}
	}
	return nil
}

func (d Details) applyTo(a *model.Appointment) {
	a.ServiceType = d.ServiceType
	a.Title = d.Title
	a.Description = d.Description
	a.Location = d.Location
	a.MeetingLink = d.MeetingLink
}

type CreateRequest struct {
	ProviderID string
	// ClientID lets a provider or admin book for a registered client. Empty means the actor.
	ClientID       string
	StartTime      time.Time
	Duration       int
	Details        Details
	IdempotencyKey string
}

type PublicRequest struct {
	ProviderID string
	StartTime  time.Time
	Duration   int
	Name       string
	Email      string
	Phone      string
	Details    Details
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	StartTime   *time.Time
	Duration    *int
	ServiceType *string
	Title       *string
	Description *string
	Location    *string
	MeetingLink *string
	Status      *model.Status
	// Reason is recorded when Status moves the appointment to CANCELLED.
	Reason string
}

func validateDuration(minutes int) error {
	if minutes < availability.MinSlotDuration || minutes > availability.MaxSlotDuration {
		return invalidInput("duration must be between %d and %d minutes", availability.MinSlotDuration, availability.MaxSlotDuration)
	}
	return nil
}

// Create books a slot for a registered client.
func (e *Engine) Create(ctx context.Context, actor Actor, req CreateRequest) (appt model.Appointment, err error) {
	ctx, done := e.begin(ctx, "create", attribute.String("provider.id", req.ProviderID))
	defer func() { done(err) }()

	if actor.UserID == "" {
		return model.Appointment{}, forbidden("authentication required")
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return model.Appointment{}, invalidInput("Idempotency-Key must be at most %d characters", maxIdempotencyKeyLen)
	}
	clientID := actor.UserID
	if req.ClientID != "" && req.ClientID != actor.UserID {
		if !actor.Role.CanProvide() {
			return model.Appointment{}, forbidden("only providers can book on behalf of another client")
		}
		if _, err := e.store.GetUser(ctx, req.ClientID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return model.Appointment{}, notFound("client")
			}
			return model.Appointment{}, err
		}
		clientID = req.ClientID
	}

	appt = model.Appointment{
		ProviderID: req.ProviderID,
		Client:     model.RegisteredClient{UserID: clientID},
		StartTime:  req.StartTime,
		Duration:   req.Duration,
	}
	req.Details.applyTo(&appt)

	res, err := e.book(ctx, appt, req.Details, actor.UserID, req.IdempotencyKey)
	if err != nil {
		return model.Appointment{}, err
	}
	if !res.replayed {
		e.notifyConfirmation(ctx, res.confirmation(), clientID)
	}
	return res.appt, nil
}

// CreatePublic books a slot for an anonymous client and returns the raw access token.
// The token is not stored and cannot be recovered later.
func (e *Engine) CreatePublic(ctx context.Context, req PublicRequest) (appt model.Appointment, token string, err error) {
	ctx, done := e.begin(ctx, "create_public", attribute.String("provider.id", req.ProviderID))
	defer func() { done(err) }()

	client, err := anonymousClient(req.Name, req.Email, req.Phone)
	if err != nil {
		return model.Appointment{}, "", err
	}
	token, hash, err := e.tokens.New()
	if err != nil {
		return model.Appointment{}, "", err
	}

	appt = model.Appointment{
		ProviderID:      req.ProviderID,
		Client:          client,
		PublicTokenHash: hash,
		StartTime:       req.StartTime,
		Duration:        req.Duration,
	}
	req.Details.applyTo(&appt)

	res, err := e.book(ctx, appt, req.Details, "", "")
	if err != nil {
		return model.Appointment{}, "", err
	}
	c := res.confirmation()
	c.To, c.ClientName, c.PublicToken = client.Email, client.Name, token
	e.notifyConfirmation(ctx, c, "")
	return res.appt, token, nil
}

func anonymousClient(name, email, phone string) (model.AnonymousClient, error) {
	name, email, phone = strings.TrimSpace(name), strings.TrimSpace(email), strings.TrimSpace(phone)
	if n := utf8.RuneCountInString(name); n < 2 || n > 100 {
		return model.AnonymousClient{}, invalidInput("name must be between 2 and 100 characters")
	}
	if len(email) > 255 {
		return model.AnonymousClient{}, invalidInput("email must be at most 255 characters")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return model.AnonymousClient{}, invalidInput("email is not valid")
	}
	if len(phone) > 20 {
		return model.AnonymousClient{}, invalidInput("phone must be at most 20 characters")
	}
	return model.AnonymousClient{Name: name, Email: email, Phone: phone}, nil
}

type booked struct {
	appt     model.Appointment
	provider model.User
	slot     availability.Slot
	replayed bool
}

func (b booked) confirmation() Confirmation {
	return Confirmation{
		ProviderName: b.provider.Name,
		Date:         b.slot.Date,
		Time:         b.slot.Time,
		Duration:     b.appt.Duration,
		Location:     b.appt.Location,
	}
}

// book is the shared create path. Under the provider lock it re-reads blocking appointments,
// rejects overlaps with ErrConflict, requires the start to be an open slot, then inserts the
// appointment with its outbox event (and idempotency record when a key is given).
func (e *Engine) book(ctx context.Context, appt model.Appointment, details Details, idemScope, idemKey string) (booked, error) {
	if err := validateDuration(appt.Duration); err != nil {
		return booked{}, err
	}
	if appt.StartTime.IsZero() {
		return booked{}, invalidInput("startTime is required")
	}
	now := e.clock.Now()
	if appt.StartTime.Before(now) {
		return booked{}, invalidInput("startTime must not be in the past")
	}
	if err := details.validate(); err != nil {
		return booked{}, err
	}
	provider, err := e.resolveProvider(ctx, appt.ProviderID)
	if err != nil {
		return booked{}, err
	}
	if e.opts.AutoProvision {
		if _, err := e.provision(ctx, provider.ID); err != nil {
			return booked{}, err
		}
	}
	rules, err := e.store.ListRules(ctx, provider.ID)
	if err != nil {
		return booked{}, err
	}

	appt.EndTime = appt.StartTime.Add(time.Duration(appt.Duration) * time.Minute)
	appt.Status = model.StatusPending
	res := booked{provider: provider}

	err = e.store.WithProviderLock(ctx, provider.ID, func(tx Tx) error {
		if idemKey != "" {
			id, found, err := tx.LookupIdempotencyKey(ctx, idemScope, idemKey)
			if err != nil {
				return err
			}
			if found {
				prev, err := tx.GetAppointmentForUpdate(ctx, id)
				if err != nil {
					return err
				}
				if prev.ProviderID != appt.ProviderID || !prev.StartTime.Equal(appt.StartTime) {
					return fmt.Errorf("%w: Idempotency-Key was already used for a different booking", ErrConflict)
				}
				res.appt, res.replayed = prev, true
				return nil
			}
		}

		horizon := appt.StartTime.Add(availability.MaxSlotDuration * time.Minute)
		blocking, err := tx.ListBlocking(ctx, provider.ID, appt.StartTime, maxTime(appt.EndTime, horizon), "")
		if err != nil {
			return err
		}
		for _, b := range blocking {
			if b.Blocks(appt.StartTime, appt.EndTime) {
				return fmt.Errorf("%w: time overlaps an existing appointment", ErrConflict)
			}
		}

		slots := availability.MarkAvailability(availability.Generate(rules, appt.StartTime, appt.EndTime), blocking, now)
		slot, ok := availability.Find(slots, appt.StartTime)
		if !ok || !slot.Available {
			return fmt.Errorf("%w: requested time is not an open slot", ErrSlotUnavailable)
		}
		if appt.EndTime.After(slot.WindowEnd) {
			return fmt.Errorf("%w: appointment runs past the end of the availability window", ErrSlotUnavailable)
		}
		res.slot = slot.Slot

		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			return err
		}
		evt, err := appointmentEvent(EventCreated, appt)
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, evt); err != nil {
			return err
		}
		if idemKey != "" {
			if err := tx.SaveIdempotencyKey(ctx, idemScope, idemKey, appt.ID); err != nil {
				return err
			}
		}
		res.appt = appt
		return nil
	})
	if err != nil {
		return booked{}, err
	}
	return res, nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// authorize checks whether actor may perform act on appt.
func authorize(appt model.Appointment, actor Actor, act string) error {
	switch act {
	case actionConfirm:
		if actor.UserID == "" || actor.UserID != appt.ProviderID {
			return forbidden("only the provider can confirm this appointment")
		}
	case actionComplete, actionNoShow:
		if actor.UserID == "" || (actor.UserID != appt.ProviderID && !actor.isAdmin()) {
			return forbidden("only the provider can %s this appointment", act)
		}
	default:
		if !actor.isParty(appt) {
			return forbidden("you do not have access to this appointment")
		}
	}
	return nil
}

// transition moves appt along the state machine and returns the event to publish.
// It does not authorize.
func transition(appt *model.Appointment, act, by, reason string, now time.Time) (string, error) {
	switch act {
	case actionConfirm:
		if appt.Status != model.StatusPending {
			return "", &TransitionError{Action: act, Status: appt.Status}
		}
		appt.Status = model.StatusConfirmed
		appt.ConfirmationSent = true
		return EventConfirmed, nil
	case actionCancel:
		if !appt.Status.Blocking() {
			return "", &TransitionError{Action: act, Status: appt.Status}
		}
		if utf8.RuneCountInString(reason) > maxReasonLen {
			return "", invalidInput("reason must be at most %d characters", maxReasonLen)
		}
		at := now
		appt.Status = model.StatusCancelled
		appt.CancelledAt = &at
		appt.CancelledBy = by
		appt.CancellationReason = reason
		return EventCancelled, nil
	case actionComplete:
		if !appt.Status.Blocking() {
			return "", &TransitionError{Action: act, Status: appt.Status}
		}
		appt.Status = model.StatusCompleted
		return EventCompleted, nil
	case actionNoShow:
		if !appt.Status.Blocking() {
			return "", &TransitionError{Action: act, Status: appt.Status}
		}
		appt.Status = model.StatusNoShow
		return EventNoShow, nil
	}
	return "", fmt.Errorf("unknown action %q", act)
}

// statusAction maps a requested target status onto a state machine action.
func statusAction(current, target model.Status) (string, error) {
	switch target {
	case model.StatusConfirmed:
		return actionConfirm, nil
	case model.StatusCancelled:
		return actionCancel, nil
	case model.StatusCompleted:
		return actionComplete, nil
	case model.StatusNoShow:
		return actionNoShow, nil
	case model.StatusPending:
		if current == model.StatusPending {
			return "", nil
		}
		return "", &TransitionError{Action: actionReopen, Status: current}
	}
	return "", invalidInput("unknown status %q", target)
}

// mutate loads appointment id under its provider's lock, lets fn change it and persists the
// result with fn's events. When fn returns no events nothing is written.
func (e *Engine) mutate(ctx context.Context, id string, check func(model.Appointment) error, fn func(tx Tx, a *model.Appointment, now time.Time) ([]string, error)) (model.Appointment, error) {
	current, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Appointment{}, notFound("appointment")
		}
		return model.Appointment{}, err
	}
	if err := check(current); err != nil {
		return model.Appointment{}, err
	}

	var out model.Appointment
	err = e.store.WithProviderLock(ctx, current.ProviderID, func(tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		events, err := fn(tx, &appt, now)
		if err != nil {
			return err
		}
		out = appt
		if len(events) == 0 {
			return nil
		}
		appt.UpdatedAt = now
		if err := tx.UpdateAppointment(ctx, &appt); err != nil {
			return err
		}
		for _, eventType := range events {
			evt, err := appointmentEvent(eventType, appt)
			if err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, evt); err != nil {
				return err
			}
		}
		out = appt
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return out, nil
}

func (e *Engine) changeStatus(ctx context.Context, id string, actor Actor, act, reason string) (model.Appointment, error) {
	check := func(a model.Appointment) error { return authorize(a, actor, act) }
	return e.mutate(ctx, id, check, func(_ Tx, a *model.Appointment, now time.Time) ([]string, error) {
		evt, err := transition(a, act, actor.UserID, reason, now)
		if err != nil {
			return nil, err
		}
		return []string{evt}, nil
	})
}

// Confirm moves a pending appointment to CONFIRMED. Only the owning provider may confirm.
func (e *Engine) Confirm(ctx context.Context, id string, actor Actor) (appt model.Appointment, err error) {
	ctx, done := e.begin(ctx, "confirm", attribute.String("appointment.id", id))
	defer func() { done(err) }()
	return e.changeStatus(ctx, id, actor, actionConfirm, "")
}

func (e *Engine) Cancel(ctx context.Context, id string, actor Actor, reason string) (appt model.Appointment, err error) {
	ctx, done := e.begin(ctx, "cancel", attribute.String("appointment.id", id))
	defer func() { done(err) }()
	return e.changeStatus(ctx, id, actor, actionCancel, strings.TrimSpace(reason))
}

func (e *Engine) Complete(ctx context.Context, id string, actor Actor) (appt model.Appointment, err error) {
	ctx, done := e.begin(ctx, "complete", attribute.String("appointment.id", id))
	defer func() { done(err) }()
	return e.changeStatus(ctx, id, actor, actionComplete, "")
}

func (e *Engine) MarkNoShow(ctx context.Context, id string, actor Actor) (appt model.Appointment, err error) {
	ctx, done := e.begin(ctx, "no_show", attribute.String("appointment.id", id))
	defer func() { done(err) }()
	return e.changeStatus(ctx, id, actor, actionNoShow, "")
}

// Update applies p. A new start or duration is re-checked against the clock and against
// other blocking appointments; a status is routed through the state machine.
func (e *Engine) Update(ctx context.Context, id string, actor Actor, p Patch) (appt model.Appointment, err error) {
	ctx, done := e.begin(ctx, "update", attribute.String("appointment.id", id))
	defer func() { done(err) }()

	check := func(a model.Appointment) error { return authorize(a, actor, actionUpdate) }
	return e.mutate(ctx, id, check, func(tx Tx, a *model.Appointment, now time.Time) ([]string, error) {
		if a.Status.Terminal() {
			return nil, &TransitionError{Action: actionUpdate, Status: a.Status}
		}
		var events []string

		details := Details{ServiceType: a.ServiceType, Title: a.Title, Description: a.Description, Location: a.Location, MeetingLink: a.MeetingLink}
		changed := setIfChanged(&details.ServiceType, p.ServiceType)
		changed = setIfChanged(&details.Title, p.Title) || changed
		changed = setIfChanged(&details.Description, p.Description) || changed
		changed = setIfChanged(&details.Location, p.Location) || changed
		changed = setIfChanged(&details.MeetingLink, p.MeetingLink) || changed
		if err := details.validate(); err != nil {
			return nil, err
		}
		details.applyTo(a)

		start, duration := a.StartTime, a.Duration
		if p.StartTime != nil {
			start = *p.StartTime
		}
		if p.Duration != nil {
			duration = *p.Duration
		}
		if !start.Equal(a.StartTime) || duration != a.Duration {
			if err := validateDuration(duration); err != nil {
				return nil, err
			}
			if start.Before(now) {
				return nil, invalidInput("startTime must not be in the past")
			}
			end := start.Add(time.Duration(duration) * time.Minute)
			others, err := tx.ListBlocking(ctx, a.ProviderID, start, end, a.ID)
			if err != nil {
				return nil, err
			}
			for _, o := range others {
				if o.Blocks(start, end) {
					return nil, fmt.Errorf("%w: time overlaps an existing appointment", ErrConflict)
				}
			}
			a.StartTime, a.EndTime, a.Duration = start, end, duration
			changed = true
		}
		if changed {
			events = append(events, EventUpdated)
		}

		if p.Status != nil && *p.Status != a.Status {
			act, err := statusAction(a.Status, *p.Status)
			if err != nil {
				return nil, err
			}
			if act != "" {
				if err := authorize(*a, actor, act); err != nil {
					return nil, err
				}
				evt, err := transition(a, act, actor.UserID, strings.TrimSpace(p.Reason), now)
				if err != nil {
					return nil, err
				}
				events = append(events, evt)
			}
		}
		return events, nil
	})
}

func setIfChanged(dst *string, v *string) bool {
	if v == nil {
		return false
	}
	next := strings.TrimSpace(*v)
	if next == *dst {
		return false
	}
	*dst = next
	return true
}

// Get returns an appointment visible to actor.
func (e *Engine) Get(ctx context.Context, id string, actor Actor) (model.Appointment, error) {
	appt, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Appointment{}, notFound("appointment")
		}
		return model.Appointment{}, err
	}
	if err := authorize(appt, actor, "view"); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// ListAppointments returns the actor's appointments ordered by start time: the ones they
// provide for providers and admins, their own bookings for clients.
func (e *Engine) ListAppointments(ctx context.Context, actor Actor) ([]model.Appointment, error) {
	if actor.UserID == "" {
		return nil, forbidden("authentication required")
	}
	f := AppointmentFilter{ClientID: actor.UserID}
	if actor.Role.CanProvide() {
		f = AppointmentFilter{ProviderID: actor.UserID}
	}
	return e.store.ListAppointments(ctx, f)
}

func (e *Engine) ListProviders(ctx context.Context) ([]model.User, error) {
	return e.store.ListProviders(ctx)
}

func (e *Engine) resolveToken(ctx context.Context, token string) (model.Appointment, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Appointment{}, notFound("appointment")
	}
	appt, err := e.store.GetAppointmentByTokenHash(ctx, e.tokens.Hash(token))
	if errors.Is(err, ErrNotFound) {
		return model.Appointment{}, notFound("appointment")
	}
	return appt, err
}

// GetByToken resolves a public token to its appointment.
func (e *Engine) GetByToken(ctx context.Context, token string) (model.Appointment, error) {
	return e.resolveToken(ctx, token)
}

// CancelByToken cancels the appointment the token grants access to. The token is the only
// credential.
func (e *Engine) CancelByToken(ctx context.Context, token, reason string) (appt model.Appointment, err error) {
	ctx, done := e.begin(ctx, "cancel_public")
	defer func() { done(err) }()

	current, err := e.resolveToken(ctx, token)
	if err != nil {
		return model.Appointment{}, err
	}
	reason = strings.TrimSpace(reason)
	return e.mutate(ctx, current.ID, func(model.Appointment) error { return nil }, func(_ Tx, a *model.Appointment, now time.Time) ([]string, error) {
		evt, err := transition(a, actionCancel, publicCanceller, reason, now)
		if err != nil {
			return nil, err
		}
		return []string{evt}, nil
	})
}
