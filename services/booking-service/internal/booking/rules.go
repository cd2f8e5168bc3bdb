package booking

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"go.opentelemetry.io/otel/attribute"
)

// MaxSlotRange bounds a single slot query.
const MaxSlotRange = 62 * 24 * time.Hour

// RuleInput describes a new availability rule. Zero values take the rule defaults;
// IsRecurring and IsActive default to true when nil.
type RuleInput struct {
	// ProviderID lets an admin create a rule for another provider.
	ProviderID         string
	DayOfWeek          time.Weekday
	StartTime          string
	EndTime            string
	IsRecurring        *bool
	StartDate          *time.Time
	EndDate            *time.Time
	Timezone           string
	SlotDuration       int
	BufferTime         int
	MaxBookingsPerSlot int
	IsActive           *bool
}

type RulePatch struct {
	DayOfWeek          *time.Weekday
	StartTime          *string
	EndTime            *string
	IsRecurring        *bool
	StartDate          *time.Time
	EndDate            *time.Time
	Timezone           *string
	SlotDuration       *int
	BufferTime         *int
	MaxBookingsPerSlot *int
	IsActive           *bool
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// ownerFor returns the provider whose rules actor is allowed to manage.
func ownerFor(actor Actor, providerID string) (string, error) {
	if actor.UserID == "" || !actor.Role.CanProvide() {
		return "", forbidden("only providers can manage availability")
	}
	if providerID == "" || providerID == actor.UserID {
		return actor.UserID, nil
	}
	if !actor.isAdmin() {
		return "", forbidden("cannot manage another provider's availability")
	}
	return providerID, nil
}

// CreateRule adds a rule for the actor (or, for admins, in.ProviderID). A provider may hold
// only one active rule per weekday.
func (e *Engine) CreateRule(ctx context.Context, actor Actor, in RuleInput) (rule model.AvailabilityRule, err error) {
	ctx, done := e.begin(ctx, "create_rule")
	defer func() { done(err) }()

	providerID, err := ownerFor(actor, in.ProviderID)
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	rule = model.AvailabilityRule{
		ProviderID:         providerID,
		DayOfWeek:          in.DayOfWeek,
		StartTime:          in.StartTime,
		EndTime:            in.EndTime,
		IsRecurring:        boolOr(in.IsRecurring, true),
		StartDate:          in.StartDate,
		EndDate:            in.EndDate,
		Timezone:           in.Timezone,
		SlotDuration:       in.SlotDuration,
		BufferTime:         in.BufferTime,
		MaxBookingsPerSlot: in.MaxBookingsPerSlot,
		IsActive:           boolOr(in.IsActive, true),
	}
	availability.ApplyDefaults(&rule, e.opts.DefaultTimezone)
	if err := availability.Validate(rule); err != nil {
		return model.AvailabilityRule{}, validationError(err)
	}

	err = e.store.WithProviderLock(ctx, providerID, func(tx Tx) error {
		existing, err := tx.ListRules(ctx, providerID)
		if err != nil {
			return err
		}
		if rule.IsActive {
			for _, r := range existing {
				if r.IsActive && r.DayOfWeek == rule.DayOfWeek {
					return invalidInput("an active availability rule already exists for %s", rule.DayOfWeek)
				}
			}
		}
		rules := []model.AvailabilityRule{rule}
		if err := tx.InsertRules(ctx, rules); err != nil {
			return err
		}
		rule = rules[0]
		return nil
	})
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	return rule, nil
}

func (e *Engine) ownedRule(ctx context.Context, actor Actor, id string) (model.AvailabilityRule, error) {
	rule, err := e.store.GetRule(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return model.AvailabilityRule{}, notFound("availability rule")
	}
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	if actor.UserID == "" || (rule.ProviderID != actor.UserID && !actor.isAdmin()) {
		return model.AvailabilityRule{}, forbidden("cannot manage another provider's availability")
	}
	return rule, nil
}

func (e *Engine) UpdateRule(ctx context.Context, actor Actor, id string, p RulePatch) (rule model.AvailabilityRule, err error) {
	ctx, done := e.begin(ctx, "update_rule", attribute.String("rule.id", id))
	defer func() { done(err) }()

	rule, err = e.ownedRule(ctx, actor, id)
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	if p.DayOfWeek != nil {
		rule.DayOfWeek = *p.DayOfWeek
	}
	if p.StartTime != nil {
		rule.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		rule.EndTime = *p.EndTime
	}
	if p.IsRecurring != nil {
		rule.IsRecurring = *p.IsRecurring
	}
	if p.StartDate != nil {
		rule.StartDate = p.StartDate
	}
	if p.EndDate != nil {
		rule.EndDate = p.EndDate
	}
	if p.Timezone != nil {
		rule.Timezone = *p.Timezone
	}
	if p.SlotDuration != nil {
		rule.SlotDuration = *p.SlotDuration
	}
	if p.BufferTime != nil {
		rule.BufferTime = *p.BufferTime
	}
	if p.MaxBookingsPerSlot != nil {
		rule.MaxBookingsPerSlot = *p.MaxBookingsPerSlot
	}
	if p.IsActive != nil {
		rule.IsActive = *p.IsActive
	}
	if err := availability.Validate(rule); err != nil {
		return model.AvailabilityRule{}, validationError(err)
	}
	rule.UpdatedAt = e.clock.Now()
	if err := e.store.UpdateRule(ctx, &rule); err != nil {
		return model.AvailabilityRule{}, err
	}
	return rule, nil
}

func (e *Engine) DeleteRule(ctx context.Context, actor Actor, id string) (err error) {
	ctx, done := e.begin(ctx, "delete_rule", attribute.String("rule.id", id))
	defer func() { done(err) }()

	if _, err := e.ownedRule(ctx, actor, id); err != nil {
		return err
	}
	return e.store.DeleteRule(ctx, id)
}

func (e *Engine) ListRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error) {
	if providerID == "" {
		return nil, invalidInput("providerId is required")
	}
	return e.store.ListRules(ctx, providerID)
}

// ProvisionDefaults gives a provider with no rules the Mon-Fri 09:00-17:00 hourly schedule.
// It reports whether rules were created; repeated calls are no-ops.
func (e *Engine) ProvisionDefaults(ctx context.Context, providerID string) (created bool, err error) {
	ctx, done := e.begin(ctx, "provision_defaults", attribute.String("provider.id", providerID))
	defer func() { done(err) }()

	if _, err := e.resolveProvider(ctx, providerID); err != nil {
		return false, err
	}
	return e.provision(ctx, providerID)
}

// ProvisionDefaultsFor is ProvisionDefaults on behalf of an authenticated provider (or an
// admin naming providerID).
func (e *Engine) ProvisionDefaultsFor(ctx context.Context, actor Actor, providerID string) (string, bool, error) {
	owner, err := ownerFor(actor, providerID)
	if err != nil {
		return "", false, err
	}
	created, err := e.ProvisionDefaults(ctx, owner)
	return owner, created, err
}

func (e *Engine) provision(ctx context.Context, providerID string) (bool, error) {
	var created bool
	err := e.store.WithProviderLock(ctx, providerID, func(tx Tx) error {
		existing, err := tx.ListRules(ctx, providerID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		if err := tx.InsertRules(ctx, model.DefaultWeekdayRules(providerID, e.opts.DefaultTimezone)); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if created {
		e.logger.Info("default availability provisioned", "provider_id", providerID)
	}
	return created, nil
}

// ListSlots returns every candidate slot of providerID between start and end (inclusive
// calendar days) with its availability. It never writes unless AutoProvision is set.
func (e *Engine) ListSlots(ctx context.Context, providerID string, start, end time.Time) (slots []availability.SlotAvailability, err error) {
	ctx, done := e.begin(ctx, "list_slots", attribute.String("provider.id", providerID))
	defer func() { done(err) }()

	if start.IsZero() || end.IsZero() {
		return nil, invalidInput("start and end are required")
	}
	if end.Before(start) {
		return nil, invalidInput("end must not be before start")
	}
	if end.Sub(start) > MaxSlotRange {
		return nil, invalidInput("range must not exceed %d days", int(MaxSlotRange/(24*time.Hour)))
	}
	return e.listSlots(ctx, providerID, func(rules []model.AvailabilityRule) []availability.Slot {
		return availability.Generate(rules, start, end)
	})
}

// ListSlotsOnDates is ListSlots for plain calendar dates: only the year, month and day of
// firstDay and lastDay count, and each rule's timezone decides when those days begin.
func (e *Engine) ListSlotsOnDates(ctx context.Context, providerID string, firstDay, lastDay time.Time) (slots []availability.SlotAvailability, err error) {
	ctx, done := e.begin(ctx, "list_slots", attribute.String("provider.id", providerID))
	defer func() { done(err) }()

	if firstDay.IsZero() || lastDay.IsZero() {
		return nil, invalidInput("start and end are required")
	}
	fy, fm, fd := firstDay.Date()
	ly, lm, ld := lastDay.Date()
	span := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC).Sub(time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC))
	if span < 0 {
		return nil, invalidInput("end must not be before start")
	}
	if span > MaxSlotRange {
		return nil, invalidInput("range must not exceed %d days", int(MaxSlotRange/(24*time.Hour)))
	}
	return e.listSlots(ctx, providerID, func(rules []model.AvailabilityRule) []availability.Slot {
		return availability.GenerateDays(rules, firstDay, lastDay)
	})
}

func (e *Engine) listSlots(ctx context.Context, providerID string, generate func([]model.AvailabilityRule) []availability.Slot) ([]availability.SlotAvailability, error) {
	if _, err := e.resolveProvider(ctx, providerID); err != nil {
		return nil, err
	}
	if e.opts.AutoProvision {
		if _, err := e.provision(ctx, providerID); err != nil {
			return nil, err
		}
	}
	rules, err := e.store.ListRules(ctx, providerID)
	if err != nil {
		return nil, err
	}

	candidates := generate(rules)
	if len(candidates) == 0 {
		e.metrics.ObserveSlots(0)
		return []availability.SlotAvailability{}, nil
	}
	from, to := candidates[0].Start, candidates[0].End
	for _, s := range candidates[1:] {
		to = maxTime(to, s.End)
	}
	appts, err := e.store.ListAppointments(ctx, AppointmentFilter{ProviderID: providerID, From: from, To: to, BlockingOnly: true})
	if err != nil {
		return nil, err
	}
	slots := availability.MarkAvailability(candidates, appts, e.clock.Now())
	e.metrics.ObserveSlots(len(slots))
	return slots, nil
}
