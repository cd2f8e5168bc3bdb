package model

import "time"

const (
	DefaultTimezone           = "America/Sao_Paulo"
	DefaultSlotDuration       = 30
	DefaultBufferTime         = 0
	DefaultMaxBookingsPerSlot = 1
)

// AvailabilityRule is a provider's open-hours window for one weekday. Recurring rules apply
// every week; non-recurring ones only between StartDate and EndDate (inclusive, by date).
type AvailabilityRule struct {
	ID                 string
	ProviderID         string
	DayOfWeek          time.Weekday
	StartTime          string // HH:mm
	EndTime            string // HH:mm
	IsRecurring        bool
	StartDate          *time.Time
	EndDate            *time.Time
	Timezone           string
	SlotDuration       int // minutes
	BufferTime         int // minutes
	MaxBookingsPerSlot int
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Location resolves the rule's timezone, falling back to UTC for unknown names.
func (r AvailabilityRule) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AppliesOn reports whether the rule opens on the calendar date of date. StartDate and EndDate
// are compared as plain dates.
func (r AvailabilityRule) AppliesOn(date time.Time) bool {
	if !r.IsActive || date.Weekday() != r.DayOfWeek {
		return false
	}
	if r.IsRecurring {
		return true
	}
	day := dateOnly(date)
	if r.StartDate != nil && day.Before(dateOnly(*r.StartDate)) {
		return false
	}
	if r.EndDate != nil && day.After(dateOnly(*r.EndDate)) {
		return false
	}
	return true
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DefaultWeekdayRules is the Mon-Fri 09:00-17:00 schedule with hour-long slots given to
// providers that have not configured any availability.
func DefaultWeekdayRules(providerID, timezone string) []AvailabilityRule {
	rules := make([]AvailabilityRule, 0, 5)
	for d := time.Monday; d <= time.Friday; d++ {
		rules = append(rules, AvailabilityRule{
			ProviderID:         providerID,
			DayOfWeek:          d,
			StartTime:          "09:00",
			EndTime:            "17:00",
			IsRecurring:        true,
			Timezone:           timezone,
			SlotDuration:       60,
			BufferTime:         0,
			MaxBookingsPerSlot: DefaultMaxBookingsPerSlot,
			IsActive:           true,
		})
	}
	return rules
}
