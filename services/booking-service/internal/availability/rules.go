package availability

import (
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/timeofday"
)

const (
	MinSlotDuration = 5
	MaxSlotDuration = 480
	MaxBufferTime   = 60
)

// ApplyDefaults fills zero values with the documented rule defaults.
func ApplyDefaults(r *model.AvailabilityRule, timezone string) {
	if r.Timezone == "" {
		r.Timezone = timezone
	}
	if r.Timezone == "" {
		r.Timezone = model.DefaultTimezone
	}
	if r.SlotDuration == 0 {
		r.SlotDuration = model.DefaultSlotDuration
	}
	if r.MaxBookingsPerSlot == 0 {
		r.MaxBookingsPerSlot = model.DefaultMaxBookingsPerSlot
	}
}

// Validate checks a rule's shape. It does not look at other rules.
func Validate(r model.AvailabilityRule) error {
	var errs []error
	if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
		errs = append(errs, fmt.Errorf("dayOfWeek must be 0-6"))
	}
	start, err := timeofday.ToMinutes(r.StartTime)
	if err != nil {
		errs = append(errs, fmt.Errorf("startTime: %w", err))
	}
	end, err2 := timeofday.ToMinutes(r.EndTime)
	if err2 != nil {
		errs = append(errs, fmt.Errorf("endTime: %w", err2))
	}
	if err == nil && err2 == nil && end <= start {
		errs = append(errs, errors.New("endTime must be after startTime"))
	}
	if r.SlotDuration < MinSlotDuration || r.SlotDuration > MaxSlotDuration {
		errs = append(errs, fmt.Errorf("slotDuration must be between %d and %d minutes", MinSlotDuration, MaxSlotDuration))
	}
	if r.BufferTime < 0 || r.BufferTime > MaxBufferTime {
		errs = append(errs, fmt.Errorf("bufferTime must be between 0 and %d minutes", MaxBufferTime))
	}
	if r.MaxBookingsPerSlot < 1 {
		errs = append(errs, errors.New("maxBookingsPerSlot must be at least 1"))
	}
	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		errs = append(errs, errors.New("endDate must not be before startDate"))
	}
	if r.Timezone != "" && r.Location().String() != r.Timezone {
		errs = append(errs, fmt.Errorf("unknown timezone %q", r.Timezone))
	}
	return errors.Join(errs...)
}
