// Package timeofday converts between "HH:mm" wall-clock strings, minute offsets from
// midnight and absolute timestamps. Ranges never roll over into the next day.
package timeofday

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

const minutesPerDay = 24 * 60

var (
	ErrInvalid = errors.New("time of day must be HH:mm (00:00-23:59)")

	clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
)

func Valid(s string) bool {
	return clockPattern.MatchString(s)
}

// ToMinutes("09:30") == 570.
func ToMinutes(s string) (int, error) {
	if !Valid(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	return h*60 + m, nil
}

// FromMinutes(570) == "09:30". Values outside one day wrap modulo 24h.
func FromMinutes(m int) string {
	m %= minutesPerDay
	if m < 0 {
		m += minutesPerDay
	}
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func AddMinutes(s string, n int) (string, error) {
	m, err := ToMinutes(s)
	if err != nil {
		return "", err
	}
	return FromMinutes(m + n), nil
}

// Combine returns the instant at hhmm on date's calendar day, in date's location,
// with seconds and sub-seconds zeroed.
func Combine(date time.Time, hhmm string) (time.Time, error) {
	m, err := ToMinutes(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := date.Date()
	return time.Date(y, mo, d, m/60, m%60, 0, 0, date.Location()), nil
}

// Overlaps treats both ranges as half-open, so ranges that only touch do not overlap.
func Overlaps(startA, endA, startB, endB time.Time) bool {
	return startA.Before(endB) && startB.Before(endA)
}
