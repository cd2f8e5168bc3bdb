package availability

import (
	"sort"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/timeofday"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Slot is a candidate start time produced from a provider's rules. Date and Time are the
// wall-clock values in the rule's timezone.
type Slot struct {
	Date     string // YYYY-MM-DD
	Time     string // HH:mm
	Start    time.Time
	End      time.Time
	Duration int // minutes
	// WindowEnd closes the (merged) availability window the slot was cut from.
	WindowEnd time.Time
}

type SlotAvailability struct {
	Slot
	Available bool
}

type window struct {
	start, end   int // minutes from midnight
	slotDuration int
	bufferTime   int
}

// Generate expands rules into candidate slots for every calendar day in
// [rangeStart, rangeEnd], inclusive, evaluated in each rule's own timezone.
//
// Overlapping windows that open on the same day are merged before slots are cut, so a day is
// sliced once. A merged window keeps the slot duration and buffer of the rule that opens first.
// Within a window the next start is previous start + duration + buffer, and a slot that would
// run past the window's end is never emitted.
func Generate(rules []model.AvailabilityRule, rangeStart, rangeEnd time.Time) []Slot {
	if rangeEnd.Before(rangeStart) {
		return nil
	}
	return generate(rules, func(loc *time.Location) (time.Time, time.Time) {
		return midnight(rangeStart.In(loc)), midnight(rangeEnd.In(loc))
	})
}

// GenerateDays is Generate over calendar days. Only the year, month and day of firstDay and
// lastDay are read; each rule's timezone decides when those days begin and end.
func GenerateDays(rules []model.AvailabilityRule, firstDay, lastDay time.Time) []Slot {
	if dateIn(lastDay, time.UTC).Before(dateIn(firstDay, time.UTC)) {
		return nil
	}
	return generate(rules, func(loc *time.Location) (time.Time, time.Time) {
		return dateIn(firstDay, loc), dateIn(lastDay, loc)
	})
}

func generate(rules []model.AvailabilityRule, days func(*time.Location) (time.Time, time.Time)) []Slot {
	groups := map[string][]model.AvailabilityRule{}
	var zones []string
	for _, r := range rules {
		if !r.IsActive || r.SlotDuration <= 0 {
			continue
		}
		loc := r.Location()
		if _, ok := groups[loc.String()]; !ok {
			zones = append(zones, loc.String())
		}
		groups[loc.String()] = append(groups[loc.String()], r)
	}

	var slots []Slot
	for _, zone := range zones {
		zoneRules := groups[zone]
		loc := zoneRules[0].Location()
		first, last := days(loc)
		for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
			for _, w := range dayWindows(zoneRules, day) {
				slots = append(slots, cut(day, w)...)
			}
		}
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots
}

func dayWindows(rules []model.AvailabilityRule, day time.Time) []window {
	var windows []window
	for _, r := range rules {
		if !r.AppliesOn(day) {
			continue
		}
		start, err := timeofday.ToMinutes(r.StartTime)
		if err != nil {
			continue
		}
		end, err := timeofday.ToMinutes(r.EndTime)
		if err != nil || end <= start {
			continue
		}
		windows = append(windows, window{start: start, end: end, slotDuration: r.SlotDuration, bufferTime: max(r.BufferTime, 0)})
	}
	return mergeWindows(windows)
}

func mergeWindows(windows []window) []window {
	if len(windows) < 2 {
		return windows
	}
	sort.SliceStable(windows, func(i, j int) bool { return windows[i].start < windows[j].start })

	merged := []window{windows[0]}
	for _, w := range windows[1:] {
		cur := &merged[len(merged)-1]
		if w.start < cur.end {
			cur.end = max(cur.end, w.end)
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

func cut(day time.Time, w window) []Slot {
	var slots []Slot
	date := day.Format(time.DateOnly)
	for m := w.start; m+w.slotDuration <= w.end; m += w.slotDuration + w.bufferTime {
		hhmm := timeofday.FromMinutes(m)
		start, err := timeofday.Combine(day, hhmm)
		if err != nil {
			break
		}
		slots = append(slots, Slot{
			Date:      date,
			Time:      hhmm,
			Start:     start,
			End:       start.Add(time.Duration(w.slotDuration) * time.Minute),
			Duration:  w.slotDuration,
			WindowEnd: start.Add(time.Duration(w.end-m) * time.Minute),
		})
	}
	return slots
}

// MarkAvailability flags each slot as bookable unless it starts before now or overlaps a
// pending or confirmed appointment. Appointments block their own [StartTime, EndTime), so
// bookings longer than a slot block every slot they cover. Slots sharing a date and time are
// reported once, keeping the first.
func MarkAvailability(slots []Slot, appointments []model.Appointment, now time.Time) []SlotAvailability {
	busy := make([]Interval, 0, len(appointments))
	for _, a := range appointments {
		if a.Status.Blocking() {
			busy = append(busy, Interval{Start: a.StartTime, End: a.EndTime})
		}
	}

	seen := make(map[string]struct{}, len(slots))
	out := make([]SlotAvailability, 0, len(slots))
	for _, s := range slots {
		key := s.Date + "T" + s.Time
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, SlotAvailability{
			Slot:      s,
			Available: !s.Start.Before(now) && !overlapsAny(s.Start, s.End, busy),
		})
	}
	return out
}

// Find returns the slot starting exactly at start.
func Find(slots []SlotAvailability, start time.Time) (SlotAvailability, bool) {
	for _, s := range slots {
		if s.Start.Equal(start) {
			return s, true
		}
	}
	return SlotAvailability{}, false
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if timeofday.Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}

func midnight(t time.Time) time.Time {
	return dateIn(t, t.Location())
}

// dateIn is midnight in loc of t's calendar date.
func dateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
