package timeofday

import (
	"errors"
	"testing"
	"time"
)

func TestToMinutes(t *testing.T) {
	cases := map[string]int{
		"00:00": 0,
		"09:30": 570,
		"17:00": 1020,
		"23:59": 1439,
	}
	for in, want := range cases {
		got, err := ToMinutes(in)
		if err != nil || got != want {
			t.Fatalf("ToMinutes(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	for _, bad := range []string{"24:00", "9:30", "09:60", "0930", "", "09:30:00"} {
		if _, err := ToMinutes(bad); !errors.Is(err, ErrInvalid) {
			t.Fatalf("ToMinutes(%q): expected ErrInvalid, got %v", bad, err)
		}
	}
}

func TestFromMinutesWrapsWithinDay(t *testing.T) {
	if got := FromMinutes(570); got != "09:30" {
		t.Fatalf("FromMinutes(570) = %q", got)
	}
	if got := FromMinutes(5); got != "00:05" {
		t.Fatalf("expected zero padding, got %q", got)
	}
	if got := FromMinutes(1440 + 61); got != "01:01" {
		t.Fatalf("expected wrap, got %q", got)
	}
	if got := FromMinutes(-30); got != "23:30" {
		t.Fatalf("expected negative wrap, got %q", got)
	}
	if got, _ := AddMinutes("23:30", 45); got != "00:15" {
		t.Fatalf("AddMinutes wrap = %q", got)
	}
}

func TestCombineZeroesSeconds(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	date := time.Date(2026, 3, 2, 18, 45, 12, 999, loc)
	got, err := Combine(date, "09:15")
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	want := time.Date(2026, 3, 2, 9, 15, 0, 0, loc)
	if !got.Equal(want) || got.Location() != loc {
		t.Fatalf("Combine = %s, want %s", got, want)
	}
}

func TestOverlapsHalfOpen(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }

	if !Overlaps(at(10, 0), at(10, 30), at(10, 15), at(10, 45)) {
		t.Fatal("expected overlap")
	}
	if Overlaps(at(10, 15), at(10, 45), at(10, 0), at(10, 30)) != Overlaps(at(10, 0), at(10, 30), at(10, 15), at(10, 45)) {
		t.Fatal("overlap must be symmetric")
	}
	if Overlaps(at(10, 0), at(10, 30), at(10, 30), at(11, 0)) || Overlaps(at(10, 30), at(11, 0), at(10, 0), at(10, 30)) {
		t.Fatal("abutting ranges must not overlap")
	}
	if !Overlaps(at(9, 0), at(12, 0), at(10, 0), at(10, 5)) {
		t.Fatal("containment is an overlap")
	}
}
