package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

func pending(providerID string, start time.Time, minutes int) *model.Appointment {
	return &model.Appointment{
		ProviderID: providerID,
		Client:     model.RegisteredClient{UserID: "c1"},
		StartTime:  start,
		EndTime:    start.Add(time.Duration(minutes) * time.Minute),
		Duration:   minutes,
		Status:     model.StatusPending,
	}
}

func TestMemoryStoreDiscardsFailedTx(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	boom := errors.New("boom")
	err := s.WithProviderLock(ctx, "p1", func(tx booking.Tx) error {
		if err := tx.InsertAppointment(ctx, pending("p1", start, 30)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	appts, _ := s.ListAppointments(ctx, booking.AppointmentFilter{ProviderID: "p1"})
	if len(appts) != 0 {
		t.Fatalf("expected rollback, found %d appointments", len(appts))
	}
}

func TestMemoryStoreRejectsOverlap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if err := s.WithProviderLock(ctx, "p1", func(tx booking.Tx) error {
		return tx.InsertAppointment(ctx, pending("p1", start, 30))
	}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.WithProviderLock(ctx, "p1", func(tx booking.Tx) error {
		return tx.InsertAppointment(ctx, pending("p1", start.Add(15*time.Minute), 30))
	})
	if !errors.Is(err, booking.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := s.WithProviderLock(ctx, "p1", func(tx booking.Tx) error {
		return tx.InsertAppointment(ctx, pending("p1", start.Add(30*time.Minute), 30))
	}); err != nil {
		t.Fatalf("abutting insert: %v", err)
	}
	if err := s.WithProviderLock(ctx, "p2", func(tx booking.Tx) error {
		return tx.InsertAppointment(ctx, pending("p2", start, 30))
	}); err != nil {
		t.Fatalf("other provider: %v", err)
	}
}

func TestMemoryStoreListBlockingExcludes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	a := pending("p1", start, 60)

	_ = s.WithProviderLock(ctx, "p1", func(tx booking.Tx) error { return tx.InsertAppointment(ctx, a) })
	_ = s.WithProviderLock(ctx, "p1", func(tx booking.Tx) error {
		got, _ := tx.ListBlocking(ctx, "p1", start, start.Add(time.Hour), "")
		if len(got) != 1 {
			t.Fatalf("expected 1 blocking appointment, got %d", len(got))
		}
		got, _ = tx.ListBlocking(ctx, "p1", start, start.Add(time.Hour), a.ID)
		if len(got) != 0 {
			t.Fatalf("expected excluded appointment, got %d", len(got))
		}
		return nil
	})
}

func TestMemoryStoreIdempotency(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.WithProviderLock(ctx, "p1", func(tx booking.Tx) error {
		return tx.SaveIdempotencyKey(ctx, "u1", "k1", "a1")
	})
	_ = s.WithProviderLock(ctx, "p1", func(tx booking.Tx) error {
		id, found, _ := tx.LookupIdempotencyKey(ctx, "u1", "k1")
		if !found || id != "a1" {
			t.Fatalf("expected stored key, got %q %v", id, found)
		}
		return nil
	})

	err := s.WithProviderLock(ctx, "p1", func(tx booking.Tx) error {
		return tx.SaveIdempotencyKey(ctx, "u1", "k1", "a2")
	})
	if !errors.Is(err, booking.ErrConflict) {
		t.Fatalf("expected ErrConflict for reused key, got %v", err)
	}
}

func TestMemoryStoreListProviders(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.UpsertUser(ctx, model.User{ID: "p2", Name: "Zed", Role: model.RoleProvider, IsActive: true})
	_ = s.UpsertUser(ctx, model.User{ID: "p1", Name: "Amy", Role: model.RoleAdmin, IsActive: true})
	_ = s.UpsertUser(ctx, model.User{ID: "c1", Name: "Bob", Role: model.RoleClient, IsActive: true})
	_ = s.UpsertUser(ctx, model.User{ID: "p3", Name: "Old", Role: model.RoleProvider, IsActive: false})

	got, _ := s.ListProviders(ctx)
	if len(got) != 2 || got[0].ID != "p1" || got[1].ID != "p2" {
		t.Fatalf("unexpected providers %+v", got)
	}
}
