package booking_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/runtime"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/publictoken"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

// Sunday noon; the first bookable day in these tests is Monday 2026-03-02.
var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []booking.Confirmation
	err  error
}

func (n *recordingNotifier) SendAppointmentConfirmation(_ context.Context, c booking.Confirmation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, c)
	return nil
}

func (n *recordingNotifier) all() []booking.Confirmation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]booking.Confirmation(nil), n.sent...)
}

var (
	provider = booking.Actor{UserID: "p1", Email: "silva@example.com", Role: model.RoleProvider}
	client   = booking.Actor{UserID: "c1", Email: "carla@example.com", Role: model.RoleClient}
	stranger = booking.Actor{UserID: "c2", Email: "other@example.com", Role: model.RoleClient}
	admin    = booking.Actor{UserID: "a1", Email: "admin@example.com", Role: model.RoleAdmin}
)

type fixture struct {
	engine   *booking.Engine
	store    *storage.MemoryStore
	notifier *recordingNotifier
}

// newFixture seeds one provider with a Monday 09:00-12:00 rule of 30-minute slots (UTC).
func newFixture(t *testing.T, opts booking.Options) fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	users := []model.User{
		{ID: "p1", Name: "Dr. Silva", Email: "silva@example.com", Role: model.RoleProvider, IsActive: true},
		{ID: "p2", Name: "Dr. Souza", Email: "souza@example.com", Role: model.RoleProvider, IsActive: true},
		{ID: "c1", Name: "Carla", Email: "carla@example.com", Role: model.RoleClient, IsActive: true},
		{ID: "c2", Name: "Caio", Email: "other@example.com", Role: model.RoleClient, IsActive: true},
		{ID: "a1", Name: "Admin", Email: "admin@example.com", Role: model.RoleAdmin, IsActive: true},
	}
	for _, u := range users {
		if err := store.UpsertUser(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	tokens, err := publictoken.NewIssuer("test-key")
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	notifier := &recordingNotifier{}
	engine := booking.NewEngine(store, fixedClock{now}, notifier, tokens, runtime.Discard(), opts)

	if _, err := engine.CreateRule(ctx, provider, booking.RuleInput{
		DayOfWeek:    time.Monday,
		StartTime:    "09:00",
		EndTime:      "12:00",
		Timezone:     "UTC",
		SlotDuration: 30,
	}); err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return fixture{engine: engine, store: store, notifier: notifier}
}

func (f fixture) book(t *testing.T, actor booking.Actor, start time.Time, minutes int) model.Appointment {
	t.Helper()
	appt, err := f.engine.Create(context.Background(), actor, booking.CreateRequest{ProviderID: "p1", StartTime: start, Duration: minutes})
	if err != nil {
		t.Fatalf("create at %s: %v", start.Format("15:04"), err)
	}
	return appt
}

func TestCreateRejectsOverlapAndAcceptsAbutting(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()

	first := f.book(t, client, at(10, 0), 30)
	if _, err := f.engine.Confirm(ctx, first.ID, provider); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	_, err := f.engine.Create(ctx, stranger, booking.CreateRequest{ProviderID: "p1", StartTime: at(10, 15), Duration: 30})
	if !errors.Is(err, booking.ErrConflict) {
		t.Fatalf("expected ErrConflict for 10:15, got %v", err)
	}

	second := f.book(t, stranger, at(10, 30), 30)
	if second.Status != model.StatusPending || !second.EndTime.Equal(at(11, 0)) {
		t.Fatalf("unexpected second appointment %+v", second)
	}
}

func TestCreateOutsideOpenSlots(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()

	for name, start := range map[string]time.Time{
		"off grid":     at(10, 10),
		"after hours":  at(12, 0),
		"closed day":   at(10, 0).AddDate(0, 0, 1),
		"before hours": at(8, 30),
	} {
		_, err := f.engine.Create(ctx, client, booking.CreateRequest{ProviderID: "p1", StartTime: start, Duration: 30})
		if !errors.Is(err, booking.ErrSlotUnavailable) {
			t.Fatalf("%s: expected ErrSlotUnavailable, got %v", name, err)
		}
	}
}

func TestCreateMustEndInsideWindow(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()

	_, err := f.engine.Create(ctx, client, booking.CreateRequest{ProviderID: "p1", StartTime: at(11, 0), Duration: 120})
	if !errors.Is(err, booking.ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable past closing time, got %v", err)
	}
	// A booking longer than one slot is fine while it ends by closing time.
	appt, err := f.engine.Create(ctx, client, booking.CreateRequest{ProviderID: "p1", StartTime: at(11, 0), Duration: 60})
	if err != nil {
		t.Fatalf("create ending at close: %v", err)
	}
	if !appt.EndTime.Equal(at(12, 0)) {
		t.Fatalf("unexpected end %s", appt.EndTime)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  booking.CreateRequest
		want error
	}{
		{"short duration", booking.CreateRequest{ProviderID: "p1", StartTime: at(10, 0), Duration: 4}, booking.ErrInvalidInput},
		{"long duration", booking.CreateRequest{ProviderID: "p1", StartTime: at(10, 0), Duration: 481}, booking.ErrInvalidInput},
		{"past start", booking.CreateRequest{ProviderID: "p1", StartTime: now.Add(-time.Hour), Duration: 30}, booking.ErrInvalidInput},
		{"unknown provider", booking.CreateRequest{ProviderID: "nobody", StartTime: at(10, 0), Duration: 30}, booking.ErrNotFound},
		{"client as provider", booking.CreateRequest{ProviderID: "c2", StartTime: at(10, 0), Duration: 30}, booking.ErrInvalidState},
		{"bad meeting link", booking.CreateRequest{ProviderID: "p1", StartTime: at(10, 0), Duration: 30, Details: booking.Details{MeetingLink: "ftp://x"}}, booking.ErrInvalidInput},
	}
	for _, tc := range cases {
		if _, err := f.engine.Create(ctx, client, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestCreateOnBehalfOfClient(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()

	appt, err := f.engine.Create(ctx, provider, booking.CreateRequest{ProviderID: "p1", ClientID: "c1", StartTime: at(9, 0), Duration: 30})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if model.ClientUserID(appt.Client) != "c1" {
		t.Fatalf("expected client c1, got %#v", appt.Client)
	}

	_, err = f.engine.Create(ctx, client, booking.CreateRequest{ProviderID: "p1", ClientID: "c2", StartTime: at(9, 30), Duration: 30})
	if !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected clients to be unable to book for others, got %v", err)
	}
}

func TestCancelTwice(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()
	appt := f.book(t, client, at(9, 0), 30)

	cancelled, err := f.engine.Cancel(ctx, appt.ID, client, "  change of plans ")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.StatusCancelled || cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(now) {
		t.Fatalf("unexpected cancelled appointment %+v", cancelled)
	}
	if cancelled.CancelledBy != "c1" || cancelled.CancellationReason != "change of plans" {
		t.Fatalf("cancellation audit not recorded: %+v", cancelled)
	}

	_, err = f.engine.Cancel(ctx, appt.ID, client, "")
	if !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var te *booking.TransitionError
	if !errors.As(err, &te) || te.Status != model.StatusCancelled || !strings.Contains(err.Error(), "already cancelled") {
		t.Fatalf("expected already cancelled transition error, got %v", err)
	}

	// The freed slot can be booked again.
	f.book(t, stranger, at(9, 0), 30)
}

func TestCancelRequiresParty(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()
	appt := f.book(t, client, at(9, 0), 30)

	if _, err := f.engine.Cancel(ctx, appt.ID, stranger, ""); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.engine.Cancel(ctx, appt.ID, admin, "ops"); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	if _, err := f.engine.Cancel(ctx, "missing", admin, ""); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConfirmOnlyByProviderFromPending(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()
	appt := f.book(t, client, at(9, 0), 30)

	if _, err := f.engine.Confirm(ctx, appt.ID, client); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for client, got %v", err)
	}
	confirmed, err := f.engine.Confirm(ctx, appt.ID, provider)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != model.StatusConfirmed || !confirmed.ConfirmationSent {
		t.Fatalf("unexpected confirmed appointment %+v", confirmed)
	}
	_, err = f.engine.Confirm(ctx, appt.ID, provider)
	var te *booking.TransitionError
	if !errors.As(err, &te) || te.Status != model.StatusConfirmed {
		t.Fatalf("expected transition error naming CONFIRMED, got %v", err)
	}
}

func TestCompleteAndNoShowAreTerminal(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()
	done := f.book(t, client, at(9, 0), 30)
	missed := f.book(t, client, at(9, 30), 30)

	if _, err := f.engine.Complete(ctx, done.ID, client); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.engine.Complete(ctx, done.ID, provider); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.engine.MarkNoShow(ctx, missed.ID, admin); err != nil {
		t.Fatalf("no-show: %v", err)
	}
	for _, id := range []string{done.ID, missed.ID} {
		if _, err := f.engine.Cancel(ctx, id, provider, ""); !errors.Is(err, booking.ErrInvalidTransition) {
			t.Fatalf("expected terminal status to reject cancel, got %v", err)
		}
		if _, err := f.engine.Update(ctx, id, provider, booking.Patch{Title: ptr("x")}); !errors.Is(err, booking.ErrInvalidTransition) {
			t.Fatalf("expected terminal status to reject update, got %v", err)
		}
	}
	// Completed and no-show appointments no longer block their time.
	f.book(t, stranger, at(9, 0), 30)
}

func ptr[T any](v T) *T { return &v }

func TestUpdateRechecksTiming(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()
	first := f.book(t, client, at(9, 0), 30)
	second := f.book(t, stranger, at(10, 0), 30)

	if _, err := f.engine.Update(ctx, second.ID, stranger, booking.Patch{StartTime: ptr(at(9, 15))}); !errors.Is(err, booking.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := f.engine.Update(ctx, first.ID, client, booking.Patch{Duration: ptr(90)}); !errors.Is(err, booking.ErrConflict) {
		t.Fatalf("expected duration growth into 10:00 to conflict, got %v", err)
	}
	if _, err := f.engine.Update(ctx, first.ID, client, booking.Patch{StartTime: ptr(now.Add(-time.Minute))}); !errors.Is(err, booking.ErrInvalidInput) {
		t.Fatalf("expected past start to be rejected, got %v", err)
	}

	moved, err := f.engine.Update(ctx, first.ID, client, booking.Patch{StartTime: ptr(at(11, 0)), Duration: ptr(60), Title: ptr("Follow-up")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !moved.EndTime.Equal(at(12, 0)) || moved.Title != "Follow-up" {
		t.Fatalf("unexpected moved appointment %+v", moved)
	}
	if _, err := f.engine.Update(ctx, first.ID, stranger, booking.Patch{Title: ptr("mine")}); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestUpdateRoutesStatusThroughStateMachine(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()
	appt := f.book(t, client, at(9, 0), 30)

	if _, err := f.engine.Update(ctx, appt.ID, client, booking.Patch{Status: ptr(model.StatusConfirmed)}); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected client confirm via patch to be forbidden, got %v", err)
	}
	got, err := f.engine.Update(ctx, appt.ID, provider, booking.Patch{Status: ptr(model.StatusConfirmed)})
	if err != nil || got.Status != model.StatusConfirmed {
		t.Fatalf("confirm via patch: %v %+v", err, got)
	}
	if _, err := f.engine.Update(ctx, appt.ID, provider, booking.Patch{Status: ptr(model.StatusPending)}); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("expected reopen to fail, got %v", err)
	}
	got, err = f.engine.Update(ctx, appt.ID, client, booking.Patch{Status: ptr(model.StatusCancelled), Reason: "sick"})
	if err != nil || got.Status != model.StatusCancelled || got.CancellationReason != "sick" {
		t.Fatalf("cancel via patch: %v %+v", err, got)
	}
}

func TestPublicTokenFlow(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()

	appt, token, err := f.engine.CreatePublic(ctx, booking.PublicRequest{
		ProviderID: "p1",
		StartTime:  at(11, 0),
		Duration:   30,
		Name:       "Ana Lima",
		Email:      "ana@example.com",
		Phone:      "+55 11 99999-0000",
	})
	if err != nil {
		t.Fatalf("create public: %v", err)
	}
	if token == "" || appt.PublicTokenHash == "" || appt.PublicTokenHash == token {
		t.Fatalf("token must be returned raw and stored hashed: token=%q hash=%q", token, appt.PublicTokenHash)
	}
	if c, ok := appt.Client.(model.AnonymousClient); !ok || c.Email != "ana@example.com" {
		t.Fatalf("expected anonymous client, got %#v", appt.Client)
	}

	got, err := f.engine.GetByToken(ctx, token)
	if err != nil || got.ID != appt.ID {
		t.Fatalf("get by token: %v %+v", err, got)
	}
	cancelled, err := f.engine.CancelByToken(ctx, token, "cannot make it")
	if err != nil {
		t.Fatalf("cancel by token: %v", err)
	}
	if cancelled.CancelledBy != "public" {
		t.Fatalf("expected public canceller, got %q", cancelled.CancelledBy)
	}
	_, err = f.engine.CancelByToken(ctx, token, "")
	if !errors.Is(err, booking.ErrInvalidTransition) || !strings.Contains(err.Error(), "already cancelled") {
		t.Fatalf("expected already cancelled, got %v", err)
	}

	if _, err := f.engine.GetByToken(ctx, "not-a-token"); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.engine.GetByToken(ctx, ""); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty token, got %v", err)
	}
}

func TestCreatePublicValidatesContact(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()
	base := booking.PublicRequest{ProviderID: "p1", StartTime: at(11, 0), Duration: 30, Name: "Ana", Email: "ana@example.com"}

	for name, mutate := range map[string]func(*booking.PublicRequest){
		"short name":  func(r *booking.PublicRequest) { r.Name = "A" },
		"bad email":   func(r *booking.PublicRequest) { r.Email = "not-an-email" },
		"long phone":  func(r *booking.PublicRequest) { r.Phone = strings.Repeat("1", 21) },
		"named email": func(r *booking.PublicRequest) { r.Email = "Ana <ana@example.com>" },
	} {
		req := base
		mutate(&req)
		if _, _, err := f.engine.CreatePublic(ctx, req); !errors.Is(err, booking.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestProvisionDefaultsIsIdempotent(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()

	created, err := f.engine.ProvisionDefaults(ctx, "p2")
	if err != nil || !created {
		t.Fatalf("first provision: created=%v err=%v", created, err)
	}
	created, err = f.engine.ProvisionDefaults(ctx, "p2")
	if err != nil || created {
		t.Fatalf("second provision: created=%v err=%v", created, err)
	}
	rules, _ := f.engine.ListRules(ctx, "p2")
	if len(rules) != 5 {
		t.Fatalf("expected 5 weekday rules, got %d", len(rules))
	}
	for _, r := range rules {
		if r.DayOfWeek < time.Monday || r.DayOfWeek > time.Friday || r.StartTime != "09:00" || r.EndTime != "17:00" || r.SlotDuration != 60 {
			t.Fatalf("unexpected default rule %+v", r)
		}
	}

	// Providers that already configured availability are left alone.
	if created, _ := f.engine.ProvisionDefaults(ctx, "p1"); created {
		t.Fatal("expected no provisioning for a provider with rules")
	}
	if _, err := f.engine.ProvisionDefaults(ctx, "c1"); !errors.Is(err, booking.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for a client, got %v", err)
	}
}

func TestListSlotsAutoProvision(t *testing.T) {
	ctx := context.Background()

	plain := newFixture(t, booking.Options{})
	slots, err := plain.engine.ListSlots(ctx, "p2", at(0, 0), at(23, 0))
	if err != nil || len(slots) != 0 {
		t.Fatalf("expected no slots without rules, got %d (%v)", len(slots), err)
	}
	if rules, _ := plain.engine.ListRules(ctx, "p2"); len(rules) != 0 {
		t.Fatalf("slot query must not write rules, found %d", len(rules))
	}

	auto := newFixture(t, booking.Options{AutoProvision: true, DefaultTimezone: "UTC"})
	first, err := auto.engine.ListSlots(ctx, "p2", at(0, 0), at(23, 0))
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	if len(first) != 8 || first[0].Time != "09:00" || first[7].Time != "16:00" {
		t.Fatalf("expected 8 hourly slots 09:00-16:00, got %+v", first)
	}
	second, _ := auto.engine.ListSlots(ctx, "p2", at(0, 0), at(23, 0))
	if len(second) != len(first) {
		t.Fatalf("second query changed results: %d vs %d", len(second), len(first))
	}
	if rules, _ := auto.engine.ListRules(ctx, "p2"); len(rules) != 5 {
		t.Fatalf("expected 5 rules after repeated queries, got %d", len(rules))
	}
}

func TestListSlotsMarksOccupancy(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()
	f.book(t, client, at(10, 0), 60)

	slots, err := f.engine.ListSlots(ctx, "p1", at(0, 0), at(23, 0))
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	want := map[string]bool{"09:00": true, "09:30": true, "10:00": false, "10:30": false, "11:00": true, "11:30": true}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(slots))
	}
	for _, s := range slots {
		if s.Available != want[s.Time] {
			t.Fatalf("slot %s available=%v, want %v", s.Time, s.Available, want[s.Time])
		}
	}

	if _, err := f.engine.ListSlots(ctx, "p1", at(10, 0), at(9, 0)); !errors.Is(err, booking.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for reversed range, got %v", err)
	}
	if _, err := f.engine.ListSlots(ctx, "nobody", at(0, 0), at(23, 0)); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSlotsOnDatesUsesRuleZone(t *testing.T) {
	loc, err := time.LoadLocation("Pacific/Kiritimati")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	f := newFixture(t, booking.Options{})
	ctx := context.Background()
	souza := booking.Actor{UserID: "p2", Email: "souza@example.com", Role: model.RoleProvider}
	if _, err := f.engine.CreateRule(ctx, souza, booking.RuleInput{
		DayOfWeek:    time.Monday,
		StartTime:    "09:00",
		EndTime:      "10:00",
		Timezone:     "Pacific/Kiritimati",
		SlotDuration: 30,
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	slots, err := f.engine.ListSlotsOnDates(ctx, "p2", monday, monday)
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 Monday slots, got %d", len(slots))
	}
	if want := time.Date(2026, 3, 2, 9, 0, 0, 0, loc); !slots[0].Start.Equal(want) {
		t.Fatalf("expected first slot at %s, got %s", want, slots[0].Start)
	}

	if _, err := f.engine.ListSlotsOnDates(ctx, "p2", monday.AddDate(0, 0, 1), monday); !errors.Is(err, booking.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for reversed days, got %v", err)
	}
	if _, err := f.engine.ListSlotsOnDates(ctx, "p2", monday, monday.AddDate(0, 0, 63)); !errors.Is(err, booking.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for an oversized range, got %v", err)
	}
}

func TestIdempotencyKeyReplaysCreate(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()
	req := booking.CreateRequest{ProviderID: "p1", StartTime: at(9, 0), Duration: 30, IdempotencyKey: "key-1"}

	first, err := f.engine.Create(ctx, client, req)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	again, err := f.engine.Create(ctx, client, req)
	if err != nil {
		t.Fatalf("replayed create: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected replay to return %s, got %s", first.ID, again.ID)
	}
	mine, _ := f.engine.ListAppointments(ctx, client)
	if len(mine) != 1 {
		t.Fatalf("expected a single appointment, got %d", len(mine))
	}

	req.StartTime = at(9, 30)
	if _, err := f.engine.Create(ctx, client, req); !errors.Is(err, booking.ErrConflict) {
		t.Fatalf("expected reused key for a different booking to conflict, got %v", err)
	}
}

func TestNotificationIsAsyncAndBestEffort(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()
	f.book(t, client, at(9, 0), 30)
	f.engine.Wait()

	sent := f.notifier.all()
	if len(sent) != 1 {
		t.Fatalf("expected one confirmation, got %d", len(sent))
	}
	c := sent[0]
	if c.To != "carla@example.com" || c.ClientName != "Carla" || c.ProviderName != "Dr. Silva" || c.Date != "2026-03-02" || c.Time != "09:00" || c.Duration != 30 {
		t.Fatalf("unexpected confirmation %+v", c)
	}

	f.notifier.err = errors.New("smtp down")
	if _, err := f.engine.Create(ctx, client, booking.CreateRequest{ProviderID: "p1", StartTime: at(9, 30), Duration: 30}); err != nil {
		t.Fatalf("notification failure must not fail booking: %v", err)
	}
	f.engine.Wait()
}

func TestListAppointmentsByRole(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()
	f.book(t, client, at(11, 0), 30)
	f.book(t, stranger, at(9, 0), 30)
	f.book(t, client, at(10, 0), 30)

	forProvider, _ := f.engine.ListAppointments(ctx, provider)
	if len(forProvider) != 3 || !forProvider[0].StartTime.Equal(at(9, 0)) {
		t.Fatalf("provider should see all three ordered by start, got %d", len(forProvider))
	}
	forClient, _ := f.engine.ListAppointments(ctx, client)
	if len(forClient) != 2 || !forClient[0].StartTime.Equal(at(10, 0)) {
		t.Fatalf("client should see own two ordered by start, got %d", len(forClient))
	}

	if _, err := f.engine.Get(ctx, forClient[0].ID, stranger); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.engine.Get(ctx, forClient[0].ID, provider); err != nil {
		t.Fatalf("provider get: %v", err)
	}
}

func TestEventsFollowTransitions(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()
	appt := f.book(t, client, at(9, 0), 30)
	_, _ = f.engine.Confirm(ctx, appt.ID, provider)
	_, _ = f.engine.Cancel(ctx, appt.ID, client, "")

	var types []string
	for _, evt := range f.store.Events() {
		if evt.AggregateID != appt.ID {
			t.Fatalf("event for unexpected aggregate %s", evt.AggregateID)
		}
		types = append(types, evt.EventType)
	}
	want := []string{booking.EventCreated, booking.EventConfirmed, booking.EventCancelled}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestRuleManagement(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()

	_, err := f.engine.CreateRule(ctx, provider, booking.RuleInput{DayOfWeek: time.Monday, StartTime: "13:00", EndTime: "15:00"})
	if !errors.Is(err, booking.ErrInvalidInput) {
		t.Fatalf("expected duplicate active day to be rejected, got %v", err)
	}
	if _, err := f.engine.CreateRule(ctx, client, booking.RuleInput{DayOfWeek: time.Tuesday, StartTime: "09:00", EndTime: "10:00"}); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected clients to be forbidden, got %v", err)
	}
	if _, err := f.engine.CreateRule(ctx, provider, booking.RuleInput{DayOfWeek: time.Tuesday, StartTime: "10:00", EndTime: "09:00"}); !errors.Is(err, booking.ErrInvalidInput) {
		t.Fatalf("expected inverted window to be rejected, got %v", err)
	}

	tuesday, err := f.engine.CreateRule(ctx, provider, booking.RuleInput{DayOfWeek: time.Tuesday, StartTime: "14:00", EndTime: "18:00"})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if tuesday.Timezone != model.DefaultTimezone || tuesday.SlotDuration != 30 || !tuesday.IsActive || !tuesday.IsRecurring {
		t.Fatalf("defaults not applied: %+v", tuesday)
	}

	other := booking.Actor{UserID: "p2", Role: model.RoleProvider}
	if _, err := f.engine.UpdateRule(ctx, other, tuesday.ID, booking.RulePatch{EndTime: ptr("17:00")}); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	updated, err := f.engine.UpdateRule(ctx, provider, tuesday.ID, booking.RulePatch{EndTime: ptr("17:00"), BufferTime: ptr(10)})
	if err != nil || updated.EndTime != "17:00" || updated.BufferTime != 10 {
		t.Fatalf("update rule: %v %+v", err, updated)
	}
	if _, err := f.engine.UpdateRule(ctx, provider, tuesday.ID, booking.RulePatch{SlotDuration: ptr(1)}); !errors.Is(err, booking.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := f.engine.DeleteRule(ctx, admin, tuesday.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if err := f.engine.DeleteRule(ctx, provider, tuesday.ID); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentBookingsOfOneSlot(t *testing.T) {
	f := newFixture(t, booking.Options{})
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Create(ctx, client, booking.CreateRequest{ProviderID: "p1", StartTime: at(11, 30), Duration: 30})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, booking.ErrConflict):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one booking to succeed, got %d", ok)
	}
}
