package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
)

// MemoryStore keeps everything in process. It backs STORAGE_DRIVER=memory and the engine
// tests. Writes made under WithProviderLock are staged and applied only when fn succeeds.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]model.User
	rules  map[string]model.AvailabilityRule
	appts  map[string]model.Appointment
	idem   map[idemKey]string
	events []outbox.Event

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

type idemKey struct{ scope, key string }

var _ booking.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: map[string]model.User{},
		rules: map[string]model.AvailabilityRule{},
		appts: map[string]model.Appointment{},
		idem:  map[idemKey]string{},
		locks: map[string]*sync.Mutex{},
		now:   time.Now,
	}
}

func (s *MemoryStore) UpsertUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

// Events returns a copy of every event appended so far.
func (s *MemoryStore) Events() []outbox.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]outbox.Event(nil), s.events...)
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("storage: user %s: %w", id, booking.ErrNotFound)
	}
	return u, nil
}

func (s *MemoryStore) ListProviders(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.User{}
	for _, u := range s.users {
		if u.IsActive && u.Role.CanProvide() {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) GetRule(_ context.Context, id string) (model.AvailabilityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return model.AvailabilityRule{}, fmt.Errorf("storage: rule %s: %w", id, booking.ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) ListRules(_ context.Context, providerID string) ([]model.AvailabilityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rulesOf(providerID, nil), nil
}

func (s *MemoryStore) rulesOf(providerID string, staged []model.AvailabilityRule) []model.AvailabilityRule {
	out := []model.AvailabilityRule{}
	for _, r := range s.rules {
		if r.ProviderID == providerID {
			out = append(out, r)
		}
	}
	for _, r := range staged {
		if r.ProviderID == providerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (s *MemoryStore) UpdateRule(_ context.Context, rule *model.AvailabilityRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; !ok {
		return fmt.Errorf("storage: rule %s: %w", rule.ID, booking.ErrNotFound)
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = s.now()
	}
	s.rules[rule.ID] = *rule
	return nil
}

func (s *MemoryStore) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("storage: rule %s: %w", id, booking.ErrNotFound)
	}
	delete(s.rules, id)
	return nil
}

func (s *MemoryStore) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("storage: appointment %s: %w", id, booking.ErrNotFound)
	}
	return a, nil
}

func (s *MemoryStore) GetAppointmentByTokenHash(_ context.Context, hash string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.appts {
		if hash != "" && a.PublicTokenHash == hash {
			return a, nil
		}
	}
	return model.Appointment{}, fmt.Errorf("storage: appointment by token: %w", booking.ErrNotFound)
}

func (s *MemoryStore) ListAppointments(_ context.Context, f booking.AppointmentFilter) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Appointment{}
	for _, a := range s.appts {
		if matches(a, f) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func matches(a model.Appointment, f booking.AppointmentFilter) bool {
	if f.ProviderID != "" && a.ProviderID != f.ProviderID {
		return false
	}
	if f.ClientID != "" && model.ClientUserID(a.Client) != f.ClientID {
		return false
	}
	if f.BlockingOnly && !a.Status.Blocking() {
		return false
	}
	if !f.From.IsZero() && !a.EndTime.After(f.From) {
		return false
	}
	if !f.To.IsZero() && !a.StartTime.Before(f.To) {
		return false
	}
	return true
}

func sortByStart(appts []model.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].StartTime.Equal(appts[j].StartTime) {
			return appts[i].StartTime.Before(appts[j].StartTime)
		}
		return appts[i].ID < appts[j].ID
	})
}

func (s *MemoryStore) providerLock(providerID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[providerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[providerID] = l
	}
	return l
}

func (s *MemoryStore) WithProviderLock(ctx context.Context, providerID string, fn func(tx booking.Tx) error) error {
	l := s.providerLock(providerID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{store: s, appts: map[string]model.Appointment{}, idem: map[idemKey]string{}}
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range tx.rules {
		s.rules[r.ID] = r
	}
	for id, a := range tx.appts {
		s.appts[id] = a
	}
	for k, v := range tx.idem {
		s.idem[k] = v
	}
	s.events = append(s.events, tx.events...)
}

// memoryTx stages writes; reads see committed state overlaid with the staged writes.
type memoryTx struct {
	store  *MemoryStore
	rules  []model.AvailabilityRule
	appts  map[string]model.Appointment
	idem   map[idemKey]string
	events []outbox.Event
}

func (t *memoryTx) ListRules(_ context.Context, providerID string) ([]model.AvailabilityRule, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.rulesOf(providerID, t.rules), nil
}

func (t *memoryTx) InsertRules(_ context.Context, rules []model.AvailabilityRule) error {
	now := t.store.now()
	for i := range rules {
		rules[i].ID = uuid.NewString()
		rules[i].CreatedAt, rules[i].UpdatedAt = now, now
		t.rules = append(t.rules, rules[i])
	}
	return nil
}

func (t *memoryTx) lookup(id string) (model.Appointment, bool) {
	if a, ok := t.appts[id]; ok {
		return a, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	a, ok := t.store.appts[id]
	return a, ok
}

func (t *memoryTx) ListBlocking(_ context.Context, providerID string, from, to time.Time, excludeID string) ([]model.Appointment, error) {
	f := booking.AppointmentFilter{ProviderID: providerID, From: from, To: to, BlockingOnly: true}
	seen := map[string]model.Appointment{}

	t.store.mu.RLock()
	for id, a := range t.store.appts {
		seen[id] = a
	}
	t.store.mu.RUnlock()
	for id, a := range t.appts {
		seen[id] = a
	}

	out := []model.Appointment{}
	for id, a := range seen {
		if id != excludeID && matches(a, f) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (t *memoryTx) GetAppointmentForUpdate(_ context.Context, id string) (model.Appointment, error) {
	a, ok := t.lookup(id)
	if !ok {
		return model.Appointment{}, fmt.Errorf("storage: appointment %s: %w", id, booking.ErrNotFound)
	}
	return a, nil
}

// checkOverlap stands in for the exclusion constraint the Postgres schema carries.
func (t *memoryTx) checkOverlap(ctx context.Context, a model.Appointment) error {
	if !a.Status.Blocking() {
		return nil
	}
	others, _ := t.ListBlocking(ctx, a.ProviderID, a.StartTime, a.EndTime, a.ID)
	if len(others) > 0 {
		return fmt.Errorf("storage: appointment overlaps %s: %w", others[0].ID, booking.ErrConflict)
	}
	return nil
}

func (t *memoryTx) InsertAppointment(ctx context.Context, a *model.Appointment) error {
	if err := t.checkOverlap(ctx, *a); err != nil {
		return err
	}
	now := t.store.now()
	a.ID = uuid.NewString()
	a.CreatedAt, a.UpdatedAt = now, now
	t.appts[a.ID] = *a
	return nil
}

func (t *memoryTx) UpdateAppointment(ctx context.Context, a *model.Appointment) error {
	if _, ok := t.lookup(a.ID); !ok {
		return fmt.Errorf("storage: appointment %s: %w", a.ID, booking.ErrNotFound)
	}
	if err := t.checkOverlap(ctx, *a); err != nil {
		return err
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = t.store.now()
	}
	t.appts[a.ID] = *a
	return nil
}

func (t *memoryTx) LookupIdempotencyKey(_ context.Context, scope, key string) (string, bool, error) {
	k := idemKey{scope, key}
	if id, ok := t.idem[k]; ok {
		return id, true, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	id, ok := t.store.idem[k]
	return id, ok, nil
}

func (t *memoryTx) SaveIdempotencyKey(ctx context.Context, scope, key, appointmentID string) error {
	if _, found, _ := t.LookupIdempotencyKey(ctx, scope, key); found {
		return fmt.Errorf("storage: idempotency key %q: %w", key, booking.ErrConflict)
	}
	t.idem[idemKey{scope, key}] = appointmentID
	return nil
}

func (t *memoryTx) AppendEvent(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}
