package inbox

import (
	"context"
	"sync"

	"github.com/md-rashed-zaman/slotbook/libs/db"
)

// Repository deduplicates consumed events by id.
type Repository struct {
	conn db.Conn
}

func NewRepository(conn db.Conn) *Repository {
	return &Repository{conn: conn}
}

// Record stores eventID and reports false when it was already processed.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}
	if db.IsUniqueViolation(err) {
		return false, nil
	}
	return false, err
}

// Forget removes eventID so the event is processed again when redelivered.
func (r *Repository) Forget(ctx context.Context, eventID string) error {
	_, err := r.conn.Exec(ctx, `DELETE FROM inbox_events WHERE event_id = $1`, eventID)
	return err
}

// Memory is the in-process inbox used with the memory storage driver.
type Memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{seen: map[string]struct{}{}}
}

func (m *Memory) Record(_ context.Context, eventID string, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[eventID]; ok {
		return false, nil
	}
	m.seen[eventID] = struct{}{}
	return true, nil
}

func (m *Memory) Forget(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, eventID)
	return nil
}
