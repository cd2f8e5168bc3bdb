package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
)

// BookingRepository is the Postgres implementation of booking.Store.
type BookingRepository struct {
	conn   db.Conn
	outbox *outbox.Repository
}

var _ booking.Store = (*BookingRepository)(nil)

func NewBookingRepository(conn db.Conn) *BookingRepository {
	return &BookingRepository{conn: conn, outbox: outbox.NewRepository()}
}

const userColumns = `id, name, email, COALESCE(phone, ''), role, is_active`

const ruleColumns = `id::text, provider_id, day_of_week, start_time, end_time, is_recurring,
	start_date, end_date, timezone, slot_duration, buffer_time, max_bookings_per_slot, is_active,
	created_at, updated_at`

const appointmentColumns = `id::text, provider_id, COALESCE(client_id, ''), COALESCE(client_name, ''),
	COALESCE(client_email, ''), COALESCE(client_phone, ''), COALESCE(public_token_hash, ''),
	start_time, end_time, duration, status, service_type, title, description, location, meeting_link,
	cancelled_at, COALESCE(cancelled_by, ''), COALESCE(cancellation_reason, ''), confirmation_sent,
	created_at, updated_at`

// classify maps driver errors onto the booking sentinels.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return fmt.Errorf("storage: %s: %w", op, booking.ErrNotFound)
	case db.IsExclusionViolation(err):
		return fmt.Errorf("storage: %s: %w: time overlaps an existing appointment", op, booking.ErrConflict)
	case db.IsUniqueViolation(err):
		return fmt.Errorf("storage: %s: %w", op, booking.ErrConflict)
	default:
		return fmt.Errorf("storage: %s: %w", op, err)
	}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *BookingRepository) UpsertUser(ctx context.Context, u model.User) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO users (id, name, email, phone, role, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name,
		              email = EXCLUDED.email,
		              phone = EXCLUDED.phone,
		              role = EXCLUDED.role,
		              is_active = EXCLUDED.is_active,
		              updated_at = now()
	`, u.ID, u.Name, u.Email, nullIfEmpty(u.Phone), string(u.Role), u.IsActive)
	return classify("upsert user", err)
}

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &role, &u.IsActive); err != nil {
		return model.User{}, err
	}
	u.Role = model.ParseRole(role)
	return u, nil
}

func (r *BookingRepository) GetUser(ctx context.Context, id string) (model.User, error) {
	u, err := scanUser(r.conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return model.User{}, classify("get user", err)
	}
	return u, nil
}

func (r *BookingRepository) ListProviders(ctx context.Context) ([]model.User, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE is_active AND role IN ('PROVIDER', 'ADMIN')
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, classify("list providers", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, classify("list providers", err)
		}
		users = append(users, u)
	}
	return users, classify("list providers", rows.Err())
}

func scanRule(row pgx.Row) (model.AvailabilityRule, error) {
	var rule model.AvailabilityRule
	var day int
	err := row.Scan(
		&rule.ID,
		&rule.ProviderID,
		&day,
		&rule.StartTime,
		&rule.EndTime,
		&rule.IsRecurring,
		&rule.StartDate,
		&rule.EndDate,
		&rule.Timezone,
		&rule.SlotDuration,
		&rule.BufferTime,
		&rule.MaxBookingsPerSlot,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	rule.DayOfWeek = time.Weekday(day)
	return rule, nil
}

func (r *BookingRepository) GetRule(ctx context.Context, id string) (model.AvailabilityRule, error) {
	rule, err := scanRule(r.conn.QueryRow(ctx, `SELECT `+ruleColumns+` FROM availability_rules WHERE id = $1`, id))
	if err != nil {
		return model.AvailabilityRule{}, classify("get rule", err)
	}
	return rule, nil
}

func (r *BookingRepository) ListRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error) {
	return listRules(ctx, r.conn, providerID)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listRules(ctx context.Context, q querier, providerID string) ([]model.AvailabilityRule, error) {
	rows, err := q.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM availability_rules
		WHERE provider_id = $1
		ORDER BY day_of_week ASC, start_time ASC
	`, providerID)
	if err != nil {
		return nil, classify("list rules", err)
	}
	defer rows.Close()

	rules := []model.AvailabilityRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, classify("list rules", err)
		}
		rules = append(rules, rule)
	}
	return rules, classify("list rules", rows.Err())
}

func (r *BookingRepository) UpdateRule(ctx context.Context, rule *model.AvailabilityRule) error {
	err := r.conn.QueryRow(ctx, `
		UPDATE availability_rules
		SET day_of_week = $2,
			start_time = $3,
			end_time = $4,
			is_recurring = $5,
			start_date = $6,
			end_date = $7,
			timezone = $8,
			slot_duration = $9,
			buffer_time = $10,
			max_bookings_per_slot = $11,
			is_active = $12,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, rule.ID, int(rule.DayOfWeek), rule.StartTime, rule.EndTime, rule.IsRecurring, rule.StartDate, rule.EndDate,
		rule.Timezone, rule.SlotDuration, rule.BufferTime, rule.MaxBookingsPerSlot, rule.IsActive).Scan(&rule.UpdatedAt)
	return classify("update rule", err)
}

func (r *BookingRepository) DeleteRule(ctx context.Context, id string) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM availability_rules WHERE id = $1`, id)
	if err != nil {
		return classify("delete rule", err)
	}
	if tag.RowsAffected() == 0 {
		return classify("delete rule", pgx.ErrNoRows)
	}
	return nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var clientID, name, email, phone, status string
	err := row.Scan(
		&a.ID,
		&a.ProviderID,
		&clientID,
		&name,
		&email,
		&phone,
		&a.PublicTokenHash,
		&a.StartTime,
		&a.EndTime,
		&a.Duration,
		&status,
		&a.ServiceType,
		&a.Title,
		&a.Description,
		&a.Location,
		&a.MeetingLink,
		&a.CancelledAt,
		&a.CancelledBy,
		&a.CancellationReason,
		&a.ConfirmationSent,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.Status(status)
	if clientID != "" {
		a.Client = model.RegisteredClient{UserID: clientID}
	} else {
		a.Client = model.AnonymousClient{Name: name, Email: email, Phone: phone}
	}
	return a, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	appts := []model.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

func (r *BookingRepository) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	a, err := scanAppointment(r.conn.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return model.Appointment{}, classify("get appointment", err)
	}
	return a, nil
}

func (r *BookingRepository) GetAppointmentByTokenHash(ctx context.Context, hash string) (model.Appointment, error) {
	a, err := scanAppointment(r.conn.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE public_token_hash = $1`, hash))
	if err != nil {
		return model.Appointment{}, classify("get appointment by token", err)
	}
	return a, nil
}

// appointmentQuery renders f as a WHERE clause with positional args.
func appointmentQuery(f booking.AppointmentFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ProviderID != "" {
		add("provider_id = $%d", f.ProviderID)
	}
	if f.ClientID != "" {
		add("client_id = $%d", f.ClientID)
	}
	if !f.From.IsZero() {
		add("end_time > $%d", f.From)
	}
	if !f.To.IsZero() {
		add("start_time < $%d", f.To)
	}
	if f.BlockingOnly {
		conds = append(conds, "status IN ('PENDING', 'CONFIRMED')")
	}
	sql := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(conds) > 0 {
		sql += ` WHERE ` + strings.Join(conds, " AND ")
	}
	return sql + ` ORDER BY start_time ASC, id ASC`, args
}

func (r *BookingRepository) ListAppointments(ctx context.Context, f booking.AppointmentFilter) ([]model.Appointment, error) {
	sql, args := appointmentQuery(f)
	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify("list appointments", err)
	}
	appts, err := collectAppointments(rows)
	return appts, classify("list appointments", err)
}

// WithProviderLock runs fn in a transaction holding the provider's advisory lock, so
// concurrent bookings for one provider are checked and written one at a time.
func (r *BookingRepository) WithProviderLock(ctx context.Context, providerID string, fn func(tx booking.Tx) error) error {
	return db.InTx(ctx, r.conn, func(tx pgx.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, "provider:"+providerID); err != nil {
			return classify("lock provider", err)
		}
		return fn(&bookingTx{tx: tx, outbox: r.outbox})
	})
}

type bookingTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *bookingTx) ListRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error) {
	return listRules(ctx, t.tx, providerID)
}

func (t *bookingTx) InsertRules(ctx context.Context, rules []model.AvailabilityRule) error {
	for i := range rules {
		rule := &rules[i]
		err := t.tx.QueryRow(ctx, `
			INSERT INTO availability_rules
				(provider_id, day_of_week, start_time, end_time, is_recurring, start_date, end_date,
				 timezone, slot_duration, buffer_time, max_bookings_per_slot, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id::text, created_at, updated_at
		`, rule.ProviderID, int(rule.DayOfWeek), rule.StartTime, rule.EndTime, rule.IsRecurring, rule.StartDate, rule.EndDate,
			rule.Timezone, rule.SlotDuration, rule.BufferTime, rule.MaxBookingsPerSlot, rule.IsActive,
		).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
		if err != nil {
			return classify("insert rule", err)
		}
	}
	return nil
}

func (t *bookingTx) ListBlocking(ctx context.Context, providerID string, from, to time.Time, excludeID string) ([]model.Appointment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND status IN ('PENDING', 'CONFIRMED')
			AND start_time < $3
			AND end_time > $2
			AND ($4 = '' OR id::text <> $4)
		ORDER BY start_time ASC
	`, providerID, from, to, excludeID)
	if err != nil {
		return nil, classify("list blocking", err)
	}
	appts, err := collectAppointments(rows)
	return appts, classify("list blocking", err)
}

func (t *bookingTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	a, err := scanAppointment(t.tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Appointment{}, classify("get appointment for update", err)
	}
	return a, nil
}

func clientColumns(c model.ClientRef) (clientID, name, email, phone *string) {
	switch v := c.(type) {
	case model.RegisteredClient:
		return nullIfEmpty(v.UserID), nil, nil, nil
	case model.AnonymousClient:
		return nil, nullIfEmpty(v.Name), nullIfEmpty(v.Email), nullIfEmpty(v.Phone)
	}
	return nil, nil, nil, nil
}

func (t *bookingTx) InsertAppointment(ctx context.Context, a *model.Appointment) error {
	clientID, name, email, phone := clientColumns(a.Client)
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(provider_id, client_id, client_name, client_email, client_phone, public_token_hash,
			 start_time, end_time, duration, status, service_type, title, description, location, meeting_link)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id::text, created_at, updated_at
	`, a.ProviderID, clientID, name, email, phone, nullIfEmpty(a.PublicTokenHash),
		a.StartTime, a.EndTime, a.Duration, string(a.Status), a.ServiceType, a.Title, a.Description, a.Location, a.MeetingLink,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	return classify("insert appointment", err)
}

func (t *bookingTx) UpdateAppointment(ctx context.Context, a *model.Appointment) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $2,
			end_time = $3,
			duration = $4,
			status = $5,
			service_type = $6,
			title = $7,
			description = $8,
			location = $9,
			meeting_link = $10,
			cancelled_at = $11,
			cancelled_by = $12,
			cancellation_reason = $13,
			confirmation_sent = $14,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, a.StartTime, a.EndTime, a.Duration, string(a.Status), a.ServiceType, a.Title, a.Description, a.Location,
		a.MeetingLink, a.CancelledAt, nullIfEmpty(a.CancelledBy), nullIfEmpty(a.CancellationReason), a.ConfirmationSent,
	).Scan(&a.UpdatedAt)
	return classify("update appointment", err)
}

func (t *bookingTx) LookupIdempotencyKey(ctx context.Context, scope, key string) (string, bool, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		SELECT appointment_id::text
		FROM booking_idempotency_keys
		WHERE scope = $1 AND idempotency_key = $2
	`, scope, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("lookup idempotency key", err)
	}
	return id, true, nil
}

func (t *bookingTx) SaveIdempotencyKey(ctx context.Context, scope, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (scope, idempotency_key, appointment_id)
		VALUES ($1, $2, $3)
	`, scope, key, appointmentID)
	return classify("save idempotency key", err)
}

func (t *bookingTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return classify("append event", t.outbox.Insert(ctx, t.tx, evt))
}
