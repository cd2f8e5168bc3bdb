package inbox

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestRecordDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO inbox_events").WithArgs("e1", "t").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO inbox_events").WithArgs("e1", "t").WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectExec("INSERT INTO inbox_events").WithArgs("e2", "t").WillReturnError(errors.New("db down"))

	repo := NewRepository(mock)
	ctx := context.Background()
	if ok, err := repo.Record(ctx, "e1", "t"); !ok || err != nil {
		t.Fatalf("first record: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.Record(ctx, "e1", "t"); ok || err != nil {
		t.Fatalf("duplicate: ok=%v err=%v", ok, err)
	}
	if _, err := repo.Record(ctx, "e2", "t"); err == nil {
		t.Fatal("expected db error")
	}
}

func TestMemoryRecord(t *testing.T) {
	m := NewMemory()
	first, _ := m.Record(context.Background(), "e1", "t")
	again, _ := m.Record(context.Background(), "e1", "t")
	if !first || again {
		t.Fatalf("first=%v again=%v", first, again)
	}
}

func TestForget(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("DELETE FROM inbox_events").WithArgs("e1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	if err := NewRepository(mock).Forget(context.Background(), "e1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}

	m := NewMemory()
	ctx := context.Background()
	_, _ = m.Record(ctx, "e1", "t")
	_ = m.Forget(ctx, "e1")
	if ok, _ := m.Record(ctx, "e1", "t"); !ok {
		t.Fatal("expected a forgotten id to be recorded again")
	}
}
