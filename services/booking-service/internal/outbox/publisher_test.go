package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	"github.com/md-rashed-zaman/slotbook/libs/runtime"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

var recordColumns = []string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}

func TestPublishBatchMarksPublished(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(10).WillReturnRows(
		pgxmock.NewRows(recordColumns).
			AddRow(int64(7), "evt-7", "appointment", "appt-1", "booking.appointment.created.v1", []byte(`{"id":"appt-1"}`), "", "", time.Now()),
	)
	mock.ExpectExec("UPDATE outbox_events").WithArgs([]int64{7}).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	p := NewPublisher(mock, NewRepository(), runtime.Discard(), PublisherConfig{Brokers: "localhost:9092", BatchSize: 10})
	w := &fakeWriter{}
	n, err := p.PublishBatch(context.Background(), w)
	if err != nil {
		t.Fatalf("PublishBatch: %v", err)
	}
	if n != 1 || len(w.msgs) != 1 {
		t.Fatalf("expected one message, got n=%d msgs=%d", n, len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != "booking.appointment.created.v1" || string(msg.Key) != "appt-1" {
		t.Fatalf("unexpected message routing: topic=%s key=%s", msg.Topic, msg.Key)
	}
	if got := kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID); got != "evt-7" {
		t.Fatalf("event_id header = %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPublishBatchRollsBackOnWriteFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(50).WillReturnRows(
		pgxmock.NewRows(recordColumns).
			AddRow(int64(1), "evt-1", "appointment", "appt-1", "booking.appointment.cancelled.v1", []byte(`{}`), "", "", time.Now()),
	)
	mock.ExpectRollback()

	p := NewPublisher(mock, NewRepository(), runtime.Discard(), PublisherConfig{Brokers: "localhost:9092"})
	_, err = p.PublishBatch(context.Background(), &fakeWriter{err: errors.New("broker down")})
	if err == nil {
		t.Fatal("expected write error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPublishBatchEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(50).WillReturnRows(pgxmock.NewRows(recordColumns))
	mock.ExpectCommit()

	p := NewPublisher(mock, NewRepository(), runtime.Discard(), PublisherConfig{})
	w := &fakeWriter{}
	n, err := p.PublishBatch(context.Background(), w)
	if err != nil || n != 0 || len(w.msgs) != 0 {
		t.Fatalf("expected empty batch, got n=%d err=%v", n, err)
	}
}
