package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultNotifyTimeout = 10 * time.Second

type Options struct {
	// AutoProvision seeds default rules for a provider with none before slot queries and bookings.
	AutoProvision bool
	// DefaultTimezone is used for rules created without one and for provisioned defaults.
	DefaultTimezone string
	NotifyTimeout   time.Duration
	Metrics         *metrics.BookingMetrics
}

// Engine owns the booking rules: slot validity, the conflict check and the appointment
// state machine. All writes for one provider are serialized through Store.WithProviderLock.
type Engine struct {
	store    Store
	clock    Clock
	notifier Notifier
	tokens   TokenIssuer
	logger   *slog.Logger
	metrics  *metrics.BookingMetrics
	tracer   trace.Tracer
	opts     Options

	pending sync.WaitGroup
}

func NewEngine(store Store, clock Clock, notifier Notifier, tokens TokenIssuer, logger *slog.Logger, opts Options) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultTimezone == "" {
		opts.DefaultTimezone = model.DefaultTimezone
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}
	return &Engine{
		store:    store,
		clock:    clock,
		notifier: notifier,
		tokens:   tokens,
		logger:   logger,
		metrics:  opts.Metrics,
		tracer:   otel.Tracer("booking-service/booking"),
		opts:     opts,
	}
}

// Wait blocks until in-flight confirmation notifications finish. Call it on shutdown.
func (e *Engine) Wait() {
	e.pending.Wait()
}

// begin opens a span for op; the returned func ends it and records the outcome.
func (e *Engine) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "booking."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.metrics.ObserveOperation(op, resultLabel(err), time.Since(started).Seconds())
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "error"
	}
}

// resolveProvider loads providerID and checks it can take bookings.
func (e *Engine) resolveProvider(ctx context.Context, providerID string) (model.User, error) {
	if providerID == "" {
		return model.User{}, invalidInput("providerId is required")
	}
	provider, err := e.store.GetUser(ctx, providerID)
	if errors.Is(err, ErrNotFound) {
		return model.User{}, notFound("provider")
	}
	if err != nil {
		return model.User{}, err
	}
	if !provider.IsActive || !provider.Role.CanProvide() {
		return model.User{}, fmt.Errorf("%w: user is not an active provider", ErrInvalidState)
	}
	return provider, nil
}

// notifyConfirmation sends the confirmation off the request path. Registered clients are
// resolved to their directory entry first. Failures are logged and counted only.
func (e *Engine) notifyConfirmation(ctx context.Context, c Confirmation, clientUserID string) {
	if e.notifier == nil {
		return
	}
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.NotifyTimeout)
		defer cancel()

		if clientUserID != "" {
			client, err := e.store.GetUser(ctx, clientUserID)
			if err != nil {
				e.metrics.ObserveNotification("failed")
				e.logger.Warn("confirmation recipient lookup failed", "user_id", clientUserID, "err", err)
				return
			}
			c.To, c.ClientName = client.Email, client.Name
		}
		if c.To == "" {
			e.metrics.ObserveNotification("skipped")
			return
		}
		if err := e.notifier.SendAppointmentConfirmation(ctx, c); err != nil {
			e.metrics.ObserveNotification("failed")
			e.logger.Warn("confirmation send failed", "err", err)
			return
		}
		e.metrics.ObserveNotification("sent")
	}()
}
