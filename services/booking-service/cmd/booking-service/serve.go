package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/md-rashed-zaman/slotbook/libs/config"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/libs/grpcx"
	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
	"github.com/md-rashed-zaman/slotbook/libs/runtime"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/publictoken"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
}

type serveConfig struct {
	Service        string
	Port           string
	GRPCPort       string
	LogLevel       string
	StorageDriver  string
	DatabaseURL    string
	RedisURL       string
	RatePerMinute  int
	KafkaBrokers   string
	KafkaGroupID   string
	IdentityTopic  string
	JWTSecret      string
	JWKSURL        string
	JWTIssuer      string
	PublicTokenKey string
	FrontendURL    string
	Email          notify.SenderConfig
	NotifyTimeout  time.Duration
	AutoProvision  bool
	DefaultTZ      string
	CORSOrigins    []string
	RequestTimeout time.Duration
	MaxBodyBytes   int
}

func loadServeConfig() (serveConfig, error) {
	cfg := serveConfig{
		Service:        config.String("SERVICE_NAME", "booking-service"),
		LogLevel:       config.String("LOG_LEVEL", "info"),
		StorageDriver:  strings.ToLower(config.String("STORAGE_DRIVER", "postgres")),
		DatabaseURL:    config.String("DATABASE_URL", ""),
		RedisURL:       config.String("REDIS_URL", ""),
		KafkaBrokers:   config.String("KAFKA_BROKERS", ""),
		KafkaGroupID:   config.String("KAFKA_GROUP_ID", "booking-service"),
		IdentityTopic:  config.String("KAFKA_IDENTITY_TOPIC", "identity.user.upserted.v1"),
		JWTSecret:      config.String("JWT_SECRET", ""),
		JWKSURL:        config.String("JWKS_URL", ""),
		JWTIssuer:      config.String("JWT_ISSUER", ""),
		PublicTokenKey: config.String("PUBLIC_TOKEN_KEY", ""),
		FrontendURL:    config.String("FRONTEND_URL", "http://localhost:3000"),
		DefaultTZ:      config.String("DEFAULT_TIMEZONE", ""),
		CORSOrigins:    config.List("CORS_ALLOWED_ORIGINS"),
		Email: notify.SenderConfig{
			Provider: config.String("EMAIL_PROVIDER", "stub"),
			From:     config.String("EMAIL_FROM", "no-reply@slotbook.local"),
			FromName: config.String("EMAIL_FROM_NAME", "Slotbook"),
			SMTP: notify.SMTPConfig{
				Host:     config.String("SMTP_HOST", "localhost"),
				Port:     config.String("SMTP_PORT", "1025"),
				Username: config.String("SMTP_USERNAME", ""),
				Password: config.String("SMTP_PASSWORD", ""),
			},
			SendGrid: config.String("SENDGRID_API_KEY", ""),
			Region:   config.String("AWS_REGION", "us-east-1"),
		},
	}

	var err error
	if cfg.Port, err = config.Port("PORT", "8083"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9083"); err != nil {
		return cfg, err
	}
	if cfg.RatePerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return cfg, err
	}
	if cfg.NotifyTimeout, err = config.Duration("NOTIFY_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.AutoProvision, err = config.Bool("AUTO_PROVISION_DEFAULTS", false); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = config.Duration("HTTP_REQUEST_TIMEOUT", 15*time.Second); err != nil {
		return cfg, err
	}
	if cfg.MaxBodyBytes, err = config.Int("HTTP_MAX_BODY_BYTES", 1<<20); err != nil {
		return cfg, err
	}

	switch cfg.StorageDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return cfg, errors.New("DATABASE_URL is required when STORAGE_DRIVER=postgres")
		}
	case "memory":
	default:
		return cfg, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	if cfg.JWTSecret == "" && cfg.JWKSURL == "" {
		return cfg, errors.New("JWT_SECRET or JWKS_URL is required")
	}
	return cfg, nil
}

// bookingStore is what the engine and the identity consumer need from storage.
type bookingStore interface {
	booking.Store
	consumer.UserStore
}

type backend struct {
	store  bookingStore
	inbox  consumer.Inbox
	pool   *db.Pool
	checks []runtime.ReadyCheck
}

func openBackend(ctx context.Context, cfg serveConfig, logger *slog.Logger) (*backend, error) {
	if cfg.StorageDriver == "memory" {
		logger.Warn("using in-memory storage; data is lost on restart")
		return &backend{store: storage.NewMemoryStore(), inbox: inbox.NewMemory()}, nil
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{})
	if err != nil {
		return nil, err
	}
	return &backend{
		store:  storage.NewBookingRepository(pool),
		inbox:  inbox.NewRepository(pool),
		pool:   pool,
		checks: []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}},
	}, nil
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

// rateLimiter prefers Redis so limits hold across replicas.
func rateLimiter(ctx context.Context, cfg serveConfig, logger *slog.Logger) (httpx.Limiter, *redis.Client) {
	if cfg.RatePerMinute <= 0 {
		return nil, nil
	}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL; falling back to in-process rate limiting", "err", err)
		} else {
			rdb := redis.NewClient(opts)
			if err := rdb.Ping(ctx).Err(); err != nil {
				logger.Warn("redis unreachable at startup", "err", err)
			}
			return httpx.NewRedisLimiter(rdb, cfg.RatePerMinute, time.Minute, "ratelimit:"+cfg.Service+":"), rdb
		}
	}
	return httpx.NewMemoryLimiter(cfg.RatePerMinute, time.Minute), nil
}

func newVerifier(cfg serveConfig) (*auth.Verifier, error) {
	vcfg := auth.VerifierConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	if cfg.JWKSURL != "" {
		vcfg.JWKS = auth.NewJWKSClient(cfg.JWKSURL, 10*time.Minute)
	}
	return auth.NewVerifier(vcfg)
}

func runServer(ctx context.Context, cfg serveConfig) error {
	logger := runtime.NewLogger(cfg.Service, cfg.LogLevel)

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service, version))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		return err
	}
	defer be.Close()

	tokens, err := publictoken.NewIssuer(cfg.PublicTokenKey)
	if err != nil {
		return err
	}
	sender, err := notify.NewSender(ctx, cfg.Email, logger)
	if err != nil {
		return err
	}
	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}
	bookingMetrics := metrics.NewBookingMetrics(nil)

	engine := booking.NewEngine(be.store, booking.SystemClock{}, notify.NewEmailNotifier(sender, cfg.FrontendURL), tokens, logger, booking.Options{
		AutoProvision:   cfg.AutoProvision,
		DefaultTimezone: cfg.DefaultTZ,
		NotifyTimeout:   cfg.NotifyTimeout,
		Metrics:         bookingMetrics,
	})
	defer engine.Wait()

	if be.pool != nil {
		publisher := outbox.NewPublisher(be.pool, outbox.NewRepository(), logger, outbox.PublisherConfig{
			Brokers:   cfg.KafkaBrokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
			Metrics:   bookingMetrics,
		})
		go publisher.Run(ctx)
	}
	if cfg.KafkaBrokers != "" && cfg.IdentityTopic != "" {
		identity := consumer.New(logger, be.inbox, consumer.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
			Topic:   cfg.IdentityTopic,
		}, consumer.IdentityHandler(be.store, engine, logger))
		go identity.Run(ctx)
	}

	limiter, rdb := rateLimiter(ctx, cfg, logger)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}
	var publicLimit httpx.Middleware
	if limiter != nil {
		publicLimit = httpx.RateLimit(limiter, logger, true)
	}

	checks := append([]runtime.ReadyCheck{}, be.checks...)
	checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	}
	mux := runtime.NewBaseMux(checks...)
	mux.Handle("GET /metrics", promhttp.Handler())
	handlers.New(engine, logger, handlers.Options{
		Auth:        auth.Middleware(verifier),
		PublicLimit: publicLimit,
	}).Register(mux)

	var cors httpx.Middleware
	if len(cfg.CORSOrigins) > 0 {
		cors = httpx.WithCORS(httpx.DefaultCORSPolicy(cfg.CORSOrigins))
	}
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger, handlers.RedactPath),
		cors,
		httpx.WithBodyLimit(int64(cfg.MaxBodyBytes)),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	// Public token routes are not traced: otelhttp records the raw path as url.path.
	httpHandler = otelhttp.NewHandler(httpHandler, "booking",
		otelhttp.WithFilter(func(r *http.Request) bool { return !handlers.RedactPath.Matches(r.URL.Path) }),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpcx.NewServer(logger)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	grpcSrv.SetServing(true)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcSrv.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("servers stopped")
	return nil
}
