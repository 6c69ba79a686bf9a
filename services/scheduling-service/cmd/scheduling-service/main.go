package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tareq-aziz/lifeline/libs/config"
	"github.com/tareq-aziz/lifeline/libs/db"
	"github.com/tareq-aziz/lifeline/libs/httpx"
	"github.com/tareq-aziz/lifeline/libs/kafkax"
	otelx "github.com/tareq-aziz/lifeline/libs/otel"
	"github.com/tareq-aziz/lifeline/libs/runtime"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/booking"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/consumer"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/handlers"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/inbox"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/notify"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/outbox"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/policy"
	"github.com/tareq-aziz/lifeline/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func rulesFromEnv() policy.Rules {
	rules := policy.Default()
	rules.MinDonorAge = config.Int("MIN_DONOR_AGE", rules.MinDonorAge)
	rules.MaxDonorAge = config.Int("MAX_DONOR_AGE", rules.MaxDonorAge)
	rules.MinIntervalMonths = config.Int("MIN_DONATION_INTERVAL_MONTHS", rules.MinIntervalMonths)
	rules.DayStart = config.String("SLOT_DAY_START", rules.DayStart)
	rules.DayEnd = config.String("SLOT_DAY_END", rules.DayEnd)
	rules.SlotStep = config.Duration("SLOT_STEP", rules.SlotStep)
	rules.DefaultDuration = config.Duration("DEFAULT_APPOINTMENT_DURATION", rules.DefaultDuration)
	return rules
}

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	apptRepo := storage.NewAppointmentRepository(pool)
	donorRepo := storage.NewDonorRepository(pool)
	bankRepo := storage.NewBankRepository(pool)
	idemRepo := storage.NewIdempotencyRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	policyProvider, err := policy.NewRegistryProvider(logger, rulesFromEnv(), config.String("REGISTRY_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("policy provider init failed; using defaults", "err", err)
		policyProvider = policy.NewStaticProvider(rulesFromEnv())
	}

	notifier := notify.NewNotifier(pool, outboxRepo)
	manager := booking.NewManager(apptRepo, donorRepo, bankRepo, notifier, policyProvider, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	startConsumer := func(topic string, handler consumer.Handler) {
		if topic == "" {
			return
		}
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: config.String("KAFKA_BROKERS", ""),
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}
	if config.String("KAFKA_BROKERS", "") != "" {
		startConsumer(config.String("DONOR_FEED_TOPIC", consumer.TopicDonorUpdated), consumer.DonorFeedHandler(donorRepo))
		startConsumer(config.String("BANK_FEED_TOPIC", consumer.TopicBankUpdated), consumer.BankFeedHandler(bankRepo))
	}

	apptHandler := handlers.NewAppointmentHandler(manager, idemRepo, logger, jwtSecret)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	apptHandler.Register(mux)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
	}
	if origins := config.String("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		middlewares = append(middlewares, httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(origins, ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id", "Idempotency-Key"},
			MaxAge:         10 * time.Minute,
		}))
	}
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter := httpx.NewRedisRateLimiter(rdb,
			config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		limiter := httpx.NewRateLimiter(config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute)
		middlewares = append(middlewares, limiter.Middleware())
	}

	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
