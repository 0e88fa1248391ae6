package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/promotion"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/internal/domain/shipping"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/notify"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/internal/storage/redis"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const serviceName = "storefront-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Redis is optional. Without it webhook replays are absorbed by the
	// payment status check, settings are invalidated locally only and rate
	// limits are per instance.
	var (
		bus     settings.Bus
		replay  order.ReplayGuard
		limiter httpmiddleware.Limiter
	)
	if cfg.RedisURL != "" {
		rdb, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		bus = redis.NewSettingsBus(rdb, "storefront:settings")
		replay = redis.NewReplayGuard(rdb, "storefront:webhook:")
		limiter = redis.NewRateLimiter(rdb, "storefront:ratelimit:", cfg.RateLimit.Max, cfg.RateLimit.Window)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(redisPinger(rdb)))
	} else {
		mem := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		go mem.RunCleanup(ctx)
		limiter = mem
	}

	// Repositories.
	db := postgres.NewDB(pool)
	variantRepo := postgres.NewVariantRepository(pool)
	addressRepo := postgres.NewAddressRepository(pool)
	promotionRepo := postgres.NewPromotionRepository(pool)
	settingsRepo := postgres.NewSettingsRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	settingsSvc := settings.NewService(settingsRepo, bus, settings.Defaults())
	go func() {
		if err := settingsSvc.Listen(ctx); err != nil {
			lg.Error("Settings listener stopped", zap.Error(err))
		}
	}()

	payments, err := newPayments(cfg)
	if err != nil {
		return errors.Wrap(err, "create payment gateways")
	}
	notifier, closeNotifier, err := newNotifier(cfg, healthSvc)
	if err != nil {
		return errors.Wrap(err, "create notifier")
	}
	defer closeNotifier()

	orderSvc, err := order.NewService(order.ServiceDeps{
		Tx:        db,
		Addresses: addressRepo,
		Catalog:   variantRepo,
		Promotions: promotion.NewEvaluator(promotionRepo, promotion.Options{
			Automatic:                cfg.Promotions.Automatic,
			CouponOverridesAutomatic: cfg.Promotions.CouponOverridesAutomatic,
		}),
		Shipping: shipping.NewCalculator(settingsRepo, settingsSvc),
		Settings: settingsSvc,
		Payments: payments,
		Notifier: notifier,
		Replay:   replay,
		Meter:    m.MeterProvider().Meter(serviceName),
		Tracer:   m.TracerProvider().Tracer(serviceName),
		Options: order.Options{
			AllowReturnAfterRejection: cfg.Orders.AllowReturnAfterRejection,
			WebhookReplayTTL:          cfg.Orders.WebhookReplayTTL,
		},
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	tokens, err := auth.NewTokens([]byte(cfg.JWT.Secret), cfg.JWT.Issuer)
	if err != nil {
		return errors.Wrap(err, "create token verifier")
	}

	// HTTP handlers: API routes + health endpoints on one router.
	h := handler.NewHandler(
		handler.Config{MaxBodyBytes: cfg.MaxBodyBytes},
		orderSvc,
		settingsSvc,
		tokens,
		auth.NewKeyAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper)),
	)
	router := h.Router()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	routeFinder := httpmiddleware.MakeRouteFinder(router)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Refunds and payment redirects call providers synchronously.
		WriteTimeout:   45 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimit(limiter, nil),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func redisPinger(rdb *goredis.Client) health.PingFunc {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}

// newPayments registers cash on delivery and every configured provider.
func newPayments(cfg *Config) (*payment.Manager, error) {
	gateways := map[payment.Method]payment.Gateway{
		payment.MethodCashOnDelivery: payment.CashOnDelivery{},
	}
	if cfg.Kashier.MerchantID != "" {
		k, err := payment.NewKashier(payment.KashierConfig{
			MerchantID:       cfg.Kashier.MerchantID,
			APIKey:           cfg.Kashier.APIKey,
			SecretKey:        cfg.Kashier.SecretKey,
			Mode:             cfg.Kashier.Mode,
			MerchantRedirect: cfg.Kashier.MerchantRedirect,
			FailureRedirect:  cfg.Kashier.FailureRedirect,
			WebhookURL:       cfg.Kashier.WebhookURL,
		})
		if err != nil {
			return nil, err
		}
		gateways[payment.MethodGateway] = k
	}
	if cfg.Stripe.APIKey != "" {
		s, err := payment.NewStripe(payment.StripeConfig{
			APIKey:        cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			SuccessURL:    cfg.Stripe.SuccessURL,
			CancelURL:     cfg.Stripe.CancelURL,
		})
		if err != nil {
			return nil, err
		}
		gateways[payment.MethodCreditCard] = s
	}
	return payment.NewManager(gateways)
}

// newNotifier publishes to Kafka when brokers are configured and logs
// notifications otherwise.
func newNotifier(cfg *Config, hs *health.Health) (order.Notifier, func(), error) {
	f, err := notify.NewFormatter(cfg.Locale)
	if err != nil {
		return nil, nil, err
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return notify.NewLog(f), func() {}, nil
	}

	w := notify.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	hs.AddReadinessCheck("kafka", 2*time.Second, func(ctx context.Context) error {
		conn, err := kafka.DialContext(ctx, "tcp", cfg.Kafka.Brokers[0])
		if err != nil {
			return errors.Wrap(err, "dial kafka")
		}
		return conn.Close()
	})
	return notify.NewKafka(w, f), func() { _ = w.Close() }, nil
}
