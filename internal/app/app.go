package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/payrecon/internal/domain/order"
	"github.com/xenking/payrecon/internal/domain/reconcile"
	"github.com/xenking/payrecon/internal/handler"
	"github.com/xenking/payrecon/internal/storage/memory"
	"github.com/xenking/payrecon/internal/storage/postgres"
	"github.com/xenking/payrecon/pkg/health"
	"github.com/xenking/payrecon/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store),
	)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("store", 5*time.Second, store.Ping)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	if cfg.Simulator.Enabled {
		lg.Warn("Payment simulator enabled", zap.String("path", handler.PathSimulatePayment))
	}
	root, err := NewHTTPHandler(ctx, cfg, store, healthSvc, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           root,
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

// NewHTTPHandler assembles the domain services over store and returns the
// fully wrapped HTTP handler serving the API and health probes.
func NewHTTPHandler(
	ctx context.Context,
	cfg *Config,
	store order.Store,
	healthSvc *health.Health,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (http.Handler, error) {
	codes, err := order.NewCodeGenerator(cfg.Payment.CodePrefix)
	if err != nil {
		return nil, errors.Wrap(err, "create code generator")
	}
	orderService := order.NewService(store, codes, order.ServiceConfig{
		BankAccount: cfg.Payment.BankAccount,
		BankName:    cfg.Payment.BankName,
	})
	engine, err := reconcile.NewEngine(store,
		reconcile.WithTracerProvider(tp),
		reconcile.WithMeterProvider(mp),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create reconcile engine")
	}

	h := handler.NewHandler(handler.HandlerConfig{
		QRBaseURL:       cfg.Payment.QRBaseURL,
		QRTemplate:      cfg.Payment.QRTemplate,
		EnableSimulator: cfg.Simulator.Enabled,
	}, orderService, engine)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	return httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip: func(r *http.Request) bool {
				return r.URL.Path == handler.PathWebhook
			},
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("payrecon-api", tp, mp),
		httpmiddleware.LogRequests(),
	), nil
}

// openStore builds the configured order store and its release func.
func openStore(ctx context.Context, cfg *Config) (order.Store, func(), error) {
	if cfg.Store != StorePostgres {
		return memory.NewOrderStore(), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "run migrations")
	}
	return postgres.NewOrderStore(pool), pool.Close, nil
}
