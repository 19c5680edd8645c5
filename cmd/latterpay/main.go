package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/subosito/gotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Mapetere/latterpay/internal/config"
	"github.com/Mapetere/latterpay/internal/flow"
	"github.com/Mapetere/latterpay/internal/httpapi"
	"github.com/Mapetere/latterpay/internal/logging"
	"github.com/Mapetere/latterpay/internal/nlu"
	"github.com/Mapetere/latterpay/internal/paynow"
	"github.com/Mapetere/latterpay/internal/resilience"
	"github.com/Mapetere/latterpay/internal/store"
	"github.com/Mapetere/latterpay/internal/store/postgres"
	redisdedup "github.com/Mapetere/latterpay/internal/store/redis"
	"github.com/Mapetere/latterpay/internal/telemetry"
	"github.com/Mapetere/latterpay/internal/whatsapp"
	"github.com/Mapetere/latterpay/internal/worker"
)

func main() {
	_ = gotenv.Load()
	cfg := config.Load()
	logging.Init(cfg.Debug)
	log := logging.Logger

	shutdownTelemetry := telemetry.Setup("latterpay")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	if err := st.InitSchema(context.Background()); err != nil {
		log.WithError(err).Fatal("schema init failed")
	}

	// Dedup lives in Redis when available, otherwise in Postgres alongside
	// everything else.
	var dedup store.DedupStore = st
	if cfg.RedisURL != "" {
		rd, err := redisdedup.NewDedup(cfg.RedisURL, cfg.DedupRetention)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, dedup falls back to postgres")
		} else {
			defer rd.Close()
			dedup = rd
		}
	}

	paynowBreaker := resilience.NewCircuitBreaker("paynow", 5, 60*time.Second)
	whatsappBreaker := resilience.NewCircuitBreaker("whatsapp", 3, 30*time.Second)

	sender := whatsapp.NewClient(whatsapp.Config{
		APIBase:       cfg.WhatsAppAPIBase,
		Token:         cfg.WhatsAppToken,
		PhoneNumberID: cfg.PhoneNumberID,
		Breaker:       whatsappBreaker,
	})
	gateway := paynow.NewClient(paynow.Config{
		BaseURL:   cfg.PaynowBaseURL,
		ZWG:       paynow.Integration{ID: cfg.PaynowZWGID, Key: cfg.PaynowZWGKey},
		USD:       paynow.Integration{ID: cfg.PaynowUSDID, Key: cfg.PaynowUSDKey},
		ReturnURL: cfg.ReturnURL,
		ResultURL: cfg.ResultURL,
		Breaker:   paynowBreaker,
	})

	engine := flow.NewEngine(flow.Config{
		Store:     st,
		Sender:    sender,
		Gateway:   gateway,
		Validator: resilience.NewValidator(cfg.MinAmount, cfg.MaxAmount),
		Parser:    nlu.NewEngine(cfg.OpenAIAPIKey, cfg.OpenAIModel),
		IsAdmin:   cfg.IsAdmin,
	})
	notifier := &flow.Notifier{Sender: sender, FinancePhone: cfg.FinancePhone}

	handler := httpapi.NewHandler(httpapi.Options{
		Store:    st,
		Dedup:    dedup,
		Sender:   sender,
		Flow:     engine,
		Limiter:  resilience.NewRateLimiter(cfg.RateLimitTokens, cfg.RateLimitRefill),
		Notifier: notifier,
		Breakers: map[string]*resilience.CircuitBreaker{
			"paynow":   paynowBreaker,
			"whatsapp": whatsappBreaker,
		},
		VerifyToken:   cfg.VerifyToken,
		AppSecret:     cfg.MetaAppSecret,
		PhoneNumberID: cfg.PhoneNumberID,
		BotNumber:     cfg.BotNumber,
		PaynowZWGKey:  cfg.PaynowZWGKey,
		PaynowUSDKey:  cfg.PaynowUSDKey,
		AdminToken:    cfg.AdminAPIToken,
	})

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go worker.Start(workerCtx, "session-monitor", cfg.MonitorInterval,
		worker.NewSessionMonitor(st, sender, cfg.SessionTimeout, cfg.SessionWarning))
	go worker.Start(workerCtx, "payment-poller", cfg.PollInterval,
		worker.NewPaymentPoller(st, gateway, notifier))
	go worker.Start(workerCtx, "dedup-cleanup", time.Hour,
		worker.NewDedupCleanup(dedup, cfg.DedupRetention))

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(handler.Routes()), "latterpay")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("latterpay listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopWorkers()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
}
