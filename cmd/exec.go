package cmd

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/mail"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticket-reconciler/config"
	"ticket-reconciler/internal/handlers"
	"ticket-reconciler/internal/locks"
	"ticket-reconciler/internal/pricing"
	"ticket-reconciler/internal/services"
	"ticket-reconciler/internal/services/notify"
	"ticket-reconciler/internal/services/provider"
	"ticket-reconciler/internal/store"
	_ "ticket-reconciler/migrations"
	"ticket-reconciler/security"
	"ticket-reconciler/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/pocketbase/pocketbase/tools/mailer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go/v7"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUserID))
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize services
	st := store.NewPocketBase(app)
	calc := pricing.NewCalculator(pricing.Policy{
		ServiceFeeRate:  cfg.ServiceFeeRate,
		ProviderFeeRate: cfg.ProviderFeeRate,
		FeeTaxRate:      cfg.FeeTaxRate,
		WithholdingRate: cfg.WithholdingRate,
		PayoutDelay:     cfg.PayoutDelay,
	})
	locker := locks.NewRedisLocker(redisClient, cfg.LockTTL, locks.WithWait(cfg.LockWait))
	providerClient := provider.NewClient(provider.ClientConfig{
		BaseURL:     cfg.ProviderBaseURL,
		AccessToken: cfg.ProviderAccessToken,
		Timeout:     cfg.ProviderTimeout,
	}, nil)

	notifier := notify.Fanout{
		notify.NewRealtime(notify.NewPubNubPublisher(pn)),
		notify.NewMail(appMailer{app: app}, mail.Address{Name: cfg.MailFromName, Address: cfg.MailFromAddress}),
	}

	reconciler := services.NewReconciler(services.ReconcilerConfig{
		Store:         st,
		Locker:        locker,
		Calculator:    calc,
		Payouts:       services.NewPayoutScheduler(st, cfg.PayoutDelay),
		Notifier:      notifier,
		NotifyTimeout: cfg.NotifyTimeout,
	})
	webhookEntry := services.NewWebhookEntry(providerClient, reconciler)
	pollEntry := services.NewPollEntry(st, providerClient, reconciler)
	refundService := services.NewRefundService(st, providerClient, locker)
	checkoutService := services.NewCheckoutService(st, calc)
	sweeper := services.NewPendingSweeper(st, pollEntry, cfg.SweepInterval, cfg.SweepMinAge, cfg.SweepBatch)

	var verifier *security.WebhookVerifier
	if cfg.ProviderWebhookSecret != "" {
		verifier = security.NewWebhookVerifier(cfg.ProviderWebhookSecret, cfg.ProviderWebhookMaxAge)
	} else {
		slog.Warn("PROVIDER_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}
	limiter := security.NewRateLimiter(redisClient)

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(webhookEntry, pollEntry, verifier)
	purchaseHandler := handlers.NewPurchaseHandler(checkoutService)
	adminHandler := handlers.NewAdminHandler(refundService, pollEntry)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		// Purchase endpoints
		e.Router.POST("/api/v1/purchases", purchaseHandler.Create).
			Bind(apis.RequireAuth()).
			BindFunc(limiter.AntiBot())

		// Payment endpoints
		e.Router.POST("/api/v1/payments/webhook", paymentHandler.Webhook)
		e.Router.POST("/api/v1/payments/check-status", paymentHandler.CheckStatus).
			Bind(apis.RequireAuth()).
			BindFunc(limiter.AntiBot()).
			BindFunc(limiter.Limit("check-status", cfg.PollRateLimit, cfg.PollRateWindow))

		// Admin endpoints
		admin := e.Router.Group("/api/v1/admin")
		admin.Bind(apis.RequireSuperuserAuth())
		admin.GET("/refunds/{refundId}/preview", adminHandler.PreviewRefund)
		admin.POST("/refunds/{refundId}/approve", adminHandler.ApproveRefund)
		admin.POST("/refunds/{refundId}/reject", adminHandler.RejectRefund)
		admin.POST("/purchases/{purchaseId}/reconcile", adminHandler.ReconcilePurchase)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(http.StatusOK, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		// Start background tasks
		if cfg.SweepEnabled {
			go sweeper.Run(ctx)
		}
		if cfg.EnableMetrics {
			go serveMetrics(ctx, cfg.MetricsPort)
		}

		return e.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancel()
		reconciler.Wait()
		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// appMailer resolves the mail client per message so SMTP settings changed
// in the admin UI take effect without a restart.
type appMailer struct {
	app core.App
}

func (m appMailer) Send(msg *mailer.Message) error {
	return m.app.NewMailClient().Send(msg)
}

func serveMetrics(ctx context.Context, port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server", "error", err)
	}
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
