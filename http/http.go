package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/brojonat/bountypay/bounty"
	"github.com/brojonat/bountypay/chain"
	"github.com/brojonat/bountypay/http/api"
	"github.com/brojonat/bountypay/internal/config"
	"github.com/brojonat/bountypay/internal/stools"
)

const (
	maxBodyBytes        = 1 << 20
	reconcileWorkflowID = "bounty-reconcile"
)

// Services are the domain services behind the API.
type Services struct {
	Ledger     bounty.Ledger
	Tokens     *chain.TokenTable
	Intake     *bounty.Intake
	Settlement *bounty.Orchestrator
	Refunds    *bounty.RefundResolver
	Reconciler *bounty.Reconciler
}

// NewServices builds every service from the same dependencies.
func NewServices(d bounty.Deps) Services {
	if d.Tokens == nil {
		d.Tokens = chain.NewTokenTable(d.Networks.Tokens()...)
	}
	return Services{
		Ledger:     d.Ledger,
		Tokens:     d.Tokens,
		Intake:     bounty.NewIntake(d),
		Settlement: bounty.NewOrchestrator(d),
		Refunds:    bounty.NewRefundResolver(d),
		Reconciler: bounty.NewReconciler(d),
	}
}

func writeOK(w http.ResponseWriter) {
	writeJSONResponse(w, api.DefaultJSONResponse{Message: "ok"}, http.StatusOK)
}

func writeInternalError(l *slog.Logger, w http.ResponseWriter, e error) {
	l.Error("internal error", "error", e.Error())
	writeJSONResponse(w, api.DefaultJSONResponse{Error: "internal error"}, http.StatusInternalServerError)
}

func writeBadRequestError(w http.ResponseWriter, err error) {
	writeJSONResponse(w, api.DefaultJSONResponse{Error: err.Error()}, http.StatusBadRequest)
}

// writeDecodeError answers a body decoding failure with the status carried
// by the error, defaulting to 400.
func writeDecodeError(w http.ResponseWriter, err error) {
	code := http.StatusBadRequest
	var re *stools.RequestError
	if errors.As(err, &re) {
		code = re.Status
	}
	writeJSONResponse(w, api.DefaultJSONResponse{Error: "invalid request: " + err.Error()}, code)
}

func writeNotFoundError(w http.ResponseWriter) {
	writeJSONResponse(w, api.DefaultJSONResponse{Error: "not found"}, http.StatusNotFound)
}

func writeConflictError(w http.ResponseWriter, err error) {
	writeJSONResponse(w, api.DefaultJSONResponse{Error: err.Error()}, http.StatusConflict)
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSONResponse(w, api.DefaultJSONResponse{Error: "unauthorized"}, http.StatusUnauthorized)
}

func writeJSONResponse(w http.ResponseWriter, resp interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

// RunServer wires the services from cfg and serves the API until ctx is done.
func RunServer(ctx context.Context, logger *slog.Logger, cfg *config.Config, tc client.Client, port string) error {
	if !cfg.Dev() && cfg.GitHubWebhookSecret == "" {
		return fmt.Errorf("server startup error: GITHUB_WEBHOOK_SECRET not set")
	}
	if cfg.SecretKey == "" {
		logger.Warn("BOUNTYPAY_SECRET_KEY not set, operator endpoints are unreachable")
	}

	networks, tokens, err := cfg.Networks()
	if err != nil {
		return fmt.Errorf("server startup error: %w", err)
	}
	key, err := cfg.SignerKey()
	if err != nil {
		logger.Warn("No signer key, custodial settlement and refunds will fail", "error", err)
	}
	gateway := chain.NewGateway(networks, key, logger)
	logger.Info("Chain gateway ready", "networks", networks.Aliases(), "signer", gateway.Signer().Hex())

	ledger, closeLedger, err := cfg.OpenLedger(ctx, logger)
	if err != nil {
		return fmt.Errorf("server startup error: %w", err)
	}
	defer closeLedger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := NewServices(bounty.Deps{
		Ledger:   ledger,
		Chain:    gateway,
		Networks: networks,
		Tokens:   tokens,
		Notifier: bounty.NewTemporalNotifier(tc, cfg.TaskQueue),
		Logger:   logger,
		Metrics:  bounty.NewMetrics(reg),
	})

	if err := setupReconcileSchedule(ctx, logger, tc, cfg.Env, cfg.TaskQueue, cfg.ReconcileInterval); err != nil {
		logger.Error("Failed to set up reconcile schedule", "error", err)
	}

	if len(cfg.CORSOrigins) == 0 {
		logger.Warn("CORS_ORIGINS not set, CORS might not function correctly")
	}
	corsHandler := handlers.CORS(
		handlers.AllowedHeaders(cfg.CORSHeaders),
		handlers.AllowedMethods(cfg.CORSMethods),
		handlers.AllowedOrigins(cfg.CORSOrigins),
		handlers.AllowCredentials(),
	)(newRouter(logger, cfg, svc, reg))

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newRouter(logger *slog.Logger, cfg *config.Config, svc Services, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	secret := func() string { return cfg.SecretKey }
	webhookSecret := func() string { return cfg.GitHubWebhookSecret }
	publicLimiter := NewRateLimiter(time.Minute, 100)
	base := []func(http.HandlerFunc) http.HandlerFunc{
		withLogging(logger),
		makeGraceful(logger),
	}
	sudo := stools.Chain(base, []func(http.HandlerFunc) http.HandlerFunc{
		atLeastOneAuth(bearerAuthorizerCtxSetToken(secret)),
		requireStatus(UserStatusSudo),
		setMaxBytesReader(maxBodyBytes),
	})
	public := stools.Chain(base, []func(http.HandlerFunc) http.HandlerFunc{
		rateLimitMiddleware(publicLimiter),
		setMaxBytesReader(maxBodyBytes),
	})

	mux.HandleFunc("GET /ping", stools.AdaptHandler(
		handlePing(),
		withLogging(logger),
	))

	mux.HandleFunc("POST /token", stools.AdaptHandler(
		handleIssueSudoToken(logger, secret),
		withLogging(logger),
		atLeastOneAuth(oauthAuthorizerForm(secret), basicAuthorizerCtxSetEmail(secret)),
	))

	mux.HandleFunc("POST /webhooks/github", stools.AdaptHandler(
		handleGitHubWebhook(logger, webhookSecret, svc.Intake, svc.Settlement),
		stools.Chain(base, []func(http.HandlerFunc) http.HandlerFunc{setMaxBytesReader(25 << 20)})...,
	))

	mux.HandleFunc("POST /bounties", stools.AdaptHandler(handleRegisterBounty(logger, svc), public...))
	mux.HandleFunc("GET /bounties", stools.AdaptHandler(handleListBounties(logger, svc), public...))
	mux.HandleFunc("GET /bounties/refundable", stools.AdaptHandler(handleListRefundable(logger, svc), public...))
	mux.HandleFunc("GET /bounties/{id}", stools.AdaptHandler(handleGetBounty(logger, svc), public...))
	mux.HandleFunc("GET /bounties/{id}/refund-eligibility", stools.AdaptHandler(handleRefundEligibility(logger, svc), public...))
	mux.HandleFunc("POST /bounties/{id}/refund/record", stools.AdaptHandler(handleRecordRefund(logger, svc), public...))
	mux.HandleFunc("POST /bounties/{id}/refund", stools.AdaptHandler(handleRefund(logger, svc), sudo...))
	mux.HandleFunc("GET /stats", stools.AdaptHandler(handleStats(logger, svc), public...))

	mux.HandleFunc("POST /admin/replay", stools.AdaptHandler(handleReplay(logger, svc), sudo...))
	mux.HandleFunc("POST /admin/reconcile", stools.AdaptHandler(handleReconcile(logger, svc), sudo...))
	mux.HandleFunc("PUT /admin/wallets", stools.AdaptHandler(handlePutWallet(logger, svc), sudo...))

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// withLogging wraps a handler with logging middleware
func withLogging(logger *slog.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next(w, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
			)
		}
	}
}

// handlePing returns a handler for the ping endpoint
func handlePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, api.DefaultJSONResponse{Message: "pong"}, http.StatusOK)
	}
}

// setupReconcileSchedule creates the Temporal schedule that periodically
// reconciles open bounties against the chain.
func setupReconcileSchedule(ctx context.Context, logger *slog.Logger, tc client.Client, env, taskQueue string, every time.Duration) error {
	if taskQueue == "" {
		return fmt.Errorf("cannot create schedule: task queue not set")
	}
	if every <= 0 {
		logger.Info("Reconcile schedule disabled", "interval", every)
		return nil
	}
	scheduleID := fmt.Sprintf("bounty-reconcile-%s", env)
	logger.Info("Attempting to create reconcile schedule", "schedule_id", scheduleID, "interval", every)

	_, err := tc.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: scheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: every}},
		},
		Action: &client.ScheduleWorkflowAction{
			Workflow:  bounty.ReconcileBountiesWorkflow,
			ID:        reconcileWorkflowID,
			TaskQueue: taskQueue,
		},
	})
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		logger.Info("Reconcile schedule already exists, no action taken.", "schedule_id", scheduleID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create schedule %s: %w", scheduleID, err)
	}
	logger.Info("Successfully created reconcile schedule", "schedule_id", scheduleID)
	return nil
}
