package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/coverhook/internal/adapter/driven/provider"
	sqliteadapter "github.com/ericfisherdev/coverhook/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/coverhook/internal/adapter/driven/taskqueue"
	httphandler "github.com/ericfisherdev/coverhook/internal/adapter/driving/http"
	"github.com/ericfisherdev/coverhook/internal/adapter/driving/webhook"
	"github.com/ericfisherdev/coverhook/internal/application"
	"github.com/ericfisherdev/coverhook/internal/config"
	"github.com/ericfisherdev/coverhook/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on invalid env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"enterprise", cfg.Enterprise,
		"task_workers", cfg.TaskWorkers,
		"token_encryption", cfg.SecretKey != nil,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire stores.
	ownerStore := sqliteadapter.NewOwnerRepo(db, cfg.SecretKey)
	repoStore := sqliteadapter.NewRepoRepo(db)
	commitStore := sqliteadapter.NewCommitRepo(db)
	pullStore := sqliteadapter.NewPullRepo(db)
	branchStore := sqliteadapter.NewBranchRepo(db)
	taskStore := sqliteadapter.NewTaskRepo(db)

	// 6. Start the task dispatcher that writes the outbox off the request path.
	dispatcher, err := taskqueue.NewDispatcher(taskStore, cfg.TaskWorkers, slog.Default())
	if err != nil {
		return err
	}

	// 7. Provider adapters and the permission service.
	factory := provider.NewFactory(provider.Config{
		GitHubEnterpriseURL: cfg.GitHubEnterpriseURL,
		GitLabEnterpriseURL: cfg.GitLabEnterpriseURL,
		BitbucketServerURL:  cfg.BitbucketServerURL,
	})
	var seats driven.SeatCounter
	if cfg.Enterprise {
		seats = provider.StaticSeats(cfg.LicenseSeats)
	}
	permSvc := application.NewPermissionService(ownerStore, factory, seats, slog.Default())

	// 8. Webhook pipeline: normalizers, router, verifier, service.
	state := application.NewStateMutator(ownerStore, repoStore, commitStore, pullStore, branchStore, slog.Default())
	normalizers := application.NewNormalizers(state, dispatcher, application.NormalizerConfig{
		CIContext:           cfg.CIContext,
		Enterprise:          cfg.Enterprise,
		StatusPendingOnPush: cfg.StatusPendingOnPush,
	}, slog.Default())
	router, err := application.NewRouter(normalizers...)
	if err != nil {
		return err
	}
	verifier := application.NewSignatureVerifier(application.VerifierConfig{
		GitHubSecret:                    cfg.GitHubWebhookSecret,
		GitHubEnterpriseSecret:          cfg.GitHubEnterpriseWebhookSecret,
		GitLabForceValidation:           cfg.GitLabWebhookValidation,
		GitLabEnterpriseForceValidation: cfg.GitLabEnterpriseWebhookValidation,
	})
	webhookSvc := application.NewWebhookService(router, verifier, state, slog.Default())

	// 9. HTTP handlers: read API plus webhook receiver on one mux.
	hookHandler := webhook.NewHandler(webhookSvc, webhook.Config{
		RateLimit: cfg.WebhookRateLimit,
		RateBurst: cfg.WebhookRateBurst,
	}, slog.Default())
	apiHandler := httphandler.NewHandler(httphandler.Stores{
		Owners:   ownerStore,
		Repos:    repoStore,
		Commits:  commitStore,
		Pulls:    pullStore,
		Branches: branchStore,
	}, permSvc, func() (uint, bool, error) {
		return sqliteadapter.SchemaVersion(db.Writer)
	}, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default(), hookHandler)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	// 10. Log startup complete.
	slog.Info("coverhook started",
		"listen_addr", cfg.ListenAddr,
		"providers", len(normalizers),
	)

	// 11. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 12. Graceful shutdown: drain HTTP first so no new tasks arrive, then
	// flush the dispatcher before the database closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	if err := dispatcher.Close(10 * time.Second); err != nil {
		slog.Error("task dispatcher shutdown error", "error", err)
	}

	// 13. Log shutdown complete.
	slog.Info("shutdown complete")
	return nil
}
