package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/app"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/config"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/docwatch"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/events"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/gitrepo"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/handlers"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/language"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/logging"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/notify"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/permission"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/repository"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/search"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/storage"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.Config{Environment: cfg.Environment, Level: cfg.LogLevel, Service: "repeatnomore"})
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Absolute paths keep index sources and watcher paths comparable.
	kbPath, err := filepath.Abs(cfg.KnowledgeBasePath)
	if err != nil {
		return fmt.Errorf("knowledge base path: %w", err)
	}
	docsPath, err := filepath.Abs(cfg.DocsPath)
	if err != nil {
		return fmt.Errorf("docs path: %w", err)
	}
	if err := os.MkdirAll(docsPath, 0o755); err != nil {
		return fmt.Errorf("create docs dir: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	checks := map[string]func(context.Context) error{}

	stores, db, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		checks["database"] = db.PingContext
	}

	drafts := repository.NewDraftRepository(stores.drafts, logger)
	queue := repository.NewQueueRepository(stores.questions, logger)
	features := repository.NewFeatureRepository(stores.features, logger)

	gate := permission.NewGate(cfg.AdminEmails, cfg.DiscordAdminUsernames, logger)
	bus := events.NewBus(logger, events.WithHandlerTimeout(cfg.HandlerTimeout), events.WithRegisterer(registry))
	lang := language.NewService(kbPath, docsPath, logger)

	var syncer *gitrepo.Syncer
	if cfg.GitEnabled {
		syncer, err = openGit(cfg, kbPath, logger)
		if err != nil {
			return err
		}
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, cfg.MeiliIndex, logger)
		defer meili.Close()
		checks["search"] = func(context.Context) error {
			if !meili.Healthy() {
				return search.ErrUnavailable
			}
			return nil
		}
	}
	searchService := search.NewService(meili, logger)

	sender, closeSenders, err := buildSenders(cfg, logger, checks)
	if err != nil {
		return err
	}
	defer closeSenders()

	set := handlers.Set{
		Navigation:   handlers.NewNavigation(docsPath, logger),
		Notification: handlers.NewNotification(sender, logger),
	}
	if syncer != nil {
		set.VCS = handlers.NewVCS(syncer, bus, handlers.VCSConfig{
			Enabled:    true,
			MkDocsPath: set.Navigation.MkDocsPath(),
			ActionLog:  gitrepo.NewActionLog(cfg.GitActionLogPath),
		}, logger)
	}
	if meili != nil {
		set.Index = handlers.NewIndex(meili, search.NewLoader(logger), handlers.IndexConfig{
			DocsRoot:         docsPath,
			ReindexOnStartup: cfg.ReindexOnStartup,
		}, logger)
	}
	handlers.Register(bus, set)

	deps := app.Dependencies{
		Drafts:    drafts,
		Queue:     queue,
		Features:  features,
		Gate:      gate,
		Bus:       bus,
		Lang:      lang,
		Writer:    app.NewDiskWriter(),
		Retriever: searchService,
		Checks:    checks,
		Logger:    logger,
	}
	if syncer != nil {
		deps.Git = syncer
	}
	service := app.NewService(deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin,
		app.WithLogger(logger),
		app.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", cfg.Addr), zap.Bool("git_enabled", syncer != nil), zap.Bool("search_enabled", meili != nil))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
		if set.Index != nil {
			set.Index.Close(shutdownCtx)
		}
		return nil
	})

	if set.Index != nil {
		g.Go(func() error {
			// Runs in the background so a slow search backend does not hold
			// up the API.
			if err := set.Index.EnsureInitialized(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("search index initialization failed", zap.Error(err))
			}
			return nil
		})
	}

	if cfg.WatchDocs {
		watcher, err := docwatch.New(docsPath, bus, logger)
		if err != nil {
			return fmt.Errorf("docs watcher: %w", err)
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if syncer != nil && strings.TrimSpace(cfg.GitAutoSyncCron) != "" {
		scheduler := cron.New()
		if _, err := scheduler.AddFunc(cfg.GitAutoSyncCron, func() {
			result := service.ScheduledSync(gctx)
			if !result.Success {
				logger.Warn("scheduled git sync failed", zap.String("error", result.Error))
			}
		}); err != nil {
			return fmt.Errorf("git auto sync schedule %q: %w", cfg.GitAutoSyncCron, err)
		}
		scheduler.Start()
		g.Go(func() error {
			<-gctx.Done()
			<-scheduler.Stop().Done()
			return nil
		})
	}

	return g.Wait()
}

type entityStores struct {
	drafts, questions, features storage.Store
}

// openStores uses Postgres when DATABASE_URL is set and JSON files under
// DATA_DIR otherwise.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (entityStores, *sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return entityStores{}, nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := storage.ApplyMigrations(ctx, db); err != nil {
			db.Close()
			return entityStores{}, nil, fmt.Errorf("migrations failed: %w", err)
		}
		return entityStores{
			drafts:    storage.NewPostgresStore(db, "drafts", logger),
			questions: storage.NewPostgresStore(db, "questions", logger),
			features:  storage.NewPostgresStore(db, "features", logger),
		}, db, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return entityStores{}, nil, fmt.Errorf("create data dir: %w", err)
	}
	var stores entityStores
	for _, s := range []struct {
		target     *storage.Store
		file       string
		collection string
	}{
		{&stores.drafts, "drafts.json", "drafts"},
		{&stores.questions, "question_queue.json", "questions"},
		{&stores.features, "feature_suggestions.json", "features"},
	} {
		fs, err := storage.NewFileStore(filepath.Join(cfg.DataDir, s.file), s.collection, logger)
		if err != nil {
			return entityStores{}, nil, fmt.Errorf("open %s: %w", s.file, err)
		}
		*s.target = fs
	}
	return stores, nil, nil
}

func openGit(cfg config.Config, kbPath string, logger *zap.Logger) (*gitrepo.Syncer, error) {
	repo, err := gitrepo.OpenLocal(gitrepo.LocalConfig{
		Path:        kbPath,
		BaseBranch:  cfg.GitBranch,
		RemoteName:  cfg.GitRemoteName,
		SSHKeyPath:  cfg.GitSSHKeyPath,
		HTTPToken:   cfg.GitHTTPToken,
		AuthorName:  cfg.GitAuthorName,
		AuthorEmail: cfg.GitAuthorEmail,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open knowledge base repository: %w", err)
	}

	var reviewer gitrepo.Reviewer
	if strings.TrimSpace(cfg.GitLabToken) != "" && strings.TrimSpace(cfg.GitLabProject) != "" {
		gl, err := gitrepo.NewGitLabReviewer(cfg.GitLabURL, cfg.GitLabToken, cfg.GitLabProject, cfg.GitBranch, logger)
		if err != nil {
			return nil, fmt.Errorf("gitlab client: %w", err)
		}
		reviewer = gl
	} else {
		logger.Info("gitlab not configured, review requests disabled")
	}
	return gitrepo.NewSyncer(repo, reviewer, cfg.GitBranch, logger), nil
}

// buildSenders combines every configured notification channel. Email is
// added only when SMTP is fully configured.
func buildSenders(cfg config.Config, logger *zap.Logger, checks map[string]func(context.Context) error) (notify.Sender, func(), error) {
	var senders []notify.Sender
	closers := []func(){}

	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewWebhook(notify.KindDiscord, cfg.DiscordWebhookURL, logger))
	}
	if cfg.TeamsWebhookURL != "" {
		senders = append(senders, notify.NewWebhook(notify.KindTeams, cfg.TeamsWebhookURL, logger))
	}
	if cfg.RedisURL != "" {
		r, err := notify.NewRedis(cfg.RedisURL, logger)
		if err != nil {
			return nil, func() {}, fmt.Errorf("redis: %w", err)
		}
		senders = append(senders, r)
		checks["redis"] = r.Ping
		closers = append(closers, func() { _ = r.Close() })
	}
	email := notify.NewEmail(notify.EmailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		To:       cfg.NotifyEmailTo,
	})
	if email.IsConfigured() {
		senders = append(senders, email)
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(senders) == 0 {
		logger.Info("no notification channels configured")
		return nil, closeAll, nil
	}
	return notify.NewMulti(logger, senders...), closeAll, nil
}
