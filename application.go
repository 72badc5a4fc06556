package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/amirphl/claim-router/app/bootstrap"
	"github.com/amirphl/claim-router/app/handlers"
	"github.com/amirphl/claim-router/app/ingestion"
	"github.com/amirphl/claim-router/app/middleware"
	"github.com/amirphl/claim-router/app/queue"
	"github.com/amirphl/claim-router/app/router"
	"github.com/amirphl/claim-router/app/scheduler"
	"github.com/amirphl/claim-router/app/services"
	businessflow "github.com/amirphl/claim-router/business_flow"
	"github.com/amirphl/claim-router/config"
	"github.com/amirphl/claim-router/repository"
	"github.com/amirphl/claim-router/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Application holds the wired service and the resources it owns
type Application struct {
	cfg         *config.ProductionConfig
	logger      *slog.Logger
	db          *gorm.DB
	rc          *redis.Client
	router      router.Router
	supervisor  *bootstrap.Supervisor
	healthCheck *scheduler.HealthCheck
	stopFuncs   []func()
}

// initializeDatabase opens the postgres pool and verifies it answers
func initializeDatabase(cfg config.DatabaseConfig, logger *slog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.New(
			slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
			gormlogger.Config{
				SlowThreshold:             cfg.SlowQueryTime,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established",
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
	)
	return db, nil
}

// initializeCache connects the redis client shared by the rule cache, locks and the claim queue
func initializeCache(cfg config.CacheConfig, logger *slog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// A non-negative REDIS_DB overrides the database in the URL
	if cfg.RedisDB >= 0 {
		opt.DB = cfg.RedisDB
	}

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis connection established", "addr", opt.Addr, "db", opt.DB)
	return rc, nil
}

func queueOptions(cfg config.QueueConfig) queue.Options {
	consumer := cfg.Consumer
	if consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "claim-router"
		}
		consumer = host + "-" + uuid.NewString()[:8]
	}
	return queue.Options{
		Stream:           cfg.Stream,
		Group:            cfg.Group,
		Consumer:         consumer,
		DeadLetterStream: cfg.DeadLetterStream,
		BlockTimeout:     cfg.BlockTimeout,
		ClaimIdle:        cfg.ClaimIdle,
	}
}

// newApplication wires every component of the service
func newApplication(cfg *config.ProductionConfig, logger *slog.Logger) (*Application, error) {
	db, err := initializeDatabase(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	rc, err := initializeCache(cfg.Cache, logger)
	if err != nil {
		closeDatabase(db, logger)
		return nil, err
	}

	a := &Application{cfg: cfg, logger: logger, db: db, rc: rc}
	if err := a.wire(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *Application) wire() error {
	cfg := a.cfg

	// Repositories
	companyRepo := repository.NewCompanyRepository(a.db)
	userRepo := repository.NewUserRepository(a.db)
	roleRepo := repository.NewRoleRepository(a.db)
	ruleRepo := repository.NewRuleRepository(a.db)
	assignmentRepo := repository.NewAssignmentRepository(a.db)
	auditRepo := repository.NewAuditLogRepository(a.db)
	tx := repository.NewTransactor(a.db)

	// Services
	tokenService, err := services.NewTokenService(
		cfg.JWT.TokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.UseRSAKeys,
		cfg.JWT.PrivateKey,
		cfg.JWT.PublicKey,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}
	sink, err := services.NewNotificationSink(
		cfg.Notification.Sink,
		cfg.Notification.WebhookURL,
		cfg.Notification.WebhookSecret,
		cfg.Notification.Timeout,
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize notification sink: %w", err)
	}

	// Business flows
	rules := businessflow.NewCachedRuleStore(ruleRepo, a.rc, cfg.Cache.RuleCacheTTL, a.logger)
	policy, err := businessflow.NewUserSelectionPolicy(cfg.Routing.SelectionPolicy, a.rc, assignmentRepo)
	if err != nil {
		return err
	}
	lifecycle := businessflow.NewAssignmentFlow(assignmentRepo, companyRepo, userRepo, auditRepo, tx, sink, a.logger)
	pipeline := businessflow.NewIngestionFlow(
		companyRepo,
		rules,
		businessflow.NewRuleMatcher(a.logger),
		businessflow.NewRoleResolver(userRepo),
		policy,
		lifecycle,
		businessflow.NewRedisKeyLocker(a.rc, cfg.Routing.LockTTL),
		auditRepo,
		a.logger,
	)
	ruleAdmin := businessflow.NewRuleAdminFlow(companyRepo, ruleRepo, roleRepo, rules, auditRepo, tx, a.logger)
	reports := businessflow.NewAssignmentReportFlow(assignmentRepo, companyRepo)
	auditor := businessflow.NewRequestAuditor(auditRepo, a.logger)

	// Ingestion
	claimQueue := queue.NewRedisStreamQueue(a.rc, queueOptions(cfg.Queue))
	consumer := ingestion.NewConsumer(claimQueue, pipeline, auditRepo, ingestion.Options{
		Prefetch:       cfg.Queue.Prefetch,
		MaxDeliveries:  cfg.Queue.MaxDeliveries,
		HandlerTimeout: cfg.Queue.HandlerTimeout,
		ReclaimEvery:   cfg.Queue.ClaimIdle,
	}, a.logger)
	a.supervisor = bootstrap.NewSupervisor(consumer, auditRepo, bootstrap.Options{
		MaxRetries: cfg.Bootstrap.MaxRetries,
		RetryDelay: cfg.Bootstrap.RetryDelay,
	}, a.logger)
	a.healthCheck = scheduler.NewHealthCheck(a.supervisor, cfg.Bootstrap.HealthCheckSchedule, cfg.Bootstrap.AutoRestart, a.logger)

	// HTTP
	checks := map[string]router.HealthChecker{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return a.rc.Ping(ctx).Err()
		},
		"ingestion": func(ctx context.Context) error {
			st := a.supervisor.Status(ctx)
			if st.State == bootstrap.StateRunning && !st.QueueConnected {
				return errors.New("claim queue unreachable")
			}
			return nil
		},
	}
	a.router = router.NewFiberRouter(
		handlers.NewAssignmentHandler(lifecycle, reports, auditor, a.logger),
		handlers.NewAutoAssignmentHandler(pipeline, a.supervisor, auditor, a.logger),
		handlers.NewRuleAdminHandler(ruleAdmin, auditor, a.logger),
		middleware.NewAuthMiddleware(tokenService),
		checks,
		cfg,
		a.logger,
	)
	a.router.SetupRoutes()
	return nil
}

// run serves HTTP and the ingestion service until ctx is cancelled or the server fails
func (a *Application) run(ctx context.Context) error {
	stopHealthCheck, err := a.healthCheck.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to schedule health check: %w", err)
	}
	a.stopFuncs = append(a.stopFuncs, stopHealthCheck)

	if a.cfg.Bootstrap.AutoStart {
		// A failed start is left to the health check
		if err := a.supervisor.Start(ctx, utils.SystemActor); err != nil {
			a.logger.Error("Ingestion service did not start", "error", err)
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.router.Start(a.cfg.Server.Address())
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down gracefully...")
	case err := <-serverErr:
		if err != nil {
			a.shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	}
	a.shutdown()
	return nil
}

func (a *Application) shutdown() {
	for _, fn := range a.stopFuncs {
		fn()
	}
	a.stopFuncs = nil

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.supervisor.Stop(ctx, utils.SystemActor); err != nil {
		a.logger.Error("Error stopping ingestion service", "error", err)
	}
	if err := a.router.Shutdown(ctx); err != nil {
		a.logger.Error("Error during server shutdown", "error", err)
	}
	a.logger.Info("Server stopped")
}

func (a *Application) close() {
	if a.rc != nil {
		_ = a.rc.Close()
	}
	closeDatabase(a.db, a.logger)
}

func closeDatabase(db *gorm.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("Failed to close database", "error", err)
	}
}
