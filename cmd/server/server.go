package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zapqual/engine/internal/config"
	"github.com/zapqual/engine/internal/domain/batch"
	"github.com/zapqual/engine/internal/domain/dedupe"
	"github.com/zapqual/engine/internal/domain/dispatch"
	"github.com/zapqual/engine/internal/domain/prompt"
	"github.com/zapqual/engine/internal/domain/session"
	"github.com/zapqual/engine/internal/domain/spin"
	"github.com/zapqual/engine/internal/infrastructure/database"
	"github.com/zapqual/engine/internal/infrastructure/gateway"
	"github.com/zapqual/engine/internal/infrastructure/llmprovider"
	"github.com/zapqual/engine/internal/infrastructure/lock"
	"github.com/zapqual/engine/internal/infrastructure/logger"
	"github.com/zapqual/engine/internal/infrastructure/observability"
	"github.com/zapqual/engine/internal/infrastructure/scheduler"
	"github.com/zapqual/engine/internal/infrastructure/statestore"
	messagerepo "github.com/zapqual/engine/internal/infrastructure/repository/message"
	orgrepo "github.com/zapqual/engine/internal/infrastructure/repository/org"
	sessionrepo "github.com/zapqual/engine/internal/infrastructure/repository/session"
	"github.com/zapqual/engine/internal/interfaces/httpserver"
	"github.com/zapqual/engine/internal/interfaces/httpserver/handlers"
)

// Application bundles the long-running pieces of the engine.
type Application struct {
	httpServer *httpserver.HttpServer
	workerPool *scheduler.Pool
	log        zerolog.Logger
}

// NewApplication constructs the application wrapper.
func NewApplication(httpServer *httpserver.HttpServer, workerPool *scheduler.Pool, log zerolog.Logger) *Application {
	return &Application{
		httpServer: httpServer,
		workerPool: workerPool,
		log:        log,
	}
}

// Start runs the scheduler workers and the HTTP server until the context
// is cancelled.
func (a *Application) Start(ctx context.Context) error {
	a.workerPool.Start(ctx)
	defer func() {
		a.log.Info().Msg("stopping scheduler pool")
		a.workerPool.Stop()
	}()
	return a.httpServer.Run(ctx)
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	db, err := database.Connect(database.Config{
		DSN:             cfg.DatabaseURL,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}

	if err := database.AutoMigrate(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	store, err := statestore.NewRedis(cfg.RedisURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect state store")
	}
	defer store.Close()

	messageRepository := messagerepo.NewPostgresRepository(db)
	sessionRepository := sessionrepo.NewPostgresRepository(db)
	orgRepository := orgrepo.NewPostgresRepository(db)

	sessionManager := session.NewManager(store, sessionRepository, log)
	guard := dedupe.NewGuard(store, messageRepository, cfg.DedupeTTL, log)
	taskQueue := scheduler.NewRedisQueue(store.Client())
	coalescer := batch.NewCoalescer(store, taskQueue, sessionManager, cfg.BatchingDelay, log)
	locker := lock.NewRedsync(store.Redsync())

	promptEngine, err := prompt.NewEngine(128)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize prompt engine")
	}
	assembler := prompt.NewAssembler(promptEngine)

	scoreConfig := spin.DefaultScoreConfig()
	scoreConfig.StagePoints = cfg.ScoreStagePoints
	scoreConfig.EngagementPoints = cfg.ScoreEngagementPoints
	scoreConfig.TransitionPoints = cfg.ScoreTransitionPoints
	scoreConfig.QualifiedAt = cfg.ScoreQualifiedAt
	machine := spin.NewMachine(spin.NewKeywordClassifier(), spin.NewRegexExtractor(), scoreConfig)

	sender := gateway.NewBreakerSender(
		gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayToken),
		gateway.DefaultBreakerConfig(),
		log,
	)
	completer := llmprovider.NewClient(cfg.LLMAPIURL, cfg.LLMModel, cfg.LLMTimeout)

	dispatcher := dispatch.NewDispatcher(messageRepository, sender, taskQueue, time.Minute, log)

	processor := batch.NewProcessor(batch.ProcessorDeps{
		Store:      store,
		Queue:      taskQueue,
		Locker:     locker,
		Sessions:   sessionManager,
		Messages:   messageRepository,
		Orgs:       orgRepository,
		Machine:    machine,
		Assembler:  assembler,
		Completer:  completer,
		Dispatcher: dispatcher,
	}, cfg.BatchingDelay, cfg.LockTTL, 50, log)

	workerPool := scheduler.NewPool(
		taskQueue,
		processor,
		scheduler.Config{
			WorkerCount:  cfg.SchedulerWorkers,
			PollInterval: cfg.SchedulerPollInterval,
			TaskTimeout:  cfg.TaskTimeout,
		},
		log,
	)

	handlerProvider := handlers.NewProvider(
		guard,
		coalescer,
		sessionRepository,
		messageRepository,
		machine,
		cfg.GatewayVerifyToken,
		log,
	)

	httpServer := httpserver.New(cfg, log, handlerProvider, store)
	app := NewApplication(httpServer, workerPool, log)

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
