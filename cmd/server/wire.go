//go:build wireinject

package main

import (
	"context"
	"time"

	"github.com/google/wire"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zapqual/engine/internal/config"
	"github.com/zapqual/engine/internal/domain/batch"
	"github.com/zapqual/engine/internal/domain/dedupe"
	"github.com/zapqual/engine/internal/domain/dispatch"
	messagedomain "github.com/zapqual/engine/internal/domain/message"
	orgdomain "github.com/zapqual/engine/internal/domain/org"
	"github.com/zapqual/engine/internal/domain/prompt"
	"github.com/zapqual/engine/internal/domain/session"
	"github.com/zapqual/engine/internal/domain/spin"
	"github.com/zapqual/engine/internal/infrastructure/database"
	"github.com/zapqual/engine/internal/infrastructure/gateway"
	"github.com/zapqual/engine/internal/infrastructure/llmprovider"
	"github.com/zapqual/engine/internal/infrastructure/lock"
	"github.com/zapqual/engine/internal/infrastructure/logger"
	"github.com/zapqual/engine/internal/infrastructure/scheduler"
	"github.com/zapqual/engine/internal/infrastructure/statestore"
	messagerepo "github.com/zapqual/engine/internal/infrastructure/repository/message"
	orgrepo "github.com/zapqual/engine/internal/infrastructure/repository/org"
	sessionrepo "github.com/zapqual/engine/internal/infrastructure/repository/session"
	"github.com/zapqual/engine/internal/interfaces/httpserver"
	"github.com/zapqual/engine/internal/interfaces/httpserver/handlers"
)

var engineSet = wire.NewSet(
	messagerepo.NewPostgresRepository,
	wire.Bind(new(messagedomain.Repository), new(*messagerepo.PostgresRepository)),
	sessionrepo.NewPostgresRepository,
	wire.Bind(new(session.Repository), new(*sessionrepo.PostgresRepository)),
	orgrepo.NewPostgresRepository,
	wire.Bind(new(orgdomain.Repository), new(*orgrepo.PostgresRepository)),
	newStateStore,
	newSessionManager,
	newGuard,
	newTaskQueue,
	wire.Bind(new(scheduler.Queue), new(*scheduler.RedisQueue)),
	newCoalescer,
	newLocker,
	wire.Bind(new(lock.Locker), new(*lock.Redsync)),
	newPromptAssembler,
	newMachine,
	newSender,
	newCompleter,
	wire.Bind(new(llmprovider.Completer), new(*llmprovider.Client)),
	newDispatcher,
	newProcessor,
	newSchedulerPool,
	newHandlerProvider,
)

// BuildApplication demonstrates how to assemble the engine with Wire.
func BuildApplication(ctx context.Context) (*Application, error) {
	wire.Build(
		config.Load,
		logger.New,
		newDatabaseConfig,
		newGormDB,
		engineSet,
		newHTTPServer,
		NewApplication,
	)
	return nil, nil
}

func newDatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		DSN:             cfg.DatabaseURL,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	}
}

func newGormDB(ctx context.Context, cfg database.Config, log zerolog.Logger) (*gorm.DB, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(ctx, db, log); err != nil {
		return nil, err
	}
	return db, nil
}

func newStateStore(cfg *config.Config, log zerolog.Logger) (*statestore.Redis, error) {
	return statestore.NewRedis(cfg.RedisURL, log)
}

func newSessionManager(store *statestore.Redis, repo session.Repository, log zerolog.Logger) *session.Manager {
	return session.NewManager(store, repo, log)
}

func newGuard(cfg *config.Config, store *statestore.Redis, messages messagedomain.Repository, log zerolog.Logger) *dedupe.Guard {
	return dedupe.NewGuard(store, messages, cfg.DedupeTTL, log)
}

func newTaskQueue(store *statestore.Redis) *scheduler.RedisQueue {
	return scheduler.NewRedisQueue(store.Client())
}

func newCoalescer(cfg *config.Config, store *statestore.Redis, queue scheduler.Queue, sessions *session.Manager, log zerolog.Logger) *batch.Coalescer {
	return batch.NewCoalescer(store, queue, sessions, cfg.BatchingDelay, log)
}

func newLocker(store *statestore.Redis) *lock.Redsync {
	return lock.NewRedsync(store.Redsync())
}

func newPromptAssembler() (*prompt.Assembler, error) {
	engine, err := prompt.NewEngine(128)
	if err != nil {
		return nil, err
	}
	return prompt.NewAssembler(engine), nil
}

func newMachine(cfg *config.Config) *spin.Machine {
	score := spin.DefaultScoreConfig()
	score.StagePoints = cfg.ScoreStagePoints
	score.EngagementPoints = cfg.ScoreEngagementPoints
	score.TransitionPoints = cfg.ScoreTransitionPoints
	score.QualifiedAt = cfg.ScoreQualifiedAt
	return spin.NewMachine(spin.NewKeywordClassifier(), spin.NewRegexExtractor(), score)
}

func newSender(cfg *config.Config, log zerolog.Logger) gateway.Sender {
	return gateway.NewBreakerSender(
		gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayToken),
		gateway.DefaultBreakerConfig(),
		log,
	)
}

func newCompleter(cfg *config.Config) *llmprovider.Client {
	return llmprovider.NewClient(cfg.LLMAPIURL, cfg.LLMModel, cfg.LLMTimeout)
}

func newDispatcher(messages messagedomain.Repository, sender gateway.Sender, queue scheduler.Queue, log zerolog.Logger) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(messages, sender, queue, time.Minute, log)
}

func newProcessor(
	cfg *config.Config,
	store *statestore.Redis,
	queue scheduler.Queue,
	locker lock.Locker,
	sessions *session.Manager,
	messages messagedomain.Repository,
	orgs orgdomain.Repository,
	machine *spin.Machine,
	assembler *prompt.Assembler,
	completer llmprovider.Completer,
	dispatcher *dispatch.Dispatcher,
	log zerolog.Logger,
) *batch.Processor {
	return batch.NewProcessor(batch.ProcessorDeps{
		Store:      store,
		Queue:      queue,
		Locker:     locker,
		Sessions:   sessions,
		Messages:   messages,
		Orgs:       orgs,
		Machine:    machine,
		Assembler:  assembler,
		Completer:  completer,
		Dispatcher: dispatcher,
	}, cfg.BatchingDelay, cfg.LockTTL, 50, log)
}

func newSchedulerPool(cfg *config.Config, queue scheduler.Queue, processor *batch.Processor, log zerolog.Logger) *scheduler.Pool {
	return scheduler.NewPool(queue, processor, scheduler.Config{
		WorkerCount:  cfg.SchedulerWorkers,
		PollInterval: cfg.SchedulerPollInterval,
		TaskTimeout:  cfg.TaskTimeout,
	}, log)
}

func newHandlerProvider(
	cfg *config.Config,
	guard *dedupe.Guard,
	coalescer *batch.Coalescer,
	sessions session.Repository,
	messages messagedomain.Repository,
	machine *spin.Machine,
	log zerolog.Logger,
) *handlers.Provider {
	return handlers.NewProvider(guard, coalescer, sessions, messages, machine, cfg.GatewayVerifyToken, log)
}

func newHTTPServer(cfg *config.Config, log zerolog.Logger, handlerProvider *handlers.Provider, store *statestore.Redis) *httpserver.HttpServer {
	return httpserver.New(cfg, log, handlerProvider, store)
}
