package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler executes a claimed task. Returning an error only logs: the
// task is not re-queued, because every entry point is idempotent and the
// batching pipeline re-arms itself through new inbound traffic.
type Handler interface {
	Handle(ctx context.Context, task Task) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task Task) error

// Handle calls the wrapped function.
func (f HandlerFunc) Handle(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// Config contains worker pool configuration.
type Config struct {
	WorkerCount  int
	PollInterval time.Duration
	TaskTimeout  time.Duration
}

// Pool runs a fixed set of workers polling the task queue.
type Pool struct {
	queue    Queue
	handler  Handler
	cfg      Config
	log      zerolog.Logger
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewPool creates a worker pool over a task queue.
func NewPool(queue Queue, handler Handler, cfg Config, log zerolog.Logger) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 2 * time.Minute
	}
	return &Pool{
		queue:    queue,
		handler:  handler,
		cfg:      cfg,
		log:      log.With().Str("component", "scheduler-pool").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("worker_count", p.cfg.WorkerCount).Msg("starting scheduler workers")

	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i + 1)
	}
}

// Stop signals all workers and waits for them to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("scheduler workers stopped")
	case <-time.After(30 * time.Second):
		p.log.Warn().Msg("scheduler shutdown timed out")
	}
}

func (p *Pool) run(ctx context.Context, id int) {
	log := p.log.With().Int("worker_id", id).Logger()
	log.Info().Msg("scheduler worker started")

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler worker stopped by context")
			return
		case <-p.stopChan:
			log.Info().Msg("scheduler worker stopped")
			return
		case <-ticker.C:
			p.drainDue(ctx, log)
		}
	}
}

// drainDue claims tasks until nothing is due, so a burst of expired
// windows does not wait one poll interval per task.
func (p *Pool) drainDue(ctx context.Context, log zerolog.Logger) {
	for {
		task, err := p.queue.Claim(ctx, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("failed to claim task")
			return
		}
		if task == nil {
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
		if err := p.handler.Handle(taskCtx, *task); err != nil {
			log.Error().Err(err).
				Str("task_id", task.ID).
				Str("kind", string(task.Kind)).
				Str("session_key", task.SessionKey).
				Msg("task failed")
		}
		cancel()
	}
}
