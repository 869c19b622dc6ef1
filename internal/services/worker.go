package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hibiken/asynq"
	"github.com/huangang/taskhub/internal/config"
	"github.com/huangang/taskhub/pkg/logger"
)

// WorkerStats counts search tasks handled since start.
type WorkerStats struct {
	Applied  int64
	Failed   int64
	Rejected int64
}

// Worker applies search tasks pulled from Redis.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor func(context.Context, *SearchTask) error
	running   bool
	mu        sync.Mutex

	applied  atomic.Int64
	failed   atomic.Int64
	rejected atomic.Int64
}

// NewWorker returns nil when Redis is disabled.
func NewWorker(cfg *config.RedisConfig) *Worker {
	if !cfg.Enabled {
		return nil
	}

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	w := &Worker{mux: asynq.NewServeMux()}
	w.mux.HandleFunc(TaskTypeSearchSync, w.handleSearchTask)
	w.server = asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{SearchQueueName: 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn().Err(err).Str("type", task.Type()).
					Int("retry", retried).Int("max_retry", maxRetry).Msg("[Worker] search task failed")
			}),
		},
	)
	return w
}

func (w *Worker) SetProcessor(processor func(context.Context, *SearchTask) error) {
	w.processor = processor
}

func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start search worker: %w", err)
	}
	w.running = true
	logger.Info().Str("queue", SearchQueueName).Msg("[Worker] search worker started")
	return nil
}

// Stop waits for in-flight tasks and shuts the server down.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.server.Shutdown()
	w.running = false
	s := w.Stats()
	logger.Info().Int64("applied", s.Applied).Int64("failed", s.Failed).Int64("rejected", s.Rejected).
		Msg("[Worker] search worker stopped")
}

func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Applied:  w.applied.Load(),
		Failed:   w.failed.Load(),
		Rejected: w.rejected.Load(),
	}
}

// handleSearchTask decodes and applies one task. Payloads that can never be
// applied are not retried.
func (w *Worker) handleSearchTask(ctx context.Context, t *asynq.Task) error {
	var task SearchTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.rejected.Add(1)
		return fmt.Errorf("decode search task: %v: %w", err, asynq.SkipRetry)
	}
	if err := task.Validate(); err != nil {
		w.rejected.Add(1)
		return fmt.Errorf("search task %s/%s: %v: %w", task.Op, task.DocType, err, asynq.SkipRetry)
	}
	if w.processor == nil {
		return fmt.Errorf("no search processor: %w", asynq.SkipRetry)
	}

	if err := w.processor(ctx, &task); err != nil {
		w.failed.Add(1)
		return err
	}
	w.applied.Add(1)
	logger.Debug().Str("op", task.Op).Str("doc_type", task.DocType).Uint("id", task.ID).Msg("[Worker] search task applied")
	return nil
}

var (
	globalWorker *Worker
	workerOnce   sync.Once
)

func InitWorker(cfg *config.RedisConfig) *Worker {
	workerOnce.Do(func() {
		globalWorker = NewWorker(cfg)
	})
	return globalWorker
}

func GetWorker() *Worker {
	return globalWorker
}
