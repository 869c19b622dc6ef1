package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/huangang/taskhub/internal/config"
	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/logger"
)

const (
	TaskTypeSearchSync = "search:sync"
	// SearchQueueName is the asynq queue search tasks travel on.
	SearchQueueName = "search"
)

const (
	SearchOpUpsert = "upsert"
	SearchOpDelete = "delete"
)

// SearchTask is one index operation waiting to be applied.
type SearchTask struct {
	Op      string           `json:"op"`       // upsert, delete
	DocType string           `json:"doc_type"` // project, task
	ID      uint             `json:"id"`
	Project *ProjectDocument `json:"project,omitempty"`
	Task    *TaskDocument    `json:"task,omitempty"`
}

// Validate rejects tasks that can never be applied.
func (t *SearchTask) Validate() error {
	if t.DocType != models.SearchDocProject && t.DocType != models.SearchDocTask {
		return fmt.Errorf("unknown doc type %q", t.DocType)
	}
	switch t.Op {
	case SearchOpDelete:
		if t.ID == 0 {
			return errors.New("delete without id")
		}
	case SearchOpUpsert:
		if (t.DocType == models.SearchDocProject && t.Project == nil) ||
			(t.DocType == models.SearchDocTask && t.Task == nil) {
			return fmt.Errorf("upsert %s without document", t.DocType)
		}
	default:
		return fmt.Errorf("unknown op %q", t.Op)
	}
	return nil
}

// TaskQueue defines the interface for search index task processing
type TaskQueue interface {
	// Enqueue adds a task to the queue
	Enqueue(task *SearchTask) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue initializes the global task queue based on config
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis)
			if err != nil {
				logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
				globalTaskQueue = NewSyncQueue()
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
			globalTaskQueue = NewSyncQueue()
		}
	})
	return globalTaskQueue
}

// GetTaskQueue returns the global task queue instance
func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates an asynq-backed queue.
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func newSearchTask(task *SearchTask) (*asynq.Task, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSearchSync, payload), nil
}

func (q *AsyncQueue) Enqueue(task *SearchTask) error {
	t, err := newSearchTask(task)
	if err != nil {
		return err
	}
	info, err := q.client.Enqueue(t,
		asynq.Queue(SearchQueueName),
		asynq.MaxRetry(5),
	)
	if err != nil {
		return err
	}

	logger.Debug().Str("task_id", info.ID).Str("op", task.Op).Str("doc_type", task.DocType).Uint("id", task.ID).
		Msg("[AsyncQueue] search task enqueued")
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements TaskQueue without Redis. A single goroutine applies
// tasks in enqueue order, so a delete never lands before an earlier upsert of
// the same document. The request that produced a task is never blocked.
type SyncQueue struct {
	processor func(context.Context, *SearchTask) error

	mu      sync.Mutex
	pending []*SearchTask
	running bool
	wg      sync.WaitGroup
}

// NewSyncQueue creates an in-process queue; call SetProcessor before Enqueue.
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

func (q *SyncQueue) SetProcessor(processor func(context.Context, *SearchTask) error) {
	q.processor = processor
}

func (q *SyncQueue) Enqueue(task *SearchTask) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] no processor set, task will be dropped")
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.wg.Add(1)
	q.pending = append(q.pending, task)
	if !q.running {
		q.running = true
		go q.drain()
	}
	return nil
}

func (q *SyncQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		task := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := q.processor(context.Background(), task); err != nil {
			logger.Warnf("[SyncQueue] Task processing failed: %v", err)
		}
		q.wg.Done()
	}
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close waits until every enqueued task has been applied. The queue stays usable.
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
