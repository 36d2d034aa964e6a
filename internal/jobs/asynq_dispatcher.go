package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const (
	taskTypeDocument = "document:deliver"
	asynqQueueName   = "documents"
)

// AsynqQueue は Asynq（Redis）を使ったタスクキューです。
// 並列度 1 のサーバーで処理するため、タスクは投入順に1件ずつ実行されます。
type AsynqQueue struct {
	client *asynq.Client
	server *asynq.Server

	mu      sync.Mutex
	running bool
	closing chan struct{}
	once    sync.Once
}

// NewAsynqQueue は Redis URL から AsynqQueue を作成します。
func NewAsynqQueue(redisURL string, logger logrus.FieldLogger) (*AsynqQueue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				asynqQueueName: 1,
			},
			Logger: logger.WithField("component", "asynq"),
		},
	)
	return &AsynqQueue{
		client:  asynq.NewClient(opt),
		server:  server,
		closing: make(chan struct{}),
	}, nil
}

// Enqueue はタスクを Redis のキューに投入します。再試行は行いません。
func (q *AsynqQueue) Enqueue(ctx context.Context, task Task) error {
	body, err := json.Marshal(&task)
	if err != nil {
		return err
	}
	t := asynq.NewTask(taskTypeDocument, body, asynq.Queue(asynqQueueName), asynq.MaxRetry(0))
	if _, err := q.client.EnqueueContext(ctx, t); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Run は Asynq サーバーを起動し、ctx の終了または Close で停止します。
// 未処理のタスクは Redis に残り、次回の起動時に処理されます。
func (q *AsynqQueue) Run(ctx context.Context, handle TaskHandler) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return errAlreadyRunning
	}
	q.running = true
	q.mu.Unlock()

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypeDocument, asynqHandler(handle))
	if err := q.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	select {
	case <-ctx.Done():
	case <-q.closing:
	}
	q.server.Shutdown()
	return nil
}

// Close はクライアント接続を閉じ、実行中の Run を停止させます。
func (q *AsynqQueue) Close() error {
	var err error
	q.once.Do(func() {
		close(q.closing)
		err = q.client.Close()
	})
	return err
}

func asynqHandler(handle TaskHandler) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		var task Task
		if err := json.Unmarshal(t.Payload(), &task); err != nil {
			return fmt.Errorf("failed to decode task payload: %v: %w", err, asynq.SkipRetry)
		}
		if task.JobID == "" {
			return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
		}
		handle(ctx, task)
		return nil
	}
}

var _ Dispatcher = (*AsynqQueue)(nil)
