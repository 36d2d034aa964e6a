// Package jobs は非同期ジョブ管理機能を提供します。
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-profile/internal/metrics"
	"github.com/yourusername/paper-profile/internal/upstream"
)

// Deliverer は上流サービスへドキュメントを送るクライアントが実装します。
type Deliverer interface {
	Deliver(ctx context.Context, doc upstream.Document) (*upstream.Response, error)
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	store      Store
	dispatcher Dispatcher
	upstream   Deliverer
	logger     logrus.FieldLogger
	metrics    *metrics.Jobs
	newID      func() string
	now        func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option は Manager の任意設定です。
type Option func(*Manager)

// WithLogger はロガーを設定します。
func WithLogger(logger logrus.FieldLogger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics はメトリクスの記録先を設定します。
func WithMetrics(jobs *metrics.Jobs) Option {
	return func(m *Manager) {
		m.metrics = jobs
	}
}

// NewManager は Manager を初期化します。
func NewManager(store Store, dispatcher Dispatcher, deliverer Deliverer, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is nil")
	}
	if deliverer == nil {
		return nil, errors.New("upstream is nil")
	}
	m := &Manager{
		store:      store,
		dispatcher: dispatcher,
		upstream:   deliverer,
		logger:     logrus.StandardLogger(),
		newID:      uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// StartWorkers はディスパッチワーカーをバックグラウンドで起動します。
func (m *Manager) StartWorkers(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.dispatcher.Run(ctx, m.process); err != nil {
			m.logger.WithError(err).Error("dispatch worker stopped with error")
		}
	}()
}

// Shutdown はキューを閉じて新しい投入を拒否し、受け付け済みのタスクを処理し終えるまで待ちます。
// ctx が先に終了した場合は処理中の上流呼び出しを打ち切り、ctx.Err() を返します。
func (m *Manager) Shutdown(ctx context.Context) error {
	closeErr := m.dispatcher.Close()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if m.cancel != nil {
			m.cancel()
		}
		return ctx.Err()
	}
	if m.cancel != nil {
		m.cancel()
	}
	return closeErr
}

// Submit はドキュメントを受け付けてジョブIDを返します。上流の処理完了は待ちません。
func (m *Manager) Submit(ctx context.Context, owner string, doc upstream.Document) (string, error) {
	if owner == "" {
		return "", ErrInvalidOwner
	}
	if len(doc.Data) == 0 {
		return "", ErrEmptyDocument
	}

	jobID := m.newID()
	record := &Record{
		JobID:       jobID,
		Owner:       owner,
		State:       StatePending,
		ContentType: doc.ContentType,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.store.Insert(ctx, record); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	task := Task{
		JobID:       jobID,
		Document:    append([]byte(nil), doc.Data...),
		ContentType: doc.ContentType,
	}
	if err := m.dispatcher.Enqueue(ctx, task); err != nil {
		// キューに載らなかったジョブは Pending のまま残さない
		if delErr := m.store.Delete(context.WithoutCancel(ctx), jobID); delErr != nil {
			err = fmt.Errorf("%w (cleanup failed: %v)", err, delErr)
		}
		m.metrics.Rejected(rejectionReason(err))
		m.logger.WithError(err).WithField("job", jobID).Warn("failed to enqueue job")
		return "", err
	}

	m.metrics.Submitted()
	m.updateQueueDepth()
	m.logger.WithFields(logrus.Fields{
		"job":         jobID,
		"owner":       owner,
		"size":        len(doc.Data),
		"contentType": doc.ContentType,
	}).Info("job submitted")
	return jobID, nil
}

// Retrieve はジョブの状態を返します。終端状態のジョブは返却と同時に削除されます。
func (m *Manager) Retrieve(ctx context.Context, owner, jobID string) (*View, error) {
	if jobID == "" {
		return nil, ErrNotFound
	}
	view, err := m.store.Consume(ctx, jobID, owner)
	if err != nil {
		return nil, err
	}
	if view.State.Terminal() {
		m.metrics.Consumed(string(view.State))
		m.logger.WithFields(logrus.Fields{
			"job":   jobID,
			"state": view.State,
		}).Debug("job result consumed")
	}
	return view, nil
}

func (m *Manager) process(ctx context.Context, task Task) {
	m.updateQueueDepth()
	logger := m.logger.WithField("job", task.JobID)

	started := m.now()
	resp, err := m.upstream.Deliver(ctx, upstream.Document{
		Data:        task.Document,
		ContentType: task.ContentType,
	})
	outcome := Classify(resp, err)
	elapsed := m.now().Sub(started)

	fields := logrus.Fields{
		"state":   outcome.State,
		"elapsed": elapsed.String(),
	}
	if resp != nil {
		fields["status"] = resp.StatusCode
	}
	if err != nil {
		logger.WithFields(fields).WithError(err).Warn("upstream delivery failed")
	} else {
		logger.WithFields(fields).Info("upstream delivery finished")
	}

	// 終了処理中でも結果は書き戻す
	if err := m.store.Complete(context.WithoutCancel(ctx), task.JobID, outcome); err != nil {
		logger.WithError(err).Error("failed to record job outcome")
		return
	}
	m.metrics.Finished(string(outcome.State), elapsed.Seconds())
}

func (m *Manager) updateQueueDepth() {
	if sized, ok := m.dispatcher.(interface{ Len() int }); ok {
		m.metrics.SetQueued(sized.Len())
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrDispatcherDown):
		return "dispatcher_closed"
	default:
		return "enqueue_failed"
	}
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ Store      = (*RedisStore)(nil)
	_ Dispatcher = (*MemoryQueue)(nil)
)
