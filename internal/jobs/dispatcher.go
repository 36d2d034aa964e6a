package jobs

import (
	"context"
	"errors"
	"sync"
)

// TaskHandler はキューから取り出したタスクを1件処理します。
type TaskHandler func(ctx context.Context, task Task)

// Dispatcher はタスクを FIFO で1件ずつ TaskHandler へ渡すキューです。
type Dispatcher interface {
	Enqueue(ctx context.Context, task Task) error
	// Run は ctx が終了するか Close されるまでタスクを順番に処理します。同時に複数回呼び出すことはできません。
	Run(ctx context.Context, handle TaskHandler) error
	// Close は以降の投入を拒否し、Run に終了を知らせます。
	Close() error
}

var errAlreadyRunning = errors.New("dispatcher is already running")

// MemoryQueue はプロセス内のタスクキューです。capacity が 0 の場合は上限を設けません。
type MemoryQueue struct {
	mu       sync.Mutex
	items    []Task
	capacity int
	running  bool
	closed   bool
	ready    chan struct{}
}

// NewMemoryQueue は MemoryQueue を作成します。
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &MemoryQueue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Enqueue はタスクを末尾に追加します。
func (q *MemoryQueue) Enqueue(_ context.Context, task Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrDispatcherDown
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, task)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Run はキューを先頭から順に処理します。1件の処理が終わるまで次のタスクには進みません。
// Close 後は残っているタスクを処理し終えた時点で戻ります。
func (q *MemoryQueue) Run(ctx context.Context, handle TaskHandler) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return errAlreadyRunning
	}
	q.running = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		task, ok, closed := q.pop()
		if ok {
			handle(ctx, task)
			continue
		}
		if closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-q.ready:
		}
	}
}

// Close は以降の投入を拒否します。キューに残っているタスクは破棄されません。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Len は待機中のタスク数を返します。
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) pop() (Task, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Task{}, false, q.closed
	}
	task := q.items[0]
	q.items[0] = Task{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return task, true, q.closed
}
