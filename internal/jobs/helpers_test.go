package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/paper-profile/internal/logging"
	"github.com/yourusername/paper-profile/internal/upstream"
)

// stubDeliverer は固定の応答を返す上流のスタブです。gate が設定されている場合は閉じるまで待ちます。
// entered が設定されている場合は呼び出しのたびに通知します。
type stubDeliverer struct {
	mu      sync.Mutex
	resp    *upstream.Response
	err     error
	gate    chan struct{}
	entered chan struct{}
	calls   []upstream.Document
}

func (s *stubDeliverer) Deliver(ctx context.Context, doc upstream.Document) (*upstream.Response, error) {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, doc)
	return s.resp, s.err
}

func (s *stubDeliverer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func okResponse(body string) *upstream.Response {
	return &upstream.Response{StatusCode: 200, Body: body}
}

func newTestManager(t *testing.T, deliverer Deliverer, capacity int) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	manager, err := NewManager(store, NewMemoryQueue(capacity), deliverer, WithLogger(logging.Discard()))
	require.NoError(t, err)
	return manager, store
}

func startWorkers(t *testing.T, m *Manager) {
	t.Helper()
	m.StartWorkers(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, m.Shutdown(ctx))
	})
}

// awaitTerminal は終端状態のビューが返るまで Retrieve を繰り返します。
func awaitTerminal(t *testing.T, m *Manager, owner, jobID string) *View {
	t.Helper()
	var (
		view    *View
		lastErr error
	)
	require.Eventually(t, func() bool {
		v, err := m.Retrieve(context.Background(), owner, jobID)
		if err != nil {
			lastErr = err
			return true
		}
		if v.State.Terminal() {
			view = v
			return true
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, lastErr)
	require.NotNil(t, view)
	return view
}

// peekState はレコードを消費せずに現在の状態を返します。
func peekState(s *MemoryStore, jobID string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[jobID]
	if !ok {
		return "", false
	}
	return record.State, true
}
