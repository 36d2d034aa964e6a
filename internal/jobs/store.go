package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store はジョブテーブルを表します。
// Consume は所有者の確認と終端レコードの削除を1つの不可分な操作として行う必要があります。
type Store interface {
	// Insert は新しいレコードを追加します。同じIDが存在する場合は ErrDuplicateJob を返します。
	Insert(ctx context.Context, record *Record) error
	// Complete は Pending のレコードを終端状態へ遷移させます。
	Complete(ctx context.Context, jobID string, outcome Outcome) error
	// Consume は所有者を確認し、終端状態であればレコードを削除して返します。
	Consume(ctx context.Context, jobID, owner string) (*View, error)
	// Delete はレコードを無条件に削除します（投入失敗時の巻き戻し用）。
	Delete(ctx context.Context, jobID string) error
}

// MemoryStore はプロセス内のマップでジョブを保持します。
// すべての参照と更新は単一の mutex で直列化されます。
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Insert はジョブ情報を保存します。
func (s *MemoryStore) Insert(_ context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.JobID == "" {
		return fmt.Errorf("record.JobID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.JobID]; exists {
		return ErrDuplicateJob
	}
	now := s.now().UTC()
	stored := *record
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.records[stored.JobID] = &stored
	return nil
}

// Complete はジョブ完了時の情報を保存します。
func (s *MemoryStore) Complete(_ context.Context, jobID string, outcome Outcome) error {
	if !outcome.State.Terminal() {
		return fmt.Errorf("outcome state %q is not terminal", outcome.State)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[jobID]
	if !ok {
		return ErrNotFound
	}
	if record.State.Terminal() {
		return ErrAlreadyDone
	}
	now := s.now().UTC()
	record.State = outcome.State
	record.Result = outcome.Result
	record.UpdatedAt = now
	record.CompletedAt = &now
	return nil
}

// Consume はジョブ情報を取得し、終端状態であれば同じロックの中で削除します。
func (s *MemoryStore) Consume(_ context.Context, jobID, owner string) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if record.Owner != owner {
		return nil, ErrForbidden
	}
	if record.State.Terminal() {
		delete(s.records, jobID)
	}
	return record.view(), nil
}

// Delete はジョブ情報を削除します。
func (s *MemoryStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, jobID)
	return nil
}

// Len は保持しているレコード数を返します。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
