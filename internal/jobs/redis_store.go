package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "job:"

	maxTxAttempts = 32
)

// RedisStore はジョブ状態を Redis に保存します。
// 読み取りと書き込みは WATCH による楽観的トランザクションで直列化されます。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedisStore は RedisStore を作成します。ttl が 0 の場合はレコードを失効させません。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
	}
}

// Insert はジョブ情報を保存します。既に存在する場合は上書きしません。
func (s *RedisStore) Insert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.JobID == "" {
		return fmt.Errorf("record.JobID is required")
	}
	stored := *record
	now := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	payload, err := json.Marshal(&stored)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, jobKey(stored.JobID), payload, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateJob
	}
	return nil
}

// Complete はジョブ完了時の情報を保存します。
func (s *RedisStore) Complete(ctx context.Context, jobID string, outcome Outcome) error {
	if !outcome.State.Terminal() {
		return fmt.Errorf("outcome state %q is not terminal", outcome.State)
	}
	key := jobKey(jobID)
	return s.transact(ctx, key, func(tx *redis.Tx, record *Record) error {
		if record.State.Terminal() {
			return ErrAlreadyDone
		}
		now := s.now().UTC()
		record.State = outcome.State
		record.Result = outcome.Result
		record.UpdatedAt = now
		record.CompletedAt = &now

		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	})
}

// Consume はジョブ情報を取得し、終端状態であれば同じトランザクションで削除します。
func (s *RedisStore) Consume(ctx context.Context, jobID, owner string) (*View, error) {
	key := jobKey(jobID)
	var view *View
	err := s.transact(ctx, key, func(tx *redis.Tx, record *Record) error {
		if record.Owner != owner {
			return ErrForbidden
		}
		if record.State.Terminal() {
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			}); err != nil {
				return err
			}
		}
		view = record.view()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Delete はジョブ情報を削除します。
func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	return s.rdb.Del(ctx, jobKey(jobID)).Err()
}

// transact はキーを WATCH した状態でレコードを読み込み、fn を実行します。
// 他のクライアントと競合した場合はやり直します。
func (s *RedisStore) transact(ctx context.Context, key string, fn func(*redis.Tx, *Record) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return err
			}
			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				return fmt.Errorf("failed to decode job record: %w", err)
			}
			return fn(tx, &record)
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("job %s: too much contention", key)
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
