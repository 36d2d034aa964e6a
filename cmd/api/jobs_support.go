package main

import (
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-profile/internal/config"
	"github.com/yourusername/paper-profile/internal/jobs"
	"github.com/yourusername/paper-profile/internal/metrics"
	"github.com/yourusername/paper-profile/internal/upstream"
)

// setupJobs は設定に従ってジョブテーブル、キュー、上流クライアントを組み立てます。
func setupJobs(cfg *config.Config, logger logrus.FieldLogger, jobsMetrics *metrics.Jobs) (*jobs.Manager, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	dispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		return nil, err
	}
	client, err := upstream.NewClient(cfg.UpstreamURL, time.Duration(cfg.UpstreamTimeoutSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	return jobs.NewManager(store, dispatcher, client,
		jobs.WithLogger(logger),
		jobs.WithMetrics(jobsMetrics),
	)
}

func newStore(cfg *config.Config) (jobs.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		opt, err := redis.ParseURL(cfg.StoreRedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse STORE_REDIS_URL: %w", err)
		}
		ttl := time.Duration(cfg.JobExpireMinutes) * time.Minute
		return jobs.NewRedisStore(redis.NewClient(opt), ttl), nil
	default:
		return jobs.NewMemoryStore(), nil
	}
}

func newDispatcher(cfg *config.Config, logger logrus.FieldLogger) (jobs.Dispatcher, error) {
	switch cfg.QueueBackend {
	case config.BackendAsynq:
		queue, err := jobs.NewAsynqQueue(cfg.QueueRedisURL, logger)
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return jobs.NewMemoryQueue(cfg.QueueCapacity), nil
	}
}
