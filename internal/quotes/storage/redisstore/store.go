// Package redisstore 把最新值表周期性写进 redis hash，进程重启时用来预热
package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"tickwire.com/internal/quotes/model"
	"tickwire.com/pkg/logger"
	"tickwire.com/pkg/metrics"
	"tickwire.com/pkg/xredis"
)

type Config struct {
	Key      string        `mapstructure:"key"`
	LockKey  string        `mapstructure:"lock_key"`
	Interval time.Duration `mapstructure:"interval"`
	// TTL 整个 hash 的过期时间，太久没人写就不再拿来预热
	TTL time.Duration `mapstructure:"ttl"`
}

type Store struct {
	rdb  *redis.Client
	lock *xredis.RedisLockMaster
	cfg  Config
}

func New(rdb *redis.Client, cfg Config) *Store {
	if cfg.Key == "" {
		cfg.Key = "quotes:last"
	}
	if cfg.LockKey == "" {
		cfg.LockKey = cfg.Key + ":writer"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &Store{rdb: rdb, lock: xredis.NewRedisLockMaster(rdb), cfg: cfg}
}

// Save 写一次快照；多实例时只有抢到锁的节点写
func (s *Store) Save(ctx context.Context, quotes []model.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	if !s.lock.TryAcquireMaster(ctx, s.cfg.LockKey, 3*s.cfg.Interval) {
		return nil
	}
	fields, err := encode(quotes)
	if err != nil {
		return err
	}

	start := time.Now()
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.cfg.Key, fields)
	pipe.Expire(ctx, s.cfg.Key, s.cfg.TTL)
	_, err = pipe.Exec(ctx)
	observe("hset", start, err)
	if err != nil {
		metrics.SinkWritesTotal.WithLabelValues("redis", "error").Inc()
		return err
	}
	metrics.SinkWritesTotal.WithLabelValues("redis", "ok").Inc()
	return nil
}

// Load 实现 ingest.SnapshotLoader
func (s *Store) Load(ctx context.Context) ([]model.Quote, error) {
	start := time.Now()
	m, err := s.rdb.HGetAll(ctx, s.cfg.Key).Result()
	observe("hgetall", start, err)
	if err != nil {
		return nil, err
	}
	return decode(ctx, m), nil
}

// Run 每隔 Interval 把 snapshot() 的结果写进去，退出前再写一次
func (s *Store) Run(ctx context.Context, snapshot func() []model.Quote) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			err := s.Save(flushCtx, snapshot())
			cancel()
			if err != nil {
				logger.Warn(ctx, "final snapshot save failed", zap.Error(err))
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.Save(ctx, snapshot()); err != nil {
				logger.Warn(ctx, "snapshot save failed", zap.Error(err))
			}
		}
	}
}

func encode(quotes []model.Quote) (map[string]any, error) {
	fields := make(map[string]any, len(quotes))
	for _, q := range quotes {
		b, err := json.Marshal(q)
		if err != nil {
			return nil, err
		}
		fields[q.Symbol] = string(b)
	}
	return fields, nil
}

// decode 坏的字段跳过，不影响其它标的预热
func decode(ctx context.Context, m map[string]string) []model.Quote {
	out := make([]model.Quote, 0, len(m))
	for sym, raw := range m {
		var q model.Quote
		if err := json.Unmarshal([]byte(raw), &q); err != nil || q.Symbol != sym {
			logger.Warn(ctx, "skip bad snapshot field", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		out = append(out, q)
	}
	return out
}

func observe(cmd string, start time.Time, err error) {
	status := "ok"
	if err != nil && err != redis.Nil {
		status = "error"
		metrics.RedisErrors.WithLabelValues(cmd).Inc()
	}
	metrics.RedisCmdDuration.WithLabelValues(cmd, status).Observe(time.Since(start).Seconds())
}
