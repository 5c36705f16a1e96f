package xredis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"tickwire.com/pkg/logger"
)

// 续期脚本：只有锁还是自己的才续
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLockMaster 多实例部署时选一个写快照的节点
type RedisLockMaster struct {
	rdb *redis.Client
	id  string // 当前节点的唯一ID
}

func NewRedisLockMaster(rdb *redis.Client) *RedisLockMaster {
	return &RedisLockMaster{
		rdb: rdb,
		id:  fmt.Sprintf("%s-%d", uuid.NewString(), time.Now().UnixNano()),
	}
}

func (r *RedisLockMaster) ID() string { return r.id }

// TryAcquireMaster 抢锁或者给自己的锁续期
func (r *RedisLockMaster) TryAcquireMaster(ctx context.Context, key string, ttl time.Duration) bool {
	// SETNX 带过期时间，Master 挂了锁会自动释放
	ok, err := r.rdb.SetNX(ctx, key, r.id, ttl).Result()
	if err != nil {
		logger.Warn(ctx, "redis lock error", zap.String("key", key), zap.Error(err))
		return false
	}
	if ok {
		return true
	}
	n, err := renewScript.Run(ctx, r.rdb, []string{key}, r.id, ttl.Milliseconds()).Int()
	if err != nil {
		logger.Warn(ctx, "redis lock renew error", zap.String("key", key), zap.Error(err))
		return false
	}
	return n == 1
}
