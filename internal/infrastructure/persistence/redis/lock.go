package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "shayak-swasth-rag/pkg/errors"
)

// 仅在 token 匹配时删除，避免释放他人持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DocumentLocker 基于 SET NX PX 的单文档处理锁
type DocumentLocker struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewDocumentLocker 创建分布式文档锁
func NewDocumentLocker(client *Client, ttl time.Duration) *DocumentLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &DocumentLocker{client: client, prefix: "rag:lock:document:", ttl: ttl}
}

// Acquire 获取锁；已被持有时返回 ErrAlreadyProcessing
func (l *DocumentLocker) Acquire(ctx context.Context, documentID string) (func(), error) {
	ctx, span := tracer.Start(ctx, "redis.DocumentLocker.Acquire")
	defer span.End()

	key := l.prefix + documentID
	token := uuid.NewString()
	ok, err := l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeCacheError, "failed to acquire document lock")
	}
	if !ok {
		return nil, apperrors.ErrAlreadyProcessing.WithDetail(documentID)
	}

	release := func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.client.rdb, []string{key}, token).Err()
	}
	return release, nil
}
