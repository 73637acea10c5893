// Package cache 提供 CAS 存在性检查的 Redis 缓存层。
// 只缓存"这个摘要存在"这一位信息：样本本体可能很大，Redis 内存极其宝贵，
// 只存 Existence 性价比最高。
package cache

import (
	"context"
	"fmt"
	"io"
	"time"

	"gridvault/pkg/types"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// Presence 实现 cas.Presence
type Presence struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间 (例如 24h)
}

// New 建立 Redis 连接并做 Fail-fast 检查
func New(cfg Config, logger *log.Logger) (*Presence, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Presence{client: client, ttl: cfg.TTL, logger: logger}, nil
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (p *Presence) cacheKey(digest types.Digest) string {
	return "gv:digest:" + string(digest)
}

// Seen 查询摘要是否已知
// 架构决策：缓存故障降级 (Cache Failure Fallback)。
// Redis 挂了不能让整个程序崩溃，而是退化为无缓存模式，返回 false
// 让调用方去查底层记录。
func (p *Presence) Seen(ctx context.Context, digest types.Digest) bool {
	val, err := p.client.Exists(ctx, p.cacheKey(digest)).Result()
	if err != nil {
		p.logger.Warn("presence cache degraded", "err", err)
		return false
	}
	return val > 0
}

// Mark 记录摘要存在
// 异步写入，不阻塞主流程；用 Background ctx 保证即使上层 ctx 取消，
// 回填也能完成。Set 失败可以忽略，不影响正确性。
func (p *Presence) Mark(ctx context.Context, digest types.Digest) {
	key := p.cacheKey(digest)
	go func() {
		fillCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p.client.Set(fillCtx, key, "1", p.ttl)
	}()
}

// Close 释放连接
func (p *Presence) Close() error {
	return p.client.Close()
}
