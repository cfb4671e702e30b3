package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"sre_assistant/internal/models"
	"sre_assistant/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// QueryCache 为只读的后端查询提供短 TTL 缓存。
// 相同参数的重复诊断在 TTL 内复用同一份查询结果, 避免对
// Prometheus / Loki 等后端的重复压力。
type QueryCache interface {
	// GetOrCompute 命中时直接返回缓存值; 未命中时调用 compute,
	// 将结果按 ttl 写入缓存后返回。compute 返回错误时不缓存。
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func() ([]byte, error)) ([]byte, error)
}

// Key 根据工具名和规范化后的查询参数生成稳定的缓存键。
// 参数按键名排序, 保证同一查询无论参数顺序如何都命中同一条目。
func Key(tool string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(tool)
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(params[name])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return "sre:cache:" + hex.EncodeToString(sum[:])
}

// RedisCache 基于 Redis 的共享查询缓存, 多个实例间复用。
type RedisCache struct {
	client *redis.Client
	log    *logger.Logger
}

func NewRedisCache(client *redis.Client, log *logger.Logger) *RedisCache {
	return &RedisCache{client: client, log: log}
}

// GetOrCompute 缓存层故障时降级为直接查询, 不向调用方暴露缓存错误。
func (c *RedisCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func() ([]byte, error)) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return val, nil
	}
	if err != redis.Nil && c.log != nil {
		c.log.WithError(models.ErrorInfo{Message: err.Error(), Type: "cache_error"}).Warn("Query cache read failed, falling through")
	}

	out, err := compute()
	if err != nil {
		return nil, err
	}

	if setErr := c.client.Set(ctx, key, out, ttl).Err(); setErr != nil && c.log != nil {
		c.log.WithError(models.ErrorInfo{Message: setErr.Error(), Type: "cache_error"}).Warn("Query cache write failed")
	}
	return out, nil
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache 进程内缓存, 用于未配置 Redis 的部署和测试。
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// now 可注入, 测试中用来模拟时间流逝。
	now func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func() ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && c.now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.value, nil
	}
	c.mu.Unlock()

	out, err := compute()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = memoryEntry{value: out, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return out, nil
}

// Noop 关闭缓存时使用, 每次都直接执行查询。
type Noop struct{}

func (Noop) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func() ([]byte, error)) ([]byte, error) {
	return compute()
}
