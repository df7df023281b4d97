// Package lease 基于Redis的扫描租约（对外导出）
//
// 多个服务副本共享同一个Redis时，同一租户的超时扫描同一时刻只会在一个副本上执行。
// 租约带过期时间，持有者崩溃后自动释放。
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	acquireLua = `
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

local cur = redis.call('GET', key)
if not cur then
	redis.call('PSETEX', key, ttlms, owner)
	return 1
end
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`

	releaseLua = `
local key = KEYS[1]
local owner = ARGV[1]

local cur = redis.call('GET', key)
if cur == owner then
	redis.call('DEL', key)
	return 1
end
return 0
`
)

// ErrNotOwner 释放他人持有的租约
var ErrNotOwner = errors.New("lease held by another owner")

// RedisLocker 实现 sla.SweepLocker（对外导出）
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker 创建租约锁，prefix 会拼接在每个key之前
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// NewRedisLockerFromAddr 根据地址创建客户端并检查连通性
func NewRedisLockerFromAddr(ctx context.Context, addr, password string, db int, prefix string) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}
	return NewRedisLocker(client, prefix), nil
}

func (l *RedisLocker) key(k string) string { return l.prefix + k }

// TryLock 尝试获取租约；已持有时续期
func (l *RedisLocker) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lease ttl must be positive, got %s", ttl)
	}
	res, err := l.client.Eval(ctx, acquireLua, []string{l.key(key)}, owner, ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("获取租约失败: %w", err)
	}
	return isOne(res), nil
}

// Unlock 释放租约；租约已过期视为成功
func (l *RedisLocker) Unlock(ctx context.Context, key, owner string) error {
	res, err := l.client.Eval(ctx, releaseLua, []string{l.key(key)}, owner).Result()
	if err != nil {
		return fmt.Errorf("释放租约失败: %w", err)
	}
	if isOne(res) {
		return nil
	}

	cur, err := l.client.Get(ctx, l.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("查询租约失败: %w", err)
	}
	if cur != owner {
		return ErrNotOwner
	}
	return nil
}

// Ping 检查Redis连接
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close 关闭底层客户端
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func isOne(res interface{}) bool {
	switch v := res.(type) {
	case int64:
		return v == 1
	case int:
		return v == 1
	case string:
		return v == "1"
	}
	return false
}
