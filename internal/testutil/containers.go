// Package testutil 集成测试使用的容器
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	redisOnce sync.Once
	redisAddr string
	redisErr  error

	pgOnce sync.Once
	pgDSN  string
	pgErr  error
)

// RedisAddress 启动（或复用）Redis容器并返回 host:port
// 没有可用的Docker时跳过测试。
func RedisAddress(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	redisOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		redisC, err := testcontainers.Run(
			ctx, "redis:7",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			),
		)
		if err != nil {
			redisErr = err
			return
		}

		endpoint, err := redisC.Endpoint(ctx, "")
		if err != nil {
			_ = redisC.Terminate(context.Background())
			redisErr = err
			return
		}
		redisAddr = endpoint
	})

	if redisErr != nil {
		t.Skipf("redis container unavailable: %v", redisErr)
	}
	return redisAddr
}

// PostgresDSN 启动（或复用）PostgreSQL容器并返回连接串
func PostgresDSN(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	pgOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		pgC, err := postgres.Run(ctx, "postgres:16",
			postgres.WithDatabase("task_lifecycle_test"),
			postgres.WithUsername("lifecycle"),
			postgres.WithPassword("lifecycle"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(2*time.Minute)),
		)
		if err != nil {
			pgErr = err
			return
		}

		dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			_ = pgC.Terminate(context.Background())
			pgErr = err
			return
		}
		pgDSN = dsn
	})

	if pgErr != nil {
		t.Skipf("postgres container unavailable: %v", pgErr)
	}
	return pgDSN
}
