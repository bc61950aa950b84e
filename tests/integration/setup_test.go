package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	redistc "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/evpower/chargecore/internal/adapter/cache"
)

// TestEnv holds the resources a chargecore integration test needs. Unlike
// the unit suites, these tests exercise the real Redis adapter over a
// network connection instead of LocalCache.
type TestEnv struct {
	Cache          cache.Cache
	RedisContainer testcontainers.Container
	Logger         *zap.Logger
}

var testEnv *TestEnv

// SetupTestEnvironment initializes the test environment, preferring an
// externally provided Redis (CI) over a locally started container.
func SetupTestEnvironment(t *testing.T) *TestEnv {
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()
	logger, _ := zap.NewDevelopment()

	if url := os.Getenv("REDIS_URL"); url != "" {
		c, err := cache.NewRedisCache(url, logger)
		if err != nil {
			t.Skipf("Redis not reachable via REDIS_URL: %v", err)
			return nil
		}
		testEnv = &TestEnv{Cache: c, Logger: logger}
		return testEnv
	}

	container, err := redistc.RunContainer(ctx,
		testcontainers.WithImage("redis:7-alpine"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("docker not available, skipping integration test: %v", err)
		return nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("failed to get redis port: %v", err)
	}

	c, err := cache.NewRedisCache(fmt.Sprintf("redis://%s:%s/0", host, port.Port()), logger)
	if err != nil {
		t.Fatalf("failed to connect to containerized redis: %v", err)
	}

	testEnv = &TestEnv{Cache: c, RedisContainer: container, Logger: logger}
	return testEnv
}

// TeardownTestEnvironment releases whatever SetupTestEnvironment acquired.
func TeardownTestEnvironment(t *testing.T) {
	if testEnv == nil {
		return
	}

	if testEnv.Cache != nil {
		testEnv.Cache.Close()
	}
	if testEnv.RedisContainer != nil {
		if err := testEnv.RedisContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	}

	testEnv = nil
}
