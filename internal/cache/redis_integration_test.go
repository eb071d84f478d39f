package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestRedisCacheAgainstRealRedis runs the cache contract against a real Redis
// in a container. Requires Docker; set INTEGRATION_TESTS=true to enable.
func TestRedisCacheAgainstRealRedis(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test - set INTEGRATION_TESTS=true to run")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get container endpoint: %v", err)
	}

	c := NewRedisCache(endpoint, "", 0, "coinscout-it")
	defer c.Close()

	runCacheContract(t, c)

	t.Run("real expiry", func(t *testing.T) {
		if err := c.Set(ctx, "blink", []byte("x"), time.Second); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		time.Sleep(1500 * time.Millisecond)
		if _, err := c.Get(ctx, "blink"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected expiry, got %v", err)
		}
	})
}
