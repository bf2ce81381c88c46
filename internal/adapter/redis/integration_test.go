//go:build integration

package redis

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"

	"github.com/mrtnsch/checkboxes/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

var (
	testRedisURL string
	redContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	redContainer, err = redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := redContainer.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()
	if err := redContainer.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
	}
	os.Exit(code)
}

func setupTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, testRedisURL, NewCircuitBreakerHook(nil))
	require.NoError(t, err)
	require.NoError(t, client.FlushAll(ctx).Err())

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIntegration_MissingKeyIsAllFalse(t *testing.T) {
	store := NewBitmapStore(setupTestClient(t), "checkboxes", 8)

	snap, err := store.Snapshot(context.Background())

	require.NoError(t, err)
	assert.Empty(t, snap.TrueIndices)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, snap.FalseIndices)
}

func TestIntegration_SetBitThenSnapshot(t *testing.T) {
	ctx := context.Background()
	const n = 20
	store := NewBitmapStore(setupTestClient(t), "checkboxes", n)

	for i := 0; i < n; i++ {
		require.NoError(t, store.SetBit(ctx, i, true))
		snap, err := store.Snapshot(ctx)
		require.NoError(t, err)
		assert.Contains(t, snap.TrueIndices, i)
		assert.Equal(t, n, snap.Size())

		require.NoError(t, store.SetBit(ctx, i, false))
		snap, err = store.Snapshot(ctx)
		require.NoError(t, err)
		assert.Contains(t, snap.FalseIndices, i)
	}
}

func TestIntegration_LayoutMatchesRedisBitmap(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)
	store := NewBitmapStore(client, "checkboxes", 16)

	require.NoError(t, store.SetBit(ctx, 0, true))
	require.NoError(t, store.SetBit(ctx, 9, true))

	raw, err := client.Get(ctx, "checkboxes").Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x40}, raw)
}

func TestIntegration_BitsPastSizeIgnored(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)
	store := NewBitmapStore(client, "checkboxes", 6)

	require.NoError(t, client.SetBit(ctx, "checkboxes", 1, 1).Err())
	require.NoError(t, client.SetBit(ctx, "checkboxes", 7, 1).Err())
	require.NoError(t, client.SetBit(ctx, "checkboxes", 30, 1).Err())

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, snap.TrueIndices)
	assert.Equal(t, []int{0, 2, 3, 4, 5}, snap.FalseIndices)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIntegration_OutOfRangeLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	client := setupTestClient(t)
	store := NewBitmapStore(client, "checkboxes", 8)

	assert.ErrorIs(t, store.SetBit(ctx, 8, true), domain.ErrOutOfRange)

	exists, err := client.Exists(ctx, "checkboxes").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestIntegration_GetBitCountClear(t *testing.T) {
	ctx := context.Background()
	store := NewBitmapStore(setupTestClient(t), "checkboxes", 20)

	for _, i := range []int{2, 8, 17, 19} {
		require.NoError(t, store.SetBit(ctx, i, true))
	}

	v, err := store.GetBit(ctx, 17)
	require.NoError(t, err)
	assert.True(t, v)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	require.NoError(t, store.Clear(ctx))
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	require.NoError(t, store.Ping(ctx))
}
