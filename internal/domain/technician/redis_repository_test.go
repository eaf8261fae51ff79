package technician

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a Redis client for testing
func setupTestRedis(t *testing.T) *redis.Client {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL environment variable not set, skipping Redis integration tests")
	}

	opt, err := redis.ParseURL(redisURL)
	require.NoError(t, err, "Failed to parse Redis URL")

	client := redis.NewClient(opt)

	_, err = client.Ping(context.Background()).Result()
	require.NoError(t, err, "Failed to connect to Redis")

	return client
}

// newTestRedisRepository isolates each test under its own key prefix
func newTestRedisRepository(t *testing.T, client *redis.Client) *RedisRepository {
	prefix := fmt.Sprintf("techtrack-test-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+":*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return NewRedisRepository(client, prefix)
}

func TestRedisRepository_GetByID(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	repo := newTestRedisRepository(t, client)
	ctx := context.Background()

	t.Run("should return nil when technician does not exist", func(t *testing.T) {
		result, err := repo.GetByID(ctx, 12345)
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("should return technician after save", func(t *testing.T) {
		tech, _ := NewTechnician(1, "T-1", "alice", "Alice", "Jones")
		require.NoError(t, repo.Save(ctx, tech))

		result, err := repo.GetByID(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, "alice", result.Username)
		assert.Nil(t, result.Location)
	})
}

func TestRedisRepository_UpdateLocation(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	repo := newTestRedisRepository(t, client)
	now := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	tech, _ := NewTechnician(2, "T-2", "bob", "Bob", "Smith")
	require.NoError(t, repo.Save(ctx, tech))

	updated, err := repo.UpdateLocation(ctx, 2, 43.65, -79.38)
	require.NoError(t, err)
	assert.Equal(t, "bob", updated.Username)
	assert.Equal(t, Location{Latitude: 43.65, Longitude: -79.38}, *updated.Location)
	assert.True(t, now.Equal(*updated.LastActive))

	created, err := repo.UpdateLocation(ctx, 3, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, ID(3), created.ID)

	stored, err := repo.GetByID(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1.0, stored.Location.Latitude)
}

func TestRedisRepository_ListAll(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	repo := newTestRedisRepository(t, client)
	ctx := context.Background()

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	for _, id := range []ID{30, 4, 12} {
		_, err := repo.UpdateLocation(ctx, id, float64(id), 0)
		require.NoError(t, err)
	}

	all, err = repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ID(4), all[0].ID)
	assert.Equal(t, ID(12), all[1].ID)
	assert.Equal(t, ID(30), all[2].ID)
}

func TestRedisRepository_SaveKeepsPosition(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	repo := newTestRedisRepository(t, client)
	ctx := context.Background()

	_, err := repo.UpdateLocation(ctx, 5, 9, 9)
	require.NoError(t, err)

	tech, _ := NewTechnician(5, "T-5", "eve", "Eve", "")
	require.NoError(t, repo.Save(ctx, tech))

	stored, err := repo.GetByID(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "eve", stored.Username)
	require.NotNil(t, stored.Location)
	assert.Equal(t, 9.0, stored.Location.Latitude)
}

func TestDecodeDocument(t *testing.T) {
	tech, err := decodeDocument("")
	require.NoError(t, err)
	assert.Nil(t, tech)

	tech, err = decodeDocument("[]")
	require.NoError(t, err)
	assert.Nil(t, tech)

	tech, err = decodeDocument(`[{"id":7,"username":"x","location":{"latitude":1,"longitude":2}}]`)
	require.NoError(t, err)
	require.NotNil(t, tech)
	assert.Equal(t, ID(7), tech.ID)
	assert.Equal(t, 2.0, tech.Location.Longitude)

	_, err = decodeDocument("{not json")
	assert.Error(t, err)
}
