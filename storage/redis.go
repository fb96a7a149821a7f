package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huykn/distributed-map/types"
)

// ErrNotFound is returned when a key is not found.
var ErrNotFound = errors.New("key not found in redis")

// MapLoader supplies the entries of a map from a backing store.
type MapLoader interface {
	// LoadAllKeys returns every key of mapName.
	LoadAllKeys(ctx context.Context, mapName string) ([]types.Data, error)

	// LoadAll returns a flat key/value sequence for the keys that exist.
	LoadAll(ctx context.Context, mapName string, keys []types.Data) ([]types.Data, error)
}

// RedisLoaderOptions configures a RedisLoader.
type RedisLoaderOptions struct {
	// KeyPrefix is prepended to "<map>:<key>" for every Redis key.
	KeyPrefix string

	// ScanCount is the COUNT hint of SCAN.
	ScanCount int64

	// BatchSize bounds the keys of one MGET.
	BatchSize int
}

// DefaultRedisLoaderOptions returns default loader options.
func DefaultRedisLoaderOptions() RedisLoaderOptions {
	return RedisLoaderOptions{
		KeyPrefix: "dmap:",
		ScanCount: 500,
		BatchSize: 500,
	}
}

// RedisLoader implements MapLoader on top of Redis strings.
type RedisLoader struct {
	client *redis.Client
	opts   RedisLoaderOptions
}

// NewRedisLoader creates a loader over client.
func NewRedisLoader(client *redis.Client, opts RedisLoaderOptions) *RedisLoader {
	if opts.ScanCount <= 0 {
		opts.ScanCount = 500
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	return &RedisLoader{client: client, opts: opts}
}

// NewRedisLoaderFromAddr connects to Redis and creates a loader.
func NewRedisLoaderFromAddr(addr, password string, db int, opts RedisLoaderOptions) (*RedisLoader, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return NewRedisLoader(client, opts), nil
}

// LoadAllKeys implements MapLoader.
func (rl *RedisLoader) LoadAllKeys(ctx context.Context, mapName string) ([]types.Data, error) {
	prefix := rl.mapPrefix(mapName)
	var keys []types.Data

	iter := rl.client.Scan(ctx, 0, escapeGlob(prefix)+"*", rl.opts.ScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, types.Data(strings.TrimPrefix(iter.Val(), prefix)))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// LoadAll implements MapLoader.
func (rl *RedisLoader) LoadAll(ctx context.Context, mapName string, keys []types.Data) ([]types.Data, error) {
	seq := make([]types.Data, 0, 2*len(keys))
	for start := 0; start < len(keys); start += rl.opts.BatchSize {
		batch := keys[start:min(start+rl.opts.BatchSize, len(keys))]
		redisKeys := make([]string, len(batch))
		for i, k := range batch {
			redisKeys[i] = rl.redisKey(mapName, k)
		}

		values, err := rl.client.MGet(ctx, redisKeys...).Result()
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			seq = append(seq, batch[i], types.Data(s))
		}
	}
	return seq, nil
}

// Load returns the value of one key.
func (rl *RedisLoader) Load(ctx context.Context, mapName string, key types.Data) (types.Data, error) {
	val, err := rl.client.Get(ctx, rl.redisKey(mapName, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return types.Data(val), nil
}

// Store writes a value to the backing store.
func (rl *RedisLoader) Store(ctx context.Context, mapName string, key, value types.Data) error {
	return rl.client.Set(ctx, rl.redisKey(mapName, key), []byte(value), 0).Err()
}

// Delete removes a value from the backing store.
func (rl *RedisLoader) Delete(ctx context.Context, mapName string, key types.Data) error {
	return rl.client.Del(ctx, rl.redisKey(mapName, key)).Err()
}

// Clear removes every value of mapName from the backing store.
func (rl *RedisLoader) Clear(ctx context.Context, mapName string) error {
	keys, err := rl.LoadAllKeys(ctx, mapName)
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += rl.opts.BatchSize {
		batch := keys[start:min(start+rl.opts.BatchSize, len(keys))]
		redisKeys := make([]string, len(batch))
		for i, k := range batch {
			redisKeys[i] = rl.redisKey(mapName, k)
		}
		if err := rl.client.Del(ctx, redisKeys...).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the Redis connection.
func (rl *RedisLoader) Close() error {
	return rl.client.Close()
}

// GetClient returns the underlying Redis client.
func (rl *RedisLoader) GetClient() *redis.Client {
	return rl.client
}

func (rl *RedisLoader) mapPrefix(mapName string) string {
	return rl.opts.KeyPrefix + mapName + ":"
}

func (rl *RedisLoader) redisKey(mapName string, key types.Data) string {
	return rl.mapPrefix(mapName) + string(key)
}

// escapeGlob escapes the SCAN MATCH metacharacters of s.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
