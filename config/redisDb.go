package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

// GetRedisObject decodes a JSON value stored under key. A nil client behaves as a cache miss.
func GetRedisObject(ctx context.Context, client *redis.Client, key string, dest any) (bool, error) {
	if client == nil {
		return false, nil
	}
	val, err := client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

func GetRedisValue(ctx context.Context, client *redis.Client, key string) (string, bool, error) {
	if client == nil {
		return "", false, nil
	}
	val, err := client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func SetRedisObject(ctx context.Context, client *redis.Client, key string, obj any, exp time.Duration) error {
	if client == nil {
		return nil
	}
	objInByte, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, objInByte, exp).Err()
}

func SetRedisValue(ctx context.Context, client *redis.Client, key string, value string, exp time.Duration) error {
	if client == nil {
		return nil
	}
	return client.Set(ctx, key, value, exp).Err()
}

func RemoveRedisKey(ctx context.Context, client *redis.Client, keys ...string) error {
	if client == nil {
		return nil
	}
	_, err := client.Del(ctx, keys...).Result()
	return err
}

// ConnectRedisWithRetry dials REDIS_ADDRESS until it answers PING, then
// installs the shared client and lock client. Returns nil once ctx is done.
func ConnectRedisWithRetry(ctx context.Context) *redis.Client {
	opts := redisOptionsFromEnv()
	for attempt := 1; ; attempt++ {
		client := redis.NewClient(opts)
		err := client.Ping(ctx).Err()
		if err == nil {
			rdb = client
			locker = redislock.New(rdb)
			GetLogger().WithFields(logrus.Fields{"addr": opts.Addr, "attempt": attempt}).Info("[redis.connected]")
			return rdb
		}
		_ = client.Close()

		wait := backoff(attempt)
		GetLogger().WithFields(logrus.Fields{
			"addr":    opts.Addr,
			"attempt": attempt,
			"retryIn": wait.String(),
		}).WithError(err).Warn("[redis.connect.retry]")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func redisOptionsFromEnv() *redis.Options {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDRESS"))
	if addr == "" {
		addr = "localhost:6379"
	}
	return &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       IntFromEnv("REDIS_DB", 0),
		PoolSize: IntFromEnv("REDIS_POOL_SIZE", 50),
	}
}
