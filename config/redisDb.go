package config

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Redis backs sessions, cached prompts and users, request sequence numbers,
// the rate limiter and the per-client commit lock. Every helper is a no-op
// while rdb is nil so the API keeps working on MySQL alone.
var (
	rdb    *redis.Client
	locker *redislock.Client
)

// cache calls are short and never tied to a request.
var redisCtx = context.Background()

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

func setRedisDB(c *redis.Client) {
	rdb = c
	locker = redislock.New(c)
}

func redisOptions() *redis.Options {
	return &redis.Options{
		Addr:     EnvString("REDIS_ADDRESS", "localhost:6379"),
		Password: EnvString("REDIS_PASSWORD", ""),
		DB:       EnvInt("REDIS_DB", 0),
		PoolSize: EnvInt("REDIS_POOL_SIZE", 20),
	}
}

// GetRedisObject decodes the JSON stored at key into dest.
func GetRedisObject(key string, dest interface{}) (bool, error) {
	val, found, err := GetRedisValue(key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

func GetRedisValue(key string) (string, bool, error) {
	if rdb == nil {
		return "", false, nil
	}
	val, err := rdb.Get(redisCtx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func SetRedisObject(key string, obj interface{}, exp time.Duration) error {
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return SetRedisValue(key, string(b), exp)
}

func SetRedisValue(key string, value string, exp time.Duration) error {
	if rdb == nil {
		return nil
	}
	return rdb.Set(redisCtx, key, value, exp).Err()
}

func RemoveRedisKey(keys ...string) error {
	if rdb == nil || len(keys) == 0 {
		return nil
	}
	return rdb.Del(redisCtx, keys...).Err()
}

// GetRedisCounter increments key and returns the new value.
// ok is false when redis is not connected.
func GetRedisCounter(ctx context.Context, key string) (n int64, ok bool, err error) {
	if rdb == nil {
		return 0, false, nil
	}
	n, err = rdb.Incr(ctx, key).Result()
	return n, err == nil, err
}

// PeekRedisCounter reads a counter without touching it; a missing key is 0.
func PeekRedisCounter(ctx context.Context, key string) (int64, bool, error) {
	if rdb == nil {
		return 0, false, nil
	}
	n, err := rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// ConnectRedisWithRetry blocks until REDIS_ADDRESS answers a PING.
func ConnectRedisWithRetry() {
	opts := redisOptions()
	fields := logrus.Fields{"field": "redis", "addr": opts.Addr}

	for attempt := 1; ; attempt++ {
		client := redis.NewClient(opts)
		err := client.Ping(redisCtx).Err()
		if err == nil {
			setRedisDB(client)
			GetLogger().WithFields(fields).WithField("attempt", attempt).Info("connected to redis")
			return
		}
		_ = client.Close()
		sleep := min(time.Second*time.Duration(1<<min(attempt, 5)), 30*time.Second)
		GetLogger().WithFields(fields).WithField("attempt", attempt).
			Warn("redis unavailable; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}
}
