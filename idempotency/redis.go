package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "leasebill:idempotency:"

// Redis implements Store on a shared Redis instance. Reserve is a single
// SET NX so two instances cannot both claim a key.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects and pings the server.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisWithClient(client, ""), nil
}

func NewRedisWithClient(client *redis.Client, keyPrefix string) *Redis {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Redis{client: client, keyPrefix: keyPrefix}
}

var _ Store = (*Redis)(nil)

func (r *Redis) Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (Record, bool, error) {
	rec := Record{Fingerprint: fingerprint}
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, false, err
	}

	ok, err := r.client.SetNX(ctx, r.keyPrefix+key, data, ttl).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return rec, true, nil
	}

	raw, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; let the caller retry as new
		return r.Reserve(ctx, key, fingerprint, ttl)
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	var existing Record
	if err := json.Unmarshal(raw, &existing); err != nil {
		return Record{}, false, fmt.Errorf("corrupt idempotency record: %w", err)
	}
	return existing, false, nil
}

func (r *Redis) Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	rec.Completed = true
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotent response: %w", err)
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
