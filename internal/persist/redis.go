package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Connect initializes a Redis client from a redis:// URL or host:port.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisBackend keeps the document as one Redis hash.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend stores the document under the hash key "rewards:<name>".
func NewRedisBackend(client *redis.Client, name string) *RedisBackend {
	return &RedisBackend{client: client, key: "rewards:" + name}
}

func (r *RedisBackend) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	data, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", r.key, err)
	}
	doc := make(map[string]json.RawMessage, len(data))
	for k, v := range data {
		doc[k] = json.RawMessage(v)
	}
	return doc, nil
}

func (r *RedisBackend) Save(ctx context.Context, doc map[string]json.RawMessage) error {
	fields := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		fields[k] = string(v)
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.key)
		if len(fields) > 0 {
			p.HSet(ctx, r.key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace %s: %w", r.key, err)
	}
	return nil
}
