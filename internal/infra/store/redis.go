package store

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
)

// RedisConfig holds settings for the redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Redis keeps each collection in one hash named "<prefix>:<collection>".
// HSET on a single field is atomic, which gives per-key atomic writes.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Store = (*Redis)(nil)

// NewRedis connects to the server and verifies it with PING.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: addr is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "tapedeck"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, failure(err, "open", "", "")
	}

	zlog.Debug().Msgf("store: redis connected: addr=%s db=%d prefix=%s", cfg.Addr, cfg.DB, cfg.Prefix)
	return &Redis{client: client, prefix: cfg.Prefix}, nil
}

func (r *Redis) hashKey(coll Collection) string {
	return r.prefix + ":" + string(coll)
}

// Put sets the hash field for key.
func (r *Redis) Put(ctx context.Context, coll Collection, key string, value []byte) error {
	if err := checkCollection(coll); err != nil {
		return err
	}
	if err := r.client.HSet(ctx, r.hashKey(coll), key, value).Err(); err != nil {
		return failure(err, "put", coll, key)
	}
	return nil
}

// Get reads the hash field for key.
func (r *Redis) Get(ctx context.Context, coll Collection, key string) ([]byte, error) {
	if err := checkCollection(coll); err != nil {
		return nil, err
	}
	value, err := r.client.HGet(ctx, r.hashKey(coll), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(coll, key)
	}
	if err != nil {
		return nil, failure(err, "get", coll, key)
	}
	return value, nil
}

// GetAll reads the whole hash, ordered by key.
func (r *Redis) GetAll(ctx context.Context, coll Collection) ([]Entry, error) {
	if err := checkCollection(coll); err != nil {
		return nil, err
	}
	fields, err := r.client.HGetAll(ctx, r.hashKey(coll)).Result()
	if err != nil {
		return nil, failure(err, "get_all", coll, "")
	}

	entries := make([]Entry, 0, len(fields))
	for k, v := range fields {
		entries = append(entries, Entry{Key: k, Value: []byte(v)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		return failure(err, "close", "", "")
	}
	return nil
}
