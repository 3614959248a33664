package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"postwatch/internal/fingerprint"
	logx "postwatch/pkg/logx"
)

type redisStore struct {
	rdb *redis.Client
	log logx.Logger
	key string
	now func() time.Time
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Not fatal: Load/Save report it and the watcher retries.
		log.Warn("redis ping failed", logx.String("addr", addr), logx.Err(err))
	}

	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = "postwatch:latest"
	}
	return &redisStore{rdb: rdb, log: log, key: key, now: time.Now}, nil
}

func (s *redisStore) Close() error { return s.rdb.Close() }

func (s *redisStore) Load(ctx context.Context) (State, error) {
	b, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		s.log.Info("no state record yet", logx.String("key", s.key))
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	st, err := decodeRecord(b)
	if err != nil {
		s.log.Warn("state record unusable; treating as absent", logx.String("key", s.key), logx.Err(err))
		return State{}, nil
	}
	return st, nil
}

func (s *redisStore) Save(ctx context.Context, fp fingerprint.Fingerprint) error {
	b, err := encodeRecord(fp, s.now())
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, b, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}
