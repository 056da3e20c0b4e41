package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"valorant-rank/internal/constants"
	"valorant-rank/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisRegistrationStore keeps registrations as JSON values in a single hash, in
// the same shape as the JSON file store.
type RedisRegistrationStore struct {
	rdb    *redis.Client
	key    string
	logger zerolog.Logger
}

func NewRedisRegistrationStore(ctx context.Context, redisURL string, logger zerolog.Logger) (*RedisRegistrationStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisRegistrationStore{
		rdb:    rdb,
		key:    constants.RegistrationsRedisKey,
		logger: logger.With().Str("store", "redis").Logger(),
	}, nil
}

func (s *RedisRegistrationStore) Get(ctx context.Context, handle string) (domain.Registration, bool, error) {
	raw, err := s.rdb.HGet(ctx, s.key, handle).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Registration{}, false, nil
	}
	if err != nil {
		return domain.Registration{}, false, fmt.Errorf("failed to get registration %q: %w", handle, err)
	}

	var rec registrationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return domain.Registration{}, false, fmt.Errorf("failed to decode registration %q: %w", handle, err)
	}
	return domain.Registration{Handle: handle, Region: domain.Region(rec.Region), PlayerID: rec.PUUID}, true, nil
}

func (s *RedisRegistrationStore) Put(ctx context.Context, reg domain.Registration) error {
	data, err := json.Marshal(registrationRecord{Region: reg.Region.String(), PUUID: reg.PlayerID})
	if err != nil {
		return fmt.Errorf("failed to encode registration: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.key, reg.Handle, data).Err(); err != nil {
		s.logger.Error().Err(err).Str("handle", reg.Handle).Msg("failed to store registration")
		return fmt.Errorf("failed to store registration %q: %w", reg.Handle, err)
	}
	return nil
}

func (s *RedisRegistrationStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.rdb.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisRegistrationStore) Close() error {
	return s.rdb.Close()
}
