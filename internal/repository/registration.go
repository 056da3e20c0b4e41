package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"valorant-rank/internal/config"
	"valorant-rank/internal/database"
	"valorant-rank/internal/domain"

	"github.com/rs/zerolog"
)

// RegistrationStore maps a handle to the region and puuid it was registered with.
// Handles are compared as exact strings.
type RegistrationStore interface {
	Get(ctx context.Context, handle string) (domain.Registration, bool, error)
	Put(ctx context.Context, reg domain.Registration) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

type registrationRecord struct {
	Region string `json:"region"`
	PUUID  string `json:"puuid"`
}

// JSONRegistrationStore keeps every registration in one JSON object on disk. The
// file is read once at open and rewritten whole on every Put.
type JSONRegistrationStore struct {
	path   string
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]registrationRecord
}

func NewJSONRegistrationStore(path string, logger zerolog.Logger) (*JSONRegistrationStore, error) {
	s := &JSONRegistrationStore{
		path:   path,
		logger: logger.With().Str("store", "json").Logger(),
		cache:  make(map[string]registrationRecord),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		s.logger.Info().Str("path", path).Msg("registration file not found, starting empty")
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read registration file: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.cache); err != nil {
			return nil, fmt.Errorf("failed to parse registration file %s: %w", path, err)
		}
	}
	s.logger.Info().Str("path", path).Int("count", len(s.cache)).Msg("registrations loaded")
	return s, nil
}

func (s *JSONRegistrationStore) Get(_ context.Context, handle string) (domain.Registration, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.cache[handle]
	if !ok {
		return domain.Registration{}, false, nil
	}
	return domain.Registration{Handle: handle, Region: domain.Region(rec.Region), PlayerID: rec.PUUID}, true, nil
}

func (s *JSONRegistrationStore) Put(_ context.Context, reg domain.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.cache[reg.Handle]
	s.cache[reg.Handle] = registrationRecord{Region: reg.Region.String(), PUUID: reg.PlayerID}
	if err := s.flush(); err != nil {
		if existed {
			s.cache[reg.Handle] = prev
		} else {
			delete(s.cache, reg.Handle)
		}
		return err
	}

	s.logger.Debug().Str("handle", reg.Handle).Str("region", reg.Region.String()).Msg("registration stored")
	return nil
}

func (s *JSONRegistrationStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.cache))
	for k := range s.cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *JSONRegistrationStore) Close() error {
	return nil
}

// flush writes to a temp file and renames it over the store so a crash never
// leaves half a file behind.
func (s *JSONRegistrationStore) flush() error {
	data, err := json.Marshal(s.cache)
	if err != nil {
		return fmt.Errorf("failed to encode registrations: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp registration file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write registrations: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write registrations: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace registration file: %w", err)
	}
	return nil
}

func OpenRegistrationStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (RegistrationStore, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		db, err := database.Open(cfg.DBPath, logger)
		if err != nil {
			return nil, err
		}
		return NewSQLiteRegistrationStore(db, logger), nil
	case config.StoreRedis:
		store, err := NewRedisRegistrationStore(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := NewJSONRegistrationStore(cfg.StorePath, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}
