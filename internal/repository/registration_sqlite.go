package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"valorant-rank/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type SQLiteRegistrationStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSQLiteRegistrationStore(sqlDB *sql.DB, logger zerolog.Logger) *SQLiteRegistrationStore {
	return &SQLiteRegistrationStore{
		db:     sqlDB,
		logger: logger.With().Str("store", "sqlite").Logger(),
	}
}

func (s *SQLiteRegistrationStore) Get(ctx context.Context, handle string) (domain.Registration, bool, error) {
	var region, puuid string
	err := s.db.QueryRowContext(ctx,
		`SELECT region, puuid FROM registrations WHERE handle = ?`, handle,
	).Scan(&region, &puuid)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Registration{}, false, nil
	}
	if err != nil {
		s.logger.Error().Err(err).Str("handle", handle).Msg("failed to get registration")
		return domain.Registration{}, false, fmt.Errorf("failed to get registration %q: %w", handle, err)
	}
	return domain.Registration{Handle: handle, Region: domain.Region(region), PlayerID: puuid}, true, nil
}

func (s *SQLiteRegistrationStore) Put(ctx context.Context, reg domain.Registration) error {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate nanoid: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO registrations (id, handle, region, puuid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET
			region = excluded.region,
			puuid = excluded.puuid,
			updated_at = excluded.updated_at`,
		id, reg.Handle, reg.Region.String(), reg.PlayerID, now, now,
	)
	if err != nil {
		s.logger.Error().Err(err).Str("handle", reg.Handle).Msg("failed to upsert registration")
		return fmt.Errorf("failed to upsert registration %q: %w", reg.Handle, err)
	}
	return nil
}

func (s *SQLiteRegistrationStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT handle FROM registrations ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var handle string
		if err := rows.Scan(&handle); err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		keys = append(keys, handle)
	}
	return keys, rows.Err()
}

func (s *SQLiteRegistrationStore) Close() error {
	return s.db.Close()
}
