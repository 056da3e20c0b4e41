package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"valorant-rank/internal/api"
	"valorant-rank/internal/constants"
	"valorant-rank/internal/domain"
	"valorant-rank/internal/metrics"
	"valorant-rank/internal/repository"

	"github.com/rs/zerolog"
)

type RankService struct {
	pool          *SessionPool
	store         repository.RegistrationStore
	registrations *RegistrationService
	windows       []int
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

func NewRankService(
	pool *SessionPool,
	store repository.RegistrationStore,
	registrations *RegistrationService,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *RankService {
	return &RankService{
		pool:          pool,
		store:         store,
		registrations: registrations,
		windows:       constants.MatchHistoryWindows,
		logger:        logger.With().Str("service", "rank").Logger(),
		metrics:       m,
	}
}

func (s *RankService) ForceRefresh(ctx context.Context, region domain.Region) error {
	client, err := s.pool.Client(region)
	if err != nil {
		return err
	}
	if err := client.EnsureFresh(ctx, true); err != nil {
		s.logger.Error().Err(err).Str("region", region.String()).Msg("forced refresh failed")
		return err
	}
	return nil
}

func (s *RankService) UserInfo(ctx context.Context, region domain.Region) (*api.UserInfo, error) {
	client, err := s.pool.Client(region)
	if err != nil {
		return nil, err
	}
	return client.UserInfo(ctx)
}

// CompetitiveUpdatesPage returns one untouched page of the feed. end is exclusive.
func (s *RankService) CompetitiveUpdatesPage(ctx context.Context, region domain.Region, puuid string, start, end int) (json.RawMessage, error) {
	if puuid == "" {
		return nil, fmt.Errorf("%w: puuid is required", domain.ErrInvalidArgument)
	}
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: invalid page %d->%d", domain.ErrInvalidArgument, start, end)
	}

	client, err := s.pool.Client(region)
	if err != nil {
		return nil, err
	}
	return client.RawCompetitiveUpdates(ctx, puuid, start, end)
}

// CurrentRank reports the rank after the player's most recent rated match. The
// bool is false when every scanned record was unrated.
func (s *RankService) CurrentRank(ctx context.Context, region domain.Region, puuid string) (domain.Rank, bool, error) {
	if puuid == "" {
		return domain.Rank{}, false, fmt.Errorf("%w: puuid is required", domain.ErrInvalidArgument)
	}

	client, err := s.pool.Client(region)
	if err != nil {
		return domain.Rank{}, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	rank, found, err := scanCompetitiveUpdates(ctx, client, puuid, s.windows)
	switch {
	case err != nil:
		s.metrics.RankLookups.WithLabelValues(lookupOutcome(err)).Inc()
		s.logger.Warn().Err(err).Str("region", region.String()).Str("puuid", puuid).Msg("rank lookup failed")
		return domain.Rank{}, false, err
	case !found:
		s.metrics.RankLookups.WithLabelValues("unranked").Inc()
		s.logger.Info().Str("region", region.String()).Str("puuid", puuid).Msg("no rated match in history")
	default:
		s.metrics.RankLookups.WithLabelValues("found").Inc()
		s.logger.Debug().
			Str("region", region.String()).
			Str("puuid", puuid).
			Int("tier", rank.Tier).
			Int("rr", rank.RankedRating).
			Msg("rank found")
	}
	return rank, found, nil
}

// RankForHandle looks the handle up in the store, registering it through the
// resolver first when it is not there yet.
func (s *RankService) RankForHandle(ctx context.Context, handle string) (domain.Registration, domain.Rank, bool, error) {
	reg, ok, err := s.store.Get(ctx, handle)
	if err != nil {
		return domain.Registration{}, domain.Rank{}, false, err
	}
	if !ok {
		reg, err = s.registrations.Register(ctx, handle, "")
		if err != nil {
			return domain.Registration{}, domain.Rank{}, false, err
		}
	}

	rank, found, err := s.CurrentRank(ctx, reg.Region, reg.PlayerID)
	if err != nil {
		return reg, domain.Rank{}, false, err
	}
	return reg, rank, found, nil
}

type competitiveFeed interface {
	CompetitiveUpdates(ctx context.Context, puuid string, start, end int) (*api.CompetitiveUpdates, error)
}

// scanCompetitiveUpdates walks consecutive windows of the feed, newest first, and
// stops at the first rated record.
func scanCompetitiveUpdates(ctx context.Context, feed competitiveFeed, puuid string, windows []int) (domain.Rank, bool, error) {
	start := 0
	for _, size := range windows {
		end := start + size
		page, err := feed.CompetitiveUpdates(ctx, puuid, start, end)
		if err != nil {
			return domain.Rank{}, false, err
		}
		if page.Subject != puuid {
			return domain.Rank{}, false, fmt.Errorf("%w: competitive updates %d->%d belong to %q, asked for %q",
				domain.ErrDataIntegrity, start, end, page.Subject, puuid)
		}
		if len(page.Matches) == 0 {
			return domain.Rank{}, false, fmt.Errorf("%w: competitive updates %d->%d are empty", domain.ErrNoData, start, end)
		}

		for _, m := range page.Matches {
			if m.Unrated() {
				continue
			}
			return domain.Rank{
				Tier:           m.TierAfterUpdate,
				RankedRating:   m.RankedRatingAfterUpdate,
				MatchStartTime: m.StartedAt(),
				MatchID:        m.MatchID,
			}, true, nil
		}
		start = end
	}
	return domain.Rank{}, false, nil
}

func lookupOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoData):
		return "no_data"
	case errors.Is(err, domain.ErrDataIntegrity):
		return "integrity"
	case errors.Is(err, domain.ErrAuthentication):
		return "auth"
	default:
		return "error"
	}
}
