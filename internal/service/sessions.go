package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"valorant-rank/internal/api"
	"valorant-rank/internal/config"
	"valorant-rank/internal/domain"
	"valorant-rank/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// RiotSession is the slice of api.RiotClient the services use.
type RiotSession interface {
	Region() domain.Region
	EnsureFresh(ctx context.Context, force bool) error
	UserInfo(ctx context.Context) (*api.UserInfo, error)
	PlayerID(ctx context.Context) (string, error)
	CompetitiveUpdates(ctx context.Context, puuid string, start, end int) (*api.CompetitiveUpdates, error)
	RawCompetitiveUpdates(ctx context.Context, puuid string, start, end int) (json.RawMessage, error)
	Close()
}

type SessionFactory func(region domain.Region, creds domain.Credentials) RiotSession

func NewRiotSessionFactory(endpoints api.Endpoints, logger zerolog.Logger, m *metrics.Metrics) SessionFactory {
	return func(region domain.Region, creds domain.Credentials) RiotSession {
		return api.NewRiotClient(region, creds, endpoints, logger, m)
	}
}

type CredentialSource interface {
	Credentials(region domain.Region) (domain.Credentials, error)
}

var _ CredentialSource = (*config.Config)(nil)

// SessionPool owns one RiotSession per region, created on first use.
type SessionPool struct {
	creds   CredentialSource
	factory SessionFactory
	logger  zerolog.Logger

	mu      sync.Mutex
	clients map[domain.Region]RiotSession
}

func NewSessionPool(cfg *config.Config, factory SessionFactory, logger zerolog.Logger) *SessionPool {
	return newSessionPool(cfg, factory, logger)
}

func newSessionPool(creds CredentialSource, factory SessionFactory, logger zerolog.Logger) *SessionPool {
	return &SessionPool{
		creds:   creds,
		factory: factory,
		logger:  logger.With().Str("component", "session_pool").Logger(),
		clients: make(map[domain.Region]RiotSession),
	}
}

func (p *SessionPool) Client(region domain.Region) (RiotSession, error) {
	if !region.Valid() {
		return nil, fmt.Errorf("%w: unknown region %q", domain.ErrInvalidArgument, region)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[region]; ok {
		return c, nil
	}

	creds, err := p.creds.Credentials(region)
	if err != nil {
		return nil, err
	}

	c := p.factory(region, creds)
	p.clients[region] = c
	p.logger.Info().Str("region", region.String()).Msg("created riot session")
	return c, nil
}

// Close closes every session in the background. The returned channel is closed
// once all of them are done; callers that do not care can ignore it.
func (p *SessionPool) Close() <-chan struct{} {
	p.mu.Lock()
	clients := make([]RiotSession, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.clients = make(map[domain.Region]RiotSession)
	p.mu.Unlock()

	g := new(errgroup.Group)
	for _, c := range clients {
		c := c
		g.Go(func() error {
			c.Close()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := g.Wait(); err != nil {
			p.logger.Error().Err(err).Msg("failed to close riot sessions")
			return
		}
		p.logger.Info().Int("count", len(clients)).Msg("riot sessions closed")
	}()
	return done
}
