package service

import (
	"context"
	"fmt"
	"valorant-rank/internal/domain"
	"valorant-rank/internal/repository"

	"github.com/rs/zerolog"
)

type HandleResolver interface {
	Resolve(ctx context.Context, name, tag string) (*domain.Account, error)
}

type RegistrationService struct {
	resolver HandleResolver
	store    repository.RegistrationStore
	factory  SessionFactory
	logger   zerolog.Logger
}

func NewRegistrationService(resolver HandleResolver, store repository.RegistrationStore, factory SessionFactory, logger zerolog.Logger) *RegistrationService {
	return &RegistrationService{
		resolver: resolver,
		store:    store,
		factory:  factory,
		logger:   logger.With().Str("service", "registration").Logger(),
	}
}

// Register resolves a "name#tag" handle and stores it. The resolver's region wins;
// fallback is only used when the resolver does not report one.
func (s *RegistrationService) Register(ctx context.Context, handle string, fallback domain.Region) (domain.Registration, error) {
	name, tag, err := domain.SplitHandle(handle)
	if err != nil {
		return domain.Registration{}, err
	}

	account, err := s.resolver.Resolve(ctx, name, tag)
	if err != nil {
		return domain.Registration{}, err
	}

	region := account.Region
	if !region.Valid() {
		region = fallback
	}
	if !region.Valid() {
		return domain.Registration{}, fmt.Errorf("%w: region of %s is unknown, register it with an explicit region", domain.ErrInvalidArgument, handle)
	}

	return s.RegisterPlayerID(ctx, handle, region, account.PlayerID)
}

func (s *RegistrationService) RegisterPlayerID(ctx context.Context, handle string, region domain.Region, puuid string) (domain.Registration, error) {
	if _, _, err := domain.SplitHandle(handle); err != nil {
		return domain.Registration{}, err
	}
	if !region.Valid() {
		return domain.Registration{}, fmt.Errorf("%w: unknown region %q", domain.ErrInvalidArgument, region)
	}
	if puuid == "" {
		return domain.Registration{}, fmt.Errorf("%w: puuid is required", domain.ErrInvalidArgument)
	}

	reg := domain.Registration{Handle: handle, Region: region, PlayerID: puuid}
	if err := s.store.Put(ctx, reg); err != nil {
		return domain.Registration{}, err
	}

	s.logger.Info().Str("handle", handle).Str("region", region.String()).Str("puuid", puuid).Msg("player registered")
	return reg, nil
}

// RegisterCredentials logs in as the account itself to learn its puuid and handle.
// The session is thrown away afterwards.
func (s *RegistrationService) RegisterCredentials(ctx context.Context, region domain.Region, username, password string) (domain.Registration, error) {
	if !region.Valid() {
		return domain.Registration{}, fmt.Errorf("%w: unknown region %q", domain.ErrInvalidArgument, region)
	}
	creds := domain.Credentials{Username: username, Password: password}
	if creds.Empty() {
		return domain.Registration{}, fmt.Errorf("%w: username and password are required", domain.ErrInvalidArgument)
	}

	client := s.factory(region, creds)
	defer client.Close()

	puuid, err := client.PlayerID(ctx)
	if err != nil {
		return domain.Registration{}, err
	}
	info, err := client.UserInfo(ctx)
	if err != nil {
		return domain.Registration{}, err
	}
	if info.Acct.GameName == "" || info.Acct.TagLine == "" {
		return domain.Registration{}, fmt.Errorf("%w: userinfo has no game name or tag line", domain.ErrProtocol)
	}

	return s.RegisterPlayerID(ctx, info.Handle(), region, puuid)
}

// List returns registrations sorted by handle. An empty region lists all of them.
func (s *RegistrationService) List(ctx context.Context, region domain.Region) ([]domain.Registration, error) {
	if region != "" && !region.Valid() {
		return nil, fmt.Errorf("%w: unknown region %q", domain.ErrInvalidArgument, region)
	}

	keys, err := s.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	regs := make([]domain.Registration, 0, len(keys))
	for _, k := range keys {
		reg, ok, err := s.store.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if !ok || (region != "" && reg.Region != region) {
			continue
		}
		regs = append(regs, reg)
	}
	return regs, nil
}
