package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	"valorant-rank/internal/api"
	"valorant-rank/internal/config"
	"valorant-rank/internal/domain"
	"valorant-rank/internal/ranks"
	"valorant-rank/internal/service"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const RankServicePath = "/valorant.v1.RankService/"

const (
	ForceRefreshProcedure        = RankServicePath + "ForceRefresh"
	UserInfoProcedure            = RankServicePath + "UserInfo"
	CompetitiveUpdatesProcedure  = RankServicePath + "CompetitiveUpdates"
	CurrentRankProcedure         = RankServicePath + "CurrentRank"
	RankForHandleProcedure       = RankServicePath + "RankForHandle"
	RegisterProcedure            = RankServicePath + "Register"
	RegisterPlayerIDProcedure    = RankServicePath + "RegisterPlayerID"
	RegisterCredentialsProcedure = RankServicePath + "RegisterCredentials"
	ListRegistrationsProcedure   = RankServicePath + "ListRegistrations"
	ResolverStatusProcedure      = RankServicePath + "ResolverStatus"
)

// RateLimitReporter exposes the last rate-limit headers seen from the resolver.
type RateLimitReporter interface {
	GetRateLimitInfo() api.RateLimitInfo
}

type ValorantServer struct {
	ranks         *service.RankService
	registrations *service.RegistrationService
	resolver      RateLimitReporter
	adminToken    string
}

func NewValorantServer(ranks *service.RankService, registrations *service.RegistrationService, resolver *api.HDevClient, cfg *config.Config) *ValorantServer {
	return &ValorantServer{
		ranks:         ranks,
		registrations: registrations,
		resolver:      resolver,
		adminToken:    cfg.AdminToken,
	}
}

type RegionRequest struct {
	Region string `json:"region"`
}

type ForceRefreshResponse struct {
	Region    string `json:"region"`
	Refreshed bool   `json:"refreshed"`
}

type CompetitiveUpdatesRequest struct {
	Region     string `json:"region"`
	Puuid      string `json:"puuid"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

type CurrentRankRequest struct {
	Region string `json:"region"`
	Puuid  string `json:"puuid"`
}

type RankForHandleRequest struct {
	Handle string `json:"handle"`
}

type RankResponse struct {
	Handle         string `json:"handle,omitempty"`
	Region         string `json:"region"`
	Puuid          string `json:"puuid"`
	Ranked         bool   `json:"ranked"`
	Tier           int    `json:"tier"`
	TierName       string `json:"tier_name"`
	RankedRating   int    `json:"ranked_rating"`
	MatchID        string `json:"match_id,omitempty"`
	MatchStartTime string `json:"match_start_time,omitempty"`
}

type RegisterRequest struct {
	Handle string `json:"handle"`
	// Region is only used when the resolver does not report one.
	Region string `json:"region,omitempty"`
}

type RegisterPlayerIDRequest struct {
	Handle string `json:"handle"`
	Region string `json:"region"`
	Puuid  string `json:"puuid"`
}

type RegisterCredentialsRequest struct {
	Region   string `json:"region"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type Registration struct {
	Handle string `json:"handle"`
	Region string `json:"region"`
	Puuid  string `json:"puuid"`
}

type ListRegistrationsResponse struct {
	Registrations []Registration `json:"registrations"`
}

type ResolverStatusRequest struct{}

// Handler mounts every procedure on one mux, the way generated Connect handlers do.
func (s *ValorantServer) Handler() (string, http.Handler) {
	opts := []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(NewAdminInterceptor(s.adminToken,
			ForceRefreshProcedure,
			UserInfoProcedure,
			ListRegistrationsProcedure,
			ResolverStatusProcedure,
		)),
	}

	mux := http.NewServeMux()
	mux.Handle(ForceRefreshProcedure, connect.NewUnaryHandler(ForceRefreshProcedure, s.ForceRefresh, opts...))
	mux.Handle(UserInfoProcedure, connect.NewUnaryHandler(UserInfoProcedure, s.UserInfo, opts...))
	mux.Handle(CompetitiveUpdatesProcedure, connect.NewUnaryHandler(CompetitiveUpdatesProcedure, s.CompetitiveUpdates, opts...))
	mux.Handle(CurrentRankProcedure, connect.NewUnaryHandler(CurrentRankProcedure, s.CurrentRank, opts...))
	mux.Handle(RankForHandleProcedure, connect.NewUnaryHandler(RankForHandleProcedure, s.RankForHandle, opts...))
	mux.Handle(RegisterProcedure, connect.NewUnaryHandler(RegisterProcedure, s.Register, opts...))
	mux.Handle(RegisterPlayerIDProcedure, connect.NewUnaryHandler(RegisterPlayerIDProcedure, s.RegisterPlayerID, opts...))
	mux.Handle(RegisterCredentialsProcedure, connect.NewUnaryHandler(RegisterCredentialsProcedure, s.RegisterCredentials, opts...))
	mux.Handle(ListRegistrationsProcedure, connect.NewUnaryHandler(ListRegistrationsProcedure, s.ListRegistrations, opts...))
	mux.Handle(ResolverStatusProcedure, connect.NewUnaryHandler(ResolverStatusProcedure, s.ResolverStatus, opts...))
	return RankServicePath, mux
}

func (s *ValorantServer) ForceRefresh(ctx context.Context, req *connect.Request[RegionRequest]) (*connect.Response[ForceRefreshResponse], error) {
	region, err := domain.ParseRegion(req.Msg.Region)
	if err != nil {
		return nil, toConnectError(err)
	}
	if err := s.ranks.ForceRefresh(ctx, region); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ForceRefreshResponse{Region: region.String(), Refreshed: true}), nil
}

func (s *ValorantServer) UserInfo(ctx context.Context, req *connect.Request[RegionRequest]) (*connect.Response[structpb.Struct], error) {
	region, err := domain.ParseRegion(req.Msg.Region)
	if err != nil {
		return nil, toConnectError(err)
	}
	info, err := s.ranks.UserInfo(ctx, region)
	if err != nil {
		return nil, toConnectError(err)
	}
	return rawResponse(info.Raw)
}

func (s *ValorantServer) CompetitiveUpdates(ctx context.Context, req *connect.Request[CompetitiveUpdatesRequest]) (*connect.Response[structpb.Struct], error) {
	region, err := domain.ParseRegion(req.Msg.Region)
	if err != nil {
		return nil, toConnectError(err)
	}
	raw, err := s.ranks.CompetitiveUpdatesPage(ctx, region, req.Msg.Puuid, req.Msg.StartIndex, req.Msg.EndIndex)
	if err != nil {
		return nil, toConnectError(err)
	}
	return rawResponse(raw)
}

func (s *ValorantServer) CurrentRank(ctx context.Context, req *connect.Request[CurrentRankRequest]) (*connect.Response[RankResponse], error) {
	region, err := domain.ParseRegion(req.Msg.Region)
	if err != nil {
		return nil, toConnectError(err)
	}
	rank, found, err := s.ranks.CurrentRank(ctx, region, req.Msg.Puuid)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toRankResponse(domain.Registration{Region: region, PlayerID: req.Msg.Puuid}, rank, found)), nil
}

func (s *ValorantServer) RankForHandle(ctx context.Context, req *connect.Request[RankForHandleRequest]) (*connect.Response[RankResponse], error) {
	reg, rank, found, err := s.ranks.RankForHandle(ctx, req.Msg.Handle)
	if err != nil {
		return nil, toConnectError(err)
	}
	zerolog.Ctx(ctx).Info().Str("handle", reg.Handle).Bool("ranked", found).Msg("rank served")
	return connect.NewResponse(toRankResponse(reg, rank, found)), nil
}

func (s *ValorantServer) Register(ctx context.Context, req *connect.Request[RegisterRequest]) (*connect.Response[Registration], error) {
	var fallback domain.Region
	if req.Msg.Region != "" {
		r, err := domain.ParseRegion(req.Msg.Region)
		if err != nil {
			return nil, toConnectError(err)
		}
		fallback = r
	}

	reg, err := s.registrations.Register(ctx, req.Msg.Handle, fallback)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toRegistration(reg)), nil
}

func (s *ValorantServer) RegisterPlayerID(ctx context.Context, req *connect.Request[RegisterPlayerIDRequest]) (*connect.Response[Registration], error) {
	region, err := domain.ParseRegion(req.Msg.Region)
	if err != nil {
		return nil, toConnectError(err)
	}
	reg, err := s.registrations.RegisterPlayerID(ctx, req.Msg.Handle, region, req.Msg.Puuid)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toRegistration(reg)), nil
}

func (s *ValorantServer) RegisterCredentials(ctx context.Context, req *connect.Request[RegisterCredentialsRequest]) (*connect.Response[Registration], error) {
	region, err := domain.ParseRegion(req.Msg.Region)
	if err != nil {
		return nil, toConnectError(err)
	}
	reg, err := s.registrations.RegisterCredentials(ctx, region, req.Msg.Username, req.Msg.Password)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toRegistration(reg)), nil
}

func (s *ValorantServer) ListRegistrations(ctx context.Context, req *connect.Request[RegionRequest]) (*connect.Response[ListRegistrationsResponse], error) {
	var region domain.Region
	if req.Msg.Region != "" {
		r, err := domain.ParseRegion(req.Msg.Region)
		if err != nil {
			return nil, toConnectError(err)
		}
		region = r
	}

	regs, err := s.registrations.List(ctx, region)
	if err != nil {
		return nil, toConnectError(err)
	}

	resp := &ListRegistrationsResponse{Registrations: make([]Registration, 0, len(regs))}
	for _, r := range regs {
		resp.Registrations = append(resp.Registrations, *toRegistration(r))
	}
	return connect.NewResponse(resp), nil
}

func (s *ValorantServer) ResolverStatus(_ context.Context, _ *connect.Request[ResolverStatusRequest]) (*connect.Response[api.RateLimitInfo], error) {
	info := s.resolver.GetRateLimitInfo()
	return connect.NewResponse(&info), nil
}

func rawResponse(raw json.RawMessage) (*connect.Response[structpb.Struct], error) {
	var st structpb.Struct
	if err := protojson.Unmarshal(raw, &st); err != nil {
		return nil, toConnectError(fmt.Errorf("%w: payload is not a JSON object: %v", domain.ErrProtocol, err))
	}
	return connect.NewResponse(&st), nil
}

func toRankResponse(reg domain.Registration, rank domain.Rank, found bool) *RankResponse {
	resp := &RankResponse{
		Handle:   reg.Handle,
		Region:   reg.Region.String(),
		Puuid:    reg.PlayerID,
		Ranked:   found,
		TierName: ranks.Name(0),
	}
	if found {
		resp.Tier = rank.Tier
		resp.TierName = ranks.Name(rank.Tier)
		resp.RankedRating = rank.RankedRating
		resp.MatchID = rank.MatchID
		resp.MatchStartTime = rank.MatchStartTime.Format(time.RFC3339)
	}
	return resp
}

func toRegistration(reg domain.Registration) *Registration {
	return &Registration{Handle: reg.Handle, Region: reg.Region.String(), Puuid: reg.PlayerID}
}

// toConnectError maps the domain taxonomy onto Connect codes. Rate-limited
// lookups also carry the URL a human can open to finish the lookup by hand.
func toConnectError(err error) error {
	var rl *domain.RateLimitedError
	if errors.As(err, &rl) {
		cerr := connect.NewError(connect.CodeResourceExhausted, err)
		detail, derr := structpb.NewStruct(map[string]any{
			"name":        rl.Name,
			"tag":         rl.Tag,
			"lookup_url":  rl.LookupURL,
			"instruction": fmt.Sprintf("open %s, copy data.puuid and call RegisterPlayerID", rl.LookupURL),
		})
		if derr == nil {
			if d, err := connect.NewErrorDetail(detail); err == nil {
				cerr.AddDetail(d)
			}
		}
		return cerr
	}

	code := connect.CodeInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, domain.ErrInvalidArgument):
		code = connect.CodeInvalidArgument
	case errors.Is(err, domain.ErrConfiguration):
		code = connect.CodeFailedPrecondition
	case errors.Is(err, domain.ErrAuthentication):
		code = connect.CodeUnauthenticated
	case errors.Is(err, domain.ErrNoData), errors.Is(err, domain.ErrResolution):
		code = connect.CodeNotFound
	case errors.Is(err, domain.ErrDataIntegrity):
		code = connect.CodeDataLoss
	case errors.Is(err, domain.ErrTransport):
		code = connect.CodeUnavailable
	}
	return connect.NewError(code, err)
}
