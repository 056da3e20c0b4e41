package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"valorant-rank/internal/domain"
	"valorant-rank/internal/metrics"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/semaphore"
)

// Third-party docs: https://github.com/RumbleMike/ValorantClientAPI

const (
	clientPlatform = "ew0KCSJwbGF0Zm9ybVR5cGUiOiAiUEMiLA0KCSJwbGF0Zm9ybU9TIjogIldpbmRvd3MiLA0KCSJwbGF0Zm9ybU9TVmVyc2lvbiI6ICIxMC4wLjE5MDQyLjEuMjU2LjY0Yml0IiwNCgkicGxhdGZvcm1DaGlwc2V0IjogIlVua25vd24iDQp9"

	headerEntitlements   = "X-Riot-Entitlements-JWT"
	headerClientPlatform = "X-Riot-ClientPlatform"
)

type Endpoint int

const (
	EndpointPlayerData Endpoint = iota
	EndpointShared
	EndpointAuth
)

type Scope int

const (
	// ScopeAuthorization sends the bearer token only.
	ScopeAuthorization Scope = iota
	// ScopeFull adds the entitlements token and client platform headers.
	ScopeFull
)

// Endpoints holds the hosts a RiotClient talks to. PlayerData and Shared are
// templates where {region} is replaced by the region code.
type Endpoints struct {
	Auth         string
	Entitlements string
	PlayerData   string
	Shared       string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Auth:         "https://auth.riotgames.com",
		Entitlements: "https://entitlements.auth.riotgames.com/api/token/v1",
		PlayerData:   "https://pd.{region}.a.pvp.net",
		Shared:       "https://shared.{region}.a.pvp.net",
	}
}

func (e Endpoints) Base(ep Endpoint, region domain.Region) (string, error) {
	switch ep {
	case EndpointPlayerData:
		return strings.ReplaceAll(e.PlayerData, "{region}", region.String()), nil
	case EndpointShared:
		return strings.ReplaceAll(e.Shared, "{region}", region.String()), nil
	case EndpointAuth:
		return e.Auth, nil
	}
	return "", fmt.Errorf("%w: unknown endpoint %d", domain.ErrInvalidArgument, ep)
}

func (e Endpoints) authorizationURL() string {
	return e.Auth + "/api/v1/authorization"
}

type RiotClient struct {
	region    domain.Region
	creds     domain.Credentials
	endpoints Endpoints
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	// refresh admits one validity check + login at a time; Acquire honours ctx.
	refresh *semaphore.Weighted

	mu     sync.RWMutex
	tokens domain.TokenSet
	sess   *session
}

type Option func(*RiotClient)

func WithClock(now func() time.Time) Option {
	return func(c *RiotClient) { c.now = now }
}

func NewRiotClient(region domain.Region, creds domain.Credentials, endpoints Endpoints, logger zerolog.Logger, m *metrics.Metrics, opts ...Option) *RiotClient {
	c := &RiotClient{
		region:    region,
		creds:     creds,
		endpoints: endpoints,
		logger:    logger.With().Str("component", "riot").Str("region", region.String()).Logger(),
		metrics:   m,
		now:       time.Now,
		refresh:   semaphore.NewWeighted(1),
		sess:      newSession(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RiotClient) Region() domain.Region {
	return c.region
}

func (c *RiotClient) Tokens() domain.TokenSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

func (c *RiotClient) Close() {
	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()
	sess.close()
	c.logger.Debug().Msg("transport session closed")
}

// EnsureFresh logs in when forced or when the current token set is not valid.
// Concurrent callers queue on the refresh semaphore, so a burst of callers with
// expired tokens triggers a single login.
func (c *RiotClient) EnsureFresh(ctx context.Context, force bool) error {
	if err := c.refresh.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for token refresh: %w", err)
	}
	defer c.refresh.Release(1)

	if !force && c.Tokens().Valid(c.now()) {
		return nil
	}
	return c.login(ctx)
}

func (c *RiotClient) login(ctx context.Context) (err error) {
	start := time.Now()
	c.logger.Info().Msg("logging in")
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			c.logger.Warn().Err(err).Msg("login failed")
		}
		c.metrics.Logins.WithLabelValues(c.region.String(), outcome).Inc()
		c.metrics.LoginDuration.WithLabelValues(c.region.String()).Observe(time.Since(start).Seconds())
	}()

	sess := c.resetSession()

	if err := c.authorize(ctx, sess); err != nil {
		return fmt.Errorf("failed to start authorization: %w", err)
	}

	next, err := c.submitCredentials(ctx, sess)
	if err != nil {
		return err
	}

	next.EntitlementsToken, err = c.exchangeEntitlements(ctx, sess, next.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to exchange entitlements: %w", err)
	}

	if !next.Valid(c.now()) {
		c.logger.Error().
			Bool("complete", next.Complete()).
			Time("expires_at", next.ExpiresAt).
			Msg("login produced an invalid token set")
		return fmt.Errorf("login for region %s produced an invalid token set (expires %s)", c.region, next.ExpiresAt.Format(time.RFC3339))
	}

	c.mu.Lock()
	c.tokens = next
	c.mu.Unlock()

	c.logger.Info().Time("expires_at", next.ExpiresAt).Msg("tokens refreshed")
	return nil
}

// resetSession swaps in a fresh transport session and closes the stale one.
func (c *RiotClient) resetSession() *session {
	fresh := newSession()

	c.mu.Lock()
	stale := c.sess
	c.sess = fresh
	c.mu.Unlock()

	if stale != nil {
		stale.close()
		c.logger.Debug().Msg("discarded stale transport session")
	}
	return fresh
}

type authorizationRequest struct {
	ClientID     string `json:"client_id"`
	Nonce        string `json:"nonce"`
	RedirectURI  string `json:"redirect_uri"`
	ResponseType string `json:"response_type"`
	Scope        string `json:"scope"`
}

type credentialsRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Type     string  `json:"type"`
	Error    *string `json:"error"`
	Response *struct {
		Mode       string `json:"mode"`
		Parameters struct {
			URI string `json:"uri"`
		} `json:"parameters"`
	} `json:"response"`
}

type entitlementsResponse struct {
	EntitlementsToken string `json:"entitlements_token"`
}

func (c *RiotClient) authorize(ctx context.Context, sess *session) error {
	payload := authorizationRequest{
		ClientID:     "play-valorant-web-prod",
		Nonce:        "1",
		RedirectURI:  "https://playvalorant.com/opt_in",
		ResponseType: "token id_token",
		Scope:        "account openid",
	}
	_, err := c.send(ctx, sess, fasthttp.MethodPost, c.endpoints.authorizationURL(), nil, payload)
	return err
}

func (c *RiotClient) submitCredentials(ctx context.Context, sess *session) (domain.TokenSet, error) {
	payload := credentialsRequest{
		Type:     "auth",
		Username: c.creds.Username,
		Password: c.creds.Password,
	}
	body, sendErr := c.send(ctx, sess, fasthttp.MethodPut, c.endpoints.authorizationURL(), nil, payload)

	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		if sendErr != nil {
			return domain.TokenSet{}, fmt.Errorf("failed to submit credentials: %w", sendErr)
		}
		return domain.TokenSet{}, fmt.Errorf("%w: credentials response is not JSON: %v", domain.ErrProtocol, err)
	}
	if resp.Error != nil {
		return domain.TokenSet{}, &domain.AuthError{
			Region:       c.region,
			Code:         orUnspecified(*resp.Error),
			ResponseType: orUnspecified(resp.Type),
		}
	}
	if sendErr != nil {
		return domain.TokenSet{}, fmt.Errorf("failed to submit credentials: %w", sendErr)
	}

	if resp.Type != "response" {
		return domain.TokenSet{}, fmt.Errorf("%w: credentials response type is %q, want \"response\"", domain.ErrProtocol, resp.Type)
	}
	if resp.Response == nil || resp.Response.Mode != "fragment" {
		return domain.TokenSet{}, fmt.Errorf("%w: credentials response mode is not \"fragment\"", domain.ErrProtocol)
	}
	return parseTokenFragment(resp.Response.Parameters.URI, c.now())
}

// parseTokenFragment reads access_token, id_token and expires_in from the
// fragment of the redirect URI.
func parseTokenFragment(rawURI string, now time.Time) (domain.TokenSet, error) {
	uri, err := url.Parse(rawURI)
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("%w: redirect uri: %v", domain.ErrProtocol, err)
	}
	fields, err := url.ParseQuery(uri.EscapedFragment())
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("%w: redirect fragment: %v", domain.ErrProtocol, err)
	}

	single := func(key string) (string, error) {
		values := fields[key]
		if len(values) != 1 || values[0] == "" {
			return "", fmt.Errorf("%w: redirect fragment has %d values for %s, want exactly one", domain.ErrProtocol, len(values), key)
		}
		return values[0], nil
	}

	access, err := single("access_token")
	if err != nil {
		return domain.TokenSet{}, err
	}
	id, err := single("id_token")
	if err != nil {
		return domain.TokenSet{}, err
	}
	rawExpiresIn, err := single("expires_in")
	if err != nil {
		return domain.TokenSet{}, err
	}
	expiresIn, err := strconv.Atoi(rawExpiresIn)
	if err != nil || expiresIn <= 0 {
		return domain.TokenSet{}, fmt.Errorf("%w: expires_in %q is not a positive number of seconds", domain.ErrProtocol, rawExpiresIn)
	}

	return domain.TokenSet{
		AccessToken: access,
		IDToken:     id,
		ExpiresAt:   now.Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

func (c *RiotClient) exchangeEntitlements(ctx context.Context, sess *session, accessToken string) (string, error) {
	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	body, err := c.send(ctx, sess, fasthttp.MethodPost, c.endpoints.Entitlements, headers, struct{}{})
	if err != nil {
		return "", err
	}

	var resp entitlementsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: entitlements response is not JSON: %v", domain.ErrProtocol, err)
	}
	if resp.EntitlementsToken == "" {
		return "", fmt.Errorf("%w: entitlements response has no entitlements_token", domain.ErrProtocol)
	}
	return resp.EntitlementsToken, nil
}

func (c *RiotClient) AuthorizedGet(ctx context.Context, ep Endpoint, path string, query url.Values, scope Scope) ([]byte, error) {
	return c.authorized(ctx, fasthttp.MethodGet, ep, path, query, nil, scope)
}

func (c *RiotClient) AuthorizedPost(ctx context.Context, ep Endpoint, path string, body any, scope Scope) ([]byte, error) {
	return c.authorized(ctx, fasthttp.MethodPost, ep, path, nil, body, scope)
}

// authorized holds the refresh lock only inside EnsureFresh, never while the
// request is in flight.
func (c *RiotClient) authorized(ctx context.Context, method string, ep Endpoint, path string, query url.Values, body any, scope Scope) ([]byte, error) {
	if err := c.EnsureFresh(ctx, false); err != nil {
		return nil, err
	}

	base, err := c.endpoints.Base(ep, c.region)
	if err != nil {
		return nil, err
	}
	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	c.mu.RLock()
	tokens, sess := c.tokens, c.sess
	c.mu.RUnlock()

	headers := map[string]string{"Authorization": "Bearer " + tokens.AccessToken}
	if scope == ScopeFull {
		headers[headerEntitlements] = tokens.EntitlementsToken
		headers[headerClientPlatform] = clientPlatform
	}
	return c.send(ctx, sess, method, target, headers, body)
}

func (c *RiotClient) send(ctx context.Context, sess *session, method, target string, headers map[string]string, body any) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(target)
	req.Header.SetMethod(method)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	if err := sess.do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrTransport, method, target, err)
	}

	data := append([]byte(nil), resp.Body()...)
	if status := resp.StatusCode(); status < 200 || status > 299 {
		c.logger.Debug().Str("method", method).Str("url", target).Int("status", status).Msg("unexpected status")
		return data, &domain.StatusError{Method: method, URL: target, Status: status, Body: excerpt(data)}
	}
	return data, nil
}

type UserInfo struct {
	Sub  string `json:"sub"`
	Acct struct {
		GameName string `json:"game_name"`
		TagLine  string `json:"tag_line"`
	} `json:"acct"`

	Raw json.RawMessage `json:"-"`
}

func (u *UserInfo) Handle() string {
	return domain.JoinHandle(u.Acct.GameName, u.Acct.TagLine)
}

func (c *RiotClient) UserInfo(ctx context.Context) (*UserInfo, error) {
	data, err := c.AuthorizedPost(ctx, EndpointAuth, "/userinfo", nil, ScopeAuthorization)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}

	var info UserInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: userinfo is not JSON: %v", domain.ErrProtocol, err)
	}
	info.Raw = data
	return &info, nil
}

// PlayerID is the subject of the current access token, the account's puuid.
func (c *RiotClient) PlayerID(ctx context.Context) (string, error) {
	if err := c.EnsureFresh(ctx, false); err != nil {
		return "", err
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.Tokens().AccessToken, claims); err != nil {
		return "", fmt.Errorf("%w: access token is not a JWT: %v", domain.ErrProtocol, err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: access token has no subject", domain.ErrProtocol)
	}
	return sub, nil
}

type CompetitiveUpdates struct {
	Version   int64                `json:"Version"`
	Subject   string               `json:"Subject"`
	Matches   []domain.MatchRecord `json:"Matches"`
	ErrorCode string               `json:"errorCode"`
	Message   string               `json:"message"`
}

func (c *RiotClient) RawCompetitiveUpdates(ctx context.Context, puuid string, start, end int) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("startIndex", strconv.Itoa(start))
	query.Set("endIndex", strconv.Itoa(end))

	path := "/mmr/v1/players/" + url.PathEscape(puuid) + "/competitiveupdates"
	data, err := c.AuthorizedGet(ctx, EndpointPlayerData, path, query, ScopeFull)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch competitive updates %d->%d: %w", start, end, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: competitive updates %d->%d is not JSON", domain.ErrProtocol, start, end)
	}

	c.metrics.MMRPages.WithLabelValues(c.region.String()).Inc()
	return data, nil
}

func (c *RiotClient) CompetitiveUpdates(ctx context.Context, puuid string, start, end int) (*CompetitiveUpdates, error) {
	raw, err := c.RawCompetitiveUpdates(ctx, puuid, start, end)
	if err != nil {
		return nil, err
	}

	var page CompetitiveUpdates
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("%w: competitive updates %d->%d: %v", domain.ErrProtocol, start, end, err)
	}
	if page.ErrorCode != "" {
		return nil, fmt.Errorf("%w: competitive updates %d->%d returned %s: %s", domain.ErrProtocol, start, end, page.ErrorCode, page.Message)
	}
	if page.Matches == nil {
		return nil, fmt.Errorf("%w: competitive updates %d->%d has no Matches key", domain.ErrProtocol, start, end)
	}
	return &page, nil
}

func orUnspecified(s string) string {
	if s == "" {
		return "(unspecified)"
	}
	return s
}
