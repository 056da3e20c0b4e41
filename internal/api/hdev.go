package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"
	"valorant-rank/internal/config"
	"valorant-rank/internal/domain"
	"valorant-rank/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

// HDevClient resolves public handles through https://github.com/Henrik-4/unofficial-valorant-api.
// It is unauthenticated towards Riot and keeps no state between calls besides
// the rate-limit bookkeeping.
type HDevClient struct {
	apiKey  string
	baseURL string
	client  *fasthttp.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
	metrics *metrics.Metrics

	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

type RateLimitInfo struct {
	Bucket    string `json:"bucket"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`

	// seconds until reset
	Reset int `json:"reset"`

	UpdatedAt time.Time `json:"updated_at"`
}

func NewHDevClient(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) *HDevClient {
	limit := rate.Inf
	if cfg.ResolverRequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.ResolverRequestsPerMinute))
	}

	return &HDevClient{
		apiKey:  cfg.HDevAPIKey,
		baseURL: cfg.HDevBaseURL,
		client:  newFastHTTPClient(),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "hdev").Logger(),
		metrics: m,
	}
}

func (c *HDevClient) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *HDevClient) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if bucket := string(resp.Header.Peek("X-Ratelimit-Bucket")); bucket != "" {
		c.rateLimit.Bucket = bucket
	}
	if limit := string(resp.Header.Peek("X-Ratelimit-Limit")); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			c.rateLimit.Limit = val
		}
	}
	if remaining := string(resp.Header.Peek("X-Ratelimit-Remaining")); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = val
		}
	}
	if reset := string(resp.Header.Peek("X-Ratelimit-Reset")); reset != "" {
		if val, err := strconv.Atoi(reset); err == nil {
			c.rateLimit.Reset = val
		}
	}
	c.rateLimit.UpdatedAt = time.Now()
}

// AccountURL is also handed to people as the manual fallback when resolution is
// rate limited.
func (c *HDevClient) AccountURL(name, tag string) string {
	return fmt.Sprintf("%s/valorant/v1/account/%s/%s", c.baseURL, url.PathEscape(name), url.PathEscape(tag))
}

func (c *HDevClient) Resolve(ctx context.Context, name, tag string) (*domain.Account, error) {
	account, outcome, err := c.resolve(ctx, name, tag)
	c.metrics.ResolverRequests.WithLabelValues(outcome).Inc()
	if err != nil {
		c.logger.Warn().Err(err).Str("name", name).Str("tag", tag).Str("outcome", outcome).Msg("failed to resolve handle")
		return nil, err
	}
	c.logger.Info().Str("name", name).Str("tag", tag).Str("puuid", account.PlayerID).Msg("handle resolved")
	return account, nil
}

func (c *HDevClient) resolve(ctx context.Context, name, tag string) (*domain.Account, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "canceled", fmt.Errorf("waiting for resolver rate limit: %w", err)
	}

	lookupURL := c.AccountURL(name, tag)
	status, body, err := c.get(ctx, lookupURL)
	if err != nil {
		return nil, "transport", err
	}

	rateLimited := &domain.RateLimitedError{Name: name, Tag: tag, LookupURL: lookupURL}

	var envelope accountEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		switch {
		case status == fasthttp.StatusTooManyRequests:
			return nil, "rate_limited", rateLimited
		case status != fasthttp.StatusOK:
			return nil, "transport", &domain.StatusError{Method: fasthttp.MethodGet, URL: lookupURL, Status: status, Body: excerpt(body)}
		}
		return nil, "protocol", fmt.Errorf("%w: account response is not JSON: %v", domain.ErrProtocol, err)
	}

	code, err := envelope.Status.code(status)
	if err != nil {
		return nil, "protocol", err
	}
	switch {
	case code == fasthttp.StatusTooManyRequests:
		return nil, "rate_limited", rateLimited
	case code != fasthttp.StatusOK:
		return nil, "error", &domain.ResolutionError{Name: name, Tag: tag, Status: code, Message: envelope.message()}
	}

	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, "protocol", fmt.Errorf("%w: account response has no data", domain.ErrProtocol)
	}
	var data map[string]any
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, "protocol", fmt.Errorf("%w: account data is not an object: %v", domain.ErrProtocol, err)
	}
	puuid, ok := data["puuid"].(string)
	if !ok || puuid == "" {
		return nil, "protocol", fmt.Errorf("%w: account data has no string puuid", domain.ErrProtocol)
	}

	account := &domain.Account{PlayerID: puuid, Name: name, Tag: tag}
	if s, ok := data["name"].(string); ok && s != "" {
		account.Name = s
	}
	if s, ok := data["tag"].(string); ok && s != "" {
		account.Tag = s
	}
	if s, ok := data["region"].(string); ok {
		if region, err := domain.ParseRegion(s); err == nil {
			account.Region = region
		}
	}
	return account, "success", nil
}

func (c *HDevClient) get(ctx context.Context, target string) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(target)
	req.Header.SetMethod(fasthttp.MethodGet)
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	if err := doWithContext(ctx, c.client, req, resp); err != nil {
		return 0, nil, fmt.Errorf("%w: GET %s: %w", domain.ErrTransport, target, err)
	}

	c.updateRateLimit(resp)
	return resp.StatusCode(), append([]byte(nil), resp.Body()...), nil
}

type accountEnvelope struct {
	Status  statusCode      `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Errors  []struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"errors"`
}

func (e accountEnvelope) message() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Errors) > 0 {
		return e.Errors[0].Message
	}
	return "(unspecified)"
}

// statusCode accepts both "200" and 200; older API versions send a string.
type statusCode string

func (s *statusCode) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = statusCode(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = statusCode(n.String())
	return nil
}

func (s statusCode) code(httpStatus int) (int, error) {
	if s == "" {
		return httpStatus, nil
	}
	n, err := strconv.Atoi(string(s))
	if err != nil {
		return 0, fmt.Errorf("%w: account status %q is not a number", domain.ErrProtocol, string(s))
	}
	return n, nil
}
