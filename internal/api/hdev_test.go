package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"valorant-rank/internal/api"
	"valorant-rank/internal/config"
	"valorant-rank/internal/domain"
	"valorant-rank/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seenRequest struct {
	mu   sync.Mutex
	path string
	auth string
}

func (s *seenRequest) get() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, s.auth
}

func newHDev(t *testing.T, status int, body string) (*api.HDevClient, *seenRequest) {
	t.Helper()

	seen := &seenRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.mu.Lock()
		seen.path, seen.auth = r.URL.Path, r.Header.Get("Authorization")
		seen.mu.Unlock()
		w.Header().Set("X-Ratelimit-Limit", "30")
		w.Header().Set("X-Ratelimit-Remaining", "29")
		w.Header().Set("X-Ratelimit-Reset", "42")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{HDevBaseURL: srv.URL, HDevAPIKey: "HDEV-key"}
	return api.NewHDevClient(cfg, zerolog.Nop(), metrics.New()), seen
}

func TestResolve_Success(t *testing.T) {
	client, seen := newHDev(t, http.StatusOK,
		`{"status":200,"data":{"puuid":"p-1","region":"eu","account_level":120,"name":"Abc","tag":"EUW"}}`)

	account, err := client.Resolve(context.Background(), "abc", "euw")
	require.NoError(t, err)
	assert.Equal(t, "p-1", account.PlayerID)
	assert.Equal(t, "Abc", account.Name)
	assert.Equal(t, "EUW", account.Tag)
	assert.Equal(t, domain.RegionEU, account.Region)

	path, auth := seen.get()
	assert.Equal(t, "/valorant/v1/account/abc/euw", path)
	assert.Equal(t, "HDEV-key", auth)

	info := client.GetRateLimitInfo()
	assert.Equal(t, 30, info.Limit)
	assert.Equal(t, 29, info.Remaining)
	assert.Equal(t, 42, info.Reset)
}

func TestResolve_StringStatusAndUnknownRegion(t *testing.T) {
	client, _ := newHDev(t, http.StatusOK, `{"status":"200","data":{"puuid":"p-2","region":"br"}}`)

	account, err := client.Resolve(context.Background(), "abc", "br1")
	require.NoError(t, err)
	assert.Equal(t, "p-2", account.PlayerID)
	assert.Equal(t, "abc", account.Name)
	assert.Empty(t, account.Region)
}

func TestResolve_RateLimited(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"envelope status", http.StatusOK, `{"status":429,"errors":[{"message":"slow down"}]}`},
		{"http status without json", http.StatusTooManyRequests, `Too Many Requests`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newHDev(t, tt.status, tt.body)

			_, err := client.Resolve(context.Background(), "a b", "NA1")
			require.ErrorIs(t, err, domain.ErrRateLimited)

			var rl *domain.RateLimitedError
			require.ErrorAs(t, err, &rl)
			assert.Equal(t, "a b", rl.Name)
			assert.Equal(t, "NA1", rl.Tag)
			assert.Equal(t, client.AccountURL("a b", "NA1"), rl.LookupURL)
			assert.Contains(t, rl.LookupURL, "/valorant/v1/account/a%20b/NA1")
		})
	}
}

func TestResolve_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"not found", http.StatusNotFound, `{"status":404,"errors":[{"message":"Account not found"}]}`, domain.ErrResolution},
		{"missing data", http.StatusOK, `{"status":200}`, domain.ErrProtocol},
		{"null data", http.StatusOK, `{"status":200,"data":null}`, domain.ErrProtocol},
		{"data not an object", http.StatusOK, `{"status":200,"data":[1,2]}`, domain.ErrProtocol},
		{"puuid not a string", http.StatusOK, `{"status":200,"data":{"puuid":7}}`, domain.ErrProtocol},
		{"not json", http.StatusOK, `<html>`, domain.ErrProtocol},
		{"gateway error", http.StatusBadGateway, `<html>`, domain.ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newHDev(t, tt.status, tt.body)

			account, err := client.Resolve(context.Background(), "abc", "NA1")
			assert.Nil(t, account)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResolve_NotFoundCarriesMessage(t *testing.T) {
	client, _ := newHDev(t, http.StatusNotFound, `{"status":404,"errors":[{"message":"Account not found"}]}`)

	_, err := client.Resolve(context.Background(), "abc", "NA1")
	var resErr *domain.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, 404, resErr.Status)
	assert.Equal(t, "Account not found", resErr.Message)
}
