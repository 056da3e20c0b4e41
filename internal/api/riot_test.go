package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"valorant-rank/internal/api"
	"valorant-rank/internal/domain"
	"valorant-rank/internal/metrics"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPUUID = "4e4e3f38-0a5c-4b3c-9c0e-6a1f3a0d7a11"

// fakeRiot plays the auth, entitlements and pd hosts on one test server.
type fakeRiot struct {
	t     *testing.T
	puuid string

	// credentials step behaviour
	authError string
	fragment  url.Values
	blockPut  chan struct{}

	puts       atomic.Int32
	cookieSeen atomic.Bool

	mu      sync.Mutex
	pages   map[string]string
	queries []url.Values
}

func newFakeRiot(t *testing.T) *fakeRiot {
	return &fakeRiot{t: t, puuid: testPUUID, pages: map[string]string{}}
}

func (f *fakeRiot) accessToken() string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": f.puuid}).SignedString([]byte("test"))
	require.NoError(f.t, err)
	return token
}

func (f *fakeRiot) start() (*httptest.Server, api.Endpoints) {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/authorization", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "asid", Value: "session-cookie", Path: "/"})
		_, _ = w.Write([]byte(`{"type":"auth"}`))
	})

	mux.HandleFunc("PUT /api/v1/authorization", func(w http.ResponseWriter, r *http.Request) {
		n := f.puts.Add(1)
		if c, err := r.Cookie("asid"); err == nil && c.Value == "session-cookie" {
			f.cookieSeen.Store(true)
		}
		if f.blockPut != nil && n == 1 {
			select {
			case <-f.blockPut:
			case <-r.Context().Done():
				return
			}
		}

		if f.authError != "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"type": "auth", "error": f.authError})
			return
		}

		fragment := f.fragment
		if fragment == nil {
			fragment = url.Values{
				"access_token": {f.accessToken()},
				"id_token":     {"id-token"},
				"expires_in":   {"3600"},
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type": "response",
			"response": map[string]any{
				"mode": "fragment",
				"parameters": map[string]any{
					"uri": "https://playvalorant.com/opt_in#" + fragment.Encode(),
				},
			},
		})
	})

	mux.HandleFunc("POST /entitlements", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.accessToken() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"entitlements_token":"entitlements"}`))
	})

	mux.HandleFunc("POST /userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.accessToken() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":  f.puuid,
			"acct": map[string]any{"game_name": "abc", "tag_line": "NA1"},
		})
	})

	mux.HandleFunc("GET /mmr/v1/players/{puuid}/competitiveupdates", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Riot-Entitlements-JWT") != "entitlements" || r.Header.Get("X-Riot-ClientPlatform") == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		q := r.URL.Query()
		f.mu.Lock()
		f.queries = append(f.queries, q)
		body, ok := f.pages[q.Get("startIndex")+"-"+q.Get("endIndex")]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errorCode":"RESOURCE_NOT_FOUND"}`))
			return
		}
		_, _ = w.Write([]byte(body))
	})

	srv := httptest.NewServer(mux)
	f.t.Cleanup(srv.Close)

	return srv, api.Endpoints{
		Auth:         srv.URL,
		Entitlements: srv.URL + "/entitlements",
		PlayerData:   srv.URL,
		Shared:       srv.URL,
	}
}

func newClient(endpoints api.Endpoints, opts ...api.Option) *api.RiotClient {
	c, _ := newClientWithMetrics(endpoints, opts...)
	return c
}

func newClientWithMetrics(endpoints api.Endpoints, opts ...api.Option) (*api.RiotClient, *metrics.Metrics) {
	creds := domain.Credentials{Username: "svc", Password: "hunter2"}
	m := metrics.New()
	return api.NewRiotClient(domain.RegionNA, creds, endpoints, zerolog.Nop(), m, opts...), m
}

func TestEnsureFresh_ConcurrentCallersLoginOnce(t *testing.T) {
	fake := newFakeRiot(t)
	_, endpoints := fake.start()
	client := newClient(endpoints)
	defer client.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- client.EnsureFresh(context.Background(), false)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), fake.puts.Load())

	tokens := client.Tokens()
	assert.True(t, tokens.Complete())
	assert.Equal(t, "entitlements", tokens.EntitlementsToken)
	assert.Equal(t, "id-token", tokens.IDToken)
}

func TestEnsureFresh_ReadersNeverSeePartialTokens(t *testing.T) {
	fake := newFakeRiot(t)
	_, endpoints := fake.start()
	client, m := newClientWithMetrics(endpoints)
	defer client.Close()

	stop := make(chan struct{})
	var readers sync.WaitGroup
	var partial atomic.Int32
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				tokens := client.Tokens()
				if !tokens.IsZero() && !tokens.Complete() {
					partial.Add(1)
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for i := 0; i < 4; i++ {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for j := 0; j < 3; j++ {
				assert.NoError(t, client.EnsureFresh(context.Background(), true))
			}
		}()
	}
	writers.Wait()
	close(stop)
	readers.Wait()

	assert.Zero(t, partial.Load())
	assert.Equal(t, int32(12), fake.puts.Load())
	assert.Equal(t, float64(12), testutil.ToFloat64(m.Logins.WithLabelValues("na", "success")))
}

func TestEnsureFresh_ForceAlwaysLogsIn(t *testing.T) {
	fake := newFakeRiot(t)
	_, endpoints := fake.start()
	client := newClient(endpoints)
	defer client.Close()

	require.NoError(t, client.EnsureFresh(context.Background(), true))
	require.NoError(t, client.EnsureFresh(context.Background(), true))
	require.NoError(t, client.EnsureFresh(context.Background(), false))

	assert.Equal(t, int32(2), fake.puts.Load())
}

func TestEnsureFresh_ExpiredTokensTriggerLogin(t *testing.T) {
	fake := newFakeRiot(t)
	_, endpoints := fake.start()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	client := newClient(endpoints, api.WithClock(func() time.Time { return now }))
	defer client.Close()

	require.NoError(t, client.EnsureFresh(context.Background(), false))
	assert.Equal(t, now.Add(time.Hour), client.Tokens().ExpiresAt)

	// exactly at expiry the set is still valid
	now = now.Add(time.Hour)
	require.NoError(t, client.EnsureFresh(context.Background(), false))
	assert.Equal(t, int32(1), fake.puts.Load())

	now = now.Add(time.Second)
	require.NoError(t, client.EnsureFresh(context.Background(), false))
	assert.Equal(t, int32(2), fake.puts.Load())
}

func TestEnsureFresh_ReplaysSessionCookies(t *testing.T) {
	fake := newFakeRiot(t)
	_, endpoints := fake.start()
	client := newClient(endpoints)
	defer client.Close()

	require.NoError(t, client.EnsureFresh(context.Background(), false))
	assert.True(t, fake.cookieSeen.Load())
}

func TestEnsureFresh_AuthErrorLeavesTokensEmpty(t *testing.T) {
	fake := newFakeRiot(t)
	fake.authError = "auth_failure"
	_, endpoints := fake.start()
	client := newClient(endpoints)
	defer client.Close()

	err := client.EnsureFresh(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "auth_failure", authErr.Code)
	assert.Equal(t, "auth", authErr.ResponseType)
	assert.Equal(t, domain.RegionNA, authErr.Region)

	assert.True(t, client.Tokens().IsZero())
}

func TestEnsureFresh_FailedLoginIsCounted(t *testing.T) {
	fake := newFakeRiot(t)
	fake.authError = "rate_limited"
	_, endpoints := fake.start()
	client, m := newClientWithMetrics(endpoints)
	defer client.Close()

	assert.ErrorIs(t, client.EnsureFresh(context.Background(), false), domain.ErrAuthentication)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Logins.WithLabelValues("na", "failure")))
}

func TestEnsureFresh_MalformedFragment(t *testing.T) {
	tests := []struct {
		name     string
		fragment url.Values
	}{
		{
			name:     "missing expires_in",
			fragment: url.Values{"access_token": {"a"}, "id_token": {"i"}},
		},
		{
			name:     "duplicate access_token",
			fragment: url.Values{"access_token": {"a", "b"}, "id_token": {"i"}, "expires_in": {"3600"}},
		},
		{
			name:     "non numeric expires_in",
			fragment: url.Values{"access_token": {"a"}, "id_token": {"i"}, "expires_in": {"soon"}},
		},
		{
			name:     "zero expires_in",
			fragment: url.Values{"access_token": {"a"}, "id_token": {"i"}, "expires_in": {"0"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeRiot(t)
			fake.fragment = tt.fragment
			_, endpoints := fake.start()
			client := newClient(endpoints)
			defer client.Close()

			err := client.EnsureFresh(context.Background(), false)
			assert.ErrorIs(t, err, domain.ErrProtocol)
			assert.True(t, client.Tokens().IsZero())
		})
	}
}

func TestEnsureFresh_CancelledLoginReleasesLock(t *testing.T) {
	fake := newFakeRiot(t)
	fake.blockPut = make(chan struct{})
	_, endpoints := fake.start()
	t.Cleanup(func() { close(fake.blockPut) })

	client := newClient(endpoints)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.Error(t, client.EnsureFresh(ctx, false))
	assert.True(t, client.Tokens().IsZero())

	// the blocked PUT only blocks the first attempt
	require.NoError(t, client.EnsureFresh(context.Background(), false))
	assert.True(t, client.Tokens().Complete())
}

func TestEnsureFresh_WaiterGivesUpWhileLoginRuns(t *testing.T) {
	fake := newFakeRiot(t)
	fake.blockPut = make(chan struct{})
	_, endpoints := fake.start()

	client := newClient(endpoints)
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- client.EnsureFresh(context.Background(), false) }()
	require.Eventually(t, func() bool { return fake.puts.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.EnsureFresh(ctx, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(fake.blockPut)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), fake.puts.Load())
}

func TestUserInfoAndPlayerID(t *testing.T) {
	fake := newFakeRiot(t)
	_, endpoints := fake.start()
	client := newClient(endpoints)
	defer client.Close()

	info, err := client.UserInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc#NA1", info.Handle())
	assert.Equal(t, testPUUID, info.Sub)
	assert.JSONEq(t, `{"sub":"`+testPUUID+`","acct":{"game_name":"abc","tag_line":"NA1"}}`, string(info.Raw))

	puuid, err := client.PlayerID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testPUUID, puuid)
	assert.Equal(t, int32(1), fake.puts.Load())
}

func TestCompetitiveUpdates(t *testing.T) {
	fake := newFakeRiot(t)
	fake.pages["0-5"] = `{"Version":1,"Subject":"` + testPUUID + `","Matches":[{"MatchID":"m1","MatchStartTime":1714564800000,"TierAfterUpdate":12,"RankedRatingAfterUpdate":34}]}`
	fake.pages["5-10"] = `{"Version":1,"Subject":"` + testPUUID + `"}`
	_, endpoints := fake.start()
	client := newClient(endpoints)
	defer client.Close()

	page, err := client.CompetitiveUpdates(context.Background(), testPUUID, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, testPUUID, page.Subject)
	require.Len(t, page.Matches, 1)
	assert.Equal(t, 12, page.Matches[0].TierAfterUpdate)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), page.Matches[0].StartedAt())

	fake.mu.Lock()
	assert.Equal(t, "0", fake.queries[0].Get("startIndex"))
	assert.Equal(t, "5", fake.queries[0].Get("endIndex"))
	fake.mu.Unlock()

	_, err = client.CompetitiveUpdates(context.Background(), testPUUID, 5, 10)
	assert.ErrorIs(t, err, domain.ErrProtocol)

	_, err = client.CompetitiveUpdates(context.Background(), testPUUID, 10, 20)
	assert.ErrorIs(t, err, domain.ErrTransport)
	var statusErr *domain.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
}

func TestEndpointsBase(t *testing.T) {
	e := api.DefaultEndpoints()

	base, err := e.Base(api.EndpointPlayerData, domain.RegionEU)
	require.NoError(t, err)
	assert.Equal(t, "https://pd.eu.a.pvp.net", base)

	base, err = e.Base(api.EndpointShared, domain.RegionKO)
	require.NoError(t, err)
	assert.Equal(t, "https://shared.ko.a.pvp.net", base)

	_, err = e.Base(api.Endpoint(42), domain.RegionNA)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
