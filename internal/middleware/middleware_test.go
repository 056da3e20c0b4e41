package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"valorant-rank/internal/middleware"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	var seenID string
	var hasLogger bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = middleware.GetRequestID(r.Context())
		hasLogger = zerolog.Ctx(r.Context()).GetLevel() != zerolog.Disabled
		w.WriteHeader(http.StatusTeapot)
	})
	handler := middleware.RequestID(zerolog.New(zerolog.NewTestWriter(t)))(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/valorant.v1.RankService/CurrentRank", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, seenID)
	assert.Equal(t, seenID, rec.Header().Get("X-Request-ID"))
	assert.True(t, hasLogger)

	req := httptest.NewRequest(http.MethodPost, "/valorant.v1.RankService/CurrentRank", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seenID)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
