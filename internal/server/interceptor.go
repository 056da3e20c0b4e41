package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"connectrpc.com/connect"
)

var errAdminToken = errors.New("a valid admin bearer token is required")

// NewAdminInterceptor guards the given procedures with a static bearer token. An
// empty token leaves everything open.
func NewAdminInterceptor(token string, procedures ...string) connect.UnaryInterceptorFunc {
	guarded := make(map[string]struct{}, len(procedures))
	for _, p := range procedures {
		guarded[p] = struct{}{}
	}

	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if token == "" {
				return next(ctx, req)
			}
			if _, ok := guarded[req.Spec().Procedure]; !ok {
				return next(ctx, req)
			}

			got, ok := strings.CutPrefix(req.Header().Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return nil, connect.NewError(connect.CodeUnauthenticated, errAdminToken)
			}
			return next(ctx, req)
		}
	}
}
