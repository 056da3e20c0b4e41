package api

import (
	"context"
	"sync"
	"time"
	"valorant-rank/internal/constants"

	"github.com/valyala/fasthttp"
)

func newFastHTTPClient() *fasthttp.Client {
	return &fasthttp.Client{
		Name:                constants.UserAgent,
		MaxConnsPerHost:     constants.HTTPMaxConnsPerHost,
		ReadTimeout:         constants.HTTPReadTimeout,
		WriteTimeout:        constants.HTTPWriteTimeout,
		MaxIdleConnDuration: constants.HTTPMaxIdleConnDuration,
	}
}

// session is one transport session: a connection pool plus the cookies the auth
// host hands out between the authorize and credentials steps.
type session struct {
	client *fasthttp.Client

	mu      sync.Mutex
	cookies map[string]map[string]string // host -> name -> value
}

func newSession() *session {
	return &session{
		client:  newFastHTTPClient(),
		cookies: make(map[string]map[string]string),
	}
}

func (s *session) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	host := string(req.URI().Host())

	s.mu.Lock()
	for name, value := range s.cookies[host] {
		req.Header.SetCookie(name, value)
	}
	s.mu.Unlock()

	if err := doWithContext(ctx, s.client, req, resp); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	resp.Header.VisitAllCookie(func(_, value []byte) {
		c := fasthttp.AcquireCookie()
		defer fasthttp.ReleaseCookie(c)
		if err := c.ParseBytes(value); err != nil {
			return
		}
		jar, ok := s.cookies[host]
		if !ok {
			jar = make(map[string]string)
			s.cookies[host] = jar
		}
		expired := !c.Expire().IsZero() && c.Expire().Before(time.Now())
		if len(c.Value()) == 0 || expired {
			delete(jar, string(c.Key()))
			return
		}
		jar[string(c.Key())] = string(c.Value())
	})
	return nil
}

func (s *session) close() {
	s.client.CloseIdleConnections()
}

func doWithContext(ctx context.Context, client *fasthttp.Client, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(constants.ExternalAPITimeout)
	}
	return client.DoDeadline(req, resp, deadline)
}

func excerpt(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
