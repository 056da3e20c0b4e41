package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means the remote service rejected the account's credentials.
	ErrAuthentication = errors.New("authentication rejected")

	// ErrProtocol means a well-formed HTTP response was missing or had malformed
	// required fields. Usually the remote API changed shape.
	ErrProtocol = errors.New("unexpected response shape")

	// ErrTransport covers network failures and non-success HTTP statuses.
	ErrTransport = errors.New("transport failure")

	// ErrDataIntegrity means returned data contradicts the request.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrNoData means the player has no match history at the probed depth.
	ErrNoData = errors.New("no match history")

	ErrRateLimited   = errors.New("rate limited")
	ErrResolution    = errors.New("handle resolution failed")
	ErrConfiguration = errors.New("configuration error")

	ErrInvalidArgument = errors.New("invalid argument")
)

type AuthError struct {
	Region       Region
	Code         string
	ResponseType string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login rejected for region %s: got error %s for response type %s", e.Region, e.Code, e.ResponseType)
}

func (e *AuthError) Unwrap() error { return ErrAuthentication }

type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrTransport }

// RateLimitedError carries what a person needs to register the handle by hand.
type RateLimitedError struct {
	Name      string
	Tag       string
	LookupURL string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited while resolving %s", JoinHandle(e.Name, e.Tag))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

type ResolutionError struct {
	Name    string
	Tag     string
	Status  int
	Message string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving %s: status %d: %s", JoinHandle(e.Name, e.Tag), e.Status, e.Message)
}

func (e *ResolutionError) Unwrap() error { return ErrResolution }
