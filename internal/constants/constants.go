package constants

import "time"

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
)

const (
	DBMaxOpenConns    = 1
	DBMaxIdleConns    = 1
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	HTTPMaxConnsPerHost     = 100
	HTTPReadTimeout         = 10 * time.Second
	HTTPWriteTimeout        = 10 * time.Second
	HTTPMaxIdleConnDuration = 1 * time.Minute
	UserAgent               = "valorant-rank/1.0"
)

// Page sizes for the competitive-updates scan: small first, larger if nothing rated.
var MatchHistoryWindows = []int{5, 10, 20, 20}

const (
	RegistrationsRedisKey = "valorant:registrations"
)
