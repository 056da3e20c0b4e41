package domain

import (
	"fmt"
	"strings"
	"time"
)

type Region string

const (
	RegionNA Region = "na" // North America
	RegionEU Region = "eu" // Europe
	RegionAP Region = "ap" // Asia Pacific
	RegionKO Region = "ko" // Korea
)

var Regions = []Region{RegionNA, RegionEU, RegionAP, RegionKO}

func ParseRegion(s string) (Region, error) {
	r := Region(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown region %q", ErrInvalidArgument, s)
	}
	return r, nil
}

func (r Region) Valid() bool {
	switch r {
	case RegionNA, RegionEU, RegionAP, RegionKO:
		return true
	}
	return false
}

func (r Region) String() string {
	return string(r)
}

type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}

// TokenSet is replaced whole on every login; a zero TokenSet means unauthenticated.
type TokenSet struct {
	AccessToken       string
	IDToken           string
	EntitlementsToken string
	ExpiresAt         time.Time
}

func (t TokenSet) Complete() bool {
	return t.AccessToken != "" && t.IDToken != "" && t.EntitlementsToken != "" && !t.ExpiresAt.IsZero()
}

func (t TokenSet) IsZero() bool {
	return t.AccessToken == "" && t.IDToken == "" && t.EntitlementsToken == "" && t.ExpiresAt.IsZero()
}

func (t TokenSet) Valid(now time.Time) bool {
	return t.Complete() && !now.After(t.ExpiresAt)
}

// MatchRecord is one entry of a competitive-updates feed.
type MatchRecord struct {
	MatchID                  string `json:"MatchID"`
	MapID                    string `json:"MapID"`
	SeasonID                 string `json:"SeasonID"`
	MatchStartTime           int64  `json:"MatchStartTime"`
	TierAfterUpdate          int    `json:"TierAfterUpdate"`
	TierBeforeUpdate         int    `json:"TierBeforeUpdate"`
	RankedRatingAfterUpdate  int    `json:"RankedRatingAfterUpdate"`
	RankedRatingBeforeUpdate int    `json:"RankedRatingBeforeUpdate"`
	RankedRatingEarned       int    `json:"RankedRatingEarned"`
}

// Unrated records carry no rank signal.
func (m MatchRecord) Unrated() bool {
	return m.TierBeforeUpdate == 0 && m.TierAfterUpdate == 0 &&
		m.RankedRatingBeforeUpdate == 0 && m.RankedRatingAfterUpdate == 0
}

func (m MatchRecord) StartedAt() time.Time {
	return time.UnixMilli(m.MatchStartTime).UTC()
}

type Rank struct {
	Tier           int
	RankedRating   int
	MatchStartTime time.Time
	MatchID        string
}

type Registration struct {
	Handle   string
	Region   Region
	PlayerID string
}

type Account struct {
	PlayerID string
	Name     string
	Tag      string
	Region   Region
}

// Handle is the public "name#tag" form of a player's identity.
func JoinHandle(name, tag string) string {
	return name + "#" + tag
}

func SplitHandle(handle string) (string, string, error) {
	if strings.Count(handle, "#") != 1 {
		return "", "", fmt.Errorf("%w: handle %q must have exactly one #", ErrInvalidArgument, handle)
	}
	name, tag, _ := strings.Cut(handle, "#")
	if name == "" || tag == "" {
		return "", "", fmt.Errorf("%w: handle %q needs both a name and a tag", ErrInvalidArgument, handle)
	}
	return name, tag, nil
}
