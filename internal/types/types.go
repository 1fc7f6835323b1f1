// Package types defines the shared domain model for the phunks mini backend.
package types

import (
	"regexp"
	"strings"
)

// CollectionStats holds the on-chain collection counters.
// PriceETH is the mint cost converted from wei.
type CollectionStats struct {
	TotalSupply int64   `json:"totalSupply"`
	MaxSupply   int64   `json:"maxSupply"`
	PriceETH    float64 `json:"price"`
}

// Attribute is a single metadata trait.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Animated trait marker used by the collection metadata.
const (
	AnimatedTraitType  = "HYPE TYPE"
	AnimatedTraitValue = "HYPED AF (ANIMATED)"
)

// NFT is a resolved token metadata record.
// IsAnimated is always derived from the attribute list via ComputeAnimated,
// never set independently.
type NFT struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Image       string      `json:"image"`
	Description string      `json:"description"`
	Attributes  []Attribute `json:"attributes"`
	IsAnimated  bool        `json:"isAnimated"`
}

// ComputeAnimated reports whether the attribute list carries the animated
// trait marker.
func ComputeAnimated(attrs []Attribute) bool {
	for _, a := range attrs {
		if a.TraitType == AnimatedTraitType && a.Value == AnimatedTraitValue {
			return true
		}
	}
	return false
}

// MintedToken is one unit recorded by the minting ledger. Immutable once
// written; ownership here mirrors the mint, not later on-chain transfers.
type MintedToken struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// FarcasterProfile is the subset of a Farcaster account attached to a
// user record.
type FarcasterProfile struct {
	Username string `json:"username"`
	FID      int64  `json:"fid"`
	PfpURL   string `json:"pfp,omitempty"`
}

// UserRecord is the per-address rewards state. Keyed by lowercased address.
type UserRecord struct {
	LastCheckIn int64             `json:"lastCheckIn"` // epoch ms, 0 = never
	Streak      int               `json:"streak"`
	XP          int64             `json:"xp"`
	Farcaster   *FarcasterProfile `json:"farcaster,omitempty"`
}

// UserSettings holds per-address notification preferences.
type UserSettings struct {
	NewMints bool `json:"newMints"`
	Airdrops bool `json:"airdrops"`
	Updates  bool `json:"updates"`
}

// DefaultSettings returns the settings assumed for addresses that never
// saved any.
func DefaultSettings() UserSettings {
	return UserSettings{NewMints: true, Airdrops: true, Updates: false}
}

// LeaderboardEntry is one row of the global leaderboard.
type LeaderboardEntry struct {
	Address string  `json:"address"`
	Score   float64 `json:"score"`
}

// ServiceError represents a structured error with a stable code.
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

var addressPattern = regexp.MustCompile("^0x[a-fA-F0-9]{40}$")

// ValidAddress checks the 0x-prefixed 40-hex-digit address format.
func ValidAddress(address string) bool {
	return addressPattern.MatchString(address)
}

// NormalizeAddress renders an address in the single consistent case used
// for map and KV keys.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
