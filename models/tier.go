package models

import "strings"

// Tier is the account-level allowance imposed by the watermark-removal API.
// It caps how many pipelines this client may run at once.
type Tier string

const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

const (
	concurrencyBronze = 3
	concurrencySilver = 20
	concurrencyGold   = 100
)

// ParseTier maps a configured tier name to a Tier, defaulting to bronze.
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silver":
		return TierSilver
	case "gold":
		return TierGold
	default:
		return TierBronze
	}
}

// Concurrency returns the number of pipelines the tier allows in flight.
func (t Tier) Concurrency() int {
	switch t {
	case TierGold:
		return concurrencyGold
	case TierSilver:
		return concurrencySilver
	default:
		return concurrencyBronze
	}
}

func (t Tier) String() string { return string(t) }
