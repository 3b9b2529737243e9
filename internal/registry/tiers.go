package registry

// Currency codes used for tier pricing.
type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyEUR Currency = "eur"
	CurrencyBRL Currency = "brl"
)

// TierID identifies a resource tier. Using the typed constants with Tier
// is a checked lookup; arbitrary strings go through LookupTier.
type TierID string

const (
	TierSmall  TierID = "dev.small"
	TierMedium TierID = "dev.medium"
	TierLarge  TierID = "dev.large"
	TierXLarge TierID = "dev.xlarge"
)

// DefaultTier is used when neither template nor caller picks one.
const DefaultTier = TierSmall

// ResourceTier is a named bundle of cpu/memory/storage with its advertised
// monthly price per currency. Entries are immutable.
type ResourceTier struct {
	ID           TierID
	Name         string
	CPUCores     float64
	MemoryGB     float64
	StorageGB    int
	MonthlyPrice map[Currency]float64
}

// ResourceLimit is the hard ceiling enforced by validation for a tier.
// Deliberately stricter than the advertised tier values: the advertised
// numbers are what the user buys, the ceiling is what a spec may request
// before provisioning refuses it.
type ResourceLimit struct {
	MaxCPUCores float64
	MaxMemoryGB float64
}

var tiers = map[TierID]ResourceTier{
	TierSmall: {
		ID:        TierSmall,
		Name:      "Small",
		CPUCores:  1,
		MemoryGB:  2,
		StorageGB: 10,
		MonthlyPrice: map[Currency]float64{
			CurrencyUSD: 12,
			CurrencyEUR: 11,
			CurrencyBRL: 59,
		},
	},
	TierMedium: {
		ID:        TierMedium,
		Name:      "Medium",
		CPUCores:  2,
		MemoryGB:  4,
		StorageGB: 20,
		MonthlyPrice: map[Currency]float64{
			CurrencyUSD: 24,
			CurrencyEUR: 22,
			CurrencyBRL: 119,
		},
	},
	TierLarge: {
		ID:        TierLarge,
		Name:      "Large",
		CPUCores:  4,
		MemoryGB:  8,
		StorageGB: 40,
		MonthlyPrice: map[Currency]float64{
			CurrencyUSD: 48,
			CurrencyEUR: 44,
			CurrencyBRL: 239,
		},
	},
	TierXLarge: {
		ID:        TierXLarge,
		Name:      "XLarge",
		CPUCores:  8,
		MemoryGB:  16,
		StorageGB: 80,
		MonthlyPrice: map[Currency]float64{
			CurrencyUSD: 96,
			CurrencyEUR: 88,
			CurrencyBRL: 479,
		},
	},
}

var tierLimits = map[TierID]ResourceLimit{
	TierSmall:  {MaxCPUCores: 1, MaxMemoryGB: 2},
	TierMedium: {MaxCPUCores: 2, MaxMemoryGB: 4},
	TierLarge:  {MaxCPUCores: 4, MaxMemoryGB: 8},
	TierXLarge: {MaxCPUCores: 8, MaxMemoryGB: 16},
}

// Tier returns the tier for a known id.
func Tier(id TierID) ResourceTier {
	return tiers[id]
}

// LookupTier resolves an arbitrary string, typically user input. A false
// result is an input validation failure, not a system fault.
func LookupTier(id string) (ResourceTier, bool) {
	t, ok := tiers[TierID(id)]
	return t, ok
}

// TierLimit returns the hard resource ceiling for a known tier.
func TierLimit(id TierID) ResourceLimit {
	return tierLimits[id]
}

// LookupTierLimit resolves a ceiling from an arbitrary tier string.
func LookupTierLimit(id string) (ResourceLimit, bool) {
	l, ok := tierLimits[TierID(id)]
	return l, ok
}

// Tiers lists all known tiers. Order is not significant.
func Tiers() []ResourceTier {
	out := make([]ResourceTier, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, t)
	}
	return out
}
