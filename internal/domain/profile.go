package domain

import (
	"math"
	"time"
)

// Default statistics assumed for customers with no history. These feed
// the feature normalizer until real aggregates accumulate.
const (
	DefaultAvgAmount       = 150.0
	DefaultStdAmount       = 75.0
	DefaultMaxAmount       = 1000.0
	DefaultAvgDuration     = 120.0
	DefaultUniqueLocations = 3.0
	DefaultRiskScore       = 0.5
)

// CustomerProfile is the incrementally maintained behavioral summary
// for one customer. It is owned exclusively by the profile store and
// persisted whole, keyed by customer ID.
type CustomerProfile struct {
	CustomerID   string    `json:"customerId"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastActivity time.Time `json:"lastActivity"`

	TxCount     int64   `json:"transactionCount"`
	TotalAmount float64 `json:"totalAmount"`

	// Running aggregates for derived snapshot statistics.
	TotalSquares float64 `json:"totalSquares"`
	MaxAmount    float64 `json:"maxAmount"`

	// Recent inter-arrival gaps in seconds, newest last, bounded by the
	// profile store. Input for frequency-deviation estimators.
	RecentGaps []float64 `json:"recentGaps,omitempty"`

	// Behavior histogram: transaction type -> count.
	Behavior map[string]int64 `json:"behaviorPattern"`

	// RiskScore is bounded to [0.3, 0.9] after the first update.
	RiskScore float64 `json:"riskScore"`

	Flags []string `json:"flags,omitempty"`
}

// ProfileStats are the derived statistics the feature normalizer
// consumes.
type ProfileStats struct {
	AvgAmount       float64
	StdAmount       float64
	MaxAmount       float64
	AvgDuration     float64
	UniqueLocations float64
	RiskScore       float64
}

// DefaultStats returns the statistics assumed for an unseen customer.
func DefaultStats() ProfileStats {
	return ProfileStats{
		AvgAmount:       DefaultAvgAmount,
		StdAmount:       DefaultStdAmount,
		MaxAmount:       DefaultMaxAmount,
		AvgDuration:     DefaultAvgDuration,
		UniqueLocations: DefaultUniqueLocations,
		RiskScore:       DefaultRiskScore,
	}
}

// Stats derives snapshot statistics from the running aggregates.
// Profiles without history fall back to the documented defaults.
// Duration and location statistics are not tracked by profile updates
// and always report their defaults.
func (p *CustomerProfile) Stats() ProfileStats {
	if p == nil || p.TxCount == 0 {
		return DefaultStats()
	}

	stats := DefaultStats()
	stats.RiskScore = p.RiskScore

	avg := p.TotalAmount / float64(p.TxCount)
	stats.AvgAmount = avg

	variance := p.TotalSquares/float64(p.TxCount) - avg*avg
	if variance > 0 {
		stats.StdAmount = math.Sqrt(variance)
	} else {
		stats.StdAmount = 0
	}

	if p.MaxAmount > 0 {
		stats.MaxAmount = p.MaxAmount
	}

	return stats
}

// Clone returns a deep copy of the profile.
func (p *CustomerProfile) Clone() *CustomerProfile {
	if p == nil {
		return nil
	}

	clone := *p

	if p.Behavior != nil {
		clone.Behavior = make(map[string]int64, len(p.Behavior))
		for k, v := range p.Behavior {
			clone.Behavior[k] = v
		}
	}
	if p.RecentGaps != nil {
		clone.RecentGaps = append([]float64(nil), p.RecentGaps...)
	}
	if p.Flags != nil {
		clone.Flags = append([]string(nil), p.Flags...)
	}

	return &clone
}
