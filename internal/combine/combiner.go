// Package combine fuses external model signals and the customer risk
// score into one composite decision with ranked attributions.
package combine

import (
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// defaultTopK bounds the ranked attribution list when unset.
const defaultTopK = 5

// Config holds the fusion weights as one configurable strategy.
type Config struct {
	AnomalyWeight    float64
	ClassifierWeight float64
	GraphWeight      float64

	// RiskMultiplier applies the (0.5 + customerRiskScore) factor to
	// the weighted sum.
	RiskMultiplier bool

	TopK int
}

// TwoModelConfig is the minimal deployment: anomaly + classifier with
// equal weight, no graph signal, no risk multiplier.
func TwoModelConfig() Config {
	return Config{AnomalyWeight: 0.5, ClassifierWeight: 0.5, TopK: defaultTopK}
}

// ThreeModelConfig adds the graph signal and the customer-risk
// multiplier.
func ThreeModelConfig() Config {
	return Config{
		AnomalyWeight:    0.4,
		ClassifierWeight: 0.4,
		GraphWeight:      0.2,
		RiskMultiplier:   true,
		TopK:             defaultTopK,
	}
}

// Combiner computes composite scores. Pure computation over
// already-obtained numeric inputs; no retries, no side effects.
type Combiner struct {
	cfg Config
}

// New creates a combiner. A zero TopK falls back to the default.
func New(cfg Config) *Combiner {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	return &Combiner{cfg: cfg}
}

// Combine fuses the model outputs into a score bundle. graphProb is nil
// when the graph signal is absent; its weight then contributes nothing.
func (c *Combiner) Combine(anomaly, classifier float64, graphProb *float64, risk float64, attrs []domain.FeatureAttribution) domain.ScoreBundle {
	graph := 0.0
	if graphProb != nil {
		graph = *graphProb
	}

	composite := c.cfg.AnomalyWeight*anomaly +
		c.cfg.ClassifierWeight*classifier +
		c.cfg.GraphWeight*graph
	if c.cfg.RiskMultiplier {
		composite *= 0.5 + risk
	}

	return domain.ScoreBundle{
		AnomalyScore:          anomaly,
		ClassifierProbability: classifier,
		GraphProbability:      graphProb,
		CustomerRiskScore:     risk,
		CompositeScore:        composite,
		TopFeatures:           RankAttributions(attrs, c.cfg.TopK),
	}
}

// RankAttributions stable-sorts attributions by descending absolute
// attribution (ties keep original feature order) and truncates to topK.
func RankAttributions(attrs []domain.FeatureAttribution, topK int) []domain.FeatureAttribution {
	ranked := append([]domain.FeatureAttribution(nil), attrs...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].Attribution) > math.Abs(ranked[j].Attribution)
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}
