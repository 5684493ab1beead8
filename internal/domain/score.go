package domain

import (
	"time"
)

// FeatureVector is a fixed-schema numeric encoding of a transaction
// plus customer context. Field order follows the model provider's
// declared schema and is significant for provider calls. Built fresh
// per transaction; never mutated after creation.
type FeatureVector struct {
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
}

// Value returns the named feature and whether it is present.
func (fv FeatureVector) Value(name string) (float64, bool) {
	for i, n := range fv.Names {
		if n == name {
			return fv.Values[i], true
		}
	}
	return 0, false
}

// Len returns the number of features in the vector.
func (fv FeatureVector) Len() int {
	return len(fv.Values)
}

// FeatureAttribution ties a feature to its value and its numeric
// contribution to the model's prediction.
type FeatureAttribution struct {
	Feature     string  `json:"feature"`
	Value       float64 `json:"value"`
	Attribution float64 `json:"attribution"`
}

// ScoreBundle is the immutable result of scoring one transaction.
type ScoreBundle struct {
	ID        string    `json:"id"`
	TxID      string    `json:"txId,omitempty"`
	AccountID string    `json:"accountId"`
	Timestamp time.Time `json:"timestamp"`

	AnomalyScore          float64  `json:"anomalyScore"`
	ClassifierProbability float64  `json:"classifierProbability"`
	GraphProbability      *float64 `json:"graphProbability,omitempty"`
	CustomerRiskScore     float64  `json:"customerRiskScore"`
	CompositeScore        float64  `json:"compositeScore"`

	// TopFeatures are ranked by descending absolute attribution and
	// truncated to the configured top-k.
	TopFeatures []FeatureAttribution `json:"topFeatures,omitempty"`

	// DriftAlert reports whether this call fired a persistent-drift
	// alert in the monitor.
	DriftAlert bool `json:"driftAlert"`
}
