package domain

import (
	"context"
)

// ModelProvider is the set of trained-model capabilities the scoring
// pipeline consumes. Implementations are opaque numeric functions over
// a feature vector; Kestrel never inspects model internals.
//
// Anomaly score, classifier probability and attributions are mandatory
// signals: a failed call fails the whole scoring call.
type ModelProvider interface {
	// Schema returns the feature names the models were trained on, in
	// the exact order feature vectors must be emitted. Declared once at
	// startup and stable for the provider's lifetime.
	Schema() []string

	AnomalyScore(ctx context.Context, fv FeatureVector) (float64, error)

	ClassifierProbability(ctx context.Context, fv FeatureVector) (float64, error)

	// Explain returns one attribution per schema feature, aligned with
	// the vector's field order.
	Explain(ctx context.Context, fv FeatureVector) ([]float64, error)
}

// GraphProvider is the optional graph-model signal. A nil provider or a
// failing call degrades the signal to absent; its weight contributes
// nothing to the composite score.
type GraphProvider interface {
	Probability(ctx context.Context, tx *Transaction) (float64, error)
}
