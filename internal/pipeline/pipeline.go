// Package pipeline sequences the online scoring path: profile
// snapshot, feature normalization, model provider calls, drift
// ingestion, profile update and score fusion.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/combine"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/drift"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/profile"
)

// scoreCacheTTL bounds how long completed bundles stay retrievable.
const scoreCacheTTL = 15 * time.Minute

// Pipeline is the single entry point for scoring transactions.
type Pipeline struct {
	providers  *Registry
	profiles   *profile.Store
	monitor    *drift.Monitor
	combiner   *combine.Combiner
	normalizer *feature.Normalizer

	// Optional side channels; nil disables them.
	cache domain.Cache
	bus   domain.EventBus
}

// New creates a scoring pipeline. The normalizer must be built from the
// schema the registry's providers declare. cache and bus may be nil.
func New(reg *Registry, profiles *profile.Store, monitor *drift.Monitor, combiner *combine.Combiner, normalizer *feature.Normalizer, cache domain.Cache, bus domain.EventBus) *Pipeline {
	return &Pipeline{
		providers:  reg,
		profiles:   profiles,
		monitor:    monitor,
		combiner:   combiner,
		normalizer: normalizer,
		cache:      cache,
		bus:        bus,
	}
}

// Score runs one transaction through the pipeline and returns its
// score bundle.
//
// A persistence failure does not void the result: the returned bundle
// is complete and the error wraps domain.ErrPersistence, leaving the
// retry decision to the caller. Provider failures for mandatory
// signals (anomaly, classifier, explainer) fail the call with
// domain.ErrProviderUnavailable; a graph failure only degrades that
// signal.
func (p *Pipeline) Score(ctx context.Context, tx *domain.Transaction) (*domain.ScoreBundle, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction is required", domain.ErrInvalidInput)
	}
	if tx.AccountID == "" {
		return nil, fmt.Errorf("%w: account id is required", domain.ErrInvalidInput)
	}
	if tx.Amount < 0 {
		return nil, fmt.Errorf("%w: amount must be non-negative", domain.ErrInvalidInput)
	}

	snap, err := p.profiles.Snapshot(ctx, tx.AccountID)
	if err != nil {
		return nil, err
	}

	fv := p.normalizer.Normalize(tx, snap.Stats())

	set := p.providers.Current()

	anomaly, err := set.Models.AnomalyScore(ctx, fv)
	if err != nil {
		return nil, fmt.Errorf("%w: anomaly score: %v", domain.ErrProviderUnavailable, err)
	}

	classifier, err := set.Models.ClassifierProbability(ctx, fv)
	if err != nil {
		return nil, fmt.Errorf("%w: classifier probability: %v", domain.ErrProviderUnavailable, err)
	}

	attributions, err := set.Models.Explain(ctx, fv)
	if err != nil {
		return nil, fmt.Errorf("%w: explain: %v", domain.ErrProviderUnavailable, err)
	}
	if len(attributions) != fv.Len() {
		return nil, fmt.Errorf("%w: explain returned %d attributions for %d features", domain.ErrProviderUnavailable, len(attributions), fv.Len())
	}

	var graphProb *float64
	if set.Graph != nil {
		gp, gerr := set.Graph.Probability(ctx, tx)
		if gerr != nil {
			slog.Warn("graph signal degraded",
				"tx_id", tx.ID,
				"error", fmt.Errorf("%w: %v", domain.ErrProviderDegraded, gerr),
			)
		} else {
			graphProb = &gp
		}
	}

	alert := p.monitor.Ingest(fv)
	if alert {
		p.publishDriftAlert(ctx, tx)
	}

	updated, updateErr := p.profiles.Update(ctx, tx.AccountID, tx.Amount, tx.Type, tx.Timestamp)
	if updateErr != nil && !errors.Is(updateErr, domain.ErrPersistence) {
		return nil, updateErr
	}

	bundle := p.combiner.Combine(anomaly, classifier, graphProb, updated.RiskScore, zipAttributions(fv, attributions))
	bundle.ID = uuid.New().String()
	bundle.TxID = tx.ID
	bundle.AccountID = tx.AccountID
	bundle.Timestamp = time.Now().UTC()
	bundle.DriftAlert = alert

	p.publishScore(ctx, &bundle)

	return &bundle, updateErr
}

// publishScore caches the bundle and announces it on the bus. Both are
// best effort; the scoring result does not depend on them.
func (p *Pipeline) publishScore(ctx context.Context, bundle *domain.ScoreBundle) {
	if p.cache != nil {
		if err := p.cache.SetScore(ctx, bundle.ID, bundle, scoreCacheTTL); err != nil {
			slog.Warn("failed to cache score bundle",
				"score_id", bundle.ID,
				"error", err,
			)
		}
	}

	if p.bus != nil {
		payload, _ := json.Marshal(bundle)
		if err := p.bus.Publish(ctx, domain.TopicScoreCompleted, payload); err != nil {
			slog.Warn("failed to publish score event",
				"score_id", bundle.ID,
				"error", err,
			)
		}
	}
}

func (p *Pipeline) publishDriftAlert(ctx context.Context, tx *domain.Transaction) {
	slog.Warn("persistent concept drift detected",
		"tx_id", tx.ID,
	)
	if p.bus == nil {
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"txId":       tx.ID,
		"detectedAt": time.Now().UTC(),
	})
	if err := p.bus.Publish(ctx, domain.TopicDriftAlert, payload); err != nil {
		slog.Warn("failed to publish drift alert",
			"error", err,
		)
	}
}

func zipAttributions(fv domain.FeatureVector, attributions []float64) []domain.FeatureAttribution {
	out := make([]domain.FeatureAttribution, len(attributions))
	for i, a := range attributions {
		out[i] = domain.FeatureAttribution{
			Feature:     fv.Names[i],
			Value:       fv.Values[i],
			Attribution: a,
		}
	}
	return out
}
