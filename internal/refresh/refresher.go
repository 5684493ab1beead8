// Package refresh periodically rebuilds the model provider set and
// swaps it into the scoring path, so retrained models are picked up
// without a restart.
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// LoadFunc builds a fresh provider set, typically by re-resolving model
// artifacts or re-connecting to the model-serving service.
type LoadFunc func(ctx context.Context) (*pipeline.ProviderSet, error)

// Refresher swaps fresh provider sets into a registry on an interval.
// Scoring calls observe either the previous or the new set, never a
// partial one. A refreshed set must declare the same feature schema as
// the active one; mismatching sets are rejected.
type Refresher struct {
	registry *pipeline.Registry
	load     LoadFunc
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a refresher for the given registry.
func New(registry *pipeline.Registry, load LoadFunc, interval time.Duration) *Refresher {
	return &Refresher{
		registry: registry,
		load:     load,
		interval: interval,
	}
}

// Start launches the background refresh loop.
func (r *Refresher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.loop(ctx)

	slog.Info("provider refresher started",
		"interval", r.interval.String(),
	)
}

// Stop terminates the refresh loop and waits for it to exit.
func (r *Refresher) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	slog.Info("provider refresher stopped")
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

// refresh performs one load-and-swap. Failures keep the active set.
func (r *Refresher) refresh(ctx context.Context) {
	set, err := r.load(ctx)
	if err != nil {
		slog.Error("provider refresh failed",
			"error", err,
		)
		return
	}
	if set == nil || set.Models == nil {
		slog.Error("provider refresh returned no models")
		return
	}

	if active := r.registry.Current(); active != nil && active.Models != nil {
		if !sameSchema(active.Models.Schema(), set.Models.Schema()) {
			slog.Error("provider refresh rejected: schema changed",
				"active_features", len(active.Models.Schema()),
				"refreshed_features", len(set.Models.Schema()),
			)
			return
		}
	}

	r.registry.Swap(set)
	slog.Info("provider set refreshed")
}

func sameSchema(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
