package domain

import "errors"

var (
	// ErrInvalidInput marks malformed transaction fields. Most malformed
	// fields are recovered locally by substituting documented defaults;
	// this error surfaces only for requests that cannot be scored at all.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProviderUnavailable means a mandatory model provider call
	// (anomaly, classifier or explainer) failed. Fatal for the scoring
	// call; never retried by the pipeline.
	ErrProviderUnavailable = errors.New("model provider unavailable")

	// ErrProviderDegraded means an optional provider (the graph model)
	// failed. The signal is zero-weighted and scoring continues.
	ErrProviderDegraded = errors.New("model provider degraded")

	// ErrPersistence means a profile load or save against the durable
	// store failed. After an update the in-memory profile keeps the
	// increment, so retrying the save can succeed without losing state.
	ErrPersistence = errors.New("profile persistence failed")

	// ErrStatisticalTest marks a numerical failure inside the drift
	// tests. It never escapes the drift monitor; the affected signal
	// falls back to a neutral result.
	ErrStatisticalTest = errors.New("statistical test failed")
)
