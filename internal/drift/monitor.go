// Package drift detects distribution shift in the stream of feature
// vectors using per-feature Kolmogorov-Smirnov tests combined with a
// robust covariance (minimum covariance determinant) distance.
package drift

import (
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Config holds drift monitor settings.
type Config struct {
	// WindowSize is the number of observations per window.
	WindowSize int

	// PValueThreshold is the per-feature KS significance level below
	// which a feature counts as drifting.
	PValueThreshold float64

	// CovRatioThreshold scales the reference self-distance to form the
	// covariance-shift threshold.
	CovRatioThreshold float64

	// PersistCycles is the number of consecutive drifting batches
	// required before an alert fires.
	PersistCycles int

	// RefreshEvery re-captures the reference window after this many
	// completed test cycles; 0 keeps the first reference forever.
	RefreshEvery int
}

// DefaultConfig returns the reference monitor configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize:        1000,
		PValueThreshold:   0.01,
		CovRatioThreshold: 1.5,
		PersistCycles:     3,
		RefreshEvery:      0,
	}
}

// Status is a snapshot of the monitor state for reporting.
type Status struct {
	Phase         string `json:"phase"` // "filling-reference" or "monitoring"
	WindowSize    int    `json:"windowSize"`
	CurrentFill   int    `json:"currentFill"`
	DriftCount    int    `json:"driftCount"`
	AlertsFired   int64  `json:"alertsFired"`
	DriftDetected bool   `json:"driftDetected"`
}

// Monitor buffers feature vectors into reference and current windows
// and tests each completed current window against the reference.
//
// The monitor observes the global transaction stream and is a single
// shared sequential resource: all ingestion serializes through one
// mutex, since window transitions are not idempotent under
// interleaving.
type Monitor struct {
	mu  sync.Mutex
	cfg Config

	reference [][]float64
	current   [][]float64

	// Reference covariance fit; nil when the reference is degenerate,
	// in which case the covariance signal is neutral (score 0 against
	// threshold 0).
	refFit          *robustCovariance
	refSelfDistance float64

	driftCount  int
	cyclesDone  int
	alertsFired int64
}

// NewMonitor creates a drift monitor. Zero config fields fall back to
// the defaults.
func NewMonitor(cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.PValueThreshold <= 0 {
		cfg.PValueThreshold = def.PValueThreshold
	}
	if cfg.CovRatioThreshold <= 0 {
		cfg.CovRatioThreshold = def.CovRatioThreshold
	}
	if cfg.PersistCycles <= 0 {
		cfg.PersistCycles = def.PersistCycles
	}
	return &Monitor{cfg: cfg}
}

// Ingest adds one feature vector to the monitor and reports whether a
// persistent-drift alert fired on this call. Safe for concurrent use.
func (m *Monitor) Ingest(fv domain.FeatureVector) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := append([]float64(nil), fv.Values...)

	if m.reference == nil {
		m.current = append(m.current, row)
		if len(m.current) >= m.cfg.WindowSize {
			m.captureReference(m.current)
			m.current = nil
		}
		return false
	}

	m.current = append(m.current, row)
	if len(m.current) < m.cfg.WindowSize {
		return false
	}

	alert := m.testCycle()
	m.current = nil
	return alert
}

// Status returns a snapshot of the monitor state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	phase := "monitoring"
	if m.reference == nil {
		phase = "filling-reference"
	}
	return Status{
		Phase:         phase,
		WindowSize:    m.cfg.WindowSize,
		CurrentFill:   len(m.current),
		DriftCount:    m.driftCount,
		AlertsFired:   m.alertsFired,
		DriftDetected: m.driftCount > 0,
	}
}

// testCycle runs one drift test of the current window against the
// reference and advances the persistent-drift counter. Callers must
// hold m.mu and clear m.current afterwards.
func (m *Monitor) testCycle() bool {
	drifting := m.batchDrifting()

	m.cyclesDone++
	if m.cfg.RefreshEvery > 0 && m.cyclesDone >= m.cfg.RefreshEvery {
		m.captureReference(m.current)
	}

	if !drifting {
		m.driftCount = 0
		return false
	}

	m.driftCount++
	slog.Debug("drifting batch observed", "drift_count", m.driftCount)

	if m.driftCount >= m.cfg.PersistCycles {
		m.driftCount = 0
		m.alertsFired++
		return true
	}
	return false
}

// batchDrifting reports whether the current batch differs significantly
// from the reference: any per-feature KS p-value below threshold, or a
// covariance-distance ratio above threshold. Numerical failures fall
// back to neutral signals.
func (m *Monitor) batchDrifting() bool {
	cols := len(m.reference[0])
	for j := 0; j < cols; j++ {
		p, err := ksPValue(column(m.reference, j), column(m.current, j))
		if err != nil {
			// No evidence of drift from a failed test.
			p = 1.0
		}
		if p < m.cfg.PValueThreshold {
			return true
		}
	}

	if m.refFit == nil {
		return false
	}
	covScore := mean(m.refFit.squaredDistances(denseOf(m.current)))
	return covScore > m.refSelfDistance*m.cfg.CovRatioThreshold
}

// captureReference freezes rows as the reference window and fits its
// robust covariance. A degenerate fit disables the covariance signal
// for this reference.
func (m *Monitor) captureReference(rows [][]float64) {
	m.reference = rows
	m.cyclesDone = 0
	m.refFit = nil
	m.refSelfDistance = 0

	fit, err := fitMCD(denseOf(rows))
	if err != nil {
		slog.Debug("reference covariance fit unavailable", "error", err)
		return
	}
	m.refFit = fit
	m.refSelfDistance = mean(fit.squaredDistances(denseOf(rows)))
}

func denseOf(rows [][]float64) *mat.Dense {
	n := len(rows)
	d := len(rows[0])
	flat := make([]float64, 0, n*d)
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return mat.NewDense(n, d, flat)
}

func column(rows [][]float64, j int) []float64 {
	col := make([]float64, len(rows))
	for i, row := range rows {
		col[i] = row[j]
	}
	return col
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
