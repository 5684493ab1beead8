package profile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/flags"
	"github.com/opensource-finance/kestrel/internal/kv"
)

func TestSnapshotUnknownCustomer(t *testing.T) {
	store := NewStore(kv.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	p, err := store.Snapshot(ctx, "AC-unknown")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if p.CustomerID != "AC-unknown" {
		t.Errorf("expected customer ID AC-unknown, got %s", p.CustomerID)
	}
	if p.TxCount != 0 {
		t.Errorf("expected zero TxCount, got %d", p.TxCount)
	}
	if p.RiskScore != domain.DefaultRiskScore {
		t.Errorf("expected default risk %.2f, got %.2f", domain.DefaultRiskScore, p.RiskScore)
	}

	stats := p.Stats()
	if stats.AvgAmount != domain.DefaultAvgAmount {
		t.Errorf("expected default avg amount %.2f, got %.2f", domain.DefaultAvgAmount, stats.AvgAmount)
	}
}

func TestSnapshotIsIdempotent(t *testing.T) {
	store := NewStore(kv.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	if _, err := store.Update(ctx, "AC1", 120, domain.TypeDebit, time.Now()); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	first, err := store.Snapshot(ctx, "AC1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	second, err := store.Snapshot(ctx, "AC1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if first.TxCount != second.TxCount || first.RiskScore != second.RiskScore {
		t.Errorf("snapshots differ without intervening update: %+v vs %+v", first, second)
	}

	// Mutating a snapshot must not leak into the store.
	first.TotalAmount = 999999
	third, _ := store.Snapshot(ctx, "AC1")
	if third.TotalAmount == first.TotalAmount {
		t.Error("snapshot mutation leaked into the store")
	}
}

func TestUpdateFirstTransaction(t *testing.T) {
	store := NewStore(kv.NewMemoryStore(), nil, nil)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	p, err := store.Update(ctx, "AC1", 200, domain.TypeDebit, now)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if p.TxCount != 1 {
		t.Errorf("expected TxCount 1, got %d", p.TxCount)
	}
	if p.TotalAmount != 200 {
		t.Errorf("expected TotalAmount 200, got %.2f", p.TotalAmount)
	}
	if p.MaxAmount != 200 {
		t.Errorf("expected MaxAmount 200, got %.2f", p.MaxAmount)
	}
	if !p.FirstSeen.Equal(now) {
		t.Errorf("expected FirstSeen %v, got %v", now, p.FirstSeen)
	}
	if p.Behavior[domain.TypeDebit] != 1 {
		t.Errorf("expected one Debit in behavior histogram, got %d", p.Behavior[domain.TypeDebit])
	}

	// First transaction matches its own average exactly, so only the
	// constant frequency term contributes: 0.3 + 0.3*0.5 = 0.45.
	if math.Abs(p.RiskScore-0.45) > 1e-9 {
		t.Errorf("expected risk 0.45, got %.4f", p.RiskScore)
	}
}

func TestUpdateCoercesUnknownType(t *testing.T) {
	store := NewStore(kv.NewMemoryStore(), nil, nil)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	p, err := store.Update(ctx, "AC1", 100, "withdrawal", now)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if p.Behavior["withdrawal"] != 0 {
		t.Errorf("unknown type leaked into behavior histogram: %v", p.Behavior)
	}
	if p.Behavior[domain.TypeCredit] != 1 {
		t.Errorf("expected unknown type counted as Credit, got %v", p.Behavior)
	}
	if len(p.Behavior) != 1 {
		t.Errorf("expected histogram keys within the type enum, got %v", p.Behavior)
	}
}

func TestRiskScoreBounds(t *testing.T) {
	store := NewStore(kv.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	// Establish a low baseline, then spike hard.
	ts := time.Now().UTC()
	for i := 0; i < 10; i++ {
		ts = ts.Add(time.Hour)
		if _, err := store.Update(ctx, "AC1", 10, domain.TypeDebit, ts); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	p, err := store.Update(ctx, "AC1", 1e6, domain.TypeDebit, ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if p.RiskScore > 0.9 {
		t.Errorf("risk score exceeded cap: %.4f", p.RiskScore)
	}
	// Amount deviation saturates at 1: 0.3 + 0.4*1 + 0.3*0.5 = 0.85.
	if math.Abs(p.RiskScore-0.85) > 1e-9 {
		t.Errorf("expected saturated risk 0.85, got %.4f", p.RiskScore)
	}
}

func TestCustomerIsolation(t *testing.T) {
	store := NewStore(kv.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	if _, err := store.Update(ctx, "AC1", 5000, domain.TypeDebit, time.Now()); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	other, err := store.Snapshot(ctx, "AC2")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if other.TxCount != 0 {
		t.Errorf("update to AC1 leaked into AC2: %+v", other)
	}
}

func TestRecentGapsBounded(t *testing.T) {
	store := NewStore(kv.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	ts := time.Now().UTC()
	for i := 0; i < maxRecentGaps*2; i++ {
		ts = ts.Add(time.Minute)
		if _, err := store.Update(ctx, "AC1", 50, domain.TypeDebit, ts); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	p, _ := store.Snapshot(ctx, "AC1")
	if len(p.RecentGaps) > maxRecentGaps {
		t.Errorf("RecentGaps grew past bound: %d", len(p.RecentGaps))
	}
}

func TestProfileFlags(t *testing.T) {
	engine, err := flags.NewEngine()
	if err != nil {
		t.Fatalf("failed to create flag engine: %v", err)
	}
	if err := engine.LoadRules(flags.BuiltinRules()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	store := NewStore(kv.NewMemoryStore(), nil, engine)
	ctx := context.Background()

	ts := time.Now().UTC()
	for i := 0; i < 5; i++ {
		ts = ts.Add(time.Hour)
		if _, err := store.Update(ctx, "AC1", 100, domain.TypeDebit, ts); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	// A large spike over the running average with enough history
	// triggers high_amount. The average already includes the spike, so
	// the multiple has to clear 5x the post-update mean.
	p, err := store.Update(ctx, "AC1", 10000, domain.TypeDebit, ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if !hasFlag(p.Flags, "high_amount") {
		t.Errorf("expected high_amount flag, got %v", p.Flags)
	}

	// Flags accumulate without duplicates.
	p, _ = store.Update(ctx, "AC1", 100000, domain.TypeDebit, ts.Add(2*time.Hour))
	count := 0
	for _, f := range p.Flags {
		if f == "high_amount" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected high_amount flag exactly once, found %d times", count)
	}
}

func hasFlag(list []string, flag string) bool {
	for _, f := range list {
		if f == flag {
			return true
		}
	}
	return false
}

// failingKV accepts loads but rejects every save.
type failingKV struct {
	fail bool
	mu   sync.Mutex
	data map[string][]byte
}

func newFailingKV() *failingKV {
	return &failingKV{data: make(map[string][]byte)}
}

func (f *failingKV) Load(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if blob, ok := f.data[key]; ok {
		return blob, nil
	}
	return nil, nil
}

func (f *failingKV) Save(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("disk on fire")
	}
	f.data[key] = value
	return nil
}

func (f *failingKV) Ping(ctx context.Context) error { return nil }
func (f *failingKV) Close() error                   { return nil }

func TestUpdateSurvivesPersistenceFailure(t *testing.T) {
	ctx := context.Background()

	kvStore := newFailingKV()
	kvStore.fail = true
	store := NewStore(kvStore, nil, nil)

	p, err := store.Update(ctx, "AC1", 100, domain.TypeDebit, time.Now())
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
	if p == nil || p.TxCount != 1 {
		t.Fatalf("expected updated profile despite save failure, got %+v", p)
	}

	// The in-memory update is retained, so a retry carries both
	// transactions.
	kvStore.fail = false
	p, err = store.Update(ctx, "AC1", 100, domain.TypeDebit, time.Now())
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if p.TxCount != 2 {
		t.Errorf("expected TxCount 2 after retry, got %d", p.TxCount)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	store := NewStore(kv.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	const (
		customers = 8
		perWorker = 50
	)

	var wg sync.WaitGroup
	for c := 0; c < customers; c++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			customerID := fmt.Sprintf("AC%03d", id)
			for i := 0; i < perWorker; i++ {
				if _, err := store.Update(ctx, customerID, 100, domain.TypeDebit, time.Now()); err != nil {
					t.Errorf("Update failed: %v", err)
					return
				}
			}
		}(c)
	}
	wg.Wait()

	for c := 0; c < customers; c++ {
		p, err := store.Snapshot(ctx, fmt.Sprintf("AC%03d", c))
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if p.TxCount != perWorker {
			t.Errorf("customer %d: expected %d transactions, got %d", c, perWorker, p.TxCount)
		}
	}
}

func TestLoadThrough(t *testing.T) {
	backing := kv.NewMemoryStore()
	ctx := context.Background()

	// Populate through one store instance.
	first := NewStore(backing, nil, nil)
	if _, err := first.Update(ctx, "AC1", 300, domain.TypeCredit, time.Now()); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// A fresh store instance must see the persisted profile.
	second := NewStore(backing, nil, nil)
	p, err := second.Snapshot(ctx, "AC1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if p.TxCount != 1 || p.TotalAmount != 300 {
		t.Errorf("persisted profile not loaded: %+v", p)
	}
}
