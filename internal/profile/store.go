// Package profile maintains per-customer behavioral profiles and their
// derived risk scores.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/flags"
)

// Risk score formula constants. The score is floor + amount and
// frequency deviations, capped at ceil.
const (
	riskFloor       = 0.3
	riskCeil        = 0.9
	amountWeight    = 0.4
	frequencyWeight = 0.3

	deviationEpsilon = 1e-6

	// maxRecentGaps bounds the inter-arrival history kept per profile.
	maxRecentGaps = 16
)

// Store owns all customer profiles. Reads and read-modify-write updates
// for the same customer serialize through a per-key lock; different
// customers proceed in parallel. Profiles are persisted whole to the
// durable key-value store, keyed by customer ID.
type Store struct {
	locks keyMutex

	mu       sync.RWMutex
	profiles map[string]*domain.CustomerProfile

	kv    domain.KVStore
	freq  FrequencyEstimator
	rules *flags.Engine
}

// NewStore creates a profile store backed by the given key-value store.
// freq may be nil, in which case the reference constant-0.5 frequency
// signal is used. rules may be nil to disable profile flags.
func NewStore(kv domain.KVStore, freq FrequencyEstimator, rules *flags.Engine) *Store {
	if freq == nil {
		freq = ConstantFrequency{Value: 0.5}
	}
	return &Store{
		profiles: make(map[string]*domain.CustomerProfile),
		kv:       kv,
		freq:     freq,
		rules:    rules,
	}
}

// Snapshot returns a copy of the customer's profile. Unknown customers
// get a fresh default profile, not an error. Two snapshots without an
// intervening update are identical.
func (s *Store) Snapshot(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrInvalidInput)
	}

	unlock := s.locks.Lock(customerID)
	defer unlock()

	p, err := s.get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return defaultProfile(customerID), nil
	}
	return p.Clone(), nil
}

// Update applies one transaction to the customer's profile, recomputes
// the risk score and persists the whole profile.
//
// On a persistence failure the in-memory profile keeps the update and
// the returned error wraps domain.ErrPersistence; the returned profile
// is still the updated one, so a retried save loses nothing.
func (s *Store) Update(ctx context.Context, customerID string, amount float64, txType string, ts time.Time) (*domain.CustomerProfile, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrInvalidInput)
	}

	unlock := s.locks.Lock(customerID)
	defer unlock()

	p, err := s.get(ctx, customerID)
	if err != nil {
		return nil, err
	}

	when := ts
	if when.IsZero() {
		when = time.Now().UTC()
	}

	if p == nil {
		p = &domain.CustomerProfile{
			CustomerID: customerID,
			FirstSeen:  when,
			RiskScore:  domain.DefaultRiskScore,
			Behavior:   make(map[string]int64),
		}
		s.put(p)
	}

	if !p.LastActivity.IsZero() {
		if gap := when.Sub(p.LastActivity).Seconds(); gap > 0 {
			p.RecentGaps = append(p.RecentGaps, gap)
			if len(p.RecentGaps) > maxRecentGaps {
				p.RecentGaps = p.RecentGaps[len(p.RecentGaps)-maxRecentGaps:]
			}
		}
	}
	p.LastActivity = when

	p.TxCount++
	p.TotalAmount += amount
	p.TotalSquares += amount * amount
	if amount > p.MaxAmount {
		p.MaxAmount = amount
	}
	if p.Behavior == nil {
		p.Behavior = make(map[string]int64)
	}
	// Histogram keys stay within the type enum; anything that isn't a
	// debit counts as a credit, matching the feature encoding.
	if txType != domain.TypeDebit {
		txType = domain.TypeCredit
	}
	p.Behavior[txType]++

	avg := p.TotalAmount / float64(p.TxCount)
	amountDev := math.Min(1, math.Abs(amount-avg)/(avg+deviationEpsilon))
	freqDev := s.freq.Deviation(p)

	p.RiskScore = math.Min(riskCeil, riskFloor+amountWeight*amountDev+frequencyWeight*freqDev)

	if s.rules != nil {
		for _, flag := range s.rules.Evaluate(p, amount, txType) {
			p.Flags = appendUnique(p.Flags, flag)
		}
	}

	blob, err := json.Marshal(p)
	if err != nil {
		return p.Clone(), fmt.Errorf("%w: encode profile %s: %v", domain.ErrPersistence, customerID, err)
	}
	if err := s.kv.Save(ctx, customerID, blob); err != nil {
		return p.Clone(), fmt.Errorf("%w: save profile %s: %v", domain.ErrPersistence, customerID, err)
	}

	return p.Clone(), nil
}

// Count returns the number of profiles currently held in memory.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// get returns the live in-memory profile for a customer, loading it
// from the durable store on first access. Returns nil, nil when the
// customer has no history. Callers must hold the customer's key lock.
func (s *Store) get(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	s.mu.RLock()
	p, ok := s.profiles[customerID]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	blob, err := s.kv.Load(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("%w: load profile %s: %v", domain.ErrPersistence, customerID, err)
	}
	if blob == nil {
		return nil, nil
	}

	p = &domain.CustomerProfile{}
	if err := json.Unmarshal(blob, p); err != nil {
		return nil, fmt.Errorf("%w: decode profile %s: %v", domain.ErrPersistence, customerID, err)
	}
	if p.Behavior == nil {
		p.Behavior = make(map[string]int64)
	}
	s.put(p)
	return p, nil
}

func (s *Store) put(p *domain.CustomerProfile) {
	s.mu.Lock()
	s.profiles[p.CustomerID] = p
	s.mu.Unlock()
}

func defaultProfile(customerID string) *domain.CustomerProfile {
	return &domain.CustomerProfile{
		CustomerID: customerID,
		RiskScore:  domain.DefaultRiskScore,
		Behavior:   make(map[string]int64),
	}
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
