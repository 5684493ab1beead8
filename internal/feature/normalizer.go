// Package feature builds model feature vectors from transactions and
// customer profile statistics.
package feature

import (
	"hash/fnv"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// hashBuckets bounds the lossy categorical encoding of opaque
// identifiers. Collisions are expected and acceptable.
const hashBuckets = 100

// Categorical encodings. Unrecognized input maps to the documented
// fallback (Online for channel, Engineer for occupation).
var (
	channelCodes = map[string]float64{
		domain.ChannelATM:    0,
		domain.ChannelOnline: 1,
		domain.ChannelBranch: 2,
	}
	occupationCodes = map[string]float64{
		domain.OccupationStudent:  0,
		domain.OccupationDoctor:   1,
		domain.OccupationEngineer: 2,
		domain.OccupationRetired:  3,
	}
)

// DefaultSchema is the canonical feature order the reference models
// were trained on. A provider may declare any subset or reordering.
func DefaultSchema() []string {
	return []string{
		"TransactionAmount", "TransactionDuration", "LoginAttempts",
		"AccountBalance", "DaysSinceLastTransaction", "TransactionSpeed",
		"AvgAmount", "StdAmount", "MaxAmount", "AvgDuration", "UniqueLocations",
		"AmountDeviation", "DurationDeviation", "TransactionType",
		"Location", "DeviceID", "MerchantID", "Channel",
		"CustomerOccupation", "CustomerAge",
	}
}

// Normalizer turns transactions into fixed-schema feature vectors. It
// is stateless apart from the schema captured at construction, so a
// single instance is safe for concurrent use.
type Normalizer struct {
	schema  []string
	missing float64
}

// NewNormalizer captures the provider's declared schema. missing is the
// provider-specified fill value for schema fields Kestrel cannot
// derive, commonly 0.
func NewNormalizer(schema []string, missing float64) *Normalizer {
	return &Normalizer{
		schema:  append([]string(nil), schema...),
		missing: missing,
	}
}

// Schema returns the captured schema in declaration order.
func (n *Normalizer) Schema() []string {
	return append([]string(nil), n.schema...)
}

// Normalize builds the feature vector for tx against the given profile
// statistics. Pure function of its two inputs; no side effects.
func (n *Normalizer) Normalize(tx *domain.Transaction, stats domain.ProfileStats) domain.FeatureVector {
	// Duration is guarded >= 1 so derived ratios stay finite.
	duration := tx.Duration
	if duration < 1 {
		duration = 1
	}

	derived := map[string]float64{
		"TransactionAmount":        tx.Amount,
		"TransactionDuration":      duration,
		"LoginAttempts":            float64(tx.LoginAttempts),
		"AccountBalance":           tx.AccountBalance,
		"DaysSinceLastTransaction": daysSinceLast(tx.Timestamp, tx.PreviousTimestamp),
		"TransactionSpeed":         tx.Amount / duration,
		"AvgAmount":                stats.AvgAmount,
		"StdAmount":                stats.StdAmount,
		"MaxAmount":                stats.MaxAmount,
		"AvgDuration":              stats.AvgDuration,
		"UniqueLocations":          stats.UniqueLocations,
		"AmountDeviation":          (tx.Amount - stats.AvgAmount) / math.Max(stats.StdAmount, 1),
		"DurationDeviation":        (duration - stats.AvgDuration) / math.Max(stats.AvgDuration, 1),
		"TransactionType":          typeCode(tx.Type),
		"AccountID":                hashBucket(tx.AccountID),
		"Location":                 hashBucket(tx.Location),
		"DeviceID":                 hashBucket(tx.DeviceID),
		"MerchantID":               hashBucket(tx.MerchantID),
		"Channel":                  channelCode(tx.Channel),
		"CustomerOccupation":       occupationCode(tx.Occupation),
		"CustomerAge":              float64(tx.Age),
	}

	values := make([]float64, len(n.schema))
	for i, name := range n.schema {
		if v, ok := derived[name]; ok {
			values[i] = v
		} else {
			values[i] = n.missing
		}
	}

	return domain.FeatureVector{
		Names:  append([]string(nil), n.schema...),
		Values: values,
	}
}

// daysSinceLast returns the whole days elapsed between the previous and
// the current transaction, or 1 when either timestamp is missing.
func daysSinceLast(current, previous time.Time) float64 {
	if current.IsZero() || previous.IsZero() {
		return 1
	}
	return math.Floor(current.Sub(previous).Hours() / 24)
}

func typeCode(txType string) float64 {
	if txType == domain.TypeDebit {
		return 0
	}
	return 1
}

func channelCode(channel string) float64 {
	if code, ok := channelCodes[channel]; ok {
		return code
	}
	return channelCodes[domain.ChannelOnline]
}

func occupationCode(occupation string) float64 {
	if code, ok := occupationCodes[occupation]; ok {
		return code
	}
	return occupationCodes[domain.OccupationEngineer]
}

// hashBucket maps an opaque identifier to a bounded integer bucket.
// This is a lossy categorical encoding, not a security hash.
func hashBucket(id string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return float64(h.Sum32() % hashBuckets)
}
