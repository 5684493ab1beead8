// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"time"
)

// Transaction type values.
const (
	TypeDebit  = "Debit"
	TypeCredit = "Credit"
)

// Channel values.
const (
	ChannelATM    = "ATM"
	ChannelOnline = "Online"
	ChannelBranch = "Branch"
)

// Customer occupation values.
const (
	OccupationStudent  = "Student"
	OccupationDoctor   = "Doctor"
	OccupationEngineer = "Engineer"
	OccupationRetired  = "Retired"
)

// Transaction is an incoming transaction to be scored. The pipeline
// treats it as immutable.
type Transaction struct {
	// Opaque identifiers
	ID         string `json:"id"`
	AccountID  string `json:"accountId"`
	MerchantID string `json:"merchantId"`
	DeviceID   string `json:"deviceId"`
	Location   string `json:"location"`

	// Financial details
	Amount         float64 `json:"amount"`
	Duration       float64 `json:"duration"` // seconds
	LoginAttempts  int     `json:"loginAttempts"`
	AccountBalance float64 `json:"accountBalance"`

	// Temporal. Zero values mean "missing or unparsable" and fall back
	// to the documented one-day default in the normalizer.
	Timestamp         time.Time `json:"timestamp"`
	PreviousTimestamp time.Time `json:"previousTimestamp"`

	// Categorical
	Type       string `json:"transactionType"` // Debit or Credit
	Channel    string `json:"channel"`         // ATM, Online or Branch
	Occupation string `json:"customerOccupation"`
	Age        int    `json:"customerAge"`
}
