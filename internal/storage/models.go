package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side statuses recorded for the vote and prevote of a round.
const (
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// VoteRound is one executed commit-reveal cycle.
type VoteRound struct {
	Round           uint64
	CycleID         string
	Height          int64
	PriceString     string
	Salt            string
	Hash            string
	HashMatched     bool
	VoteTxHash      *string
	VoteStatus      string
	VoteAttempts    int
	PrevoteTxHash   *string
	PrevoteStatus   string
	PrevoteAttempts int
	Error           *string
	CreatedAt       time.Time
}

// PricePoint is the price submitted for one denom in one round.
type PricePoint struct {
	Round     uint64
	Denom     string
	Price     decimal.Decimal
	MarketUSD decimal.Decimal
	CreatedAt time.Time
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID        int64
	Round     uint64
	Kind      string
	Message   string
	Channels  []string
	CreatedAt time.Time
}
