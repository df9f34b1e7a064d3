// Package chain defines the oracle chain client used by the vote engine and
// its REST and subprocess-signer implementations.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrTxNotFound is returned by TxByHash while a transaction is not indexed.
var ErrTxNotFound = errors.New("tx not found")

// Block is the header summary of the latest block.
type Block struct {
	Height int64
	Time   time.Time
}

// Denom is one whitelisted oracle denom.
type Denom struct {
	Name     string
	TobinTax decimal.Decimal
}

// OracleParams mirrors the oracle module parameters the feeder relies on.
type OracleParams struct {
	VotePeriod                 uint64
	VotePeriodEpochIdentifier  string
	SlashWindow                uint64
	SlashWindowEpochIdentifier string
	VoteThreshold              string
	RewardBand                 string
	SlashFraction              string
	MinValidPerWindow          string
	Whitelist                  []Denom
}

// WhitelistNames returns the denom names of the whitelist.
func (p OracleParams) WhitelistNames() []string {
	names := make([]string, 0, len(p.Whitelist))
	for _, d := range p.Whitelist {
		names = append(names, d.Name)
	}
	return names
}

// TxResponse is the result of a broadcast or a lookup by hash.
type TxResponse struct {
	TxHash string
	Code   uint32
	Height int64
	RawLog string
}

// Succeeded reports whether the transaction executed without error.
func (r TxResponse) Succeeded() bool { return r.Code == 0 }

// Submission carries the arguments of an aggregate prevote or vote.
type Submission struct {
	Salt        string
	PriceString string
	Sender      string
	Validator   string
}

// Querier reads oracle and chain state.
type Querier interface {
	CurrentEpoch(ctx context.Context, identifier string) (uint64, error)
	LatestBlock(ctx context.Context) (Block, error)
	// WaitForNextBlock blocks until the height advances or maxWait elapses.
	// It reports false on timeout.
	WaitForNextBlock(ctx context.Context, maxWait time.Duration) (bool, error)
	OracleParams(ctx context.Context) (OracleParams, error)
	// MyPrevoteHash returns the validator's current aggregate prevote hash,
	// or "" when none is stored.
	MyPrevoteHash(ctx context.Context) (string, error)
	TxByHash(ctx context.Context, hash string) (TxResponse, error)
	MissCounter(ctx context.Context) (uint64, error)
	Syncing(ctx context.Context) (bool, error)
}

// Broadcaster submits oracle transactions.
type Broadcaster interface {
	SubmitPrevote(ctx context.Context, sub Submission) (TxResponse, error)
	SubmitVote(ctx context.Context, sub Submission) (TxResponse, error)
}

// Client is the full chain surface the vote engine needs.
type Client interface {
	Querier
	Broadcaster
}

// Composite joins a Querier and a Broadcaster into a Client.
type Composite struct {
	Querier
	Broadcaster
}

// NewComposite builds a Client from its two halves.
func NewComposite(q Querier, b Broadcaster) *Composite {
	return &Composite{Querier: q, Broadcaster: b}
}

// RequestObserver receives the outcome of every outbound chain request.
type RequestObserver interface {
	ObserveRequest(remote string, d time.Duration, err error)
}

type nopRequestObserver struct{}

func (nopRequestObserver) ObserveRequest(string, time.Duration, error) {}

var _ Client = (*Composite)(nil)
