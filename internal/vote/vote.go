// Package vote runs one commit-reveal cycle per round: it reveals the
// previous round's prices when the chain still holds their commitment and
// commits the current prices, retrying each side independently.
package vote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"oracle-feeder/internal/chain"
	"oracle-feeder/internal/commit"
	"oracle-feeder/internal/pricing"
)

// ErrNoSender is returned when no account is configured to sign oracle
// transactions.
var ErrNoSender = errors.New("no sender account configured")

// ErrNoValidator is returned when no validator operator address is
// configured to vote for.
var ErrNoValidator = errors.New("no validator operator address configured")

var (
	errBlockWait   = errors.New("timed out waiting for next block")
	errNotIndexed  = errors.New("transaction not indexed in time")
	errTxExecution = errors.New("transaction failed")
)

// Kind names a transaction side of the cycle.
type Kind string

const (
	KindVote    Kind = "vote"
	KindPrevote Kind = "prevote"
)

// State is what the driver carries from one round to the next. It is
// replaced after every cycle and never mutated.
type State struct {
	PriceString  string
	Salt         string
	Hash         string
	ActiveDenoms []string
}

// SideResult reports the outcome of one transaction side.
type SideResult struct {
	Attempts  int
	TxHash    string
	Confirmed bool
	Err       error
}

// Result summarises one cycle.
type Result struct {
	CycleID     string
	Round       uint64
	HashMatched bool
	Commitment  commit.Commitment
	Vote        SideResult
	Prevote     SideResult
}

// Observer receives vote engine counters. VoteAttempt fires once per cycle
// that reveals, however many times the vote side is retried.
type Observer interface {
	VoteAttempt()
	TxOutcome(kind Kind, confirmed bool)
}

// NopObserver discards every observation.
type NopObserver struct{}

// VoteAttempt implements Observer.
func (NopObserver) VoteAttempt() {}

// TxOutcome implements Observer.
func (NopObserver) TxOutcome(Kind, bool) {}

// Options tune the controller.
type Options struct {
	Sender    string
	Validator string
	// MaxRetries bounds the retries per side; each side gets at most
	// MaxRetries+1 attempts per cycle.
	MaxRetries    int
	BlockWait     time.Duration
	IndexAttempts int
	IndexDelay    time.Duration
	// Now supplies salt entropy; defaults to time.Now.
	Now func() time.Time
}

// Controller drives the commit-reveal protocol against a chain client.
type Controller struct {
	client   chain.Client
	opts     Options
	observer Observer
	logger   zerolog.Logger
}

// NewController validates opts and builds a Controller.
func NewController(client chain.Client, opts Options, observer Observer, logger zerolog.Logger) (*Controller, error) {
	if opts.Sender == "" {
		return nil, ErrNoSender
	}
	if opts.Validator == "" {
		return nil, ErrNoValidator
	}
	if client == nil {
		return nil, errors.New("chain client is required")
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BlockWait <= 0 {
		opts.BlockWait = 10 * time.Second
	}
	if opts.IndexAttempts <= 0 {
		opts.IndexAttempts = 10
	}
	if opts.IndexDelay <= 0 {
		opts.IndexDelay = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Controller{
		client:   client,
		opts:     opts,
		observer: observer,
		logger:   logger.With().Str("component", "vote_controller").Logger(),
	}, nil
}

// CheckHashMatch reports whether the chain still holds the commitment made
// in the previous round.
func CheckHashMatch(lastHash, onchain string) bool {
	return lastHash != "" && lastHash == onchain
}

// Run executes one cycle for round and returns the state for the next one.
// The returned state always describes the current prices, whatever the
// transaction outcomes.
func (c *Controller) Run(ctx context.Context, vector pricing.PriceVector, last State, round uint64) (State, Result) {
	current := commit.New(commit.NewSalt(c.opts.Now()), vector.String(), c.opts.Validator)
	next := State{
		PriceString:  current.PriceString,
		Salt:         current.Salt,
		Hash:         current.Hash,
		ActiveDenoms: vector.Priced(),
	}
	res := Result{CycleID: uuid.NewString(), Round: round, Commitment: current}
	logger := c.logger.With().Str("cycle_id", res.CycleID).Uint64("round", round).Logger()

	onchain, err := c.client.MyPrevoteHash(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("read on-chain prevote failed, treating as empty")
		onchain = ""
	}
	res.HashMatched = CheckHashMatch(last.Hash, onchain)

	reveal := chain.Submission{Salt: last.Salt, PriceString: last.PriceString, Sender: c.opts.Sender, Validator: c.opts.Validator}
	commitSub := chain.Submission{Salt: current.Salt, PriceString: current.PriceString, Sender: c.opts.Sender, Validator: c.opts.Validator}

	if res.HashMatched {
		logger.Info().Str("prices", current.PriceString).Msg("broadcasting vote and prevote")
	} else {
		logger.Info().Str("prices", current.PriceString).Msg("broadcasting prevote only")
	}

	voteDone := !res.HashMatched
	if res.HashMatched {
		c.observer.VoteAttempt()
	}
	prevoteDone := false
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		if !voteDone {
			voteDone = c.attempt(ctx, logger, KindVote, reveal, attempt, &res.Vote)
		}
		if !prevoteDone {
			prevoteDone = c.attempt(ctx, logger, KindPrevote, commitSub, attempt, &res.Prevote)
		}
		if voteDone && prevoteDone {
			break
		}
	}

	if res.HashMatched && !res.Vote.Confirmed {
		logger.Error().Err(res.Vote.Err).Int("attempts", res.Vote.Attempts).Msg("vote not confirmed")
	}
	if !res.Prevote.Confirmed {
		logger.Error().Err(res.Prevote.Err).Int("attempts", res.Prevote.Attempts).Msg("prevote not confirmed")
	}
	return next, res
}

func (c *Controller) attempt(ctx context.Context, logger zerolog.Logger, kind Kind, sub chain.Submission, attempt int, side *SideResult) bool {
	side.Attempts++
	txHash, err := c.submitAndConfirm(ctx, kind, sub)
	side.TxHash = txHash
	side.Err = err
	side.Confirmed = err == nil
	c.observer.TxOutcome(kind, side.Confirmed)

	event := logger.Info()
	if err != nil {
		event = logger.Warn().Err(err)
	}
	event.Str("kind", string(kind)).Int("attempt", attempt+1).Str("tx_hash", txHash).Bool("confirmed", side.Confirmed).Msg("transaction attempt finished")
	return side.Confirmed
}

func (c *Controller) submitAndConfirm(ctx context.Context, kind Kind, sub chain.Submission) (string, error) {
	var (
		tx  chain.TxResponse
		err error
	)
	switch kind {
	case KindVote:
		tx, err = c.client.SubmitVote(ctx, sub)
	default:
		tx, err = c.client.SubmitPrevote(ctx, sub)
	}
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", kind, err)
	}
	if !tx.Succeeded() {
		return tx.TxHash, fmt.Errorf("%w: code %d: %s", errTxExecution, tx.Code, tx.RawLog)
	}

	advanced, err := c.client.WaitForNextBlock(ctx, c.opts.BlockWait)
	if err != nil {
		return tx.TxHash, fmt.Errorf("wait for block: %w", err)
	}
	if !advanced {
		return tx.TxHash, errBlockWait
	}

	return tx.TxHash, c.confirm(ctx, tx.TxHash)
}

func (c *Controller) confirm(ctx context.Context, txHash string) error {
	for i := 0; i < c.opts.IndexAttempts; i++ {
		tx, err := c.client.TxByHash(ctx, txHash)
		switch {
		case err == nil:
			if !tx.Succeeded() {
				return fmt.Errorf("%w: code %d: %s", errTxExecution, tx.Code, tx.RawLog)
			}
			return nil
		case !errors.Is(err, chain.ErrTxNotFound):
			c.logger.Debug().Err(err).Str("tx_hash", txHash).Msg("tx lookup failed")
		}

		if i == c.opts.IndexAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.IndexDelay):
		}
	}
	return errNotIndexed
}
