// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"oracle-feeder/internal/chain"
	"oracle-feeder/internal/commit"
)

// Fake is a scripted chain.Client. A successful prevote stores its hash as
// the validator's on-chain prevote, the way the oracle module does.
type Fake struct {
	mu sync.Mutex

	Epoch    uint64
	EpochErr error
	Block    chain.Block
	BlockErr error
	Params   chain.OracleParams
	ParamErr error
	Misses   uint64
	IsSync   bool

	PrevoteHash string
	PrevoteErr  error

	// NextBlockTimeouts makes that many WaitForNextBlock calls time out.
	NextBlockTimeouts int
	// FailPrevotes and FailVotes make that many submissions return an error.
	FailPrevotes int
	FailVotes    int
	// RejectPrevotes and RejectVotes make that many submissions execute
	// with a non-zero code.
	RejectPrevotes int
	RejectVotes    int
	// UnindexedPolls makes that many TxByHash calls report ErrTxNotFound.
	UnindexedPolls int

	Prevotes []chain.Submission
	Votes    []chain.Submission

	txs   map[string]chain.TxResponse
	nonce int
}

// NewFake returns a fake at height 1 with the given whitelist.
func NewFake(whitelist ...string) *Fake {
	params := chain.OracleParams{VotePeriod: 5}
	for _, name := range whitelist {
		params.Whitelist = append(params.Whitelist, chain.Denom{Name: name})
	}
	return &Fake{
		Block:  chain.Block{Height: 1, Time: time.Now().UTC()},
		Params: params,
		txs:    make(map[string]chain.TxResponse),
	}
}

// SetHeight moves the chain to height.
func (f *Fake) SetHeight(height int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Block.Height = height
}

// SetEpoch moves the chain to epoch.
func (f *Fake) SetEpoch(epoch uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Epoch = epoch
}

// SetMisses sets the miss counter.
func (f *Fake) SetMisses(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Misses = n
}

// SetSyncing sets the node sync status.
func (f *Fake) SetSyncing(syncing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.IsSync = syncing
}

// SetPrevoteHash overrides the stored on-chain prevote hash.
func (f *Fake) SetPrevoteHash(hash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PrevoteHash = hash
}

// Submitted returns copies of the recorded votes and prevotes.
func (f *Fake) Submitted() (votes, prevotes []chain.Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chain.Submission(nil), f.Votes...), append([]chain.Submission(nil), f.Prevotes...)
}

// CurrentEpoch implements chain.Querier.
func (f *Fake) CurrentEpoch(ctx context.Context, identifier string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Epoch, f.EpochErr
}

// LatestBlock implements chain.Querier.
func (f *Fake) LatestBlock(ctx context.Context) (chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Block, f.BlockErr
}

// WaitForNextBlock implements chain.Querier. Unless scripted to time out it
// advances the height by one.
func (f *Fake) WaitForNextBlock(ctx context.Context, maxWait time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NextBlockTimeouts > 0 {
		f.NextBlockTimeouts--
		return false, nil
	}
	f.Block.Height++
	return true, nil
}

// OracleParams implements chain.Querier.
func (f *Fake) OracleParams(ctx context.Context) (chain.OracleParams, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Params, f.ParamErr
}

// MyPrevoteHash implements chain.Querier.
func (f *Fake) MyPrevoteHash(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PrevoteHash, f.PrevoteErr
}

// TxByHash implements chain.Querier.
func (f *Fake) TxByHash(ctx context.Context, hash string) (chain.TxResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UnindexedPolls > 0 {
		f.UnindexedPolls--
		return chain.TxResponse{}, chain.ErrTxNotFound
	}
	tx, ok := f.txs[hash]
	if !ok {
		return chain.TxResponse{}, chain.ErrTxNotFound
	}
	return tx, nil
}

// MissCounter implements chain.Querier.
func (f *Fake) MissCounter(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Misses, nil
}

// Syncing implements chain.Querier.
func (f *Fake) Syncing(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.IsSync, nil
}

// SubmitPrevote implements chain.Broadcaster.
func (f *Fake) SubmitPrevote(ctx context.Context, sub chain.Submission) (chain.TxResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prevotes = append(f.Prevotes, sub)
	if f.FailPrevotes > 0 {
		f.FailPrevotes--
		return chain.TxResponse{}, errors.New("prevote broadcast failed")
	}
	tx := f.record("prevote", &f.RejectPrevotes)
	if tx.Succeeded() {
		f.PrevoteHash = commit.MakeHash(sub.Salt, sub.PriceString, sub.Validator)
	}
	return tx, nil
}

// SubmitVote implements chain.Broadcaster.
func (f *Fake) SubmitVote(ctx context.Context, sub chain.Submission) (chain.TxResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Votes = append(f.Votes, sub)
	if f.FailVotes > 0 {
		f.FailVotes--
		return chain.TxResponse{}, errors.New("vote broadcast failed")
	}
	tx := f.record("vote", &f.RejectVotes)
	if tx.Succeeded() {
		f.PrevoteHash = ""
	}
	return tx, nil
}

func (f *Fake) record(kind string, rejects *int) chain.TxResponse {
	f.nonce++
	tx := chain.TxResponse{
		TxHash: fmt.Sprintf("%s-%04d", kind, f.nonce),
		Height: f.Block.Height + 1,
	}
	if *rejects > 0 {
		*rejects--
		tx.Code = 5
		tx.RawLog = "rejected"
	}
	if f.txs == nil {
		f.txs = make(map[string]chain.TxResponse)
	}
	f.txs[tx.TxHash] = tx
	return tx
}

var _ chain.Client = (*Fake)(nil)
