package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oracle-feeder/internal/aggregate"
	"oracle-feeder/internal/alerting"
	"oracle-feeder/internal/chain"
	"oracle-feeder/internal/pricing"
	"oracle-feeder/internal/scheduler"
	"oracle-feeder/internal/source"
	"oracle-feeder/internal/storage"
	"oracle-feeder/internal/vote"
)

// RateCollector gathers aggregated rates from the configured sources.
type RateCollector interface {
	Collect(ctx context.Context, sources []source.Source) (aggregate.Rates, error)
}

// Voter runs one commit-reveal cycle.
type Voter interface {
	Run(ctx context.Context, vector pricing.PriceVector, last vote.State, round uint64) (vote.State, vote.Result)
}

// Recorder receives driver level gauges.
type Recorder interface {
	SetHeight(height int64)
	SetMisses(misses uint64)
	SetRound(round uint64)
	SetPrice(denom string, price decimal.Decimal)
	CycleCompleted(hashMatched bool)
}

type nopRecorder struct{}

func (nopRecorder) SetHeight(int64)                  {}
func (nopRecorder) SetMisses(uint64)                 {}
func (nopRecorder) SetRound(uint64)                  {}
func (nopRecorder) SetPrice(string, decimal.Decimal) {}
func (nopRecorder) CycleCompleted(bool)              {}

// Options tune the driver.
type Options struct {
	// EpochIdentifier selects epoch rounds; empty derives rounds from block
	// height and the oracle vote period.
	EpochIdentifier         string
	MinBlocksBeforeRoundEnd int64
	LockKey                 int64
	Pricing                 pricing.Options
	AlertsEnabled           bool
	MissAlerts              bool
	Channels                []string
}

// Deps are the collaborators of the driver. Store, AlertStore, Notifier
// and Recorder are optional.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Chain      chain.Querier
	Collector  RateCollector
	Sources    []source.Source
	Voter      Voter
	Store      storage.RoundStore
	AlertStore storage.AlertStore
	Notifier   alerting.Notifier
	Recorder   Recorder
}

// Service is the epoch driver: it detects new voting rounds and runs one
// vote cycle per round. ProcessTick must not be called concurrently; the
// scheduler guarantees that in production.
type Service struct {
	opts   Options
	deps   Deps
	locker storage.AdvisoryLocker
	logger zerolog.Logger

	state       vote.State
	lastRound   uint64
	lastHeight  int64
	votePeriod  uint64
	misses      uint64
	missesKnown bool
	failedRound uint64
}

// New constructs the epoch driver.
func New(opts Options, deps Deps, logger zerolog.Logger) *Service {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		opts:   opts,
		deps:   deps,
		locker: locker,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// Run restores persisted state and begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return errors.New("scheduler not configured")
	}
	if err := s.Restore(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("could not restore last vote round, starting fresh")
	}
	return s.deps.Scheduler.Run(ctx, s.ProcessTick)
}

// State returns the carried vote state and the last processed round.
func (s *Service) State() (vote.State, uint64) {
	return s.state, s.lastRound
}

// Restore loads the last persisted round so a restart can still reveal the
// prices committed before it.
func (s *Service) Restore(ctx context.Context) error {
	if s.deps.Store == nil {
		return nil
	}
	last, err := s.deps.Store.LatestRound(ctx)
	if errors.Is(err, storage.ErrNoRounds) {
		return nil
	}
	if err != nil {
		return err
	}

	vector, err := pricing.ParsePriceString(last.PriceString)
	if err != nil {
		return fmt.Errorf("parse stored price string: %w", err)
	}
	s.state = vote.State{
		PriceString:  last.PriceString,
		Salt:         last.Salt,
		Hash:         last.Hash,
		ActiveDenoms: vector.Priced(),
	}
	s.lastRound = last.Round
	s.logger.Info().Uint64("round", last.Round).Str("hash", last.Hash).Msg("restored last vote round")
	return nil
}

// ProcessTick 执行单次轮询：检测新一轮并完成投票周期。
func (s *Service) ProcessTick(ctx context.Context, now time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	round, height, ready, err := s.detectRound(ctx)
	if err != nil {
		return err
	}
	if !ready || round <= s.lastRound {
		return nil
	}

	return s.executeRound(ctx, now, round, height)
}

func (s *Service) executeRound(ctx context.Context, now time.Time, round uint64, height int64) error {
	logger := s.logger.With().Uint64("round", round).Logger()

	params, err := s.deps.Chain.OracleParams(ctx)
	if err != nil {
		return fmt.Errorf("fetch oracle params: %w", err)
	}
	s.votePeriod = params.VotePeriod

	if height == 0 {
		if block, err := s.deps.Chain.LatestBlock(ctx); err == nil {
			height = block.Height
			s.deps.Recorder.SetHeight(height)
		}
	}

	rates, err := s.deps.Collector.Collect(ctx, s.deps.Sources)
	if err != nil {
		s.reportAggregationFailure(ctx, now, round, height, err)
		return fmt.Errorf("collect rates: %w", err)
	}

	vector, err := pricing.BuildPriceVector(rates, params.WhitelistNames(), s.opts.Pricing, logger)
	if err != nil {
		s.reportAggregationFailure(ctx, now, round, height, err)
		return fmt.Errorf("build price vector: %w", err)
	}

	logger.Info().Str("prices", vector.String()).Strs("failed_sources", rates.Failed).Msg("starting vote cycle")

	next, res := s.deps.Voter.Run(ctx, vector, s.state, round)
	s.state = next
	s.lastRound = round

	s.deps.Recorder.SetRound(round)
	s.deps.Recorder.CycleCompleted(res.HashMatched)
	for _, denom := range vector.Denoms() {
		price, _ := vector.Price(denom)
		s.deps.Recorder.SetPrice(denom, price)
	}

	s.persist(ctx, round, height, next, res, vector, rates.Market)
	s.reportCycleFailures(ctx, now, round, height, res)
	s.checkMisses(ctx, now, round, height)

	logger.Info().
		Str("cycle_id", res.CycleID).
		Bool("hash_matched", res.HashMatched).
		Bool("vote_confirmed", res.Vote.Confirmed).
		Bool("prevote_confirmed", res.Prevote.Confirmed).
		Msg("vote cycle finished")
	return nil
}

// detectRound returns the current round and whether a cycle may start now.
func (s *Service) detectRound(ctx context.Context) (uint64, int64, bool, error) {
	if s.opts.EpochIdentifier != "" {
		epoch, err := s.deps.Chain.CurrentEpoch(ctx, s.opts.EpochIdentifier)
		if err != nil {
			return 0, 0, false, fmt.Errorf("query current epoch: %w", err)
		}
		return epoch, 0, true, nil
	}

	block, err := s.deps.Chain.LatestBlock(ctx)
	if err != nil {
		return 0, 0, false, fmt.Errorf("query latest block: %w", err)
	}
	s.deps.Recorder.SetHeight(block.Height)
	if block.Height <= s.lastHeight {
		return 0, block.Height, false, nil
	}
	s.lastHeight = block.Height

	if s.votePeriod == 0 {
		params, err := s.deps.Chain.OracleParams(ctx)
		if err != nil {
			return 0, block.Height, false, fmt.Errorf("fetch oracle params: %w", err)
		}
		if params.VotePeriod == 0 {
			return 0, block.Height, false, errors.New("oracle vote_period is zero")
		}
		s.votePeriod = params.VotePeriod
	}

	round, remaining := BlockRound(block.Height, s.votePeriod)
	if round <= s.lastRound {
		return round, block.Height, false, nil
	}
	if remaining != 0 && remaining <= s.opts.MinBlocksBeforeRoundEnd {
		s.logger.Info().Int64("height", block.Height).Int64("blocks_left", remaining).Msg("too close to round end, waiting for next round")
		return round, block.Height, false, nil
	}
	return round, block.Height, true, nil
}

// BlockRound maps a block height onto the round the next block belongs to
// and the number of blocks left in the round containing height.
func BlockRound(height int64, votePeriod uint64) (round uint64, remaining int64) {
	if height <= 0 || votePeriod == 0 {
		return 0, 0
	}
	vp := int64(votePeriod)
	current := (height - 1) / vp
	round = uint64(height / vp)
	remaining = (current+1)*vp - height
	return round, remaining
}

func (s *Service) persist(ctx context.Context, round uint64, height int64, state vote.State, res vote.Result, vector pricing.PriceVector, market decimal.Decimal) {
	if s.deps.Store == nil {
		return
	}

	record := storage.VoteRound{
		Round:           round,
		CycleID:         res.CycleID,
		Height:          height,
		PriceString:     state.PriceString,
		Salt:            state.Salt,
		Hash:            state.Hash,
		HashMatched:     res.HashMatched,
		VoteTxHash:      optional(res.Vote.TxHash),
		VoteStatus:      sideStatus(res.Vote, res.HashMatched),
		VoteAttempts:    res.Vote.Attempts,
		PrevoteTxHash:   optional(res.Prevote.TxHash),
		PrevoteStatus:   sideStatus(res.Prevote, true),
		PrevoteAttempts: res.Prevote.Attempts,
	}
	if err := errors.Join(res.Vote.Err, res.Prevote.Err); err != nil {
		msg := err.Error()
		record.Error = &msg
	}

	points := make([]storage.PricePoint, 0, vector.Len())
	for _, denom := range vector.Denoms() {
		price, _ := vector.Price(denom)
		points = append(points, storage.PricePoint{Round: round, Denom: denom, Price: price, MarketUSD: market})
	}

	if err := s.deps.Store.SaveRound(ctx, record, points); err != nil {
		s.logger.Error().Err(err).Uint64("round", round).Msg("failed to persist vote round")
	}
}

func (s *Service) reportCycleFailures(ctx context.Context, now time.Time, round uint64, height int64, res vote.Result) {
	if res.HashMatched && !res.Vote.Confirmed {
		s.notify(ctx, alerting.Notification{
			Kind:       alerting.KindVoteFailed,
			Round:      round,
			Height:     height,
			OccurredAt: now,
			Summary:    fmt.Sprintf("vote not confirmed after %d attempts: %v", res.Vote.Attempts, res.Vote.Err),
		})
	}
	if !res.Prevote.Confirmed {
		s.notify(ctx, alerting.Notification{
			Kind:       alerting.KindPrevoteFailed,
			Round:      round,
			Height:     height,
			OccurredAt: now,
			Summary:    fmt.Sprintf("prevote not confirmed after %d attempts: %v", res.Prevote.Attempts, res.Prevote.Err),
		})
	}
}

func (s *Service) reportAggregationFailure(ctx context.Context, now time.Time, round uint64, height int64, err error) {
	s.logger.Error().Err(err).Uint64("round", round).Msg("skipping round, no transaction submitted")
	if s.failedRound == round {
		return
	}
	s.failedRound = round
	s.notify(ctx, alerting.Notification{
		Kind:       alerting.KindAggregationFailed,
		Round:      round,
		Height:     height,
		OccurredAt: now,
		Summary:    err.Error(),
	})
}

func (s *Service) checkMisses(ctx context.Context, now time.Time, round uint64, height int64) {
	misses, err := s.deps.Chain.MissCounter(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to query miss counter")
		return
	}
	s.deps.Recorder.SetMisses(misses)

	previous, known := s.misses, s.missesKnown
	s.misses, s.missesKnown = misses, true
	if !known || misses <= previous {
		return
	}

	s.logger.Error().Uint64("previous", previous).Uint64("misses", misses).Msg("oracle misses increased")
	if s.opts.MissAlerts {
		s.notify(ctx, alerting.Notification{
			Kind:       alerting.KindMissIncrease,
			Round:      round,
			Height:     height,
			OccurredAt: now,
			Summary:    fmt.Sprintf("oracle misses went from %d to %d", previous, misses),
		})
	}
}

func (s *Service) notify(ctx context.Context, note alerting.Notification) {
	if !s.opts.AlertsEnabled || s.deps.Notifier == nil {
		return
	}
	note.Channels = s.opts.Channels

	if s.deps.AlertStore != nil {
		record := storage.AlertRecord{
			Round:    note.Round,
			Kind:     note.Kind,
			Message:  note.Summary,
			Channels: note.Channels,
		}
		if _, err := s.deps.AlertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Uint64("round", note.Round).Msg("failed to persist alert record")
		}
	}
	if err := s.deps.Notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Uint64("round", note.Round).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func sideStatus(side vote.SideResult, attempted bool) string {
	switch {
	case !attempted || side.Attempts == 0:
		return storage.StatusSkipped
	case side.Confirmed:
		return storage.StatusConfirmed
	default:
		return storage.StatusFailed
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
