package vote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"oracle-feeder/internal/chain/chaintest"
	"oracle-feeder/internal/commit"
	"oracle-feeder/internal/pricing"
)

const (
	testSender    = "symphony1feeder"
	testValidator = "symphonyvaloper1abc"
)

type countingObserver struct {
	voteAttempts int
	outcomes     map[Kind][]bool
}

func (o *countingObserver) VoteAttempt() { o.voteAttempts++ }

func (o *countingObserver) TxOutcome(kind Kind, confirmed bool) {
	if o.outcomes == nil {
		o.outcomes = map[Kind][]bool{}
	}
	o.outcomes[kind] = append(o.outcomes[kind], confirmed)
}

func newController(t *testing.T, fake *chaintest.Fake, obs Observer) *Controller {
	t.Helper()
	clock := time.Unix(0, 1700000000000000000)
	ctrl, err := NewController(fake, Options{
		Sender:        testSender,
		Validator:     testValidator,
		MaxRetries:    2,
		BlockWait:     time.Second,
		IndexAttempts: 3,
		IndexDelay:    time.Millisecond,
		Now: func() time.Time {
			clock = clock.Add(time.Nanosecond)
			return clock
		},
	}, obs, zerolog.Nop())
	require.NoError(t, err)
	return ctrl
}

func testVector(usd, khd string) pricing.PriceVector {
	return pricing.NewPriceVector(map[string]decimal.Decimal{
		"uusd": decimal.RequireFromString(usd),
		"ukhd": decimal.RequireFromString(khd),
	})
}

func TestNewControllerRequiresSender(t *testing.T) {
	_, err := NewController(chaintest.NewFake("uusd"), Options{Validator: testValidator}, nil, zerolog.Nop())
	require.ErrorIs(t, err, ErrNoSender)
}

func TestNewControllerRequiresValidator(t *testing.T) {
	_, err := NewController(chaintest.NewFake("uusd"), Options{Sender: testSender}, nil, zerolog.Nop())
	require.ErrorIs(t, err, ErrNoValidator)
}

func TestCheckHashMatch(t *testing.T) {
	require.False(t, CheckHashMatch("", ""))
	require.False(t, CheckHashMatch("", "abc"))
	require.False(t, CheckHashMatch("abc", ""))
	require.False(t, CheckHashMatch("abc", "abd"))
	require.True(t, CheckHashMatch("abc", "abc"))
}

func TestRunFirstRoundPrevotesOnly(t *testing.T) {
	fake := chaintest.NewFake("uusd", "ukhd")
	obs := &countingObserver{}
	ctrl := newController(t, fake, obs)

	state, res := ctrl.Run(context.Background(), testVector("0.5", "1"), State{}, 1)

	require.False(t, res.HashMatched)
	require.True(t, res.Prevote.Confirmed)
	require.Equal(t, 1, res.Prevote.Attempts)
	require.Zero(t, res.Vote.Attempts)
	require.Zero(t, obs.voteAttempts)

	require.Equal(t, "1ukhd,0.5uusd", state.PriceString)
	require.Equal(t, commit.MakeHash(state.Salt, state.PriceString, testValidator), state.Hash)
	require.Equal(t, []string{"ukhd", "uusd"}, state.ActiveDenoms)

	votes, prevotes := fake.Submitted()
	require.Empty(t, votes)
	require.Len(t, prevotes, 1)
	require.Equal(t, state.Salt, prevotes[0].Salt)
	require.Equal(t, testSender, prevotes[0].Sender)
	require.Equal(t, testValidator, prevotes[0].Validator)
}

func TestRunRevealsPreviousRoundWhenHashMatches(t *testing.T) {
	fake := chaintest.NewFake("uusd", "ukhd")
	obs := &countingObserver{}
	ctrl := newController(t, fake, obs)

	first, _ := ctrl.Run(context.Background(), testVector("0.5", "1"), State{}, 1)
	second, res := ctrl.Run(context.Background(), testVector("0.25", "2"), first, 2)

	require.True(t, res.HashMatched)
	require.True(t, res.Vote.Confirmed)
	require.True(t, res.Prevote.Confirmed)
	require.Equal(t, 1, obs.voteAttempts)

	votes, prevotes := fake.Submitted()
	require.Len(t, votes, 1)
	require.Equal(t, first.Salt, votes[0].Salt)
	require.Equal(t, "1ukhd,0.5uusd", votes[0].PriceString)
	require.Len(t, prevotes, 2)
	require.Equal(t, second.Salt, prevotes[1].Salt)
	require.Equal(t, "2ukhd,0.25uusd", second.PriceString)
}

func TestRunPrevotesOnlyWhenHashDiffers(t *testing.T) {
	fake := chaintest.NewFake("uusd")
	ctrl := newController(t, fake, nil)

	fake.SetPrevoteHash("ffffffffffffffffffffffffffffffffffffffff")
	_, res := ctrl.Run(context.Background(), testVector("0.5", "1"), State{Hash: "3a8f9e35180c1d9d96031eac1a7a036ed135a804"}, 2)

	require.False(t, res.HashMatched)
	votes, _ := fake.Submitted()
	require.Empty(t, votes)
}

func TestRunTreatsPrevoteReadErrorAsEmpty(t *testing.T) {
	fake := chaintest.NewFake("uusd")
	fake.PrevoteErr = errors.New("lcd down")
	ctrl := newController(t, fake, nil)

	_, res := ctrl.Run(context.Background(), testVector("0.5", "1"), State{Hash: "abc"}, 2)
	require.False(t, res.HashMatched)
	require.True(t, res.Prevote.Confirmed)
}

func TestRunRetryBound(t *testing.T) {
	fake := chaintest.NewFake("uusd")
	fake.FailPrevotes = 10
	obs := &countingObserver{}
	ctrl := newController(t, fake, obs)

	state, res := ctrl.Run(context.Background(), testVector("0.5", "1"), State{}, 1)

	require.False(t, res.Prevote.Confirmed)
	require.Error(t, res.Prevote.Err)
	require.Equal(t, 3, res.Prevote.Attempts)
	require.Equal(t, []bool{false, false, false}, obs.outcomes[KindPrevote])
	require.Equal(t, "1ukhd,0.5uusd", state.PriceString, "state advances even when every attempt fails")

	_, prevotes := fake.Submitted()
	require.Len(t, prevotes, 3)
}

func TestRunRetriesSidesIndependently(t *testing.T) {
	fake := chaintest.NewFake("uusd", "ukhd")
	obs := &countingObserver{}
	ctrl := newController(t, fake, obs)

	first, _ := ctrl.Run(context.Background(), testVector("0.5", "1"), State{}, 1)
	fake.FailVotes = 1

	_, res := ctrl.Run(context.Background(), testVector("0.5", "1"), first, 2)

	require.True(t, res.HashMatched)
	require.True(t, res.Vote.Confirmed)
	require.Equal(t, 2, res.Vote.Attempts)
	require.True(t, res.Prevote.Confirmed)
	require.Equal(t, 1, res.Prevote.Attempts)
	require.Equal(t, 1, obs.voteAttempts, "one dual-mode cycle however many vote retries")

	votes, prevotes := fake.Submitted()
	require.Len(t, votes, 2)
	require.Len(t, prevotes, 2)
}

func TestRunConfirmationFailures(t *testing.T) {
	cases := map[string]func(f *chaintest.Fake){
		"rejected":          func(f *chaintest.Fake) { f.RejectPrevotes = 1 },
		"block wait":        func(f *chaintest.Fake) { f.NextBlockTimeouts = 1 },
		"not indexed":       func(f *chaintest.Fake) { f.UnindexedPolls = 3 },
		"broadcast failure": func(f *chaintest.Fake) { f.FailPrevotes = 1 },
	}
	for name, script := range cases {
		t.Run(name, func(t *testing.T) {
			fake := chaintest.NewFake("uusd")
			script(fake)
			ctrl := newController(t, fake, nil)

			_, res := ctrl.Run(context.Background(), testVector("0.5", "1"), State{}, 1)
			require.True(t, res.Prevote.Confirmed)
			require.Equal(t, 2, res.Prevote.Attempts)
		})
	}
}

func TestRunStopsRetryingOnCancellation(t *testing.T) {
	fake := chaintest.NewFake("uusd")
	fake.FailPrevotes = 10
	ctrl := newController(t, fake, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state, res := ctrl.Run(ctx, testVector("0.5", "1"), State{}, 1)

	require.Zero(t, res.Prevote.Attempts)
	require.NotEmpty(t, state.Hash)
}
