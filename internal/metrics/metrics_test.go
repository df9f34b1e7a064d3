package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"oracle-feeder/internal/vote"
)

func TestCollectorCounters(t *testing.T) {
	c := New()

	c.VoteAttempt()
	c.VoteAttempt()
	c.TxOutcome(vote.KindPrevote, true)
	c.TxOutcome(vote.KindVote, false)
	c.SourceFailed("band")
	c.ObserveRequest("lcd", 10*time.Millisecond, errors.New("timeout"))
	c.SetMisses(3)
	c.SetHeight(1200)

	require.Equal(t, 2.0, testutil.ToFloat64(c.votes))
	require.Equal(t, 1.0, testutil.ToFloat64(c.txOutcomes.WithLabelValues("prevote", "confirmed")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.txOutcomes.WithLabelValues("vote", "failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.sourceFailures.WithLabelValues("band")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.requestErrors.WithLabelValues("lcd")))
	require.Equal(t, 3.0, testutil.ToFloat64(c.misses))
	require.Equal(t, 1200.0, testutil.ToFloat64(c.height))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.SetPrice("ukhd", decimal.RequireFromString("1.5"))
	c.CycleCompleted(true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	text := string(body)
	require.True(t, strings.Contains(text, `oracle_feeder_market_price{denom="ukhd"} 1.5`), text)
	require.True(t, strings.Contains(text, `oracle_feeder_cycles_total{mode="vote_and_prevote"} 1`), text)
}
