package aggregate

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"oracle-feeder/internal/source"
)

var (
	// ErrNoMarketPrice is returned when no market source produced a usable price.
	ErrNoMarketPrice = errors.New("no market price available")
	// ErrNoFXRates is returned when FX sources were configured but none succeeded.
	ErrNoFXRates = errors.New("no fx rates available")
)

// Rates is the aggregated view of one collection round. FX holds units of
// currency per one USD keyed by currency symbol. A key is present only when
// at least one source reported a positive value for it.
type Rates struct {
	Market decimal.Decimal
	FX     map[string]decimal.Decimal
	Failed []string
}

// Observer receives per-source outcomes.
type Observer interface {
	SourceFailed(source string)
	SourceLatency(source string, d time.Duration)
}

// NopObserver discards every observation.
type NopObserver struct{}

// SourceFailed implements Observer.
func (NopObserver) SourceFailed(string) {}

// SourceLatency implements Observer.
func (NopObserver) SourceLatency(string, time.Duration) {}

// Options bound a collection round.
type Options struct {
	// PerSourceTimeout caps each individual fetch.
	PerSourceTimeout time.Duration
	// FetchTimeout caps the whole round.
	FetchTimeout   time.Duration
	MaxConcurrency int
	// MarketKey restricts market quotes to one key; empty accepts any.
	MarketKey string
}

// Aggregator fans out to rate sources and reduces their quotes to medians.
type Aggregator struct {
	opts     Options
	observer Observer
	logger   zerolog.Logger
}

// New constructs an Aggregator.
func New(opts Options, observer Observer, logger zerolog.Logger) *Aggregator {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Aggregator{
		opts:     opts,
		observer: observer,
		logger:   logger.With().Str("component", "aggregator").Logger(),
	}
}

type fetchResult struct {
	quotes []source.Quote
	err    error
}

// Collect queries every source concurrently and returns the per-key medians.
func (a *Aggregator) Collect(ctx context.Context, sources []source.Source) (Rates, error) {
	if a.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.FetchTimeout)
		defer cancel()
	}

	results := make([]fetchResult, len(sources))
	var g errgroup.Group
	if a.opts.MaxConcurrency > 0 {
		g.SetLimit(a.opts.MaxConcurrency)
	}
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = a.fetchOne(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	fx := make(map[string][]decimal.Decimal)
	var (
		market     []decimal.Decimal
		failed     []string
		fxSources  int
		fxReported int
	)
	for i, src := range sources {
		if src.Kind() == source.KindFX {
			fxSources++
		}
		res := results[i]
		if res.err != nil {
			failed = append(failed, src.Name())
			continue
		}
		valid := 0
		for _, q := range res.quotes {
			if !q.Value.IsPositive() {
				a.logger.Warn().Str("source", src.Name()).Str("key", q.Key).Str("value", q.Value.String()).Msg("discarding non-positive quote")
				continue
			}
			switch src.Kind() {
			case source.KindMarket:
				if a.opts.MarketKey != "" && q.Key != a.opts.MarketKey {
					continue
				}
				market = append(market, q.Value)
			case source.KindFX:
				fx[q.Key] = append(fx[q.Key], q.Value)
			}
			valid++
		}
		if src.Kind() == source.KindFX && valid > 0 {
			fxReported++
		}
	}
	sort.Strings(failed)

	rates := Rates{FX: make(map[string]decimal.Decimal, len(fx)), Failed: failed}
	for key, values := range fx {
		rates.FX[key], _ = Median(values)
	}

	m, ok := Median(market)
	if !ok {
		return rates, ErrNoMarketPrice
	}
	rates.Market = m

	if fxSources > 0 && fxReported == 0 {
		return rates, ErrNoFXRates
	}

	a.logger.Debug().
		Str("market", rates.Market.String()).
		Int("fx_keys", len(rates.FX)).
		Strs("failed", failed).
		Msg("rates aggregated")
	return rates, nil
}

func (a *Aggregator) fetchOne(ctx context.Context, src source.Source) fetchResult {
	if a.opts.PerSourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.PerSourceTimeout)
		defer cancel()
	}

	start := time.Now()
	quotes, err := src.Fetch(ctx)
	a.observer.SourceLatency(src.Name(), time.Since(start))
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		a.observer.SourceFailed(src.Name())
		a.logger.Warn().Err(err).Str("source", src.Name()).Str("kind", string(src.Kind())).Msg("source fetch failed")
		return fetchResult{err: err}
	}
	return fetchResult{quotes: quotes}
}

// Median returns the median of values, averaging the two middle values for
// an even count. It reports false for an empty slice.
func Median(values []decimal.Decimal) (decimal.Decimal, bool) {
	if len(values) == 0 {
		return decimal.Zero, false
	}
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2)), true
}
