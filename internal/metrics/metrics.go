// Package metrics exposes the feeder's Prometheus collectors. The collector
// implements the observer interfaces of the aggregator, the vote controller
// and the chain client so the core packages stay free of Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oracle-feeder/internal/aggregate"
	"oracle-feeder/internal/chain"
	"oracle-feeder/internal/vote"
)

const namespace = "oracle_feeder"

// Collector owns a private registry with every feeder metric.
type Collector struct {
	registry *prometheus.Registry

	votes           prometheus.Counter
	misses          prometheus.Gauge
	height          prometheus.Gauge
	round           prometheus.Gauge
	marketPrice     *prometheus.GaugeVec
	txOutcomes      *prometheus.CounterVec
	sourceFailures  *prometheus.CounterVec
	requestErrors   *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	cyclesCompleted *prometheus.CounterVec
}

// New registers the collectors.
func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.votes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "votes_total",
		Help:      "Dual vote/prevote cycles attempted",
	})
	c.misses = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "misses",
		Help:      "Oracle miss counter of the validator",
	})
	c.height = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "height",
		Help:      "Latest block height seen on the LCD node",
	})
	c.round = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "round",
		Help:      "Last voting round processed",
	})
	c.marketPrice = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "market_price",
		Help:      "Last submitted price per denom",
	}, []string{"denom"})
	c.txOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tx_total",
		Help:      "Oracle transaction attempts by kind and result",
	}, []string{"kind", "result"})
	c.sourceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "source",
		Name:      "failures_total",
		Help:      "Rate source fetch failures",
	}, []string{"source"})
	c.requestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "request",
		Name:      "errors_total",
		Help:      "Outbound request error count",
	}, []string{"remote"})
	c.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "request",
		Name:      "latency_seconds",
		Help:      "Outbound request latency",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
	}, []string{"remote"})
	c.cyclesCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Completed vote cycles by mode",
	}, []string{"mode"})

	c.registry.MustRegister(
		c.votes,
		c.misses,
		c.height,
		c.round,
		c.marketPrice,
		c.txOutcomes,
		c.sourceFailures,
		c.requestErrors,
		c.requestLatency,
		c.cyclesCompleted,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// SourceFailed implements aggregate.Observer.
func (c *Collector) SourceFailed(source string) {
	c.sourceFailures.WithLabelValues(source).Inc()
	c.requestErrors.WithLabelValues(source).Inc()
}

// SourceLatency implements aggregate.Observer.
func (c *Collector) SourceLatency(source string, d time.Duration) {
	c.requestLatency.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveRequest implements chain.RequestObserver.
func (c *Collector) ObserveRequest(remote string, d time.Duration, err error) {
	c.requestLatency.WithLabelValues(remote).Observe(d.Seconds())
	if err != nil {
		c.requestErrors.WithLabelValues(remote).Inc()
	}
}

// VoteAttempt implements vote.Observer.
func (c *Collector) VoteAttempt() { c.votes.Inc() }

// TxOutcome implements vote.Observer.
func (c *Collector) TxOutcome(kind vote.Kind, confirmed bool) {
	result := "failed"
	if confirmed {
		result = "confirmed"
	}
	c.txOutcomes.WithLabelValues(string(kind), result).Inc()
}

// SetHeight records the latest block height.
func (c *Collector) SetHeight(height int64) { c.height.Set(float64(height)) }

// SetMisses records the validator's miss counter.
func (c *Collector) SetMisses(misses uint64) { c.misses.Set(float64(misses)) }

// SetRound records the last processed round.
func (c *Collector) SetRound(round uint64) { c.round.Set(float64(round)) }

// SetPrice records the submitted price of denom.
func (c *Collector) SetPrice(denom string, price decimal.Decimal) {
	c.marketPrice.WithLabelValues(denom).Set(price.InexactFloat64())
}

// CycleCompleted counts a finished vote cycle.
func (c *Collector) CycleCompleted(hashMatched bool) {
	mode := "prevote_only"
	if hashMatched {
		mode = "vote_and_prevote"
	}
	c.cyclesCompleted.WithLabelValues(mode).Inc()
}

// Serve exposes /metrics on listen until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, listen string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", listen).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

var (
	_ aggregate.Observer    = (*Collector)(nil)
	_ vote.Observer         = (*Collector)(nil)
	_ chain.RequestObserver = (*Collector)(nil)
)
