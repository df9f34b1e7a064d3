package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const alphaVantageRatePath = `Realtime Currency Exchange Rate.5\. Exchange Rate`

// AlphaVantageOptions parameterise the AlphaVantage FX source.
type AlphaVantageOptions struct {
	BaseURL           string
	APIKey            string
	Symbols           []string
	RequestsPerMinute int
	Timeout           time.Duration
	UserAgent         string
}

// AlphaVantage queries USD to currency exchange rates one symbol at a time.
// Requests are paced by a token bucket because the API is metered per minute.
type AlphaVantage struct {
	opts    AlphaVantageOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewAlphaVantage constructs the source.
func NewAlphaVantage(opts AlphaVantageOptions, logger zerolog.Logger) *AlphaVantage {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.alphavantage.co"
	}

	limit := rate.Inf
	burst := len(opts.Symbols)
	if opts.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(opts.RequestsPerMinute))
		burst = opts.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1
	}

	return &AlphaVantage{
		opts:    opts,
		logger:  logger.With().Str("component", "alphavantage_source").Logger(),
		client:  newHTTPClient(opts.Timeout),
		limiter: rate.NewLimiter(limit, burst),
		baseURL: baseURL,
	}
}

// Name implements Source.
func (a *AlphaVantage) Name() string { return "alphavantage" }

// Kind implements Source.
func (a *AlphaVantage) Kind() Kind { return KindFX }

// Fetch implements Source. A symbol that fails is skipped; the fetch only
// fails when no symbol could be retrieved.
func (a *AlphaVantage) Fetch(ctx context.Context) ([]Quote, error) {
	if a.opts.APIKey == "" {
		return nil, errors.New("alphavantage api key not configured")
	}
	if len(a.opts.Symbols) == 0 {
		return nil, errors.New("alphavantage: no symbols configured")
	}

	now := time.Now().UTC()
	quotes := []Quote{{Source: a.Name(), Key: QuoteCurrency, Value: decimal.NewFromInt(1), ObservedAt: now}}
	var lastErr error
	for _, symbol := range a.opts.Symbols {
		value, err := a.fetchSymbol(ctx, symbol)
		if err != nil {
			lastErr = err
			a.logger.Warn().Err(err).Str("symbol", symbol).Msg("fx symbol fetch failed")
			if ctx.Err() != nil {
				break
			}
			continue
		}
		quotes = append(quotes, Quote{Source: a.Name(), Key: strings.ToUpper(symbol), Value: value, ObservedAt: now})
	}

	if len(quotes) == 1 && lastErr != nil {
		return nil, fmt.Errorf("alphavantage: all symbols failed: %w", lastErr)
	}
	return quotes, nil
}

func (a *AlphaVantage) fetchSymbol(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return decimal.Decimal{}, err
	}

	params := url.Values{}
	params.Set("function", "CURRENCY_EXCHANGE_RATE")
	params.Set("from_currency", QuoteCurrency)
	params.Set("to_currency", strings.ToUpper(symbol))
	params.Set("apikey", a.opts.APIKey)

	payload, err := getBody(ctx, a.client, "alphavantage", a.baseURL+"/query?"+params.Encode(), a.opts.UserAgent)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if note := gjson.GetBytes(payload, "Note"); note.Exists() {
		return decimal.Decimal{}, fmt.Errorf("alphavantage throttled: %s", note.String())
	}
	if msg := gjson.GetBytes(payload, "Error Message"); msg.Exists() {
		return decimal.Decimal{}, fmt.Errorf("alphavantage error: %s", msg.String())
	}

	raw := gjson.GetBytes(payload, alphaVantageRatePath)
	if !raw.Exists() {
		return decimal.Decimal{}, errors.New("alphavantage: exchange rate missing from payload")
	}
	value, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse exchange rate: %w", err)
	}
	if !value.IsPositive() {
		return decimal.Decimal{}, errors.New("alphavantage: non-positive exchange rate")
	}
	return value, nil
}

var _ Source = (*AlphaVantage)(nil)
