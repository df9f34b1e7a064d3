package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BandOptions parameterise the Band standard dataset client.
type BandOptions struct {
	Endpoint  string
	AskCount  int
	MinCount  int
	Timeout   time.Duration
	UserAgent string
}

// Band queries USD prices from the Band standard dataset.
type Band struct {
	opts     BandOptions
	logger   zerolog.Logger
	client   *http.Client
	endpoint string
}

// NewBand constructs a Band client.
func NewBand(opts BandOptions, logger zerolog.Logger) *Band {
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://laozi1.bandchain.org/api/oracle/v1"
	}
	if opts.AskCount <= 0 {
		opts.AskCount = 16
	}
	if opts.MinCount <= 0 {
		opts.MinCount = 10
	}

	return &Band{
		opts:     opts,
		logger:   logger.With().Str("component", "band_source").Logger(),
		client:   newHTTPClient(opts.Timeout),
		endpoint: endpoint,
	}
}

// USDPrices returns the USD price of each requested symbol. Symbols the
// dataset does not report are absent from the result.
func (b *Band) USDPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if len(symbols) == 0 {
		return nil, errors.New("band: no symbols requested")
	}

	params := url.Values{}
	params.Set("ask_count", strconv.Itoa(b.opts.AskCount))
	params.Set("min_count", strconv.Itoa(b.opts.MinCount))
	for _, symbol := range symbols {
		params.Add("symbols", symbol)
	}

	payload, err := getBody(ctx, b.client, "band", b.endpoint+"/request_prices?"+params.Encode(), b.opts.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("band request prices: %w", err)
	}

	var res bandPricesResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("band decode: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(res.PriceResults))
	for _, r := range res.PriceResults {
		if r.Symbol == "" {
			continue
		}
		px, err := decimal.NewFromString(r.Px)
		if err != nil {
			b.logger.Warn().Err(err).Str("symbol", r.Symbol).Msg("skip unparsable px")
			continue
		}
		multiplier := decimal.NewFromInt(1)
		if r.Multiplier != "" {
			if multiplier, err = decimal.NewFromString(r.Multiplier); err != nil || multiplier.IsZero() {
				b.logger.Warn().Str("symbol", r.Symbol).Str("multiplier", r.Multiplier).Msg("skip invalid multiplier")
				continue
			}
		}
		if !px.IsPositive() {
			continue
		}
		prices[strings.ToUpper(r.Symbol)] = px.Div(multiplier)
	}
	return prices, nil
}

type bandPricesResponse struct {
	PriceResults []struct {
		Symbol     string `json:"symbol"`
		Multiplier string `json:"multiplier"`
		Px         string `json:"px"`
		RequestID  string `json:"request_id"`
	} `json:"price_results"`
}

// BandFX reports FX rates (units of currency per USD) from Band prices.
type BandFX struct {
	band    *Band
	symbols []string
}

// NewBandFX wraps a Band client as an FX source for the given symbols.
func NewBandFX(band *Band, symbols []string) *BandFX {
	return &BandFX{band: band, symbols: symbols}
}

// Name implements Source.
func (s *BandFX) Name() string { return "band" }

// Kind implements Source.
func (s *BandFX) Kind() Kind { return KindFX }

// Fetch implements Source.
func (s *BandFX) Fetch(ctx context.Context) ([]Quote, error) {
	prices, err := s.band.USDPrices(ctx, s.symbols)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	quotes := []Quote{{Source: s.Name(), Key: QuoteCurrency, Value: decimal.NewFromInt(1), ObservedAt: now}}
	for _, symbol := range s.symbols {
		usd, ok := prices[strings.ToUpper(symbol)]
		if !ok {
			s.band.logger.Warn().Str("symbol", symbol).Msg("symbol missing from band response")
			continue
		}
		quotes = append(quotes, Quote{
			Source:     s.Name(),
			Key:        strings.ToUpper(symbol),
			Value:      decimal.NewFromInt(1).DivRound(usd, 18),
			ObservedAt: now,
		})
	}
	return quotes, nil
}

var _ Source = (*BandFX)(nil)
