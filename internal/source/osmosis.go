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
)

// USDPricer resolves USD prices for symbols; Band satisfies it.
type USDPricer interface {
	USDPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// OsmosisOptions parameterise the Osmosis pool market source.
type OsmosisOptions struct {
	LCDURL      string
	PoolID      string
	BaseAsset   string
	QuoteAsset  string
	QuoteSymbol string
	// Symbol is the key the market quote is reported under.
	Symbol    string
	Timeout   time.Duration
	UserAgent string
}

// Osmosis prices the base asset in USD from a liquidity pool spot price
// and the USD price of the pool's quote asset.
type Osmosis struct {
	opts    OsmosisOptions
	logger  zerolog.Logger
	client  *http.Client
	pricer  USDPricer
	baseURL string
}

// NewOsmosis constructs the pool source.
func NewOsmosis(opts OsmosisOptions, pricer USDPricer, logger zerolog.Logger) *Osmosis {
	baseURL := strings.TrimRight(opts.LCDURL, "/")
	if baseURL == "" {
		baseURL = "https://lcd.osmosis.zone"
	}
	if opts.QuoteSymbol == "" {
		opts.QuoteSymbol = "OSMO"
	}
	return &Osmosis{
		opts:    opts,
		logger:  logger.With().Str("component", "osmosis_source").Logger(),
		client:  newHTTPClient(opts.Timeout),
		pricer:  pricer,
		baseURL: baseURL,
	}
}

// Name implements Source.
func (o *Osmosis) Name() string { return "osmosis" }

// Kind implements Source.
func (o *Osmosis) Kind() Kind { return KindMarket }

// Fetch implements Source.
func (o *Osmosis) Fetch(ctx context.Context) ([]Quote, error) {
	if o.opts.PoolID == "" || o.opts.BaseAsset == "" || o.opts.QuoteAsset == "" {
		return nil, errors.New("osmosis pool id, base asset and quote asset required")
	}
	if o.pricer == nil {
		return nil, errors.New("osmosis: quote asset pricer not configured")
	}

	spot, err := o.spotPrice(ctx)
	if err != nil {
		return nil, err
	}

	prices, err := o.pricer.USDPrices(ctx, []string{o.opts.QuoteSymbol})
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", o.opts.QuoteSymbol, err)
	}
	quoteUSD, ok := prices[strings.ToUpper(o.opts.QuoteSymbol)]
	if !ok || !quoteUSD.IsPositive() {
		return nil, fmt.Errorf("osmosis: no usd price for %s", o.opts.QuoteSymbol)
	}

	// The gamm prices query reports base units per quote unit.
	usd := quoteUSD.DivRound(spot, 18)
	o.logger.Debug().Str("spot", spot.String()).Str("quote_usd", quoteUSD.String()).Str("usd", usd.String()).Msg("market price computed")

	return []Quote{{
		Source:     o.Name(),
		Key:        o.opts.Symbol,
		Value:      usd,
		ObservedAt: time.Now().UTC(),
	}}, nil
}

func (o *Osmosis) spotPrice(ctx context.Context) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("base_asset_denom", o.opts.BaseAsset)
	params.Set("quote_asset_denom", o.opts.QuoteAsset)
	endpoint := fmt.Sprintf("%s/osmosis/gamm/v1beta1/pools/%s/prices?%s", o.baseURL, url.PathEscape(o.opts.PoolID), params.Encode())

	payload, err := getBody(ctx, o.client, "osmosis", endpoint, o.opts.UserAgent)
	if err != nil {
		return decimal.Decimal{}, err
	}

	raw := gjson.GetBytes(payload, "spot_price")
	if !raw.Exists() {
		return decimal.Decimal{}, errors.New("osmosis: spot_price missing from payload")
	}
	spot, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse spot price: %w", err)
	}
	if !spot.IsPositive() {
		return decimal.Decimal{}, errors.New("osmosis: spot price must be positive")
	}
	return spot, nil
}

var _ Source = (*Osmosis)(nil)
