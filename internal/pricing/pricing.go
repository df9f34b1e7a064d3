package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oracle-feeder/internal/aggregate"
)

// DefaultPrecision is the number of decimal places submitted prices carry.
const DefaultPrecision int32 = 12

// ErrEmptyWhitelist is returned when the chain reports no whitelisted denoms.
var ErrEmptyWhitelist = errors.New("oracle whitelist is empty")

// Options configure how aggregated rates map onto chain denoms.
type Options struct {
	// BaseDenom is priced directly as 1/market.
	BaseDenom string
	// FXMap maps a chain denom onto the FX currency symbol it tracks.
	FXMap     map[string]string
	Precision int32
}

// PriceVector holds the price of every whitelisted denom expressed in
// units of the reference asset. Denoms that could not be priced are zero.
type PriceVector struct {
	prices map[string]decimal.Decimal
}

// NewPriceVector copies prices into an immutable vector.
func NewPriceVector(prices map[string]decimal.Decimal) PriceVector {
	cp := make(map[string]decimal.Decimal, len(prices))
	for denom, price := range prices {
		cp[denom] = price
	}
	return PriceVector{prices: cp}
}

// Denoms returns the vector's denoms in canonical order.
func (v PriceVector) Denoms() []string {
	denoms := make([]string, 0, len(v.prices))
	for denom := range v.prices {
		denoms = append(denoms, denom)
	}
	sort.Strings(denoms)
	return denoms
}

// Price returns the price of denom.
func (v PriceVector) Price(denom string) (decimal.Decimal, bool) {
	p, ok := v.prices[denom]
	return p, ok
}

// Len reports the number of denoms.
func (v PriceVector) Len() int { return len(v.prices) }

// Priced returns the denoms carrying a non-zero price.
func (v PriceVector) Priced() []string {
	var out []string
	for _, denom := range v.Denoms() {
		if !v.prices[denom].IsZero() {
			out = append(out, denom)
		}
	}
	return out
}

// String renders the canonical price string submitted on chain, e.g.
// "1ukhd,0.5uusd". This exact text is what the commitment hash covers.
func (v PriceVector) String() string {
	denoms := v.Denoms()
	parts := make([]string, 0, len(denoms))
	for _, denom := range denoms {
		parts = append(parts, formatPrice(v.prices[denom])+denom)
	}
	return strings.Join(parts, ",")
}

func formatPrice(p decimal.Decimal) string {
	if p.IsZero() {
		return "0"
	}
	return p.String()
}

// BuildPriceVector converts aggregated rates into a price for every
// whitelisted denom.
func BuildPriceVector(rates aggregate.Rates, whitelist []string, opts Options, logger zerolog.Logger) (PriceVector, error) {
	if len(whitelist) == 0 {
		return PriceVector{}, ErrEmptyWhitelist
	}
	if !rates.Market.IsPositive() {
		return PriceVector{}, fmt.Errorf("build price vector: %w", aggregate.ErrNoMarketPrice)
	}
	precision := opts.Precision
	if precision <= 0 {
		precision = DefaultPrecision
	}

	one := decimal.NewFromInt(1)
	prices := make(map[string]decimal.Decimal, len(whitelist))
	for _, denom := range whitelist {
		prices[denom] = decimal.Zero

		if denom == opts.BaseDenom {
			prices[denom] = one.DivRound(rates.Market, precision)
			continue
		}

		symbol, ok := opts.FXMap[denom]
		if !ok {
			logger.Warn().Str("denom", denom).Msg("no fx mapping for whitelisted denom, submitting zero")
			continue
		}
		fx, ok := rates.FX[symbol]
		if !ok || !fx.IsPositive() {
			logger.Warn().Str("denom", denom).Str("symbol", symbol).Msg("fx rate unavailable, submitting zero")
			continue
		}
		prices[denom] = one.DivRound(rates.Market.Mul(fx), precision)
	}

	return PriceVector{prices: prices}, nil
}

// ParsePriceString parses the canonical price string back into a vector.
func ParsePriceString(s string) (PriceVector, error) {
	prices := make(map[string]decimal.Decimal)
	if strings.TrimSpace(s) == "" {
		return PriceVector{prices: prices}, nil
	}
	for _, entry := range strings.Split(s, ",") {
		idx := strings.IndexFunc(entry, func(r rune) bool {
			return (r < '0' || r > '9') && r != '.' && r != '-'
		})
		if idx <= 0 || idx == len(entry) {
			return PriceVector{}, fmt.Errorf("malformed price entry %q", entry)
		}
		price, err := decimal.NewFromString(entry[:idx])
		if err != nil {
			return PriceVector{}, fmt.Errorf("malformed price entry %q: %w", entry, err)
		}
		denom := entry[idx:]
		if _, dup := prices[denom]; dup {
			return PriceVector{}, fmt.Errorf("duplicate denom %q", denom)
		}
		prices[denom] = price
	}
	return PriceVector{prices: prices}, nil
}
