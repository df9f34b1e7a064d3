package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"oracle-feeder/internal/commit"
	"oracle-feeder/internal/pricing"
	"oracle-feeder/internal/source"
)

// SimulateOptions configure a dry-run cycle. A positive Market replaces the
// live sources with static ones; an empty Whitelist is read from the chain.
type SimulateOptions struct {
	Market    decimal.Decimal
	FX        map[string]decimal.Decimal
	Whitelist []string
}

// SimulationResult is the outcome of one dry-run cycle.
type SimulationResult struct {
	Vector     pricing.PriceVector
	Commitment commit.Commitment
	Failed     []string
}

// Simulate 执行一次聚合、校验与承诺计算，不提交任何交易。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) (SimulationResult, error) {
	var sources []source.Source
	if opts.Market.IsPositive() {
		sources = staticSources(a.Config.Pricing.MarketSymbol, opts.Market, opts.FX)
	} else {
		live, err := a.newSources()
		if err != nil {
			return SimulationResult{}, err
		}
		sources = live
	}

	whitelist := opts.Whitelist
	if len(whitelist) == 0 {
		params, err := a.newLCD(nil).OracleParams(ctx)
		if err != nil {
			return SimulationResult{}, fmt.Errorf("fetch whitelist: %w", err)
		}
		whitelist = params.WhitelistNames()
	}

	rates, err := a.newAggregator(nil).Collect(ctx, sources)
	if err != nil {
		return SimulationResult{}, err
	}

	vector, err := pricing.BuildPriceVector(rates, whitelist, a.pricingOptions(), a.Logger)
	if err != nil {
		return SimulationResult{}, err
	}

	validator := a.Config.Signer.Validator
	if validator == "" {
		return SimulationResult{}, errors.New("signer.validator is required to compute the commitment")
	}

	return SimulationResult{
		Vector:     vector,
		Commitment: commit.New(commit.NewSalt(time.Now()), vector.String(), validator),
		Failed:     rates.Failed,
	}, nil
}

// PrintSimulation writes res in a human readable form.
func (a *App) PrintSimulation(res SimulationResult) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Denom\tPrice")
	for _, denom := range res.Vector.Denoms() {
		price, _ := res.Vector.Price(denom)
		fmt.Fprintf(writer, "%s\t%s\n", denom, price.String())
	}
	writer.Flush()

	fmt.Fprintf(a.Out, "\nprices: %s\nsalt:   %s\nhash:   %s\n", res.Commitment.PriceString, res.Commitment.Salt, res.Commitment.Hash)
	if len(res.Failed) > 0 {
		fmt.Fprintf(a.Out, "failed sources: %s\n", strings.Join(res.Failed, ", "))
	}
}

func staticSources(marketSymbol string, market decimal.Decimal, fx map[string]decimal.Decimal) []source.Source {
	quotes := map[string]decimal.Decimal{source.QuoteCurrency: decimal.NewFromInt(1)}
	for key, value := range fx {
		quotes[strings.ToUpper(key)] = value
	}
	return []source.Source{
		source.NewStatic("simulated_market", source.KindMarket, map[string]decimal.Decimal{marketSymbol: market}),
		source.NewStatic("simulated_fx", source.KindFX, quotes),
	}
}
