package app

import (
	"fmt"

	"oracle-feeder/internal/source"
)

// newSources builds the market and FX sources named in the pricing
// section. Configured EVM feeds are always appended.
func (a *App) newSources() ([]source.Source, error) {
	cfg := a.Config.Sources
	timeout := a.Config.Pricing.SourceTimeout

	var band *source.Band
	getBand := func() *source.Band {
		if band == nil {
			band = source.NewBand(source.BandOptions{
				Endpoint:  cfg.Band.Endpoint,
				AskCount:  cfg.Band.AskCount,
				MinCount:  cfg.Band.MinCount,
				Timeout:   timeout,
				UserAgent: cfg.UserAgent,
			}, a.Logger)
		}
		return band
	}

	var sources []source.Source
	for _, name := range a.Config.Pricing.MarketProviders {
		switch name {
		case "osmosis":
			sources = append(sources, source.NewOsmosis(source.OsmosisOptions{
				LCDURL:      cfg.Osmosis.LCDURL,
				PoolID:      cfg.Osmosis.PoolID,
				BaseAsset:   cfg.Osmosis.BaseAsset,
				QuoteAsset:  cfg.Osmosis.QuoteAsset,
				QuoteSymbol: cfg.Osmosis.QuoteSymbol,
				Symbol:      a.Config.Pricing.MarketSymbol,
				Timeout:     timeout,
				UserAgent:   cfg.UserAgent,
			}, getBand(), a.Logger))
		default:
			return nil, fmt.Errorf("unknown market provider %q", name)
		}
	}

	for _, name := range a.Config.Pricing.FXProviders {
		switch name {
		case "band":
			sources = append(sources, source.NewBandFX(getBand(), a.Config.Pricing.FXSymbols))
		case "alphavantage":
			sources = append(sources, source.NewAlphaVantage(source.AlphaVantageOptions{
				BaseURL:           cfg.AlphaVantage.BaseURL,
				APIKey:            cfg.AlphaVantage.APIKey,
				Symbols:           a.Config.Pricing.FXSymbols,
				RequestsPerMinute: cfg.AlphaVantage.RequestsPerMinute,
				Timeout:           timeout,
				UserAgent:         cfg.UserAgent,
			}, a.Logger))
		default:
			return nil, fmt.Errorf("unknown fx provider %q", name)
		}
	}

	for _, feed := range cfg.EVMFeeds {
		kind, err := source.ParseKind(feed.Kind)
		if err != nil {
			return nil, fmt.Errorf("evm feed %s: %w", feed.Name, err)
		}
		sources = append(sources, source.NewEVMFeed(source.EVMFeedOptions{
			Name:     feed.Name,
			Kind:     kind,
			RPCURL:   feed.RPCURL,
			Address:  feed.Address,
			Key:      feed.Key,
			Decimals: feed.Decimals,
			Invert:   feed.Invert,
			Timeout:  timeout,
			MaxAge:   feed.MaxAge,
		}, a.Logger))
	}

	return sources, nil
}
