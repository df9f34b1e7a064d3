package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"oracle-feeder/internal/storage"
)

// Export renders submitted prices as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxRounds = a.Config.ResolveMaxRounds(opts.MaxRounds)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := opts.ToRound
	if to == 0 {
		latest, err := store.LatestRound(ctx)
		if errors.Is(err, storage.ErrNoRounds) {
			a.Logger.Info().Msg("no rounds recorded, nothing to export")
			return nil
		}
		if err != nil {
			return err
		}
		to = latest.Round
	}

	from := opts.FromRound
	if from == 0 && to >= uint64(opts.MaxRounds) {
		from = to - uint64(opts.MaxRounds) + 1
	}
	if from > to {
		return errors.New("from round must not be after to round")
	}

	points, err := store.ListPricePoints(ctx, from, to)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Uint64("from", from).Uint64("to", to).Msg("no price points found for export window")
		return nil
	}

	selected := selectRounds(points, opts.MaxRounds)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(selected)).Msg("exporting price points")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, selected); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePointsPNG(opts.PNGPath, selected); err != nil {
			return err
		}
	}

	return nil
}

// selectRounds keeps the points of at most max evenly spaced rounds.
func selectRounds(points []storage.PricePoint, max int) []storage.PricePoint {
	seen := make(map[uint64]struct{})
	var rounds []uint64
	for _, p := range points {
		if _, ok := seen[p.Round]; !ok {
			seen[p.Round] = struct{}{}
			rounds = append(rounds, p.Round)
		}
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i] < rounds[j] })

	keep := make(map[uint64]struct{})
	for _, r := range downsample(rounds, max) {
		keep[r] = struct{}{}
	}

	result := make([]storage.PricePoint, 0, len(points))
	for _, p := range points {
		if _, ok := keep[p.Round]; ok {
			result = append(result, p)
		}
	}
	return result
}

func downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[len(items)-1:]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func writePointsCSV(path string, points []storage.PricePoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"round", "denom", "price", "market_usd", "created_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			fmt.Sprintf("%d", p.Round),
			p.Denom,
			p.Price.String(),
			p.MarketUSD.String(),
			p.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

type denomSeries struct {
	rounds []float64
	prices []float64
}

func writePointsPNG(path string, points []storage.PricePoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	byDenom := make(map[string]*denomSeries)
	marketByRound := make(map[uint64]float64)
	for _, p := range points {
		s, ok := byDenom[p.Denom]
		if !ok {
			s = &denomSeries{}
			byDenom[p.Denom] = s
		}
		s.rounds = append(s.rounds, float64(p.Round))
		s.prices = append(s.prices, p.Price.InexactFloat64())
		marketByRound[p.Round] = p.MarketUSD.InexactFloat64()
	}

	denoms := make([]string, 0, len(byDenom))
	for denom := range byDenom {
		denoms = append(denoms, denom)
	}
	sort.Strings(denoms)

	series := make([]chart.Series, 0, len(denoms)+1)
	for _, denom := range denoms {
		s := byDenom[denom]
		series = append(series, chart.ContinuousSeries{
			Name:    denom,
			XValues: s.rounds,
			YValues: s.prices,
		})
	}

	marketRounds := make([]uint64, 0, len(marketByRound))
	for r := range marketByRound {
		marketRounds = append(marketRounds, r)
	}
	sort.Slice(marketRounds, func(i, j int) bool { return marketRounds[i] < marketRounds[j] })
	mx := make([]float64, len(marketRounds))
	my := make([]float64, len(marketRounds))
	for i, r := range marketRounds {
		mx[i] = float64(r)
		my[i] = marketByRound[r]
	}
	series = append(series, chart.ContinuousSeries{
		Name:    "market USD",
		XValues: mx,
		YValues: my,
		YAxis:   chart.YAxisSecondary,
	})

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.6f")
	}
	roundFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name:           "Round",
			ValueFormatter: roundFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (denom per base asset)",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Market (USD)",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
