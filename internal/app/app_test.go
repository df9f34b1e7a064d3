package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oracle-feeder/internal/commit"
	"oracle-feeder/internal/config"
	"oracle-feeder/internal/storage"
)

func testApp(cfg *config.Config) (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func simulateConfig() *config.Config {
	return &config.Config{
		Signer: config.SignerConfig{Validator: "symphonyvaloper1abc"},
		Pricing: config.PricingConfig{
			BaseDenom:    "uusd",
			FXMap:        map[string]string{"ukhd": "HKD", "uvnd": "INR"},
			Precision:    12,
			MarketSymbol: "MLD",
		},
	}
}

func TestSimulateWithStaticRates(t *testing.T) {
	a, out := testApp(simulateConfig())

	res, err := a.Simulate(context.Background(), SimulateOptions{
		Market:    decimal.NewFromInt(2),
		FX:        map[string]decimal.Decimal{"hkd": decimal.NewFromInt(8)},
		Whitelist: []string{"uusd", "ukhd", "uvnd"},
	})
	if err != nil {
		t.Fatalf("Simulate 返回错误: %v", err)
	}

	if got, want := res.Commitment.PriceString, "0.0625ukhd,0.5uusd,0uvnd"; got != want {
		t.Fatalf("price string = %s, want %s", got, want)
	}
	if !res.Commitment.Verify() {
		t.Fatal("commitment should verify")
	}
	if len(res.Commitment.Salt) != commit.SaltLength {
		t.Fatalf("unexpected salt %q", res.Commitment.Salt)
	}

	a.PrintSimulation(res)
	printed := out.String()
	for _, want := range []string{"ukhd", "0.0625", "hash:   " + res.Commitment.Hash} {
		if !strings.Contains(printed, want) {
			t.Fatalf("output missing %q:\n%s", want, printed)
		}
	}
}

func TestSimulateRequiresValidator(t *testing.T) {
	cfg := simulateConfig()
	cfg.Signer.Validator = ""
	a, _ := testApp(cfg)

	_, err := a.Simulate(context.Background(), SimulateOptions{
		Market:    decimal.NewFromInt(1),
		Whitelist: []string{"uusd"},
	})
	if err == nil {
		t.Fatal("expected error without validator")
	}
}

func TestNewSourcesRejectsUnknownProvider(t *testing.T) {
	cfg := simulateConfig()
	cfg.Pricing.MarketProviders = []string{"osmosis"}
	cfg.Pricing.FXProviders = []string{"band", "alphavantage"}
	cfg.Sources.EVMFeeds = []config.EVMFeedConfig{{Name: "eurusd", Kind: "fx", RPCURL: "http://localhost:8545", Address: "0x01", Key: "EUR", Invert: true}}
	a, _ := testApp(cfg)

	sources, err := a.newSources()
	if err != nil {
		t.Fatalf("newSources: %v", err)
	}
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name())
	}
	if got := strings.Join(names, ","); got != "osmosis,band,alphavantage,eurusd" {
		t.Fatalf("unexpected sources %s", got)
	}

	cfg.Pricing.FXProviders = []string{"coingecko"}
	if _, err := a.newSources(); err == nil {
		t.Fatal("expected error for unknown fx provider")
	}

	cfg.Pricing.FXProviders = nil
	cfg.Sources.EVMFeeds[0].Kind = "spot"
	if _, err := a.newSources(); err == nil {
		t.Fatal("expected error for unknown feed kind")
	}
}

func TestVerifyRound(t *testing.T) {
	const validator = "symphonyvaloper1abc"
	priceString := "1ukhd,0.5uusd"
	good := storage.VoteRound{Round: 9, PriceString: priceString, Salt: "1234", Hash: commit.MakeHash("1234", priceString, validator)}

	if v := verifyRound(good, validator); v.Err != nil {
		t.Fatalf("expected stored round to verify, got %v", v.Err)
	}

	cases := map[string]storage.VoteRound{
		"wrong hash":    {Round: 1, PriceString: priceString, Salt: "1234", Hash: "00"},
		"wrong salt":    {Round: 2, PriceString: priceString, Salt: "12345", Hash: good.Hash},
		"not canonical": {Round: 3, PriceString: "0.5uusd,1ukhd", Salt: "1234", Hash: good.Hash},
		"garbage":       {Round: 4, PriceString: "uusd", Salt: "1234", Hash: good.Hash},
	}
	for name, round := range cases {
		if v := verifyRound(round, validator); v.Err == nil {
			t.Fatalf("%s: expected verification failure", name)
		}
	}

	if v := verifyRound(good, "symphonyvaloper1other"); v.Err == nil {
		t.Fatal("hash must bind the validator")
	}
}

func TestSelectRoundsDownsamples(t *testing.T) {
	var points []storage.PricePoint
	for r := uint64(1); r <= 10; r++ {
		for _, denom := range []string{"ukhd", "uusd"} {
			points = append(points, storage.PricePoint{Round: r, Denom: denom, Price: decimal.NewFromInt(int64(r))})
		}
	}

	selected := selectRounds(points, 4)
	if len(selected) != 8 {
		t.Fatalf("expected 4 rounds x 2 denoms, got %d points", len(selected))
	}
	if selected[0].Round != 1 || selected[len(selected)-1].Round != 10 {
		t.Fatalf("downsample must keep first and last rounds, got %d..%d", selected[0].Round, selected[len(selected)-1].Round)
	}

	if all := selectRounds(points, 0); len(all) != len(points) {
		t.Fatalf("max 0 keeps everything, got %d", len(all))
	}
	if one := downsample([]int{1, 2, 3}, 1); len(one) != 1 || one[0] != 3 {
		t.Fatalf("max 1 keeps the latest item, got %v", one)
	}
}

func TestCommandsRequireDatabase(t *testing.T) {
	cfg := simulateConfig()
	cfg.Export.MaxRounds = 10
	a, _ := testApp(cfg)
	ctx := context.Background()

	if err := a.Show(ctx, ShowOptions{Limit: 5}); err == nil {
		t.Fatal("show should fail without database")
	}
	if err := a.Verify(ctx, VerifyOptions{Limit: 5}); err == nil {
		t.Fatal("verify should fail without database")
	}
	if err := a.Export(ctx, ExportOptions{CSVPath: "out.csv"}); err == nil {
		t.Fatal("export should fail without database")
	}
	if err := a.Export(ctx, ExportOptions{}); err == nil || errors.Is(err, storage.ErrNotConfigured) {
		t.Fatalf("export without outputs should fail fast, got %v", err)
	}
}
