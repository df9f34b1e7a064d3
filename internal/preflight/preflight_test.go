package preflight

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"oracle-feeder/internal/chain"
	"oracle-feeder/internal/chain/chaintest"
	"oracle-feeder/internal/config"
)

func readyConfig() *config.Config {
	return &config.Config{
		Chain: config.ChainConfig{
			ChainID:       "symphony-testnet-3",
			LCDURL:        "http://localhost:1317",
			ModuleRoute:   "osmosis/oracle/v1beta1",
			AddressPrefix: "symphony",
		},
		Signer: config.SignerConfig{
			Binary:         "symphonyd",
			Validator:      "symphonyvaloper1abc",
			Feeder:         "symphony1feeder",
			KeyringBackend: "test",
			Fees:           "50000note",
		},
		Pricing: config.PricingConfig{
			FXSymbols:       []string{"HKD"},
			FXProviders:     []string{"band"},
			MarketProviders: []string{"osmosis"},
		},
		Sources: config.SourcesConfig{
			Band: config.BandConfig{Endpoint: "https://band.example"},
		},
	}
}

func okRunner(ctx context.Context, binary string, args []string, stdin string) ([]byte, []byte, error) {
	return []byte("v1.0.0"), nil, nil
}

func okLookPath(file string) (string, error) { return "/usr/bin/" + file, nil }

func TestRunOncePasses(t *testing.T) {
	fake := chaintest.NewFake("uusd", "ukhd")
	checker := New(readyConfig(), fake, okRunner, okLookPath, zerolog.Nop())

	report := checker.RunOnce(context.Background())
	require.True(t, report.Passed(), report.Errors())
	require.Len(t, report.Results, len(checker.Checks()))
}

func TestRunOnceReportsFailures(t *testing.T) {
	cases := map[string]struct {
		mutate func(cfg *config.Config, fake *chaintest.Fake)
		check  string
	}{
		"bad validator prefix": {
			mutate: func(cfg *config.Config, _ *chaintest.Fake) { cfg.Signer.Validator = "cosmosvaloper1abc" },
			check:  "address format",
		},
		"syncing node": {
			mutate: func(_ *config.Config, fake *chaintest.Fake) { fake.IsSync = true },
			check:  "lcd health",
		},
		"empty whitelist": {
			mutate: func(_ *config.Config, fake *chaintest.Fake) { fake.Params.Whitelist = nil },
			check:  "oracle module",
		},
		"negative tobin tax": {
			mutate: func(_ *config.Config, fake *chaintest.Fake) {
				fake.Params.Whitelist = []chain.Denom{{Name: "uusd", TobinTax: decimal.NewFromInt(-1)}}
			},
			check: "oracle module",
		},
		"os keyring without password": {
			mutate: func(cfg *config.Config, _ *chaintest.Fake) { cfg.Signer.KeyringBackend = "os" },
			check:  "validator config",
		},
		"no sender": {
			mutate: func(cfg *config.Config, _ *chaintest.Fake) { cfg.Signer.Feeder = "" },
			check:  "validator config",
		},
		"alphavantage without key": {
			mutate: func(cfg *config.Config, _ *chaintest.Fake) { cfg.Pricing.FXProviders = []string{"alphavantage"} },
			check:  "price feeder config",
		},
		"missing chain id": {
			mutate: func(cfg *config.Config, _ *chaintest.Fake) { cfg.Chain.ChainID = "" },
			check:  "environment",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := readyConfig()
			fake := chaintest.NewFake("uusd")
			tc.mutate(cfg, fake)

			report := New(cfg, fake, okRunner, okLookPath, zerolog.Nop()).RunOnce(context.Background())
			require.False(t, report.Passed())
			for _, res := range report.Results {
				if res.Name == tc.check {
					require.Error(t, res.Err)
				} else {
					require.NoError(t, res.Err, res.Name)
				}
			}
		})
	}
}

func TestEnvironmentMissingBinary(t *testing.T) {
	lookPath := func(string) (string, error) { return "", errors.New("not found") }
	checker := New(readyConfig(), chaintest.NewFake("uusd"), okRunner, lookPath, zerolog.Nop())
	require.Error(t, checker.checkEnvironment(context.Background()))
}

func TestWaitForReadyGivesUp(t *testing.T) {
	fake := chaintest.NewFake()
	checker := New(readyConfig(), fake, okRunner, okLookPath, zerolog.Nop())

	report, err := checker.WaitForReady(context.Background(), 2, time.Millisecond)
	require.ErrorIs(t, err, ErrNotReady)
	require.False(t, report.Passed())
}

func TestWaitForReadyRecovers(t *testing.T) {
	fake := chaintest.NewFake("uusd")
	fake.IsSync = true
	checker := New(readyConfig(), fake, okRunner, okLookPath, zerolog.Nop())

	go func() {
		time.Sleep(5 * time.Millisecond)
		fake.SetSyncing(false)
	}()
	report, err := checker.WaitForReady(context.Background(), 50, 2*time.Millisecond)
	require.NoError(t, err)
	require.True(t, report.Passed())
}
