package pricing

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"oracle-feeder/internal/aggregate"
)

func testOptions() Options {
	return Options{
		BaseDenom: "uusd",
		FXMap:     map[string]string{"uusd": "USD", "ukhd": "HKD", "uvnd": "INR"},
		Precision: 12,
	}
}

func TestBuildPriceVector(t *testing.T) {
	rates := aggregate.Rates{
		Market: decimal.RequireFromString("2.0"),
		FX:     map[string]decimal.Decimal{"USD": decimal.NewFromInt(1), "HKD": decimal.RequireFromString("0.5")},
	}

	vector, err := BuildPriceVector(rates, []string{"uusd", "ukhd"}, testOptions(), zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, []string{"ukhd", "uusd"}, vector.Denoms())

	usd, _ := vector.Price("uusd")
	khd, _ := vector.Price("ukhd")
	require.True(t, usd.Equal(decimal.RequireFromString("0.5")), usd.String())
	require.True(t, khd.Equal(decimal.NewFromInt(1)), khd.String())
	require.Equal(t, "1ukhd,0.5uusd", vector.String())
}

func TestBuildPriceVectorMissingRateIsZero(t *testing.T) {
	rates := aggregate.Rates{
		Market: decimal.NewFromInt(4),
		FX:     map[string]decimal.Decimal{"USD": decimal.NewFromInt(1)},
	}

	vector, err := BuildPriceVector(rates, []string{"uusd", "uvnd", "ueur"}, testOptions(), zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "0ueur,0.25uusd,0uvnd", vector.String())
	require.Equal(t, []string{"uusd"}, vector.Priced())
}

func TestBuildPriceVectorRoundsToPrecision(t *testing.T) {
	rates := aggregate.Rates{Market: decimal.NewFromInt(3)}

	vector, err := BuildPriceVector(rates, []string{"uusd"}, testOptions(), zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "0.333333333333uusd", vector.String())

	opts := testOptions()
	opts.Precision = 4
	vector, err = BuildPriceVector(rates, []string{"uusd"}, opts, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "0.3333uusd", vector.String())
}

func TestBuildPriceVectorErrors(t *testing.T) {
	_, err := BuildPriceVector(aggregate.Rates{Market: decimal.NewFromInt(1)}, nil, testOptions(), zerolog.Nop())
	require.ErrorIs(t, err, ErrEmptyWhitelist)

	_, err = BuildPriceVector(aggregate.Rates{}, []string{"uusd"}, testOptions(), zerolog.Nop())
	require.True(t, errors.Is(err, aggregate.ErrNoMarketPrice))
}

func TestPriceVectorCoversExactlyTheWhitelist(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		whitelist := rapid.SliceOfNDistinct(rapid.StringMatching(`u[a-z]{2,5}`), 1, 12, rapid.ID[string]).Draw(t, "whitelist")
		fx := map[string]decimal.Decimal{}
		fxMap := map[string]string{}
		for i, denom := range whitelist {
			symbol := fmt.Sprintf("C%d", i)
			fxMap[denom] = symbol
			if rapid.Bool().Draw(t, "has_rate_"+denom) {
				fx[symbol] = decimal.New(rapid.Int64Range(1, 1_000_000).Draw(t, "rate_"+denom), -2)
			}
		}
		market := decimal.New(rapid.Int64Range(1, 1_000_000).Draw(t, "market"), -3)

		vector, err := BuildPriceVector(aggregate.Rates{Market: market, FX: fx}, whitelist, Options{FXMap: fxMap}, zerolog.Nop())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := append([]string(nil), whitelist...)
		sort.Strings(want)
		got := vector.Denoms()
		if len(got) != len(want) {
			t.Fatalf("vector has %d denoms, whitelist has %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("denom mismatch: got %v want %v", got, want)
			}
		}
		for _, denom := range whitelist {
			price, _ := vector.Price(denom)
			_, hasRate := fx[fxMap[denom]]
			if hasRate != price.IsPositive() {
				t.Fatalf("denom %s: has rate %v but price %s", denom, hasRate, price)
			}
		}
	})
}

func TestParsePriceString(t *testing.T) {
	vector, err := ParsePriceString("8888ukrw,1.243uusd,0.99usdr,0ueur,1.5ibc/ABC")
	require.NoError(t, err)
	require.Equal(t, 5, vector.Len())
	krw, ok := vector.Price("ukrw")
	require.True(t, ok)
	require.True(t, krw.Equal(decimal.NewFromInt(8888)))
	ibc, ok := vector.Price("ibc/ABC")
	require.True(t, ok)
	require.True(t, ibc.Equal(decimal.RequireFromString("1.5")))

	for _, bad := range []string{"uusd", "1.5", "1uusd,1uusd", "1..2uusd"} {
		_, err := ParsePriceString(bad)
		require.Error(t, err, bad)
	}
}

func TestParsePriceStringCanonicalForm(t *testing.T) {
	vector, err := ParsePriceString("1ukhd,0.5uusd")
	require.NoError(t, err)
	require.Equal(t, "1ukhd,0.5uusd", vector.String())
}
