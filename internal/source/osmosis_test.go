package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fixedPricer map[string]decimal.Decimal

func (p fixedPricer) USDPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if len(p) == 0 {
		return nil, errors.New("no prices")
	}
	return p, nil
}

func TestOsmosisFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/osmosis/gamm/v1beta1/pools/588/prices" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("quote_asset_denom") != "uosmo" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"spot_price":"4.000000000000000000"}`)
	}))
	defer srv.Close()

	o := NewOsmosis(OsmosisOptions{
		LCDURL:     srv.URL,
		PoolID:     "588",
		BaseAsset:  "ibc/NOTE",
		QuoteAsset: "uosmo",
		Symbol:     "MLD",
		Timeout:    time.Second,
	}, fixedPricer{"OSMO": decimal.NewFromInt(2)}, noopLogger())

	quotes, err := o.Fetch(context.Background())
	if err != nil {
		t.Fatalf("osmosis fetch should succeed: %v", err)
	}
	if len(quotes) != 1 || quotes[0].Key != "MLD" {
		t.Fatalf("unexpected quotes %#v", quotes)
	}
	if !quotes[0].Value.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("expected 2 / 4 = 0.5 USD, got %s", quotes[0].Value)
	}
}

func TestOsmosisQuotePriceMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"spot_price":"4"}`)
	}))
	defer srv.Close()

	o := NewOsmosis(OsmosisOptions{LCDURL: srv.URL, PoolID: "1", BaseAsset: "a", QuoteAsset: "b", Symbol: "MLD"}, fixedPricer{}, noopLogger())
	if _, err := o.Fetch(context.Background()); err == nil {
		t.Fatal("missing quote asset price should fail")
	}
}

func TestOsmosisMissingConfig(t *testing.T) {
	o := NewOsmosis(OsmosisOptions{}, fixedPricer{"OSMO": decimal.NewFromInt(1)}, noopLogger())
	if _, err := o.Fetch(context.Background()); err == nil {
		t.Fatal("missing pool configuration should fail")
	}
}
