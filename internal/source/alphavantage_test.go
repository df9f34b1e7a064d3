package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestAlphaVantageFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("function") != "CURRENCY_EXCHANGE_RATE" || q.Get("from_currency") != "USD" || q.Get("apikey") != "key" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		switch q.Get("to_currency") {
		case "HKD":
			fmt.Fprint(w, `{"Realtime Currency Exchange Rate":{"1. From_Currency Code":"USD","5. Exchange Rate":"7.81000000"}}`)
		default:
			fmt.Fprint(w, `{"Error Message":"Invalid API call"}`)
		}
	}))
	defer srv.Close()

	av := NewAlphaVantage(AlphaVantageOptions{
		BaseURL: srv.URL,
		APIKey:  "key",
		Symbols: []string{"HKD", "XXX"},
		Timeout: time.Second,
	}, noopLogger())

	quotes, err := av.Fetch(context.Background())
	if err != nil {
		t.Fatalf("partial success should not fail the fetch: %v", err)
	}
	got := map[string]decimal.Decimal{}
	for _, q := range quotes {
		got[q.Key] = q.Value
	}
	if !got["HKD"].Equal(decimal.RequireFromString("7.81")) {
		t.Fatalf("expected HKD 7.81, got %s", got["HKD"])
	}
	if _, ok := got["XXX"]; ok {
		t.Fatal("failed symbol must be absent")
	}
}

func TestAlphaVantageAllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Note":"Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute"}`)
	}))
	defer srv.Close()

	av := NewAlphaVantage(AlphaVantageOptions{BaseURL: srv.URL, APIKey: "key", Symbols: []string{"HKD"}, Timeout: time.Second}, noopLogger())
	if _, err := av.Fetch(context.Background()); err == nil {
		t.Fatal("throttled responses for every symbol should fail the fetch")
	}
}

func TestAlphaVantageMissingKey(t *testing.T) {
	av := NewAlphaVantage(AlphaVantageOptions{Symbols: []string{"HKD"}}, noopLogger())
	if _, err := av.Fetch(context.Background()); err == nil {
		t.Fatal("missing api key should fail")
	}
}
