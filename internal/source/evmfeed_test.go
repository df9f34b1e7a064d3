package source

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// newAggregatorServer answers eth_call with a latestRoundData result.
func newAggregatorServer(t *testing.T, answer int64, updatedAt time.Time) *httptest.Server {
	t.Helper()
	output, err := aggregatorV3ABI.Methods["latestRoundData"].Outputs.Pack(
		big.NewInt(7), big.NewInt(answer), big.NewInt(updatedAt.Unix()), big.NewInt(updatedAt.Unix()), big.NewInt(7),
	)
	if err != nil {
		t.Fatalf("pack latestRoundData: %v", err)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		if req.Method != "eth_call" {
			t.Errorf("unexpected rpc method %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  hexutil.Encode(output),
		})
	}))
}

func TestEVMFeedMissingConfig(t *testing.T) {
	feed := NewEVMFeed(EVMFeedOptions{}, noopLogger())
	if _, err := feed.Fetch(context.Background()); err == nil {
		t.Fatal("missing rpc url should fail")
	}

	feed = NewEVMFeed(EVMFeedOptions{RPCURL: "http://localhost"}, noopLogger())
	if _, err := feed.Fetch(context.Background()); err == nil {
		t.Fatal("missing contract address should fail")
	}

	feed = NewEVMFeed(EVMFeedOptions{RPCURL: "http://localhost", Address: "0x1"}, noopLogger())
	if _, err := feed.Fetch(context.Background()); err == nil {
		t.Fatal("missing key should fail")
	}
}

func TestEVMFeedDefaults(t *testing.T) {
	feed := NewEVMFeed(EVMFeedOptions{}, noopLogger())
	if feed.Name() != "evm_feed" || feed.Kind() != KindFX {
		t.Fatalf("unexpected defaults name=%s kind=%s", feed.Name(), feed.Kind())
	}
}

func TestEVMFeedFetch(t *testing.T) {
	updated := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	srv := newAggregatorServer(t, 108_500_000, updated)
	defer srv.Close()

	feed := NewEVMFeed(EVMFeedOptions{
		Name:     "eur_usd",
		RPCURL:   srv.URL,
		Address:  "0x0000000000000000000000000000000000000001",
		Key:      "EUR",
		Decimals: 8,
		MaxAge:   time.Hour,
	}, noopLogger())
	quotes, err := feed.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("want 1 quote, got %d", len(quotes))
	}
	if quotes[0].Key != "EUR" || quotes[0].Value.String() != "1.085" {
		t.Fatalf("unexpected quote %s=%s", quotes[0].Key, quotes[0].Value)
	}
	if !quotes[0].ObservedAt.Equal(updated) {
		t.Fatalf("observed at %s, want %s", quotes[0].ObservedAt, updated)
	}
}

func TestEVMFeedInvert(t *testing.T) {
	srv := newAggregatorServer(t, 200_000_000, time.Now())
	defer srv.Close()

	feed := NewEVMFeed(EVMFeedOptions{
		RPCURL:   srv.URL,
		Address:  "0x0000000000000000000000000000000000000001",
		Key:      "EUR",
		Decimals: 8,
		Invert:   true,
	}, noopLogger())
	quotes, err := feed.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quotes[0].Value.String() != "0.5" {
		t.Fatalf("inverted value = %s, want 0.5", quotes[0].Value)
	}
}

func TestEVMFeedRejectsStaleAnswer(t *testing.T) {
	srv := newAggregatorServer(t, 108_500_000, time.Now().Add(-2*time.Hour))
	defer srv.Close()

	opts := EVMFeedOptions{
		RPCURL:   srv.URL,
		Address:  "0x0000000000000000000000000000000000000001",
		Key:      "EUR",
		Decimals: 8,
		MaxAge:   time.Hour,
	}
	_, err := NewEVMFeed(opts, noopLogger()).Fetch(context.Background())
	if err == nil || !strings.Contains(err.Error(), "stale") {
		t.Fatalf("answer older than max age should be rejected, got %v", err)
	}

	opts.MaxAge = 0
	if _, err := NewEVMFeed(opts, noopLogger()).Fetch(context.Background()); err != nil {
		t.Fatalf("max age unset should accept any answer: %v", err)
	}
}
