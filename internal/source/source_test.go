package source

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("Market"); err != nil || k != KindMarket {
		t.Fatalf("expected market kind, got %q %v", k, err)
	}
	if k, err := ParseKind(""); err != nil || k != KindFX {
		t.Fatalf("empty kind should default to fx, got %q %v", k, err)
	}
	if _, err := ParseKind("oracle"); err == nil {
		t.Fatal("unknown kind should fail")
	}
}

func TestStaticSource(t *testing.T) {
	s := NewStatic("fixed", KindFX, map[string]decimal.Decimal{"HKD": decimal.NewFromFloat(7.8)})
	quotes, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("static fetch should not fail: %v", err)
	}
	if len(quotes) != 1 || quotes[0].Key != "HKD" || quotes[0].Source != "fixed" {
		t.Fatalf("unexpected quotes %#v", quotes)
	}

	failing := NewFailing("down", KindMarket, errors.New("boom"))
	if _, err := failing.Fetch(context.Background()); err == nil {
		t.Fatal("failing source should return its error")
	}
}

func TestStaticSourceHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewStatic("fixed", KindFX, map[string]decimal.Decimal{"HKD": decimal.NewFromInt(1)})
	if _, err := s.Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
