package source

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Static serves fixed values. It backs the simulate command and tests.
type Static struct {
	name   string
	kind   Kind
	values map[string]decimal.Decimal
	err    error
}

// NewStatic returns a source that always reports values.
func NewStatic(name string, kind Kind, values map[string]decimal.Decimal) *Static {
	return &Static{name: name, kind: kind, values: values}
}

// NewFailing returns a source whose every fetch fails with err.
func NewFailing(name string, kind Kind, err error) *Static {
	return &Static{name: name, kind: kind, err: err}
}

// Name implements Source.
func (s *Static) Name() string { return s.name }

// Kind implements Source.
func (s *Static) Kind() Kind { return s.kind }

// Fetch implements Source.
func (s *Static) Fetch(ctx context.Context) ([]Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	now := time.Now().UTC()
	quotes := make([]Quote, 0, len(s.values))
	for key, value := range s.values {
		quotes = append(quotes, Quote{Source: s.name, Key: key, Value: value, ObservedAt: now})
	}
	return quotes, nil
}

var _ Source = (*Static)(nil)
