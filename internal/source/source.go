package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"oracle-feeder/internal/version"
)

// Kind separates the mandatory base-asset market price from FX rates.
type Kind string

const (
	// KindMarket sources report the base asset priced in USD.
	KindMarket Kind = "market"
	// KindFX sources report units of a currency per one USD.
	KindFX Kind = "fx"
)

// QuoteCurrency is the currency every FX rate is expressed against.
const QuoteCurrency = "USD"

// ParseKind maps a configuration string onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindMarket:
		return KindMarket, nil
	case KindFX, "":
		return KindFX, nil
	default:
		return "", fmt.Errorf("unknown source kind %q", s)
	}
}

// Quote is a single observation produced by one fetch.
type Quote struct {
	Source     string
	Key        string
	Value      decimal.Decimal
	ObservedAt time.Time
}

// Source is a single external rate provider. Fetch must honour the
// context deadline and report failures as errors.
type Source interface {
	Name() string
	Kind() Kind
	Fetch(ctx context.Context) ([]Quote, error)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func userAgent(ua string) string {
	if ua = strings.TrimSpace(ua); ua != "" {
		return ua
	}
	return version.UserAgent()
}

// getBody issues a GET and returns the body of a 2xx response.
func getBody(ctx context.Context, client *http.Client, remote, endpoint, ua string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent(ua))

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(remote, resp.StatusCode, payload)
	}
	return payload, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(remote string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("%s api error (%d): %s", remote, status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("%s api error (%d): %s", remote, status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", remote, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", remote, status)
}
