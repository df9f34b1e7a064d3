package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"oracle-feeder/internal/version"
)

const (
	defaultModuleRoute = "osmosis/oracle/v1beta1"
	remoteLCD          = "lcd"
)

// LCDOptions configure the REST querier.
type LCDOptions struct {
	BaseURL     string
	ModuleRoute string
	// Validator is the operator address prevote and miss queries are scoped to.
	Validator string
	Timeout   time.Duration
	// BlockPoll is the height polling interval of WaitForNextBlock.
	BlockPoll time.Duration
	UserAgent string
}

// LCD implements Querier over the Cosmos REST gateway.
type LCD struct {
	opts     LCDOptions
	logger   zerolog.Logger
	client   *http.Client
	baseURL  string
	route    string
	observer RequestObserver
}

// NewLCD constructs an LCD querier. observer may be nil.
func NewLCD(opts LCDOptions, observer RequestObserver, logger zerolog.Logger) *LCD {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	if opts.BlockPoll <= 0 {
		opts.BlockPoll = 250 * time.Millisecond
	}
	route := strings.Trim(opts.ModuleRoute, "/")
	if route == "" {
		route = defaultModuleRoute
	}
	if observer == nil {
		observer = nopRequestObserver{}
	}
	return &LCD{
		opts:     opts,
		logger:   logger.With().Str("component", "lcd_client").Logger(),
		client:   &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		route:    route,
		observer: observer,
	}
}

type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("lcd api error (%d): %s", e.status, e.message)
}

func isNotFound(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.status == http.StatusNotFound || strings.Contains(strings.ToLower(se.message), "not found")
}

func (l *LCD) get(ctx context.Context, path string) (gjson.Result, error) {
	start := time.Now()
	res, err := l.doGet(ctx, path)
	l.observer.ObserveRequest(remoteLCD, time.Since(start), err)
	return res, err
}

func (l *LCD) doGet(ctx context.Context, path string) (gjson.Result, error) {
	if l.baseURL == "" {
		return gjson.Result{}, errors.New("lcd url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Accept", "application/json")
	ua := l.opts.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	req.Header.Set("User-Agent", ua)

	resp, err := l.client.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(payload, "message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(payload))
		}
		return gjson.Result{}, &statusError{status: resp.StatusCode, message: msg}
	}
	if !json.Valid(payload) {
		return gjson.Result{}, errors.New("lcd returned malformed json")
	}
	return gjson.ParseBytes(payload), nil
}

func (l *LCD) validatorPath(suffix string) (string, error) {
	if l.opts.Validator == "" {
		return "", errors.New("validator address not configured")
	}
	return fmt.Sprintf("/%s/validators/%s/%s", l.route, url.PathEscape(l.opts.Validator), suffix), nil
}

// CurrentEpoch implements Querier.
func (l *LCD) CurrentEpoch(ctx context.Context, identifier string) (uint64, error) {
	res, err := l.get(ctx, "/osmosis/epochs/v1beta1/current_epoch?identifier="+url.QueryEscape(identifier))
	if err != nil {
		return 0, fmt.Errorf("query current epoch: %w", err)
	}
	epoch := res.Get("current_epoch")
	if !epoch.Exists() {
		return 0, errors.New("current_epoch missing from response")
	}
	return epoch.Uint(), nil
}

// LatestBlock implements Querier.
func (l *LCD) LatestBlock(ctx context.Context) (Block, error) {
	res, err := l.get(ctx, "/cosmos/base/tendermint/v1beta1/blocks/latest")
	if err != nil {
		return Block{}, fmt.Errorf("query latest block: %w", err)
	}
	header := res.Get("block.header")
	if !header.Get("height").Exists() {
		// Newer gateways report the header under sdk_block.
		header = res.Get("sdk_block.header")
	}
	height := header.Get("height").Int()
	if height <= 0 {
		return Block{}, errors.New("latest block height missing from response")
	}
	block := Block{Height: height}
	if ts := header.Get("time").String(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			block.Time = parsed.UTC()
		}
	}
	return block, nil
}

// WaitForNextBlock implements Querier.
func (l *LCD) WaitForNextBlock(ctx context.Context, maxWait time.Duration) (bool, error) {
	start, err := l.LatestBlock(ctx)
	if err != nil {
		return false, err
	}
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(l.opts.BlockPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
			block, err := l.LatestBlock(ctx)
			if err != nil {
				l.logger.Debug().Err(err).Msg("poll latest block failed")
				continue
			}
			if block.Height > start.Height {
				return true, nil
			}
		}
	}
}

// OracleParams implements Querier.
func (l *LCD) OracleParams(ctx context.Context) (OracleParams, error) {
	res, err := l.get(ctx, "/"+l.route+"/params")
	if err != nil {
		return OracleParams{}, fmt.Errorf("query oracle params: %w", err)
	}
	p := res.Get("params")
	if !p.Exists() {
		return OracleParams{}, errors.New("params missing from response")
	}

	params := OracleParams{
		VotePeriod:                 p.Get("vote_period").Uint(),
		VotePeriodEpochIdentifier:  p.Get("vote_period_epoch_identifier").String(),
		SlashWindow:                p.Get("slash_window").Uint(),
		SlashWindowEpochIdentifier: p.Get("slash_window_epoch_identifier").String(),
		VoteThreshold:              p.Get("vote_threshold").String(),
		RewardBand:                 p.Get("reward_band").String(),
		SlashFraction:              p.Get("slash_fraction").String(),
		MinValidPerWindow:          p.Get("min_valid_per_window").String(),
	}
	for _, entry := range p.Get("whitelist").Array() {
		denom := Denom{Name: entry.Get("name").String()}
		if tax := entry.Get("tobin_tax").String(); tax != "" {
			if parsed, err := decimal.NewFromString(tax); err == nil {
				denom.TobinTax = parsed
			}
		}
		params.Whitelist = append(params.Whitelist, denom)
	}
	return params, nil
}

// MyPrevoteHash implements Querier.
func (l *LCD) MyPrevoteHash(ctx context.Context) (string, error) {
	path, err := l.validatorPath("aggregate_prevote")
	if err != nil {
		return "", err
	}
	res, err := l.get(ctx, path)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("query aggregate prevote: %w", err)
	}
	return res.Get("aggregate_prevote.hash").String(), nil
}

// TxByHash implements Querier.
func (l *LCD) TxByHash(ctx context.Context, hash string) (TxResponse, error) {
	res, err := l.get(ctx, "/cosmos/tx/v1beta1/txs/"+url.PathEscape(hash))
	if err != nil {
		if isNotFound(err) {
			return TxResponse{}, ErrTxNotFound
		}
		return TxResponse{}, fmt.Errorf("query tx %s: %w", hash, err)
	}
	tx := res.Get("tx_response")
	if !tx.Exists() {
		return TxResponse{}, ErrTxNotFound
	}
	return TxResponse{
		TxHash: tx.Get("txhash").String(),
		Code:   uint32(tx.Get("code").Uint()),
		Height: tx.Get("height").Int(),
		RawLog: tx.Get("raw_log").String(),
	}, nil
}

// MissCounter implements Querier.
func (l *LCD) MissCounter(ctx context.Context) (uint64, error) {
	path, err := l.validatorPath("miss")
	if err != nil {
		return 0, err
	}
	res, err := l.get(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("query miss counter: %w", err)
	}
	counter := res.Get("miss_counter")
	if !counter.Exists() {
		return 0, errors.New("miss_counter missing from response")
	}
	return counter.Uint(), nil
}

// Syncing implements Querier.
func (l *LCD) Syncing(ctx context.Context) (bool, error) {
	res, err := l.get(ctx, "/cosmos/base/tendermint/v1beta1/syncing")
	if err != nil {
		return false, fmt.Errorf("query syncing: %w", err)
	}
	return res.Get("syncing").Bool(), nil
}

var _ Querier = (*LCD)(nil)
