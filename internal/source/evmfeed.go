package source

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const aggregatorV3ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorV3ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// EVMFeedOptions parameterise a Chainlink-compatible price feed reader.
type EVMFeedOptions struct {
	Name    string
	Kind    Kind
	RPCURL  string
	Address string
	// Key is the currency key quotes are reported under.
	Key string
	// Decimals overrides the contract's decimals() when positive.
	Decimals int32
	// Invert reports 1/answer, e.g. a EUR/USD feed used as USD->EUR FX.
	Invert  bool
	Timeout time.Duration
	// MaxAge rejects answers older than this when positive.
	MaxAge time.Duration
}

// EVMFeed reads the latest answer of an AggregatorV3 contract over JSON-RPC.
type EVMFeed struct {
	opts      EVMFeedOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	decimals  int32
}

// NewEVMFeed builds a feed reader.
func NewEVMFeed(opts EVMFeedOptions, logger zerolog.Logger) *EVMFeed {
	if opts.Name == "" {
		opts.Name = "evm_feed"
	}
	if opts.Kind == "" {
		opts.Kind = KindFX
	}
	return &EVMFeed{
		opts:     opts,
		logger:   logger.With().Str("component", "evm_feed_source").Str("feed", opts.Name).Logger(),
		decimals: opts.Decimals,
	}
}

// Name implements Source.
func (f *EVMFeed) Name() string { return f.opts.Name }

// Kind implements Source.
func (f *EVMFeed) Kind() Kind { return f.opts.Kind }

// Fetch implements Source.
func (f *EVMFeed) Fetch(ctx context.Context) ([]Quote, error) {
	if f.opts.RPCURL == "" {
		return nil, errors.New("evm rpc url not configured")
	}
	if f.opts.Address == "" {
		return nil, errors.New("feed contract address not configured")
	}
	if f.opts.Key == "" {
		return nil, errors.New("feed key not configured")
	}

	timeout := f.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := f.getClient(ctx)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(f.opts.Address)
	decimals, err := f.feedDecimals(ctx, client, addr)
	if err != nil {
		return nil, err
	}

	outputs, err := f.call(ctx, client, addr, "latestRoundData")
	if err != nil {
		return nil, err
	}
	if len(outputs) != 5 {
		return nil, errors.New("unexpected latestRoundData response")
	}
	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode latestRoundData answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode latestRoundData updatedAt")
	}
	if answer.Sign() <= 0 {
		return nil, fmt.Errorf("feed %s returned non-positive answer", f.opts.Name)
	}

	observed := time.Unix(updatedAt.Int64(), 0).UTC()
	if f.opts.MaxAge > 0 && time.Since(observed) > f.opts.MaxAge {
		return nil, fmt.Errorf("feed %s answer is stale (updated %s)", f.opts.Name, observed.Format(time.RFC3339))
	}

	value := decimal.NewFromBigInt(answer, -decimals)
	if f.opts.Invert {
		value = decimal.NewFromInt(1).DivRound(value, 18)
	}

	return []Quote{{Source: f.opts.Name, Key: f.opts.Key, Value: value, ObservedAt: observed}}, nil
}

func (f *EVMFeed) feedDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (int32, error) {
	f.clientMux.Lock()
	cached := f.decimals
	f.clientMux.Unlock()
	if cached > 0 {
		return cached, nil
	}

	outputs, err := f.call(ctx, client, addr, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	d, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	f.clientMux.Lock()
	f.decimals = int32(d)
	f.clientMux.Unlock()
	return int32(d), nil
}

func (f *EVMFeed) call(ctx context.Context, client *ethclient.Client, addr common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorV3ABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return aggregatorV3ABI.Unpack(method, res)
}

func (f *EVMFeed) getClient(ctx context.Context) (*ethclient.Client, error) {
	f.clientMux.Lock()
	defer f.clientMux.Unlock()

	if f.client != nil {
		return f.client, nil
	}

	client, err := ethclient.DialContext(ctx, f.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	f.client = client
	return client, nil
}

var _ Source = (*EVMFeed)(nil)
