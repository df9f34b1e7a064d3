// Package preflight verifies the environment before the feeder starts
// voting: signer binary, addresses, LCD health, oracle module and price
// source configuration.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"oracle-feeder/internal/chain"
	"oracle-feeder/internal/config"
)

// ErrNotReady is returned when checks still fail after every attempt.
var ErrNotReady = errors.New("preflight checks failed")

// Check is a single named readiness probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result is the outcome of one check.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Report collects the results of one pass.
type Report struct {
	Results []Result
}

// Passed reports whether every check succeeded.
func (r Report) Passed() bool {
	for _, res := range r.Results {
		if res.Err != nil {
			return false
		}
	}
	return true
}

// Errors lists the failed checks as "name: error".
func (r Report) Errors() []string {
	var out []string
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, fmt.Sprintf("%s: %v", res.Name, res.Err))
		}
	}
	return out
}

// LookPath resolves a binary on PATH.
type LookPath func(file string) (string, error)

// Checker runs the readiness checks.
type Checker struct {
	cfg      *config.Config
	querier  chain.Querier
	runner   chain.CommandRunner
	lookPath LookPath
	logger   zerolog.Logger
}

// New builds a Checker. runner and lookPath default to os/exec.
func New(cfg *config.Config, querier chain.Querier, runner chain.CommandRunner, lookPath LookPath, logger zerolog.Logger) *Checker {
	if runner == nil {
		runner = chain.ExecRunner
	}
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	return &Checker{
		cfg:      cfg,
		querier:  querier,
		runner:   runner,
		lookPath: lookPath,
		logger:   logger.With().Str("component", "preflight").Logger(),
	}
}

// Checks returns the checks in execution order.
func (c *Checker) Checks() []Check {
	return []Check{
		{Name: "environment", Run: c.checkEnvironment},
		{Name: "address format", Run: c.checkAddresses},
		{Name: "lcd health", Run: c.checkLCD},
		{Name: "oracle module", Run: c.checkOracleModule},
		{Name: "validator config", Run: c.checkValidatorConfig},
		{Name: "price feeder config", Run: c.checkPriceFeederConfig},
	}
}

// RunOnce executes every check once.
func (c *Checker) RunOnce(ctx context.Context) Report {
	var report Report
	for _, check := range c.Checks() {
		start := time.Now()
		err := check.Run(ctx)
		report.Results = append(report.Results, Result{Name: check.Name, Err: err, Duration: time.Since(start)})
	}
	return report
}

// WaitForReady repeats the checks until they all pass, attempts run out or
// ctx is cancelled.
func (c *Checker) WaitForReady(ctx context.Context, attempts int, delay time.Duration) (Report, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var report Report
	for attempt := 1; attempt <= attempts; attempt++ {
		report = c.RunOnce(ctx)
		if report.Passed() {
			c.logger.Info().Int("attempt", attempt).Msg("all preflight checks passed")
			return report, nil
		}

		c.logger.Error().Int("attempt", attempt).Int("max_attempts", attempts).Strs("errors", report.Errors()).Msg("preflight checks failed")
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-time.After(delay):
		}
	}
	return report, ErrNotReady
}

func (c *Checker) checkEnvironment(ctx context.Context) error {
	binary := c.cfg.Signer.Binary
	if binary == "" {
		return errors.New("signer.binary not configured")
	}
	if _, err := c.lookPath(binary); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", binary, err)
	}

	vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	stdout, stderr, err := c.runner(vctx, binary, []string{"version"}, "")
	if err != nil {
		return fmt.Errorf("%s version failed: %w: %s", binary, err, strings.TrimSpace(string(stderr)))
	}
	c.logger.Info().Str("version", strings.TrimSpace(string(stdout))).Msg("detected signer version")

	var missing []string
	for name, value := range map[string]string{
		"chain.chain_id":         c.cfg.Chain.ChainID,
		"chain.lcd_url":          c.cfg.Chain.LCDURL,
		"chain.module_route":     c.cfg.Chain.ModuleRoute,
		"signer.keyring_backend": c.cfg.Signer.KeyringBackend,
	} {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Checker) checkAddresses(ctx context.Context) error {
	prefix := c.cfg.Chain.AddressPrefix
	if prefix == "" {
		return nil
	}
	s := c.cfg.Signer
	if s.Validator != "" && !strings.HasPrefix(s.Validator, prefix+"valoper1") {
		return fmt.Errorf("validator address must start with %svaloper1", prefix)
	}
	if s.ValidatorAccount != "" && !strings.HasPrefix(s.ValidatorAccount, prefix+"1") {
		return fmt.Errorf("validator account must start with %s1", prefix)
	}
	if s.Feeder != "" && !strings.HasPrefix(s.Feeder, prefix+"1") {
		return fmt.Errorf("feeder address must start with %s1", prefix)
	}
	return nil
}

func (c *Checker) checkLCD(ctx context.Context) error {
	syncing, err := c.querier.Syncing(ctx)
	if err != nil {
		return err
	}
	if syncing {
		return errors.New("node is still syncing")
	}
	block, err := c.querier.LatestBlock(ctx)
	if err != nil {
		return err
	}
	c.logger.Info().Int64("height", block.Height).Time("block_time", block.Time).Msg("lcd reachable")
	return nil
}

func (c *Checker) checkOracleModule(ctx context.Context) error {
	params, err := c.querier.OracleParams(ctx)
	if err != nil {
		return err
	}
	if len(params.Whitelist) == 0 {
		return errors.New("no assets found in whitelist")
	}
	for _, denom := range params.Whitelist {
		if denom.Name == "" {
			return errors.New("whitelist entry without a name")
		}
		if denom.TobinTax.IsNegative() {
			return fmt.Errorf("whitelist entry %s has negative tobin tax", denom.Name)
		}
	}
	if c.cfg.Chain.EpochIdentifier == "" && params.VotePeriod == 0 {
		return errors.New("oracle vote_period is zero and no epoch identifier is configured")
	}

	c.logger.Info().
		Strs("whitelist", params.WhitelistNames()).
		Uint64("vote_period", params.VotePeriod).
		Str("vote_period_epoch_identifier", params.VotePeriodEpochIdentifier).
		Str("vote_threshold", params.VoteThreshold).
		Msg("oracle parameters found")

	if c.cfg.Signer.Validator != "" {
		misses, err := c.querier.MissCounter(ctx)
		if err != nil {
			return fmt.Errorf("failed to get current misses: %w", err)
		}
		c.logger.Info().Uint64("misses", misses).Msg("current oracle misses")
	}
	return nil
}

func (c *Checker) checkValidatorConfig(ctx context.Context) error {
	s := c.cfg.Signer
	if s.Validator == "" {
		return errors.New("validator address not configured")
	}
	if s.Sender() == "" {
		return errors.New("neither feeder nor validator account address configured")
	}
	if s.KeyringBackend == "os" && s.KeyPassword == "" {
		return errors.New("key password required for os keyring backend")
	}
	if s.Fees == "" && s.GasPrices == "" {
		return errors.New("either signer.fees or signer.gas_prices is required")
	}
	return nil
}

func (c *Checker) checkPriceFeederConfig(ctx context.Context) error {
	p := c.cfg.Pricing
	for _, provider := range p.FXProviders {
		switch provider {
		case "band":
			if c.cfg.Sources.Band.Endpoint == "" {
				return errors.New("band endpoint not configured")
			}
		case "alphavantage":
			if c.cfg.Sources.AlphaVantage.APIKey == "" {
				return errors.New("alphavantage api key not configured")
			}
		}
	}
	if len(p.FXProviders) > 0 && len(p.FXSymbols) == 0 {
		return errors.New("fx symbol list is empty")
	}
	if len(p.MarketProviders) == 0 {
		return errors.New("no market price provider configured")
	}
	return nil
}

