package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// CommandRunner executes a binary with args, feeding stdin, and returns its
// standard output and error streams.
type CommandRunner func(ctx context.Context, binary string, args []string, stdin string) (stdout, stderr []byte, err error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, binary string, args []string, stdin string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// CLISignerOptions configure the signer daemon invocation.
type CLISignerOptions struct {
	Binary         string
	ChainID        string
	Node           string
	KeyringBackend string
	// KeyPassword is written to stdin for keyrings that prompt for it.
	KeyPassword   string
	Fees          string
	GasPrices     string
	GasAdjustment string
	Gas           string
	ExtraFlags    []string
	Timeout       time.Duration
	Runner        CommandRunner
}

// CLISigner implements Broadcaster by invoking the chain binary, which holds
// the keys and signs the oracle messages itself.
type CLISigner struct {
	opts   CLISignerOptions
	logger zerolog.Logger
}

// NewCLISigner constructs a CLISigner.
func NewCLISigner(opts CLISignerOptions, logger zerolog.Logger) *CLISigner {
	if opts.Binary == "" {
		opts.Binary = "symphonyd"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner
	}
	return &CLISigner{
		opts:   opts,
		logger: logger.With().Str("component", "cli_signer").Logger(),
	}
}

// SubmitPrevote implements Broadcaster.
func (s *CLISigner) SubmitPrevote(ctx context.Context, sub Submission) (TxResponse, error) {
	return s.submit(ctx, "aggregate-prevote", sub)
}

// SubmitVote implements Broadcaster.
func (s *CLISigner) SubmitVote(ctx context.Context, sub Submission) (TxResponse, error) {
	return s.submit(ctx, "aggregate-vote", sub)
}

// Args returns the command line for an oracle transaction.
func (s *CLISigner) Args(action string, sub Submission) []string {
	args := []string{"tx", "oracle", action, sub.Salt, sub.PriceString}
	if sub.Validator != "" {
		args = append(args, sub.Validator)
	}
	args = append(args, "--from", sub.Sender, "--output", "json", "-y")

	flag := func(name, value string) {
		if value != "" {
			args = append(args, name, value)
		}
	}
	flag("--chain-id", s.opts.ChainID)
	flag("--node", s.opts.Node)
	flag("--keyring-backend", s.opts.KeyringBackend)
	flag("--fees", s.opts.Fees)
	flag("--gas-prices", s.opts.GasPrices)
	flag("--gas", s.opts.Gas)
	flag("--gas-adjustment", s.opts.GasAdjustment)
	return append(args, s.opts.ExtraFlags...)
}

func (s *CLISigner) submit(ctx context.Context, action string, sub Submission) (TxResponse, error) {
	if sub.Sender == "" {
		return TxResponse{}, errors.New("signer: sender not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var stdin string
	if s.opts.KeyPassword != "" {
		stdin = s.opts.KeyPassword + "\n"
	}

	stdout, stderr, err := s.opts.Runner(ctx, s.opts.Binary, s.Args(action, sub), stdin)
	if err != nil {
		return TxResponse{}, fmt.Errorf("%s %s: %w: %s", s.opts.Binary, action, err, strings.TrimSpace(string(stderr)))
	}

	resp, err := parseTxOutput(stdout)
	if err != nil {
		return TxResponse{}, fmt.Errorf("%s %s: %w", s.opts.Binary, action, err)
	}
	s.logger.Info().
		Str("action", action).
		Str("tx_hash", resp.TxHash).
		Uint32("code", resp.Code).
		Msg("transaction broadcast")
	return resp, nil
}

// parseTxOutput extracts the broadcast result. Some binaries print a
// gas estimate line before the JSON document.
func parseTxOutput(out []byte) (TxResponse, error) {
	idx := bytes.IndexByte(out, '{')
	if idx < 0 {
		return TxResponse{}, fmt.Errorf("unexpected signer output: %q", strings.TrimSpace(string(out)))
	}
	doc := out[idx:]
	if !gjson.ValidBytes(doc) {
		return TxResponse{}, errors.New("signer output is not valid json")
	}
	res := gjson.ParseBytes(doc)
	hash := res.Get("txhash").String()
	if hash == "" {
		return TxResponse{}, errors.New("signer output carries no txhash")
	}
	return TxResponse{
		TxHash: hash,
		Code:   uint32(res.Get("code").Uint()),
		Height: res.Get("height").Int(),
		RawLog: res.Get("raw_log").String(),
	}, nil
}

var _ Broadcaster = (*CLISigner)(nil)
