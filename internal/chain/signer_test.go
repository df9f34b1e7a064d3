package chain

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/rs/zerolog"
)

type capturedRun struct {
	binary string
	args   []string
	stdin  string
}

func TestCLISignerSubmitPrevote(t *testing.T) {
	var got capturedRun
	signer := NewCLISigner(CLISignerOptions{
		ChainID:        "symphony-testnet-3",
		KeyringBackend: "os",
		KeyPassword:    "secret",
		Fees:           "50000note",
		Runner: func(ctx context.Context, binary string, args []string, stdin string) ([]byte, []byte, error) {
			got = capturedRun{binary: binary, args: args, stdin: stdin}
			return []byte("gas estimate: 120000\n{\"height\":\"0\",\"txhash\":\"AB12\",\"code\":0,\"raw_log\":\"[]\"}"), nil, nil
		},
	}, zerolog.Nop())

	tx, err := signer.SubmitPrevote(context.Background(), Submission{
		Salt:        "1234",
		PriceString: "1ukhd,0.5uusd",
		Sender:      "symphony1feeder",
		Validator:   "symphonyvaloper1abc",
	})
	if err != nil {
		t.Fatalf("prevote should succeed: %v", err)
	}
	if tx.TxHash != "AB12" || !tx.Succeeded() {
		t.Fatalf("unexpected tx %#v", tx)
	}
	if got.binary != "symphonyd" || got.stdin != "secret\n" {
		t.Fatalf("unexpected invocation %#v", got)
	}
	want := []string{"tx", "oracle", "aggregate-prevote", "1234", "1ukhd,0.5uusd", "symphonyvaloper1abc", "--from", "symphony1feeder", "--output", "json", "-y"}
	if !slices.Equal(got.args[:len(want)], want) {
		t.Fatalf("unexpected args %v", got.args)
	}
	if !slices.Contains(got.args, "--chain-id") || !slices.Contains(got.args, "50000note") {
		t.Fatalf("tx flags missing from %v", got.args)
	}
	if slices.Contains(got.args, "--gas-prices") {
		t.Fatalf("empty flags must be omitted: %v", got.args)
	}
}

func TestCLISignerFailures(t *testing.T) {
	failing := NewCLISigner(CLISignerOptions{
		Runner: func(ctx context.Context, binary string, args []string, stdin string) ([]byte, []byte, error) {
			return nil, []byte("account sequence mismatch"), errors.New("exit status 1")
		},
	}, zerolog.Nop())
	if _, err := failing.SubmitVote(context.Background(), Submission{Sender: "a"}); err == nil {
		t.Fatal("non-zero exit should fail")
	}
	if _, err := failing.SubmitVote(context.Background(), Submission{}); err == nil {
		t.Fatal("missing sender should fail")
	}

	garbled := NewCLISigner(CLISignerOptions{
		Runner: func(ctx context.Context, binary string, args []string, stdin string) ([]byte, []byte, error) {
			return []byte("Error: key not found"), nil, nil
		},
	}, zerolog.Nop())
	if _, err := garbled.SubmitVote(context.Background(), Submission{Sender: "a"}); err == nil {
		t.Fatal("non-json output should fail")
	}
}
