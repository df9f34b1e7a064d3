package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"oracle-feeder/internal/commit"
	"oracle-feeder/internal/pricing"
	"oracle-feeder/internal/storage"
)

// ErrVerificationFailed is returned when a stored round does not reproduce
// its commitment.
var ErrVerificationFailed = errors.New("stored commitment verification failed")

// Verification is the outcome of re-deriving one stored commitment.
type Verification struct {
	Round uint64
	Hash  string
	Err   error
}

// Verify recomputes the commitment hash of recent rounds from their stored
// salt and price string.
func (a *App) Verify(ctx context.Context, opts VerifyOptions) error {
	validator := a.Config.Signer.Validator
	if validator == "" {
		return errors.New("signer.validator is required to verify commitments")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot verify rounds")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rounds, err := store.ListRecentRounds(ctx, opts.Limit)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Round\tHash\tResult")
	failed := 0
	for _, round := range rounds {
		v := verifyRound(round, validator)
		result := "ok"
		if v.Err != nil {
			failed++
			result = v.Err.Error()
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\n", v.Round, v.Hash, result)
	}
	writer.Flush()

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d rounds", ErrVerificationFailed, failed, len(rounds))
	}
	return nil
}

func verifyRound(round storage.VoteRound, validator string) Verification {
	v := Verification{Round: round.Round, Hash: round.Hash}

	vector, err := pricing.ParsePriceString(round.PriceString)
	if err != nil {
		v.Err = fmt.Errorf("unparsable price string: %w", err)
		return v
	}
	if canonical := vector.String(); canonical != round.PriceString {
		v.Err = fmt.Errorf("price string not canonical, expected %q", canonical)
		return v
	}
	if len(round.Salt) != commit.SaltLength {
		v.Err = fmt.Errorf("salt %q has wrong length", round.Salt)
		return v
	}
	if got := commit.MakeHash(round.Salt, round.PriceString, validator); got != round.Hash {
		v.Err = fmt.Errorf("hash mismatch, recomputed %s", got)
	}
	return v
}
