package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"oracle-feeder/internal/storage"
)

// Show prints recent vote rounds.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show rounds")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var rounds []storage.VoteRound
	if opts.Since > 0 {
		now := time.Now().UTC()
		rounds, err = store.ListRoundsBetween(ctx, now.Add(-opts.Since), now)
	} else {
		rounds, err = store.ListRecentRounds(ctx, opts.Limit)
	}
	if err != nil {
		return err
	}
	if len(rounds) == 0 {
		fmt.Fprintln(a.Out, "no vote rounds found")
		return nil
	}

	total, err := store.CountRounds(ctx)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Round\tTime (UTC)\tHeight\tHash\tVote\tPrevote\tPrices\tError")

	for _, round := range rounds {
		errMsg := ""
		if round.Error != nil {
			errMsg = sanitizeInline(*round.Error)
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			round.Round,
			round.CreatedAt.UTC().Format(time.RFC3339),
			round.Height,
			round.Hash,
			sideSummary(round.VoteStatus, round.VoteAttempts),
			sideSummary(round.PrevoteStatus, round.PrevoteAttempts),
			round.PriceString,
			errMsg,
		)
	}
	writer.Flush()
	fmt.Fprintf(a.Out, "\nshowing %d of %d recorded rounds\n", len(rounds), total)

	if !opts.Alerts {
		return nil
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out)
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts recorded")
		return nil
	}
	writer = tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRound\tKind\tChannels\tMessage")
	for _, alert := range alerts {
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.Round,
			alert.Kind,
			strings.Join(alert.Channels, ","),
			sanitizeInline(alert.Message),
		)
	}
	writer.Flush()
	return nil
}

func sideSummary(status string, attempts int) string {
	if attempts == 0 {
		return status
	}
	return fmt.Sprintf("%s/%d", status, attempts)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
