package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"oracle-feeder/internal/preflight"
)

// Preflight runs the readiness checks once and prints their outcome.
func (a *App) Preflight(ctx context.Context) error {
	checker := preflight.New(a.Config, a.newLCD(nil), nil, nil, a.Logger)
	report := checker.RunOnce(ctx)

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Check\tStatus\tDuration\tError")
	for _, res := range report.Results {
		status, errMsg := "ok", ""
		if res.Err != nil {
			status, errMsg = "failed", sanitizeInline(res.Err.Error())
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", res.Name, status, res.Duration.Round(time.Millisecond), errMsg)
	}
	writer.Flush()

	if !report.Passed() {
		return preflight.ErrNotReady
	}
	return nil
}
