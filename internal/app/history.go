package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vk/rastermosaic/internal/ledger"
)

// HistoryConfig configures the command listing past runs.
type HistoryConfig struct {
	LedgerPath string
	Limit      int
	RunID      string // when set, list the unit results of this run
}

// History prints past runs, or the units of one run, from the ledger.
func History(ctx context.Context, outW io.Writer, cfg *HistoryConfig) error {
	l, err := ledger.Open(ctx, cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer l.Close()

	tw := tabwriter.NewWriter(outW, 0, 4, 2, ' ', 0)
	if cfg.RunID != "" {
		units, err := l.Units(ctx, cfg.RunID)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "INDEX\tUNIT\tWORKER\tDURATION\tERROR")
		for _, u := range units {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", u.Index, u.Path, u.WorkerID, u.Duration, u.Error)
		}
		return tw.Flush()
	}

	runs, err := l.Runs(ctx, cfg.Limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "RUN\tSTATUS\tSTAGE\tUNITS\tTILES\tFAILED\tSTARTED\tOUTPUT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Status, r.Stage, r.Units, r.Tiles, r.Failed, humanize.RelTime(r.StartedAt, time.Now(), "ago", "from now"), r.Output)
	}
	return tw.Flush()
}
