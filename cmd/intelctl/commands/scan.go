package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/app"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/monitor"
)

var (
	scanLimit     int
	scanThreshold float64
	scanJSON      bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one risk scan over the most recent alerts",
	Long: `Analyzes the most recent alerts once and lists every alert whose overall
risk exceeds the threshold. Events are printed, not published.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return fail(err, "setup")
		}
		defer e.close()

		mcfg := app.MonitorConfig(e.cfg)
		if scanLimit > 0 {
			mcfg.ScanLimit = scanLimit
		}
		if cmd.Flags().Changed("threshold") {
			mcfg.RiskThreshold = scanThreshold
		}

		scanner := monitor.NewScanner(e.store, app.NewEngine(e.cfg, e.store), mcfg, monitor.ScanLogger(e.logger))
		if err := scan(cmd.Context(), cmd.OutOrStdout(), scanner, scanJSON); err != nil {
			return fail(err, "scan")
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().IntVar(&scanLimit, "limit", 0, "Number of recent alerts to scan (default from config)")
	scanCmd.Flags().Float64Var(&scanThreshold, "threshold", 0, "Overall risk threshold (default from config)")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Output events as JSON")
}

func scan(ctx context.Context, out io.Writer, scanner *monitor.Scanner, asJSON bool) error {
	events, err := scanner.ScanOnce(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		if events == nil {
			events = []contracts.UpdateEvent{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "no alerts above threshold")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALERT\tOVERALL_RISK\tPRIORITY\tCASCADE_IMPACT")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%v\t%v\t%v\n", ev.AlertID, ev.Data["overall_risk"], ev.Data["mitigation_priority"], ev.Data["cascade_impact"])
	}
	return w.Flush()
}
