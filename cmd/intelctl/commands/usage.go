package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/app"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/intel"
)

var usageCmd = &cobra.Command{
	Use:   "usage USER_ID",
	Short: "Show a user's tier and analyses used this month",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(cmd.Context())
		if err != nil {
			return fail(err, "setup")
		}
		defer e.close()

		svc := intel.NewService(app.NewEngine(e.cfg, e.store), app.NewGate(e.cfg, e.store), e.store)
		u, err := svc.Usage(cmd.Context(), args[0])
		if err != nil {
			return fail(err, "usage")
		}

		limit := fmt.Sprint(u.Limit)
		remaining := fmt.Sprint(u.Remaining)
		if u.Unlimited {
			limit, remaining = "unlimited", "-"
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "USER\tTIER\tUSED\tLIMIT\tREMAINING\tMAX_WINDOW_DAYS\tPERIOD_START")
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\t%s\n", args[0], u.Tier, u.Used, limit, remaining,
			u.MaxTimeWindowDays, u.PeriodStart.Format("2006-01-02"))
		return w.Flush()
	},
}
