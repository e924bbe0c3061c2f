package commands

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/cascade"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/export"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/predict"
)

var (
	analyzeWindow  int
	analyzeFormat  string
	analyzeOutput  string
	analyzePredict bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze ALERT_ID",
	Short: "Run a cascade analysis and export the snapshot",
	Long: `Runs the full pipeline for one alert outside any tier or quota and writes
the snapshot as JSON or as a plain-text report. Nothing is charged.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeWindow, "window", 0, "Time window in days (default from config)")
	analyzeCmd.Flags().StringVarP(&analyzeFormat, "format", "f", "text", "Output format: json or text")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "Write to file instead of stdout")
	analyzeCmd.Flags().BoolVar(&analyzePredict, "predict", false, "Print the cascade prediction instead of the snapshot")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(analyzeFormat)
	if err != nil {
		return fail(err, "analyze")
	}
	e, err := setup(cmd.Context())
	if err != nil {
		return fail(err, "setup")
	}
	defer e.close()

	window := analyzeWindow
	if window <= 0 {
		window = e.cfg.Engine.DefaultWindowDays
	}

	out := cmd.OutOrStdout()
	if analyzeOutput != "" {
		f, err := os.Create(analyzeOutput)
		if err != nil {
			return fail(err, "open output")
		}
		defer f.Close()
		out = f
	}

	engine := cascade.NewEngine(e.store, e.cfg.Engine.Params)
	if err := analyze(cmd.Context(), out, engine, args[0], window, format, analyzePredict); err != nil {
		return fail(err, "analyze "+args[0])
	}
	return nil
}

func analyze(ctx context.Context, out io.Writer, engine *cascade.Engine, alertID string, window int, format export.Format, withPrediction bool) error {
	snap, err := engine.Analyze(ctx, alertID, window)
	if err != nil {
		return err
	}
	if withPrediction {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(predict.Heuristic{}.Predict(snap))
	}
	return export.Write(out, snap, format)
}
