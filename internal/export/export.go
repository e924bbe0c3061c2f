// Package export renders a snapshot for offline use: full-fidelity JSON or
// a flattened, line-oriented text table.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/contracts"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "text", "txt":
		return FormatText, nil
	default:
		return "", apperr.Invalid("format", fmt.Sprintf("unsupported export format %q", s))
	}
}

func (f Format) ContentType() string {
	if f == FormatText {
		return "text/plain; charset=utf-8"
	}
	return "application/json"
}

func (f Format) Extension() string {
	if f == FormatText {
		return "txt"
	}
	return "json"
}

func Write(w io.Writer, snap contracts.IntelligenceSnapshot, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case FormatText:
		return WriteText(w, snap)
	default:
		return apperr.Invalid("format", fmt.Sprintf("unsupported export format %q", f))
	}
}

// Section titles, in output order.
const (
	SectionPrimary  = "PRIMARY ALERT"
	SectionFactors  = "CONNECTED FACTORS"
	SectionCascade  = "CASCADE METRICS"
	SectionRisk     = "RISK ASSESSMENT"
	SectionFactorsR = "RISK FACTORS"
	SectionActions  = "RECOMMENDED ACTIONS"
)

// WriteText writes the six sections in fixed order. Empty lists print
// "(none)".
func WriteText(w io.Writer, snap contracts.IntelligenceSnapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	p := snap.PrimaryAlert

	section(tw, SectionPrimary, true)
	row(tw, "id", p.ID)
	row(tw, "type", string(p.Type))
	row(tw, "severity", string(p.Severity))
	row(tw, "timestamp", p.Timestamp.UTC().Format(time.RFC3339))
	row(tw, "time_window_days", strconv.Itoa(snap.TimeWindowDays))

	section(tw, SectionFactors, false)
	if len(snap.ConnectedFactors) == 0 {
		fmt.Fprintln(tw, "(none)")
	} else {
		row(tw, "id", "type", "severity", "timestamp", "correlation_score", "hop", "via")
		for _, f := range snap.ConnectedFactors {
			via := f.Via
			if via == "" {
				via = "-"
			}
			row(tw, f.ID, string(f.Type), string(f.Severity), f.Timestamp.UTC().Format(time.RFC3339),
				formatFloat(f.CorrelationScore), strconv.Itoa(f.Hop), via)
		}
	}

	ic := snap.ImpactCascade
	section(tw, SectionCascade, false)
	row(tw, "cascading_impact", formatFloat(ic.CascadingImpact))
	row(tw, "total_factors", strconv.Itoa(ic.TotalFactors))
	row(tw, "affected_supply_chain", strconv.FormatBool(ic.AffectedSupplyChain))
	row(tw, "status", string(ic.Status))

	ra := snap.RiskAssessment
	section(tw, SectionRisk, false)
	row(tw, "overall_risk", formatFloat(ra.OverallRisk))
	row(tw, "mitigation_priority", string(ra.MitigationPriority))

	section(tw, SectionFactorsR, false)
	list(tw, ra.RiskFactors)

	section(tw, SectionActions, false)
	list(tw, snap.RecommendedActions)

	return tw.Flush()
}

func section(w io.Writer, title string, first bool) {
	if !first {
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, title)
}

func row(w io.Writer, cols ...string) {
	fmt.Fprintln(w, strings.Join(cols, "\t"))
}

func list(w io.Writer, items []string) {
	if len(items) == 0 {
		fmt.Fprintln(w, "(none)")
		return
	}
	for i, item := range items {
		fmt.Fprintf(w, "%d. %s\n", i+1, item)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
