package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"roadsafety-cost/pkg/api"
)

// =============================================================================
// OUTPUT FORMATTERS
// =============================================================================

func render(w io.Writer, format string, est *api.Estimate) error {
	switch format {
	case "json":
		return outputJSON(w, est)
	case "markdown":
		return outputMarkdown(w, est)
	case "table", "":
		return outputTable(w, est)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func outputJSON(w io.Writer, est *api.Estimate) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(est)
}

func outputTable(w io.Writer, est *api.Estimate) error {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                   ROAD SAFETY COST ESTIMATE                  ║")
	fmt.Fprintln(w, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Total:                 %-38s ║\n", est.Currency+" "+est.Total.StringFixed(2))
	fmt.Fprintf(w, "║  Status:                %-38s ║\n", est.Status)
	fmt.Fprintf(w, "║  Confidence:            %-38s ║\n", fmt.Sprintf("%.0f%%", est.ConfidenceScore*100))
	fmt.Fprintf(w, "║  Compliance:            %-38s ║\n", fmt.Sprintf("%.1f%%", est.ComplianceScore))

	for _, sec := range est.Sections {
		fmt.Fprintln(w, "╠══════════════════════════════════════════════════════════════╣")
		fmt.Fprintf(w, "║  %-45s %14s ║\n", truncate(sectionTitle(sec), 45), sec.TotalCost.StringFixed(2))
		for _, ic := range sec.Interventions {
			fmt.Fprintf(w, "║    %-43s %14s ║\n", truncate(ic.Intervention.Recommendation, 43), ic.TotalCost.StringFixed(2))
			for _, m := range ic.Materials {
				line := fmt.Sprintf("%g %s %s", m.Qty, m.CanonicalUnit, m.ItemName)
				fmt.Fprintf(w, "║      %-41s %14s ║\n", truncate(line, 41), m.TotalPrice.StringFixed(2))
			}
			for _, u := range ic.Unpriced {
				fmt.Fprintf(w, "║      %-41s %14s ║\n", truncate(u.ItemName, 41), "REVIEW")
			}
		}
	}

	if len(est.ReviewItems) > 0 || len(est.Errors) > 0 {
		fmt.Fprintln(w, "╠══════════════════════════════════════════════════════════════╣")
		for _, r := range est.ReviewItems {
			fmt.Fprintf(w, "║  ! %-57s ║\n", truncate(r.ItemName+": "+r.Reason, 57))
		}
		for _, e := range est.Errors {
			fmt.Fprintf(w, "║  x %-57s ║\n", truncate(e.Code+": "+e.Message, 57))
		}
	}

	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════════╝")
	return nil
}

func outputMarkdown(w io.Writer, est *api.Estimate) error {
	fmt.Fprintln(w, "## Road Safety Cost Estimate")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Metric | Value |")
	fmt.Fprintln(w, "|--------|-------|")
	fmt.Fprintf(w, "| **Total** | %s %s |\n", est.Currency, est.Total.StringFixed(2))
	fmt.Fprintf(w, "| **Status** | %s |\n", est.Status)
	fmt.Fprintf(w, "| **Confidence** | %.0f%% |\n", est.ConfidenceScore*100)
	fmt.Fprintf(w, "| **Compliance** | %.1f%% |\n", est.ComplianceScore)

	for _, sec := range est.Sections {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "### %s (%s %s)\n", sectionTitle(sec), est.Currency, sec.TotalCost.StringFixed(2))
		for _, ic := range sec.Interventions {
			fmt.Fprintln(w)
			fmt.Fprintf(w, "**%s**: %s\n", ic.Intervention.ID(), ic.Rationale)
			fmt.Fprintln(w)
			fmt.Fprintln(w, "| Item | Qty | Unit | Rate | Amount | Source |")
			fmt.Fprintln(w, "|------|-----|------|------|--------|--------|")
			for _, m := range ic.Materials {
				fmt.Fprintf(w, "| %s | %g | %s | %s | %s | %s |\n",
					m.ItemName, m.Qty, m.CanonicalUnit, m.UnitPrice.StringFixed(2), m.TotalPrice.StringFixed(2), m.Source)
			}
			for _, u := range ic.Unpriced {
				fmt.Fprintf(w, "| %s | %g | %s | - | - | needs review |\n", u.ItemName, u.Quantity, u.Unit)
			}
		}
	}

	if len(est.ReviewItems) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "### Materials Requiring Review")
		fmt.Fprintln(w)
		for _, r := range est.ReviewItems {
			fmt.Fprintf(w, "- **%s** (%s): %s\n", r.ItemName, r.InterventionID, r.Reason)
		}
	}
	if len(est.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "### Errors")
		fmt.Fprintln(w)
		for _, e := range est.Errors {
			fmt.Fprintf(w, "- **%s** [%s]: %s\n", e.Code, e.Severity, e.Message)
		}
	}
	return nil
}

func renderQuote(w io.Writer, item string, q api.PriceQuote) error {
	fmt.Fprintf(w, "Item:        %s\n", item)
	if q.MatchedName != "" && !strings.EqualFold(q.MatchedName, item) {
		fmt.Fprintf(w, "Matched:     %s\n", q.MatchedName)
	}
	fmt.Fprintf(w, "Unit price:  %s per %s\n", q.UnitPrice.StringFixed(2), q.RateUnit)
	fmt.Fprintf(w, "Source:      %s (tier %s)\n", q.Source, q.Tier)
	fmt.Fprintf(w, "Confidence:  %s\n", q.Confidence)
	fmt.Fprintf(w, "Official:    %t\n", q.Official)
	if q.ItemCode != "" {
		fmt.Fprintf(w, "Item code:   %s\n", q.ItemCode)
	}
	if q.Sanity.Checked && !q.Sanity.IsValid {
		fmt.Fprintf(w, "Capped:      %s\n", q.Sanity.Reason)
	}
	return nil
}

func sectionTitle(sec api.SectionCost) string {
	if sec.SectionName != "" && sec.SectionName != sec.SectionID {
		return sec.SectionID + " " + sec.SectionName
	}
	return sec.SectionID
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
