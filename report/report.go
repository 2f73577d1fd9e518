// Package report formats the benchmark lifecycle seen during a run into
// summary tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
)

// Generate writes a markdown table for the given summaries.
func Generate(w io.Writer, summaries []Summary) error {
	if len(summaries) == 0 {
		return fmt.Errorf("no benchmarks to report")
	}

	measured, skipped := countStatus(summaries)

	// Header.
	fmt.Fprintln(w, "## Benchmark Run")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Benchmarks: **%d measured**, %d skipped, %d total\n",
		measured, skipped, len(summaries))
	fmt.Fprintf(w, "Groups: %s\n", strings.Join(groups(summaries), ", "))
	fmt.Fprintln(w)

	// Table header.
	fmt.Fprintln(w, "| Target | Benchmark | Status | Samples "+
		"| Iterations | Measured | Warm-up |")
	fmt.Fprintln(w, "|--------|-----------|--------|---------"+
		"|------------|----------|---------|")

	for _, s := range summaries {
		fmt.Fprintf(w, "| %s | %s | %s | %s | %s | %s | %s |\n",
			s.Target,
			escape(s.ID),
			s.Status,
			formatCount(float64(s.SampleCount)),
			formatCount(s.Iterations),
			formatNanos(s.MeasuredNs),
			formatNanos(s.WarmupNs),
		)
	}

	return nil
}

// GenerateJSON writes summaries as JSON to w.
func GenerateJSON(w io.Writer, summaries []Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(summaries)
}

func countStatus(summaries []Summary) (measured, skipped int) {
	for _, s := range summaries {
		switch s.Status {
		case StatusMeasured:
			measured++
		case StatusSkipped:
			skipped++
		}
	}

	return measured, skipped
}

// groups returns the distinct benchmark groups in first-seen order.
func groups(summaries []Summary) []string {
	var names []string
	for _, s := range summaries {
		if !slices.Contains(names, s.Group) {
			names = append(names, s.Group)
		}
	}

	return names
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func formatCount(n float64) string {
	if n == 0 {
		return "-"
	}

	return humanize.Commaf(n)
}

func formatNanos(ns float64) string {
	switch {
	case ns <= 0:
		return "-"
	case ns < 1e3:
		return fmt.Sprintf("%.0fns", ns)
	case ns < 1e6:
		return fmt.Sprintf("%.2fµs", ns/1e3)
	case ns < 1e9:
		return fmt.Sprintf("%.2fms", ns/1e6)
	default:
		return fmt.Sprintf("%.2fs", ns/1e9)
	}
}
