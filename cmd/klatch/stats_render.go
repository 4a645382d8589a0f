package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/ambiyansyah-risyal/klatch"
)

type statsReport struct {
	TotalRequests    int64   `json:"total_requests"`
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	DedupHits        int64   `json:"dedup_hits"`
	Retries          int64   `json:"retries"`
	Failures         int64   `json:"failures"`
	Cancellations    int64   `json:"cancellations"`
	AverageLatencyMS int64   `json:"average_latency_ms"`
	CacheSize        int     `json:"cache_size"`
	InFlight         int     `json:"in_flight"`
}

func newStatsReport(s klatch.Stats) statsReport {
	return statsReport{
		TotalRequests:    s.TotalRequests,
		CacheHits:        s.CacheHits,
		CacheMisses:      s.CacheMisses,
		CacheHitRate:     s.CacheHitRate(),
		DedupHits:        s.DedupHits,
		Retries:          s.Retries,
		Failures:         s.Failures,
		Cancellations:    s.Cancellations,
		AverageLatencyMS: s.AverageLatency().Milliseconds(),
		CacheSize:        s.CacheSize,
		InFlight:         s.InFlight,
	}
}

func statsRows(s klatch.Stats) [][]string {
	return [][]string{
		{"Requests", humanize.Comma(s.TotalRequests)},
		{"Cache hits", humanize.Comma(s.CacheHits)},
		{"Cache misses", humanize.Comma(s.CacheMisses)},
		{"Cache hit rate", formatRate(s.CacheHitRate())},
		{"Deduplicated", humanize.Comma(s.DedupHits)},
		{"Retries", humanize.Comma(s.Retries)},
		{"Failures", humanize.Comma(s.Failures)},
		{"Cancelled", humanize.Comma(s.Cancellations)},
		{"Average latency", formatLatency(s.AverageLatency())},
		{"Cache entries", humanize.Comma(int64(s.CacheSize))},
		{"In flight", humanize.Comma(int64(s.InFlight))},
	}
}

// renderStats prints a table on terminals and plain "key: value" lines
// otherwise.
func renderStats(w io.Writer, s klatch.Stats) {
	rows := statsRows(s)
	if isTerminal(w) {
		fmt.Fprintln(w, renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
		return
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s: %s\n", row[0], row[1])
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func formatRate(rate float64) string {
	return humanize.FormatFloat("#,###.#", rate*100) + "%"
}

func formatLatency(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
