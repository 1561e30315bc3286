package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/gifpress/gifpress/core"
)

// renderSummary formats a finished search as an attempt table plus a verdict.
func renderSummary(inPath, outPath string, res *core.SearchResult) string {
	var b strings.Builder

	if len(res.Attempts) > 0 {
		tw := table.NewWriter()
		tw.SetStyle(table.StyleRounded)
		tw.AppendHeader(table.Row{"#", "Colors", "Lossy", "Scale", "Frames", "Size", "Best"})
		for _, a := range res.Attempts {
			best := ""
			if a.Improved {
				best = "*"
			}
			tw.AppendRow(table.Row{
				a.Attempt,
				a.Params.Colors,
				a.Params.Lossy,
				fmt.Sprintf("%.2f", a.Params.Scale),
				fmt.Sprintf("%.2f", a.Params.FrameRate),
				humanBytes(a.SizeBytes),
				best,
			})
		}
		tw.SetColumnConfigs([]table.ColumnConfig{
			{Number: 1, Align: text.AlignRight},
			{Number: 2, Align: text.AlignRight},
			{Number: 3, Align: text.AlignRight},
			{Number: 4, Align: text.AlignRight},
			{Number: 5, Align: text.AlignRight},
			{Number: 6, Align: text.AlignRight},
		})
		b.WriteString(tw.Render())
		b.WriteByte('\n')
	}

	verdict := "target met"
	if !res.MetTarget {
		verdict = "search exhausted; best effort kept"
	}
	fmt.Fprintf(&b, "%s → %s: %s → %s (%.1f%%), %s in %s",
		inPath, outPath,
		humanBytes(res.OriginalSize), humanBytes(res.SizeBytes),
		100*float64(res.SizeBytes)/float64(max64(res.OriginalSize, 1)),
		verdict, res.ProcessingTime.Round(1e6),
	)
	return b.String()
}

func humanBytes(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.2fMB", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fKB", float64(n)/1_000)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
