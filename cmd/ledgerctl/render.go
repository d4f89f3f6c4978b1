package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dennisdiepolder/echo/backend/internal/types"
	"github.com/guptarohit/asciigraph"
)

func renderLeaderboard(w io.Writer, entries []types.LeaderboardEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no calls recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tUSER\tNAME\tSERVICE LEVEL\tANSWERED\tABANDONED\tSATISFACTION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
			e.Rank, e.UserID, e.Name, e.ServiceLevel, e.AnsweredCount, e.AbandonedCount, e.Satisfaction)
	}
	return tw.Flush()
}

// renderTrend plots incoming and answered counts as two series
func renderTrend(buckets []types.TrendBucket, width, height int, caption string) string {
	if len(buckets) == 0 {
		return "no data available"
	}
	if width < 20 {
		width = 20
	}
	if height < 3 {
		height = 3
	}

	incoming := make([]float64, len(buckets))
	answered := make([]float64, len(buckets))
	for i, b := range buckets {
		incoming[i] = float64(b.Incoming)
		answered[i] = float64(b.Answered)
	}

	return asciigraph.PlotMany([][]float64{incoming, answered},
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	)
}

func renderTrendTable(w io.Writer, buckets []types.TrendBucket) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tINCOMING\tANSWERED\tABANDONED\tAVG SENTIMENT\tPOSITIVE")
	for _, b := range buckets {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.1f\t%d%%\n",
			b.DateKey, b.Incoming, b.Answered, b.Abandoned, b.AverageSentiment, b.PositivePercent)
	}
	return tw.Flush()
}
