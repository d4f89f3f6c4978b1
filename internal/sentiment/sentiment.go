// Package sentiment turns a scored transcript into positive/negative/neutral counts.
package sentiment

import (
	"math"
	"strings"

	"github.com/dennisdiepolder/echo/backend/internal/types"
)

// WordCount returns the number of whitespace-delimited non-empty tokens
func WordCount(transcript string) int {
	return len(strings.Fields(transcript))
}

// Derive splits a transcript into keyword-driven positive and negative counts,
// with every remaining word counted as neutral.
func Derive(transcript string, positive, negative []string) types.SentimentBreakdown {
	b := types.SentimentBreakdown{
		Positive: len(positive),
		Negative: len(negative),
	}
	b.Neutral = max(0, WordCount(transcript)-b.Positive-b.Negative)
	return b
}

// DeriveCall is Derive applied to a recorded call
func DeriveCall(call types.AnsweredCall) types.SentimentBreakdown {
	return Derive(call.Transcript, call.PositiveKeywords, call.NegativeKeywords)
}

// Mix sums the breakdown of every call and converts the totals to
// whole-number percentages. An empty history yields all zeros.
func Mix(calls []types.AnsweredCall) types.SentimentMix {
	mix := types.SentimentMix{Calls: len(calls)}
	for _, call := range calls {
		b := DeriveCall(call)
		mix.Positive += b.Positive
		mix.Negative += b.Negative
		mix.Neutral += b.Neutral
	}

	total := mix.Positive + mix.Negative + mix.Neutral
	if total == 0 {
		return mix
	}
	mix.PositivePercent = percent(mix.Positive, total)
	mix.NegativePercent = percent(mix.Negative, total)
	mix.NeutralPercent = percent(mix.Neutral, total)
	return mix
}

// TruncateKeywords enforces the per-call keyword cap, returning a copy
func TruncateKeywords(keywords []string) []string {
	if len(keywords) > types.MaxKeywords {
		keywords = keywords[:types.MaxKeywords]
	}
	out := make([]string, len(keywords))
	copy(out, keywords)
	return out
}

func percent(part, total int) int {
	return int(math.Round(float64(part) / float64(total) * 100))
}
