package aggregator

import (
	"math"

	"github.com/shopspring/decimal"
)

// userTally accumulates one user's answered/abandoned outcomes
type userTally struct {
	UserID       string
	Answered     int
	Abandoned    int
	SentimentSum float64
}

// RecordAnswered records an answered call and its sentiment score
func (t *userTally) RecordAnswered(score float64) {
	t.Answered++
	t.SentimentSum += score
}

// RecordAbandoned records an abandoned call
func (t *userTally) RecordAbandoned() {
	t.Abandoned++
}

// Total returns answered plus abandoned
func (t *userTally) Total() int {
	return t.Answered + t.Abandoned
}

// ServiceLevel returns the answered share of all calls as a percentage.
// A user with no calls has a service level of 0.
func (t *userTally) ServiceLevel() float64 {
	if t.Total() == 0 {
		return 0
	}
	return float64(t.Answered) / float64(t.Total()) * 100.0
}

// AverageSentiment returns the mean score over answered calls
func (t *userTally) AverageSentiment() float64 {
	if t.Answered == 0 {
		return 0
	}
	return t.SentimentSum / float64(t.Answered)
}

// Satisfaction maps mean sentiment onto a 0-5 display score:
// positive means 3 plus up to 2, non-positive with answers is a flat 3.5,
// and no answered calls is 0
func Satisfaction(avgSentiment float64, answered int) float64 {
	switch {
	case answered == 0:
		return 0
	case avgSentiment > 0:
		return math.Min(5, 3+math.Min(2, avgSentiment/5))
	default:
		return 3.5
	}
}

// OneDecimal renders x with exactly one decimal place
func OneDecimal(x float64) string {
	return decimal.NewFromFloat(x).StringFixed(1)
}

// FormatServiceLevel renders a percentage as e.g. "75.0%"
func FormatServiceLevel(percent float64) string {
	return OneDecimal(percent) + "%"
}
