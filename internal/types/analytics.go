package types

// SentimentBreakdown is the positive/negative/neutral word split of one transcript
type SentimentBreakdown struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// SentimentMix sums breakdowns across many calls with rounded percentages
type SentimentMix struct {
	SentimentBreakdown
	Calls           int `json:"calls"`
	PositivePercent int `json:"positivePercent"`
	NegativePercent int `json:"negativePercent"`
	NeutralPercent  int `json:"neutralPercent"`
}

// Stats holds per-user totals
type Stats struct {
	AnsweredCalls  int `json:"answeredCalls"`
	AbandonedCalls int `json:"abandonedCalls"`
}

// LeaderboardEntry is one ranked user on the leaderboard
type LeaderboardEntry struct {
	Rank                int     `json:"rank"`
	UserID              string  `json:"userId"`
	Name                string  `json:"name"`
	ProfilePicture      string  `json:"profilePicture"`
	Calls               int     `json:"calls"`
	AnsweredCount       int     `json:"answeredCount"`
	AbandonedCount      int     `json:"abandonedCount"`
	AverageSentiment    float64 `json:"averageSentiment"`
	TotalCalls          int     `json:"totalCalls"`
	ServiceLevelPercent float64 `json:"serviceLevelPercent"` // 0-100
	ServiceLevel        string  `json:"serviceLevel"`        // e.g. "75.0%"
	Satisfaction        string  `json:"satisfaction"`        // e.g. "3.5"
}

// TrendBucket is one calendar day of a user's trailing trend
type TrendBucket struct {
	DateKey          string  `json:"dateKey"` // YYYY-MM-DD
	Incoming         int     `json:"incoming"`
	Answered         int     `json:"answered"`
	Abandoned        int     `json:"abandoned"`
	AverageSentiment float64 `json:"averageSentiment"`
	PositivePercent  int     `json:"positivePercent"`
}

// ReconcileFailure records a user whose backfill could not complete
type ReconcileFailure struct {
	UserID string `json:"userId"`
	Error  string `json:"error"`
}

// ReconcileResult summarizes one reconciliation run
type ReconcileResult struct {
	UsersScanned    int                `json:"usersScanned"`
	UsersBackfilled int                `json:"usersBackfilled"`
	RecordsCreated  int                `json:"recordsCreated"`
	Failures        []ReconcileFailure `json:"failures,omitempty"`
}
