package types

import "time"

// DefaultCallerName is used when the upload pipeline sends no caller name
const DefaultCallerName = "Unknown"

// MaxKeywords caps the positive/negative keyword lists kept per call
const MaxKeywords = 5

// AnsweredCall is one transcribed and sentiment-scored call
type AnsweredCall struct {
	ID               string    `json:"id" dynamodbav:"ID" bson:"_id"`
	UserID           string    `json:"userId" dynamodbav:"UserID" bson:"user"`
	SortKey          string    `json:"-" dynamodbav:"SortKey" bson:"-"` // occurredAt#id (DynamoDB range key)
	CallerName       string    `json:"callerName" dynamodbav:"CallerName" bson:"callerName"`
	Transcript       string    `json:"transcript" dynamodbav:"Transcript" bson:"transcript"`
	SentimentScore   float64   `json:"sentimentScore" dynamodbav:"SentimentScore" bson:"sentimentScore"`
	PositiveKeywords []string  `json:"positiveKeywords" dynamodbav:"PositiveKeywords" bson:"positiveKeywords"`
	NegativeKeywords []string  `json:"negativeKeywords" dynamodbav:"NegativeKeywords" bson:"negativeKeywords"`
	OccurredAt       time.Time `json:"occurredAt" dynamodbav:"OccurredAt" bson:"date"`
}

// AbandonedCall is one abandonment event in the abandoned-call log
type AbandonedCall struct {
	ID         string    `json:"id" dynamodbav:"ID" bson:"_id"`
	UserID     string    `json:"userId" dynamodbav:"UserID" bson:"user"`
	SortKey    string    `json:"-" dynamodbav:"SortKey" bson:"-"`
	OccurredAt time.Time `json:"occurredAt" dynamodbav:"OccurredAt" bson:"date"`
	Backfilled bool      `json:"backfilled,omitempty" dynamodbav:"Backfilled" bson:"backfilled,omitempty"`
}

// User is the subset of the user entity the ledger reads and writes.
// AbandonedCalls is the legacy denormalized counter that predates the
// abandoned-call log.
type User struct {
	ID             string `json:"id" dynamodbav:"UserID" bson:"_id"`
	Name           string `json:"name" dynamodbav:"Name" bson:"username"`
	Email          string `json:"email,omitempty" dynamodbav:"Email" bson:"email,omitempty"`
	ProfilePicture string `json:"profilePicture" dynamodbav:"ProfilePicture" bson:"profilePicture"`
	AbandonedCalls int    `json:"abandonedCalls" dynamodbav:"AbandonedCalls" bson:"abandonedCalls"`
}

// SortableTimeLayout is a fixed-width UTC layout whose lexical order matches time order
const SortableTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SortKeyFor builds the range key used to order events by time within a user
func SortKeyFor(occurredAt time.Time, id string) string {
	return occurredAt.UTC().Format(SortableTimeLayout) + "#" + id
}
