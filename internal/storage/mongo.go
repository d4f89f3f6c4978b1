package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dennisdiepolder/echo/backend/internal/types"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB collections, named as mongoose pluralizes the User, Analysis and
// AbandonedCall models
const (
	collectionUsers     = "users"
	collectionAnalyses  = "analyses"
	collectionAbandoned = "abandonedcalls"
)

// MongoStore implements Store on MongoDB over the existing user, analysis
// and abandoned-call documents. User ids that parse as ObjectIDs are
// stored and queried as ObjectIDs; the driver decodes them back into hex
// strings.
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
	logger   zerolog.Logger
}

// NewMongoStore connects, pings and ensures indexes
func NewMongoStore(ctx context.Context, cfg MongoConfig, logger zerolog.Logger) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store := &MongoStore{
		client:   client,
		database: client.Database(cfg.Database),
		logger:   logger,
	}
	if err := store.createIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info().Str("database", cfg.Database).Msg("MongoDB store initialized")
	return store, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	callIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user", Value: 1}, {Key: "date", Value: 1}}},
		{Keys: bson.D{{Key: "date", Value: 1}}},
	}
	for _, name := range []string{collectionAnalyses, collectionAbandoned} {
		if _, err := s.database.Collection(name).Indexes().CreateMany(ctx, callIndexes); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func (s *MongoStore) InsertAnsweredCall(ctx context.Context, call types.AnsweredCall) error {
	call.OccurredAt = call.OccurredAt.UTC()
	call.PositiveKeywords = nonNil(call.PositiveKeywords)
	call.NegativeKeywords = nonNil(call.NegativeKeywords)

	doc, err := toDocument(call, "user")
	if err != nil {
		return fmt.Errorf("failed to encode answered call: %w", err)
	}
	if _, err := s.database.Collection(collectionAnalyses).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to save answered call: %w", err)
	}
	return nil
}

func (s *MongoStore) InsertAbandonedCalls(ctx context.Context, calls ...types.AbandonedCall) error {
	if len(calls) == 0 {
		return nil
	}
	docs, err := abandonedDocuments(calls)
	if err != nil {
		return err
	}
	if _, err := s.database.Collection(collectionAbandoned).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to save abandoned calls: %w", err)
	}
	return nil
}

func abandonedDocuments(calls []types.AbandonedCall) ([]interface{}, error) {
	docs := make([]interface{}, 0, len(calls))
	for _, call := range calls {
		call.OccurredAt = call.OccurredAt.UTC()
		doc, err := toDocument(call, "user")
		if err != nil {
			return nil, fmt.Errorf("failed to encode abandoned call: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *MongoStore) ListAnsweredCalls(ctx context.Context, filter CallFilter) ([]types.AnsweredCall, error) {
	calls := make([]types.AnsweredCall, 0)
	if err := s.find(ctx, collectionAnalyses, filter, &calls); err != nil {
		return nil, fmt.Errorf("failed to list answered calls: %w", err)
	}
	sortAnswered(calls)
	return calls, nil
}

func (s *MongoStore) ListAbandonedCalls(ctx context.Context, filter CallFilter) ([]types.AbandonedCall, error) {
	calls := make([]types.AbandonedCall, 0)
	if err := s.find(ctx, collectionAbandoned, filter, &calls); err != nil {
		return nil, fmt.Errorf("failed to list abandoned calls: %w", err)
	}
	sortAbandoned(calls)
	return calls, nil
}

func (s *MongoStore) find(ctx context.Context, collection string, filter CallFilter, out interface{}) error {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.database.Collection(collection).Find(ctx, mongoFilter(filter), opts)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

func mongoFilter(filter CallFilter) bson.M {
	query := bson.M{}
	if filter.UserID != "" {
		query["user"] = mongoID(filter.UserID)
	}
	date := bson.M{}
	if !filter.From.IsZero() {
		date["$gte"] = filter.From.UTC()
	}
	if !filter.To.IsZero() {
		date["$lt"] = filter.To.UTC()
	}
	if len(date) > 0 {
		query["date"] = date
	}
	return query
}

func (s *MongoStore) CountAnsweredCalls(ctx context.Context, userID string) (int, error) {
	n, err := s.database.Collection(collectionAnalyses).CountDocuments(ctx, bson.M{"user": mongoID(userID)})
	if err != nil {
		return 0, fmt.Errorf("failed to count answered calls: %w", err)
	}
	return int(n), nil
}

func (s *MongoStore) CountAbandonedCalls(ctx context.Context, userID string) (int, error) {
	n, err := s.database.Collection(collectionAbandoned).CountDocuments(ctx, bson.M{"user": mongoID(userID)})
	if err != nil {
		return 0, fmt.Errorf("failed to count abandoned calls: %w", err)
	}
	return int(n), nil
}

func (s *MongoStore) UpsertUser(ctx context.Context, user types.User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	fields, err := toDocument(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	delete(fields, "_id")

	// $set keeps the fields this service does not own (password, timezone...)
	_, err = s.database.Collection(collectionUsers).UpdateOne(ctx,
		bson.M{"_id": mongoID(user.ID)}, bson.M{"$set": fields}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUser(ctx context.Context, userID string) (types.User, error) {
	var user types.User
	err := s.database.Collection(collectionUsers).FindOne(ctx, bson.M{"_id": mongoID(userID)}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return types.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *MongoStore) ListUsers(ctx context.Context) ([]types.User, error) {
	cursor, err := s.database.Collection(collectionUsers).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]types.User, 0)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}

// IncrementAbandonedCounter applies $inc and returns the post-update document
func (s *MongoStore) IncrementAbandonedCounter(ctx context.Context, userID string) (int, error) {
	var user types.User
	err := s.database.Collection(collectionUsers).FindOneAndUpdate(ctx,
		bson.M{"_id": mongoID(userID)},
		bson.M{"$inc": bson.M{"abandonedCalls": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment abandoned counter: %w", err)
	}
	return user.AbandonedCalls, nil
}

// BackfillAbandonedCalls runs the compare and the insert in a session
// transaction. Both runs bump backfillVersion on the user document, so the
// later one hits a write conflict and is retried against the committed rows.
// Transactions need a replica set, which Atlas always provides.
func (s *MongoStore) BackfillAbandonedCalls(ctx context.Context, userID string, at time.Time, newID func() string) (int, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return 0, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	users := s.database.Collection(collectionUsers)
	abandoned := s.database.Collection(collectionAbandoned)

	created, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		var user types.User
		err := users.FindOne(sc, bson.M{"_id": mongoID(userID)}).Decode(&user)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read legacy counter: %w", err)
		}

		actual, err := abandoned.CountDocuments(sc, bson.M{"user": mongoID(userID)})
		if err != nil {
			return 0, fmt.Errorf("failed to count abandoned calls: %w", err)
		}
		missing := user.AbandonedCalls - int(actual)
		if missing <= 0 {
			return 0, nil
		}

		if _, err := users.UpdateOne(sc, bson.M{"_id": mongoID(userID)},
			bson.M{"$inc": bson.M{"backfillVersion": 1}}); err != nil {
			return 0, err
		}
		docs, err := abandonedDocuments(backfillRows(userID, missing, at, newID))
		if err != nil {
			return 0, err
		}
		if _, err := abandoned.InsertMany(sc, docs); err != nil {
			return 0, fmt.Errorf("failed to save backfill rows: %w", err)
		}
		return missing, nil
	})
	if err != nil {
		return 0, err
	}
	return created.(int), nil
}

// TruncateAll deletes every document in the ledger collections
func (s *MongoStore) TruncateAll(ctx context.Context) error {
	for _, name := range []string{collectionUsers, collectionAnalyses, collectionAbandoned} {
		if _, err := s.database.Collection(name).DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", name, err)
		}
		s.logger.Info().Str("collection", name).Msg("collection truncated")
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// mongoID returns the ObjectID form of id when it parses as one, so filters
// match documents whose references were written as ObjectIDs
func mongoID(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

// toDocument encodes v and converts the named reference fields with mongoID
func toDocument(v interface{}, refs ...string) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	for _, field := range refs {
		if id, ok := doc[field].(string); ok {
			doc[field] = mongoID(id)
		}
	}
	return doc, nil
}
