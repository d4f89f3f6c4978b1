package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dennisdiepolder/echo/backend/internal/types"
	"github.com/rs/zerolog"
)

const (
	dynamoBatchSize    = 25
	dynamoTransactSize = 100

	// backfillVersionAttr on a user item is bumped by every backfill
	// transaction; each transaction is conditioned on the value it read
	backfillVersionAttr = "BackfillVersion"
)

// DynamoDBStore implements Store using AWS DynamoDB.
// Call tables are keyed by UserID with SortKey = occurredAt#id, so a
// user's window query is a single key-range Query.
type DynamoDBStore struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoDBStore creates a new DynamoDB store
func NewDynamoDBStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBStore, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// LoadDefaultConfig probes the EC2 IMDS endpoint, which hangs when
		// static local credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	store := &DynamoDBStore{
		client: client,
		config: cfg,
		logger: logger,
	}

	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB store initialized")

	return store, nil
}

func (s *DynamoDBStore) InsertAnsweredCall(ctx context.Context, call types.AnsweredCall) error {
	call.SortKey = types.SortKeyFor(call.OccurredAt, call.ID)
	call.PositiveKeywords = nonNil(call.PositiveKeywords)
	call.NegativeKeywords = nonNil(call.NegativeKeywords)

	item, err := attributevalue.MarshalMap(call)
	if err != nil {
		return fmt.Errorf("failed to marshal answered call: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.AnsweredTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save answered call: %w", err)
	}
	return nil
}

// InsertAbandonedCalls writes the rows in batches of 25, resending any
// unprocessed items
func (s *DynamoDBStore) InsertAbandonedCalls(ctx context.Context, calls ...types.AbandonedCall) error {
	for i := 0; i < len(calls); i += dynamoBatchSize {
		end := min(i+dynamoBatchSize, len(calls))

		requests := make([]dbtypes.WriteRequest, 0, end-i)
		for _, call := range calls[i:end] {
			call.SortKey = types.SortKeyFor(call.OccurredAt, call.ID)
			item, err := attributevalue.MarshalMap(call)
			if err != nil {
				return fmt.Errorf("failed to marshal abandoned call: %w", err)
			}
			requests = append(requests, dbtypes.WriteRequest{
				PutRequest: &dbtypes.PutRequest{Item: item},
			})
		}

		pending := map[string][]dbtypes.WriteRequest{s.config.AbandonedTable: requests}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt == 5 {
				return fmt.Errorf("failed to save abandoned calls: unprocessed items after %d attempts", attempt)
			}
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("failed to save abandoned calls: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

func (s *DynamoDBStore) ListAnsweredCalls(ctx context.Context, filter CallFilter) ([]types.AnsweredCall, error) {
	items, err := s.listItems(ctx, s.config.AnsweredTable, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list answered calls: %w", err)
	}

	calls := make([]types.AnsweredCall, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &calls); err != nil {
		return nil, fmt.Errorf("failed to unmarshal answered calls: %w", err)
	}
	sortAnswered(calls)
	return calls, nil
}

func (s *DynamoDBStore) ListAbandonedCalls(ctx context.Context, filter CallFilter) ([]types.AbandonedCall, error) {
	items, err := s.listItems(ctx, s.config.AbandonedTable, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list abandoned calls: %w", err)
	}

	calls := make([]types.AbandonedCall, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &calls); err != nil {
		return nil, fmt.Errorf("failed to unmarshal abandoned calls: %w", err)
	}
	sortAbandoned(calls)
	return calls, nil
}

// listItems queries one user's key range, or scans the whole table when no
// user is given
func (s *DynamoDBStore) listItems(ctx context.Context, table string, filter CallFilter) ([]map[string]dbtypes.AttributeValue, error) {
	var items []map[string]dbtypes.AttributeValue

	if filter.UserID == "" {
		builder := expression.NewBuilder()
		var cond expression.ConditionBuilder
		hasCond := false
		if !filter.From.IsZero() {
			cond = expression.Name(dynamoSortKey).GreaterThanEqual(expression.Value(formatTime(filter.From)))
			hasCond = true
		}
		if !filter.To.IsZero() {
			upper := expression.Name(dynamoSortKey).LessThan(expression.Value(formatTime(filter.To)))
			if hasCond {
				cond = cond.And(upper)
			} else {
				cond = upper
			}
			hasCond = true
		}

		input := &dynamodb.ScanInput{TableName: aws.String(table)}
		if hasCond {
			expr, err := builder.WithFilter(cond).Build()
			if err != nil {
				return nil, fmt.Errorf("failed to build expression: %w", err)
			}
			input.FilterExpression = expr.Filter()
			input.ExpressionAttributeNames = expr.Names()
			input.ExpressionAttributeValues = expr.Values()
		}

		paginator := dynamodb.NewScanPaginator(s.client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, err
			}
			items = append(items, page.Items...)
		}
		return items, nil
	}

	keyCond := expression.Key(dynamoUserKey).Equal(expression.Value(filter.UserID))
	switch {
	case !filter.From.IsZero() && !filter.To.IsZero():
		// SortKey values at exactly To sort after the bare timestamp, so
		// BETWEEN behaves as an exclusive upper bound here.
		keyCond = keyCond.And(expression.Key(dynamoSortKey).Between(
			expression.Value(formatTime(filter.From)), expression.Value(formatTime(filter.To))))
	case !filter.From.IsZero():
		keyCond = keyCond.And(expression.Key(dynamoSortKey).GreaterThanEqual(expression.Value(formatTime(filter.From))))
	case !filter.To.IsZero():
		keyCond = keyCond.And(expression.Key(dynamoSortKey).LessThan(expression.Value(formatTime(filter.To))))
	}

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func (s *DynamoDBStore) CountAnsweredCalls(ctx context.Context, userID string) (int, error) {
	count, err := s.countForUser(ctx, s.config.AnsweredTable, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count answered calls: %w", err)
	}
	return count, nil
}

func (s *DynamoDBStore) CountAbandonedCalls(ctx context.Context, userID string) (int, error) {
	count, err := s.countForUser(ctx, s.config.AbandonedTable, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count abandoned calls: %w", err)
	}
	return count, nil
}

func (s *DynamoDBStore) countForUser(ctx context.Context, table, userID string) (int, error) {
	keyCond := expression.Key(dynamoUserKey).Equal(expression.Value(userID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build expression: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Select:                    dbtypes.SelectCount,
		ConsistentRead:            aws.Bool(true),
	})

	total := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		total += int(page.Count)
	}
	return total, nil
}

func (s *DynamoDBStore) UpsertUser(ctx context.Context, user types.User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.UsersTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetUser(ctx context.Context, userID string) (types.User, error) {
	key, err := attributevalue.MarshalMap(map[string]string{dynamoUserKey: userID})
	if err != nil {
		return types.User{}, fmt.Errorf("failed to marshal user key: %w", err)
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.UsersTable),
		Key:       key,
	})
	if err != nil {
		return types.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	if out.Item == nil {
		return types.User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	var user types.User
	if err := attributevalue.UnmarshalMap(out.Item, &user); err != nil {
		return types.User{}, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return user, nil
}

func (s *DynamoDBStore) ListUsers(ctx context.Context) ([]types.User, error) {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.config.UsersTable),
	})

	users := make([]types.User, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan users: %w", err)
		}
		var batch []types.User
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal users: %w", err)
		}
		users = append(users, batch...)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// IncrementAbandonedCounter uses an ADD update so concurrent increments
// for one user do not lose updates
func (s *DynamoDBStore) IncrementAbandonedCounter(ctx context.Context, userID string) (int, error) {
	key, err := attributevalue.MarshalMap(map[string]string{dynamoUserKey: userID})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal user key: %w", err)
	}

	update := expression.Add(expression.Name("AbandonedCalls"), expression.Value(1))
	cond := expression.AttributeExists(expression.Name(dynamoUserKey))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build expression: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.UsersTable),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              dbtypes.ReturnValueUpdatedNew,
	})
	if err != nil {
		var condErr *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to increment abandoned counter: %w", err)
	}

	var updated struct {
		AbandonedCalls int `dynamodbav:"AbandonedCalls"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return 0, fmt.Errorf("failed to unmarshal counter: %w", err)
	}
	return updated.AbandonedCalls, nil
}

// BackfillAbandonedCalls writes the missing rows in transactions of up to 99
// puts plus a conditional bump of the user's BackfillVersion. The version is
// read before the log is counted, so a run that loses the race to another
// process fails its condition instead of inserting a second copy.
func (s *DynamoDBStore) BackfillAbandonedCalls(ctx context.Context, userID string, at time.Time, newID func() string) (int, error) {
	key, err := attributevalue.MarshalMap(map[string]string{dynamoUserKey: userID})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal user key: %w", err)
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.UsersTable),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read legacy counter: %w", err)
	}
	if out.Item == nil {
		return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	var state struct {
		AbandonedCalls  int `dynamodbav:"AbandonedCalls"`
		BackfillVersion int `dynamodbav:"BackfillVersion"`
	}
	if err := attributevalue.UnmarshalMap(out.Item, &state); err != nil {
		return 0, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	actual, err := s.countForUser(ctx, s.config.AbandonedTable, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count abandoned calls: %w", err)
	}

	missing := state.AbandonedCalls - actual
	if missing <= 0 {
		return 0, nil
	}

	rows := backfillRows(userID, missing, at, newID)
	version := state.BackfillVersion
	created := 0
	for created < len(rows) {
		end := min(created+dynamoTransactSize-1, len(rows))

		claim, err := s.backfillClaim(key, version)
		if err != nil {
			return created, err
		}
		items := []dbtypes.TransactWriteItem{{Update: claim}}
		for _, call := range rows[created:end] {
			call.SortKey = types.SortKeyFor(call.OccurredAt, call.ID)
			item, err := attributevalue.MarshalMap(call)
			if err != nil {
				return created, fmt.Errorf("failed to marshal abandoned call: %w", err)
			}
			items = append(items, dbtypes.TransactWriteItem{
				Put: &dbtypes.Put{TableName: aws.String(s.config.AbandonedTable), Item: item},
			})
		}

		_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err != nil {
			if claimLost(err) {
				s.logger.Info().Str("userId", userID).Int("created", created).Msg("backfill taken over by a concurrent run")
				return created, nil
			}
			return created, fmt.Errorf("failed to write backfill rows: %w", err)
		}
		created = end
		version++
	}
	return created, nil
}

// backfillClaim bumps BackfillVersion from version, failing if another run
// moved it first
func (s *DynamoDBStore) backfillClaim(key map[string]dbtypes.AttributeValue, version int) (*dbtypes.Update, error) {
	versionName := expression.Name(backfillVersionAttr)
	unchanged := versionName.Equal(expression.Value(version))
	if version == 0 {
		unchanged = expression.Or(expression.AttributeNotExists(versionName), unchanged)
	}
	cond := expression.AttributeExists(expression.Name(dynamoUserKey)).And(unchanged)
	update := expression.Set(versionName, expression.Value(version+1))

	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}
	return &dbtypes.Update{
		TableName:                 aws.String(s.config.UsersTable),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}

// claimLost reports whether a backfill transaction was cancelled by the
// version condition on its first item
func claimLost(err error) bool {
	var canceled *dbtypes.TransactionCanceledException
	if !errors.As(err, &canceled) || len(canceled.CancellationReasons) == 0 {
		return false
	}
	return aws.ToString(canceled.CancellationReasons[0].Code) == "ConditionalCheckFailed"
}

// TruncateAll deletes all items from every ledger table (scan + batch delete)
func (s *DynamoDBStore) TruncateAll(ctx context.Context) error {
	for _, table := range ledgerTables(s.config) {
		if err := s.truncateTable(ctx, table); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table.name, err)
		}
	}
	return nil
}

func (s *DynamoDBStore) truncateTable(ctx context.Context, table tableSchema) error {
	names := map[string]string{"#pk": table.pk}
	projection := "#pk"
	if table.sk != "" {
		names["#sk"] = table.sk
		projection = "#pk, #sk"
	}

	var lastKey map[string]dbtypes.AttributeValue
	for {
		input := &dynamodb.ScanInput{
			TableName:                aws.String(table.name),
			ProjectionExpression:     aws.String(projection),
			ExpressionAttributeNames: names,
			Limit:                    aws.Int32(500),
		}
		if lastKey != nil {
			input.ExclusiveStartKey = lastKey
		}

		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return err
		}

		for i := 0; i < len(result.Items); i += dynamoBatchSize {
			end := min(i+dynamoBatchSize, len(result.Items))

			requests := make([]dbtypes.WriteRequest, 0, end-i)
			for _, item := range result.Items[i:end] {
				key := map[string]dbtypes.AttributeValue{table.pk: item[table.pk]}
				if table.sk != "" {
					key[table.sk] = item[table.sk]
				}
				requests = append(requests, dbtypes.WriteRequest{
					DeleteRequest: &dbtypes.DeleteRequest{Key: key},
				})
			}

			_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]dbtypes.WriteRequest{
					table.name: requests,
				},
			})
			if err != nil {
				return err
			}
		}

		lastKey = result.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}

	s.logger.Info().Str("table", table.name).Msg("table truncated")
	return nil
}

func (s *DynamoDBStore) Close() error { return nil }
