package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

const (
	dynamoUserKey = "UserID"
	dynamoSortKey = "SortKey"
)

type tableSchema struct {
	name string
	pk   string
	sk   string // empty for hash-only tables
}

func ledgerTables(cfg DynamoConfig) []tableSchema {
	return []tableSchema{
		{cfg.UsersTable, dynamoUserKey, ""},
		{cfg.AnsweredTable, dynamoUserKey, dynamoSortKey},
		{cfg.AbandonedTable, dynamoUserKey, dynamoSortKey},
	}
}

// CreateTablesIfNotExist creates DynamoDB tables for local development
func CreateTablesIfNotExist(ctx context.Context, client *dynamodb.Client, cfg DynamoConfig, logger zerolog.Logger) error {
	for _, table := range ledgerTables(cfg) {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(table.name),
		})
		if err == nil {
			logger.Info().Str("table", table.name).Msg("table already exists")
			continue
		}

		keySchema := []dbtypes.KeySchemaElement{
			{AttributeName: aws.String(table.pk), KeyType: dbtypes.KeyTypeHash},
		}
		attrs := []dbtypes.AttributeDefinition{
			{AttributeName: aws.String(table.pk), AttributeType: dbtypes.ScalarAttributeTypeS},
		}
		if table.sk != "" {
			keySchema = append(keySchema, dbtypes.KeySchemaElement{AttributeName: aws.String(table.sk), KeyType: dbtypes.KeyTypeRange})
			attrs = append(attrs, dbtypes.AttributeDefinition{AttributeName: aws.String(table.sk), AttributeType: dbtypes.ScalarAttributeTypeS})
		}

		_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName:            aws.String(table.name),
			KeySchema:            keySchema,
			AttributeDefinitions: attrs,
			BillingMode:          dbtypes.BillingModePayPerRequest,
		})
		if err != nil {
			return fmt.Errorf("failed to create table %s: %w", table.name, err)
		}
		logger.Info().Str("table", table.name).Msg("table created")
	}

	return nil
}
