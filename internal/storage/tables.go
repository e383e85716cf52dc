package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

// CreateArchiveTableIfNotExist creates the archive table for local development
func CreateArchiveTableIfNotExist(ctx context.Context, client *dynamodb.Client, cfg ArchiveConfig, logger zerolog.Logger) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(cfg.Table),
	})
	if err == nil {
		logger.Info().Str("table", cfg.Table).Msg("table already exists")
		return nil
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(cfg.Table),
		KeySchema: []dbtypes.KeySchemaElement{
			{AttributeName: aws.String("CourseID"), KeyType: dbtypes.KeyTypeHash},
			{AttributeName: aws.String("EntryKey"), KeyType: dbtypes.KeyTypeRange},
		},
		AttributeDefinitions: []dbtypes.AttributeDefinition{
			{AttributeName: aws.String("CourseID"), AttributeType: dbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("EntryKey"), AttributeType: dbtypes.ScalarAttributeTypeS},
		},
		BillingMode: dbtypes.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", cfg.Table, err)
	}
	logger.Info().Str("table", cfg.Table).Msg("table created")
	return nil
}
