package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dennisdiepolder/leaddesk/internal/types"
	"github.com/rs/zerolog"
)

// DynamoDB caps BatchWriteItem at 25 requests
const dynamoBatchSize = 25

// DynamoDBArchive implements AuditArchive using AWS DynamoDB
type DynamoDBArchive struct {
	client *dynamodb.Client
	config ArchiveConfig
	logger zerolog.Logger
}

// NewDynamoDBArchive creates a new DynamoDB archive
func NewDynamoDBArchive(ctx context.Context, cfg ArchiveConfig, logger zerolog.Logger) (*DynamoDBArchive, error) {
	var client *dynamodb.Client

	if cfg.Mode == ArchiveModeLocal {
		// LoadDefaultConfig probes the EC2 IMDS endpoint, which hangs when
		// static credentials are intended.
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

	if cfg.Mode == ArchiveModeLocal {
		if err := CreateArchiveTableIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Str("table", cfg.Table).
		Msg("DynamoDB archive initialized")

	return &DynamoDBArchive{client: client, config: cfg, logger: logger}, nil
}

// Archive writes entries in batches of 25
func (a *DynamoDBArchive) Archive(ctx context.Context, entries []types.DistributionLogEntry) error {
	for i := 0; i < len(entries); i += dynamoBatchSize {
		end := i + dynamoBatchSize
		if end > len(entries) {
			end = len(entries)
		}

		requests := make([]dbtypes.WriteRequest, 0, end-i)
		for _, e := range entries[i:end] {
			item, err := attributevalue.MarshalMap(types.NewDistributionRecord(e))
			if err != nil {
				return fmt.Errorf("failed to marshal distribution record: %w", err)
			}
			requests = append(requests, dbtypes.WriteRequest{
				PutRequest: &dbtypes.PutRequest{Item: item},
			})
		}

		out, err := a.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]dbtypes.WriteRequest{
				a.config.Table: requests,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to archive distribution records: %w", err)
		}
		if n := len(out.UnprocessedItems[a.config.Table]); n > 0 {
			a.logger.Warn().Int("unprocessed", n).Msg("archive batch partially written")
		}
	}
	return nil
}

// History returns archived records for a course, newest first
func (a *DynamoDBArchive) History(ctx context.Context, courseID string) ([]types.DistributionRecord, error) {
	keyCond := expression.Key("CourseID").Equal(expression.Value(courseID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	records := make([]types.DistributionRecord, 0)
	var lastKey map[string]dbtypes.AttributeValue
	for {
		input := &dynamodb.QueryInput{
			TableName:                 aws.String(a.config.Table),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ScanIndexForward:          aws.Bool(false),
		}
		if lastKey != nil {
			input.ExclusiveStartKey = lastKey
		}

		result, err := a.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query distribution records: %w", err)
		}

		var page []types.DistributionRecord
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal distribution records: %w", err)
		}
		records = append(records, page...)

		lastKey = result.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}
	return records, nil
}

// NewArchive creates the appropriate archive based on configuration
func NewArchive(ctx context.Context, cfg ArchiveConfig, logger zerolog.Logger) (AuditArchive, error) {
	switch cfg.Mode {
	case ArchiveModeLocal, ArchiveModeAWS:
		return NewDynamoDBArchive(ctx, cfg, logger)
	default:
		logger.Info().Msg("distribution archive disabled (ARCHIVE_MODE=none)")
		return NewNoopArchive(), nil
	}
}
