package fields

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"ai-talker/internal/domain"
)

// scanAPI is the subset of *dynamodb.Client used by DynamoSource.
type scanAPI interface {
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoSource reads fields as top-level string attributes of the first
// item whose OrgId, UseCase and BotName match the scope.
type DynamoSource struct {
	api   scanAPI
	table string
}

// NewDynamoSource creates a DynamoSource for table.
func NewDynamoSource(api scanAPI, table string) (*DynamoSource, error) {
	if api == nil {
		return nil, errors.New("fields: dynamodb api must not be nil")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errors.New("fields: table name must not be empty")
	}
	return &DynamoSource{api: api, table: table}, nil
}

func (s *DynamoSource) Fetch(ctx context.Context, _ string, field string, scope domain.Scope) (string, bool, error) {
	if scope.Empty() {
		return "", false, nil
	}
	item, err := s.record(ctx, scope)
	if err != nil {
		return "", false, unavailable(field, err)
	}
	if item == nil {
		return "", false, nil
	}
	v, ok := item[field].(*types.AttributeValueMemberS)
	if !ok {
		return "", false, nil
	}
	return v.Value, true, nil
}

// record pages through the scan until a matching item turns up. A filtered
// scan can return empty pages before the end of the table.
func (s *DynamoSource) record(ctx context.Context, scope domain.Scope) (map[string]types.AttributeValue, error) {
	in := &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		FilterExpression: aws.String("OrgId = :org AND UseCase = :uc AND BotName = :bot"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":org": &types.AttributeValueMemberS{Value: scope.OrgID},
			":uc":  &types.AttributeValueMemberS{Value: scope.UseCase},
			":bot": &types.AttributeValueMemberS{Value: scope.BotName},
		},
	}
	for {
		out, err := s.api.Scan(ctx, in)
		if err != nil {
			return nil, err
		}
		if len(out.Items) > 0 {
			return out.Items[0], nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
