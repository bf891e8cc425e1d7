package fields

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"ai-talker/internal/domain"
	"ai-talker/internal/integrations/paramstore"
)

var acme = domain.Scope{OrgID: "acme", UseCase: "sales", BotName: "ava"}

// fakeScan returns one page per call from pages.
type fakeScan struct {
	pages  []*dynamodb.ScanOutput
	err    error
	inputs []*dynamodb.ScanInput
}

func (f *fakeScan) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	cp := *in
	f.inputs = append(f.inputs, &cp)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.pages) == 0 {
		return &dynamodb.ScanOutput{}, nil
	}
	out := f.pages[0]
	f.pages = f.pages[1:]
	return out, nil
}

func TestMap_StepKeyWinsOverBareField(t *testing.T) {
	m := Map{"GREETING": "their name", "CLOSING.GREETING": "override"}

	v, ok, err := m.Fetch(context.Background(), "GREETING", "GREETING", acme)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "their name", v)

	v, ok, _ = m.Fetch(context.Background(), "CLOSING", "GREETING", acme)
	require.True(t, ok)
	require.Equal(t, "override", v)

	_, ok, _ = m.Fetch(context.Background(), "CLOSING", "MISSING", acme)
	require.False(t, ok)
}

func TestDynamoSource_ReadsMatchingItem(t *testing.T) {
	api := &fakeScan{pages: []*dynamodb.ScanOutput{
		{LastEvaluatedKey: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "1"}}},
		{Items: []map[string]types.AttributeValue{{
			"OrgId":    &types.AttributeValueMemberS{Value: "acme"},
			"GREETING": &types.AttributeValueMemberS{Value: "their email address"},
			"Priority": &types.AttributeValueMemberN{Value: "3"},
		}}},
	}}
	src, err := NewDynamoSource(api, "bot-config")
	require.NoError(t, err)

	v, ok, err := src.Fetch(context.Background(), "GREETING", "GREETING", acme)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "their email address", v)

	require.Len(t, api.inputs, 2)
	first := api.inputs[0]
	require.Equal(t, "bot-config", aws.ToString(first.TableName))
	require.Equal(t, "OrgId = :org AND UseCase = :uc AND BotName = :bot", aws.ToString(first.FilterExpression))
	require.Equal(t, "sales", first.ExpressionAttributeValues[":uc"].(*types.AttributeValueMemberS).Value)
	require.Nil(t, first.ExclusiveStartKey)
	require.NotNil(t, api.inputs[1].ExclusiveStartKey)
}

func TestDynamoSource_AbsentValues(t *testing.T) {
	cases := []struct {
		name  string
		pages []*dynamodb.ScanOutput
		field string
	}{
		{name: "no matching record", field: "GREETING"},
		{
			name:  "attribute missing",
			field: "CLOSING",
			pages: []*dynamodb.ScanOutput{{Items: []map[string]types.AttributeValue{{
				"GREETING": &types.AttributeValueMemberS{Value: "x"},
			}}}},
		},
		{
			name:  "non-string attribute",
			field: "Priority",
			pages: []*dynamodb.ScanOutput{{Items: []map[string]types.AttributeValue{{
				"Priority": &types.AttributeValueMemberN{Value: "3"},
			}}}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src, err := NewDynamoSource(&fakeScan{pages: tc.pages}, "t")
			require.NoError(t, err)
			v, ok, err := src.Fetch(context.Background(), "S", tc.field, acme)
			require.NoError(t, err)
			require.False(t, ok)
			require.Empty(t, v)
		})
	}
}

func TestDynamoSource_EmptyScopeSkipsScan(t *testing.T) {
	api := &fakeScan{}
	src, err := NewDynamoSource(api, "t")
	require.NoError(t, err)
	_, ok, err := src.Fetch(context.Background(), "S", "GREETING", domain.Scope{})
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, api.inputs)
}

func TestDynamoSource_TransportFailure(t *testing.T) {
	src, err := NewDynamoSource(&fakeScan{err: errors.New("throttled")}, "t")
	require.NoError(t, err)

	_, _, err = src.Fetch(context.Background(), "S", "GREETING", acme)
	var unavailable *SourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Equal(t, "GREETING", unavailable.Field)
	require.ErrorContains(t, err, "throttled")
}

func TestNewDynamoSource_Validation(t *testing.T) {
	_, err := NewDynamoSource(nil, "t")
	require.ErrorContains(t, err, "must not be nil")
	_, err = NewDynamoSource(&fakeScan{}, " ")
	require.ErrorContains(t, err, "must not be empty")
}

type fakeGetter struct {
	values map[string]string
	err    error
	names  []string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.names = append(f.names, name)
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.values[name]
	if !ok {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, paramstore.ErrNotFound)
	}
	return v, nil
}

func TestParamSource_Fetch(t *testing.T) {
	g := &fakeGetter{values: map[string]string{"/talker/fields/acme/sales/ava/CLOSING": "offer a discount code"}}
	src, err := NewParamSource(g, "/talker/fields/")
	require.NoError(t, err)

	v, ok, err := src.Fetch(context.Background(), "CLOSING", "CLOSING", acme)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "offer a discount code", v)

	_, ok, err = src.Fetch(context.Background(), "GREETING", "GREETING", acme)
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, []string{
		"/talker/fields/acme/sales/ava/CLOSING",
		"/talker/fields/acme/sales/ava/GREETING",
	}, g.names)
}

func TestParamSource_Unavailable(t *testing.T) {
	src, err := NewParamSource(&fakeGetter{err: errors.New("ssm down")}, "/p")
	require.NoError(t, err)
	_, _, err = src.Fetch(context.Background(), "S", "F", acme)
	var unavailable *SourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestNewParamSource_Validation(t *testing.T) {
	_, err := NewParamSource(nil, "/p")
	require.Error(t, err)
	_, err = NewParamSource(&fakeGetter{}, " / ")
	require.Error(t, err)
}
