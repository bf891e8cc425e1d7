package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"ai-talker/internal/dialogue"
	"ai-talker/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL

	// One transaction holds at most 100 items; one is the meta record.
	maxTurnsPerSave = 99
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores conversations in a single DynamoDB table: one META# item
// per conversation holding the cursor and step sequence, and one MSG#<seq>
// item per turn.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK zero-pads seq so lexical sort key order matches turn order.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%08d", skPrefixMsg, seq)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// Load reads the meta record and every turn in sequence order.
func (c *Client) Load(ctx context.Context, id string) (dialogue.State, error) {
	meta, err := c.getMeta(ctx, id)
	if err != nil {
		return dialogue.State{}, err
	}
	if meta == nil {
		return dialogue.State{}, ErrNotFound
	}
	st, err := itemToState(id, meta)
	if err != nil {
		return dialogue.State{}, fmt.Errorf("repository: Load decode meta: %w", err)
	}
	st.Turns, err = c.turns(ctx, id)
	if err != nil {
		return dialogue.State{}, err
	}
	return st, nil
}

func (c *Client) turns(ctx context.Context, id string) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(id)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}
	var turns []domain.Turn
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: Load query: %w", err)
		}
		for _, item := range out.Items {
			t, err := itemToTurn(item)
			if err != nil {
				return nil, fmt.Errorf("repository: Load unmarshal: %w", err)
			}
			turns = append(turns, t)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	if err := validateTurns(turns); err != nil {
		return nil, err
	}
	return turns, nil
}

func (c *Client) getMeta(ctx context.Context, id string) (map[string]types.AttributeValue, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

// Save writes turns not yet stored together with the updated meta record in
// one transaction. The meta put is conditioned on the previously stored last
// sequence number, so a concurrent writer yields ErrConflict.
func (c *Client) Save(ctx context.Context, id string, st dialogue.State) error {
	meta, err := c.getMeta(ctx, id)
	if err != nil {
		return err
	}
	prevSeq := 0
	if meta != nil {
		if prevSeq, err = intAttr(meta, "lastSeq"); err != nil {
			return fmt.Errorf("repository: Save decode meta: %w", err)
		}
	}

	var fresh []domain.Turn
	for _, t := range st.Turns {
		if t.Seq > prevSeq {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) > maxTurnsPerSave {
		return fmt.Errorf("repository: Save: %d new turns exceed %d per save", len(fresh), maxTurnsPerSave)
	}

	ttl := c.ttlValue()
	items := make([]types.TransactWriteItem, 0, len(fresh)+1)
	for _, t := range fresh {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                turnItem(id, t, ttl),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}

	lastSeq := prevSeq
	if n := len(st.Turns); n > 0 {
		lastSeq = st.Turns[n-1].Seq
	}
	metaPut := &types.Put{
		TableName: aws.String(c.tableName),
		Item:      c.metaItem(id, st, lastSeq, ttl),
	}
	if meta == nil {
		metaPut.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		metaPut.ConditionExpression = aws.String("lastSeq = :prev")
		metaPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberN{Value: strconv.Itoa(prevSeq)},
		}
	}
	items = append(items, types.TransactWriteItem{Put: metaPut})

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return fmt.Errorf("repository: Save %s: %w", id, ErrConflict)
		}
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

func (c *Client) metaItem(id string, st dialogue.State, lastSeq int, ttl int64) map[string]types.AttributeValue {
	seq := make([]types.AttributeValue, len(st.Sequence))
	for i, s := range st.Sequence {
		seq[i] = &types.AttributeValueMemberS{Value: s}
	}
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(id)},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"conversationId": &types.AttributeValueMemberS{Value: id},
		"sequence":       &types.AttributeValueMemberL{Value: seq},
		"cursor":         &types.AttributeValueMemberN{Value: strconv.Itoa(st.Cursor)},
		"halted":         &types.AttributeValueMemberBOOL{Value: st.Halted},
		"orgId":          &types.AttributeValueMemberS{Value: st.Scope.OrgID},
		"useCase":        &types.AttributeValueMemberS{Value: st.Scope.UseCase},
		"botName":        &types.AttributeValueMemberS{Value: st.Scope.BotName},
		"turns":          &types.AttributeValueMemberN{Value: strconv.Itoa(len(st.Turns))},
		"lastSeq":        &types.AttributeValueMemberN{Value: strconv.Itoa(lastSeq)},
		"lastActivity":   &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func turnItem(id string, t domain.Turn, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(id)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(t.Seq)},
		"conversationId": &types.AttributeValueMemberS{Value: id},
		"role":           &types.AttributeValueMemberS{Value: string(t.Role)},
		"content":        &types.AttributeValueMemberS{Value: t.Content},
		"seq":            &types.AttributeValueMemberN{Value: strconv.Itoa(t.Seq)},
		"at":             &types.AttributeValueMemberS{Value: t.At.UTC().Format(time.RFC3339Nano)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func itemToState(id string, item map[string]types.AttributeValue) (dialogue.State, error) {
	cursor, err := intAttr(item, "cursor")
	if err != nil {
		return dialogue.State{}, err
	}
	list, ok := item["sequence"].(*types.AttributeValueMemberL)
	if !ok {
		return dialogue.State{}, errors.New("repository: attribute \"sequence\" is not a list")
	}
	seq := make([]string, 0, len(list.Value))
	for _, v := range list.Value {
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return dialogue.State{}, errors.New("repository: sequence entry is not a string")
		}
		seq = append(seq, s.Value)
	}
	halted, _ := item["halted"].(*types.AttributeValueMemberBOOL)
	org, _ := strAttr(item, "orgId")
	useCase, _ := strAttr(item, "useCase")
	bot, _ := strAttr(item, "botName")
	return dialogue.State{
		ID:       id,
		Sequence: seq,
		Cursor:   cursor,
		Halted:   halted != nil && halted.Value,
		Scope:    domain.Scope{OrgID: org, UseCase: useCase, BotName: bot},
	}, nil
}

// itemToTurn converts a MSG# item to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	r, err := domain.ParseRole(role)
	if err != nil {
		return domain.Turn{}, err
	}
	content, _ := strAttr(item, "content") // allow empty
	seq, err := intAttr(item, "seq")
	if err != nil {
		return domain.Turn{}, err
	}
	var at time.Time
	if raw, err := strAttr(item, "at"); err == nil {
		at, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return domain.Turn{Role: r, Content: content, Seq: seq, At: at}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
