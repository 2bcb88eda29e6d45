// Package dynamo keeps conversation sessions in a DynamoDB table so several
// front ends can share dialogue state.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Veraticus/chatfin/internal/common"
	"github.com/Veraticus/chatfin/internal/model"
)

const (
	pkPrefix      = "USER#"
	skPrefix      = "SESSION#"
	defaultMaxAge = 24 * time.Hour
)

// dynamodbAPI is the subset of the DynamoDB client the store calls.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// SessionStore implements service.SessionStore on a table keyed by PK/SK.
// Items carry a ttl attribute so DynamoDB expires abandoned sessions.
type SessionStore struct {
	api    dynamodbAPI
	now    func() time.Time
	table  string
	maxAge time.Duration
}

// NewSessionStore wraps an existing client.
func NewSessionStore(api dynamodbAPI, table string, maxAge time.Duration) (*SessionStore, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return &SessionStore{api: api, table: table, maxAge: maxAge, now: time.Now}, nil
}

// Open loads the default AWS configuration and builds a store. A non-empty
// endpoint points the client at a local DynamoDB.
func Open(ctx context.Context, region, endpoint, table string, maxAge time.Duration) (*SessionStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewSessionStore(client, table, maxAge)
}

func sessionKey(userID, sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefix + userID},
		"SK": &types.AttributeValueMemberS{Value: skPrefix + sessionID},
	}
}

// GetSession loads a session. Items past their ttl are treated as missing
// because DynamoDB deletes expired items lazily.
func (s *SessionStore) GetSession(ctx context.Context, userID, sessionID string) (*model.ConversationSession, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            sessionKey(userID, sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: get session: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}

	if ttl, err := intAttr(out.Item, "ttl"); err == nil && ttl <= s.now().Unix() {
		return nil, fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}

	payload, err := strAttr(out.Item, "payload")
	if err != nil {
		return nil, fmt.Errorf("dynamo: get session: %w", err)
	}
	var session model.ConversationSession
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return nil, fmt.Errorf("dynamo: decode session: %w", err)
	}
	return &session, nil
}

// SaveSession writes or replaces a session and pushes its ttl forward.
func (s *SessionStore) SaveSession(ctx context.Context, session *model.ConversationSession) error {
	if session == nil || session.ID == "" || session.UserID == "" {
		return errors.New("dynamo: session requires an ID and a user")
	}

	now := s.now()
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("dynamo: encode session: %w", err)
	}

	item := sessionKey(session.UserID, session.ID)
	item["state"] = &types.AttributeValueMemberS{Value: string(session.State)}
	item["payload"] = &types.AttributeValueMemberS{Value: string(payload)}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: session.UpdatedAt.UTC().Format(time.RFC3339)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.maxAge).Unix(), 10)}

	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamo: save session: %w", err)
	}
	return nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (s *SessionStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if _, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       sessionKey(userID, sessionID),
	}); err != nil {
		return fmt.Errorf("dynamo: delete session: %w", err)
	}
	return nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
