package smsjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/shelterline/relay/pkg/logging"
)

const jobTTL = 24 * time.Hour

// Status is the lifecycle of one enqueued SMS send.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// ErrJobNotFound indicates the requested job ID does not exist.
var ErrJobNotFound = errors.New("smsjob: job not found")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// JobRecord is the persisted status of one enqueued SMS send.
type JobRecord struct {
	JobID     string `dynamodbav:"jobId" json:"jobId"`
	CallID    string `dynamodbav:"callId" json:"callId"`
	To        string `dynamodbav:"to" json:"to"`
	Status    Status `dynamodbav:"status" json:"status"`
	Error     string `dynamodbav:"error,omitempty" json:"error,omitempty"`
	CreatedAt string `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt string `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt int64  `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// JobStore persists SMS job status to DynamoDB, TTL-backed so rows age
// out on their own.
type JobStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

// NewJobStore builds a store backed by the given DynamoDB client.
func NewJobStore(client dynamoAPI, tableName string, logger *logging.Logger) *JobStore {
	if client == nil {
		panic("smsjob: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("smsjob: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &JobStore{client: client, tableName: tableName, logger: logger}
}

// PutPending inserts a new pending job record.
func (s *JobStore) PutPending(ctx context.Context, jobID, callID, to string) error {
	now := time.Now().UTC()
	job := JobRecord{
		JobID:     jobID,
		CallID:    callID,
		To:        to,
		Status:    StatusPending,
		CreatedAt: now.Format(time.RFC3339Nano),
		UpdatedAt: now.Format(time.RFC3339Nano),
		ExpiresAt: now.Add(jobTTL).Unix(),
	}
	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("smsjob: failed to marshal job: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(jobId)"),
	})
	if err != nil {
		return fmt.Errorf("smsjob: failed to persist job: %w", err)
	}
	return nil
}

// MarkSent records that the queued send was delivered.
func (s *JobStore) MarkSent(ctx context.Context, jobID string) error {
	return s.updateStatus(ctx, jobID, StatusSent, "")
}

// MarkFailed records that the queued send could not be delivered.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	return s.updateStatus(ctx, jobID, StatusFailed, errMsg)
}

func (s *JobStore) updateStatus(ctx context.Context, jobID string, status Status, errMsg string) error {
	if jobID == "" {
		return errors.New("smsjob: jobID required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
		UpdateExpression: aws.String("SET #status = :status, #error = :error, #updated = :updated"),
		ExpressionAttributeNames: map[string]string{
			"#status":  "status",
			"#error":   "error",
			"#updated": "updatedAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(status)},
			":error":   &types.AttributeValueMemberS{Value: errMsg},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_exists(jobId)"),
	})
	if err != nil {
		return fmt.Errorf("smsjob: failed to update job %s: %w", jobID, err)
	}
	return nil
}

// GetJob fetches a job's status by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, errors.New("smsjob: jobID required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("smsjob: failed to fetch job: %w", err)
	}
	if out.Item == nil {
		return nil, ErrJobNotFound
	}
	var job JobRecord
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("smsjob: failed to decode job: %w", err)
	}
	return &job, nil
}
