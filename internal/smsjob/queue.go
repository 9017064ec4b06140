// Package smsjob moves the end-of-call SMS send (spec.md §4.8's
// "enqueued containing the last smsResponse") off the webhook request
// path: a queue half durably hands the send to async delivery, and a
// DynamoDB status half tracks whether it went out.
package smsjob

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// queueClient is the narrow queue surface a Dispatcher needs, satisfied
// by SQSQueue in production and MemoryQueue in tests or
// USE_MEMORY_QUEUE deployments.
type queueClient interface {
	Send(ctx context.Context, body string) error
}

type queueMessage struct {
	ID   string
	Body string
}

// queuePayload is the durable body of one enqueued SMS send.
type queuePayload struct {
	JobID  string `json:"jobId"`
	CallID string `json:"callId"`
	To     string `json:"to"`
	Body   string `json:"body"`
}

func encodePayload(callID, to, body string) (queuePayload, string, error) {
	payload := queuePayload{JobID: uuid.NewString(), CallID: callID, To: to, Body: body}
	data, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("smsjob: failed to encode payload: %w", err)
	}
	return payload, string(data), nil
}
