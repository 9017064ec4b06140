package upstream

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HTTPSMSClient implements SMS against a Telnyx-shaped messaging API.
type HTTPSMSClient struct {
	http       *httpVendorClient
	from       string
	webhookKey string
	maxSkew    time.Duration
}

// NewHTTPSMSClient creates an HTTPSMSClient. webhookSigningSecret validates
// inbound delivery-status webhooks via VerifyWebhookSignature.
func NewHTTPSMSClient(baseURL, apiKey, from, webhookSigningSecret string, timeout time.Duration) *HTTPSMSClient {
	return &HTTPSMSClient{
		http:       newHTTPVendorClient("sms", baseURL, apiKey, timeout),
		from:       from,
		webhookKey: webhookSigningSecret,
		maxSkew:    5 * time.Minute,
	}
}

type sendMessageRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendMessageResponseWire struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

func (c *HTTPSMSClient) Send(ctx context.Context, to, body string) (SMSSendResult, error) {
	if strings.TrimSpace(to) == "" {
		return SMSSendResult{}, NewError(KindInternal, errors.New("upstream: sms recipient is required"))
	}
	if strings.TrimSpace(body) == "" {
		return SMSSendResult{}, NewError(KindInternal, errors.New("upstream: sms body is required"))
	}

	payload, err := json.Marshal(sendMessageRequest{From: c.from, To: to, Text: body})
	if err != nil {
		return SMSSendResult{}, NewError(KindInternal, err)
	}

	data, err := c.http.invoke(ctx, "POST", "/messages", nil, payload)
	if err != nil {
		return SMSSendResult{}, err
	}

	wire, err := decodeJSON[sendMessageResponseWire](data)
	if err != nil {
		return SMSSendResult{}, err
	}
	return SMSSendResult{ID: wire.Data.ID, Status: wire.Data.Status}, nil
}

// VerifyWebhookSignature validates an inbound webhook's HMAC-SHA256
// signature over "<timestamp>.<body>", rejecting stale timestamps.
func (c *HTTPSMSClient) VerifyWebhookSignature(timestamp, signature string, payload []byte) error {
	if c.webhookKey == "" {
		return errors.New("upstream: sms webhook secret not configured")
	}
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return errors.New("upstream: missing signature timestamp")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("upstream: invalid signature timestamp: %w", err)
	}
	sentAt := time.Unix(sec, 0)
	if diff := time.Since(sentAt); diff > c.maxSkew || diff < -c.maxSkew {
		return fmt.Errorf("upstream: signature timestamp skew %s exceeds limit", diff)
	}
	unsigned := ts + "." + string(payload)
	mac := hmac.New(sha256.New, []byte(c.webhookKey))
	mac.Write([]byte(unsigned))
	expected := hex.EncodeToString(mac.Sum(nil))
	actual := strings.ToLower(strings.TrimSpace(signature))
	if actual == "" {
		return errors.New("upstream: missing signature header")
	}
	if !hmac.Equal([]byte(expected), []byte(actual)) {
		return errors.New("upstream: signature mismatch")
	}
	return nil
}
