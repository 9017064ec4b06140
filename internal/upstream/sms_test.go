package upstream

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSMSClientSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"msg_1","status":"queued"}}`))
	}))
	defer server.Close()

	c := NewHTTPSMSClient(server.URL, "key", "+15550001111", "whsec", time.Second)
	result, err := c.Send(context.Background(), "+15552223333", "your hours are 10-6")
	require.NoError(t, err)
	assert.Equal(t, "msg_1", result.ID)
	assert.Equal(t, "queued", result.Status)
}

func TestHTTPSMSClientSendRequiresRecipient(t *testing.T) {
	c := NewHTTPSMSClient("https://example.com", "key", "+15550001111", "whsec", time.Second)
	_, err := c.Send(context.Background(), "", "body")
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestHTTPSMSClientVerifyWebhookSignature(t *testing.T) {
	c := NewHTTPSMSClient("https://example.com", "key", "+15550001111", "whsec", time.Second)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	body := []byte(`{"event":"delivered"}`)
	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write([]byte(ts + "." + string(body)))
	sig := hex.EncodeToString(mac.Sum(nil))

	require.NoError(t, c.VerifyWebhookSignature(ts, sig, body))
	assert.Error(t, c.VerifyWebhookSignature(ts, "deadbeef", body))
}

func TestHTTPSMSClientVerifyWebhookSignatureRejectsStaleTimestamp(t *testing.T) {
	c := NewHTTPSMSClient("https://example.com", "key", "+15550001111", "whsec", time.Second)

	ts := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	body := []byte(`{"event":"delivered"}`)
	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write([]byte(ts + "." + string(body)))
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.Error(t, c.VerifyWebhookSignature(ts, sig, body))
}
