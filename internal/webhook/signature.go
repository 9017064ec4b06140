package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	signatureTimestampHeader = "X-Relay-Timestamp"
	signatureHeader          = "X-Relay-Signature"
	signatureMaxSkew         = 5 * time.Minute
)

// verifySignature validates an inbound webhook's HMAC-SHA256 signature
// over "<timestamp>.<body>", rejecting stale timestamps. Same scheme as
// the upstream package's vendor-webhook verification, applied here to
// the provider's own call into this server.
func verifySignature(secret, timestamp, signature string, body []byte) error {
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return errors.New("webhook: missing signature timestamp")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("webhook: invalid signature timestamp: %w", err)
	}
	sentAt := time.Unix(sec, 0)
	if diff := time.Since(sentAt); diff > signatureMaxSkew || diff < -signatureMaxSkew {
		return fmt.Errorf("webhook: signature timestamp skew %s exceeds limit", diff)
	}

	unsigned := ts + "." + string(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unsigned))
	expected := hex.EncodeToString(mac.Sum(nil))
	actual := strings.ToLower(strings.TrimSpace(signature))
	if !hmac.Equal([]byte(expected), []byte(actual)) {
		return errors.New("webhook: signature mismatch")
	}
	return nil
}
