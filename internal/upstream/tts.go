package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// HTTPTTSClient implements TTS against a generic JSON speech-synthesis API
// that returns base64-encoded audio.
type HTTPTTSClient struct {
	http *httpVendorClient
}

// NewHTTPTTSClient creates an HTTPTTSClient.
func NewHTTPTTSClient(baseURL, apiKey string, timeout time.Duration) *HTTPTTSClient {
	return &HTTPTTSClient{http: newHTTPVendorClient("tts", baseURL, apiKey, timeout)}
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type synthesizeResponseWire struct {
	AudioBase64 string `json:"audio_base64"`
	MimeType    string `json:"mime_type"`
}

func (c *HTTPTTSClient) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", NewError(KindInternal, errors.New("upstream: tts text is required"))
	}

	payload, err := json.Marshal(synthesizeRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, "", NewError(KindInternal, err)
	}

	data, err := c.http.invoke(ctx, "POST", "/synthesize", nil, payload)
	if err != nil {
		return nil, "", err
	}

	wire, err := decodeJSON[synthesizeResponseWire](data)
	if err != nil {
		return nil, "", err
	}

	audio, err := base64.StdEncoding.DecodeString(wire.AudioBase64)
	if err != nil {
		return nil, "", NewError(KindInternal, err)
	}

	mime := wire.MimeType
	if mime == "" {
		mime = "audio/mpeg"
	}
	return audio, mime, nil
}
