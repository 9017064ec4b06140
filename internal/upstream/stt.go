package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"strconv"
	"time"
)

// HTTPSTTClient implements STT against a generic speech-to-text API that
// accepts a multipart audio upload, the wire shape this vendor class
// uses instead of TTS's JSON-in/bytes-out one.
type HTTPSTTClient struct {
	http *httpVendorClient
}

// NewHTTPSTTClient creates an HTTPSTTClient.
func NewHTTPSTTClient(baseURL, apiKey string, timeout time.Duration) *HTTPSTTClient {
	return &HTTPSTTClient{http: newHTTPVendorClient("stt", baseURL, apiKey, timeout)}
}

type transcribeResponseWire struct {
	Text string `json:"text"`
}

func (c *HTTPSTTClient) Transcribe(ctx context.Context, audio []byte, sampleRate int, language string) (string, error) {
	if len(audio) == 0 {
		return "", NewError(KindInternal, errors.New("upstream: stt audio is required"))
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("sample_rate", strconv.Itoa(sampleRate)); err != nil {
		return "", NewError(KindInternal, fmt.Errorf("upstream: stt: encode request: %w", err))
	}
	if language != "" {
		if err := w.WriteField("language", language); err != nil {
			return "", NewError(KindInternal, fmt.Errorf("upstream: stt: encode request: %w", err))
		}
	}
	part, err := w.CreateFormFile("audio", "audio.raw")
	if err != nil {
		return "", NewError(KindInternal, fmt.Errorf("upstream: stt: encode request: %w", err))
	}
	if _, err := part.Write(audio); err != nil {
		return "", NewError(KindInternal, fmt.Errorf("upstream: stt: encode request: %w", err))
	}
	if err := w.Close(); err != nil {
		return "", NewError(KindInternal, fmt.Errorf("upstream: stt: encode request: %w", err))
	}

	data, err := c.http.invokeWithContentType(ctx, "POST", "/transcribe", nil, body.Bytes(), w.FormDataContentType())
	if err != nil {
		return "", err
	}

	wire, err := decodeJSON[transcribeResponseWire](data)
	if err != nil {
		return "", err
	}
	return wire.Text, nil
}
