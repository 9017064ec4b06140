package upstream_test

import (
	"context"
	"errors"

	"github.com/shelterline/relay/internal/upstream"
)

// stubChatClient scripts a sequence of responses/errors for Chat.Complete,
// recording every request it saw.
type stubChatClient struct {
	responses []upstream.ChatResponse
	errs      []error
	requests  []upstream.ChatRequest
	calls     int
}

func (s *stubChatClient) Complete(ctx context.Context, req upstream.ChatRequest) (upstream.ChatResponse, error) {
	s.requests = append(s.requests, req)
	defer func() { s.calls++ }()
	if s.calls < len(s.errs) && s.errs[s.calls] != nil {
		return upstream.ChatResponse{}, s.errs[s.calls]
	}
	if s.calls < len(s.responses) {
		return s.responses[s.calls], nil
	}
	if len(s.responses) > 0 {
		return s.responses[len(s.responses)-1], nil
	}
	return upstream.ChatResponse{}, errors.New("stubChatClient: no scripted response")
}

type stubTTSClient struct {
	audio []byte
	mime  string
	err   error
}

func (s *stubTTSClient) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return s.audio, s.mime, nil
}

type stubSTTClient struct {
	text string
	err  error
}

func (s *stubSTTClient) Transcribe(ctx context.Context, audio []byte, sampleRate int, language string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

type stubSearchClient struct {
	response upstream.SearchResponse
	err      error
	lastReq  struct {
		Query string
		Opts  upstream.SearchOptions
	}
}

func (s *stubSearchClient) Search(ctx context.Context, query string, opts upstream.SearchOptions) (upstream.SearchResponse, error) {
	s.lastReq.Query = query
	s.lastReq.Opts = opts
	if s.err != nil {
		return upstream.SearchResponse{}, s.err
	}
	return s.response, nil
}

type stubSMSClient struct {
	result upstream.SMSSendResult
	err    error
	sent   []string
}

func (s *stubSMSClient) Send(ctx context.Context, to, body string) (upstream.SMSSendResult, error) {
	s.sent = append(s.sent, to+":"+body)
	if s.err != nil {
		return upstream.SMSSendResult{}, s.err
	}
	return s.result, nil
}

type stubGeocodeClient struct {
	result upstream.GeocodeResult
	err    error
}

func (s *stubGeocodeClient) Resolve(ctx context.Context, text string) (upstream.GeocodeResult, error) {
	if s.err != nil {
		return upstream.GeocodeResult{}, s.err
	}
	return s.result, nil
}
