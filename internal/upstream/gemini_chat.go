package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiChatClient implements Chat and STT using Google's Gemini API.
type GeminiChatClient struct {
	client  *genai.Client
	modelID string
}

// NewGeminiChatClient creates a Gemini-backed client.
func NewGeminiChatClient(ctx context.Context, apiKey, modelID string) (*GeminiChatClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, NewError(KindAuthMisconfig, errors.New("upstream: gemini api key is required"))
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, NewError(ClassifyTransport(err), fmt.Errorf("upstream: failed to create gemini client: %w", err))
	}

	return &GeminiChatClient{client: client, modelID: modelID}, nil
}

func (c *GeminiChatClient) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	// Same 25s default request timeout as the Bedrock chat client.
	ctx, cancel := context.WithTimeout(ctx, 25*time.Second)
	defer cancel()

	model := c.client.GenerativeModel(c.modelID)

	if req.Temperature > 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}

	if len(req.System) > 0 {
		systemText := strings.Join(req.System, "\n\n")
		if strings.TrimSpace(systemText) != "" {
			model.SystemInstruction = genai.NewUserContent(genai.Text(systemText))
		}
	}

	if len(req.Messages) == 0 {
		return ChatResponse{}, NewError(KindInternal, errors.New("upstream: gemini requires at least one message"))
	}

	cs := model.StartChat()
	if len(req.Messages) > 1 {
		for _, msg := range req.Messages[:len(req.Messages)-1] {
			content := strings.TrimSpace(msg.Content)
			if content == "" || msg.Role == ChatRoleSystem {
				continue
			}
			role := "user"
			if msg.Role == ChatRoleAssistant {
				role = "model"
			}
			cs.History = append(cs.History, &genai.Content{
				Role:  role,
				Parts: []genai.Part{genai.Text(content)},
			})
		}
	}

	lastMsg := req.Messages[len(req.Messages)-1]
	resp, err := cs.SendMessage(ctx, genai.Text(lastMsg.Content))
	if err != nil {
		return ChatResponse{}, NewError(ClassifyTransport(err), fmt.Errorf("upstream: gemini completion failed: %w", err))
	}

	text, usage, err := geminiExtract(resp)
	if err != nil {
		return ChatResponse{}, NewError(KindInternal, err)
	}

	return ChatResponse{Text: text, Usage: usage}, nil
}

// Transcribe implements STT by sending raw audio bytes to Gemini as an
// inline blob and asking it to return only the spoken words.
func (c *GeminiChatClient) Transcribe(ctx context.Context, audio []byte, sampleRate int, language string) (string, error) {
	if len(audio) == 0 {
		return "", NewError(KindInternal, errors.New("upstream: transcribe called with empty audio"))
	}

	model := c.client.GenerativeModel(c.modelID)
	model.SetTemperature(0)

	prompt := "Transcribe the spoken words in this audio clip exactly. Return only the transcript text, nothing else."
	if strings.TrimSpace(language) != "" {
		prompt = fmt.Sprintf("%s The speaker is using language code %s.", prompt, language)
	}

	resp, err := model.GenerateContent(ctx,
		genai.Blob{MIMEType: "audio/wav", Data: audio},
		genai.Text(prompt),
	)
	if err != nil {
		return "", NewError(ClassifyTransport(err), fmt.Errorf("upstream: gemini transcription failed: %w", err))
	}

	text, _, err := geminiExtract(resp)
	if err != nil {
		return "", NewError(KindInternal, err)
	}
	return text, nil
}

func geminiExtract(resp *genai.GenerateContentResponse) (string, TokenUsage, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", TokenUsage{}, errors.New("upstream: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", TokenUsage{}, errors.New("upstream: gemini returned empty content")
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}

	var usage TokenUsage
	if resp.UsageMetadata != nil {
		usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}

	return strings.TrimSpace(b.String()), usage, nil
}

// Close releases resources held by the Gemini client.
func (c *GeminiChatClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
