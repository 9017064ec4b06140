package upstream

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn in a chat completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// TokenUsage reports token accounting for a completion.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// ChatRequest is a vendor-agnostic chat completion request.
type ChatRequest struct {
	System      []string
	Messages    []ChatMessage
	Model       string
	MaxTokens   int32
	Temperature float32
}

// ChatResponse is a vendor-agnostic chat completion response.
type ChatResponse struct {
	Text  string
	Usage TokenUsage
}

// Chat is the narrow typed surface for an LLM chat-completion vendor
// (spec.md §4.2/§6). Implementations apply their own request timeout and
// classify failures into the Kind taxonomy.
type Chat interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// TTS synthesizes speech audio for text.
type TTS interface {
	Synthesize(ctx context.Context, text, voice string) (audio []byte, mime string, err error)
}

// STT transcribes recorded audio to text.
type STT interface {
	Transcribe(ctx context.Context, audio []byte, sampleRate int, language string) (string, error)
}

// SearchOptions configures a Search call.
type SearchOptions struct {
	Depth          string
	MaxResults     int
	IncludeDomains []string
	ExcludeDomains []string
	IncludeRaw     bool
}

// SearchResult is one raw result from the Search vendor.
type SearchResult struct {
	Title   string
	URL     string
	Content string
	Score   float64
}

// SearchResponse is the raw response from the Search vendor, before the
// retrieval pipeline's filter/extract/rank/shape steps.
type SearchResponse struct {
	Answer  string
	Results []SearchResult
}

// Search is the narrow typed surface for a web-search/retrieval vendor.
type Search interface {
	Search(ctx context.Context, query string, opts SearchOptions) (SearchResponse, error)
}

// SMSSendResult is the vendor's acknowledgement of an outbound SMS send.
type SMSSendResult struct {
	ID     string
	Status string
}

// SMS is the narrow typed surface for an SMS vendor.
type SMS interface {
	Send(ctx context.Context, to, body string) (SMSSendResult, error)
}

// GeocodeResult resolves free text to a normalized location.
type GeocodeResult struct {
	Location string
	IsUS     bool
	Scope    string // e.g. "city", "region", "country"
}

// Geocode is the narrow typed surface for a geocoding vendor.
type Geocode interface {
	Resolve(ctx context.Context, text string) (GeocodeResult, error)
}
