package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverseAPI struct {
	out *bedrockruntime.ConverseOutput
	err error
	req *bedrockruntime.ConverseInput
}

func (f *fakeConverseAPI) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.req = params
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func TestBedrockChatCompleteSuccess(t *testing.T) {
	api := &fakeConverseAPI{
		out: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role:    brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "hello there"}},
				},
			},
			Usage: &brtypes.TokenUsage{
				InputTokens:  aws.Int32(10),
				OutputTokens: aws.Int32(5),
				TotalTokens:  aws.Int32(15),
			},
		},
	}
	c := NewBedrockChatClient(api, time.Second)

	resp, err := c.Complete(context.Background(), ChatRequest{
		Model:    "anthropic.claude-3",
		System:   []string{"be helpful"},
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.EqualValues(t, 15, resp.Usage.TotalTokens)
	require.NotNil(t, api.req)
	assert.Equal(t, "anthropic.claude-3", *api.req.ModelId)
}

func TestBedrockChatCompleteRequiresModel(t *testing.T) {
	c := NewBedrockChatClient(&fakeConverseAPI{}, time.Second)
	_, err := c.Complete(context.Background(), ChatRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestBedrockChatCompleteClassifiesUpstreamError(t *testing.T) {
	api := &fakeConverseAPI{err: errors.New("service unavailable")}
	c := NewBedrockChatClient(api, time.Second)

	_, err := c.Complete(context.Background(), ChatRequest{
		Model:    "anthropic.claude-3",
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestBedrockChatCompleteEmptyContentIsInternalError(t *testing.T) {
	api := &fakeConverseAPI{
		out: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{Role: brtypes.ConversationRoleAssistant},
			},
		},
	}
	c := NewBedrockChatClient(api, time.Second)

	_, err := c.Complete(context.Background(), ChatRequest{
		Model:    "anthropic.claude-3",
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
}
