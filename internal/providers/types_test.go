package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContentStringForm(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"role": "user", "content": "plain text"}`), &msg))

	assert.Equal(t, "plain text", msg.Content.Text)

	parts := msg.Content.AsParts()
	require.Len(t, parts, 1)
	assert.Equal(t, PartText, parts[0].Kind)
	assert.Equal(t, "plain text", parts[0].Text)
}

func TestMessageContentArrayForm(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{
		"role": "user",
		"content": [
			{"type": "text", "text": "look at this"},
			{"type": "image_url", "image_url": {"url": "data:image/jpeg;base64,Zm9v"}},
			{"type": "audio", "whatever": true}
		]
	}`), &msg))

	parts := msg.Content.AsParts()
	require.Len(t, parts, 3)

	assert.Equal(t, PartText, parts[0].Kind)
	assert.Equal(t, "look at this", parts[0].Text)

	assert.Equal(t, PartImage, parts[1].Kind)
	require.NotNil(t, parts[1].Image)
	assert.Equal(t, "image/jpeg", parts[1].Image.MimeType)
	assert.Equal(t, "Zm9v", parts[1].Image.Data)

	// Unknown part kinds degrade to empty text.
	assert.Equal(t, PartText, parts[2].Kind)
	assert.Empty(t, parts[2].Text)
}

func TestMessageContentNullAndInvalid(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"role": "assistant", "content": null}`), &msg))
	assert.Empty(t, msg.Content.AsParts())

	err := json.Unmarshal([]byte(`{"role": "user", "content": 42}`), &msg)
	assert.Error(t, err)
}

func TestMessageContentRoundTrip(t *testing.T) {
	in := `{"role":"user","content":[{"type":"text","text":"hi"}]}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(in), &msg))

	out, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestVendorPartEmptyMarshalsAsEmptyText(t *testing.T) {
	out, err := json.Marshal(vendorPart{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text": ""}`, string(out))

	out, err = json.Marshal(vendorPart{Text: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text": "x"}`, string(out))
}

func TestChatRequestParsing(t *testing.T) {
	var req ChatRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"model": "gemini-3-pro-high",
		"stream": true,
		"reasoning": {"effort": "high", "max_tokens": 2048},
		"max_tokens": 800,
		"messages": [
			{"role": "system", "content": "be nice"},
			{"role": "assistant", "thinking": {"content": "hmm", "signature": "s1"}},
			{"role": "tool", "tool_call_id": "call_7", "content": "done"}
		],
		"tool_choice": "auto"
	}`), &req))

	assert.Equal(t, "gemini-3-pro-high", req.Model)
	assert.True(t, req.Stream)
	require.NotNil(t, req.Reasoning)
	assert.Equal(t, "high", req.Reasoning.Effort)
	assert.Equal(t, 2048, req.Reasoning.MaxTokens)
	assert.Equal(t, 800, req.MaxTokens)

	require.Len(t, req.Messages, 3)
	require.NotNil(t, req.Messages[1].Thinking)
	assert.Equal(t, "s1", req.Messages[1].Thinking.Signature)
	assert.Equal(t, "call_7", req.Messages[2].ToolCallID)

	assert.JSONEq(t, `"auto"`, string(req.ToolChoice))
}
