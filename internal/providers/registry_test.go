package providers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Initialize(NewSignatureCache(DefaultSignatureTTL, time.Now))

	return r
}

func TestRegistryInitialize(t *testing.T) {
	r := newTestRegistry()

	names := r.List()
	assert.Len(t, names, 2)
	assert.Contains(t, names, "gemini")
	assert.Contains(t, names, "antigravity")
}

func TestRegistryGetByDomain(t *testing.T) {
	r := newTestRegistry()

	tests := []struct {
		apiBase string
		want    string
	}{
		{"https://cloudcode-pa.googleapis.com", "gemini"},
		{"https://cloudcode-pa.googleapis.com/", "gemini"},
		{"https://daily-cloudcode-pa.googleapis.com", "antigravity"},
		{"https://daily-cloudcode-pa.sandbox.googleapis.com", "antigravity"},
	}

	for _, tt := range tests {
		vendor, err := r.GetByDomain(tt.apiBase)
		require.NoError(t, err, tt.apiBase)
		assert.Equal(t, tt.want, vendor.Name(), tt.apiBase)
	}

	_, err := r.GetByDomain("https://api.openai.com")
	assert.Error(t, err)
}

func TestVendorEndpoints(t *testing.T) {
	r := newTestRegistry()
	vendor, _ := r.Get("gemini")

	base := "https://cloudcode-pa.googleapis.com"
	assert.Equal(t, base+"/v1internal:generateContent", vendor.Endpoint(base, false))
	assert.Equal(t, base+"/v1internal:streamGenerateContent?alt=sse", vendor.Endpoint(base+"/", true))
}

func TestVendorHeaders(t *testing.T) {
	r := newTestRegistry()

	gemini, _ := r.Get("gemini")
	headers := gemini.Headers(true)
	assert.Equal(t, "text/event-stream", headers["Accept"])
	assert.Equal(t, "application/json", headers["Content-Type"])

	antigravity, _ := r.Get("antigravity")
	headers = antigravity.Headers(false)
	assert.Equal(t, antigravityAPIClient, headers["X-Goog-Api-Client"])
	assert.Equal(t, antigravityClientMetadata, headers["Client-Metadata"])
}

func TestAntigravityPatchPayload(t *testing.T) {
	cache := NewSignatureCache(time.Hour, nil)
	vendor := NewAntigravityVendor(cache)

	req := &ChatRequest{
		Model: "gemini-3-pro",
		Messages: []Message{
			{Role: RoleSystem, Content: TextContent("be brief")},
			{Role: RoleUser, Content: TextContent("hi")},
		},
	}

	payload, err := vendor.ComposeRequest(req, "proj")
	require.NoError(t, err)

	out := gjson.ParseBytes(payload)
	assert.Equal(t, "gemini-3-pro-preview", out.Get("model").String())
	assert.Equal(t, RoleUser, out.Get("request.systemInstruction.role").String())
}

func TestAntigravityPatchPayloadNoSystem(t *testing.T) {
	cache := NewSignatureCache(time.Hour, nil)
	vendor := NewAntigravityVendor(cache)

	req := &ChatRequest{
		Model: "gemini-3-flash",
		Messages: []Message{
			{Role: RoleUser, Content: TextContent("hi")},
		},
	}

	payload, err := vendor.ComposeRequest(req, "proj")
	require.NoError(t, err)

	out := gjson.ParseBytes(payload)
	assert.Equal(t, "gemini-3-flash-preview", out.Get("model").String())
	assert.False(t, out.Get("request.systemInstruction").Exists())
}

func TestThinkingEnabled(t *testing.T) {
	assert.True(t, thinkingEnabled(&ChatRequest{Model: "gemini-3-pro-high"}))
	assert.True(t, thinkingEnabled(&ChatRequest{Model: "gemini-2.5-pro", Reasoning: &ReasoningConfig{Effort: "low"}}))
	assert.False(t, thinkingEnabled(&ChatRequest{Model: "gemini-2.5-pro", Reasoning: &ReasoningConfig{Effort: "none"}}))
	assert.False(t, thinkingEnabled(&ChatRequest{Model: "gemini-2.5-pro"}))
}

func TestSessionForStripsTier(t *testing.T) {
	req := &ChatRequest{Model: "gemini-3-pro-high"}
	assert.Equal(t, "proj/gemini-3-pro", sessionFor(req, "proj"))
}
