package providers

import (
	"log/slog"
	"strings"
)

const (
	generatePath       = "/v1internal:generateContent"
	streamGeneratePath = "/v1internal:streamGenerateContent"
)

// GeminiVendor speaks the standard Cloud Code generateContent dialect.
// Thinking is driven by a numeric token budget and the thinking
// signature is emitted only when the stream flushes.
type GeminiVendor struct {
	fam   family
	cache *SignatureCache
}

func NewGeminiVendor(cache *SignatureCache) *GeminiVendor {
	return &GeminiVendor{fam: familyGemini, cache: cache}
}

func (v *GeminiVendor) Name() string {
	return "gemini"
}

func (v *GeminiVendor) Endpoint(base string, stream bool) string {
	base = strings.TrimSuffix(base, "/")
	if stream {
		return base + streamGeneratePath + "?alt=sse"
	}
	return base + generatePath
}

func (v *GeminiVendor) Headers(stream bool) map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if stream {
		headers["Accept"] = "text/event-stream"
	}
	return headers
}

func (v *GeminiVendor) ComposeRequest(req *ChatRequest, project string) ([]byte, error) {
	return composeRequest(v.fam, v.cache, req, project)
}

func (v *GeminiVendor) DecomposeResponse(body []byte, model, project string) ([]byte, error) {
	return decomposeResponse(body, model, SessionKey(project, model), v.cache)
}

func (v *GeminiVendor) NewStream(req *ChatRequest, project string, logger *slog.Logger) *StreamReassembler {
	model, _ := splitThinkingTier(req.Model)
	return newStreamReassembler(v.fam, v.cache, sessionFor(req, project), model, thinkingEnabled(req), logger)
}
