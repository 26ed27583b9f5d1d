package providers

import (
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	antigravityAPIClient      = "gl-node/22.17.0"
	antigravityClientMetadata = "ideType=IDE_UNSPECIFIED,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI"
)

// antigravityModelAliases maps public model names onto the identifiers
// the antigravity upstream expects.
var antigravityModelAliases = map[string]string{
	"gemini-3-pro":   "gemini-3-pro-preview",
	"gemini-3-flash": "gemini-3-flash-preview",
}

// AntigravityVendor speaks the stricter Cloud Code dialect: tool
// schemas are cleaned aggressively, thinking is driven by named levels,
// and the thinking signature is emitted the moment it arrives.
type AntigravityVendor struct {
	fam   family
	cache *SignatureCache
}

func NewAntigravityVendor(cache *SignatureCache) *AntigravityVendor {
	return &AntigravityVendor{fam: familyAntigravity, cache: cache}
}

func (v *AntigravityVendor) Name() string {
	return "antigravity"
}

func (v *AntigravityVendor) Endpoint(base string, stream bool) string {
	base = strings.TrimSuffix(base, "/")
	if stream {
		return base + streamGeneratePath + "?alt=sse"
	}
	return base + generatePath
}

func (v *AntigravityVendor) Headers(stream bool) map[string]string {
	headers := map[string]string{
		"Content-Type":    "application/json",
		"Accept":          "application/json",
		"X-Goog-Api-Client": antigravityAPIClient,
		"Client-Metadata": antigravityClientMetadata,
	}
	if stream {
		headers["Accept"] = "text/event-stream"
	}
	return headers
}

func (v *AntigravityVendor) ComposeRequest(req *ChatRequest, project string) ([]byte, error) {
	payload, err := composeRequest(v.fam, v.cache, req, project)
	if err != nil {
		return nil, err
	}
	return v.patchPayload(payload), nil
}

// patchPayload applies the upstream quirks that sit outside the shared
// composer: model aliasing and an explicit role on the system
// instruction, which this backend requires.
func (v *AntigravityVendor) patchPayload(payload []byte) []byte {
	model := gjson.GetBytes(payload, "model").String()
	if alias, ok := antigravityModelAliases[model]; ok {
		payload, _ = sjson.SetBytes(payload, "model", alias)
	}
	if gjson.GetBytes(payload, "request.systemInstruction").Exists() {
		payload, _ = sjson.SetBytes(payload, "request.systemInstruction.role", RoleUser)
	}
	return payload
}

func (v *AntigravityVendor) DecomposeResponse(body []byte, model, project string) ([]byte, error) {
	return decomposeResponse(body, model, SessionKey(project, model), v.cache)
}

func (v *AntigravityVendor) NewStream(req *ChatRequest, project string, logger *slog.Logger) *StreamReassembler {
	model, _ := splitThinkingTier(req.Model)
	return newStreamReassembler(v.fam, v.cache, sessionFor(req, project), model, thinkingEnabled(req), logger)
}
