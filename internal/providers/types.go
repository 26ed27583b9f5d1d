package providers

import (
	"encoding/json"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleModel     = "model"
)

// ChatRequest is the inbound OpenAI-style chat-completions request. The
// non-standard "thinking" extension on assistant messages round-trips
// reasoning state that the wire protocol otherwise cannot express.
type ChatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []Tool           `json:"tools,omitempty"`
	ToolChoice  json.RawMessage  `json:"tool_choice,omitempty"`
	Reasoning   *ReasoningConfig `json:"reasoning,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
}

type ReasoningConfig struct {
	Effort    string `json:"effort,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type Message struct {
	Role       string         `json:"role"`
	Content    MessageContent `json:"content,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Thinking   *ThinkingBlock `json:"thinking,omitempty"`
}

// ThinkingBlock is the reasoning extension attached to assistant
// messages and deltas. The signature is an opaque token that must be
// replayed verbatim on later turns.
type ThinkingBlock struct {
	Content   string `json:"content,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// MessageContent accepts both the plain-string and the content-part
// array encodings of OpenAI message content.
type MessageContent struct {
	Text  string
	Parts []ContentPart
	isArr bool
}

func TextContent(s string) MessageContent {
	return MessageContent{Text: s}
}

func PartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts, isArr: true}
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*c = MessageContent{}
		return nil
	}
	if data[0] == '"' {
		c.isArr = false
		c.Parts = nil
		return json.Unmarshal(data, &c.Text)
	}
	if data[0] == '[' {
		c.isArr = true
		c.Text = ""
		return json.Unmarshal(data, &c.Parts)
	}
	return fmt.Errorf("message content must be a string or an array, got %s", string(data[:1]))
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.isArr {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// AsParts returns the content as a uniform part list, wrapping plain
// string content in a single text part.
func (c MessageContent) AsParts() []ContentPart {
	if c.isArr {
		return c.Parts
	}
	if c.Text == "" {
		return nil
	}
	return []ContentPart{{Kind: PartText, Text: c.Text}}
}

// PartKind discriminates the closed content-part union. Exactly one
// payload field is meaningful per kind.
type PartKind int

const (
	PartText PartKind = iota + 1
	PartImage
	PartToolUse
	PartToolResult
	PartThinking
)

type ContentPart struct {
	Kind       PartKind
	Text       string
	Image      *ImagePart
	ToolUse    *ToolUsePart
	ToolResult *ToolResultPart
	Thinking   *ThinkingPart
}

type ImagePart struct {
	MimeType string
	Data     string // base64 payload, exclusive with URI
	URI      string
}

type ToolUsePart struct {
	ID   string
	Name string
	Args json.RawMessage
}

type ToolResultPart struct {
	ToolCallID string
	Result     json.RawMessage
}

type ThinkingPart struct {
	Text      string
	Signature string
}

// contentPartWire is the OpenAI array-content encoding.
type contentPartWire struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

func (p *ContentPart) UnmarshalJSON(data []byte) error {
	var wire contentPartWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch wire.Type {
	case "text":
		*p = ContentPart{Kind: PartText, Text: wire.Text}
	case "image_url":
		if wire.ImageURL == nil {
			return fmt.Errorf("image_url part missing image_url object")
		}
		img, err := parseImageURL(wire.ImageURL.URL)
		if err != nil {
			return err
		}
		*p = ContentPart{Kind: PartImage, Image: img}
	default:
		// Unknown part kinds degrade to empty text rather than failing
		// the whole request.
		*p = ContentPart{Kind: PartText}
	}
	return nil
}

func (p ContentPart) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PartText:
		return json.Marshal(contentPartWire{Type: "text", Text: p.Text})
	case PartImage:
		url := p.Image.URI
		if url == "" {
			url = "data:" + p.Image.MimeType + ";base64," + p.Image.Data
		}
		return json.Marshal(map[string]any{
			"type":      "image_url",
			"image_url": map[string]string{"url": url},
		})
	default:
		return json.Marshal(contentPartWire{Type: "text"})
	}
}

type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type ToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatCompletion is the outbound OpenAI-style completion object.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type Choice struct {
	Index        int               `json:"index"`
	Message      *CompletionMessage `json:"message,omitempty"`
	Delta        *CompletionMessage `json:"delta,omitempty"`
	FinishReason string            `json:"finish_reason,omitempty"`
}

type CompletionMessage struct {
	Role        string         `json:"role,omitempty"`
	Content     *string        `json:"content,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	Thinking    *ThinkingBlock `json:"thinking,omitempty"`
	Annotations []Annotation   `json:"annotations,omitempty"`
}

type Annotation struct {
	Type        string      `json:"type"`
	URLCitation URLCitation `json:"url_citation"`
}

type URLCitation struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Text       string `json:"text,omitempty"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

type Usage struct {
	PromptTokens            int                      `json:"prompt_tokens"`
	CompletionTokens        int                      `json:"completion_tokens"`
	TotalTokens             int                      `json:"total_tokens"`
	PromptTokensDetails     *PromptTokensDetails     `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *CompletionTokensDetails `json:"completion_tokens_details,omitempty"`
}

type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

type CompletionTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}

// ErrorResponse is the OpenAI-style error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code,omitempty"`
}

// Vendor wire shapes. Both supported families speak a generateContent
// dialect wrapped in a {model, project, request} envelope.

type vendorEnvelope struct {
	Model   string                  `json:"model"`
	Project string                  `json:"project,omitempty"`
	Request *generateContentRequest `json:"request"`
}

type generateContentRequest struct {
	Contents          []vendorContent   `json:"contents"`
	SystemInstruction *vendorContent    `json:"systemInstruction,omitempty"`
	Tools             []vendorTool      `json:"tools,omitempty"`
	ToolConfig        *toolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type vendorContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []vendorPart `json:"parts"`
}

type vendorPart struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	InlineData       *vendorBlob       `json:"inlineData,omitempty"`
	FileData         *vendorFileData   `json:"fileData,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

// isEmpty reports whether the part carries no payload at all. Vendor
// turns reject such parts, so the composer filters them.
func (p vendorPart) isEmpty() bool {
	return p.Text == "" && !p.Thought && p.ThoughtSignature == "" &&
		p.InlineData == nil && p.FileData == nil &&
		p.FunctionCall == nil && p.FunctionResponse == nil
}

// MarshalJSON keeps the zero part encodable as an explicit empty text
// part, which is how a turn that lost all its content after filtering
// stays legal on the wire.
func (p vendorPart) MarshalJSON() ([]byte, error) {
	if p.isEmpty() {
		return []byte(`{"text":""}`), nil
	}
	type alias vendorPart
	return json.Marshal(alias(p))
}

type vendorBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type vendorFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type functionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type functionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type vendorTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type toolConfig struct {
	FunctionCallingConfig functionCallingConfig `json:"functionCallingConfig"`
}

type functionCallingConfig struct {
	Mode                 string   `json:"mode"`
	AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	ThinkingConfig  *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	IncludeThoughts bool   `json:"includeThoughts,omitempty"`
	ThinkingBudget  *int   `json:"thinkingBudget,omitempty"`
	ThinkingLevel   string `json:"thinkingLevel,omitempty"`
}

type vendorResponse struct {
	Response *generateContentResponse `json:"response,omitempty"`

	// Unwrapped shape, used when the envelope is absent.
	Candidates    []vendorCandidate `json:"candidates,omitempty"`
	UsageMetadata *usageMetadata    `json:"usageMetadata,omitempty"`
	ResponseID    string            `json:"responseId,omitempty"`
	ModelVersion  string            `json:"modelVersion,omitempty"`
	Error         *vendorError      `json:"error,omitempty"`
}

// payload returns the generateContent body regardless of whether the
// upstream wrapped it in a {response: ...} envelope.
func (r *vendorResponse) payload() *generateContentResponse {
	if r.Response != nil {
		return r.Response
	}
	return &generateContentResponse{
		Candidates:    r.Candidates,
		UsageMetadata: r.UsageMetadata,
		ResponseID:    r.ResponseID,
		ModelVersion:  r.ModelVersion,
		Error:         r.Error,
	}
}

type generateContentResponse struct {
	Candidates    []vendorCandidate `json:"candidates,omitempty"`
	UsageMetadata *usageMetadata    `json:"usageMetadata,omitempty"`
	ResponseID    string            `json:"responseId,omitempty"`
	ModelVersion  string            `json:"modelVersion,omitempty"`
	Error         *vendorError      `json:"error,omitempty"`
}

type vendorCandidate struct {
	Content           *vendorContent     `json:"content,omitempty"`
	FinishReason      string             `json:"finishReason,omitempty"`
	Index             int                `json:"index,omitempty"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata,omitempty"`
}

type groundingMetadata struct {
	GroundingChunks   []groundingChunk   `json:"groundingChunks,omitempty"`
	GroundingSupports []groundingSupport `json:"groundingSupports,omitempty"`
}

type groundingChunk struct {
	Web *groundingWeb `json:"web,omitempty"`
}

type groundingWeb struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

type groundingSupport struct {
	Segment               *groundingSegment `json:"segment,omitempty"`
	GroundingChunkIndices []int             `json:"groundingChunkIndices,omitempty"`
}

type groundingSegment struct {
	StartIndex int    `json:"startIndex,omitempty"`
	EndIndex   int    `json:"endIndex,omitempty"`
	Text       string `json:"text,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount         int `json:"totalTokenCount,omitempty"`
	ThoughtsTokenCount      int `json:"thoughtsTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

type vendorError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}
