package providers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	// placeholderThinking stands in for thinking content when a vendor
	// returns a signature without any thought text.
	placeholderThinking = "(no content)"

	maxToolNameLength = 64
	floorOutputTokens = 64000
)

// family captures the behavioral differences between the two supported
// generateContent dialects.
type family struct {
	name string

	// strictSchema selects the stricter tool-schema normalizer and the
	// _placeholder substitution for argument-less tools.
	strictSchema bool

	// namedThinkingLevels selects named thinking levels over numeric
	// token budgets.
	namedThinkingLevels bool

	// signatureOnArrival makes the streaming reassembler emit the
	// thinking signature the moment it is observed rather than only at
	// stream flush.
	signatureOnArrival bool
}

var (
	familyGemini = family{
		name: "gemini",
	}
	familyAntigravity = family{
		name:                "antigravity",
		strictSchema:        true,
		namedThinkingLevels: true,
		signatureOnArrival:  true,
	}
)

var invalidToolNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// thinkingTierBudgets maps named reasoning tiers onto token budgets.
// The same table serves both the reasoning.effort field and the
// -(minimal|low|medium|high) model-name suffix.
var thinkingTierBudgets = map[string]int{
	"minimal": 1024,
	"low":     8192,
	"medium":  16384,
	"high":    32768,
}

// budgetBand is the valid thinking-budget range for a model tier.
type budgetBand struct {
	min, max int
}

var (
	proBudgetBand   = budgetBand{min: 128, max: 32768}
	flashBudgetBand = budgetBand{min: 0, max: 24576}
)

func (b budgetBand) clamp(v int) int {
	if v < b.min {
		return b.min
	}
	if v > b.max {
		return b.max
	}
	return v
}

// splitThinkingTier strips a recognized thinking-tier suffix from the
// model identifier. Only newer model generations encode tiers in the
// model name.
func splitThinkingTier(model string) (string, string) {
	if !strings.Contains(model, "gemini-3") {
		return model, ""
	}
	for tier := range thinkingTierBudgets {
		suffix := "-" + tier
		if strings.HasSuffix(model, suffix) {
			return strings.TrimSuffix(model, suffix), tier
		}
	}
	return model, ""
}

// composeRequest translates an inbound chat request into the vendor
// envelope for the given family. It owns no state beyond the signature
// cache consulted for cross-turn thinking continuity.
func composeRequest(fam family, cache *SignatureCache, req *ChatRequest, project string) ([]byte, error) {
	model, tier := splitThinkingTier(req.Model)

	system, turns, err := composeTurns(req.Messages)
	if err != nil {
		return nil, err
	}

	if cache != nil {
		if entry := cache.Get(SessionKey(project, model)); entry != nil {
			injectCachedThinking(turns, entry)
		}
	}

	genReq := &generateContentRequest{
		Contents:          turns,
		SystemInstruction: system,
	}

	if len(req.Tools) > 0 {
		decls, errTools := composeToolDeclarations(fam, req.Tools)
		if errTools != nil {
			return nil, errTools
		}
		if len(decls) > 0 {
			genReq.Tools = []vendorTool{{FunctionDeclarations: decls}}
		}
	}

	if cfg := composeToolConfig(req.ToolChoice); cfg != nil {
		genReq.ToolConfig = cfg
	}

	genReq.GenerationConfig = composeGenerationConfig(fam, req, model, tier)

	envelope := &vendorEnvelope{
		Model:   model,
		Project: project,
		Request: genReq,
	}
	return json.Marshal(envelope)
}

// composeTurns partitions the message history into one concatenated
// system instruction and an ordered vendor turn list. Message order is
// the sole source of truth for turn reconstruction.
func composeTurns(messages []Message) (*vendorContent, []vendorContent, error) {
	var systemParts []string
	var turns []vendorContent

	// Tool-call ids seen on assistant turns, for resolving the function
	// name of later tool results.
	callNames := make(map[string]string)

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case RoleSystem:
			if text := flattenText(msg.Content); text != "" {
				systemParts = append(systemParts, text)
			}
		case RoleTool:
			appendToolResult(&turns, msg, callNames)
		case RoleAssistant:
			turn, err := composeAssistantTurn(msg, callNames)
			if err != nil {
				return nil, nil, err
			}
			turns = append(turns, turn)
		default:
			// Unrecognized roles degrade to user turns.
			turn, err := composeUserTurn(msg)
			if err != nil {
				return nil, nil, err
			}
			turns = append(turns, turn)
		}
	}

	for i := range turns {
		if len(turns[i].Parts) == 0 {
			// Vendors reject content-less turns.
			turns[i].Parts = []vendorPart{{}}
		}
	}

	var system *vendorContent
	if len(systemParts) > 0 {
		system = &vendorContent{
			Parts: []vendorPart{{Text: strings.Join(systemParts, "\n")}},
		}
	}
	return system, turns, nil
}

func composeAssistantTurn(msg *Message, callNames map[string]string) (vendorContent, error) {
	turn := vendorContent{Role: RoleModel}

	// Fixed part order: thinking first, then text, then function calls.
	if msg.Thinking != nil && msg.Thinking.Signature != "" {
		turn.Parts = append(turn.Parts, vendorPart{
			Thought:          true,
			Text:             msg.Thinking.Content,
			ThoughtSignature: msg.Thinking.Signature,
		})
	}

	for _, part := range msg.Content.AsParts() {
		vp, err := composePart(part)
		if err != nil {
			return turn, err
		}
		if !vp.isEmpty() {
			turn.Parts = append(turn.Parts, vp)
		}
	}

	for _, call := range msg.ToolCalls {
		callNames[call.ID] = call.Function.Name
		args := json.RawMessage(call.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		turn.Parts = append(turn.Parts, vendorPart{
			FunctionCall: &functionCall{
				Name: call.Function.Name,
				Args: args,
			},
		})
	}
	return turn, nil
}

func composeUserTurn(msg *Message) (vendorContent, error) {
	turn := vendorContent{Role: RoleUser}
	for _, part := range msg.Content.AsParts() {
		vp, err := composePart(part)
		if err != nil {
			return turn, err
		}
		if !vp.isEmpty() {
			turn.Parts = append(turn.Parts, vp)
		}
	}
	return turn, nil
}

// appendToolResult folds a tool-role message into the turn list. Tool
// results never form their own turn: they append to the preceding turn
// when it is a user turn, else they open a new user turn.
func appendToolResult(turns *[]vendorContent, msg *Message, callNames map[string]string) {
	name := callNames[msg.ToolCallID]
	if name == "" {
		name = "unknown"
	}

	part := vendorPart{
		FunctionResponse: &functionResponse{
			Name:     name,
			Response: toolResultPayload(msg.Content),
		},
	}

	if n := len(*turns); n > 0 && (*turns)[n-1].Role == RoleUser {
		(*turns)[n-1].Parts = append((*turns)[n-1].Parts, part)
		return
	}
	*turns = append(*turns, vendorContent{Role: RoleUser, Parts: []vendorPart{part}})
}

// toolResultPayload shapes a tool result as a structured object; plain
// string results are wrapped so the vendor always receives an object.
func toolResultPayload(content MessageContent) json.RawMessage {
	text := flattenText(content)
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		if _, isObj := parsed.(map[string]any); isObj {
			return json.RawMessage(text)
		}
	}
	wrapped, _ := json.Marshal(map[string]string{"content": text})
	return wrapped
}

func composePart(part ContentPart) (vendorPart, error) {
	switch part.Kind {
	case PartText:
		return vendorPart{Text: part.Text}, nil
	case PartImage:
		if part.Image.URI != "" {
			return vendorPart{FileData: &vendorFileData{
				MimeType: part.Image.MimeType,
				FileURI:  part.Image.URI,
			}}, nil
		}
		return vendorPart{InlineData: &vendorBlob{
			MimeType: part.Image.MimeType,
			Data:     part.Image.Data,
		}}, nil
	case PartThinking:
		return vendorPart{
			Thought:          true,
			Text:             part.Thinking.Text,
			ThoughtSignature: part.Thinking.Signature,
		}, nil
	case PartToolUse:
		return vendorPart{FunctionCall: &functionCall{
			Name: part.ToolUse.Name,
			Args: part.ToolUse.Args,
		}}, nil
	case PartToolResult:
		return vendorPart{FunctionResponse: &functionResponse{
			Name:     "unknown",
			Response: part.ToolResult.Result,
		}}, nil
	default:
		return vendorPart{}, fmt.Errorf("unsupported content part kind: %d", part.Kind)
	}
}

func flattenText(content MessageContent) string {
	var texts []string
	for _, part := range content.AsParts() {
		if part.Kind == PartText && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// injectCachedThinking prepends the cached thinking block to model turns
// that carry a function call but no thinking part. Reasoning vendors
// require tool-calling assistant turns to replay their thinking, and
// the cache is the only place that state survives between turns.
func injectCachedThinking(turns []vendorContent, entry *SignatureEntry) {
	for i := range turns {
		turn := &turns[i]
		if turn.Role != RoleModel {
			continue
		}
		hasCall, hasThought := false, false
		for _, part := range turn.Parts {
			if part.FunctionCall != nil {
				hasCall = true
			}
			if part.Thought {
				hasThought = true
			}
		}
		if hasCall && !hasThought {
			lead := vendorPart{
				Thought:          true,
				Text:             entry.ThinkingText,
				ThoughtSignature: entry.Signature,
			}
			turn.Parts = append([]vendorPart{lead}, turn.Parts...)
		}
	}
}

func composeToolDeclarations(fam family, tools []Tool) ([]functionDeclaration, error) {
	// Last declaration wins on name collision.
	byName := make(map[string]int)
	var decls []functionDeclaration

	for _, tool := range tools {
		if tool.Function.Name == "" {
			continue
		}
		name := sanitizeToolName(tool.Function.Name)

		var schema map[string]any
		var err error
		if fam.strictSchema {
			schema, err = NormalizeSchemaStrict(tool.Function.Parameters)
			if err == nil {
				schema = ensurePlaceholderProperties(schema)
			}
		} else {
			schema, err = NormalizeSchema(tool.Function.Parameters)
		}
		if err != nil {
			return nil, err
		}

		decl := functionDeclaration{
			Name:        name,
			Description: tool.Function.Description,
			Parameters:  schema,
		}
		if idx, seen := byName[name]; seen {
			decls[idx] = decl
			continue
		}
		byName[name] = len(decls)
		decls = append(decls, decl)
	}
	return decls, nil
}

func sanitizeToolName(name string) string {
	name = invalidToolNameChars.ReplaceAllString(name, "_")
	if len(name) > maxToolNameLength {
		name = name[:maxToolNameLength]
	}
	return name
}

func composeToolConfig(choice json.RawMessage) *toolConfig {
	if len(choice) == 0 {
		return nil
	}

	var mode string
	if err := json.Unmarshal(choice, &mode); err == nil {
		switch mode {
		case "auto":
			return &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "AUTO"}}
		case "none":
			return &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "NONE"}}
		case "required":
			return &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "ANY"}}
		}
		return nil
	}

	var fn struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(choice, &fn); err == nil && fn.Function.Name != "" {
		return &toolConfig{FunctionCallingConfig: functionCallingConfig{
			Mode:                 "ANY",
			AllowedFunctionNames: []string{sanitizeToolName(fn.Function.Name)},
		}}
	}
	return nil
}

func composeGenerationConfig(fam family, req *ChatRequest, model, tier string) *generationConfig {
	cfg := &generationConfig{
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
	}

	effort := ""
	reasoningTokens := 0
	if req.Reasoning != nil {
		effort = req.Reasoning.Effort
		reasoningTokens = req.Reasoning.MaxTokens
	}

	enabled := tier != "" || (effort != "" && effort != "none")
	if !enabled {
		return cfg
	}

	if fam.namedThinkingLevels {
		level := tier
		if level == "" {
			level = effort
		}
		cfg.ThinkingConfig = &thinkingConfig{
			IncludeThoughts: true,
			ThinkingLevel:   strings.ToLower(level),
		}
		return cfg
	}

	band := flashBudgetBand
	if strings.Contains(model, "pro") {
		band = proBudgetBand
	}

	budget := 0
	switch {
	case tier != "":
		budget = thinkingTierBudgets[tier]
	case reasoningTokens > 0:
		budget = reasoningTokens
	default:
		budget = thinkingTierBudgets[effort]
	}
	budget = band.clamp(budget)

	cfg.ThinkingConfig = &thinkingConfig{
		IncludeThoughts: true,
		ThinkingBudget:  &budget,
	}

	// The output cap must leave room beyond the thinking budget.
	if cfg.MaxOutputTokens <= budget {
		raised := budget + 2000
		if raised < floorOutputTokens {
			raised = floorOutputTokens
		}
		cfg.MaxOutputTokens = raised
	}
	return cfg
}

// parseImageURL decodes an OpenAI image_url value, which is either a
// data URI or an https reference.
func parseImageURL(url string) (*ImagePart, error) {
	if !strings.HasPrefix(url, "data:") {
		return &ImagePart{URI: url}, nil
	}
	rest := strings.TrimPrefix(url, "data:")
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URI in image part")
	}
	mime := strings.TrimSuffix(meta, ";base64")
	return &ImagePart{MimeType: mime, Data: data}, nil
}
