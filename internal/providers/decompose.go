package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// decomposeResponse rewrites a buffered generateContent response into an
// OpenAI-style completion object, capturing any thinking signature into
// the cache for the session.
func decomposeResponse(body []byte, model, session string, cache *SignatureCache) ([]byte, error) {
	var resp vendorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal vendor response: %w", err)
	}
	payload := resp.payload()

	if payload.Error != nil {
		return nil, &UpstreamError{
			Code:    payload.Error.Code,
			Status:  payload.Error.Status,
			Message: payload.Error.Message,
		}
	}
	if len(payload.Candidates) == 0 {
		return nil, errors.New("no candidates in vendor response")
	}
	candidate := payload.Candidates[0]

	var (
		thinkingTexts []string
		contentTexts  []string
		toolCalls     []ToolCall
		signature     string
	)

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.ThoughtSignature != "" {
				signature = part.ThoughtSignature
			}
			switch {
			case part.Thought:
				if part.Text != "" {
					thinkingTexts = append(thinkingTexts, part.Text)
				}
			case part.FunctionCall != nil:
				toolCalls = append(toolCalls, ToolCall{
					ID:   "call_" + uuid.NewString(),
					Type: "function",
					Function: ToolCallFunction{
						Name:      part.FunctionCall.Name,
						Arguments: string(part.FunctionCall.Args),
					},
				})
			case part.Text != "":
				contentTexts = append(contentTexts, part.Text)
			}
		}
	}

	content := strings.Join(contentTexts, "\n")
	message := &CompletionMessage{
		Role:    RoleAssistant,
		Content: &content,
	}
	if len(toolCalls) > 0 {
		message.ToolCalls = toolCalls
	}

	if signature != "" {
		thinkingText := strings.Join(thinkingTexts, "\n")
		if thinkingText == "" {
			thinkingText = placeholderThinking
		}
		message.Thinking = &ThinkingBlock{
			Content:   thinkingText,
			Signature: signature,
		}
		if cache != nil {
			cache.Put(session, thinkingText, signature)
		}
	}

	if candidate.GroundingMetadata != nil {
		message.Annotations = decomposeAnnotations(candidate.GroundingMetadata)
	}

	completion := ChatCompletion{
		ID:      completionID(payload.ResponseID),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   modelVersionOr(payload.ModelVersion, model),
		Choices: []Choice{{
			Index:        0,
			Message:      message,
			FinishReason: mapFinishReason(candidate.FinishReason),
		}},
		Usage: decomposeUsage(payload.UsageMetadata),
	}
	return json.Marshal(completion)
}

// decomposeAnnotations maps grounding metadata to url_citation
// annotations, one per grounding chunk, each carrying the best-matching
// support segment's text and character offsets.
func decomposeAnnotations(meta *groundingMetadata) []Annotation {
	var annotations []Annotation
	for i, chunk := range meta.GroundingChunks {
		if chunk.Web == nil {
			continue
		}
		citation := URLCitation{
			URL:   chunk.Web.URI,
			Title: chunk.Web.Title,
		}
		if segment := bestSupportSegment(meta.GroundingSupports, i); segment != nil {
			citation.Text = segment.Text
			citation.StartIndex = segment.StartIndex
			citation.EndIndex = segment.EndIndex
		}
		annotations = append(annotations, Annotation{
			Type:        "url_citation",
			URLCitation: citation,
		})
	}
	return annotations
}

// bestSupportSegment picks the support segment referencing the chunk,
// preferring the longest covered span.
func bestSupportSegment(supports []groundingSupport, chunkIndex int) *groundingSegment {
	var best *groundingSegment
	for i := range supports {
		support := &supports[i]
		if support.Segment == nil {
			continue
		}
		for _, idx := range support.GroundingChunkIndices {
			if idx != chunkIndex {
				continue
			}
			if best == nil || span(support.Segment) > span(best) {
				best = support.Segment
			}
		}
	}
	return best
}

func span(s *groundingSegment) int {
	return s.EndIndex - s.StartIndex
}

func decomposeUsage(meta *usageMetadata) *Usage {
	if meta == nil {
		return nil
	}
	usage := &Usage{
		PromptTokens:     meta.PromptTokenCount,
		CompletionTokens: meta.CandidatesTokenCount,
		TotalTokens:      meta.TotalTokenCount,
	}
	if meta.ThoughtsTokenCount > 0 {
		usage.CompletionTokensDetails = &CompletionTokensDetails{
			ReasoningTokens: meta.ThoughtsTokenCount,
		}
	}
	if meta.CachedContentTokenCount > 0 {
		usage.PromptTokensDetails = &PromptTokensDetails{
			CachedTokens: meta.CachedContentTokenCount,
		}
	}
	return usage
}

// mapFinishReason lower-cases vendor finish reasons and passes them
// through.
func mapFinishReason(reason string) string {
	return strings.ToLower(reason)
}

func completionID(responseID string) string {
	if responseID != "" {
		return "chatcmpl-" + responseID
	}
	return "chatcmpl-" + uuid.NewString()
}

func modelVersionOr(version, fallback string) string {
	if version != "" {
		return version
	}
	return fallback
}

// UpstreamError is a structured vendor error surfaced to the client
// with the upstream code and message preserved.
type UpstreamError struct {
	Code    int
	Status  string
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return "upstream returned an unknown error"
	}
	return fmt.Sprintf("upstream error %s: %s", e.Status, e.Message)
}
