package providers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// streamPhase is the reassembler's ordering state. Ordinary content is
// held back until the thinking signature has gone out, so clients never
// see answer text ahead of the completed reasoning block.
type streamPhase int

const (
	phaseAwaitingSignature streamPhase = iota
	phaseSignatureSent
)

// StreamReassembler consumes the raw bytes of an upstream SSE response
// and produces a client-protocol SSE delta stream. One reassembler
// serves exactly one HTTP response stream; chunks are processed
// strictly in arrival order.
type StreamReassembler struct {
	fam     family
	cache   *SignatureCache
	session string
	model   string
	logger  *slog.Logger

	id      string
	created int64

	carry []byte // partial SSE line held between reads

	phase        streamPhase
	thinkingSent bool
	contentSent  bool
	pending      strings.Builder // content text not yet safe to emit
	thinkingBuf  strings.Builder
	signature    string
	contentIndex int
	toolIndex    int

	finishReason string
	usage        *Usage
	finished     bool
}

// newStreamReassembler builds a reassembler for one upstream stream.
// When thinking is disabled for the request there is no signature to
// wait for and content flows through immediately.
func newStreamReassembler(fam family, cache *SignatureCache, session, model string, expectThinking bool, logger *slog.Logger) *StreamReassembler {
	r := &StreamReassembler{
		fam:     fam,
		cache:   cache,
		session: session,
		model:   model,
		logger:  logger,
		id:      "chatcmpl-" + uuid.NewString(),
		created: time.Now().Unix(),
	}
	if !expectThinking {
		r.phase = phaseSignatureSent
	}
	return r
}

// Feed decodes the next slice of upstream bytes and returns any client
// SSE bytes that became emittable. Logical SSE events may be split
// across reads; the trailing partial line is carried over until more
// bytes arrive.
func (r *StreamReassembler) Feed(p []byte) []byte {
	var out bytes.Buffer
	r.carry = append(r.carry, p...)
	for {
		idx := bytes.IndexByte(r.carry, '\n')
		if idx < 0 {
			break
		}
		line := r.carry[:idx]
		r.carry = r.carry[idx+1:]
		r.processLine(&out, line)
	}
	return out.Bytes()
}

// Usage returns the token usage reported by the upstream stream, if
// any arrived.
func (r *StreamReassembler) Usage() *Usage {
	return r.usage
}

// Finish processes any carried-over partial line, emits the flush-time
// deltas and the [DONE] sentinel. It must be called exactly once, after
// the upstream stream ends.
func (r *StreamReassembler) Finish() []byte {
	var out bytes.Buffer
	if r.finished {
		return nil
	}
	r.finished = true

	if len(r.carry) > 0 {
		r.processLine(&out, r.carry)
		r.carry = nil
	}

	if r.signature != "" {
		if !r.thinkingSent {
			r.emit(&out, &CompletionMessage{
				Thinking: &ThinkingBlock{Content: placeholderThinking},
			}, "")
			r.thinkingSent = true
		}
		// The final signature delta goes out even when the mid-stream
		// path already emitted one.
		r.emit(&out, &CompletionMessage{
			Thinking: &ThinkingBlock{Signature: r.signature},
		}, "")
		if r.phase == phaseAwaitingSignature {
			r.phase = phaseSignatureSent
			r.contentIndex++
		}
		if r.cache != nil {
			text := r.thinkingBuf.String()
			if text == "" {
				text = placeholderThinking
			}
			r.cache.Put(r.session, text, r.signature)
		}
	}

	if r.pending.Len() > 0 {
		r.flushPending(&out)
	}

	if !r.contentSent {
		// Clients observe exactly one content-bearing delta per turn.
		empty := ""
		r.emit(&out, &CompletionMessage{Content: &empty}, "")
		r.contentSent = true
	}

	final := ChatCompletion{
		ID:      r.id,
		Object:  "chat.completion.chunk",
		Created: r.created,
		Model:   r.model,
		Choices: []Choice{{
			Index:        0,
			Delta:        &CompletionMessage{},
			FinishReason: mapFinishReason(r.finishReason),
		}},
		Usage: r.usage,
	}
	data, _ := json.Marshal(final)
	out.WriteString("data: ")
	out.Write(data)
	out.WriteString("\n\n")
	out.WriteString("data: [DONE]\n\n")
	return out.Bytes()
}

func (r *StreamReassembler) processLine(out *bytes.Buffer, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || bytes.HasPrefix(line, []byte(":")) {
		return
	}
	if !bytes.HasPrefix(line, []byte("data:")) {
		return
	}
	payload := bytes.TrimSpace(line[len("data:"):])
	if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
		return
	}
	r.processChunk(out, payload)
}

func (r *StreamReassembler) processChunk(out *bytes.Buffer, payload []byte) {
	if !gjson.ValidBytes(payload) {
		r.logger.Warn("skipping malformed stream chunk", "chunk_len", len(payload))
		return
	}
	root := gjson.ParseBytes(payload)
	if resp := root.Get("response"); resp.Exists() {
		root = resp
	}

	if v := root.Get("modelVersion"); v.Exists() && v.String() != "" {
		r.model = v.String()
	}
	if v := root.Get("responseId"); v.Exists() && v.String() != "" {
		r.id = "chatcmpl-" + v.String()
	}
	if usage := root.Get("usageMetadata"); usage.Exists() {
		r.usage = streamUsage(usage)
	}

	candidate := root.Get("candidates.0")
	if !candidate.Exists() {
		// Structurally incomplete chunks are skipped, never fatal.
		return
	}

	chunkFinish := candidate.Get("finishReason").String()
	if chunkFinish != "" {
		r.finishReason = chunkFinish
	}

	var annotations []Annotation
	if meta := candidate.Get("groundingMetadata"); meta.Exists() {
		annotations = streamAnnotations(meta)
	}
	annotated := false

	if parts := candidate.Get("content.parts"); parts.IsArray() {
		parts.ForEach(func(_, part gjson.Result) bool {
			sig := part.Get("thoughtSignature").String()
			if sig == "" {
				sig = part.Get("thought_signature").String()
			}

			switch {
			case part.Get("thought").Bool():
				if text := part.Get("text").String(); text != "" {
					// Thinking text streams through unbuffered.
					r.thinkingBuf.WriteString(text)
					r.thinkingSent = true
					r.emit(out, &CompletionMessage{
						Thinking: &ThinkingBlock{Content: text},
					}, "")
				}
				if sig != "" {
					r.handleSignature(out, sig)
				}
			case part.Get("functionCall").Exists():
				if sig != "" {
					r.handleSignature(out, sig)
				}
				r.emitToolCall(out, part.Get("functionCall"), chunkFinish)
			case part.Get("text").Exists():
				if sig != "" {
					r.handleSignature(out, sig)
				}
				r.handleText(out, part.Get("text").String(), annotations, &annotated)
			default:
				if sig != "" {
					r.handleSignature(out, sig)
				}
			}
			return true
		})
	}

	if len(annotations) > 0 && !annotated {
		r.emit(out, &CompletionMessage{Annotations: annotations}, "")
	}
}

// handleSignature captures the signature and, for the family that emits
// it on arrival, transitions the state machine: placeholder thinking if
// none was ever streamed, then the signature delta, then any content
// buffered while awaiting it.
func (r *StreamReassembler) handleSignature(out *bytes.Buffer, sig string) {
	r.signature = sig
	if !r.fam.signatureOnArrival || r.phase == phaseSignatureSent {
		return
	}
	if !r.thinkingSent {
		r.emit(out, &CompletionMessage{
			Thinking: &ThinkingBlock{Content: placeholderThinking},
		}, "")
		r.thinkingSent = true
	}
	r.emit(out, &CompletionMessage{
		Thinking: &ThinkingBlock{Signature: sig},
	}, "")
	r.phase = phaseSignatureSent
	r.contentIndex++
	if r.pending.Len() > 0 {
		r.flushPending(out)
	}
}

func (r *StreamReassembler) handleText(out *bytes.Buffer, text string, annotations []Annotation, annotated *bool) {
	if text == "" {
		return
	}
	if r.phase == phaseAwaitingSignature {
		// Answer text must not overtake the reasoning block.
		r.pending.WriteString(text)
		return
	}
	hadPending := r.pending.Len() > 0
	if hadPending {
		r.pending.WriteString(text)
		r.flushPending(out)
		return
	}
	if !r.contentSent {
		r.contentIndex++
	}
	delta := &CompletionMessage{Content: &text}
	if len(annotations) > 0 && !*annotated {
		delta.Annotations = annotations
		*annotated = true
	}
	r.emit(out, delta, "")
	r.contentSent = true
}

func (r *StreamReassembler) flushPending(out *bytes.Buffer) {
	text := r.pending.String()
	r.pending.Reset()
	if !r.contentSent {
		r.contentIndex++
	}
	r.emit(out, &CompletionMessage{Content: &text}, "")
	r.contentSent = true
}

func (r *StreamReassembler) emitToolCall(out *bytes.Buffer, call gjson.Result, finish string) {
	index := r.toolIndex
	args := call.Get("args").Raw
	if args == "" {
		args = "{}"
	}
	delta := &CompletionMessage{
		ToolCalls: []ToolCall{{
			Index: &index,
			ID:    "call_" + uuid.NewString(),
			Type:  "function",
			Function: ToolCallFunction{
				Name:      call.Get("name").String(),
				Arguments: args,
			},
		}},
	}
	r.emit(out, delta, mapFinishReason(finish))
	r.toolIndex++
	r.contentIndex++
}

func (r *StreamReassembler) emit(out *bytes.Buffer, delta *CompletionMessage, finish string) {
	chunk := ChatCompletion{
		ID:      r.id,
		Object:  "chat.completion.chunk",
		Created: r.created,
		Model:   r.model,
		Choices: []Choice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finish,
		}},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		r.logger.Error("marshal stream chunk", "error", err)
		return
	}
	out.WriteString("data: ")
	out.Write(data)
	out.WriteString("\n\n")
}

func streamUsage(usage gjson.Result) *Usage {
	u := &Usage{
		PromptTokens:     int(usage.Get("promptTokenCount").Int()),
		CompletionTokens: int(usage.Get("candidatesTokenCount").Int()),
		TotalTokens:      int(usage.Get("totalTokenCount").Int()),
	}
	if thoughts := usage.Get("thoughtsTokenCount").Int(); thoughts > 0 {
		u.CompletionTokensDetails = &CompletionTokensDetails{ReasoningTokens: int(thoughts)}
	}
	if cached := usage.Get("cachedContentTokenCount").Int(); cached > 0 {
		u.PromptTokensDetails = &PromptTokensDetails{CachedTokens: int(cached)}
	}
	return u
}

func streamAnnotations(meta gjson.Result) []Annotation {
	var parsed groundingMetadata
	if err := json.Unmarshal([]byte(meta.Raw), &parsed); err != nil {
		return nil
	}
	return decomposeAnnotations(&parsed)
}
