package handlers

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"github.com/lmroute/gemini-bridge/internal/auth"
	"github.com/lmroute/gemini-bridge/internal/config"
	"github.com/lmroute/gemini-bridge/internal/middleware"
	"github.com/lmroute/gemini-bridge/internal/providers"
	"github.com/lmroute/gemini-bridge/internal/store"
)

// ChatHandler serves POST /v1/chat/completions, translating between
// the OpenAI chat wire format and the upstream generateContent
// dialects.
type ChatHandler struct {
	config   *config.Manager
	registry *providers.Registry
	store    *store.DB
	logger   *slog.Logger
	client   *http.Client

	mu      sync.Mutex
	sources map[string]auth.Source
}

func NewChatHandler(config *config.Manager, registry *providers.Registry, db *store.DB, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		config:   config,
		registry: registry,
		store:    db,
		logger:   logger,
		client:   &http.Client{Timeout: 10 * time.Minute},
		sources:  make(map[string]auth.Source),
	}
}

// SetCredentialSource overrides the credential source for a vendor.
// Used by tests and by callers that manage tokens themselves.
func (h *ChatHandler) SetCredentialSource(vendorName string, src auth.Source) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sources[vendorName] = src
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cfg := h.config.Get()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to read request body: %v", err)
		return
	}

	var chatReq providers.ChatRequest
	if err := json.Unmarshal(body, &chatReq); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to parse request: %v", err)
		return
	}

	if chatReq.Model == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}

	vendorCfg := cfg.VendorForModel(chatReq.Model)
	if vendorCfg == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request_error", "no vendor configured for model %q", chatReq.Model)
		return
	}

	vendor, err := h.registry.GetByDomain(vendorCfg.APIBase)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request_error", "no backend for vendor %q: %v", vendorCfg.Name, err)
		return
	}

	creds, err := h.sourceFor(vendorCfg).Credentials(r.Context())
	if err != nil {
		h.logger.Error("Credential resolution failed", "vendor", vendorCfg.Name, "error", err)
		h.writeError(w, http.StatusUnauthorized, "authentication_error", "upstream credentials unavailable: %v", err)
		return
	}

	project := vendorCfg.Project
	if project == "" {
		project = creds.ProjectID
	}

	payload, err := vendor.ComposeRequest(&chatReq, project)
	if err != nil {
		var schemaErr *providers.SchemaError
		if errors.As(err, &schemaErr) {
			h.writeError(w, http.StatusBadRequest, "invalid_request_error", "%v", schemaErr)
			return
		}

		h.writeError(w, http.StatusBadRequest, "invalid_request_error", "failed to compose upstream request: %v", err)

		return
	}

	upstreamURL := vendor.Endpoint(vendorCfg.APIBase, chatReq.Stream)

	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, upstreamURL, bytes.NewReader(payload))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "api_error", "failed to create upstream request: %v", err)
		return
	}

	for key, value := range vendor.Headers(chatReq.Stream) {
		upstreamReq.Header.Set(key, value)
	}

	upstreamReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	h.logger.Info("Proxying chat request",
		"request_id", middleware.RequestID(r.Context()),
		"vendor", vendor.Name(),
		"model", chatReq.Model,
		"stream", chatReq.Stream,
		"input_tokens", h.countInputTokens(body),
	)

	resp, err := h.client.Do(upstreamReq)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "api_error", "upstream request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	rec := store.Request{
		ID:     requestRecordID(r),
		Model:  chatReq.Model,
		Vendor: vendor.Name(),
		Stream: chatReq.Stream,
		Status: resp.StatusCode,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.relayUpstreamError(w, resp)
		h.record(r, rec, start)

		return
	}

	if chatReq.Stream {
		usage := h.handleStreaming(w, resp, vendor, &chatReq, project)
		fillUsage(&rec, usage)
	} else {
		usage := h.handleBuffered(w, resp, vendor, &chatReq, project)
		fillUsage(&rec, usage)
	}

	h.record(r, rec, start)
}

// handleBuffered translates a non-streaming upstream response.
func (h *ChatHandler) handleBuffered(w http.ResponseWriter, resp *http.Response, vendor providers.Vendor, req *providers.ChatRequest, project string) *providers.Usage {
	bodyReader, err := h.decompressReader(resp)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "api_error", "decompression error: %v", err)
		return nil
	}
	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	respBody, err := io.ReadAll(bodyReader)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "api_error", "failed to read upstream response: %v", err)
		return nil
	}

	out, err := vendor.DecomposeResponse(respBody, req.Model, project)
	if err != nil {
		var upstream *providers.UpstreamError
		if errors.As(err, &upstream) {
			code := upstream.Code
			if code < 400 || code > 599 {
				code = http.StatusBadGateway
			}

			h.writeError(w, code, "api_error", "%s", upstream.Message)

			return nil
		}

		h.writeError(w, http.StatusBadGateway, "api_error", "failed to translate upstream response: %v", err)

		return nil
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(out); err != nil {
		h.logger.Error("Failed to write response", "error", err)
	}

	return usageFromCompletion(out)
}

// handleStreaming pipes upstream SSE chunks through the reassembler.
func (h *ChatHandler) handleStreaming(w http.ResponseWriter, resp *http.Response, vendor providers.Vendor, req *providers.ChatRequest, project string) *providers.Usage {
	bodyReader, err := h.decompressReader(resp)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "api_error", "decompression error: %v", err)
		return nil
	}
	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	stream := vendor.NewStream(req, project, h.logger)
	buf := make([]byte, 32*1024)

	for {
		n, readErr := bodyReader.Read(buf)
		if n > 0 {
			if out := stream.Feed(buf[:n]); len(out) > 0 {
				if _, err := w.Write(out); err != nil {
					h.logger.Error("Failed to write stream chunk", "error", err)
					return stream.Usage()
				}

				h.flushResponse(w)
			}
		}

		if readErr != nil {
			if readErr != io.EOF {
				h.logger.Error("Stream read error", "error", readErr)
			}

			break
		}
	}

	if out := stream.Finish(); len(out) > 0 {
		if _, err := w.Write(out); err != nil {
			h.logger.Error("Failed to write stream tail", "error", err)
		}

		h.flushResponse(w)
	}

	return stream.Usage()
}

// relayUpstreamError maps a non-2xx upstream response onto the OpenAI
// error envelope, preserving the status code.
func (h *ChatHandler) relayUpstreamError(w http.ResponseWriter, resp *http.Response) {
	bodyReader, err := h.decompressReader(resp)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "api_error", "decompression error: %v", err)
		return
	}
	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	respBody, _ := io.ReadAll(bodyReader)

	message := string(respBody)
	if msg := upstreamErrorMessage(respBody); msg != "" {
		message = msg
	}

	h.logger.Error("Upstream error response", "status", resp.StatusCode, "message", message)
	h.writeError(w, resp.StatusCode, "api_error", "%s", message)
}

func upstreamErrorMessage(body []byte) string {
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Response struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		} `json:"response"`
	}

	if err := json.Unmarshal(body, &wrapped); err != nil {
		return ""
	}

	if wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}

	return wrapped.Response.Error.Message
}

func (h *ChatHandler) sourceFor(vendorCfg *config.Vendor) auth.Source {
	h.mu.Lock()
	defer h.mu.Unlock()

	if src, ok := h.sources[vendorCfg.Name]; ok {
		return src
	}

	src := auth.NewFileSource(vendorCfg.CredentialsFile, vendorCfg.ClientID, vendorCfg.ClientSecret)
	h.sources[vendorCfg.Name] = src

	return src
}

func (h *ChatHandler) countInputTokens(body []byte) int {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		h.logger.Error("Failed to get tiktoken encoding", "error", err)
		return 0
	}

	return len(tke.Encode(string(body), nil, nil))
}

func (h *ChatHandler) decompressReader(resp *http.Response) (io.Reader, error) {
	var bodyReader io.Reader = resp.Body

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}

		bodyReader = gzipReader
	case "br":
		bodyReader = brotli.NewReader(resp.Body)
	}

	return bodyReader, nil
}

func (h *ChatHandler) flushResponse(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (h *ChatHandler) writeError(w http.ResponseWriter, code int, errType, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	h.logger.Error("Request failed", "code", code, "message", msg)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	resp := providers.ErrorResponse{
		Error: providers.ErrorDetail{
			Message: msg,
			Type:    errType,
			Code:    code,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode error response", "error", err)
	}
}

func (h *ChatHandler) record(r *http.Request, rec store.Request, start time.Time) {
	if h.store == nil {
		return
	}

	rec.Duration = time.Since(start).Milliseconds()

	if err := h.store.RecordRequest(r.Context(), rec); err != nil {
		h.logger.Warn("Failed to record request", "error", err)
	}
}

func requestRecordID(r *http.Request) string {
	if id := middleware.RequestID(r.Context()); id != "" {
		return id
	}

	return uuid.NewString()
}

func fillUsage(rec *store.Request, usage *providers.Usage) {
	if usage == nil {
		return
	}

	rec.PromptTokens = usage.PromptTokens
	rec.CompletionTokens = usage.CompletionTokens

	if usage.CompletionTokensDetails != nil {
		rec.ReasoningTokens = usage.CompletionTokensDetails.ReasoningTokens
	}
}

func usageFromCompletion(body []byte) *providers.Usage {
	var completion providers.ChatCompletion
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil
	}

	return completion.Usage
}
