package tests

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/lmroute/gemini-bridge/internal/auth"
	"github.com/lmroute/gemini-bridge/internal/config"
	"github.com/lmroute/gemini-bridge/internal/handlers"
	"github.com/lmroute/gemini-bridge/internal/middleware"
	"github.com/lmroute/gemini-bridge/internal/providers"
)

// buildBridge assembles the full middleware and handler stack against
// a fake upstream, the way the server wires it.
func buildBridge(t *testing.T, upstream *httptest.Server, apiKey string) http.Handler {
	t.Helper()

	cfgMgr := config.NewManager(t.TempDir())
	require.NoError(t, cfgMgr.Save(&config.Config{
		Host:   "127.0.0.1",
		APIKey: apiKey,
		Vendors: []config.Vendor{{
			Name:            "gemini",
			APIBase:         upstream.URL,
			CredentialsFile: "unused.json",
			Project:         "it-proj",
			Models:          []string{"gemini"},
		}},
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := providers.NewRegistry()
	registry.Initialize(providers.NewSignatureCache(providers.DefaultSignatureTTL, time.Now))
	registry.RegisterDomain("127.0.0.1", "gemini")

	chatHandler := handlers.NewChatHandler(cfgMgr, registry, nil, logger)
	chatHandler.SetCredentialSource("gemini", &auth.StaticSource{
		Creds: auth.Credentials{AccessToken: "it-token"},
	})

	healthHandler := handlers.NewHealthHandler(registry, logger)

	set := middleware.NewMiddlewareSet(cfgMgr, logger)

	mux := http.NewServeMux()
	mux.Handle("/health", set.HealthChain().Handler(healthHandler))
	mux.Handle("/v1/chat/completions", set.DefaultChain().Handler(chatHandler))

	return mux
}

func TestBridgeEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer it-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"response": {
				"responseId": "it-1",
				"candidates": [{
					"content": {"role": "model", "parts": [{"text": "integration says hi"}]},
					"finishReason": "STOP"
				}]
			}
		}`)
	}))
	defer upstream.Close()

	bridge := buildBridge(t, upstream, "bridge-key")
	srv := httptest.NewServer(bridge)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/completions",
		strings.NewReader(`{"model": "gemini-2.5-pro", "messages": [{"role": "user", "content": "hi"}]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer bridge-key")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := gjson.ParseBytes(body)
	assert.Equal(t, "chatcmpl-it-1", out.Get("id").String())
	assert.Equal(t, "integration says hi", out.Get("choices.0.message.content").String())
}

func TestBridgeRejectsBadAPIKey(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be called")
	}))
	defer upstream.Close()

	bridge := buildBridge(t, upstream, "bridge-key")
	srv := httptest.NewServer(bridge)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/completions",
		strings.NewReader(`{"model": "gemini-2.5-pro", "messages": []}`))
	req.Header.Set("Authorization", "Bearer wrong-key")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBridgeHealthSkipsAuth(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()

	bridge := buildBridge(t, upstream, "bridge-key")
	srv := httptest.NewServer(bridge)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	out := gjson.ParseBytes(body)
	assert.Equal(t, "ok", out.Get("status").String())
	assert.Contains(t, out.Get("vendors").Raw, "gemini")
}

func TestBridgeThinkingSignatureRoundTrip(t *testing.T) {
	var secondRequestBody []byte
	call := 0

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call++
		if call == 2 {
			secondRequestBody, _ = io.ReadAll(r.Body)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"response": {
				"candidates": [{
					"content": {"role": "model", "parts": [
						{"thought": true, "text": "let me check", "thoughtSignature": "sig-rt"},
						{"functionCall": {"name": "lookup", "args": {"q": "x"}}}
					]},
					"finishReason": "STOP"
				}]
			}
		}`)
	}))
	defer upstream.Close()

	bridge := buildBridge(t, upstream, "")
	srv := httptest.NewServer(bridge)
	defer srv.Close()

	first := `{"model": "gemini-2.5-pro", "reasoning": {"effort": "low"}, "messages": [{"role": "user", "content": "hi"}]}`
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(first))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A follow-up turn replaying the tool call without thinking gets the
	// cached signature injected.
	second := `{
		"model": "gemini-2.5-pro",
		"messages": [
			{"role": "user", "content": "hi"},
			{"role": "assistant", "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{}"}}]},
			{"role": "tool", "tool_call_id": "call_1", "content": "result"}
		]
	}`
	resp, err = http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(second))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	parts := gjson.GetBytes(secondRequestBody, "request.contents.1.parts").Array()
	require.NotEmpty(t, parts)
	assert.True(t, parts[0].Get("thought").Bool())
	assert.Equal(t, "sig-rt", parts[0].Get("thoughtSignature").String())
	assert.Equal(t, "let me check", parts[0].Get("text").String())
}
