package providers

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Vendor is the contract for one generateContent-style backend family.
type Vendor interface {
	Name() string

	// Endpoint returns the full URL for a generate call against base.
	Endpoint(base string, stream bool) string

	// Headers returns vendor-specific request headers.
	Headers(stream bool) map[string]string

	// ComposeRequest rewrites an inbound chat request into the vendor
	// envelope.
	ComposeRequest(req *ChatRequest, project string) ([]byte, error)

	// DecomposeResponse rewrites a buffered vendor response into an
	// OpenAI-style completion.
	DecomposeResponse(body []byte, model, project string) ([]byte, error)

	// NewStream builds the per-response streaming reassembler.
	NewStream(req *ChatRequest, project string, logger *slog.Logger) *StreamReassembler
}

// Registry manages vendor instances.
type Registry struct {
	vendors map[string]Vendor
	domains map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		vendors: make(map[string]Vendor),
		domains: map[string]string{
			"cloudcode-pa.googleapis.com":               "gemini",
			"daily-cloudcode-pa.googleapis.com":         "antigravity",
			"daily-cloudcode-pa.sandbox.googleapis.com": "antigravity",
		},
	}
}

func (r *Registry) Register(vendor Vendor) {
	r.vendors[vendor.Name()] = vendor
}

func (r *Registry) Get(name string) (Vendor, bool) {
	vendor, exists := r.vendors[name]
	return vendor, exists
}

// RegisterDomain maps an additional API base domain onto a vendor
// name.
func (r *Registry) RegisterDomain(domain, vendorName string) {
	r.domains[strings.ToLower(domain)] = vendorName
}

// GetByDomain returns a vendor based on the API base URL domain.
func (r *Registry) GetByDomain(apiBase string) (Vendor, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	domain := strings.ToLower(u.Hostname())

	if name, exists := r.domains[domain]; exists {
		if vendor, found := r.Get(name); found {
			return vendor, nil
		}
	}
	return nil, fmt.Errorf("no vendor found for domain: %s", domain)
}

// List returns all registered vendor names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.vendors))
	for name := range r.vendors {
		names = append(names, name)
	}
	return names
}

// Initialize registers all built-in vendors sharing one signature
// cache.
func (r *Registry) Initialize(cache *SignatureCache) {
	r.Register(NewGeminiVendor(cache))
	r.Register(NewAntigravityVendor(cache))
}

// thinkingEnabled reports whether the request asks for extended
// reasoning, either through reasoning.effort or a thinking-tier model
// suffix.
func thinkingEnabled(req *ChatRequest) bool {
	if _, tier := splitThinkingTier(req.Model); tier != "" {
		return true
	}
	return req.Reasoning != nil && req.Reasoning.Effort != "" && req.Reasoning.Effort != "none"
}

// sessionFor derives the signature-cache key for a request.
func sessionFor(req *ChatRequest, project string) string {
	model, _ := splitThinkingTier(req.Model)
	return SessionKey(project, model)
}
