package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	// refreshSkew refreshes tokens slightly ahead of expiry so requests
	// never go out with a token about to lapse mid-flight.
	refreshSkew = 60 * time.Second

	defaultTokenEndpoint = "https://oauth2.googleapis.com/token"
)

var (
	// ErrNoCredentials is returned when no stored credentials exist.
	ErrNoCredentials = errors.New("no stored credentials")

	// ErrCredentialsExpired is returned when the access token has
	// expired and no refresh token is available.
	ErrCredentialsExpired = errors.New("credentials expired and not refreshable")
)

// Credentials is what the transformer consumes: a live bearer token and
// the upstream project it is scoped to.
type Credentials struct {
	AccessToken string
	ProjectID   string
	Email       string
	Expiry      time.Time
}

// Source supplies valid credentials, refreshing them as needed. The
// transformer never touches credential storage itself.
type Source interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// storedCredentials is the on-disk token file shape.
type storedCredentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	ProjectID    string    `json:"project_id,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// FileSource reads OAuth credentials from a JSON file and keeps them
// fresh against the token endpoint. Concurrent refreshes for the same
// file are serialized by the mutex; the refresh call itself is
// idempotent from the server's point of view.
type FileSource struct {
	path          string
	clientID      string
	clientSecret  string
	tokenEndpoint string
	httpClient    *http.Client
	now           func() time.Time

	mu      sync.Mutex
	current *storedCredentials
}

// FileSourceOption customizes a FileSource.
type FileSourceOption func(*FileSource)

func WithTokenEndpoint(endpoint string) FileSourceOption {
	return func(s *FileSource) { s.tokenEndpoint = endpoint }
}

func WithHTTPClient(client *http.Client) FileSourceOption {
	return func(s *FileSource) { s.httpClient = client }
}

func WithClock(now func() time.Time) FileSourceOption {
	return func(s *FileSource) { s.now = now }
}

func NewFileSource(path, clientID, clientSecret string, opts ...FileSourceOption) *FileSource {
	s := &FileSource{
		path:          path,
		clientID:      clientID,
		clientSecret:  clientSecret,
		tokenEndpoint: defaultTokenEndpoint,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileSource) Credentials(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		stored, err := s.load()
		if err != nil {
			return Credentials{}, err
		}
		s.current = stored
	}

	if s.current.Expiry.Before(s.now().Add(refreshSkew)) {
		if err := s.refresh(ctx); err != nil {
			return Credentials{}, err
		}
	}

	return Credentials{
		AccessToken: s.current.AccessToken,
		ProjectID:   s.current.ProjectID,
		Email:       emailFromIDToken(s.current.IDToken),
		Expiry:      s.current.Expiry,
	}, nil
}

func (s *FileSource) load() (*storedCredentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	var stored storedCredentials
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal credentials file: %w", err)
	}
	if stored.AccessToken == "" && stored.RefreshToken == "" {
		return nil, ErrNoCredentials
	}
	return &stored, nil
}

func (s *FileSource) refresh(ctx context.Context) error {
	if s.current.RefreshToken == "" {
		return ErrCredentialsExpired
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {s.current.RefreshToken},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("token refresh read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var refreshed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		IDToken     string `json:"id_token"`
	}
	if err := json.Unmarshal(body, &refreshed); err != nil {
		return fmt.Errorf("token refresh unmarshal: %w", err)
	}
	if refreshed.AccessToken == "" {
		return fmt.Errorf("token refresh returned no access token")
	}

	s.current.AccessToken = refreshed.AccessToken
	s.current.Expiry = s.now().Add(time.Duration(refreshed.ExpiresIn) * time.Second)
	if refreshed.IDToken != "" {
		s.current.IDToken = refreshed.IDToken
	}

	return s.persist()
}

func (s *FileSource) persist() error {
	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write credentials file: %w", err)
	}
	return nil
}

// emailFromIDToken extracts the account email from the OAuth id_token
// claims. The token is not verified here; it only labels the account.
func emailFromIDToken(idToken string) string {
	if idToken == "" {
		return ""
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return ""
	}
	email, _ := claims["email"].(string)
	return email
}

// StaticSource returns fixed credentials; used by tests and for
// API-key-style deployments where no refresh flow exists.
type StaticSource struct {
	Creds Credentials
}

func (s *StaticSource) Credentials(context.Context) (Credentials, error) {
	if s.Creds.AccessToken == "" {
		return Credentials{}, ErrNoCredentials
	}
	return s.Creds, nil
}
