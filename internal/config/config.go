package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6971
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
)

// Vendor configures one upstream backend account.
type Vendor struct {
	Name            string   `json:"name" yaml:"name"`
	APIBase         string   `json:"api_base_url" yaml:"api_base_url"`
	CredentialsFile string   `json:"credentials_file" yaml:"credentials_file"`
	ClientID        string   `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret    string   `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	Project         string   `json:"project,omitempty" yaml:"project,omitempty"`
	Models          []string `json:"models,omitempty" yaml:"models,omitempty"`
}

type Config struct {
	Host      string   `json:"host,omitempty" yaml:"host,omitempty"`
	Port      int      `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey    string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Default   string   `json:"default_vendor,omitempty" yaml:"default_vendor,omitempty"`
	StorePath string   `json:"store_path,omitempty" yaml:"store_path,omitempty"`
	Vendors   []Vendor `json:"vendors" yaml:"vendors"`
}

// VendorForModel picks the vendor entry serving the given model, by
// exact or prefix match against each vendor's model list, falling back
// to the configured default and then the first entry.
func (c *Config) VendorForModel(model string) *Vendor {
	for i := range c.Vendors {
		for _, m := range c.Vendors[i].Models {
			if m == model || strings.HasPrefix(model, m) {
				return &c.Vendors[i]
			}
		}
	}
	if c.Default != "" {
		for i := range c.Vendors {
			if c.Vendors[i].Name == c.Default {
				return &c.Vendors[i]
			}
		}
	}
	if len(c.Vendors) > 0 {
		return &c.Vendors[0]
	}
	return nil
}

// Manager loads and holds the active configuration. Reads are
// lock-free via atomic.Value.
type Manager struct {
	baseDir     string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

// Load reads config.json or config.yaml from the base directory, JSON
// taking precedence when both exist.
func (m *Manager) Load() (*Config, error) {
	path := m.GetPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}
	cfg, err := m.Load()
	if err != nil {
		return &Config{Host: DefaultHost, Port: DefaultPort}
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	path := filepath.Join(m.baseDir, DefaultConfigFilename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

// GetPath returns the active config file path, preferring JSON.
func (m *Manager) GetPath() string {
	jsonPath := filepath.Join(m.baseDir, DefaultConfigFilename)
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath
	}
	yamlPath := filepath.Join(m.baseDir, DefaultYAMLFilename)
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}
	return jsonPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetPath())
	return err == nil
}
