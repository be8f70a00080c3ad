// Package config loads and validates the service configuration.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. myragdb.yaml in the config directory
//  3. Environment variables (MYRAGDB_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Priority re-weights fused scores per source.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Weight returns the score multiplier for the priority.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityHigh:
		return 1.5
	case PriorityLow:
		return 0.7
	default:
		return 1.0
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// SourceConfig declares one indexed source (repository or directory).
type SourceConfig struct {
	// Name is the stable identifier used in queries and stats.
	Name string `yaml:"name" json:"name"`
	// Path is the source root. Relative paths resolve against the
	// config file's directory.
	Path string `yaml:"path" json:"path"`
	// Priority is high, medium, or low (default medium).
	Priority Priority `yaml:"priority" json:"priority"`
	// Include holds doublestar globs; empty means include everything.
	Include []string `yaml:"include" json:"include"`
	// Exclude holds doublestar globs applied after Include.
	Exclude []string `yaml:"exclude" json:"exclude"`
	// Enabled toggles the source without removing its configuration.
	Enabled *bool `yaml:"enabled" json:"enabled"`
}

// IsEnabled treats a missing enabled key as true.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SearchConfig configures hybrid search parameters.
type SearchConfig struct {
	// RRFConstant is the fusion smoothing parameter k (default 60).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	// MaxResults is the default result limit (1-100).
	MaxResults int `yaml:"max_results" json:"max_results"`
	// SnippetMaxChars caps highlight snippets (default 600).
	SnippetMaxChars int `yaml:"snippet_max_chars" json:"snippet_max_chars"`
}

// IndexConfig configures the indexing pipeline.
type IndexConfig struct {
	// ChunkSize is the chunk budget in characters (default 1000).
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// EmbedBatchSize is vectors per embedding batch (default 32).
	EmbedBatchSize int `yaml:"embed_batch_size" json:"embed_batch_size"`
	// KeywordBatchSize is documents per keyword flush (default 50000).
	KeywordBatchSize int `yaml:"keyword_batch_size" json:"keyword_batch_size"`
	// MaxFileSizeMB is the per-file size cap, inclusive (default 10).
	MaxFileSizeMB int `yaml:"max_file_size_mb" json:"max_file_size_mb"`
}

// WatchConfig configures filesystem watching.
type WatchConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Debounce is the quiet window before a watch-triggered run
	// (default 5s).
	Debounce time.Duration `yaml:"debounce" json:"debounce"`

	// enabledSet records whether the file spelled out enabled, so a
	// bare "enabled: false" survives the merge with defaults.
	enabledSet bool
}

// UnmarshalYAML accepts Go duration strings ("5s") for debounce.
func (w *WatchConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Enabled  *bool  `yaml:"enabled"`
		Debounce string `yaml:"debounce"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Enabled != nil {
		w.Enabled = *raw.Enabled
		w.enabledSet = true
	}
	if raw.Debounce != "" {
		d, err := time.ParseDuration(raw.Debounce)
		if err != nil {
			return fmt.Errorf("watch.debounce: %w", err)
		}
		w.Debounce = d
	}
	return nil
}

// MarshalYAML emits debounce as a duration string.
func (w WatchConfig) MarshalYAML() (interface{}, error) {
	return struct {
		Enabled  bool   `yaml:"enabled"`
		Debounce string `yaml:"debounce"`
	}{w.Enabled, w.Debounce.String()}, nil
}

// RewriteConfig configures the LLM query rewriter.
type RewriteConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Endpoint is the chat-completion URL of the local model server.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Model is the model identifier sent in the request.
	Model string `yaml:"model" json:"model"`
	// Timeout bounds the rewrite call (default 5s).
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Temperature for near-deterministic rewrites (default 0.1).
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// enabledSet records whether the file spelled out enabled.
	enabledSet bool
}

// UnmarshalYAML accepts Go duration strings ("5s") for timeout.
func (r *RewriteConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Enabled     *bool   `yaml:"enabled"`
		Endpoint    string  `yaml:"endpoint"`
		Model       string  `yaml:"model"`
		Timeout     string  `yaml:"timeout"`
		Temperature float64 `yaml:"temperature"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Enabled != nil {
		r.Enabled = *raw.Enabled
		r.enabledSet = true
	}
	r.Endpoint = raw.Endpoint
	r.Model = raw.Model
	r.Temperature = raw.Temperature
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("rewrite.timeout: %w", err)
		}
		r.Timeout = d
	}
	return nil
}

// MarshalYAML emits timeout as a duration string.
func (r RewriteConfig) MarshalYAML() (interface{}, error) {
	return struct {
		Enabled     bool    `yaml:"enabled"`
		Endpoint    string  `yaml:"endpoint"`
		Model       string  `yaml:"model"`
		Timeout     string  `yaml:"timeout"`
		Temperature float64 `yaml:"temperature"`
	}{r.Enabled, r.Endpoint, r.Model, r.Timeout.String(), r.Temperature}, nil
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "static" (deterministic, offline) or "ollama".
	Provider string `yaml:"provider" json:"provider"`
	// Model is the Ollama model name when provider is "ollama".
	Model string `yaml:"model" json:"model"`
	// Dimensions overrides the embedding dimension (0 = provider default).
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// OllamaHost is the Ollama endpoint (default http://localhost:11434).
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// File is the log file path; empty means <data_dir>/logs/service.log.
	File string `yaml:"file" json:"file"`
}

// Config is the complete service configuration.
type Config struct {
	Version int `yaml:"version" json:"version"`
	// DataDir holds indexes, the metadata DB, logs, and the writer lock.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Repositories []SourceConfig `yaml:"repositories" json:"repositories"`
	Directories  []SourceConfig `yaml:"directories" json:"directories"`

	Search     SearchConfig     `yaml:"search" json:"search"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Rewrite    RewriteConfig    `yaml:"rewrite" json:"rewrite"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`

	// RetentionDays bounds observability rows (default 30).
	RetentionDays int `yaml:"retention_days" json:"retention_days"`
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: DefaultDataDir(),
		Search: SearchConfig{
			RRFConstant:     60,
			MaxResults:      20,
			SnippetMaxChars: 600,
		},
		Index: IndexConfig{
			ChunkSize:        1000,
			EmbedBatchSize:   32,
			KeywordBatchSize: 50000,
			MaxFileSizeMB:    10,
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 5 * time.Second,
		},
		Rewrite: RewriteConfig{
			Enabled:     false,
			Endpoint:    "http://localhost:11434/v1/chat/completions",
			Model:       "qwen3:0.6b",
			Timeout:     5 * time.Second,
			Temperature: 0.1,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "nomic-embed-text",
			Dimensions: 0,
			OllamaHost: "http://localhost:11434",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		RetentionDays: 30,
	}
}

// DefaultDataDir returns the default data directory (~/.myragdb).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".myragdb")
	}
	return filepath.Join(home, ".myragdb")
}

// Load loads configuration from dir/myragdb.yaml (or .yml), applies
// env overrides, resolves relative source paths against dir, and
// validates the result. A missing config file yields the defaults.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.resolvePaths(dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load myragdb.yaml or myragdb.yml from dir.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{"myragdb.yaml", "myragdb.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	// No config file is fine, defaults apply.
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	if len(other.Repositories) > 0 {
		c.Repositories = other.Repositories
	}
	if len(other.Directories) > 0 {
		c.Directories = other.Directories
	}

	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.SnippetMaxChars != 0 {
		c.Search.SnippetMaxChars = other.Search.SnippetMaxChars
	}

	if other.Index.ChunkSize != 0 {
		c.Index.ChunkSize = other.Index.ChunkSize
	}
	if other.Index.EmbedBatchSize != 0 {
		c.Index.EmbedBatchSize = other.Index.EmbedBatchSize
	}
	if other.Index.KeywordBatchSize != 0 {
		c.Index.KeywordBatchSize = other.Index.KeywordBatchSize
	}
	if other.Index.MaxFileSizeMB != 0 {
		c.Index.MaxFileSizeMB = other.Index.MaxFileSizeMB
	}

	if other.Watch.enabledSet {
		c.Watch.Enabled = other.Watch.Enabled
	}
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}

	if other.Rewrite.enabledSet {
		c.Rewrite.Enabled = other.Rewrite.Enabled
	}
	if other.Rewrite.Endpoint != "" {
		c.Rewrite.Endpoint = other.Rewrite.Endpoint
	}
	if other.Rewrite.Model != "" {
		c.Rewrite.Model = other.Rewrite.Model
	}
	if other.Rewrite.Timeout != 0 {
		c.Rewrite.Timeout = other.Rewrite.Timeout
	}
	if other.Rewrite.Temperature != 0 {
		c.Rewrite.Temperature = other.Rewrite.Temperature
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}

	if other.RetentionDays != 0 {
		c.RetentionDays = other.RetentionDays
	}
}

// applyEnvOverrides applies MYRAGDB_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MYRAGDB_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MYRAGDB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MYRAGDB_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("MYRAGDB_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("MYRAGDB_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("MYRAGDB_REWRITE_ENDPOINT"); v != "" {
		c.Rewrite.Endpoint = v
		c.Rewrite.Enabled = true
	}
	if v := os.Getenv("MYRAGDB_WATCH_ENABLED"); v != "" {
		c.Watch.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("MYRAGDB_WATCH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Watch.Debounce = d
		}
	}
}

// resolvePaths makes DataDir and source paths absolute relative to dir.
func (c *Config) resolvePaths(dir string) {
	abs := func(p string) string {
		p = expandHome(p)
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Clean(filepath.Join(dir, p))
	}

	c.DataDir = abs(c.DataDir)
	for i := range c.Repositories {
		c.Repositories[i].Path = abs(c.Repositories[i].Path)
	}
	for i := range c.Directories {
		c.Directories[i].Path = abs(c.Directories[i].Path)
	}
}

// expandHome replaces a leading ~ with the user home directory.
func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.MaxResults < 1 || c.Search.MaxResults > 100 {
		return fmt.Errorf("search.max_results must be between 1 and 100, got %d", c.Search.MaxResults)
	}
	if c.Index.ChunkSize <= 0 {
		return fmt.Errorf("index.chunk_size must be positive, got %d", c.Index.ChunkSize)
	}
	if c.Index.MaxFileSizeMB <= 0 {
		return fmt.Errorf("index.max_file_size_mb must be positive, got %d", c.Index.MaxFileSizeMB)
	}
	if c.Watch.Debounce <= 0 {
		return fmt.Errorf("watch.debounce must be positive, got %s", c.Watch.Debounce)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive, got %d", c.RetentionDays)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "static", "ollama":
	default:
		return fmt.Errorf("embeddings.provider must be 'static' or 'ollama', got %s", c.Embeddings.Provider)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	seen := make(map[string]bool)
	for _, src := range c.Sources() {
		if err := validateSource(src); err != nil {
			return err
		}
		if seen[src.Name] {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = true
	}

	return nil
}

// validateSource checks a single source declaration.
func validateSource(src SourceConfig) error {
	if src.Name == "" {
		return fmt.Errorf("source with path %q has no name", src.Path)
	}
	if src.Path == "" {
		return fmt.Errorf("source %q has no path", src.Name)
	}
	if src.Priority != "" && !src.Priority.Valid() {
		return fmt.Errorf("source %q: priority must be high, medium, or low, got %q", src.Name, src.Priority)
	}
	for _, pattern := range append(append([]string{}, src.Include...), src.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("source %q: invalid glob pattern %q", src.Name, pattern)
		}
	}
	if src.IsEnabled() {
		info, err := os.Stat(src.Path)
		if err != nil {
			return fmt.Errorf("source %q: path %s does not exist", src.Name, src.Path)
		}
		if !info.IsDir() {
			return fmt.Errorf("source %q: path %s is not a directory", src.Name, src.Path)
		}
	}
	return nil
}

// Sources returns all declared sources, repositories first.
func (c *Config) Sources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Repositories)+len(c.Directories))
	out = append(out, c.Repositories...)
	out = append(out, c.Directories...)
	return out
}

// WriteYAML writes the configuration to a YAML file, keeping the
// previous file as .bak.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".bak"); err != nil {
			return fmt.Errorf("failed to back up config file: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
