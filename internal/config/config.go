// Package config provides configuration loading for uniguide.
//
// Values come from hardcoded defaults, an optional YAML file and
// UNIGUIDE_-prefixed environment variables, in increasing precedence.
// Provider credentials are read from their conventional variable names
// (GOOGLE_API_KEY, GROQ_API_KEY, SERPER_API_KEY).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Config holds the complete uniguide configuration.
type Config struct {
	Profile       ProfileConfig       `koanf:"profile"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Reasoning     ReasoningConfig     `koanf:"reasoning"`
	Search        SearchConfig        `koanf:"search"`
	Fetch         FetchConfig         `koanf:"fetch"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Index         IndexConfig         `koanf:"index"`
	Catalog       CatalogConfig       `koanf:"catalog"`
	Documents     DocumentsConfig     `koanf:"documents"`
	Report        ReportConfig        `koanf:"report"`
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ProfileConfig controls student profile persistence.
type ProfileConfig struct {
	Path string `koanf:"path"` // empty disables persistence
}

// PipelineConfig controls stage execution.
type PipelineConfig struct {
	StageTimeout Duration `koanf:"stage_timeout"`
	Parallelism  int      `koanf:"parallelism"`
	CrewFile     string   `koanf:"crew_file"` // overrides the embedded crew definition
}

// ReasoningConfig selects and configures the reasoning backend.
type ReasoningConfig struct {
	// Provider is one of "gemini", "groq" or "stub".
	Provider     string   `koanf:"provider"`
	Model        string   `koanf:"model"`
	BaseURL      string   `koanf:"base_url"` // OpenAI-compatible endpoint for groq
	Temperature  float64  `koanf:"temperature"`
	MaxToolTurns int      `koanf:"max_tool_turns"`
	RateLimit    float64  `koanf:"rate_limit"` // requests per second
	MaxRetries   int      `koanf:"max_retries"`
	Timeout      Duration `koanf:"timeout"`
	GeminiAPIKey Secret   `koanf:"gemini_api_key"`
	GroqAPIKey   Secret   `koanf:"groq_api_key"`
}

// SearchConfig configures the web search tool.
type SearchConfig struct {
	Enabled   bool     `koanf:"enabled"`
	BaseURL   string   `koanf:"base_url"`
	Results   int      `koanf:"results"`
	RateLimit float64  `koanf:"rate_limit"`
	Timeout   Duration `koanf:"timeout"`
	APIKey    Secret   `koanf:"api_key"`
}

// FetchConfig configures page fetching.
type FetchConfig struct {
	// Mode is "http" or "browser".
	Mode        string   `koanf:"mode"`
	Timeout     Duration `koanf:"timeout"`
	Concurrency int      `koanf:"concurrency"`
	RateLimit   float64  `koanf:"rate_limit"`
	ChunkSize   int      `koanf:"chunk_size"`
	UserAgent   string   `koanf:"user_agent"`
	BrowserURL  string   `koanf:"browser_url"` // remote DevTools endpoint; empty launches a local browser
}

// EmbeddingsConfig configures the text embedder.
type EmbeddingsConfig struct {
	// Provider is one of "fastembed", "tei" or "gemini".
	Provider      string `koanf:"provider"`
	Model         string `koanf:"model"`
	BaseURL       string `koanf:"base_url"`
	CacheDir      string `koanf:"cache_dir"`
	Dimension     int    `koanf:"dimension"`
	MaxInputChars int    `koanf:"max_input_chars"`
}

// IndexConfig configures the similarity index backend.
type IndexConfig struct {
	// Backend is "chromem" or "qdrant".
	Backend    string `koanf:"backend"`
	Collection string `koanf:"collection"`
	Path       string `koanf:"path"` // chromem persistence dir; empty keeps it in memory
	Compress   bool   `koanf:"compress"`
	QdrantHost string `koanf:"qdrant_host"`
	QdrantPort int    `koanf:"qdrant_port"`
	QdrantTLS  bool   `koanf:"qdrant_tls"`
	QdrantKey  Secret `koanf:"qdrant_api_key"`
}

// CatalogConfig locates the program catalog source.
type CatalogConfig struct {
	Path string `koanf:"path"`
}

// DocumentsConfig scopes the read_file and read_directory tools.
type DocumentsConfig struct {
	Dir          string `koanf:"dir"`
	MaxFiles     int    `koanf:"max_files"`
	MaxFileBytes int64  `koanf:"max_file_bytes"`
}

// ReportConfig controls report output.
type ReportConfig struct {
	Dir           string `koanf:"dir"`
	Limit         int    `koanf:"limit"`
	MatchesPerRun int    `koanf:"matches_per_run"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds logging and OpenTelemetry settings.
type ObservabilityConfig struct {
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	ServiceName     string `koanf:"service_name"`
}

// ErrMissingCredential is returned when a credential required by the
// configured providers is absent.
var ErrMissingCredential = errors.New("missing required credential")

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Reasoning.Provider {
	case "gemini", "groq", "stub":
	default:
		return fmt.Errorf("reasoning.provider must be gemini, groq or stub, got %q", c.Reasoning.Provider)
	}
	if c.Reasoning.Temperature < 0 || c.Reasoning.Temperature > 2 {
		return fmt.Errorf("reasoning.temperature must be in [0,2], got %v", c.Reasoning.Temperature)
	}
	if c.Pipeline.StageTimeout.Duration() <= 0 {
		return errors.New("pipeline.stage_timeout must be positive")
	}
	if c.Pipeline.Parallelism < 1 {
		return fmt.Errorf("pipeline.parallelism must be >= 1, got %d", c.Pipeline.Parallelism)
	}
	switch c.Embeddings.Provider {
	case "fastembed", "tei", "gemini":
	default:
		return fmt.Errorf("embeddings.provider must be fastembed, tei or gemini, got %q", c.Embeddings.Provider)
	}
	switch c.Index.Backend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("index.backend must be chromem or qdrant, got %q", c.Index.Backend)
	}
	switch c.Fetch.Mode {
	case "http", "browser":
	default:
		return fmt.Errorf("fetch.mode must be http or browser, got %q", c.Fetch.Mode)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	return nil
}

// ValidateCredentials checks that every credential the configured
// providers need is present. Callers treat a failure as fatal at startup.
func (c *Config) ValidateCredentials() error {
	var missing []string
	switch c.Reasoning.Provider {
	case "gemini":
		if !c.Reasoning.GeminiAPIKey.IsSet() {
			missing = append(missing, "GOOGLE_API_KEY")
		}
	case "groq":
		if !c.Reasoning.GroqAPIKey.IsSet() {
			missing = append(missing, "GROQ_API_KEY")
		}
	}
	if c.Embeddings.Provider == "gemini" && !c.Reasoning.GeminiAPIKey.IsSet() && !contains(missing, "GOOGLE_API_KEY") {
		missing = append(missing, "GOOGLE_API_KEY")
	}
	if c.Search.Enabled && !c.Search.APIKey.IsSet() {
		missing = append(missing, "SERPER_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredential, strings.Join(missing, ", "))
	}
	return nil
}

// applyCredentialEnv fills credentials from their conventional env vars
// when the prefixed form was not provided.
func applyCredentialEnv(cfg *Config) {
	if !cfg.Reasoning.GeminiAPIKey.IsSet() {
		cfg.Reasoning.GeminiAPIKey = Secret(os.Getenv("GOOGLE_API_KEY"))
	}
	if !cfg.Reasoning.GroqAPIKey.IsSet() {
		cfg.Reasoning.GroqAPIKey = Secret(os.Getenv("GROQ_API_KEY"))
	}
	if !cfg.Search.APIKey.IsSet() {
		cfg.Search.APIKey = Secret(os.Getenv("SERPER_API_KEY"))
	}
	if !cfg.Index.QdrantKey.IsSet() {
		cfg.Index.QdrantKey = Secret(os.Getenv("QDRANT_API_KEY"))
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
