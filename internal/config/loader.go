package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "UNIGUIDE_"
	maxConfigFileSize = 1024 * 1024
)

// Load loads configuration from the default file location and the environment.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Precedence (highest first):
//  1. UNIGUIDE_SECTION_FIELD environment variables
//  2. YAML file (default ~/.config/uniguide/config.yaml)
//  3. Defaults
//
// The file must live under ~/.config/uniguide/ or /etc/uniguide/, carry
// 0600 or 0400 permissions and be at most 1MB. A missing file is not an error.
//
// Environment variables map to keys by splitting on the first underscore
// after the prefix:
//
//	UNIGUIDE_REASONING_PROVIDER -> reasoning.provider
//	UNIGUIDE_PIPELINE_STAGE_TIMEOUT -> pipeline.stage_timeout
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	applyCredentialEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration produced when no file or env is present.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// DefaultDir returns ~/.config/uniguide.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "uniguide"), nil
}

// envKey maps UNIGUIDE_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens the file once and validates it through the open
// descriptor so the checks and the read see the same file.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Path may not exist yet.
		resolved = absPath
	}

	dir, err := DefaultDir()
	if err != nil {
		return err
	}
	for _, allowed := range []string{dir, "/etc/uniguide"} {
		if resolved == allowed || strings.HasPrefix(resolved, allowed+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/uniguide/ or /etc/uniguide/")
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Profile.Path == "" {
		cfg.Profile.Path = "student_data.json"
	}

	if cfg.Pipeline.StageTimeout == 0 {
		cfg.Pipeline.StageTimeout = Duration(5 * time.Minute)
	}
	if cfg.Pipeline.Parallelism == 0 {
		cfg.Pipeline.Parallelism = 1
	}

	if cfg.Reasoning.Provider == "" {
		cfg.Reasoning.Provider = "gemini"
	}
	if cfg.Reasoning.Model == "" {
		switch cfg.Reasoning.Provider {
		case "groq":
			cfg.Reasoning.Model = "llama-3.3-70b-versatile"
		default:
			cfg.Reasoning.Model = "gemini-2.0-flash"
		}
	}
	if cfg.Reasoning.BaseURL == "" && cfg.Reasoning.Provider == "groq" {
		cfg.Reasoning.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.Reasoning.Temperature == 0 {
		cfg.Reasoning.Temperature = 0.5
	}
	if cfg.Reasoning.MaxToolTurns == 0 {
		cfg.Reasoning.MaxToolTurns = 8
	}
	if cfg.Reasoning.RateLimit == 0 {
		cfg.Reasoning.RateLimit = 1
	}
	if cfg.Reasoning.MaxRetries == 0 {
		cfg.Reasoning.MaxRetries = 3
	}
	if cfg.Reasoning.Timeout == 0 {
		cfg.Reasoning.Timeout = Duration(2 * time.Minute)
	}

	if cfg.Search.BaseURL == "" {
		cfg.Search.BaseURL = "https://google.serper.dev/search"
	}
	if cfg.Search.Results == 0 {
		cfg.Search.Results = 10
	}
	if cfg.Search.RateLimit == 0 {
		cfg.Search.RateLimit = 2
	}
	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = Duration(15 * time.Second)
	}

	if cfg.Fetch.Mode == "" {
		cfg.Fetch.Mode = "http"
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = Duration(20 * time.Second)
	}
	if cfg.Fetch.Concurrency == 0 {
		cfg.Fetch.Concurrency = 4
	}
	if cfg.Fetch.RateLimit == 0 {
		cfg.Fetch.RateLimit = 5
	}
	if cfg.Fetch.ChunkSize == 0 {
		cfg.Fetch.ChunkSize = 6000
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = "uniguide/0.1"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		switch cfg.Embeddings.Provider {
		case "gemini":
			cfg.Embeddings.Model = "text-embedding-004"
		default:
			cfg.Embeddings.Model = "sentence-transformers/all-MiniLM-L6-v2"
		}
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Dimension == 0 {
		switch cfg.Embeddings.Provider {
		case "gemini":
			cfg.Embeddings.Dimension = 768
		default:
			cfg.Embeddings.Dimension = 384
		}
	}
	if cfg.Embeddings.MaxInputChars == 0 {
		cfg.Embeddings.MaxInputChars = 2000
	}

	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "chromem"
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "mtech_programs"
	}
	if cfg.Index.QdrantHost == "" {
		cfg.Index.QdrantHost = "localhost"
	}
	if cfg.Index.QdrantPort == 0 {
		cfg.Index.QdrantPort = 6334
	}

	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "mtech_programs.csv"
	}

	if cfg.Documents.Dir == "" {
		cfg.Documents.Dir = "."
	}
	if cfg.Documents.MaxFiles == 0 {
		cfg.Documents.MaxFiles = 20
	}
	if cfg.Documents.MaxFileBytes == 0 {
		cfg.Documents.MaxFileBytes = 64 << 10
	}

	if cfg.Report.Dir == "" {
		cfg.Report.Dir = "."
	}
	if cfg.Report.Limit == 0 {
		cfg.Report.Limit = 15
	}
	if cfg.Report.MatchesPerRun == 0 {
		cfg.Report.MatchesPerRun = 15
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "console"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "uniguide"
	}
}
