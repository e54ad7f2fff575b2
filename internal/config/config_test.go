package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME at a temp dir and clears credentials.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{"GOOGLE_API_KEY", "GROQ_API_KEY", "SERPER_API_KEY", "QDRANT_API_KEY"} {
		t.Setenv(key, "")
	}
	return home
}

func TestLoadWithFile_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.Reasoning.Provider)
	assert.Equal(t, 0.5, cfg.Reasoning.Temperature)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.StageTimeout.Duration())
	assert.Equal(t, 1, cfg.Pipeline.Parallelism)
	assert.Equal(t, "fastembed", cfg.Embeddings.Provider)
	assert.Equal(t, "sentence-transformers/all-MiniLM-L6-v2", cfg.Embeddings.Model)
	assert.Equal(t, 384, cfg.Embeddings.Dimension)
	assert.Equal(t, "chromem", cfg.Index.Backend)
	assert.Equal(t, "mtech_programs", cfg.Index.Collection)
	assert.Equal(t, 6000, cfg.Fetch.ChunkSize)
	assert.Equal(t, 15, cfg.Report.Limit)
	assert.Equal(t, ".", cfg.Documents.Dir)
	assert.Equal(t, int64(64<<10), cfg.Documents.MaxFileBytes)
}

func TestLoadWithFile_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("UNIGUIDE_REASONING_PROVIDER", "groq")
	t.Setenv("UNIGUIDE_PIPELINE_STAGE_TIMEOUT", "30s")
	t.Setenv("UNIGUIDE_PIPELINE_PARALLELISM", "3")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, "groq", cfg.Reasoning.Provider)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.Reasoning.Model)
	assert.Equal(t, "https://api.groq.com/openai/v1", cfg.Reasoning.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.StageTimeout.Duration())
	assert.Equal(t, 3, cfg.Pipeline.Parallelism)
	assert.Equal(t, "gsk-test", cfg.Reasoning.GroqAPIKey.Value())
}

func TestLoadWithFile_YAML(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".config", "uniguide")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "config.yaml")
	content := `
reasoning:
  provider: stub
index:
  backend: qdrant
  qdrant_port: 7000
catalog:
  path: /data/programs.csv
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "stub", cfg.Reasoning.Provider)
	assert.Equal(t, "qdrant", cfg.Index.Backend)
	assert.Equal(t, 7000, cfg.Index.QdrantPort)
	assert.Equal(t, "/data/programs.csv", cfg.Catalog.Path)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".config", "uniguide")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reasoning:\n  provider: stub\n"), 0644))

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsPathOutsideConfigDir(t *testing.T) {
	isolate(t)

	_, err := LoadWithFile(filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_InvalidProvider(t *testing.T) {
	isolate(t)
	t.Setenv("UNIGUIDE_REASONING_PROVIDER", "parrot")

	_, err := LoadWithFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reasoning.provider")
}

func TestValidateCredentials(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		missing []string
	}{
		{
			name:    "gemini without key",
			mutate:  func(c *Config) {},
			missing: []string{"GOOGLE_API_KEY"},
		},
		{
			name:   "gemini with key",
			mutate: func(c *Config) { c.Reasoning.GeminiAPIKey = "k" },
		},
		{
			name: "groq without key",
			mutate: func(c *Config) {
				c.Reasoning.Provider = "groq"
			},
			missing: []string{"GROQ_API_KEY"},
		},
		{
			name: "stub needs nothing",
			mutate: func(c *Config) {
				c.Reasoning.Provider = "stub"
			},
		},
		{
			name: "search enabled without key",
			mutate: func(c *Config) {
				c.Reasoning.Provider = "stub"
				c.Search.Enabled = true
			},
			missing: []string{"SERPER_API_KEY"},
		},
		{
			name: "gemini embeddings reported once",
			mutate: func(c *Config) {
				c.Embeddings.Provider = "gemini"
			},
			missing: []string{"GOOGLE_API_KEY"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.ValidateCredentials()
			if len(tt.missing) == 0 {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrMissingCredential)
			for _, name := range tt.missing {
				assert.Contains(t, err.Error(), name)
			}
			assert.Equal(t, fmt.Sprintf("%s: %s", ErrMissingCredential, tt.missing[0]), err.Error())
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("super-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "super-secret", s.Value())

	out, err := json.Marshal(struct{ Key Secret }{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(out))

	assert.False(t, Secret("").IsSet())
	assert.Equal(t, "", Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
