package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/uniguide/internal/config"
	"github.com/fyrsmithlabs/uniguide/internal/logging"
	"github.com/fyrsmithlabs/uniguide/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	v, _ := args.Get(0).([][]float32)
	return v, args.Error(1)
}

func (m *mockProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	v, _ := args.Get(0).([]float32)
	return v, args.Error(1)
}

func (m *mockProvider) Dimension() int {
	return m.Called().Int(0)
}

func (m *mockProvider) Close() error {
	return m.Called().Error(0)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		max      int
		want     string
		wantOrig int
		wantUsed int
	}{
		{"under limit", "hello", 10, "hello", 5, 5},
		{"exact limit", "hello", 5, "hello", 5, 5},
		{"cut", "hello world", 5, "hello", 11, 5},
		{"disabled", "hello world", 0, "hello world", 11, 11},
		{"multibyte boundary", "héllo wörld", 7, "héllo w", 11, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, orig, used := truncate(tt.text, tt.max)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOrig, orig)
			assert.Equal(t, tt.wantUsed, used)
		})
	}
}

func TestService_Embed(t *testing.T) {
	p := &mockProvider{}
	p.On("Dimension").Return(3)
	p.On("EmbedQuery", mock.Anything, "M.Tech AI").Return([]float32{0.1, 0.2, 0.3}, nil)

	s, err := NewService(p, "test-model")
	require.NoError(t, err)

	e, err := s.Embed(context.Background(), "M.Tech AI")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, e.Vector)
	assert.False(t, e.Truncated)
	assert.Equal(t, 9, e.OriginalChars)
	assert.Equal(t, 9, e.UsedChars)
	assert.Equal(t, 3, s.Dimension())
	assert.Equal(t, "test-model", s.Model())
	p.AssertExpectations(t)
}

func TestService_EmptyInput(t *testing.T) {
	p := &mockProvider{}
	p.On("Dimension").Return(3)
	s, err := NewService(p, "m")
	require.NoError(t, err)

	_, err = s.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = s.Embed(context.Background(), "   \n")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = s.EmbedBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = s.EmbedBatch(context.Background(), []string{"ok", ""})
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.ErrorContains(t, err, "text 1")

	p.AssertNotCalled(t, "EmbedQuery", mock.Anything, mock.Anything)
	p.AssertNotCalled(t, "EmbedDocuments", mock.Anything, mock.Anything)
}

func TestService_TruncationIsRecorded(t *testing.T) {
	logger := logging.NewTestLogger()
	tel := telemetry.NewTestTelemetry()
	p := &mockProvider{}
	p.On("Dimension").Return(2)
	p.On("EmbedDocuments", mock.Anything, []string{"abcd", "ab"}).Return([][]float32{{1, 0}, {0, 1}}, nil)

	s, err := NewService(p, "m", WithMaxInputChars(4), WithLogger(logger.Logger), WithTelemetry(tel.Telemetry))
	require.NoError(t, err)

	out, err := s.EmbedBatch(context.Background(), []string{"abcdefgh", "ab"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.True(t, out[0].Truncated)
	assert.Equal(t, 8, out[0].OriginalChars)
	assert.Equal(t, 4, out[0].UsedChars)
	assert.Equal(t, []float32{1, 0}, out[0].Vector)
	assert.False(t, out[1].Truncated)
	assert.Equal(t, []float32{0, 1}, out[1].Vector)

	logger.AssertLogged(t, zapcore.WarnLevel, "embedding input truncated")
	logger.AssertField(t, "embedding input truncated", "original_chars", int64(8))

	n, err := tel.Int64Sum(context.Background(), "uniguide.embedding.truncated_inputs_total", attribute.String("model", "m"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestService_DimensionMismatch(t *testing.T) {
	p := &mockProvider{}
	p.On("Dimension").Return(3)
	p.On("EmbedQuery", mock.Anything, "q").Return([]float32{1, 2}, nil)

	s, err := NewService(p, "m")
	require.NoError(t, err)

	_, err = s.Embed(context.Background(), "q")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.ErrorContains(t, err, "dimension 2, want 3")
}

func TestService_LearnsDimension(t *testing.T) {
	p := &mockProvider{}
	p.On("Dimension").Return(0)
	p.On("EmbedQuery", mock.Anything, "a").Return([]float32{1, 2, 3, 4}, nil)
	p.On("EmbedQuery", mock.Anything, "b").Return([]float32{1, 2}, nil)

	s, err := NewService(p, "m")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Dimension())

	_, err = s.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 4, s.Dimension())

	_, err = s.Embed(context.Background(), "b")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestService_ProviderError(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p := &mockProvider{}
	p.On("Dimension").Return(2)
	boom := errors.New("boom")
	p.On("EmbedQuery", mock.Anything, "q").Return(nil, boom)

	s, err := NewService(p, "m", WithTelemetry(tel.Telemetry))
	require.NoError(t, err)

	_, err = s.Embed(context.Background(), "q")
	assert.ErrorIs(t, err, boom)

	n, err := tel.Int64Sum(context.Background(), "uniguide.embedding.errors_total", attribute.String("operation", "embed"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNewService_NilProvider(t *testing.T) {
	_, err := NewService(nil, "m")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := NewProvider(context.Background(), ProviderConfig{Provider: "word2vec"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDetectDimension(t *testing.T) {
	assert.Equal(t, 384, detectDimension("sentence-transformers/all-MiniLM-L6-v2"))
	assert.Equal(t, 768, detectDimension("text-embedding-004"))
	assert.Equal(t, 1024, detectDimension("some-large-model"))
	assert.Equal(t, 768, detectDimension("custom-base"))
	assert.Equal(t, 384, detectDimension("unknown"))
}

func TestProviderConfigFrom(t *testing.T) {
	cfg := config.EmbeddingsConfig{Provider: "gemini", Model: "text-embedding-004", BaseURL: "http://x", Dimension: 768}
	pc := ProviderConfigFrom(cfg, config.Secret("key"))
	assert.Equal(t, "key", pc.APIKey)
	assert.Equal(t, "http://x", pc.BaseURL)

	cfg.Provider = ProviderFastEmbed
	assert.Empty(t, ProviderConfigFrom(cfg, "").BaseURL)
}

func TestTEIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Truncate)

		vectors := make([][]float32, len(req.Inputs))
		for i, in := range req.Inputs {
			vectors[i] = []float32{float32(len(in)), 1}
		}
		_ = json.NewEncoder(w).Encode(vectors)
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL + "/", Dimension: 2})
	require.NoError(t, err)
	defer p.Close()

	docs, err := p.EmbedDocuments(context.Background(), []string{"a", "abc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {3, 1}}, docs)

	q, err := p.EmbedQuery(context.Background(), "ab")
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 1}, q)
	assert.Equal(t, 2, p.Dimension())
}

func TestTEIProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.ErrorContains(t, err, "status 503: model loading")
}

func TestTEIProvider_RequiresURL(t *testing.T) {
	_, err := NewTEIProvider(TEIConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGeminiProvider(t *testing.T) {
	var tasks []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":batchEmbedContents"), r.URL.Path)

		var body struct {
			Requests []struct {
				TaskType             string `json:"taskType"`
				OutputDimensionality int    `json:"outputDimensionality"`
			} `json:"requests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		type embedding struct {
			Values []float32 `json:"values"`
		}
		resp := struct {
			Embeddings []embedding `json:"embeddings"`
		}{}
		for i, req := range body.Requests {
			tasks = append(tasks, req.TaskType)
			assert.Equal(t, 2, req.OutputDimensionality)
			resp.Embeddings = append(resp.Embeddings, embedding{Values: []float32{float32(i), 1}})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(context.Background(), GeminiConfig{APIKey: "k", Model: "text-embedding-004", BaseURL: srv.URL, Dimension: 2})
	require.NoError(t, err)

	docs, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, docs)

	q, err := p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, q)

	assert.Equal(t, []string{geminiTaskDocument, geminiTaskDocument, geminiTaskQuery}, tasks)
}

func TestGeminiProvider_RequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), GeminiConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
