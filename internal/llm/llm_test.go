package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/nakama/internal/config"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain array", `[{"name":"A"}]`, `[{"name":"A"}]`, false},
		{"fenced json", "```json\n[{\"name\":\"A\"}]\n```", `[{"name":"A"}]`, false},
		{"fenced no lang", "```\n{\"name\":\"A\"}\n```", `{"name":"A"}`, false},
		{"prose around array", `結果: [{"name":"A","hobby":["釣り"]}] 以上`, `[{"name":"A","hobby":["釣り"]}]`, false},
		{"object first", `{"people":[1,2]}`, `{"people":[1,2]}`, false},
		{"none", "no json here", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	c, err := New(config.LLMConfig{Provider: "none"}, nil)
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = New(config.LLMConfig{Provider: "openai"}, nil)
	assert.Error(t, err, "missing api key")

	_, err = New(config.LLMConfig{Provider: "anthropic"}, nil)
	assert.Error(t, err, "missing api key")

	_, err = New(config.LLMConfig{Provider: "gemini", APIKey: "k"}, nil)
	assert.Error(t, err)

	c, err = New(config.LLMConfig{Provider: "anthropic", APIKey: "k", RequestsPerSecond: 1, Burst: 1}, nil)
	require.NoError(t, err)
	_, ok := c.(*RateLimited)
	assert.True(t, ok, "rate limited wrapper expected, got %T", c)
}

func TestOpenAIClient_Generate(t *testing.T) {
	var gotReq chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"こんにちは"}}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(config.LLMConfig{APIKey: "test-key", BaseURL: srv.URL + "/", Model: "m", MaxTokens: 64})
	require.NoError(t, err)
	out, err := c.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "こんにちは", out)
	assert.Equal(t, "m", gotReq.Model)
	assert.Equal(t, 64, gotReq.MaxTokens)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
}

func TestOpenAIClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"api error", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			c, err := NewOpenAIClient(config.LLMConfig{APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)
			_, err = c.Generate(context.Background(), "p")
			assert.Error(t, err)
		})
	}
}

type countingClient struct {
	calls int
	err   error
}

func (c *countingClient) Generate(ctx context.Context, prompt string) (string, error) {
	c.calls++
	return "ok:" + prompt, c.err
}

func TestRateLimited(t *testing.T) {
	next := &countingClient{}
	rl := NewRateLimited(next, 1000, 1)
	out, err := rl.Generate(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "ok:x", out)
	assert.Equal(t, 1, next.calls)

	cause := errors.New("boom")
	next.err = cause
	_, err = rl.Generate(context.Background(), "y")
	assert.ErrorIs(t, err, cause)
}

func TestRateLimited_ContextCancelled(t *testing.T) {
	next := &countingClient{}
	rl := NewRateLimited(next, 0.001, 1)
	_, _ = rl.Generate(context.Background(), "first") // consumes the only token

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := rl.Generate(ctx, "second")
	assert.Error(t, err)
	assert.Equal(t, 1, next.calls)
}
