package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func fakeCompletions(t *testing.T, reply string, status int) (*httptest.Server, *chatRequest) {
	t.Helper()
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestOpenAIProvider_Complete(t *testing.T) {
	srv, got := fakeCompletions(t, "  hello there \n", http.StatusOK)
	p := NewProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "test-model"})

	text, err := p.Complete(context.Background(), []Turn{
		{Role: RoleSystem, Content: "be nice"},
		{Role: RoleUser, Content: "alice: hi"},
		{Role: RoleAssistant, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
}

func TestOpenAIProvider_Failures(t *testing.T) {
	srv, _ := fakeCompletions(t, "", http.StatusInternalServerError)
	p := NewProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrProviderFailure)

	empty, _ := fakeCompletions(t, "   ", http.StatusOK)
	p = NewProvider(OpenAIConfig{APIKey: "test-key", BaseURL: empty.URL})
	_, err = p.Complete(context.Background(), []Turn{{Role: RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrProviderFailure)
}

func TestNewProvider_WithoutKey(t *testing.T) {
	p := NewProvider(OpenAIConfig{})
	_, disabled := p.(DisabledProvider)
	require.True(t, disabled)

	_, err := p.Complete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrProviderFailure)
}
