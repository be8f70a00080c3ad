package rewrite

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lballaty/myragdb/internal/config"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		body := `{"choices":[{"message":{"content":` + jsonString(content) + `}}]}`
		_, _ = w.Write([]byte(body))
	}))
}

func jsonString(s string) string {
	out := `"`
	for _, r := range s {
		switch r {
		case '"':
			out += `\"`
		case '\\':
			out += `\\`
		case '\n':
			out += `\n`
		default:
			out += string(r)
		}
	}
	return out + `"`
}

func testConfig(endpoint string) config.RewriteConfig {
	return config.RewriteConfig{
		Enabled:     true,
		Endpoint:    endpoint,
		Model:       "qwen3:0.6b",
		Timeout:     2 * time.Second,
		Temperature: 0.1,
	}
}

func TestRewrite_ParsesStructuredResponse(t *testing.T) {
	server := chatServer(t, `{"keywords": "socket dial tcp", "semantic_intent": "how to open a tcp connection", "filters": {"extensions": ["go"], "folder_name": "net", "languages": ["go"], "content_types": ["code"]}}`)
	defer server.Close()

	r := New(testConfig(server.URL), nil)
	result := r.Rewrite(context.Background(), "how do I open a tcp socket in go under net")

	assert.True(t, result.Rewritten)
	assert.Equal(t, "socket dial tcp", result.Keywords)
	assert.Equal(t, "how to open a tcp connection", result.SemanticIntent)
	assert.Equal(t, []string{"go"}, result.Filters.Extensions)
	assert.Equal(t, "net", result.Filters.FolderName)
	assert.Equal(t, []string{"go"}, result.Filters.Languages)
	assert.Equal(t, []string{"code"}, result.Filters.ContentTypes)
}

func TestRewrite_ToleratesCodeFences(t *testing.T) {
	server := chatServer(t, "```json\n{\"keywords\": \"rrf fusion\", \"semantic_intent\": \"rank fusion\", \"filters\": {}}\n```")
	defer server.Close()

	r := New(testConfig(server.URL), nil)
	result := r.Rewrite(context.Background(), "what is rrf")

	assert.True(t, result.Rewritten)
	assert.Equal(t, "rrf fusion", result.Keywords)
}

func TestRewrite_ServerDownFallsBack(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	r := New(testConfig(url), nil)
	result := r.Rewrite(context.Background(), "original query")

	assert.False(t, result.Rewritten)
	assert.Equal(t, "original query", result.Keywords)
	assert.Equal(t, "original query", result.SemanticIntent)
	assert.Empty(t, result.Filters.Languages)
}

func TestRewrite_GarbageResponseFallsBack(t *testing.T) {
	server := chatServer(t, "sorry, I cannot help with that")
	defer server.Close()

	r := New(testConfig(server.URL), nil)
	result := r.Rewrite(context.Background(), "find the debouncer")

	assert.False(t, result.Rewritten)
	assert.Equal(t, "find the debouncer", result.Keywords)
}

func TestRewrite_EmptyModelFieldsKeepQueryText(t *testing.T) {
	server := chatServer(t, `{"keywords": "", "semantic_intent": "", "filters": {}}`)
	defer server.Close()

	r := New(testConfig(server.URL), nil)
	result := r.Rewrite(context.Background(), "watcher debounce window")

	assert.True(t, result.Rewritten)
	assert.Equal(t, "watcher debounce window", result.Keywords)
	assert.Equal(t, "watcher debounce window", result.SemanticIntent)
}

func TestRewrite_DisabledUsesFallback(t *testing.T) {
	r := New(config.RewriteConfig{Enabled: false}, nil)
	result := r.Rewrite(context.Background(), "some query")

	assert.False(t, result.Rewritten)
	assert.Equal(t, "some query", result.Keywords)
}

func TestRewrite_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := New(testConfig(server.URL), nil)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		result := r.Rewrite(ctx, "query")
		assert.False(t, result.Rewritten)
	}

	// After five failures the circuit is open and stops hitting the
	// server.
	assert.Equal(t, 5, calls)
}
