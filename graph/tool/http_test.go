package tool

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPToolInvoke(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"echo": true}`))
	}))
	defer srv.Close()

	tl := NewHTTPTool("echo", srv.URL, WithHeader("Authorization", "Bearer token"))
	out, err := tl.Invoke(context.Background(), json.RawMessage(`{"city": "Oslo"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo": true}`, string(out))
	assert.JSONEq(t, `{"city": "Oslo"}`, string(gotBody))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "Bearer token", gotHeader.Get("Authorization"))
	assert.NotEmpty(t, gotHeader.Get(IdempotencyHeader))
}

func TestHTTPToolIdempotencyKeyStable(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get(IdempotencyHeader))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tl := NewHTTPTool("echo", srv.URL)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := tl.Invoke(ctx, json.RawMessage(`{"city": "Oslo"}`))
		require.NoError(t, err)
	}
	_, err := tl.Invoke(ctx, json.RawMessage(`{"city": "Bergen"}`))
	require.NoError(t, err)

	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1], "identical input must reuse the key")
	assert.NotEqual(t, keys[0], keys[2], "different input must change the key")
}

func TestHTTPToolInputSchemaRejects(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	tl := NewHTTPTool("weather", srv.URL,
		WithInputSchema(MustCompileSchema("weather", weatherSchema)))

	_, err := tl.Invoke(context.Background(), json.RawMessage(`{"units": "metric"}`))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.False(t, called, "invalid input must not reach the endpoint")
}

func TestHTTPToolOutputSchemaRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"temp": "not a number"}`))
	}))
	defer srv.Close()

	tl := NewHTTPTool("weather", srv.URL,
		WithOutputSchema(MustCompileSchema("weather-out", `{
			"type": "object",
			"properties": {"temp": {"type": "number"}},
			"required": ["temp"]
		}`)))

	_, err := tl.Invoke(context.Background(), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestHTTPToolNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	tl := NewHTTPTool("echo", srv.URL)
	_, err := tl.Invoke(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestHTTPToolMethodOverride(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tl := NewHTTPTool("echo", srv.URL, WithMethod(http.MethodPut))
	_, err := tl.Invoke(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, method)
}

func TestHTTPToolContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	tl := NewHTTPTool("echo", srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tl.Invoke(ctx, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, context.Canceled)
}
