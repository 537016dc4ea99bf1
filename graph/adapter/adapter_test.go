package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSecretResolver(t *testing.T) {
	r := EnvSecretResolver{}

	t.Setenv("FLOWGRID_TEST_KEY", "sk-123")
	v, err := r.Resolve("env:FLOWGRID_TEST_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-123", v)

	// non-prefixed references pass through as literals
	v, err = r.Resolve("literal-value")
	require.NoError(t, err)
	assert.Equal(t, "literal-value", v)

	_, err = r.Resolve("env:FLOWGRID_TEST_MISSING")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestMockPlayback(t *testing.T) {
	m := &Mock{
		Responses: []Response{
			{Text: "first", InputTokens: 10, OutputTokens: 5, CostUSD: 0.001},
			{Text: "second"},
		},
	}
	ctx := context.Background()

	resp, err := m.Complete(ctx, Request{Prompt: "one"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Text)
	assert.Equal(t, 10, resp.InputTokens)

	resp, _ = m.Complete(ctx, Request{Prompt: "two"})
	assert.Equal(t, "second", resp.Text)

	// last response repeats
	resp, _ = m.Complete(ctx, Request{Prompt: "three"})
	assert.Equal(t, "second", resp.Text)

	calls := m.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "one", calls[0].Prompt)
}

func TestMockTransientThenSuccess(t *testing.T) {
	boom := errors.New("rate limit exceeded")
	m := &Mock{
		Responses: []Response{{Text: "ok"}},
		Errs:      []error{boom, boom},
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.Complete(ctx, Request{Prompt: "p"})
		assert.ErrorIs(t, err, boom)
	}
	resp, err := m.Complete(ctx, Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestMockDefaultsWithoutScript(t *testing.T) {
	m := &Mock{}
	resp, err := m.Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestNewOpenAIResolvesSecret(t *testing.T) {
	t.Setenv("FLOWGRID_TEST_OPENAI_KEY", "sk-test")
	o, err := NewOpenAI("env:FLOWGRID_TEST_OPENAI_KEY", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", o.defaultModel)

	_, err = NewOpenAI("env:FLOWGRID_TEST_OPENAI_MISSING", nil, "")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestHumanChannelFunc(t *testing.T) {
	var gotID, gotPrompt string
	ch := HumanChannelFunc(func(ctx context.Context, requestID, prompt string) error {
		gotID, gotPrompt = requestID, prompt
		return nil
	})
	require.NoError(t, ch.Notify(context.Background(), "req-1", "deploy?"))
	assert.Equal(t, "req-1", gotID)
	assert.Equal(t, "deploy?", gotPrompt)
}
