// Package adapter connects flowgrid nodes to language-model providers
// behind a narrow completion interface, plus the secret resolution and
// human-channel plumbing those integrations need.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Response is the model's answer plus usage accounting.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int

	// CostUSD is the provider-reported or table-derived dollar cost; zero
	// when unknown.
	CostUSD float64
}

// Completer is the model-provider surface the engine depends on.
type Completer interface {
	// Complete runs one completion. Provider errors surface raw so the
	// engine's classifier can map them (rate limits, auth, availability).
	Complete(ctx context.Context, req Request) (Response, error)
}

// ErrSecretNotFound is returned when a secret reference cannot resolve.
var ErrSecretNotFound = errors.New("adapter: secret not found")

// SecretResolver turns secret references into values. References of the
// form "env:NAME" read the environment; anything else is returned as a
// literal.
type SecretResolver interface {
	Resolve(ref string) (string, error)
}

// EnvSecretResolver resolves "env:" references from the process
// environment.
type EnvSecretResolver struct{}

// Resolve implements SecretResolver.
func (EnvSecretResolver) Resolve(ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, "env:")
	if !ok {
		return ref, nil
	}
	v, exists := os.LookupEnv(name)
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return v, nil
}

// HumanChannel delivers approval prompts to a human and reports decisions
// back. Implementations range from CLI prompts to chat integrations.
type HumanChannel interface {
	// Notify delivers a prompt for the given request ID. Delivery is
	// fire-and-forget; the decision comes back through Engine.Resume.
	Notify(ctx context.Context, requestID, prompt string) error
}

// HumanChannelFunc adapts a function to HumanChannel.
type HumanChannelFunc func(ctx context.Context, requestID, prompt string) error

// Notify implements HumanChannel.
func (f HumanChannelFunc) Notify(ctx context.Context, requestID, prompt string) error {
	return f(ctx, requestID, prompt)
}
