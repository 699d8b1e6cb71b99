// Package llm defines the narrow contract the prompt executor consumes,
// plus concrete providers. Provider failures surface as *CallError with a
// human-readable message; deliberate aborts are a distinguishable
// cancellation and are swallowed by callers rather than recorded.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Usage is token accounting reported by a provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Result is a completed LLM call.
type Result struct {
	Text        string
	Usage       Usage
	RawRequest  string
	RawResponse string
}

// Caller issues one model call. Implementations must honor context
// cancellation and return an error satisfying IsCancellation for aborts.
type Caller interface {
	Call(ctx context.Context, model, userPrompt, systemPrompt string, params map[string]any) (Result, error)
}

// CallError is a provider failure (non-2xx, transport, malformed reply).
type CallError struct {
	Model   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("llm call failed (model=%s): %s", e.Model, e.Message)
	}
	return "llm call failed: " + e.Message
}

// Unwrap exposes the underlying cause.
func (e *CallError) Unwrap() error { return e.Err }

// IsCancellation reports whether the error represents a deliberate abort
// rather than a provider failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Registry selects a Caller by model id prefix.
type Registry struct {
	providers map[string]Caller
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Caller)}
}

// Register binds a model id prefix (e.g. "gemini-") to a provider.
func (r *Registry) Register(prefix string, c Caller) {
	r.providers[prefix] = c
}

// Resolve picks the provider whose prefix matches the model id.
// The longest matching prefix wins.
func (r *Registry) Resolve(model string) (Caller, error) {
	var best string
	var found Caller
	for prefix, c := range r.providers {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
			found = c
		}
	}
	if found == nil {
		return nil, &CallError{Model: model, Message: "no provider registered for model"}
	}
	return found, nil
}

// Call implements Caller by resolving the provider per call.
func (r *Registry) Call(ctx context.Context, model, userPrompt, systemPrompt string, params map[string]any) (Result, error) {
	c, err := r.Resolve(model)
	if err != nil {
		return Result{}, err
	}
	return c.Call(ctx, model, userPrompt, systemPrompt, params)
}
