package llm

import (
	"context"
	"encoding/json"

	"google.golang.org/genai"
)

// Gemini is a Caller backed by google.golang.org/genai.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a Gemini provider from an API key.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, &CallError{Message: "gemini api key is required"}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, &CallError{Message: "create gemini client: " + err.Error(), Err: err}
	}
	return &Gemini{client: client}, nil
}

// Call issues one generation request. Supported params: temperature,
// top_p (floats), max_tokens (integer). Unknown params are ignored.
func (g *Gemini) Call(ctx context.Context, model, userPrompt, systemPrompt string, params map[string]any) (Result, error) {
	config := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if v, ok := floatParam(params, "temperature"); ok {
		config.Temperature = genai.Ptr(float32(v))
	}
	if v, ok := floatParam(params, "top_p"); ok {
		config.TopP = genai.Ptr(float32(v))
	}
	if v, ok := floatParam(params, "max_tokens"); ok {
		config.MaxOutputTokens = int32(v)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		if IsCancellation(err) || ctx.Err() != nil {
			return Result{}, context.Canceled
		}
		return Result{}, &CallError{Model: model, Message: err.Error(), Err: err}
	}

	result := Result{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if raw, err := json.Marshal(resp); err == nil {
		result.RawResponse = string(raw)
	}
	if raw, err := json.Marshal(map[string]any{
		"model":  model,
		"user":   userPrompt,
		"system": systemPrompt,
		"params": params,
	}); err == nil {
		result.RawRequest = string(raw)
	}
	return result, nil
}

// floatParam reads a numeric parameter in whatever numeric shape the
// params map carries (JSON decoding yields float64, YAML yields int).
func floatParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
