// Package gateway talks to chat-completion model servers. It speaks both the
// Ollama API and the OpenAI-compatible API used by OpenAI and DeepSeek.
package gateway

import (
	"context"
	"fmt"
)

// Supported providers.
const (
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
)

// Default models used when Params.Model is empty.
const (
	DefaultOllamaModel = "llama3"
	DefaultOpenAIModel = "deepseek-chat"
)

// Message is one chat turn on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params selects the provider, endpoint and model for a call.
type Params struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
}

// OpenAICompatible reports whether the provider uses the /chat/completions API.
func (p Params) OpenAICompatible() bool {
	return p.Provider == ProviderOpenAI || p.Provider == ProviderDeepSeek
}

// ModelOrDefault returns the configured model or the provider default.
func (p Params) ModelOrDefault() string {
	if p.Model != "" {
		return p.Model
	}
	if p.OpenAICompatible() {
		return DefaultOpenAIModel
	}
	return DefaultOllamaModel
}

// Gateway is a model server.
type Gateway interface {
	Chat(ctx context.Context, messages []Message, params Params) (Message, error)
	ListModels(ctx context.Context, params Params) ([]string, error)
}

// NetworkError means the request never produced an HTTP response.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("gateway: request %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError means the server answered with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway: status %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway: status %d - %s", e.StatusCode, e.Body)
}

// FormatError means the response body could not be understood.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: invalid response: %s: %v", e.Reason, e.Err)
	}
	return "gateway: invalid response: " + e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }
