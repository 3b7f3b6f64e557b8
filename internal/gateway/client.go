package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 120 * time.Second

// maxErrorBody caps how much of a failed response is kept in a StatusError.
const maxErrorBody = 4096

// Client is an HTTP Gateway.
type Client struct {
	http *http.Client
	log  *zap.Logger
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	Timeout time.Duration // defaults to DefaultTimeout
	// TokenSource, when set, authenticates every request with an OAuth2
	// bearer token instead of Params.APIKey.
	TokenSource oauth2.TokenSource
	Logger      *zap.Logger
	// HTTPClient overrides the built-in client entirely.
	HTTPClient *http.Client
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HTTPClient != nil {
		return &Client{http: opts.HTTPClient, log: logger}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var transport http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if opts.TokenSource != nil {
		transport = &oauth2.Transport{Source: opts.TokenSource, Base: transport}
	}
	return &Client{
		http: &http.Client{Timeout: timeout, Transport: transport},
		log:  logger,
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message *Message `json:"message"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type openAIModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Chat sends the conversation and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, messages []Message, params Params) (Message, error) {
	if len(messages) == 0 {
		return Message{}, fmt.Errorf("gateway: chat requires at least one message")
	}
	payload, err := json.Marshal(chatRequest{
		Model:    params.ModelOrDefault(),
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return Message{}, fmt.Errorf("gateway: marshal request: %w", err)
	}

	endpoint := endpointURL(params, "/api/chat", "/chat/completions")
	start := time.Now()
	body, err := c.do(ctx, http.MethodPost, endpoint, params, payload)
	if err != nil {
		return Message{}, err
	}
	c.log.Debug("gateway: chat", zap.String("provider", params.Provider),
		zap.String("model", params.ModelOrDefault()), zap.Duration("elapsed", time.Since(start)))

	if params.OpenAICompatible() {
		var decoded openAIChatResponse
		if err := json.Unmarshal(body, &decoded); err != nil {
			return Message{}, &FormatError{Reason: "decode chat response", Err: err}
		}
		if len(decoded.Choices) == 0 {
			return Message{}, &FormatError{Reason: "response missing choices"}
		}
		return decoded.Choices[0].Message, nil
	}

	var decoded ollamaChatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Message{}, &FormatError{Reason: "decode chat response", Err: err}
	}
	if decoded.Message == nil {
		return Message{}, &FormatError{Reason: "response missing message"}
	}
	return *decoded.Message, nil
}

// ListModels returns the model names the server offers.
func (c *Client) ListModels(ctx context.Context, params Params) ([]string, error) {
	endpoint := endpointURL(params, "/api/tags", "/models")
	body, err := c.do(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return nil, err
	}

	var names []string
	if params.OpenAICompatible() {
		var decoded openAIModelsResponse
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, &FormatError{Reason: "decode models response", Err: err}
		}
		for _, m := range decoded.Data {
			names = append(names, m.ID)
		}
		return names, nil
	}

	var decoded ollamaTagsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &FormatError{Reason: "decode models response", Err: err}
	}
	for _, m := range decoded.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, params Params, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("gateway: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if params.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+params.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: endpoint, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func endpointURL(params Params, ollamaPath, openAIPath string) string {
	base := strings.TrimRight(params.BaseURL, "/")
	if params.OpenAICompatible() {
		return base + openAIPath
	}
	return base + ollamaPath
}
