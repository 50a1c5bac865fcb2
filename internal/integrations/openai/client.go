package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"product-bot/internal/domain"
)

const (
	APITypeAzure  = "azure"
	APITypeOpenAI = "openai"

	defaultBaseURL    = "https://api.openai.com/v1"
	defaultAPIVersion = "2024-06-01"
	defaultTimeout    = 60 * time.Second
	tokenParamSuffix  = "/chat-api-token"
)

// TokenGetter resolves the API token from the parameter store.
type TokenGetter interface {
	GetToken(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends chat completion requests to an Azure OpenAI deployment or an
// OpenAI-compatible endpoint.
type Client struct {
	apiType    string
	endpoint   string
	apiVersion string
	httpClient *http.Client

	apiKey      string
	tokens      TokenGetter
	paramPrefix string

	keyOnce     sync.Once
	resolvedKey string
	keyErr      error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithTokenSource makes the client fetch its key from <paramPrefix>/chat-api-token
// when no static key is configured.
func WithTokenSource(tokens TokenGetter, paramPrefix string) Option {
	return func(c *Client) {
		c.tokens = tokens
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	}
}

func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(version); v != "" {
			c.apiVersion = v
		}
	}
}

// NewClient creates a chat client for apiType ("azure" or "openai").
func NewClient(apiType, endpoint string, opts ...Option) (*Client, error) {
	apiType = strings.ToLower(strings.TrimSpace(apiType))
	if apiType != APITypeAzure && apiType != APITypeOpenAI {
		return nil, fmt.Errorf("openai: unsupported api type %q", apiType)
	}
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if apiType == APITypeAzure && endpoint == "" {
		return nil, errors.New("openai: azure endpoint must not be empty")
	}
	c := &Client{
		apiType:    apiType,
		endpoint:   endpoint,
		apiVersion: defaultAPIVersion,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" && (c.tokens == nil || c.paramPrefix == "") {
		return nil, errors.New("openai: either an api key or a token source is required")
	}
	return c, nil
}

// resolveAPIKey returns the static key, or fetches the key from the parameter
// store on the first call and reuses it for the process lifetime.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	c.keyOnce.Do(func() {
		c.resolvedKey, c.keyErr = c.tokens.GetToken(ctx, c.paramPrefix+tokenParamSuffix)
		if c.keyErr != nil {
			c.keyErr = fmt.Errorf("openai: fetch token from paramstore: %w", c.keyErr)
		}
	})
	return c.resolvedKey, c.keyErr
}

func (c *Client) config(apiKey string) goopenai.ClientConfig {
	var cfg goopenai.ClientConfig
	if c.apiType == APITypeAzure {
		cfg = goopenai.DefaultAzureConfig(apiKey, c.endpoint)
		cfg.APIVersion = c.apiVersion
		// Deployment names are used verbatim.
		cfg.AzureModelMapperFunc = func(model string) string { return model }
	} else {
		cfg = goopenai.DefaultConfig(apiKey)
		cfg.BaseURL = baseURL(c.endpoint)
	}
	if c.httpClient != nil {
		cfg.HTTPClient = c.httpClient
	}
	return cfg
}

func baseURL(endpoint string) string {
	base := strings.TrimRight(endpoint, "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// Chat sends messages to model with the given invocation parameters and
// returns the first choice's content.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage, params map[string]any) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", errors.New("openai: model must not be empty")
	}
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}

	req := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: toProviderMessages(messages),
	}
	if err := applyParameters(&req, params); err != nil {
		return "", err
	}

	resp, err := goopenai.NewClientWithConfig(c.config(apiKey)).CreateChatCompletion(ctx, req)
	if err != nil {
		return "", statusError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func toProviderMessages(messages []domain.ChatMessage) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func statusError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	return fmt.Errorf("openai: request failed: %w", err)
}
