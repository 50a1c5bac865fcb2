package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"product-bot/internal/domain"
)

const (
	defaultAPIVersion = "2024-07-01"
	defaultTop        = 5
)

// Client queries an Azure AI Search style index for product documents.
type Client struct {
	http       *resty.Client
	index      string
	apiVersion string
	top        int
}

type searchRequest struct {
	Search string `json:"search"`
	Top    int    `json:"top"`
	Select string `json:"select,omitempty"`
}

type searchResponse struct {
	Value []searchHit `json:"value"`
}

type searchHit struct {
	Score   float64 `json:"@search.score"`
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	URL     string  `json:"url"`
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

func WithAPIVersion(v string) Option {
	return func(c *Client) {
		if v = strings.TrimSpace(v); v != "" {
			c.apiVersion = v
		}
	}
}

// NewClient creates a Client for index at endpoint.
func NewClient(endpoint, index, apiKey string, top int, opts ...Option) (*Client, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("search: endpoint must not be empty")
	}
	index = strings.TrimSpace(index)
	if index == "" {
		return nil, errors.New("search: index name must not be empty")
	}
	if top <= 0 {
		top = defaultTop
	}
	httpClient := resty.New().
		SetBaseURL(endpoint).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second)
	if apiKey != "" {
		httpClient.SetHeader("api-key", apiKey)
	}
	c := &Client{
		http:       httpClient,
		index:      index,
		apiVersion: defaultAPIVersion,
		top:        top,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Documents searches with the latest user message as the query. A "top"
// override in context["overrides"] replaces the configured result count.
func (c *Client) Documents(ctx context.Context, messages []domain.ChatMessage, chatContext map[string]any) ([]domain.Document, error) {
	query := lastUserMessage(messages)
	if query == "" {
		return []domain.Document{}, nil
	}

	var out searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("api-version", c.apiVersion).
		SetBody(searchRequest{
			Search: query,
			Top:    topOverride(chatContext, c.top),
			Select: "id,title,content,url",
		}).
		SetResult(&out).
		Post("/indexes/" + url.PathEscape(c.index) + "/docs/search")
	if err != nil {
		return nil, fmt.Errorf("search: request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("search: unexpected status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	docs := make([]domain.Document, 0, len(out.Value))
	for _, hit := range out.Value {
		docs = append(docs, domain.Document{
			ID:      hit.ID,
			Title:   hit.Title,
			Content: hit.Content,
			Source:  hit.URL,
			Score:   hit.Score,
		})
	}
	return docs, nil
}

func lastUserMessage(messages []domain.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

func topOverride(chatContext map[string]any, def int) int {
	overrides, ok := chatContext["overrides"].(map[string]any)
	if !ok {
		return def
	}
	switch v := overrides["top"].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 && v == float64(int(v)) {
			return int(v)
		}
	}
	return def
}

// Nop is the retriever used when no search endpoint is configured.
type Nop struct{}

func (Nop) Documents(context.Context, []domain.ChatMessage, map[string]any) ([]domain.Document, error) {
	return []domain.Document{}, nil
}
