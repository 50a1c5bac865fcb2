package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"product-bot/internal/domain"
)

const (
	defaultTokenHost  = "https://login.microsoftonline.com"
	defaultTenant     = "botframework.com"
	connectorScope    = "https://api.botframework.com/.default"
	tokenRefreshAhead = 5 * time.Minute
)

// Credentials identify the bot registration used for outbound calls. An
// empty AppID disables outbound authentication.
type Credentials struct {
	AppID       string
	AppPassword string
	TenantID    string
}

// ConnectorClient posts activities to the channel connector service.
type ConnectorClient struct {
	http   *resty.Client
	tokens *tokenSource
}

type ConnectorOption func(*connectorOptions)

type connectorOptions struct {
	tokenHost string
	timeout   time.Duration
}

// WithTokenHost overrides the login host used for client credential grants.
func WithTokenHost(host string) ConnectorOption {
	return func(o *connectorOptions) {
		if host = strings.TrimRight(strings.TrimSpace(host), "/"); host != "" {
			o.tokenHost = host
		}
	}
}

func WithConnectorTimeout(d time.Duration) ConnectorOption {
	return func(o *connectorOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func NewConnectorClient(creds Credentials, opts ...ConnectorOption) (*ConnectorClient, error) {
	o := connectorOptions{tokenHost: defaultTokenHost, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	httpClient := resty.New().
		SetTimeout(o.timeout).
		SetHeader("Content-Type", "application/json")
	c := &ConnectorClient{http: httpClient}

	creds.AppID = strings.TrimSpace(creds.AppID)
	if creds.AppID == "" {
		return c, nil
	}
	if creds.AppPassword == "" {
		return nil, errors.New("channel: app password must not be empty when app id is set")
	}
	tenant := strings.TrimSpace(creds.TenantID)
	if tenant == "" {
		tenant = defaultTenant
	}
	c.tokens = &tokenSource{
		http:     httpClient,
		url:      o.tokenHost + "/" + url.PathEscape(tenant) + "/oauth2/v2.0/token",
		appID:    creds.AppID,
		password: creds.AppPassword,
		now:      time.Now,
	}
	return c, nil
}

type resourceResponse struct {
	ID string `json:"id"`
}

// SendActivity posts activity to its conversation on activity.ServiceURL.
func (c *ConnectorClient) SendActivity(ctx context.Context, activity *domain.Activity) (string, error) {
	if activity == nil {
		return "", errors.New("channel: activity must not be nil")
	}
	endpoint, err := activitiesURL(activity)
	if err != nil {
		return "", newError(ErrorDelivery, "bad_conversation_reference", err)
	}

	req := c.http.R().SetContext(ctx).SetBody(activity)
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return "", newError(ErrorDelivery, "token_error", err)
		}
		req.SetAuthToken(token)
	}

	var out resourceResponse
	resp, err := req.SetResult(&out).Post(endpoint)
	if err != nil {
		return "", newError(ErrorDelivery, "request_failed", err)
	}
	if resp.IsError() {
		return "", newError(ErrorDelivery, "unexpected_status",
			fmt.Errorf("status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String())))
	}
	return out.ID, nil
}

func activitiesURL(a *domain.Activity) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(a.ServiceURL), "/")
	if base == "" {
		return "", errors.New("service url is empty")
	}
	convID := a.ConversationID()
	if convID == "" {
		return "", errors.New("conversation id is empty")
	}
	u := base + "/v3/conversations/" + url.PathEscape(convID) + "/activities"
	if a.ReplyToID != "" {
		u += "/" + url.PathEscape(a.ReplyToID)
	}
	return u, nil
}

// tokenSource performs the OAuth2 client credentials grant and caches the
// access token until shortly before it expires.
type tokenSource struct {
	http     *resty.Client
	url      string
	appID    string
	password string
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Before(s.expires.Add(-tokenRefreshAhead)) {
		return s.token, nil
	}

	var out tokenResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     s.appID,
			"client_secret": s.password,
			"scope":         connectorScope,
		}).
		SetResult(&out).
		Post(s.url)
	if err != nil {
		return "", fmt.Errorf("channel: token request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("channel: token endpoint returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if out.AccessToken == "" {
		return "", errors.New("channel: token endpoint returned an empty access token")
	}

	s.token = out.AccessToken
	s.expires = s.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	return s.token, nil
}
