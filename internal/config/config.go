package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	AppTypeMultiTenant  = "MultiTenant"
	AppTypeSingleTenant = "SingleTenant"

	ChatAPIAzure  = "azure"
	ChatAPIOpenAI = "openai"

	RuntimeHTTP   = "http"
	RuntimeLambda = "lambda"
)

// Config holds every process-wide setting. It is built once in main and
// passed to the components that need it.
type Config struct {
	Port            int    `env:"PORT" envDefault:"8000"`
	LogFile         string `env:"LOG_FILE" envDefault:"seccess_log.jsonl"`
	ActivityLogFile string `env:"ACTIVITY_LOG_FILE" envDefault:"app_activity.log"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	Runtime         string `env:"RUNTIME" envDefault:"http"`

	// AI project / chat model
	ProjectConnectionString string        `env:"AIPROJECT_CONNECTION_STRING"`
	ChatModel               string        `env:"CHAT_MODEL,notEmpty"`
	ChatEndpoint            string        `env:"CHAT_ENDPOINT"`
	ChatAPIKey              string        `env:"CHAT_API_KEY"`
	ChatAPIType             string        `env:"CHAT_API_TYPE" envDefault:"azure"`
	ChatAPIVersion          string        `env:"CHAT_API_VERSION" envDefault:"2024-06-01"`
	ChatTimeout             time.Duration `env:"CHAT_TIMEOUT" envDefault:"60s"`
	AssetPath               string        `env:"ASSET_PATH" envDefault:"assets"`

	// Bot framework app registration
	AppID       string `env:"MicrosoftAppId"`
	AppPassword string `env:"MicrosoftAppPassword"`
	AppType     string `env:"MicrosoftAppType" envDefault:"MultiTenant"`
	AppTenantID string `env:"MicrosoftAppTenantId"`
	JWKSURL     string `env:"BOT_JWKS_URL" envDefault:"https://login.botframework.com/v1/.well-known/keys"`
	TokenIssuer string `env:"BOT_TOKEN_ISSUER" envDefault:"https://api.botframework.com"`
	// Empty disables Bot Framework Emulator tokens while auth is on.
	EmulatorJWKSURL string `env:"BOT_EMULATOR_JWKS_URL" envDefault:"https://login.microsoftonline.com/botframework.com/discovery/v2.0/keys"`

	// Document retrieval
	SearchEndpoint  string `env:"SEARCH_ENDPOINT"`
	SearchIndexName string `env:"SEARCH_INDEX_NAME" envDefault:"products"`
	SearchAPIKey    string `env:"SEARCH_API_KEY"`
	SearchTop       int    `env:"SEARCH_TOP" envDefault:"5"`

	// AWS backed infrastructure
	RequestLogTable string `env:"REQUEST_LOG_TABLE"`
	ParamPrefix     string `env:"PARAM_PREFIX"`

	// Observability
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"product-bot"`

	Project ProjectConnection `env:"-"`
}

// ProjectConnection is the parsed form of AIPROJECT_CONNECTION_STRING. It
// identifies the AI project the bot reports telemetry under.
type ProjectConnection struct {
	Host           string
	SubscriptionID string
	ResourceGroup  string
	ProjectName    string
}

// ParseProjectConnection splits "<host>;<subscription>;<resource-group>;<project>".
func ParseProjectConnection(raw string) (ProjectConnection, error) {
	parts := strings.Split(strings.TrimSpace(raw), ";")
	if len(parts) != 4 {
		return ProjectConnection{}, fmt.Errorf("config: AIPROJECT_CONNECTION_STRING must have 4 ';'-separated parts, got %d", len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return ProjectConnection{}, fmt.Errorf("config: AIPROJECT_CONNECTION_STRING part %d is empty", i+1)
		}
	}
	return ProjectConnection{
		Host:           parts[0],
		SubscriptionID: parts[1],
		ResourceGroup:  parts[2],
		ProjectName:    parts[3],
	}, nil
}

// LoadDotEnv loads variables from the given .env files. Missing files are
// skipped; variables already present in the environment win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	return nil
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.ChatAPIType = strings.ToLower(strings.TrimSpace(c.ChatAPIType))
	switch c.ChatAPIType {
	case ChatAPIAzure, ChatAPIOpenAI:
	default:
		return fmt.Errorf("config: CHAT_API_TYPE must be %q or %q, got %q", ChatAPIAzure, ChatAPIOpenAI, c.ChatAPIType)
	}

	c.Runtime = strings.ToLower(strings.TrimSpace(c.Runtime))
	switch c.Runtime {
	case RuntimeHTTP, RuntimeLambda:
	default:
		return fmt.Errorf("config: RUNTIME must be %q or %q, got %q", RuntimeHTTP, RuntimeLambda, c.Runtime)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT out of range: %d", c.Port)
	}
	if strings.TrimSpace(c.LogFile) == "" {
		return errors.New("config: LOG_FILE must not be empty")
	}
	if c.SearchTop <= 0 {
		c.SearchTop = 5
	}

	if strings.TrimSpace(c.ProjectConnectionString) != "" {
		project, err := ParseProjectConnection(c.ProjectConnectionString)
		if err != nil {
			return err
		}
		c.Project = project
	}
	// Never derived from the project host.
	c.ChatEndpoint = strings.TrimRight(strings.TrimSpace(c.ChatEndpoint), "/")
	if c.ChatEndpoint == "" && c.ChatAPIType == ChatAPIAzure {
		return errors.New("config: CHAT_ENDPOINT is required when CHAT_API_TYPE is azure")
	}

	if c.AppType == "" {
		c.AppType = AppTypeMultiTenant
	}
	if c.AppType == AppTypeSingleTenant && c.AppID != "" && c.AppTenantID == "" {
		return errors.New("config: MicrosoftAppTenantId is required for SingleTenant apps")
	}
	c.ParamPrefix = strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
	return nil
}

// AuthEnabled reports whether inbound channel requests must carry a valid
// bearer token. Without an app id the bot runs in local emulator mode.
func (c *Config) AuthEnabled() bool {
	return strings.TrimSpace(c.AppID) != ""
}

// Getter is the parameter store lookup used to fill in secrets.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ResolveSecrets fills empty secrets from the parameter store under
// ParamPrefix. It is a no-op when no prefix is configured.
func (c *Config) ResolveSecrets(ctx context.Context, params Getter) error {
	if c.ParamPrefix == "" {
		return nil
	}
	if params == nil {
		return errors.New("config: param getter must not be nil")
	}
	secrets := []struct {
		name   string
		target *string
		skip   bool
	}{
		{name: "/app-password", target: &c.AppPassword, skip: !c.AuthEnabled()},
		{name: "/search-api-key", target: &c.SearchAPIKey, skip: c.SearchEndpoint == ""},
	}
	for _, s := range secrets {
		if s.skip || *s.target != "" {
			continue
		}
		v, err := params.GetParameter(ctx, c.ParamPrefix+s.name)
		if err != nil {
			return fmt.Errorf("config: resolve %s: %w", s.name, err)
		}
		*s.target = strings.TrimSpace(v)
	}
	return nil
}
