package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"product-bot/handler"
	"product-bot/internal/bot"
	"product-bot/internal/channel"
	"product-bot/internal/config"
	"product-bot/internal/integrations/openai"
	"product-bot/internal/integrations/paramstore"
	"product-bot/internal/integrations/search"
	"product-bot/internal/logging"
	"product-bot/internal/repository"
	"product-bot/internal/server"
	"product-bot/internal/telemetry"
	"product-bot/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run wires and starts the bot. Every failure is logged before it returns,
// and deferred cleanup (activity log, tracing) has finished by then.
func run(ctx context.Context) error {
	log := slog.Default()
	fail := func(msg string, cause error) error {
		log.Error(msg, "err", cause)
		return fmt.Errorf("%s: %w", msg, cause)
	}

	// ---- Configuration (read only here) ----
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		return fail("failed to load env file", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fail("failed to load config", err)
	}

	log, logCloser, err := logging.New(cfg.LogLevel, cfg.ActivityLogFile)
	if err != nil {
		return fail("failed to init logging", err)
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	if cfg.Project.ProjectName != "" {
		log.Info("ai project", "project", cfg.Project.ProjectName, "resource_group", cfg.Project.ResourceGroup)
	}
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, cfg.ServiceName, log,
		telemetry.ProjectAttributes(cfg.Project.Host, cfg.Project.SubscriptionID, cfg.Project.ResourceGroup, cfg.Project.ProjectName)...)
	if err != nil {
		return fail("failed to init tracing", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error("tracing shutdown failed", "err", err)
		}
	}()

	// ---- AWS backed infrastructure (optional) ----
	var (
		params     *paramstore.Client
		requestLog repository.RequestLog
	)
	if cfg.ParamPrefix != "" || cfg.RequestLogTable != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fail("failed to load AWS config", err)
		}
		if cfg.ParamPrefix != "" {
			params, err = paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				return fail("failed to create SSM client", err)
			}
			if err := cfg.ResolveSecrets(ctx, params); err != nil {
				return fail("failed to resolve secrets", err)
			}
		}
		if cfg.RequestLogTable != "" {
			requestLog, err = repository.NewDynamoLog(awsdynamodb.NewFromConfig(awsCfg), cfg.RequestLogTable)
			if err != nil {
				return fail("failed to create request log table client", err)
			}
		}
	}
	if requestLog == nil {
		requestLog, err = repository.NewFileLog(cfg.LogFile)
		if err != nil {
			return fail("failed to create request log", err)
		}
	}

	// ---- Clients ----
	chatOpts := []openai.Option{
		openai.WithHTTPClient(&http.Client{Timeout: cfg.ChatTimeout}),
		openai.WithAPIVersion(cfg.ChatAPIVersion),
	}
	if cfg.ChatAPIKey != "" {
		chatOpts = append(chatOpts, openai.WithAPIKey(cfg.ChatAPIKey))
	} else if params != nil {
		chatOpts = append(chatOpts, openai.WithTokenSource(params, cfg.ParamPrefix))
	}
	chatClient, err := openai.NewClient(cfg.ChatAPIType, cfg.ChatEndpoint, chatOpts...)
	if err != nil {
		return fail("failed to create chat client", err)
	}

	var retriever usecase.Retriever = search.Nop{}
	if cfg.SearchEndpoint != "" {
		retriever, err = search.NewClient(cfg.SearchEndpoint, cfg.SearchIndexName, cfg.SearchAPIKey, cfg.SearchTop)
		if err != nil {
			return fail("failed to create search client", err)
		}
	} else {
		log.Warn("SEARCH_ENDPOINT not set, answering without product documents")
	}

	chatService, err := usecase.NewChatService(retriever, chatClient, cfg.ChatModel, cfg.AssetPath)
	if err != nil {
		return fail("failed to create chat service", err)
	}

	// ---- Bot and channel ----
	productBot, err := bot.New(chatService, log)
	if err != nil {
		return fail("failed to create bot", err)
	}
	errorHandler, err := bot.NewErrorHandler(log, os.Stderr)
	if err != nil {
		return fail("failed to create error handler", err)
	}

	connector, err := channel.NewConnectorClient(channel.Credentials{
		AppID:       cfg.AppID,
		AppPassword: cfg.AppPassword,
		TenantID:    cfg.AppTenantID,
	})
	if err != nil {
		return fail("failed to create connector client", err)
	}

	adapterOpts := []channel.AdapterOption{channel.WithTurnErrorHandler(errorHandler)}
	if cfg.AuthEnabled() {
		jwksURLs := []string{cfg.JWKSURL}
		issuers := []string{cfg.TokenIssuer}
		if cfg.EmulatorJWKSURL != "" {
			jwksURLs = append(jwksURLs, cfg.EmulatorJWKSURL)
			tenant := ""
			if cfg.AppType == config.AppTypeSingleTenant {
				tenant = cfg.AppTenantID
			}
			issuers = append(issuers, channel.EmulatorIssuers(tenant)...)
		}
		validator, err := channel.NewJWKSValidator(ctx, jwksURLs, cfg.AppID, issuers, log)
		if err != nil {
			return fail("failed to create token validator", err)
		}
		adapterOpts = append(adapterOpts, channel.WithAuthenticator(validator))
	} else {
		log.Warn("MicrosoftAppId not set, channel authentication disabled")
	}
	adapter, err := channel.NewAdapter(connector, log, adapterOpts...)
	if err != nil {
		return fail("failed to create channel adapter", err)
	}

	srv, err := server.New(adapter, productBot, requestLog, log)
	if err != nil {
		return fail("failed to create server", err)
	}

	// ---- Run ----
	if cfg.Runtime == config.RuntimeLambda {
		h, err := handler.NewHandler(srv.Handler())
		if err != nil {
			return fail("failed to create lambda handler", err)
		}
		lambda.Start(h.Handle)
		return nil
	}
	if err := srv.Start(ctx, cfg.Port); err != nil {
		return fail("server failed", err)
	}
	return nil
}
