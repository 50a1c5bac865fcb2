package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"product-bot/internal/domain"
	"product-bot/internal/metrics"
)

const templateFile = "grounded_chat.prompty"

type Retriever interface {
	Documents(ctx context.Context, messages []domain.ChatMessage, chatContext map[string]any) ([]domain.Document, error)
}

type ChatClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage, params map[string]any) (string, error)
}

// ChatService composes grounded chat requests: it retrieves product
// documents, renders the prompt template around them and asks the model.
type ChatService struct {
	retriever Retriever
	chat      ChatClient
	model     string
	assetPath string
	tracer    trace.Tracer
}

func NewChatService(r Retriever, chat ChatClient, model, assetPath string) (*ChatService, error) {
	if r == nil {
		return nil, errors.New("usecase: retriever must not be nil")
	}
	if chat == nil {
		return nil, errors.New("usecase: chat client must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if strings.TrimSpace(assetPath) == "" {
		assetPath = "."
	}
	return &ChatService{
		retriever: r,
		chat:      chat,
		model:     model,
		assetPath: assetPath,
		tracer:    otel.Tracer("product-bot/usecase"),
	}, nil
}

// Chat answers the conversation in messages. Errors from retrieval, template
// rendering and the model call are returned unchanged.
func (s *ChatService) Chat(ctx context.Context, messages []domain.ChatMessage, chatContext map[string]any) (answer string, err error) {
	ctx, span := s.tracer.Start(ctx, "chat_with_products")
	start := time.Now()
	defer func() {
		metrics.ChatDuration.WithLabelValues(metrics.Result(err)).Observe(time.Since(start).Seconds())
		endSpan(span, err)
	}()
	if chatContext == nil {
		chatContext = map[string]any{}
	}

	docs, err := s.documents(ctx, messages, chatContext)
	if err != nil {
		return "", err
	}

	tpl, err := loadTemplate(filepath.Join(s.assetPath, templateFile))
	if err != nil {
		return "", err
	}
	system, err := renderSystem(tpl, docs, chatContext)
	if err != nil {
		return "", err
	}

	all := make([]domain.ChatMessage, 0, len(system)+len(messages))
	all = append(all, system...)
	all = append(all, messages...)
	span.SetAttributes(
		attribute.String("chat.model", s.model),
		attribute.Int("chat.messages", len(all)),
	)

	return s.chat.Chat(ctx, s.model, all, tpl.Parameters())
}

func (s *ChatService) documents(ctx context.Context, messages []domain.ChatMessage, chatContext map[string]any) (docs []domain.Document, err error) {
	ctx, span := s.tracer.Start(ctx, "get_product_documents")
	defer func() { endSpan(span, err) }()

	docs, err = s.retriever.Documents(ctx, messages, chatContext)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("documents.count", len(docs)))
	return docs, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
