package usecase

import (
	"product-bot/internal/domain"
	"product-bot/internal/prompty"
)

// loadTemplate is swapped in tests.
var loadTemplate = prompty.Load

// renderSystem renders the template and returns the messages that precede
// the conversation. The template decides which roles it emits.
func renderSystem(tpl *prompty.Template, docs []domain.Document, chatContext map[string]any) ([]domain.ChatMessage, error) {
	if docs == nil {
		docs = []domain.Document{}
	}
	return tpl.Render(map[string]any{
		"documents": docs,
		"context":   chatContext,
	})
}
