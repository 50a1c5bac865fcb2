// Package bot holds the conversation handler that answers product
// questions and greets new conversation members.
package bot

import (
	"context"
	"errors"
	"log/slog"

	"product-bot/internal/channel"
	"product-bot/internal/domain"
)

const welcomeText = "Hello and welcome!"

type Composer interface {
	Chat(ctx context.Context, messages []domain.ChatMessage, chatContext map[string]any) (string, error)
}

type ProductBot struct {
	composer Composer
	log      *slog.Logger
}

func New(composer Composer, log *slog.Logger) (*ProductBot, error) {
	if composer == nil {
		return nil, errors.New("bot: composer must not be nil")
	}
	if log == nil {
		return nil, errors.New("bot: logger must not be nil")
	}
	return &ProductBot{composer: composer, log: log}, nil
}

// OnTurn routes the activity by type. Unhandled types are ignored.
func (b *ProductBot) OnTurn(ctx context.Context, turn *channel.TurnContext) error {
	switch turn.Activity.Type {
	case domain.ActivityTypeMessage:
		return b.onMessage(ctx, turn)
	case domain.ActivityTypeConversationUpdate:
		return b.onMembersAdded(ctx, turn)
	default:
		b.log.Debug("ignoring activity", "type", turn.Activity.Type)
		return nil
	}
}

func (b *ProductBot) onMessage(ctx context.Context, turn *channel.TurnContext) error {
	b.log.Info("received message activity", "text", turn.Activity.Text)
	messages := []domain.ChatMessage{{Role: domain.RoleUser, Content: turn.Activity.Text}}

	answer, err := b.composer.Chat(ctx, messages, map[string]any{})
	if err != nil {
		return err
	}
	b.log.Info("composer response", "content", answer)

	_, err = turn.SendText(ctx, answer)
	return err
}

func (b *ProductBot) onMembersAdded(ctx context.Context, turn *channel.TurnContext) error {
	botID := turn.Activity.RecipientID()
	for _, member := range turn.Activity.MembersAdded {
		if member.ID == botID {
			continue
		}
		b.log.Info("member added", "member_id", member.ID)
		if _, err := turn.SendText(ctx, welcomeText); err != nil {
			return err
		}
	}
	return nil
}
