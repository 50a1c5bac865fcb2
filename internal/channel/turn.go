package channel

import (
	"context"
	"errors"
	"strings"

	"product-bot/internal/domain"
)

// Sender delivers an outbound activity to the channel and returns the
// resource id the channel assigned to it.
type Sender interface {
	SendActivity(ctx context.Context, activity *domain.Activity) (string, error)
}

// TurnContext carries one inbound activity and replies to it.
type TurnContext struct {
	Activity *domain.Activity

	sender    Sender
	responded bool
}

func NewTurnContext(activity *domain.Activity, sender Sender) (*TurnContext, error) {
	if activity == nil {
		return nil, errors.New("channel: activity must not be nil")
	}
	if sender == nil {
		return nil, errors.New("channel: sender must not be nil")
	}
	return &TurnContext{Activity: activity, sender: sender}, nil
}

// SendText replies with a plain message activity.
func (t *TurnContext) SendText(ctx context.Context, text string) (string, error) {
	return t.SendActivity(ctx, &domain.Activity{Type: domain.ActivityTypeMessage, Text: text})
}

// SendActivity addresses reply to the sender of the inbound activity and
// delivers it.
func (t *TurnContext) SendActivity(ctx context.Context, reply *domain.Activity) (string, error) {
	if reply == nil {
		return "", errors.New("channel: reply must not be nil")
	}
	out := *reply
	t.applyConversationReference(&out)

	id, err := t.sender.SendActivity(ctx, &out)
	if err != nil {
		return "", err
	}
	t.responded = true
	return id, nil
}

// Responded reports whether any reply was delivered during the turn.
func (t *TurnContext) Responded() bool {
	return t.responded
}

func (t *TurnContext) applyConversationReference(out *domain.Activity) {
	in := t.Activity
	if strings.TrimSpace(out.Type) == "" {
		out.Type = domain.ActivityTypeMessage
	}
	if out.From == nil {
		out.From = in.Recipient
	}
	if out.Recipient == nil {
		out.Recipient = in.From
	}
	if out.Conversation == nil {
		out.Conversation = in.Conversation
	}
	if out.ChannelID == "" {
		out.ChannelID = in.ChannelID
	}
	if out.ServiceURL == "" {
		out.ServiceURL = in.ServiceURL
	}
	if out.ReplyToID == "" {
		out.ReplyToID = in.ID
	}
	if out.Locale == "" {
		out.Locale = in.Locale
	}
}
