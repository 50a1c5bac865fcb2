package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"product-bot/internal/domain"
	"product-bot/internal/metrics"
)

// Bot handles one turn.
type Bot interface {
	OnTurn(ctx context.Context, turn *TurnContext) error
}

// TurnErrorHandler receives errors the bot returned from OnTurn.
type TurnErrorHandler interface {
	OnTurnError(ctx context.Context, turn *TurnContext, err error)
}

type Authenticator interface {
	Authenticate(authHeader, serviceURL string) error
}

// InvokeResponse is the transport response for a processed activity.
type InvokeResponse struct {
	Status int
	Body   any
}

type Adapter struct {
	sender  Sender
	auth    Authenticator
	onError TurnErrorHandler
	log     *slog.Logger
}

type AdapterOption func(*Adapter)

// WithAuthenticator enables inbound token validation.
func WithAuthenticator(auth Authenticator) AdapterOption {
	return func(a *Adapter) { a.auth = auth }
}

func WithTurnErrorHandler(h TurnErrorHandler) AdapterOption {
	return func(a *Adapter) { a.onError = h }
}

func NewAdapter(sender Sender, log *slog.Logger, opts ...AdapterOption) (*Adapter, error) {
	if sender == nil {
		return nil, errors.New("channel: sender must not be nil")
	}
	if log == nil {
		return nil, errors.New("channel: logger must not be nil")
	}
	a := &Adapter{sender: sender, log: log}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Process authenticates and decodes body, then runs bot for it. A handler
// error goes to the turn error handler when one is registered and is
// returned otherwise.
func (a *Adapter) Process(ctx context.Context, authHeader string, body []byte, bot Bot) (InvokeResponse, error) {
	if bot == nil {
		return InvokeResponse{}, errors.New("channel: bot must not be nil")
	}

	var activity domain.Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		return InvokeResponse{}, newError(ErrorBadActivity, "decode_failed", err)
	}

	if a.auth != nil {
		if err := a.auth.Authenticate(authHeader, activity.ServiceURL); err != nil {
			a.log.Warn("activity rejected", "reason", reason(err), "channel_id", activity.ChannelID)
			return InvokeResponse{Status: http.StatusUnauthorized}, nil
		}
	}

	turn, err := NewTurnContext(&activity, a.sender)
	if err != nil {
		return InvokeResponse{}, err
	}

	metrics.TurnsTotal.WithLabelValues(activity.Type).Inc()
	a.log.Info("turn started",
		"type", activity.Type,
		"channel_id", activity.ChannelID,
		"conversation_id", activity.ConversationID(),
	)

	if err := bot.OnTurn(ctx, turn); err != nil {
		metrics.TurnErrorsTotal.Inc()
		if a.onError == nil {
			return InvokeResponse{}, err
		}
		a.onError.OnTurnError(ctx, turn, err)
	}
	return InvokeResponse{Status: http.StatusOK}, nil
}

func reason(err error) string {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.Reason
	}
	return err.Error()
}
