package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"product-bot/internal/channel"
	"product-bot/internal/domain"
)

const (
	errorText       = "The bot encountered an error or bug."
	errorFollowUp   = "Please check the bot's source code for issues."
	traceLabel      = "TurnError"
	traceName       = "on_turn_error Trace"
	traceValueType  = "https://www.botframework.com/schemas/error"
	emulatorChannel = domain.ChannelEmulator
)

// ErrorHandler reports turn failures to the operator and apologises to the
// user. Delivery failures are logged and dropped.
type ErrorHandler struct {
	log    *slog.Logger
	stderr io.Writer
	now    func() time.Time
}

func NewErrorHandler(log *slog.Logger, stderr io.Writer) (*ErrorHandler, error) {
	if log == nil {
		return nil, errors.New("bot: logger must not be nil")
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &ErrorHandler{log: log, stderr: stderr, now: time.Now}, nil
}

func (h *ErrorHandler) OnTurnError(ctx context.Context, turn *channel.TurnContext, err error) {
	h.log.Error("unhandled turn error",
		"error", err,
		"channel_id", turn.Activity.ChannelID,
		"conversation_id", turn.Activity.ConversationID(),
	)
	fmt.Fprintf(h.stderr, "\n[on_turn_error] unhandled error: %v\n", err)
	for _, cause := range causes(err) {
		fmt.Fprintf(h.stderr, "  caused by (%T): %v\n", cause, cause)
	}
	// The failing call has already returned; this is where it was reported.
	fmt.Fprintf(h.stderr, "error handler stack:\n%s", debug.Stack())

	for _, text := range []string{errorText, errorFollowUp} {
		if _, sendErr := turn.SendText(ctx, text); sendErr != nil {
			h.log.Error("send error reply failed", "error", sendErr)
		}
	}

	if turn.Activity.ChannelID != emulatorChannel {
		return
	}
	ts := h.now().UTC()
	trace := &domain.Activity{
		Type:      domain.ActivityTypeTrace,
		Label:     traceLabel,
		Name:      traceName,
		Timestamp: &ts,
		Value:     err.Error(),
		ValueType: traceValueType,
	}
	if _, sendErr := turn.SendActivity(ctx, trace); sendErr != nil {
		h.log.Error("send error trace failed", "error", sendErr)
	}
}

// causes lists the errors wrapped by err, depth first.
func causes(err error) []error {
	var out []error
	var walk func(error)
	walk = func(e error) {
		switch u := e.(type) {
		case interface{ Unwrap() error }:
			if next := u.Unwrap(); next != nil {
				out = append(out, next)
				walk(next)
			}
		case interface{ Unwrap() []error }:
			for _, next := range u.Unwrap() {
				out = append(out, next)
				walk(next)
			}
		}
	}
	walk(err)
	return out
}
