package repository

import (
	"context"
	"encoding/json"
)

// RequestLog is the append-only store of inbound request bodies read back by
// the health endpoint. Entries come back in per-process arrival order.
type RequestLog interface {
	Append(ctx context.Context, entry json.RawMessage) error
	Entries(ctx context.Context) ([]json.RawMessage, error)
}
