// Package sessions stores per-session conversation histories and the
// locks that serialize requests for one session.
package sessions

import (
	"context"
	"errors"
	"strings"

	"github.com/haasonsaas/docqa/pkg/models"
)

// ErrInvalidSessionID is returned for empty session identifiers.
var ErrInvalidSessionID = errors.New("session: id is required")

// Store is the interface for session persistence. Sessions are created
// lazily and never deleted; histories are append-only.
type Store interface {
	// GetOrCreate returns the session, creating an empty one on first use.
	GetOrCreate(ctx context.Context, id string) (*models.Session, error)

	// History returns a copy of the session's turns in chronological order.
	// Unknown sessions have an empty history.
	History(ctx context.Context, id string) ([]models.Turn, error)

	// Append adds turns to the end of the session's history atomically,
	// creating the session if needed.
	Append(ctx context.Context, id string, turns ...models.Turn) error

	Close() error
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidSessionID
	}
	return nil
}
