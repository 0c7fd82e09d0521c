package providers

import (
	"context"
	"time"

	"paper-scout/models"
)

// Provider is implemented by every upstream preprint source.
type Provider interface {
	// Fetch returns all papers published since the cutoff, newest first,
	// mapped to the shared catalog model.
	Fetch(ctx context.Context, since time.Time) ([]*models.Paper, error)

	// Name returns the unique name of the provider (e.g. "arxiv").
	Name() string
}
