package memory

import (
	"context"
	"strings"
)

// NewArchive returns a Postgres archive when databaseURL is set, otherwise an
// in-process one.
func NewArchive(ctx context.Context, databaseURL string) (Archive, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryArchive(0), nil
	}
	return NewPostgresArchive(ctx, databaseURL)
}
