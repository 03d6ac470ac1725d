// Package storage defines the persistence interface for indexed pages.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/kioku/internal/models"
)

var (
	// ErrStorageUnavailable wraps every failure of the underlying database.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrNotFound is returned by lookups that match no page.
	ErrNotFound = errors.New("page not found")
)

// Storage persists page records keyed by URL.
type Storage interface {
	// Upsert inserts rec, or updates the page with the same URL. On update the
	// stored embedding is kept when rec carries none, and the timestamp is set
	// to now. rec.ID and rec.Timestamp are set to the stored values.
	Upsert(ctx context.Context, rec *models.PageRecord) (int64, error)
	FindByURL(ctx context.Context, url string) (*models.PageRecord, error)
	Get(ctx context.Context, id int64) (*models.PageRecord, error)
	Delete(ctx context.Context, id int64) error

	// Recent returns up to limit pages, newest first.
	Recent(ctx context.Context, limit int) ([]*models.PageRecord, error)
	// SearchByPredicate scans every page and returns those for which match is true.
	SearchByPredicate(ctx context.Context, match func(*models.PageRecord) bool) ([]*models.PageRecord, error)
	All(ctx context.Context) ([]*models.PageRecord, error)

	// Stats
	Count(ctx context.Context) (int64, error)
	CountEmbedded(ctx context.Context) (int64, error)

	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, ErrStorageUnavailable, err)
}
