// Package storage defines the persistence interface for profile documents.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/nakama/internal/config"
	"github.com/hyperjump/nakama/internal/models"
)

var (
	// ErrNotFound is returned when a profile ID does not exist.
	ErrNotFound = errors.New("profile not found")
	// ErrUnknownField is returned when an array-contains query names a field that is not queryable.
	ErrUnknownField = errors.New("field is not queryable")
)

// QueryableFields are the document fields ListProfilesContaining accepts.
var QueryableFields = []string{
	models.FieldHobby,
	models.FieldHobbyKeywords,
	models.FieldBirthplace,
	models.FieldBirthplaceKeywords,
}

// Storage defines profile persistence operations. Listing methods return profiles in
// insertion order.
type Storage interface {
	// CreateProfile stores p, assigning an ID and CreatedAt when unset.
	CreateProfile(ctx context.Context, p *models.Profile) error
	// ImportDocument stores a loosely typed document as given and returns its ID.
	// An empty id assigns a new one; an existing id is replaced.
	ImportDocument(ctx context.Context, id string, doc map[string]any) (string, error)
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	DeleteProfile(ctx context.Context, id string) error
	// DeleteProfilesBySource removes every profile ingested from source and returns how many.
	DeleteProfilesBySource(ctx context.Context, source string) (int64, error)
	// ReplaceProfilesBySource stores profiles under source and removes the profiles stored
	// there before, returning how many were removed. On error the previous profiles are
	// left in place.
	ReplaceProfilesBySource(ctx context.Context, source string, profiles []*models.Profile) (int64, error)

	ListProfiles(ctx context.Context) ([]*models.Profile, error)
	// ListProfilesContaining returns, in store order, profiles where any of fields holds any
	// of values, either as an element of an array or as the whole scalar value.
	ListProfilesContaining(ctx context.Context, fields, values []string) ([]*models.Profile, error)

	CountProfiles(ctx context.Context) (int64, error)

	Close() error
}

// Open returns the Storage selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStorage(cfg.DatabasePath)
	case "mongo", "mongodb":
		return NewMongoStorage(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.Collection)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// assignIdentity sets an ID and CreatedAt on p where they are unset.
func assignIdentity(p *models.Profile) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
}

func checkFields(fields []string) error {
	for _, f := range fields {
		if err := checkField(f); err != nil {
			return err
		}
	}
	return nil
}

func checkField(field string) error {
	for _, f := range QueryableFields {
		if f == field {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownField, field)
}
