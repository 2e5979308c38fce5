package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	caterrs "github.com/livepeer/catalyst-audio/errors"
	_ "github.com/lib/pq"
)

// Track is the catalog's view of a playable track
type Track struct {
	ID       string
	FilePath string
	// Codec as recorded at import time, may be empty
	Codec string
}

type Catalog interface {
	GetTrack(ctx context.Context, trackID string) (Track, error)
	// DefaultQuality returns the user's preferred streaming quality, or "" if they have none
	DefaultQuality(ctx context.Context, userID string) (string, error)
}

type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// Open connects to the catalog database
func Open(connectionString string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("error creating postgres catalog connection: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func (c *PostgresCatalog) GetTrack(ctx context.Context, trackID string) (Track, error) {
	var t Track
	var codec sql.NullString
	err := c.db.QueryRowContext(ctx, "SELECT id, file_path, codec FROM tracks WHERE id = $1", trackID).
		Scan(&t.ID, &t.FilePath, &codec)
	if errors.Is(err, sql.ErrNoRows) {
		return Track{}, caterrs.NewTrackNotFoundError(trackID, nil)
	}
	if err != nil {
		return Track{}, fmt.Errorf("failed to load track %s: %w", trackID, err)
	}
	t.Codec = codec.String
	return t, nil
}

func (c *PostgresCatalog) DefaultQuality(ctx context.Context, userID string) (string, error) {
	var quality sql.NullString
	err := c.db.QueryRowContext(ctx, "SELECT streaming_quality FROM user_preferences WHERE user_id = $1", userID).
		Scan(&quality)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load preferences for user %s: %w", userID, err)
	}
	return quality.String, nil
}
