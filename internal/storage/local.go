package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LocalStore writes snapshots under a local directory, served by the
// HTTP server at /uploads. Meant for development and single-node
// deployments without S3.
type LocalStore struct {
	baseDir string
	log     zerolog.Logger
}

// NewLocalStore creates a filesystem-backed snapshot store rooted at baseDir.
func NewLocalStore(baseDir string, log zerolog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, SnapshotFolder), 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{
		baseDir: baseDir,
		log:     log.With().Str("component", "local_store").Logger(),
	}, nil
}

// Save writes the snapshot to disk and returns its /uploads URL path.
func (s *LocalStore) Save(_ context.Context, responseID uuid.UUID, data []byte, capturedAt time.Time) (string, error) {
	key := snapshotKey(responseID, capturedAt)
	full := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return "/uploads/" + key, nil
}
