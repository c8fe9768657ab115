package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/provexa/proctor-backend/internal/config"
	"github.com/provexa/proctor-backend/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Snapshot intake errors.
var (
	ErrSnapshotInvalid  = errors.New("snapshot image data could not be decoded")
	ErrSnapshotTooLarge = errors.New("snapshot image exceeds size limit")
)

// SnapshotService decodes uploaded webcam stills, hands them to the
// configured store, and queues metadata for persistence. A failed
// snapshot never blocks the attempt.
type SnapshotService struct {
	cfg   *config.Config
	rdb   *redis.Client
	store storage.SnapshotStore
	log   zerolog.Logger
}

// NewSnapshotService creates a new SnapshotService.
func NewSnapshotService(cfg *config.Config, rdb *redis.Client, store storage.SnapshotStore, log zerolog.Logger) *SnapshotService {
	return &SnapshotService{
		cfg:   cfg,
		rdb:   rdb,
		store: store,
		log:   log.With().Str("component", "snapshot_service").Logger(),
	}
}

// Ingest decodes a base64 data URL, stores the image, queues the metadata
// row, and returns the stored image URL.
func (s *SnapshotService) Ingest(ctx context.Context, responseID uuid.UUID, imageData string) (string, error) {
	raw, err := decodeDataURL(imageData)
	if err != nil {
		return "", ErrSnapshotInvalid
	}
	if len(raw) > s.cfg.MaxSnapshotKB*1024 {
		return "", ErrSnapshotTooLarge
	}

	capturedAt := time.Now()
	url, err := s.store.Save(ctx, responseID, raw, capturedAt)
	if err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"test_response_id": responseID.String(),
		"image_url":        url,
		"captured_at":      capturedAt.Unix(),
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistSnapshotsQueue, payload).Err(); err != nil {
		s.log.Error().Err(err).Msg("Failed to queue snapshot metadata")
	}

	return url, nil
}

// decodeDataURL strips an optional data:image/...;base64, prefix and
// decodes the remainder.
func decodeDataURL(data string) ([]byte, error) {
	if idx := strings.Index(data, ","); idx >= 0 && strings.HasPrefix(data, "data:") {
		data = data[idx+1:]
	}
	return base64.StdEncoding.DecodeString(data)
}
