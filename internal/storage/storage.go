package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SnapshotFolder is the object key prefix for webcam snapshots.
const SnapshotFolder = "snapshots"

// SnapshotStore persists webcam snapshot images and returns a URL the
// admin dashboard can load directly.
type SnapshotStore interface {
	Save(ctx context.Context, responseID uuid.UUID, data []byte, capturedAt time.Time) (string, error)
}

// snapshotKey builds the object key: snapshots/{response_id}/{unix_ms}.jpg.
func snapshotKey(responseID uuid.UUID, capturedAt time.Time) string {
	return SnapshotFolder + "/" + responseID.String() + "/" + capturedAt.UTC().Format("20060102T150405.000") + ".jpg"
}
