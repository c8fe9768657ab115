package model

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is the stored metadata for one webcam still captured during an
// attempt. The image itself lives in object storage (or the local uploads
// dir in dev).
type Snapshot struct {
	ID             uuid.UUID `json:"id"`
	TestResponseID uuid.UUID `json:"test_response_id"`
	ImageURL       string    `json:"image_url"`
	CapturedAt     time.Time `json:"captured_at"`
}

// UploadSnapshotRequest is the payload for uploading a webcam snapshot.
// ImageData is a base64 data URL (data:image/jpeg;base64,...).
type UploadSnapshotRequest struct {
	TestResponseID uuid.UUID `json:"test_response_id" binding:"required"`
	ImageData      string    `json:"image_data" binding:"required"`
}
