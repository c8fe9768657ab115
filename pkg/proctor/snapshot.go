package proctor

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/rs/zerolog"
)

const (
	snapshotInterval     = 45 * time.Second
	snapshotInitialDelay = 5 * time.Second
)

// SnapshotConfig wires a snapshot loop.
type SnapshotConfig struct {
	API     *API
	Session *Session
	Camera  Camera
	// Monitor receives camera outages noticed at capture time, so the
	// violation still fires between poll ticks.
	Monitor *Monitor
	Logger  zerolog.Logger

	// Interval and InitialDelay override the defaults; zero keeps them.
	Interval     time.Duration
	InitialDelay time.Duration
}

// SnapshotLoop periodically captures a webcam still and uploads it.
// Uploads are best effort: a failed capture or upload is logged and the
// loop moves on to the next tick.
type SnapshotLoop struct {
	api      *API
	session  *Session
	cam      Camera
	monitor  *Monitor
	log      zerolog.Logger
	interval time.Duration
	delay    time.Duration
	cancel   context.CancelFunc
}

// NewSnapshotLoop creates a snapshot loop. Start must be called.
func NewSnapshotLoop(cfg SnapshotConfig) *SnapshotLoop {
	interval := cfg.Interval
	if interval <= 0 {
		interval = snapshotInterval
	}
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = snapshotInitialDelay
	}
	return &SnapshotLoop{
		api:      cfg.API,
		session:  cfg.Session,
		cam:      cfg.Camera,
		monitor:  cfg.Monitor,
		log:      cfg.Logger.With().Str("component", "snapshot").Logger(),
		interval: interval,
		delay:    delay,
	}
}

// Start launches the capture loop.
func (l *SnapshotLoop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
}

// Stop halts the loop.
func (l *SnapshotLoop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *SnapshotLoop) run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(l.delay):
	}
	l.tick(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *SnapshotLoop) tick(ctx context.Context) {
	// Health is re-checked on every tick: a track that died since the
	// last capture is a violation, not just a skipped upload.
	if !l.cam.Healthy() {
		if l.monitor != nil {
			l.monitor.ReportCameraDown()
		}
		return
	}

	captureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	frame, err := l.cam.Capture(captureCtx)
	if err != nil {
		l.log.Warn().Err(err).Msg("Snapshot capture failed")
		if l.monitor != nil {
			l.monitor.ReportCameraDown()
		}
		return
	}

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame)
	if _, err := l.api.UploadSnapshot(captureCtx, l.session.Token, l.session.TestResponseID, dataURL); err != nil {
		l.log.Warn().Err(err).Msg("Snapshot upload failed")
	}
}
