package proctor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

const cameraPollInterval = 5 * time.Second

// Emitter is the subset of Realtime the monitor needs.
type Emitter interface {
	Emit(event string, data interface{}) error
}

// VisibilitySource reports exam-surface visibility transitions. Each
// received value is the new visibility; false becomes a TAB_SWITCH
// violation. Hosts without a visibility signal leave it nil and call
// Report directly.
type VisibilitySource interface {
	Changes() <-chan bool
}

// MonitorConfig wires a violation monitor.
type MonitorConfig struct {
	API        *API
	Session    *Session
	Emitter    Emitter
	Camera     Camera
	Visibility VisibilitySource
	Logger     zerolog.Logger

	// OnAutoSubmit fires when the server's threshold decision ends the
	// attempt.
	OnAutoSubmit func()
	// OnWarning receives the server's soft outcome for display.
	OnWarning func(ViolationWarning)
}

// Monitor is the single reporting path for violations. It owns camera
// health: every camera-driven CAMERA_OFF, whether noticed by the poll
// loop or by the snapshot loop, funnels through here so one outage
// produces one violation.
type Monitor struct {
	api        *API
	session    *Session
	emitter    Emitter
	cam        Camera
	visibility VisibilitySource
	log        zerolog.Logger

	onAutoSubmit func()
	onWarning    func(ViolationWarning)

	// cameraDown tracks the current outage; reports are suppressed
	// until the camera recovers.
	cameraDown bool
	reporting  chan reportRequest
	cancel     context.CancelFunc
}

type reportRequest struct {
	violationType string
	metadata      json.RawMessage
}

// NewMonitor creates a monitor. Start must be called to begin polling.
func NewMonitor(cfg MonitorConfig) *Monitor {
	return &Monitor{
		api:          cfg.API,
		session:      cfg.Session,
		emitter:      cfg.Emitter,
		cam:          cfg.Camera,
		visibility:   cfg.Visibility,
		log:          cfg.Logger.With().Str("component", "monitor").Logger(),
		onAutoSubmit: cfg.OnAutoSubmit,
		onWarning:    cfg.OnWarning,
		reporting:    make(chan reportRequest, 16),
	}
}

// Start launches the camera poll loop and the report worker. Reports
// are serialized through one goroutine so outcome handling never races.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.reportLoop(ctx)
	if m.cam != nil {
		go m.pollLoop(ctx)
	}
	if m.visibility != nil {
		go m.watchVisibility(ctx)
	}
}

// Stop halts polling and reporting.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Report queues a violation for delivery. Safe from any goroutine.
func (m *Monitor) Report(violationType string, metadata json.RawMessage) {
	select {
	case m.reporting <- reportRequest{violationType: violationType, metadata: metadata}:
	default:
		m.log.Warn().Str("type", violationType).Msg("Violation report dropped, queue full")
	}
}

// ReportCameraDown records a CAMERA_OFF violation once per outage.
// Subsequent calls are no-ops until CameraRecovered.
func (m *Monitor) ReportCameraDown() {
	select {
	case m.reporting <- reportRequest{violationType: ViolationCameraOff}:
	default:
	}
}

func (m *Monitor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(cameraPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.cam.Healthy() {
				m.cameraRecovered()
			} else {
				m.ReportCameraDown()
			}
		}
	}
}

// watchVisibility turns hidden transitions into TAB_SWITCH reports.
// Every hide is a distinct violation; returning to the exam surface
// does not undo it.
func (m *Monitor) watchVisibility(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case visible, ok := <-m.visibility.Changes():
			if !ok {
				return
			}
			if !visible {
				m.Report(ViolationTabSwitch, nil)
			}
		}
	}
}

func (m *Monitor) cameraRecovered() {
	select {
	case m.reporting <- reportRequest{violationType: ""}:
	default:
	}
}

func (m *Monitor) reportLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-m.reporting:
			switch {
			case req.violationType == "":
				if m.cameraDown {
					m.cameraDown = false
					m.log.Info().Msg("Camera recovered")
				}
			case req.violationType == ViolationCameraOff:
				if m.cameraDown {
					continue
				}
				m.cameraDown = true
				m.deliver(ctx, req)
			default:
				m.deliver(ctx, req)
			}
		}
	}
}

// deliver records the violation over HTTP (the authoritative path) and
// mirrors it on the realtime channel for the live admin view.
func (m *Monitor) deliver(ctx context.Context, req reportRequest) {
	if m.emitter != nil {
		err := m.emitter.Emit(EventViolationDetected, ViolationDetectedEvent{
			TestResponseID: m.session.TestResponseID,
			ViolationType:  req.violationType,
			StudentName:    m.session.StudentName,
			Metadata:       req.metadata,
		})
		if err != nil {
			m.log.Debug().Err(err).Msg("Realtime violation notice not delivered")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	outcome, err := m.api.LogViolation(callCtx, m.session.Token, m.session.TestResponseID, req.violationType, req.metadata)
	if err != nil {
		if IsCode(err, CodeResponseFinalized) {
			// The attempt already ended server-side; treat it like a
			// threshold breach so local teardown runs.
			if m.onAutoSubmit != nil {
				m.onAutoSubmit()
			}
			return
		}
		m.log.Warn().Err(err).Str("type", req.violationType).Msg("Violation report failed")
		return
	}

	if outcome.AutoSubmitted {
		m.log.Warn().Str("type", req.violationType).Msg("Violation limit reached, attempt auto-submitted")
		if m.onAutoSubmit != nil {
			m.onAutoSubmit()
		}
		return
	}
	if outcome.Warning != nil && m.onWarning != nil {
		m.onWarning(*outcome.Warning)
	}
}
