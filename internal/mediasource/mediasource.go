package mediasource

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"camproducer/internal/camera"
	"camproducer/internal/logger"
	"camproducer/internal/metrics"
	"camproducer/internal/producer"
	"camproducer/pkg/models"
)

var (
	ErrSourceRunning = errors.New("media source is running")
	ErrNotConfigured = errors.New("media source is not configured")
	ErrNoSink        = errors.New("media source has no sink")
)

// MediaSource produces frames for one producer stream
type MediaSource interface {
	StreamInfo() (*models.StreamInfo, error)
	Sink() producer.MediaSourceSink
	State() State
	Configuration() Configuration
	Initialize(sink producer.MediaSourceSink) error
	Configure(cfg Configuration) error
	Start() error
	Stop() error
	IsStopped() bool
	Free() error
	Done() <-chan struct{}
	Err() error
	CurrentRun() Run
}

// Run is one capture run, from Start until its loop exits
type Run interface {
	Done() <-chan struct{}
	Err() error
}

// Option configures a CameraMediaSource
type Option func(*CameraMediaSource)

// WithMetrics records capture metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(ms *CameraMediaSource) {
		ms.metrics = m
	}
}

// WithClock replaces the wall clock used for frame timestamps
func WithClock(now func() time.Time) Option {
	return func(ms *CameraMediaSource) {
		ms.now = now
	}
}

// CameraMediaSource turns raw pictures from a camera device into frames for a sink
type CameraMediaSource struct {
	streamName string
	device     camera.Device
	metrics    *metrics.Metrics
	now        func() time.Time
	log        *zerolog.Logger

	mu          sync.Mutex
	state       State
	config      *CameraConfiguration
	sink        producer.MediaSourceSink
	frameSource *camera.FrameSource
	pusher      *framePusher
}

// NewCameraMediaSource creates a media source for streamName that owns device
func NewCameraMediaSource(streamName string, device camera.Device, opts ...Option) *CameraMediaSource {
	ms := &CameraMediaSource{
		streamName: streamName,
		device:     device,
		now:        time.Now,
		log:        logger.WithStream("mediasource", streamName),
	}
	for _, opt := range opts {
		opt(ms)
	}

	ms.pusher = &framePusher{
		stream:  streamName,
		now:     ms.now,
		metrics: ms.metrics,
		log:     ms.log,
	}
	return ms
}

// StreamName returns the name of the stream this source feeds
func (ms *CameraMediaSource) StreamName() string {
	return ms.streamName
}

// StreamInfo builds the stream descriptor from the current configuration
func (ms *CameraMediaSource) StreamInfo() (*models.StreamInfo, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.config == nil {
		return nil, ErrNotConfigured
	}
	return NewStreamInfo(ms.streamName, ms.config), nil
}

func (ms *CameraMediaSource) Sink() producer.MediaSourceSink {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.sink
}

func (ms *CameraMediaSource) State() State {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.state
}

func (ms *CameraMediaSource) Configuration() Configuration {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.config == nil {
		return nil
	}
	return ms.config
}

// Initialize binds the sink frames are pushed into
func (ms *CameraMediaSource) Initialize(sink producer.MediaSourceSink) error {
	if sink == nil {
		return ErrNoSink
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.state == StateRunning {
		return ErrSourceRunning
	}
	ms.sink = sink
	return nil
}

// Configure stores a camera configuration and resets the frame index. Any other kind of
// configuration is rejected with a *ConfigurationTypeError and leaves the source untouched.
func (ms *CameraMediaSource) Configure(cfg Configuration) error {
	camCfg, ok := cfg.(*CameraConfiguration)
	if !ok || camCfg == nil {
		return &ConfigurationTypeError{Expected: CameraSourceType, Got: configurationKind(cfg)}
	}
	if err := camCfg.Validate(); err != nil {
		return fmt.Errorf("invalid camera configuration: %w", err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.state == StateRunning {
		return ErrSourceRunning
	}

	ms.config = camCfg.withDefaults()
	ms.pusher.reset()

	ms.log.Info().
		Int("frame_rate", ms.config.FrameRate).
		Int("bitrate", ms.config.Bitrate).
		Str("device", ms.device.Name()).
		Msg("Media source configured")
	return nil
}

// Start opens the device and starts pushing frames into the sink
func (ms *CameraMediaSource) Start() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.state == StateRunning {
		return ErrSourceRunning
	}
	if ms.config == nil {
		return ErrNotConfigured
	}
	if ms.sink == nil {
		return ErrNoSink
	}

	fs := camera.NewFrameSource(ms.device, ms.config.FrameRate)
	ms.pusher.sink = ms.sink
	fs.OnBytesAvailable(ms.pusher)

	if err := fs.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	ms.frameSource = fs
	ms.state = StateRunning
	ms.metrics.RecordSourceState(ms.streamName, true)

	ms.log.Info().Uint64("frame_index", ms.pusher.index.Load()).Msg("Media source started")
	return nil
}

// Stop halts capture and releases the device. It is safe without a prior Start.
func (ms *CameraMediaSource) Stop() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var err error
	if ms.frameSource != nil {
		err = ms.frameSource.Stop()
	} else {
		err = ms.device.Close()
	}

	ms.state = StateStopped
	ms.metrics.RecordSourceState(ms.streamName, false)

	ms.log.Info().Uint64("frame_index", ms.pusher.index.Load()).Msg("Media source stopped")
	return err
}

func (ms *CameraMediaSource) IsStopped() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.state == StateStopped
}

// Free stops capture and drops the sink. Initialize must be called again before a restart.
func (ms *CameraMediaSource) Free() error {
	var err error
	if ms.State() == StateRunning {
		err = ms.Stop()
	}

	ms.mu.Lock()
	ms.sink = nil
	ms.pusher.sink = nil
	ms.mu.Unlock()
	return err
}

// Done is closed when the current capture run ends, either through Stop or a fatal error.
// It is nil before the first Start.
func (ms *CameraMediaSource) Done() <-chan struct{} {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.frameSource == nil {
		return nil
	}
	return ms.frameSource.Done()
}

// Err returns the error that ended the current capture run, if any
func (ms *CameraMediaSource) Err() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.frameSource == nil {
		return nil
	}
	return ms.frameSource.Err()
}

// CurrentRun returns the latest capture run, or nil before the first Start. Unlike Done and Err,
// the handle keeps describing that run after a restart.
func (ms *CameraMediaSource) CurrentRun() Run {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.frameSource == nil {
		return nil
	}
	return ms.frameSource
}

// FrameIndex returns the index the next captured buffer will get
func (ms *CameraMediaSource) FrameIndex() uint64 {
	return ms.pusher.index.Load()
}
