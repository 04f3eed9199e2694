package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"camproducer/internal/logger"
)

var (
	ErrNoHandler      = errors.New("no frame handler registered")
	ErrAlreadyStarted = errors.New("frame source already started")
	ErrInvalidRate    = errors.New("frame rate must be positive")
)

// FrameHandler receives raw picture buffers. A nil buffer means the device had no data
// for this tick. Returning an error stops the capture loop.
type FrameHandler interface {
	OnFrameDataAvailable(data []byte) error
}

// FrameHandlerFunc adapts a function to FrameHandler
type FrameHandlerFunc func(data []byte) error

func (f FrameHandlerFunc) OnFrameDataAvailable(data []byte) error {
	return f(data)
}

// FrameSource runs a single capture loop over a device and hands each buffer to the
// registered handler on the loop goroutine. There is no queue: a slow handler slows capture.
// A FrameSource is started at most once.
type FrameSource struct {
	device    Device
	frameRate int
	log       *zerolog.Logger

	mu      sync.Mutex
	handler FrameHandler
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// NewFrameSource creates a frame source pacing device reads at frameRate pictures per second
func NewFrameSource(device Device, frameRate int) *FrameSource {
	return &FrameSource{
		device:    device,
		frameRate: frameRate,
		log:       logger.WithStream("camera", device.Name()),
		done:      make(chan struct{}),
	}
}

// OnBytesAvailable registers the handler invoked for every capture tick
func (fs *FrameSource) OnBytesAvailable(h FrameHandler) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.handler = h
}

// Start opens the device at VGA and starts the capture loop
func (fs *FrameSource) Start() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.started {
		return ErrAlreadyStarted
	}
	if fs.handler == nil {
		return ErrNoHandler
	}
	if fs.frameRate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRate, fs.frameRate)
	}

	if err := fs.device.SetViewSize(VGA); err != nil {
		return asDeviceError(fs.device.Name(), "set view size", err)
	}
	if err := fs.device.Open(); err != nil {
		return asDeviceError(fs.device.Name(), "open", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	limiter := rate.NewLimiter(rate.Limit(fs.frameRate), 1)

	fs.started = true
	fs.cancel = cancel

	go fs.run(ctx, limiter, fs.handler)

	fs.log.Info().
		Int("frame_rate", fs.frameRate).
		Str("resolution", VGA.String()).
		Msg("Capture started")
	return nil
}

// run is the capture loop
func (fs *FrameSource) run(ctx context.Context, limiter *rate.Limiter, handler FrameHandler) {
	defer close(fs.done)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		data, err := fs.device.Read()
		if ctx.Err() != nil {
			// Stopped while reading
			return
		}
		if err != nil {
			fs.fail(asDeviceError(fs.device.Name(), "read", err))
			return
		}

		if err := handler.OnFrameDataAvailable(data); err != nil {
			fs.fail(err)
			return
		}
	}
}

// fail records the error that ended the loop
func (fs *FrameSource) fail(err error) {
	fs.mu.Lock()
	fs.err = err
	fs.mu.Unlock()

	fs.log.Error().Err(err).Msg("Capture loop stopped")
}

// Stop halts the capture loop, waits for an in-flight callback to return and releases the
// device. It must not be called from inside the handler. Calling it more than once, or
// before Start, is a no-op.
func (fs *FrameSource) Stop() error {
	fs.mu.Lock()
	if !fs.started || fs.stopped {
		fs.mu.Unlock()
		return nil
	}
	fs.stopped = true
	cancel := fs.cancel
	fs.mu.Unlock()

	cancel()

	// Closing first unblocks a device read in progress
	closeErr := fs.device.Close()
	<-fs.done

	fs.log.Info().Msg("Capture stopped")

	if closeErr != nil {
		return asDeviceError(fs.device.Name(), "close", closeErr)
	}
	return nil
}

// Done is closed when the capture loop has exited
func (fs *FrameSource) Done() <-chan struct{} {
	return fs.done
}

// Err returns the error that ended the capture loop, if any
func (fs *FrameSource) Err() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.err
}

// asDeviceError keeps an existing DeviceError and wraps anything else
func asDeviceError(device, op string, err error) error {
	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}
	if op == "open" && !errors.Is(err, ErrDeviceUnavailable) {
		err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return &DeviceError{Device: device, Op: op, Err: err}
}
