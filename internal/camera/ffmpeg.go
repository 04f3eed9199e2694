package camera

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"camproducer/internal/logger"
)

// FFmpegDevice captures raw yuv420p pictures from a v4l2 device through an ffmpeg subprocess
type FFmpegDevice struct {
	path      string
	frameRate int
	res       Resolution

	// binary is the ffmpeg executable; overridable for tests
	binary string

	cmd     *exec.Cmd
	stdout  *io.PipeReader
	exited  chan struct{}
	waitErr error
	stderr  bytes.Buffer
	open    bool
	mu      sync.Mutex
}

// NewFFmpegDevice creates a closed device for a v4l2 path such as /dev/video0
func NewFFmpegDevice(path string, frameRate int) *FFmpegDevice {
	return &FFmpegDevice{
		path:      path,
		frameRate: frameRate,
		res:       VGA,
		binary:    "ffmpeg",
	}
}

func (d *FFmpegDevice) Name() string {
	return d.path
}

func (d *FFmpegDevice) SetViewSize(res Resolution) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return &DeviceError{Device: d.path, Op: "set view size", Err: errors.New("device already open")}
	}
	d.res = res
	return nil
}

// args builds the ffmpeg command line
func (d *FFmpegDevice) args() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", d.res.String(),
	}
	if d.frameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(d.frameRate))
	}
	return append(args,
		"-i", d.path,
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"pipe:1",
	)
}

func (d *FFmpegDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return nil
	}

	if _, err := os.Stat(d.path); err != nil {
		return &DeviceError{Device: d.path, Op: "open", Err: fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)}
	}
	if _, err := exec.LookPath(d.binary); err != nil {
		return &DeviceError{Device: d.path, Op: "open", Err: fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)}
	}

	// exec copies ffmpeg's output into pw; closing pr unblocks both a Read and that copy
	pr, pw := io.Pipe()
	cmd := exec.Command(d.binary, d.args()...)
	d.stderr.Reset()
	cmd.Stderr = &d.stderr
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		return &DeviceError{Device: d.path, Op: "open", Err: fmt.Errorf("%w: start ffmpeg: %v", ErrDeviceUnavailable, err)}
	}

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		d.waitErr = err
		if err == nil {
			err = io.EOF
		}
		pw.CloseWithError(err)
		close(exited)
	}()

	d.cmd = cmd
	d.stdout = pr
	d.exited = exited
	d.open = true

	logger.WithComponent("camera").Info().
		Str("device", d.path).
		Str("resolution", d.res.String()).
		Int("frame_rate", d.frameRate).
		Msg("Opened v4l2 device through ffmpeg")
	return nil
}

// Read blocks until one full picture has been read from ffmpeg
func (d *FFmpegDevice) Read() ([]byte, error) {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return nil, &DeviceError{Device: d.path, Op: "read", Err: errDeviceClosed}
	}
	stdout := d.stdout
	size := d.res.FrameSize()
	d.mu.Unlock()

	buf := make([]byte, size)
	if _, err := io.ReadFull(stdout, buf); err != nil {
		return nil, &DeviceError{Device: d.path, Op: "read", Err: err}
	}
	return buf, nil
}

// Close kills ffmpeg and closes the pipe, so a blocked Read returns with an error, then waits for
// the process to exit.
func (d *FFmpegDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil
	}
	d.open = false

	_ = d.cmd.Process.Kill()
	d.stdout.Close()
	<-d.exited

	err := d.waitErr
	d.cmd = nil
	d.stdout = nil
	d.exited = nil

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Killed on purpose
			return nil
		}
		return &DeviceError{Device: d.path, Op: "close", Err: err}
	}
	return nil
}
