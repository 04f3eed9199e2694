package camera

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDeviceUnavailable is wrapped by every DeviceError raised while opening a device
var ErrDeviceUnavailable = errors.New("camera device unavailable")

// Resolution is a capture view size in pixels
type Resolution struct {
	Width  int
	Height int
}

// VGA is the only preset the frame source opens devices with
var VGA = Resolution{Width: 640, Height: 480}

// FrameSize returns the size in bytes of one I420 (yuv420p) picture
func (r Resolution) FrameSize() int {
	return r.Width * r.Height * 3 / 2
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Device owns a capture handle.
//
// Read returns (nil, nil) when the device had no picture for this tick. Close must be safe to
// call while a Read is in progress and must make further reads fail.
type Device interface {
	Name() string
	SetViewSize(res Resolution) error
	Open() error
	Read() ([]byte, error)
	Close() error
}

// DeviceError reports a failure of the capture device
type DeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("camera %s %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// SyntheticDeviceName selects the built-in test pattern generator
const SyntheticDeviceName = "synthetic"

// NewDevice returns the device for name. An empty name or "synthetic" yields the test
// pattern generator; anything else is treated as a v4l2 path read through ffmpeg.
func NewDevice(name string, frameRate int) Device {
	if name == "" || strings.EqualFold(name, SyntheticDeviceName) {
		return NewSyntheticDevice()
	}
	return NewFFmpegDevice(name, frameRate)
}
