package camera

import (
	"errors"
	"sync"
)

var errDeviceClosed = errors.New("device closed")

// SyntheticDevice generates moving colour bars in I420 layout
type SyntheticDevice struct {
	res    Resolution
	open   bool
	frames uint64

	mu sync.Mutex
}

// NewSyntheticDevice creates a closed synthetic device at VGA
func NewSyntheticDevice() *SyntheticDevice {
	return &SyntheticDevice{res: VGA}
}

func (d *SyntheticDevice) Name() string {
	return SyntheticDeviceName
}

func (d *SyntheticDevice) SetViewSize(res Resolution) error {
	if res.Width <= 0 || res.Height <= 0 || res.Width%2 != 0 || res.Height%2 != 0 {
		return &DeviceError{Device: d.Name(), Op: "set view size", Err: errors.New("invalid resolution " + res.String())}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.res = res
	return nil
}

func (d *SyntheticDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	return nil
}

// IsOpen reports whether the device handle is held
func (d *SyntheticDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Read renders the next picture into a fresh buffer
func (d *SyntheticDevice) Read() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil, &DeviceError{Device: d.Name(), Op: "read", Err: errDeviceClosed}
	}

	w, h := d.res.Width, d.res.Height
	buf := make([]byte, d.res.FrameSize())

	// Luma: eight vertical bars scrolling one pixel per frame
	shift := int(d.frames % uint64(w))
	for y := 0; y < h; y++ {
		row := buf[y*w : (y+1)*w]
		for x := range row {
			row[x] = byte(((x + shift) * 8 / w) * 32)
		}
	}

	// Chroma: flat grey
	chroma := buf[w*h:]
	for i := range chroma {
		chroma[i] = 128
	}

	d.frames++
	return buf, nil
}

func (d *SyntheticDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}
