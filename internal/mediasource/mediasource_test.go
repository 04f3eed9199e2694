package mediasource

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camproducer/internal/camera"
	"camproducer/internal/producer"
	"camproducer/pkg/models"
)

type fakeSink struct {
	mu     sync.Mutex
	frames []*models.Frame
	err    error
}

func (s *fakeSink) OnFrame(frame *models.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeSink) OnCodecPrivateData([]byte, uint64) error       { return nil }
func (s *fakeSink) OnFragmentMetadata(string, string, bool) error { return nil }
func (s *fakeSink) ProducerStream() producer.Stream               { return nil }

func (s *fakeSink) received() []*models.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// fakeDevice hands out 1 KiB buffers and tracks whether it is open
type fakeDevice struct {
	mu      sync.Mutex
	open    bool
	closes  int
	openErr error
}

func (d *fakeDevice) Name() string                        { return "fake" }
func (d *fakeDevice) SetViewSize(camera.Resolution) error { return nil }

func (d *fakeDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.open = true
	return nil
}

func (d *fakeDevice) Read() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, errors.New("closed")
	}
	return make([]byte, 1024), nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.closes++
	return nil
}

func (d *fakeDevice) isOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

type otherConfiguration struct{}

func (otherConfiguration) MediaSourceType() string { return "opencv" }

var fixedTime = time.UnixMilli(1_700_000_000_123)

func newTestPusher(sink producer.MediaSourceSink) *framePusher {
	ms := NewCameraMediaSource("cam", &fakeDevice{}, WithClock(func() time.Time { return fixedTime }))
	ms.pusher.sink = sink
	return ms.pusher
}

func TestPusherIndexAdvancesPerNonNilBuffer(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPusher(sink)

	buffers := [][]byte{{1}, nil, {}, {2, 3}, nil, {}, {4}}
	for _, b := range buffers {
		require.NoError(t, p.OnFrameDataAvailable(b))
	}

	// five non-nil buffers, two of them empty
	assert.Equal(t, uint64(5), p.index.Load())

	frames := sink.received()
	require.Len(t, frames, 3)
	assert.Equal(t, uint64(0), frames[0].Index)
	assert.Equal(t, uint64(2), frames[1].Index)
	assert.Equal(t, uint64(4), frames[2].Index)
	for _, f := range frames {
		assert.NotZero(t, f.Size(), "empty buffers never reach the sink")
	}
}

func TestPusherKeyFrameRule(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPusher(sink)

	for i := 0; i < 60; i++ {
		require.NoError(t, p.OnFrameDataAvailable([]byte{byte(i)}))
	}

	frames := sink.received()
	require.Len(t, frames, 60)
	for _, f := range frames {
		assert.Equal(t, f.Index%19 == 0, f.IsKeyFrame(), "frame %d", f.Index)
	}
	assert.True(t, frames[0].IsKeyFrame())
	assert.True(t, frames[19].IsKeyFrame())
	assert.True(t, frames[38].IsKeyFrame())
	assert.True(t, frames[57].IsKeyFrame())
}

func TestPusherTimestamps(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPusher(sink)

	require.NoError(t, p.OnFrameDataAvailable([]byte{0xAA}))
	f := sink.received()[0]

	want := fixedTime.UnixMilli() * 10_000
	assert.Equal(t, want, f.DecodingTs)
	assert.Equal(t, want, f.PresentationTs)
	assert.Equal(t, int64(200_000), f.Duration)
	assert.Equal(t, 20*time.Millisecond, f.DurationTime())
}

func TestPusherNilBufferProducesNothing(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPusher(sink)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.OnFrameDataAvailable(nil))
	}
	assert.Empty(t, sink.received())
	assert.Equal(t, uint64(0), p.index.Load())
}

func TestPusherIndex19Example(t *testing.T) {
	sink := &fakeSink{}
	p := newTestPusher(sink)
	p.index.Store(19)

	payload := make([]byte, 1024)
	require.NoError(t, p.OnFrameDataAvailable(payload))

	frames := sink.received()
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(19), frames[0].Index)
	assert.Equal(t, models.FrameFlagKeyFrame, frames[0].Flags)
	assert.Equal(t, 1024, frames[0].Size())
}

func TestPusherSinkErrorIsReturned(t *testing.T) {
	perr := producer.NewError(producer.OpPutFrame, "cam", producer.ErrStreamNotLive)
	p := newTestPusher(&fakeSink{err: perr})

	err := p.OnFrameDataAvailable([]byte{1})
	require.Error(t, err)
	assert.ErrorIs(t, err, producer.ErrStreamNotLive)
	assert.True(t, producer.IsProducerError(err))
}

func TestConfigureRejectsWrongKind(t *testing.T) {
	ms := NewCameraMediaSource("cam", &fakeDevice{})
	require.NoError(t, ms.Configure(&CameraConfiguration{FrameRate: 25}))
	ms.pusher.index.Store(7)

	err := ms.Configure(otherConfiguration{})
	var cte *ConfigurationTypeError
	require.ErrorAs(t, err, &cte)
	assert.Equal(t, CameraSourceType, cte.Expected)

	err = ms.Configure(nil)
	require.ErrorAs(t, err, &cte)

	// Prior state is untouched
	cfg, ok := ms.Configuration().(*CameraConfiguration)
	require.True(t, ok)
	assert.Equal(t, 25, cfg.FrameRate)
	assert.Equal(t, uint64(7), ms.FrameIndex())
	assert.Equal(t, StateCreated, ms.State())
}

func TestConfigureValidatesAndResetsIndex(t *testing.T) {
	ms := NewCameraMediaSource("cam", &fakeDevice{})

	assert.Error(t, ms.Configure(&CameraConfiguration{FrameRate: 0}))
	assert.Error(t, ms.Configure(&CameraConfiguration{FrameRate: 121}))
	assert.Error(t, ms.Configure(&CameraConfiguration{FrameRate: 25, Bitrate: -1}))
	assert.Nil(t, ms.Configuration())

	ms.pusher.index.Store(42)
	in := &CameraConfiguration{FrameRate: 30}
	require.NoError(t, ms.Configure(in))
	assert.Equal(t, uint64(0), ms.FrameIndex())

	cfg := ms.Configuration().(*CameraConfiguration)
	assert.Equal(t, DefaultBitrate, cfg.Bitrate)
	assert.Equal(t, 0, in.Bitrate, "caller's value is not modified")
}

func TestStopWithoutStart(t *testing.T) {
	dev := &fakeDevice{}
	ms := NewCameraMediaSource("cam", dev)
	require.NoError(t, ms.Configure(&CameraConfiguration{FrameRate: 25}))

	require.NoError(t, ms.Stop())
	assert.Equal(t, StateStopped, ms.State())
	assert.True(t, ms.IsStopped())
	assert.Nil(t, ms.Done())
	assert.NoError(t, ms.Err())
	assert.Nil(t, ms.CurrentRun())
}

func TestStartPreconditions(t *testing.T) {
	ms := NewCameraMediaSource("cam", &fakeDevice{})
	assert.ErrorIs(t, ms.Start(), ErrNotConfigured)

	require.NoError(t, ms.Configure(&CameraConfiguration{FrameRate: 25}))
	assert.ErrorIs(t, ms.Start(), ErrNoSink)
	assert.ErrorIs(t, ms.Initialize(nil), ErrNoSink)

	_, err := NewCameraMediaSource("x", &fakeDevice{}).StreamInfo()
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStartDeviceUnavailable(t *testing.T) {
	dev := &fakeDevice{openErr: errors.New("no such device")}
	ms := NewCameraMediaSource("cam", dev)
	require.NoError(t, ms.Configure(&CameraConfiguration{FrameRate: 25}))
	require.NoError(t, ms.Initialize(&fakeSink{}))

	err := ms.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, camera.ErrDeviceUnavailable)

	var de *camera.DeviceError
	assert.ErrorAs(t, err, &de)
	assert.Equal(t, StateCreated, ms.State())
}

func TestStartStopLifecycle(t *testing.T) {
	dev := &fakeDevice{}
	sink := &fakeSink{}
	ms := NewCameraMediaSource("cam", dev)

	require.NoError(t, ms.Configure(&CameraConfiguration{FrameRate: 100}))
	require.NoError(t, ms.Initialize(sink))
	assert.Same(t, sink, ms.Sink())

	require.NoError(t, ms.Start())
	assert.Equal(t, StateRunning, ms.State())
	assert.False(t, ms.IsStopped())
	assert.True(t, dev.isOpen())

	assert.ErrorIs(t, ms.Start(), ErrSourceRunning)
	assert.ErrorIs(t, ms.Configure(&CameraConfiguration{FrameRate: 25}), ErrSourceRunning)

	require.Eventually(t, func() bool { return len(sink.received()) >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ms.Stop())
	assert.Equal(t, StateStopped, ms.State())
	assert.False(t, dev.isOpen(), "device released after stop")

	select {
	case <-ms.Done():
	default:
		t.Fatal("capture still running after Stop")
	}

	// Restart continues the index
	before := ms.FrameIndex()
	require.NoError(t, ms.Start())
	require.Eventually(t, func() bool { return ms.FrameIndex() > before }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, ms.Stop())

	frames := sink.received()
	for i := 1; i < len(frames); i++ {
		assert.Equal(t, frames[i-1].Index+1, frames[i].Index)
	}
}

func TestSinkErrorEndsCapture(t *testing.T) {
	sink := &fakeSink{err: producer.NewError(producer.OpPutFrame, "cam", producer.ErrStreamNotFound)}
	ms := NewCameraMediaSource("cam", &fakeDevice{})
	require.NoError(t, ms.Configure(&CameraConfiguration{FrameRate: 100}))
	require.NoError(t, ms.Initialize(sink))
	require.NoError(t, ms.Start())

	select {
	case <-ms.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sink error did not stop capture")
	}

	assert.ErrorIs(t, ms.Err(), producer.ErrStreamNotFound)
	assert.Equal(t, uint64(1), ms.FrameIndex())
	require.NoError(t, ms.Stop())
}

func TestCurrentRunOutlivesRestart(t *testing.T) {
	boom := producer.NewError(producer.OpPutFrame, "cam", producer.ErrStreamNotLive)
	sink := &fakeSink{err: boom}
	ms := NewCameraMediaSource("cam", &fakeDevice{})
	require.NoError(t, ms.Configure(&CameraConfiguration{FrameRate: 100}))
	require.NoError(t, ms.Initialize(sink))
	require.NoError(t, ms.Start())

	failed := ms.CurrentRun()
	require.NotNil(t, failed)
	select {
	case <-failed.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sink error did not stop capture")
	}

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	require.NoError(t, ms.Stop())
	require.NoError(t, ms.Start())
	defer ms.Stop()

	current := ms.CurrentRun()
	assert.NotSame(t, failed, current)
	assert.NoError(t, current.Err())
	assert.ErrorIs(t, failed.Err(), producer.ErrStreamNotLive, "the failed run keeps its error")
}

func TestFreeDropsSink(t *testing.T) {
	ms := NewCameraMediaSource("cam", &fakeDevice{})
	require.NoError(t, ms.Configure(&CameraConfiguration{FrameRate: 50}))
	require.NoError(t, ms.Initialize(&fakeSink{}))
	require.NoError(t, ms.Start())

	require.NoError(t, ms.Free())
	assert.True(t, ms.IsStopped())
	assert.Nil(t, ms.Sink())
	assert.ErrorIs(t, ms.Start(), ErrNoSink)
}
