package mediasource

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"camproducer/internal/metrics"
	"camproducer/internal/producer"
	"camproducer/pkg/models"
)

const (
	// KeyFrameInterval marks every n-th frame index as a key frame
	KeyFrameInterval = 19

	// FrameDurationMs is the nominal duration stamped on every frame
	FrameDurationMs = 20
)

// framePusher wraps raw buffers into frames and forwards them to the sink. It runs on the
// capture goroutine only; index is atomic so status readers can observe it.
type framePusher struct {
	index   atomic.Uint64
	sink    producer.MediaSourceSink
	stream  string
	now     func() time.Time
	metrics *metrics.Metrics
	log     *zerolog.Logger
}

func (p *framePusher) reset() {
	p.index.Store(0)
}

// OnFrameDataAvailable implements camera.FrameHandler
func (p *framePusher) OnFrameDataAvailable(data []byte) error {
	nowMs := p.now().UnixMilli()

	index := p.index.Load()
	flags := models.FrameFlagNone
	if index%KeyFrameInterval == 0 {
		flags = models.FrameFlagKeyFrame
	}

	if data == nil {
		p.log.Debug().Uint64("frame_index", index).Msg("Data not received from frame")
		p.metrics.RecordNoData(p.stream)
		return nil
	}

	ts := nowMs * models.HundredsOfNanosInMs
	frame := &models.Frame{
		Index:          index,
		Flags:          flags,
		DecodingTs:     ts,
		PresentationTs: ts,
		Duration:       FrameDurationMs * models.HundredsOfNanosInMs,
		Data:           data,
	}
	p.index.Add(1)
	p.metrics.RecordCapture(p.stream)

	if frame.Size() == 0 {
		p.metrics.RecordFrameDropped(p.stream, "empty")
		return nil
	}

	if err := p.sink.OnFrame(frame); err != nil {
		p.metrics.RecordSinkError(p.stream)
		return fmt.Errorf("forward frame %d: %w", frame.Index, err)
	}

	p.metrics.RecordFrameForwarded(p.stream, frame.Size(), frame.IsKeyFrame())
	return nil
}
