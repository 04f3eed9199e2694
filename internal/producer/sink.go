package producer

import (
	"camproducer/pkg/models"
)

// Stream is the producer side of a registered stream
type Stream interface {
	Name() string
	PutFrame(frame *models.Frame) error
	StreamFormatChanged(codecPrivateData []byte, trackIndex uint64) error
	PutFragmentMetadata(name, value string, persistent bool) error
}

// MediaSourceSink is what a media source pushes frames and stream metadata into
type MediaSourceSink interface {
	OnFrame(frame *models.Frame) error
	OnCodecPrivateData(codecPrivateData []byte, trackIndex uint64) error
	OnFragmentMetadata(name, value string, persistent bool) error
	ProducerStream() Stream
}

// StreamSink forwards everything to a producer stream. Errors come back untranslated.
type StreamSink struct {
	stream Stream
}

// NewStreamSink creates a sink bound to stream
func NewStreamSink(stream Stream) *StreamSink {
	return &StreamSink{stream: stream}
}

func (s *StreamSink) OnFrame(frame *models.Frame) error {
	if frame == nil {
		return NewError(OpPutFrame, s.stream.Name(), ErrEmptyFrame)
	}
	return s.stream.PutFrame(frame)
}

func (s *StreamSink) OnCodecPrivateData(codecPrivateData []byte, trackIndex uint64) error {
	return s.stream.StreamFormatChanged(codecPrivateData, trackIndex)
}

func (s *StreamSink) OnFragmentMetadata(name, value string, persistent bool) error {
	return s.stream.PutFragmentMetadata(name, value, persistent)
}

func (s *StreamSink) ProducerStream() Stream {
	return s.stream
}
