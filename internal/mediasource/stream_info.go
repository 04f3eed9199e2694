package mediasource

import (
	"time"

	"camproducer/pkg/models"
)

// Stream descriptor constants for camera sources
const (
	StreamInfoVersion   = 0
	ContentType         = "video/h264"
	CodecID             = "V_MPEG4/ISO/AVC"
	TrackName           = "test-track"
	Retention           = time.Hour
	FragmentDuration    = 2 * time.Second
	BufferDuration      = 120 * time.Second
	ReplayDuration      = 40 * time.Second
	ConnectionStaleness = 60 * time.Second
	Timescale           = 10_000
)

// avccExtradata is the AVCDecoderConfigurationRecord announced for every camera stream:
// one 34-byte SPS (Baseline, level 3.0) and one 4-byte PPS.
var avccExtradata = []byte{
	0x01, 0x42, 0x00, 0x1E, 0xFF, 0xE1, 0x00, 0x22,
	0x27, 0x42, 0x00, 0x1E, 0x89, 0x8B, 0x60, 0x50,
	0x1E, 0xD8, 0x08, 0x80, 0x00, 0x13, 0x88, 0x00,
	0x03, 0xD0, 0x90, 0x70, 0x30, 0x00, 0x5D, 0xC0,
	0x00, 0x17, 0x70, 0x5E, 0xF7, 0xC1, 0xF0, 0x88,
	0x46, 0xE0, 0x01, 0x00, 0x04, 0x28, 0xCE, 0x1F,
	0x20,
}

// CodecPrivateData returns a copy of the AVCC extradata announced by camera sources
func CodecPrivateData() []byte {
	out := make([]byte, len(avccExtradata))
	copy(out, avccExtradata)
	return out
}

// NewStreamInfo builds the descriptor for a camera stream
func NewStreamInfo(streamName string, cfg *CameraConfiguration) *models.StreamInfo {
	return &models.StreamInfo{
		Version:               StreamInfoVersion,
		Name:                  streamName,
		StreamingType:         models.StreamingTypeRealtime,
		ContentType:           ContentType,
		KMSKeyID:              "",
		Retention:             Retention,
		Adaptive:              false,
		MaxLatency:            0,
		FragmentDuration:      FragmentDuration,
		KeyFrameFragmentation: true,
		FrameTimecodes:        true,
		AbsoluteFragmentTimes: false,
		FragmentAcks:          true,
		RecoverOnError:        true,
		CodecID:               CodecID,
		TrackName:             TrackName,
		AvgBandwidthBps:       cfg.Bitrate,
		FrameRate:             cfg.FrameRate,
		BufferDuration:        BufferDuration,
		ReplayDuration:        ReplayDuration,
		ConnectionStaleness:   ConnectionStaleness,
		Timescale:             Timescale,
		RecalculateMetrics:    true,
		CodecPrivateData:      CodecPrivateData(),
		Tags: []models.Tag{
			{Name: "device", Value: "Test Device"},
			{Name: "stream", Value: "Test Stream"},
		},
		NalAdaptationFlags: models.NalAdaptationNone,
	}
}
