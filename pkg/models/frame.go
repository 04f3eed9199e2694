package models

import "time"

// HundredsOfNanosInMs converts milliseconds into the 100ns units used by frame timestamps
const HundredsOfNanosInMs = 10 * 1000

// FrameFlags carries per-frame flags understood by the producer
type FrameFlags uint32

const (
	FrameFlagNone     FrameFlags = 0
	FrameFlagKeyFrame FrameFlags = 1
)

// Frame is one unit of encoded media handed from a media source to a producer stream.
// Timestamps and duration are expressed in 100ns units.
type Frame struct {
	Index          uint64     // Monotonic sequence index assigned by the media source
	Flags          FrameFlags // Key frame or regular frame
	DecodingTs     int64      // Decode timestamp (100ns)
	PresentationTs int64      // Presentation timestamp (100ns)
	Duration       int64      // Nominal frame duration (100ns)
	Data           []byte     // Encoded payload
	TrackID        uint64     // Track the frame belongs to (single-track streams use 0)
}

// Size returns the payload length
func (f *Frame) Size() int {
	return len(f.Data)
}

// IsKeyFrame reports whether the frame is flagged as independently decodable
func (f *Frame) IsKeyFrame() bool {
	return f.Flags&FrameFlagKeyFrame != 0
}

// DurationTime returns the frame duration as a time.Duration
func (f *Frame) DurationTime() time.Duration {
	return time.Duration(f.Duration) * 100
}

// CodecInfo contains initialization data for a codec
type CodecInfo struct {
	Codec         string   // "h264"
	PrivateData   []byte   // AVCDecoderConfigurationRecord as received
	SPS           [][]byte // H.264 Sequence Parameter Sets
	PPS           [][]byte // H.264 Picture Parameter Sets
	NALUnitLength int      // Length prefix size of AVCC NAL units
	Bitrate       int      // Bitrate in bps
	FrameRate     int      // Video frame rate
}
