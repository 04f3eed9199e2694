package models

import "time"

// StreamingType describes how the producer treats frame latency
type StreamingType string

const (
	StreamingTypeRealtime     StreamingType = "realtime"
	StreamingTypeNearRealtime StreamingType = "near_realtime"
	StreamingTypeOffline      StreamingType = "offline"
)

// NalAdaptationFlags tells the producer how to rewrite NAL units
type NalAdaptationFlags uint32

const (
	NalAdaptationNone NalAdaptationFlags = 0
)

// Tag is a descriptive key/value pair attached to a stream
type Tag struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// StreamInfo describes an outbound stream. It is built once by a media source and consumed by
// the producer when the stream is registered; it must not be modified afterwards.
type StreamInfo struct {
	Version               int                `json:"version" yaml:"version"`
	Name                  string             `json:"name" yaml:"name"`
	StreamingType         StreamingType      `json:"streamingType" yaml:"streaming_type"`
	ContentType           string             `json:"contentType" yaml:"content_type"`
	KMSKeyID              string             `json:"kmsKeyId,omitempty" yaml:"kms_key_id,omitempty"`
	Retention             time.Duration      `json:"retention" yaml:"retention"`
	Adaptive              bool               `json:"adaptive" yaml:"adaptive"`
	MaxLatency            time.Duration      `json:"maxLatency" yaml:"max_latency"`
	FragmentDuration      time.Duration      `json:"fragmentDuration" yaml:"fragment_duration"`
	KeyFrameFragmentation bool               `json:"keyFrameFragmentation" yaml:"key_frame_fragmentation"`
	FrameTimecodes        bool               `json:"frameTimecodes" yaml:"frame_timecodes"`
	AbsoluteFragmentTimes bool               `json:"absoluteFragmentTimes" yaml:"absolute_fragment_times"`
	FragmentAcks          bool               `json:"fragmentAcks" yaml:"fragment_acks"`
	RecoverOnError        bool               `json:"recoverOnError" yaml:"recover_on_error"`
	CodecID               string             `json:"codecId" yaml:"codec_id"`
	TrackName             string             `json:"trackName" yaml:"track_name"`
	AvgBandwidthBps       int                `json:"avgBandwidthBps" yaml:"avg_bandwidth_bps"`
	FrameRate             int                `json:"frameRate" yaml:"frame_rate"`
	BufferDuration        time.Duration      `json:"bufferDuration" yaml:"buffer_duration"`
	ReplayDuration        time.Duration      `json:"replayDuration" yaml:"replay_duration"`
	ConnectionStaleness   time.Duration      `json:"connectionStaleness" yaml:"connection_staleness"`
	Timescale             int64              `json:"timescale" yaml:"timescale"`
	RecalculateMetrics    bool               `json:"recalculateMetrics" yaml:"recalculate_metrics"`
	CodecPrivateData      []byte             `json:"codecPrivateData" yaml:"codec_private_data"`
	Tags                  []Tag              `json:"tags" yaml:"tags"`
	NalAdaptationFlags    NalAdaptationFlags `json:"nalAdaptationFlags" yaml:"nal_adaptation_flags"`
}

// TagMap returns the stream tags keyed by name
func (i *StreamInfo) TagMap() map[string]string {
	tags := make(map[string]string, len(i.Tags))
	for _, t := range i.Tags {
		tags[t.Name] = t.Value
	}
	return tags
}
