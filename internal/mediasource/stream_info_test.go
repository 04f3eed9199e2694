package mediasource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camproducer/pkg/models"
)

func TestStreamInfoDescriptor(t *testing.T) {
	ms := NewCameraMediaSource("front-door", &fakeDevice{})
	require.NoError(t, ms.Configure(&CameraConfiguration{FrameRate: 25}))

	info, err := ms.StreamInfo()
	require.NoError(t, err)

	assert.Equal(t, 0, info.Version)
	assert.Equal(t, "front-door", info.Name)
	assert.Equal(t, models.StreamingTypeRealtime, info.StreamingType)
	assert.Equal(t, "video/h264", info.ContentType)
	assert.Empty(t, info.KMSKeyID)
	assert.Equal(t, time.Hour, info.Retention)
	assert.False(t, info.Adaptive)
	assert.Zero(t, info.MaxLatency)
	assert.Equal(t, 2*time.Second, info.FragmentDuration)
	assert.True(t, info.KeyFrameFragmentation)
	assert.True(t, info.FrameTimecodes)
	assert.False(t, info.AbsoluteFragmentTimes)
	assert.True(t, info.FragmentAcks)
	assert.True(t, info.RecoverOnError)
	assert.Equal(t, "V_MPEG4/ISO/AVC", info.CodecID)
	assert.Equal(t, "test-track", info.TrackName)
	assert.Equal(t, 2_000_000, info.AvgBandwidthBps)
	assert.Equal(t, 25, info.FrameRate)
	assert.Equal(t, 120*time.Second, info.BufferDuration)
	assert.Equal(t, 40*time.Second, info.ReplayDuration)
	assert.Equal(t, 60*time.Second, info.ConnectionStaleness)
	assert.Equal(t, int64(10_000), info.Timescale)
	assert.True(t, info.RecalculateMetrics)
	assert.Equal(t, map[string]string{"device": "Test Device", "stream": "Test Stream"}, info.TagMap())
	assert.Equal(t, models.NalAdaptationNone, info.NalAdaptationFlags)
}

func TestStreamInfoCodecPrivateData(t *testing.T) {
	cpd := CodecPrivateData()
	require.Len(t, cpd, 49)

	// AVCDecoderConfigurationRecord header: version 1, Baseline, level 3.0
	assert.Equal(t, []byte{0x01, 0x42, 0x00, 0x1E}, cpd[:4])
	assert.Equal(t, byte(0xE1), cpd[5], "one SPS")
	assert.Equal(t, []byte{0x00, 0x22}, cpd[6:8], "34-byte SPS")
	assert.Equal(t, byte(0x01), cpd[42], "one PPS")
	assert.Equal(t, []byte{0x28, 0xCE, 0x1F, 0x20}, cpd[45:])

	// Callers get their own copy
	cpd[0] = 0xFF
	assert.Equal(t, byte(0x01), CodecPrivateData()[0])
}

func TestStreamInfoUsesConfiguredBitrate(t *testing.T) {
	info := NewStreamInfo("cam", &CameraConfiguration{FrameRate: 15, Bitrate: 500_000})
	assert.Equal(t, 500_000, info.AvgBandwidthBps)
	assert.Equal(t, 15, info.FrameRate)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CREATED", State(0).String())
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "STOPPED", StateStopped.String())
	assert.Equal(t, "UNKNOWN", State(9).String())

	text, err := StateRunning.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", string(text))
}
