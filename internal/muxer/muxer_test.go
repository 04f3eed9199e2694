package muxer

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camproducer/pkg/models"
)

var testAVCC = []byte{
	0x01, 0x42, 0x00, 0x1E, 0xFF, 0xE1, 0x00, 0x22,
	0x27, 0x42, 0x00, 0x1E, 0x89, 0x8B, 0x60, 0x50,
	0x1E, 0xD8, 0x08, 0x80, 0x00, 0x13, 0x88, 0x00,
	0x03, 0xD0, 0x90, 0x70, 0x30, 0x00, 0x5D, 0xC0,
	0x00, 0x17, 0x70, 0x5E, 0xF7, 0xC1, 0xF0, 0x88,
	0x46, 0xE0, 0x01, 0x00, 0x04, 0x28, 0xCE, 0x1F,
	0x20,
}

func TestParseAVCDecoderConfigurationRecord(t *testing.T) {
	rec, err := ParseAVCDecoderConfigurationRecord(testAVCC)
	require.NoError(t, err)

	assert.Equal(t, uint8(1), rec.ConfigurationVersion)
	assert.Equal(t, uint8(0x42), rec.AVCProfileIndication)
	assert.Equal(t, uint8(0x1E), rec.AVCLevelIndication)
	assert.Equal(t, uint8(4), rec.NALUnitLength)
	require.Len(t, rec.SPS, 1)
	require.Len(t, rec.PPS, 1)
	assert.Len(t, rec.SPS[0], 34)
	assert.Equal(t, byte(NALUnitTypeSPS), rec.SPS[0][0]&0x1F)
	assert.Equal(t, []byte{0x28, 0xCE, 0x1F, 0x20}, rec.PPS[0])

	info := rec.CodecInfo(testAVCC, 2_000_000, 25)
	assert.Equal(t, "h264", info.Codec)
	assert.Equal(t, 4, info.NALUnitLength)
	assert.Equal(t, 25, info.FrameRate)
}

func TestParseAVCDecoderConfigurationRecordErrors(t *testing.T) {
	cases := map[string][]byte{
		"too short":     {0x01, 0x42},
		"bad version":   append([]byte{0x02}, testAVCC[1:]...),
		"no sps":        {0x01, 0x42, 0x00, 0x1E, 0xFF, 0xE0, 0x00},
		"truncated sps": testAVCC[:20],
		"missing pps":   testAVCC[:42],
		"truncated pps": testAVCC[:47],
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAVCDecoderConfigurationRecord(data)
			assert.Error(t, err)
		})
	}
}

func TestFLVVideoPacket(t *testing.T) {
	pkt := BuildFLVVideoPacket(true, AVCPacketTypeSequenceHeader, 0, testAVCC)
	assert.Equal(t, byte(0x17), pkt[0])
	assert.Equal(t, byte(0), pkt[1])

	seq, key, data, err := ParseFLVVideoPacket(pkt)
	require.NoError(t, err)
	assert.True(t, seq)
	assert.True(t, key)
	assert.Equal(t, testAVCC, data)

	pkt = BuildFLVVideoPacket(false, AVCPacketTypeNALU, 40, []byte{0, 0, 0, 1, 0x41})
	assert.Equal(t, byte(0x27), pkt[0])
	assert.Equal(t, []byte{0, 0, 40}, pkt[2:5])

	seq, key, _, err = ParseFLVVideoPacket(pkt)
	require.NoError(t, err)
	assert.False(t, seq)
	assert.False(t, key)

	_, _, _, err = ParseFLVVideoPacket([]byte{0x12, 0, 0, 0, 0})
	assert.Error(t, err, "not AVC")
}

func TestAnnexBConversion(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1E}
	pps := []byte{0x68, 0xCE}
	slice := []byte{0x65, 0x88, 0x84, 0x00, 0x10}

	var annexB []byte
	annexB = append(annexB, StartCode4...)
	annexB = append(annexB, sps...)
	annexB = append(annexB, StartCode3...)
	annexB = append(annexB, pps...)
	annexB = append(annexB, StartCode4...)
	annexB = append(annexB, slice...)

	nalus := SplitAnnexB(annexB)
	require.Len(t, nalus, 3)
	assert.Equal(t, sps, nalus[0])
	assert.Equal(t, pps, nalus[1])
	assert.Equal(t, slice, nalus[2])

	avcc, err := ConvertAnnexBToAVCC(annexB)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(sps)), binary.BigEndian.Uint32(avcc[0:4]))
	assert.True(t, IsAVCCFormat(avcc))
	assert.False(t, IsAnnexBFormat(avcc))

	back, err := ConvertAVCCToAnnexB(avcc)
	require.NoError(t, err)
	assert.True(t, IsAnnexBFormat(back))
	assert.Equal(t, [][]byte{sps, pps, slice}, SplitAnnexB(back))

	_, err = ConvertAnnexBToAVCC([]byte{1, 2, 3})
	assert.Error(t, err)
	_, err = ConvertAVCCToAnnexB(nil)
	assert.Error(t, err)
	_, err = ConvertAVCCToAnnexB([]byte{0, 0, 0, 9, 0x65})
	assert.Error(t, err)
}

func TestToAVCCSample(t *testing.T) {
	annexB := append(append([]byte{}, StartCode4...), 0x65, 0x01, 0x02)
	assert.Equal(t, []byte{0, 0, 0, 3, 0x65, 0x01, 0x02}, ToAVCCSample(annexB))

	avcc := []byte{0, 0, 0, 2, 0x41, 0x9A}
	assert.Equal(t, avcc, ToAVCCSample(avcc))

	raw := []byte{0x80, 0x80, 0x80}
	assert.Equal(t, []byte{0, 0, 0, 3, 0x80, 0x80, 0x80}, ToAVCCSample(raw))
}

// topLevelBoxes lists the box types at the top of an MP4 byte stream
func topLevelBoxes(t *testing.T, data []byte) []string {
	t.Helper()
	var types []string
	for off := 0; off < len(data); {
		require.GreaterOrEqual(t, len(data)-off, 8)
		size := int(binary.BigEndian.Uint32(data[off : off+4]))
		require.Greater(t, size, 0)
		types = append(types, string(data[off+4:off+8]))
		off += size
	}
	return types
}

func TestCreateInitSegment(t *testing.T) {
	rec, err := ParseAVCDecoderConfigurationRecord(testAVCC)
	require.NoError(t, err)

	m := NewFragmentMuxer(10_000)
	assert.Equal(t, uint32(1000), m.Timescale())

	data, err := m.CreateInitSegment(rec.CodecInfo(testAVCC, 0, 25))
	require.NoError(t, err)
	assert.Equal(t, []string{"ftyp", "moov"}, topLevelBoxes(t, data))

	box, err := mp4.DecodeBox(0, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "ftyp", box.Type())

	_, err = m.CreateInitSegment(&models.CodecInfo{})
	assert.Error(t, err)
}

func TestCreateMediaSegment(t *testing.T) {
	m := NewFragmentMuxer(10_000)
	base := int64(17_000_000_000_000)

	frames := make([]*models.Frame, 0, 5)
	for i := 0; i < 5; i++ {
		flags := models.FrameFlagNone
		if i == 0 {
			flags = models.FrameFlagKeyFrame
		}
		ts := base + int64(i)*400_000
		frames = append(frames, &models.Frame{
			Index:          uint64(i),
			Flags:          flags,
			DecodingTs:     ts,
			PresentationTs: ts,
			Duration:       200_000,
			Data:           []byte{0x80, byte(i), 0x01},
		})
	}

	data, err := m.CreateMediaSegment(3, frames, base)
	require.NoError(t, err)
	assert.Equal(t, []string{"moof", "mdat"}, topLevelBoxes(t, data))

	box, err := mp4.DecodeBox(0, bytes.NewReader(data))
	require.NoError(t, err)
	moof, ok := box.(*mp4.MoofBox)
	require.True(t, ok)
	assert.Equal(t, uint32(3), moof.Mfhd.SequenceNumber)

	_, err = m.CreateMediaSegment(0, nil, 0)
	assert.Error(t, err)

	_, err = m.CreateMediaSegment(0, frames, base+1_000_000)
	assert.Error(t, err, "frames before the base time")
}

func TestNewFragmentMuxerDefaults(t *testing.T) {
	assert.Equal(t, uint32(10_000_000), NewFragmentMuxer(0).Timescale())
	assert.Equal(t, uint32(10_000_000), NewFragmentMuxer(-5).Timescale())
	assert.Equal(t, uint32(1), NewFragmentMuxer(10_000_000).Timescale())
}
