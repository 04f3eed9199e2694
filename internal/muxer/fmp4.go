package muxer

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"

	"camproducer/pkg/models"
)

const (
	// hundredsOfNanosPerSecond is the frame timestamp resolution
	hundredsOfNanosPerSecond = 10_000_000

	// VideoTrackID is the track id of the single video track
	VideoTrackID = 1
)

// FragmentMuxer packages H.264 frames as fragmented MP4 (CMAF) segments using mp4ff
type FragmentMuxer struct {
	unit      int64  // 100ns units per media tick
	timescale uint32 // media ticks per second
}

// NewFragmentMuxer creates a muxer for a stream whose descriptor timescale is expressed in
// 100ns units per tick (10_000 gives millisecond ticks). Zero keeps 100ns ticks.
func NewFragmentMuxer(descriptorTimescale int64) *FragmentMuxer {
	unit := descriptorTimescale
	if unit <= 0 || unit > hundredsOfNanosPerSecond {
		unit = 1
	}
	return &FragmentMuxer{
		unit:      unit,
		timescale: uint32(hundredsOfNanosPerSecond / unit),
	}
}

// Timescale returns the track timescale in ticks per second
func (m *FragmentMuxer) Timescale() uint32 {
	return m.timescale
}

// CreateInitSegment builds the ftyp+moov initialization segment for the codec configuration
func (m *FragmentMuxer) CreateInitSegment(codec *models.CodecInfo) ([]byte, error) {
	if codec == nil || len(codec.SPS) == 0 {
		return nil, fmt.Errorf("no video codec data provided")
	}

	initSeg := mp4.CreateEmptyInit()
	initSeg.AddEmptyTrack(m.timescale, "video", "und")

	trak := initSeg.Moov.Trak
	if err := trak.SetAVCDescriptor("avc1", codec.SPS, codec.PPS, true); err != nil {
		return nil, fmt.Errorf("failed to set AVC descriptor: %w", err)
	}

	var buf bytes.Buffer
	if err := initSeg.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode init segment: %w", err)
	}
	return buf.Bytes(), nil
}

// CreateMediaSegment muxes frames into a moof+mdat fragment. Decode times are taken relative
// to baseTs (100ns); pass 0 for absolute times.
func (m *FragmentMuxer) CreateMediaSegment(seqNum uint32, frames []*models.Frame, baseTs int64) ([]byte, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames to mux")
	}

	frag, err := mp4.CreateFragment(seqNum, VideoTrackID)
	if err != nil {
		return nil, fmt.Errorf("failed to create fragment: %w", err)
	}

	for i, frame := range frames {
		dts := frame.DecodingTs - baseTs
		if dts < 0 {
			return nil, fmt.Errorf("frame %d decodes before the stream base time", frame.Index)
		}

		// Sample duration is the gap to the next frame, or the nominal duration for the last one
		dur := frame.Duration
		if i+1 < len(frames) {
			if gap := frames[i+1].DecodingTs - frame.DecodingTs; gap > 0 {
				dur = gap
			}
		}

		var flags uint32 = mp4.NonSyncSampleFlags
		if frame.IsKeyFrame() {
			flags = mp4.SyncSampleFlags
		}

		data := ToAVCCSample(frame.Data)
		frag.AddFullSample(mp4.FullSample{
			Sample: mp4.Sample{
				Flags:                 flags,
				Dur:                   uint32(dur / m.unit),
				Size:                  uint32(len(data)),
				CompositionTimeOffset: int32((frame.PresentationTs - frame.DecodingTs) / m.unit),
			},
			DecodeTime: uint64(dts / m.unit),
			Data:       data,
		})
	}

	var buf bytes.Buffer
	if err := frag.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode media segment: %w", err)
	}
	return buf.Bytes(), nil
}
