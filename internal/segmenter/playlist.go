package segmenter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"camproducer/internal/muxer"
	"camproducer/pkg/models"
)

// PlaylistManager manages the playlist and fragments of one stream. Frames are only touched
// by the processFrames goroutine; mu guards what HTTP readers see.
type PlaylistManager struct {
	streamName string
	stream     *models.Stream
	segmenter  *Segmenter
	muxer      *muxer.FragmentMuxer
	playlist   *models.Playlist
	cleanup    func()
	done       chan struct{}
	log        *zerolog.Logger

	fragmentDuration int64 // 100ns units
	keyFrameAligned  bool
	absoluteTimes    bool
	acks             bool

	// owned by processFrames
	current        *segmentBuffer
	sequenceNumber uint64
	initVersion    uint64
	baseTs         int64
	hasBase        bool

	mu sync.RWMutex
}

// segmentBuffer buffers the frames of the fragment being built
type segmentBuffer struct {
	frames   []*models.Frame
	lastSeen time.Time
}

// processFrames processes incoming frames and creates fragments
func (pm *PlaylistManager) processFrames(frameChan <-chan *models.Frame) {
	defer close(pm.done)

	pm.current = &segmentBuffer{}

	// Flushes a fragment when frames stop arriving
	ticker := time.NewTicker(time.Duration(pm.fragmentDuration) * 100)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-frameChan:
			if !ok {
				pm.finalizeSegment()
				return
			}
			pm.addFrame(frame)

		case <-ticker.C:
			if len(pm.current.frames) > 0 && time.Since(pm.current.lastSeen) >= time.Duration(pm.fragmentDuration)*100 {
				pm.finalizeSegment()
			}
		}
	}
}

// addFrame adds a frame to the current fragment, closing the fragment first when the frame
// starts a new one
func (pm *PlaylistManager) addFrame(frame *models.Frame) {
	buf := pm.current

	// Every fragment starts with a key frame
	if len(buf.frames) == 0 && !frame.IsKeyFrame() {
		pm.log.Debug().Uint64("frame_index", frame.Index).Msg("Waiting for key frame")
		return
	}

	if len(buf.frames) > 0 && pm.startsNewFragment(frame) {
		pm.finalizeSegment()
		buf = pm.current
	}

	if !pm.hasBase {
		pm.baseTs = frame.DecodingTs
		pm.hasBase = true
	}

	buf.frames = append(buf.frames, frame)
	buf.lastSeen = time.Now()
}

// startsNewFragment decides whether frame opens the next fragment. Key frame aligned streams
// cut at the first key frame once the fragment duration is reached; others cut on duration alone.
func (pm *PlaylistManager) startsNewFragment(frame *models.Frame) bool {
	span := frame.DecodingTs - pm.current.frames[0].DecodingTs
	if span < pm.fragmentDuration {
		return false
	}
	return !pm.keyFrameAligned || frame.IsKeyFrame()
}

// finalizeSegment muxes the buffered frames into a fragment and stores it
func (pm *PlaylistManager) finalizeSegment() {
	frames := pm.current.frames
	pm.current = &segmentBuffer{}

	if len(frames) == 0 {
		return
	}

	codec, version := pm.stream.GetCodecInfo()
	if codec == nil {
		pm.log.Warn().Int("frames", len(frames)).Msg("No codec configuration, dropping fragment")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	store := pm.segmenter.storage
	m := pm.segmenter.metrics

	// (Re)write the init segment whenever the stream format changes
	if version != pm.initVersion {
		initData, err := pm.muxer.CreateInitSegment(codec)
		if err != nil {
			pm.log.Error().Err(err).Msg("Failed to create init segment")
			return
		}
		if err := store.Write(ctx, InitPath(pm.streamName), initData); err != nil {
			pm.log.Error().Err(err).Msg("Failed to write init segment")
			return
		}
		pm.initVersion = version

		pm.mu.Lock()
		pm.playlist.InitSegmentPath = InitPath(pm.streamName)
		pm.mu.Unlock()

		pm.log.Info().Uint64("format_version", version).Int("bytes", len(initData)).Msg("Created init segment")
	}

	segmentNum := pm.sequenceNumber
	pm.sequenceNumber++

	base := int64(0)
	if !pm.absoluteTimes {
		base = pm.baseTs
	}
	timecode := frames[0].DecodingTs - base

	pm.ack(models.FragmentAckBuffering, segmentNum, timecode, nil)

	data, err := pm.muxer.CreateMediaSegment(uint32(segmentNum+1), frames, base)
	if err != nil {
		pm.log.Error().Err(err).Uint64("segment", segmentNum).Msg("Failed to mux fragment")
		pm.ack(models.FragmentAckError, segmentNum, timecode, err)
		return
	}

	path := SegmentPath(pm.streamName, segmentNum)
	if err := store.Write(ctx, path, data); err != nil {
		pm.log.Error().Err(err).Uint64("segment", segmentNum).Msg("Failed to write fragment")
		pm.ack(models.FragmentAckError, segmentNum, timecode, err)
		return
	}

	last := frames[len(frames)-1]
	durationSec := float64(last.DecodingTs-frames[0].DecodingTs+last.Duration) / 1e7

	segment := &models.Segment{
		StreamName:  pm.streamName,
		SequenceNum: segmentNum,
		Duration:    durationSec,
		FilePath:    path,
		FileSize:    int64(len(data)),
		FrameCount:  len(frames),
		StartTs:     frames[0].DecodingTs,
		CreatedAt:   time.Now(),
		IsAvailable: true,
		Metadata:    pm.stream.TakeFragmentMetadata(),
	}

	pm.mu.Lock()
	evicted := pm.playlist.AddSegment(segment)
	playlist := pm.playlist.GetM3U8Content()
	pm.mu.Unlock()

	m.RecordSegment(durationSec, segment.FileSize)

	if evicted != nil {
		if err := store.Delete(ctx, evicted.FilePath); err != nil {
			pm.log.Warn().Err(err).Uint64("segment", evicted.SequenceNum).Msg("Failed to delete old fragment")
		} else {
			m.RecordSegmentDeleted()
		}
	}

	if err := store.Write(ctx, PlaylistPath(pm.streamName), []byte(playlist)); err != nil {
		pm.log.Warn().Err(err).Msg("Failed to write playlist")
	}

	pm.ack(models.FragmentAckPersisted, segmentNum, timecode, nil)

	pm.log.Debug().
		Uint64("segment", segmentNum).
		Int("frames", len(frames)).
		Float64("duration", durationSec).
		Float64("size_kb", float64(len(data))/1024).
		Msg("Created fragment")
}

// ack reports fragment progress when the stream asked for acknowledgements
func (pm *PlaylistManager) ack(t models.FragmentAckType, seq uint64, timecode int64, err error) {
	if !pm.acks {
		return
	}
	pm.segmenter.streamManager.Ack(models.FragmentAck{
		Type:           t,
		StreamName:     pm.streamName,
		SequenceNumber: seq,
		Timecode:       timecode,
		Err:            err,
	})
}

// generatePlaylist generates the HLS playlist
func (pm *PlaylistManager) generatePlaylist() string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.playlist.GetM3U8Content()
}

// segments returns a copy of the fragments in the playlist window
func (pm *PlaylistManager) segments() []*models.Segment {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]*models.Segment, 0, len(pm.playlist.Segments))
	for _, seg := range pm.playlist.Segments {
		cp := *seg
		out = append(out, &cp)
	}
	return out
}
