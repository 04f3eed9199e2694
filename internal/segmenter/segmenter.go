package segmenter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"camproducer/internal/logger"
	"camproducer/internal/metrics"
	"camproducer/internal/muxer"
	"camproducer/internal/storage"
	"camproducer/internal/streammanager"
	"camproducer/pkg/models"
)

const (
	// DefaultMaxSegments is the sliding window size of the live playlist
	DefaultMaxSegments = 10

	// subscriberBuffer is the frame channel size per segmented stream
	subscriberBuffer = 1000

	// writeTimeout bounds a single storage write
	writeTimeout = 10 * time.Second
)

// Segmenter packages producer streams into fMP4 fragments and a live HLS playlist
type Segmenter struct {
	storage       storage.Storage
	streamManager *streammanager.Manager
	metrics       *metrics.Metrics
	playlists     map[string]*PlaylistManager
	mu            sync.RWMutex

	maxSegments int
	log         *zerolog.Logger
}

// New creates a new segmenter. maxSegments <= 0 selects DefaultMaxSegments.
func New(store storage.Storage, streamManager *streammanager.Manager, m *metrics.Metrics, maxSegments int) *Segmenter {
	if maxSegments <= 0 {
		maxSegments = DefaultMaxSegments
	}
	return &Segmenter{
		storage:       store,
		streamManager: streamManager,
		metrics:       m,
		playlists:     make(map[string]*PlaylistManager),
		maxSegments:   maxSegments,
		log:           logger.WithComponent("segmenter"),
	}
}

// StartSegmenting starts segmentation for a live stream
func (s *Segmenter) StartSegmenting(name string) error {
	stream, exists := s.streamManager.GetStream(name)
	if !exists {
		return fmt.Errorf("stream %s not found", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.playlists[name]; exists {
		return fmt.Errorf("already segmenting stream %s", name)
	}

	info := stream.Info
	pm := &PlaylistManager{
		streamName: name,
		stream:     stream,
		segmenter:  s,
		muxer:      muxer.NewFragmentMuxer(info.Timescale),
		playlist: &models.Playlist{
			StreamName:     name,
			TargetDuration: int(info.FragmentDuration.Seconds()),
			MaxSegments:    s.maxSegments,
		},
		fragmentDuration: int64(info.FragmentDuration / 100), // 100ns units
		keyFrameAligned:  info.KeyFrameFragmentation,
		absoluteTimes:    info.AbsoluteFragmentTimes,
		acks:             info.FragmentAcks,
		done:             make(chan struct{}),
		log:              logger.WithStream("segmenter", name),
	}
	if pm.fragmentDuration <= 0 {
		pm.fragmentDuration = int64(2 * time.Second / 100)
	}

	s.playlists[name] = pm

	frameChan, cleanup := s.streamManager.Subscribe(name, subscriberBuffer)
	pm.cleanup = cleanup

	go pm.processFrames(frameChan)

	s.log.Info().
		Str("stream", name).
		Bool("key_frame_fragmentation", pm.keyFrameAligned).
		Dur("fragment_duration", info.FragmentDuration).
		Msg("Started segmentation")
	return nil
}

// StopSegmenting stops segmentation for a stream after flushing the pending fragment
func (s *Segmenter) StopSegmenting(name string) {
	s.mu.Lock()
	pm, exists := s.playlists[name]
	if exists {
		delete(s.playlists, name)
	}
	s.mu.Unlock()

	if !exists {
		return
	}

	if pm.cleanup != nil {
		pm.cleanup()
	}
	<-pm.done

	s.log.Info().Str("stream", name).Msg("Stopped segmentation")
}

// Close stops all segmentation
func (s *Segmenter) Close() {
	s.mu.RLock()
	names := make([]string, 0, len(s.playlists))
	for name := range s.playlists {
		names = append(names, name)
	}
	s.mu.RUnlock()

	for _, name := range names {
		s.StopSegmenting(name)
	}
}

func (s *Segmenter) playlistManager(name string) (*PlaylistManager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pm, exists := s.playlists[name]
	if !exists {
		return nil, fmt.Errorf("stream %s not found", name)
	}
	return pm, nil
}

// GetPlaylist returns the HLS playlist for a stream
func (s *Segmenter) GetPlaylist(name string) (string, error) {
	pm, err := s.playlistManager(name)
	if err != nil {
		return "", err
	}
	return pm.generatePlaylist(), nil
}

// GetSegments returns the fragments currently in the playlist window
func (s *Segmenter) GetSegments(name string) ([]*models.Segment, error) {
	pm, err := s.playlistManager(name)
	if err != nil {
		return nil, err
	}
	return pm.segments(), nil
}

// GetSegment returns a fragment's data
func (s *Segmenter) GetSegment(ctx context.Context, name string, segmentNum uint64) ([]byte, error) {
	return s.storage.Read(ctx, SegmentPath(name, segmentNum))
}

// GetInitSegment returns the initialization segment
func (s *Segmenter) GetInitSegment(ctx context.Context, name string) ([]byte, error) {
	return s.storage.Read(ctx, InitPath(name))
}

// SegmentPath is the storage path of a fragment
func SegmentPath(name string, segmentNum uint64) string {
	return fmt.Sprintf("%s/segment_%d.m4s", name, segmentNum)
}

// InitPath is the storage path of the initialization segment
func InitPath(name string) string {
	return fmt.Sprintf("%s/init.mp4", name)
}

// PlaylistPath is the storage path of the live playlist
func PlaylistPath(name string) string {
	return fmt.Sprintf("%s/index.m3u8", name)
}
