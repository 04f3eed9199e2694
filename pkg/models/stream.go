package models

import (
	"sync"
	"time"
)

// StreamState represents the current state of a producer stream
type StreamState string

const (
	StreamStateReady    StreamState = "ready"
	StreamStateLive     StreamState = "live"
	StreamStateStopping StreamState = "stopping"
	StreamStateStopped  StreamState = "stopped"
)

// Stream represents a producer stream registered from a StreamInfo
type Stream struct {
	ID        string      // Unique stream id
	Name      string      // Stream name from the descriptor
	Info      *StreamInfo // Immutable descriptor the stream was created with
	State     StreamState // Current state
	CreatedAt time.Time   // When the stream was registered
	StartedAt time.Time   // When stream went live
	StoppedAt *time.Time  // When stream stopped (if stopped)

	// Stats
	Stats StreamStats

	codec         *CodecInfo
	formatVersion uint64
	metadata      map[string]FragmentMetadata

	mu sync.RWMutex // Protects concurrent access
}

// StreamStats tracks stream statistics
type StreamStats struct {
	BytesReceived      uint64    // Total payload bytes accepted
	FramesReceived     uint64    // Total frames accepted
	KeyFramesReceived  uint64    // Total key frames accepted
	DroppedFrames      uint64    // Frames dropped by slow subscribers
	FragmentsPersisted uint64    // Fragments acknowledged as persisted
	LastFrameTime      time.Time // Wall-clock time of last accepted frame
	FirstDecodingTs    int64     // Decode timestamp of the first frame (100ns)
	LastDecodingTs     int64     // Decode timestamp of the last frame (100ns)
}

// FragmentMetadata is a name/value pair attached to produced fragments
type FragmentMetadata struct {
	Value      string `json:"value"`
	Persistent bool   `json:"persistent"`
}

// NewStream creates a stream in the ready state
func NewStream(id string, info *StreamInfo) *Stream {
	s := &Stream{
		ID:        id,
		Name:      info.Name,
		Info:      info,
		State:     StreamStateReady,
		CreatedAt: time.Now(),
		metadata:  make(map[string]FragmentMetadata),
	}
	if len(info.CodecPrivateData) > 0 {
		s.codec = &CodecInfo{
			Codec:       "h264",
			PrivateData: info.CodecPrivateData,
			Bitrate:     info.AvgBandwidthBps,
			FrameRate:   info.FrameRate,
		}
		s.formatVersion = 1
	}
	return s
}

// AcceptFrame records a frame in the stream statistics. It returns false without touching the
// statistics when the frame's decode timestamp goes backwards.
func (s *Stream) AcceptFrame(frame *Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Stats.FramesReceived > 0 && frame.DecodingTs < s.Stats.LastDecodingTs {
		return false
	}
	if s.Stats.FramesReceived == 0 {
		s.Stats.FirstDecodingTs = frame.DecodingTs
	}

	s.Stats.FramesReceived++
	s.Stats.BytesReceived += uint64(len(frame.Data))
	s.Stats.LastFrameTime = time.Now()
	s.Stats.LastDecodingTs = frame.DecodingTs

	if frame.IsKeyFrame() {
		s.Stats.KeyFramesReceived++
	}
	return true
}

// SetState safely updates the stream state
func (s *Stream) SetState(state StreamState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state

	if state == StreamStateLive && s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	} else if state == StreamStateStopped {
		now := time.Now()
		s.StoppedAt = &now
	}
}

// GetState safely returns the current stream state
func (s *Stream) GetState() StreamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// IncrementDroppedFrames increments the dropped frames counter
func (s *Stream) IncrementDroppedFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats.DroppedFrames++
}

// IncrementFragmentsPersisted increments the persisted fragments counter
func (s *Stream) IncrementFragmentsPersisted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats.FragmentsPersisted++
}

// GetStats returns a copy of the stream statistics
func (s *Stream) GetStats() StreamStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Stats
}

// SetCodecInfo replaces the codec configuration and bumps the format version
func (s *Stream) SetCodecInfo(info *CodecInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codec = info
	s.formatVersion++
}

// GetCodecInfo returns the codec configuration together with its format version.
// Version 0 means no codec configuration has been supplied yet.
func (s *Stream) GetCodecInfo() (*CodecInfo, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codec, s.formatVersion
}

// AddFragmentMetadata queues metadata for the next fragment
func (s *Stream) AddFragmentMetadata(name, value string, persistent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[name] = FragmentMetadata{Value: value, Persistent: persistent}
}

// TakeFragmentMetadata returns the metadata for the fragment being closed. Non-persistent
// entries are consumed; persistent entries stay for later fragments.
func (s *Stream) TakeFragmentMetadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.metadata) == 0 {
		return nil
	}

	out := make(map[string]string, len(s.metadata))
	for name, md := range s.metadata {
		out[name] = md.Value
		if !md.Persistent {
			delete(s.metadata, name)
		}
	}
	return out
}

// IsStale reports whether no frame arrived within the descriptor's staleness window
func (s *Stream) IsStale(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Info == nil || s.Info.ConnectionStaleness <= 0 || s.Stats.LastFrameTime.IsZero() {
		return false
	}
	return now.Sub(s.Stats.LastFrameTime) > s.Info.ConnectionStaleness
}
