package models

import (
	"bytes"
	"fmt"
	"math"
	"time"
)

// Segment represents a produced fMP4 media fragment
type Segment struct {
	StreamName  string            `json:"streamName"`         // Stream this segment belongs to
	SequenceNum uint64            `json:"sequenceNum"`        // Segment sequence number
	Duration    float64           `json:"duration"`           // Duration in seconds
	FilePath    string            `json:"filePath"`           // Path inside the storage backend
	FileSize    int64             `json:"fileSize"`           // Size in bytes
	FrameCount  int               `json:"frameCount"`         // Frames muxed into the segment
	StartTs     int64             `json:"startTs"`            // Decode timestamp of the first frame (100ns)
	CreatedAt   time.Time         `json:"createdAt"`          // When segment was created
	IsAvailable bool              `json:"isAvailable"`        // Whether segment is ready for serving
	Metadata    map[string]string `json:"metadata,omitempty"` // Fragment metadata attached by the producer
}

// FileName returns the playlist-relative name of the segment
func (s *Segment) FileName() string {
	return fmt.Sprintf("segment_%d.m4s", s.SequenceNum)
}

// Playlist represents an HLS playlist state
type Playlist struct {
	StreamName      string     // Stream this playlist belongs to
	TargetDuration  int        // EXT-X-TARGETDURATION
	MediaSequence   uint64     // EXT-X-MEDIA-SEQUENCE
	Segments        []*Segment // List of segments in playlist
	InitSegmentPath string     // Path to init.mp4
	MaxSegments     int        // Max segments to keep in playlist (sliding window)
	LastUpdated     time.Time  // Last time playlist was updated
}

// AddSegment adds a new segment to the playlist and maintains the sliding window.
// The segment that fell out of the window, if any, is returned so its file can be removed.
func (p *Playlist) AddSegment(seg *Segment) *Segment {
	p.Segments = append(p.Segments, seg)
	p.LastUpdated = time.Now()

	if d := int(math.Ceil(seg.Duration)); d > p.TargetDuration {
		p.TargetDuration = d
	}

	// Maintain sliding window
	if p.MaxSegments > 0 && len(p.Segments) > p.MaxSegments {
		evicted := p.Segments[0]
		p.Segments = p.Segments[1:]
		p.MediaSequence = p.Segments[0].SequenceNum
		return evicted
	}

	if len(p.Segments) == 1 {
		p.MediaSequence = seg.SequenceNum
	}
	return nil
}

// GetM3U8Content generates the HLS playlist content
func (p *Playlist) GetM3U8Content() string {
	var buf bytes.Buffer

	buf.WriteString("#EXTM3U\n")
	buf.WriteString("#EXT-X-VERSION:7\n")
	fmt.Fprintf(&buf, "#EXT-X-TARGETDURATION:%d\n", p.TargetDuration)
	fmt.Fprintf(&buf, "#EXT-X-MEDIA-SEQUENCE:%d\n", p.MediaSequence)

	if p.InitSegmentPath != "" {
		buf.WriteString("#EXT-X-MAP:URI=\"init.mp4\"\n")
	}

	for _, seg := range p.Segments {
		fmt.Fprintf(&buf, "#EXTINF:%.3f,\n", seg.Duration)
		buf.WriteString(seg.FileName() + "\n")
	}

	// Live playlist: no EXT-X-ENDLIST
	return buf.String()
}

// FragmentAckType identifies the stage a fragment reached in the producer
type FragmentAckType string

const (
	FragmentAckBuffering FragmentAckType = "buffering"
	FragmentAckPersisted FragmentAckType = "persisted"
	FragmentAckError     FragmentAckType = "error"
)

// FragmentAck acknowledges a fragment to whoever registered for acks on the stream
type FragmentAck struct {
	Type           FragmentAckType
	StreamName     string
	SequenceNumber uint64
	Timecode       int64 // Decode timestamp of the fragment start (100ns)
	Err            error
}
