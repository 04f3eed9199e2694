package models

// StreamStatus represents producer stream state returned by the API
type StreamStatus struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Active             bool   `json:"active"`
	State              string `json:"state"`
	StartedAt          string `json:"startedAt,omitempty"`
	Duration           int    `json:"duration,omitempty"` // seconds
	Codec              string `json:"codec,omitempty"`
	CodecID            string `json:"codecId,omitempty"`
	FormatVersion      uint64 `json:"formatVersion"`
	Bitrate            int    `json:"bitrate,omitempty"`
	FrameRate          int    `json:"frameRate,omitempty"`
	FramesReceived     uint64 `json:"framesReceived"`
	KeyFramesReceived  uint64 `json:"keyFramesReceived"`
	BytesReceived      uint64 `json:"bytesReceived"`
	DroppedFrames      uint64 `json:"droppedFrames"`
	FragmentsPersisted uint64 `json:"fragmentsPersisted"`
	LastFrameAt        string `json:"lastFrameAt,omitempty"`
}

// StreamListResponse represents a list of streams
type StreamListResponse struct {
	Streams []StreamStatus `json:"streams"`
	Total   int            `json:"total"`
}

// SourceStatus describes the media source feeding a stream
type SourceStatus struct {
	StreamName string `json:"streamName"`
	State      string `json:"state"`
	Device     string `json:"device,omitempty"`
	FrameRate  int    `json:"frameRate,omitempty"`
	Bitrate    int    `json:"bitrate,omitempty"`
	FrameIndex uint64 `json:"frameIndex"`
	Error      string `json:"error,omitempty"`
}

// MetadataRequest attaches a name/value pair to the next fragment of a stream
type MetadataRequest struct {
	Name       string `json:"name" binding:"required"`
	Value      string `json:"value"`
	Persistent bool   `json:"persistent"`
}

// FragmentListResponse lists the fragments in a stream's playlist window
type FragmentListResponse struct {
	StreamName string     `json:"streamName"`
	Fragments  []*Segment `json:"fragments"`
	Total      int        `json:"total"`
}
