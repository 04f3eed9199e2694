package streammanager

import (
	"errors"

	"camproducer/internal/producer"
	"camproducer/pkg/models"
)

// Limits on fragment metadata entries
const (
	MaxMetadataNameLen  = 128
	MaxMetadataValueLen = 256
)

// ErrStreamAlreadyLive is returned when a live stream name is registered twice
var ErrStreamAlreadyLive = errors.New("stream is already live")

// Handle is the producer.Stream view of a registered stream
type Handle struct {
	manager *Manager
	name    string
}

// Handle returns the producer stream for name. Operations fail with ErrStreamNotFound once
// the stream is deleted.
func (m *Manager) Handle(name string) *Handle {
	return &Handle{manager: m, name: name}
}

func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) PutFrame(frame *models.Frame) error {
	return h.manager.PutFrame(h.name, frame)
}

func (h *Handle) StreamFormatChanged(codecPrivateData []byte, trackIndex uint64) error {
	return h.manager.StreamFormatChanged(h.name, codecPrivateData, trackIndex)
}

func (h *Handle) PutFragmentMetadata(name, value string, persistent bool) error {
	return h.manager.PutFragmentMetadata(h.name, name, value, persistent)
}

var _ producer.Stream = (*Handle)(nil)
