package streammanager

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"camproducer/internal/logger"
	"camproducer/internal/metrics"
	"camproducer/internal/muxer"
	"camproducer/internal/producer"
	"camproducer/pkg/models"
)

// AckListener receives fragment acknowledgements for a stream
type AckListener func(ack models.FragmentAck)

// Manager handles producer stream lifecycle and maintains the in-memory registry
type Manager struct {
	streams map[string]*models.Stream // stream name -> Stream
	mu      sync.RWMutex

	// Channels for pub/sub
	subscribers map[string][]chan *models.Frame // stream name -> list of subscriber channels
	subMu       sync.RWMutex

	ackListeners map[string][]AckListener
	ackMu        sync.RWMutex

	metrics *metrics.Metrics
	log     *zerolog.Logger
}

// New creates a new stream manager. m may be nil.
func New(m *metrics.Metrics) *Manager {
	return &Manager{
		streams:      make(map[string]*models.Stream),
		subscribers:  make(map[string][]chan *models.Frame),
		ackListeners: make(map[string][]AckListener),
		metrics:      m,
		log:          logger.WithComponent("streammanager"),
	}
}

// CreateStream registers a producer stream from its descriptor and puts it live.
// A stream that is already live under the same name is rejected.
func (m *Manager) CreateStream(info *models.StreamInfo) (*models.Stream, error) {
	if info == nil || info.Name == "" {
		return nil, producer.NewError("create_stream", "", producer.ErrInvalidMetadata)
	}

	if len(info.CodecPrivateData) > 0 {
		if _, err := muxer.ParseAVCDecoderConfigurationRecord(info.CodecPrivateData); err != nil {
			return nil, producer.NewError("create_stream", info.Name, producer.ErrInvalidCodecData)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if stream, exists := m.streams[info.Name]; exists {
		if stream.GetState() == models.StreamStateLive {
			return nil, producer.NewError("create_stream", info.Name, ErrStreamAlreadyLive)
		}
	}

	stream := models.NewStream(uuid.NewString(), info)
	if codec, _ := stream.GetCodecInfo(); codec != nil {
		if rec, err := muxer.ParseAVCDecoderConfigurationRecord(codec.PrivateData); err == nil {
			stream.SetCodecInfo(rec.CodecInfo(codec.PrivateData, info.AvgBandwidthBps, info.FrameRate))
		}
	}
	stream.SetState(models.StreamStateLive)

	m.streams[info.Name] = stream
	m.metrics.RecordStreamStart()

	m.log.Info().
		Str("stream", info.Name).
		Str("id", stream.ID).
		Str("codec_id", info.CodecID).
		Int("frame_rate", info.FrameRate).
		Msg("Producer stream created")
	return stream, nil
}

// GetStream retrieves a stream by name
func (m *Manager) GetStream(name string) (*models.Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stream, exists := m.streams[name]
	return stream, exists
}

// GetAllStreams returns all streams
func (m *Manager) GetAllStreams() []*models.Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()

	streams := make([]*models.Stream, 0, len(m.streams))
	for _, stream := range m.streams {
		streams = append(streams, stream)
	}

	return streams
}

// GetLiveStreams returns only live streams
func (m *Manager) GetLiveStreams() []*models.Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()

	streams := make([]*models.Stream, 0)
	for _, stream := range m.streams {
		if stream.GetState() == models.StreamStateLive {
			streams = append(streams, stream)
		}
	}

	return streams
}

// liveStream returns the named stream if it exists and is live
func (m *Manager) liveStream(op, name string) (*models.Stream, error) {
	stream, exists := m.GetStream(name)
	if !exists {
		m.metrics.RecordProducerError(name, op)
		return nil, producer.NewError(op, name, producer.ErrStreamNotFound)
	}
	if stream.GetState() != models.StreamStateLive {
		m.metrics.RecordProducerError(name, op)
		return nil, producer.NewError(op, name, producer.ErrStreamNotLive)
	}
	return stream, nil
}

// PutFrame accepts a frame into a live stream and fans it out to subscribers
func (m *Manager) PutFrame(name string, frame *models.Frame) error {
	stream, err := m.liveStream(producer.OpPutFrame, name)
	if err != nil {
		return err
	}

	if frame == nil || len(frame.Data) == 0 {
		m.metrics.RecordProducerError(name, producer.OpPutFrame)
		return producer.NewError(producer.OpPutFrame, name, producer.ErrEmptyFrame)
	}
	if frame.TrackID != 0 {
		m.metrics.RecordProducerError(name, producer.OpPutFrame)
		return producer.NewError(producer.OpPutFrame, name, producer.ErrInvalidTrack)
	}

	if !stream.AcceptFrame(frame) {
		m.metrics.RecordProducerError(name, producer.OpPutFrame)
		return producer.NewError(producer.OpPutFrame, name, producer.ErrTimestampRegression)
	}

	m.publish(stream, frame)
	return nil
}

// publish sends a frame to all subscribers without blocking
func (m *Manager) publish(stream *models.Stream, frame *models.Frame) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	subscribers, exists := m.subscribers[stream.Name]
	if !exists || len(subscribers) == 0 {
		return
	}

	for _, ch := range subscribers {
		select {
		case ch <- frame:
		default:
			// Channel is full, drop frame
			stream.IncrementDroppedFrames()
			m.metrics.RecordSubscriberDrop(stream.Name)
		}
	}
}

// StreamFormatChanged replaces the codec private data of a live stream
func (m *Manager) StreamFormatChanged(name string, codecPrivateData []byte, trackIndex uint64) error {
	stream, err := m.liveStream(producer.OpFormatChanged, name)
	if err != nil {
		return err
	}

	if trackIndex != 0 {
		m.metrics.RecordProducerError(name, producer.OpFormatChanged)
		return producer.NewError(producer.OpFormatChanged, name, producer.ErrInvalidTrack)
	}

	rec, err := muxer.ParseAVCDecoderConfigurationRecord(codecPrivateData)
	if err != nil {
		m.metrics.RecordProducerError(name, producer.OpFormatChanged)
		return producer.NewError(producer.OpFormatChanged, name, producer.ErrInvalidCodecData)
	}

	cpd := make([]byte, len(codecPrivateData))
	copy(cpd, codecPrivateData)
	stream.SetCodecInfo(rec.CodecInfo(cpd, stream.Info.AvgBandwidthBps, stream.Info.FrameRate))
	m.metrics.RecordFormatChange(name)

	_, version := stream.GetCodecInfo()
	m.log.Info().
		Str("stream", name).
		Uint64("format_version", version).
		Int("sps", len(rec.SPS)).
		Int("pps", len(rec.PPS)).
		Msg("Stream format changed")
	return nil
}

// PutFragmentMetadata attaches a name/value pair to the next fragment of a live stream.
// Persistent entries are repeated on every later fragment.
func (m *Manager) PutFragmentMetadata(name, key, value string, persistent bool) error {
	stream, err := m.liveStream(producer.OpFragmentMetadata, name)
	if err != nil {
		return err
	}

	if key == "" || len(key) > MaxMetadataNameLen || len(value) > MaxMetadataValueLen {
		m.metrics.RecordProducerError(name, producer.OpFragmentMetadata)
		return producer.NewError(producer.OpFragmentMetadata, name, producer.ErrInvalidMetadata)
	}

	stream.AddFragmentMetadata(key, value, persistent)
	m.metrics.RecordFragmentMetadata(name)
	return nil
}

// Subscribe creates a subscription to a stream's frames
// Returns a channel that will receive frames and a cleanup function
func (m *Manager) Subscribe(name string, bufferSize int) (<-chan *models.Frame, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	ch := make(chan *models.Frame, bufferSize)
	m.subscribers[name] = append(m.subscribers[name], ch)

	cleanup := func() {
		m.unsubscribe(name, ch)
	}

	return ch, cleanup
}

// unsubscribe removes a subscriber channel
func (m *Manager) unsubscribe(name string, ch chan *models.Frame) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	subscribers, exists := m.subscribers[name]
	if !exists {
		return
	}

	for i, subCh := range subscribers {
		if subCh == ch {
			m.subscribers[name] = append(subscribers[:i], subscribers[i+1:]...)
			close(ch)
			break
		}
	}

	if len(m.subscribers[name]) == 0 {
		delete(m.subscribers, name)
	}
}

// closeSubscribers closes all subscriber channels for a stream
func (m *Manager) closeSubscribers(name string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, ch := range m.subscribers[name] {
		close(ch)
	}

	delete(m.subscribers, name)
}

// StopStream stops a stream and closes its subscriptions
func (m *Manager) StopStream(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream, exists := m.streams[name]
	if !exists {
		return producer.NewError("stop_stream", name, producer.ErrStreamNotFound)
	}
	if stream.GetState() == models.StreamStateStopped {
		return nil
	}

	stream.SetState(models.StreamStateStopping)
	m.closeSubscribers(name)
	stream.SetState(models.StreamStateStopped)

	m.metrics.RecordStreamStop(time.Since(stream.StartedAt).Seconds())
	m.log.Info().Str("stream", name).Msg("Producer stream stopped")
	return nil
}

// DeleteStream removes a stream from the registry
func (m *Manager) DeleteStream(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream, exists := m.streams[name]
	if !exists {
		return
	}
	if stream.GetState() == models.StreamStateLive {
		m.metrics.RecordStreamStop(time.Since(stream.StartedAt).Seconds())
	}

	m.closeSubscribers(name)
	delete(m.streams, name)

	m.ackMu.Lock()
	delete(m.ackListeners, name)
	m.ackMu.Unlock()
}

// OnFragmentAck registers a listener for a stream's fragment acknowledgements
func (m *Manager) OnFragmentAck(name string, listener AckListener) {
	m.ackMu.Lock()
	defer m.ackMu.Unlock()
	m.ackListeners[name] = append(m.ackListeners[name], listener)
}

// Ack delivers a fragment acknowledgement to the stream's listeners
func (m *Manager) Ack(ack models.FragmentAck) {
	if ack.Type == models.FragmentAckPersisted {
		if stream, ok := m.GetStream(ack.StreamName); ok {
			stream.IncrementFragmentsPersisted()
		}
	}
	m.metrics.RecordFragmentAck(ack.StreamName, string(ack.Type))

	m.ackMu.RLock()
	listeners := append([]AckListener(nil), m.ackListeners[ack.StreamName]...)
	m.ackMu.RUnlock()

	for _, l := range listeners {
		l(ack)
	}
}

// StaleStreams returns live streams that have not received a frame within their
// connection staleness window
func (m *Manager) StaleStreams(now time.Time) []*models.Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*models.Stream
	for _, stream := range m.streams {
		if stream.GetState() == models.StreamStateLive && stream.IsStale(now) {
			stale = append(stale, stream)
		}
	}
	return stale
}

// GetStreamCount returns the total number of streams
func (m *Manager) GetStreamCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// GetLiveStreamCount returns the number of live streams
func (m *Manager) GetLiveStreamCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, stream := range m.streams {
		if stream.GetState() == models.StreamStateLive {
			count++
		}
	}
	return count
}
