package rtmp

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"

	"camproducer/internal/logger"
	"camproducer/internal/metrics"
	"camproducer/internal/muxer"
	"camproducer/internal/streammanager"
	"camproducer/pkg/models"
)

const (
	defaultPort = "1935"

	// videoChunkStreamID is the chunk stream used for video messages
	videoChunkStreamID = 6

	chunkSize        = 128
	subscriberBuffer = 500
)

// Target is a parsed rtmp://host[:port]/app[/key] publish URL
type Target struct {
	Host string // host:port
	App  string
	Key  string // publishing name; empty means the stream name
}

// TCURL is the tcUrl sent in the connect command
func (t Target) TCURL() string {
	return "rtmp://" + t.Host + "/" + t.App
}

// ParseTarget parses a publish URL
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("invalid rtmp url %q: %w", raw, err)
	}
	if u.Scheme != "rtmp" {
		return Target{}, fmt.Errorf("invalid rtmp url %q: scheme must be rtmp", raw)
	}
	if u.Hostname() == "" {
		return Target{}, fmt.Errorf("invalid rtmp url %q: missing host", raw)
	}

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), defaultPort)
	}

	app, key, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	if app == "" {
		return Target{}, fmt.Errorf("invalid rtmp url %q: missing app", raw)
	}

	return Target{Host: host, App: app, Key: key}, nil
}

// VideoWriter sends FLV video tags on a published RTMP stream
type VideoWriter interface {
	WriteVideo(timestamp uint32, tag []byte) error
	Close() error
}

// DialFunc connects to target and starts publishing under name
type DialFunc func(ctx context.Context, target Target, name string) (VideoWriter, error)

// Publisher republishes producer streams to an RTMP server
type Publisher struct {
	target        Target
	streamManager *streammanager.Manager
	metrics       *metrics.Metrics
	dial          DialFunc

	sessions map[string]*session
	mu       sync.Mutex

	log *zerolog.Logger
}

// NewPublisher creates a publisher for rawURL. A nil dial uses go-rtmp.
func NewPublisher(rawURL string, sm *streammanager.Manager, m *metrics.Metrics, dial DialFunc) (*Publisher, error) {
	target, err := ParseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	if dial == nil {
		dial = dialRTMP
	}
	return &Publisher{
		target:        target,
		streamManager: sm,
		metrics:       m,
		dial:          dial,
		sessions:      make(map[string]*session),
		log:           logger.WithComponent("rtmp"),
	}, nil
}

// Start dials the RTMP server and begins forwarding the stream's frames
func (p *Publisher) Start(ctx context.Context, name string) error {
	stream, exists := p.streamManager.GetStream(name)
	if !exists {
		return fmt.Errorf("stream %s not found", name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.sessions[name]; exists {
		return fmt.Errorf("already publishing stream %s", name)
	}

	key := p.target.Key
	if key == "" {
		key = name
	}

	w, err := p.dial(ctx, p.target, key)
	if err != nil {
		p.metrics.RecordRTMPError()
		return fmt.Errorf("publish %s to %s: %w", name, p.target.TCURL(), err)
	}
	p.metrics.RecordRTMPConnection()

	frames, cleanup := p.streamManager.Subscribe(name, subscriberBuffer)
	s := &session{
		stream:  stream,
		writer:  w,
		cleanup: cleanup,
		metrics: p.metrics,
		done:    make(chan struct{}),
		log:     logger.WithStream("rtmp", name),
	}
	s.release = func() { p.remove(name, s) }
	p.sessions[name] = s

	go s.run(frames)

	s.log.Info().Str("url", p.target.TCURL()).Str("key", key).Msg("Publishing stream")
	return nil
}

// Stop ends publishing for a stream and closes the connection
func (p *Publisher) Stop(name string) {
	p.mu.Lock()
	s, exists := p.sessions[name]
	delete(p.sessions, name)
	p.mu.Unlock()

	if exists {
		s.stop()
	}
}

// remove drops s unless the stream has been republished since
func (p *Publisher) remove(name string, s *session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions[name] == s {
		delete(p.sessions, name)
	}
}

// Close stops every session
func (p *Publisher) Close() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*session)
	p.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
}

// Publishing reports whether name has a session
func (p *Publisher) Publishing(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[name]
	return ok
}

// session forwards one stream's frames to one RTMP connection
type session struct {
	stream  *models.Stream
	writer  VideoWriter
	cleanup func()
	release func()
	metrics *metrics.Metrics
	done    chan struct{}
	log     *zerolog.Logger

	headerVersion uint64
	firstDts      int64
	hasFirst      bool
}

func (s *session) run(frames <-chan *models.Frame) {
	defer close(s.done)
	defer s.writer.Close()

	for frame := range frames {
		if err := s.send(frame); err != nil {
			s.metrics.RecordRTMPError()
			s.log.Error().Err(err).Uint64("frame_index", frame.Index).Msg("RTMP write failed, ending session")
			s.cleanup()
			// cleanup closed the channel; discard what is still buffered
			for range frames {
			}
			s.release()
			return
		}
	}
}

// send writes the sequence header when the stream format changed, then the frame
func (s *session) send(frame *models.Frame) error {
	if !s.hasFirst {
		s.firstDts = frame.DecodingTs
		s.hasFirst = true
	}
	ts := uint32((frame.DecodingTs - s.firstDts) / models.HundredsOfNanosInMs)

	codec, version := s.stream.GetCodecInfo()
	if codec != nil && version != s.headerVersion {
		tag := muxer.BuildFLVVideoPacket(true, muxer.AVCPacketTypeSequenceHeader, 0, codec.PrivateData)
		if err := s.writer.WriteVideo(ts, tag); err != nil {
			return fmt.Errorf("write sequence header: %w", err)
		}
		s.headerVersion = version
		s.metrics.RecordRTMPBytes(len(tag))
		s.log.Debug().Uint64("format_version", version).Msg("Sent AVC sequence header")
	}
	if s.headerVersion == 0 {
		// Players cannot decode NAL units before the sequence header
		return nil
	}

	cts := int32((frame.PresentationTs - frame.DecodingTs) / models.HundredsOfNanosInMs)
	tag := muxer.BuildFLVVideoPacket(frame.IsKeyFrame(), muxer.AVCPacketTypeNALU, cts, muxer.ToAVCCSample(frame.Data))
	if err := s.writer.WriteVideo(ts, tag); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	s.metrics.RecordRTMPBytes(len(tag))
	return nil
}

func (s *session) stop() {
	s.cleanup()
	<-s.done
}

// connWriter publishes through a go-rtmp client connection
type connWriter struct {
	conn   *rtmp.ClientConn
	stream *rtmp.Stream
}

func (w *connWriter) WriteVideo(timestamp uint32, tag []byte) error {
	return w.stream.Write(videoChunkStreamID, timestamp, &rtmpmsg.VideoMessage{
		Payload: bytes.NewReader(tag),
	})
}

func (w *connWriter) Close() error {
	return w.conn.Close()
}

func dialRTMP(ctx context.Context, target Target, name string) (VideoWriter, error) {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)

	conn, err := rtmp.Dial("rtmp", target.Host, &rtmp.ConnConfig{
		Logger: l,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target.Host, err)
	}

	fail := func(op string, err error) (VideoWriter, error) {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := ctx.Err(); err != nil {
		return fail("dial", err)
	}

	if err := conn.Connect(&rtmpmsg.NetConnectionConnect{
		Command: rtmpmsg.NetConnectionConnectCommand{
			App:      target.App,
			Type:     "nonprivate",
			FlashVer: "camproducer",
			TCURL:    target.TCURL(),
		},
	}); err != nil {
		return fail("connect", err)
	}

	stream, err := conn.CreateStream(nil, chunkSize)
	if err != nil {
		return fail("create stream", err)
	}

	if err := stream.Publish(&rtmpmsg.NetStreamPublish{
		PublishingName: name,
		PublishingType: "live",
	}); err != nil {
		return fail("publish", err)
	}

	return &connWriter{conn: conn, stream: stream}, nil
}
