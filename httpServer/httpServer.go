package httpServer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"camproducer/internal/auth"
	"camproducer/internal/camera"
	"camproducer/internal/logger"
	"camproducer/internal/mediasource"
	"camproducer/internal/metrics"
	"camproducer/internal/producer"
	"camproducer/internal/segmenter"
	"camproducer/internal/storage"
	"camproducer/internal/streammanager"
	"camproducer/pkg/models"
)

const shutdownTimeout = 5 * time.Second

// Source is the media source controlled through the API
type Source interface {
	mediasource.MediaSource
	StreamName() string
	FrameIndex() uint64
}

// Server wraps the HTTP server with dependencies
type Server struct {
	router        *gin.Engine
	streamManager *streammanager.Manager
	segmenter     *segmenter.Segmenter
	storage       storage.Storage
	metrics       *metrics.Metrics
	authManager   *auth.Manager
	source        Source
	log           *zerolog.Logger
}

// New creates a new HTTP server. source may be nil when no media source is attached.
func New(sm *streammanager.Manager, seg *segmenter.Segmenter, store storage.Storage, m *metrics.Metrics, authManager *auth.Manager, source Source) *Server {
	if authManager == nil {
		authManager = auth.New("")
	}
	s := &Server{
		streamManager: sm,
		segmenter:     seg,
		storage:       store,
		metrics:       m,
		authManager:   authManager,
		source:        source,
		log:           logger.WithComponent("http"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), s.recordMetrics())

	control := s.authManager.RequireControl(auth.StreamParam)
	sourceControl := s.authManager.RequireControl(s.sourceStream)

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)

		api.GET("/v1/source", s.handleGetSource)
		api.GET("/v1/source/descriptor", s.handleGetDescriptor)
		api.POST("/v1/source/start", sourceControl, s.handleStartSource)
		api.POST("/v1/source/stop", sourceControl, s.handleStopSource)

		api.GET("/v1/streams", s.handleListStreams)
		api.GET("/v1/streams/:streamName", s.handleGetStream)
		api.POST("/v1/streams/:streamName/stop", control, s.handleStopStream)
		api.POST("/v1/streams/:streamName/metadata", control, s.handlePutMetadata)
		api.GET("/v1/streams/:streamName/fragments", s.handleListFragments)

		api.POST("/v1/tokens", s.authManager.RequireAPIKey(), s.handleIssueToken)
	}

	router.GET("/live/:streamName/:file", s.handleLiveFile)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.router = router
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := s.log.Debug()
		if status >= http.StatusInternalServerError {
			event = s.log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client", c.ClientIP()).
			Msg("HTTP request")
	}
}

func (s *Server) recordMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		s.metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start).Seconds())
	}
}

// Handler implementations

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now().Unix(),
	})
}

func (s *Server) sourceStream(*gin.Context) string {
	if s.source == nil {
		return ""
	}
	return s.source.StreamName()
}

func (s *Server) requireSource(c *gin.Context) bool {
	if s.source == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no media source attached"})
		return false
	}
	return true
}

func (s *Server) handleGetSource(c *gin.Context) {
	if !s.requireSource(c) {
		return
	}
	c.JSON(http.StatusOK, s.sourceStatus())
}

func (s *Server) sourceStatus() models.SourceStatus {
	status := models.SourceStatus{
		StreamName: s.source.StreamName(),
		State:      s.source.State().String(),
		FrameIndex: s.source.FrameIndex(),
	}
	if cfg, ok := s.source.Configuration().(*mediasource.CameraConfiguration); ok {
		status.Device = cfg.DeviceName
		status.FrameRate = cfg.FrameRate
		status.Bitrate = cfg.Bitrate
	}
	if err := s.source.Err(); err != nil {
		status.Error = err.Error()
	}
	return status
}

func (s *Server) handleGetDescriptor(c *gin.Context) {
	if !s.requireSource(c) {
		return
	}

	info, err := s.source.StreamInfo()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleStartSource(c *gin.Context) {
	if !s.requireSource(c) {
		return
	}

	// A stopped stream rejects every frame, which would end capture with an error
	name := s.source.StreamName()
	if stream, exists := s.streamManager.GetStream(name); !exists || stream.GetState() != models.StreamStateLive {
		c.JSON(http.StatusConflict, gin.H{"error": "stream " + name + " is not live"})
		return
	}

	if err := s.source.Start(); err != nil {
		c.JSON(sourceErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.sourceStatus())
}

func (s *Server) handleStopSource(c *gin.Context) {
	if !s.requireSource(c) {
		return
	}

	if err := s.source.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.sourceStatus())
}

func sourceErrorStatus(err error) int {
	switch {
	case errors.Is(err, mediasource.ErrSourceRunning),
		errors.Is(err, mediasource.ErrNotConfigured),
		errors.Is(err, mediasource.ErrNoSink):
		return http.StatusConflict
	case errors.Is(err, camera.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListStreams(c *gin.Context) {
	streams := s.streamManager.GetAllStreams()

	statuses := make([]models.StreamStatus, len(streams))
	for i, stream := range streams {
		statuses[i] = streamToStatus(stream)
	}

	c.JSON(http.StatusOK, models.StreamListResponse{
		Streams: statuses,
		Total:   len(statuses),
	})
}

func (s *Server) handleGetStream(c *gin.Context) {
	name := c.Param("streamName")

	stream, exists := s.streamManager.GetStream(name)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	c.JSON(http.StatusOK, streamToStatus(stream))
}

func (s *Server) handleStopStream(c *gin.Context) {
	name := c.Param("streamName")

	// Frames pushed into a stopped stream would end capture with an error
	if s.source != nil && s.source.StreamName() == name && s.source.State() == mediasource.StateRunning {
		if err := s.source.Stop(); err != nil {
			s.log.Warn().Err(err).Str("stream", name).Msg("Failed to stop media source")
		}
	}

	if err := s.streamManager.StopStream(name); err != nil {
		c.JSON(producerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "stream stopped",
		"streamName": name,
	})
}

func (s *Server) handlePutMetadata(c *gin.Context) {
	name := c.Param("streamName")

	var req models.MetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.streamManager.PutFragmentMetadata(name, req.Name, req.Value, req.Persistent); err != nil {
		c.JSON(producerErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"streamName": name,
		"name":       req.Name,
		"persistent": req.Persistent,
	})
}

func producerErrorStatus(err error) int {
	switch {
	case errors.Is(err, producer.ErrStreamNotFound):
		return http.StatusNotFound
	case errors.Is(err, producer.ErrStreamNotLive):
		return http.StatusConflict
	case producer.IsProducerError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListFragments(c *gin.Context) {
	name := c.Param("streamName")

	fragments, err := s.segmenter.GetSegments(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream is not being segmented"})
		return
	}

	c.JSON(http.StatusOK, models.FragmentListResponse{
		StreamName: name,
		Fragments:  fragments,
		Total:      len(fragments),
	})
}

func (s *Server) handleIssueToken(c *gin.Context) {
	var req models.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := s.authManager.IssueToken(req.StreamName, req.ExpiresIn, c.ClientIP())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, models.TokenResponse{
		Token:      token.Token,
		StreamName: token.StreamName,
		ExpiresAt:  token.ExpiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleLiveFile(c *gin.Context) {
	name := c.Param("streamName")
	file := c.Param("file")
	ctx := c.Request.Context()

	var (
		data []byte
		err  error
	)
	switch {
	case file == "index.m3u8":
		var playlist string
		if playlist, err = s.segmenter.GetPlaylist(name); err == nil {
			data = []byte(playlist)
		} else {
			// Segmentation ended; serve the last stored playlist
			data, err = s.storage.Read(ctx, segmenter.PlaylistPath(name))
		}
	case file == "init.mp4":
		data, err = s.segmenter.GetInitSegment(ctx, name)
	case strings.HasSuffix(file, ".m4s"):
		num, perr := strconv.ParseUint(strings.TrimPrefix(strings.TrimSuffix(file, ".m4s"), "segment_"), 10, 64)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid segment number"})
			return
		}
		data, err = s.segmenter.GetSegment(ctx, name, num)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown file"})
		return
	}

	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": file + " not available"})
			return
		}
		s.log.Error().Err(err).Str("stream", name).Str("file", file).Msg("Failed to read live file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read " + file})
		return
	}

	c.Header("Cache-Control", storage.CacheControl(file))
	c.Header("Access-Control-Allow-Origin", "*")
	c.Data(http.StatusOK, storage.ContentType(file), data)
}

// Helper functions

func streamToStatus(stream *models.Stream) models.StreamStatus {
	stats := stream.GetStats()
	state := stream.GetState()

	status := models.StreamStatus{
		ID:                 stream.ID,
		Name:               stream.Name,
		Active:             state == models.StreamStateLive,
		State:              string(state),
		FramesReceived:     stats.FramesReceived,
		KeyFramesReceived:  stats.KeyFramesReceived,
		BytesReceived:      stats.BytesReceived,
		DroppedFrames:      stats.DroppedFrames,
		FragmentsPersisted: stats.FragmentsPersisted,
	}

	if !stream.StartedAt.IsZero() {
		status.StartedAt = stream.StartedAt.Format(time.RFC3339)
		status.Duration = int(time.Since(stream.StartedAt).Seconds())
	}
	if !stats.LastFrameTime.IsZero() {
		status.LastFrameAt = stats.LastFrameTime.Format(time.RFC3339Nano)
	}

	if codec, version := stream.GetCodecInfo(); codec != nil {
		status.Codec = codec.Codec
		status.FormatVersion = version
		status.Bitrate = codec.Bitrate
		status.FrameRate = codec.FrameRate
	}
	if stream.Info != nil {
		status.CodecID = stream.Info.CodecID
	}

	return status
}
