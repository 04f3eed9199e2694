package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"camproducer/internal/logger"
	"camproducer/internal/mediasource"
	"camproducer/internal/producer"
	"camproducer/internal/rtmp"
	"camproducer/internal/segmenter"
	"camproducer/internal/streammanager"
)

var ErrAlreadyRegistered = errors.New("media source already registered")

// Client connects media sources to producer streams and their outputs
type Client struct {
	streamManager *streammanager.Manager
	segmenter     *segmenter.Segmenter
	publisher     *rtmp.Publisher

	sources map[string]mediasource.MediaSource
	mu      sync.Mutex

	log *zerolog.Logger
}

// New creates a client. publisher may be nil when RTMP egress is disabled.
func New(sm *streammanager.Manager, seg *segmenter.Segmenter, publisher *rtmp.Publisher) *Client {
	return &Client{
		streamManager: sm,
		segmenter:     seg,
		publisher:     publisher,
		sources:       make(map[string]mediasource.MediaSource),
		log:           logger.WithComponent("client"),
	}
}

// RegisterMediaSource creates the producer stream described by ms, binds ms to it and starts
// packaging the stream. The media source must be configured; it is not started.
func (c *Client) RegisterMediaSource(ctx context.Context, ms mediasource.MediaSource) error {
	info, err := ms.StreamInfo()
	if err != nil {
		return fmt.Errorf("stream info: %w", err)
	}
	name := info.Name

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.sources[name]; exists {
		return fmt.Errorf("%s: %w", name, ErrAlreadyRegistered)
	}

	if _, err := c.streamManager.CreateStream(info); err != nil {
		return err
	}

	sink := producer.NewStreamSink(c.streamManager.Handle(name))
	if err := ms.Initialize(sink); err != nil {
		c.streamManager.StopStream(name)
		return fmt.Errorf("initialize media source: %w", err)
	}

	if err := c.segmenter.StartSegmenting(name); err != nil {
		c.streamManager.StopStream(name)
		return fmt.Errorf("start segmenting: %w", err)
	}

	if c.publisher != nil {
		if err := c.publisher.Start(ctx, name); err != nil {
			// Egress is best effort; the stream is still segmented
			c.log.Warn().Err(err).Str("stream", name).Msg("RTMP publishing unavailable")
		}
	}

	c.sources[name] = ms
	c.log.Info().Str("stream", name).Msg("Media source registered")
	return nil
}

// UnregisterMediaSource stops ms, flushes its last fragment and stops the producer stream
func (c *Client) UnregisterMediaSource(ms mediasource.MediaSource) error {
	c.mu.Lock()
	name, ok := c.nameOf(ms)
	if ok {
		delete(c.sources, name)
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("media source not registered")
	}
	return c.teardown(name, ms)
}

func (c *Client) nameOf(ms mediasource.MediaSource) (string, bool) {
	for name, registered := range c.sources {
		if registered == ms {
			return name, true
		}
	}
	return "", false
}

func (c *Client) teardown(name string, ms mediasource.MediaSource) error {
	err := ms.Free()

	if c.publisher != nil {
		c.publisher.Stop(name)
	}
	c.segmenter.StopSegmenting(name)

	if stopErr := c.streamManager.StopStream(name); stopErr != nil {
		err = errors.Join(err, stopErr)
	}

	c.log.Info().Str("stream", name).Msg("Media source unregistered")
	return err
}

// MediaSource returns the media source registered for a stream
func (c *Client) MediaSource(name string) (mediasource.MediaSource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms, ok := c.sources[name]
	return ms, ok
}

// MediaSources returns the registered media sources keyed by stream name
func (c *Client) MediaSources() map[string]mediasource.MediaSource {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]mediasource.MediaSource, len(c.sources))
	for name, ms := range c.sources {
		out[name] = ms
	}
	return out
}

// Close unregisters every media source
func (c *Client) Close() error {
	c.mu.Lock()
	sources := c.sources
	c.sources = make(map[string]mediasource.MediaSource)
	c.mu.Unlock()

	var errs []error
	for name, ms := range sources {
		if err := c.teardown(name, ms); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
