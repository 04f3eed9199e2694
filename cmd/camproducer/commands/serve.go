package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"camproducer/httpServer"
	"camproducer/internal/auth"
	"camproducer/internal/camera"
	"camproducer/internal/client"
	"camproducer/internal/logger"
	"camproducer/internal/mediasource"
	"camproducer/internal/metrics"
	"camproducer/internal/rtmp"
	"camproducer/internal/segmenter"
	"camproducer/internal/storage"
	"camproducer/internal/streammanager"
)

// sourcePollInterval is how often a stopped media source is checked for a restart
const sourcePollInterval = 500 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Capture from the camera and run the producer pipeline",
	Long: `Open the configured camera device, register it as the media source of a producer
stream and serve the control/status API, the live HLS playlist and Prometheus metrics.

A fatal error in the capture loop (for example a producer stream rejecting a frame)
stops the whole pipeline.`,
	Example: `  # Synthetic camera with defaults
  camproducer serve

  # v4l2 device, GCS storage and RTMP egress from a config file
  camproducer serve --config /etc/camproducer.yaml

  # Debug logging on another port
  camproducer serve --log-level debug --http-addr :9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	sm := streammanager.New(m)
	seg := segmenter.New(store, sm, m, cfg.HLSMaxSegments)

	var publisher *rtmp.Publisher
	if cfg.RTMP.Enabled {
		publisher, err = rtmp.NewPublisher(cfg.RTMP.URL, sm, m, nil)
		if err != nil {
			return err
		}
	}

	c := client.New(sm, seg, publisher)
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("Shutdown finished with errors")
		}
	}()

	device := camera.NewDevice(cfg.Camera.DeviceName, cfg.Camera.FrameRate)
	ms := mediasource.NewCameraMediaSource(cfg.StreamName, device, mediasource.WithMetrics(m))
	if err := ms.Configure(&cfg.Camera); err != nil {
		return fmt.Errorf("failed to configure media source: %w", err)
	}
	if err := c.RegisterMediaSource(ctx, ms); err != nil {
		return fmt.Errorf("failed to register media source: %w", err)
	}

	authManager := auth.New(cfg.HTTP.APIKey)
	srv := httpServer.New(sm, seg, store, m, authManager, ms)

	if cfg.AutoStart {
		if err := ms.Start(); err != nil {
			return fmt.Errorf("failed to start media source: %w", err)
		}
	}

	log.Info().
		Str("stream", cfg.StreamName).
		Str("device", device.Name()).
		Int("frame_rate", cfg.Camera.FrameRate).
		Str("http_addr", cfg.HTTP.Addr).
		Str("storage", cfg.Storage.Backend).
		Bool("rtmp", cfg.RTMP.Enabled).
		Bool("auth", authManager.Enabled()).
		Msg("camproducer is running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, cfg.HTTP.Addr)
	})
	g.Go(func() error {
		return watchSource(gctx, ms, sourcePollInterval)
	})
	g.Go(func() error {
		housekeeping(gctx, sm, authManager, cfg.StaleCheckInterval, log)
		return nil
	})

	err = g.Wait()
	log.Info().Msg("Shutting down gracefully...")
	return err
}

// watchSource returns the error that ends a capture run. Runs ended by Stop are skipped and the
// source is watched again once it is restarted.
func watchSource(ctx context.Context, ms mediasource.MediaSource, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var seen mediasource.Run
	for {
		if run := ms.CurrentRun(); run != nil && run != seen {
			select {
			case <-ctx.Done():
				return nil
			case <-run.Done():
				seen = run
				if err := run.Err(); err != nil {
					return fmt.Errorf("media source failed: %w", err)
				}
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// housekeeping reports stale streams and drops expired control tokens until ctx ends
func housekeeping(ctx context.Context, sm *streammanager.Manager, authManager *auth.Manager, interval time.Duration, log *zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, stream := range sm.StaleStreams(now) {
				log.Warn().
					Str("stream", stream.Name).
					Time("last_frame", stream.GetStats().LastFrameTime).
					Msg("No frames within the connection staleness window")
			}
			if n := authManager.CleanupExpiredTokens(); n > 0 {
				log.Debug().Int("tokens", n).Msg("Removed expired control tokens")
			}
		}
	}
}
