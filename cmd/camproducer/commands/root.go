package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"camproducer/config"
	"camproducer/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config

	rootCmd = &cobra.Command{
		Use:   "camproducer",
		Short: "camproducer - camera media source for a video producer pipeline",
		Long: `camproducer captures pictures from a local camera device, wraps them as frames
and feeds them into a producer stream.

The producer stream is packaged into fMP4 fragments with a live HLS playlist,
stored on the local filesystem or in a Google Cloud Storage bucket, and can be
republished to an RTMP server.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("http-addr", "", "HTTP listen address (default :8080)")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("http.addr", rootCmd.PersistentFlags().Lookup("http-addr"))
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
