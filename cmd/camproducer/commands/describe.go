package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"camproducer/internal/camera"
	"camproducer/internal/mediasource"
	"camproducer/pkg/models"
)

var describeOutput string

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Print the stream descriptor the configured media source announces",
	Long: `Build the stream descriptor for the configured stream name and camera settings
without opening the device, and print it as YAML or JSON.`,
	Example: `  camproducer describe
  camproducer describe --output json
  CAMPRODUCER_CAMERA_FRAME_RATE=30 camproducer describe`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ms := mediasource.NewCameraMediaSource(cfg.StreamName, camera.NewSyntheticDevice())
		if err := ms.Configure(&cfg.Camera); err != nil {
			return err
		}
		info, err := ms.StreamInfo()
		if err != nil {
			return err
		}
		return writeDescriptor(cmd.OutOrStdout(), info, describeOutput)
	},
}

func init() {
	describeCmd.Flags().StringVarP(&describeOutput, "output", "o", "yaml", "output format (yaml, json)")
	rootCmd.AddCommand(describeCmd)
}

func writeDescriptor(w io.Writer, info *models.StreamInfo, format string) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(info); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
