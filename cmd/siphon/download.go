package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zerfoo/siphon/internal/config"
	"github.com/zerfoo/siphon/internal/logging"
	"github.com/zerfoo/siphon/pkg/downloader"
)

func newDownloadCmd() *cobra.Command {
	var modelID, output string
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download an ONNX model from the HuggingFace Hub into a model directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			if level == "" {
				level = "info"
			}
			logger, closeLog, err := logging.NewTo(cmd.ErrOrStderr(), config.LogConfig{Level: level})
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			d := downloader.NewDownloader(downloader.NewHuggingFaceSource(downloader.WithLogger(logger)))
			res, err := d.Download(cmd.Context(), modelID, output)
			if err != nil {
				return fmt.Errorf("failed to download %s: %w", modelID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s to %s\n", modelID, res.ModelPath)
			if res.ManifestPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Placeholder manifest: %s\n", res.ManifestPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&modelID, "model", "", "model ID on the hub, e.g. org/name")
	cmd.Flags().StringVar(&output, "output", ".", "directory to download into")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}
