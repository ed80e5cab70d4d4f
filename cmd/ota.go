package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Alexey-Lukin/silken-net/internal/frame"
	"github.com/Alexey-Lukin/silken-net/internal/ota"
)

func newOTACmd() *cobra.Command {
	otaCmd := &cobra.Command{
		Use:   "ota",
		Short: "Firmware image tooling",
	}

	var (
		image     string
		version   string
		out       string
		blockSize int
	)
	packCmd := &cobra.Command{
		Use:   "pack",
		Short: "Write the manifest the gateway checks before broadcasting an image",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(image)
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			m, err := ota.NewManifest(version, data, blockSize)
			if err != nil {
				return err
			}
			if out == "" {
				out = image + ".yaml"
			}
			if err := ota.WriteManifest(out, m); err != nil {
				return err
			}
			color.Green("✓ %s v%s: %d bytes, %d chunks of %d", image, m.Version, m.TotalSize, m.TotalChunks, m.ChunkSize)
			color.White("  crc32 %s", m.Checksum)
			color.White("  cid   %s", m.CID)
			color.White("  -> %s", out)
			return nil
		},
	}
	packCmd.Flags().StringVarP(&image, "image", "i", "", "Firmware image to package")
	packCmd.Flags().StringVarP(&version, "version", "v", "0.0.0", "Image version")
	packCmd.Flags().StringVarP(&out, "out", "o", "", "Manifest path (default: <image>.yaml)")
	packCmd.Flags().IntVar(&blockSize, "block", frame.Size, "Radio block size in bytes")
	_ = packCmd.MarkFlagRequired("image")

	otaCmd.AddCommand(packCmd)
	return otaCmd
}
