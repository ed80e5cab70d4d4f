package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/cache"
	"github.com/Alexey-Lukin/silken-net/internal/config"
	"github.com/Alexey-Lukin/silken-net/internal/mesh"
)

func newSimCmd() *cobra.Command {
	var (
		opts   mesh.Options
		window time.Duration
		image  string
		debug  bool
	)
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a gateway and a chain of leaves on a shared simulated medium",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zap.NewNop()
			if debug {
				l, err := zap.NewDevelopment()
				if err != nil {
					return fmt.Errorf("logger init: %w", err)
				}
				defer l.Sync()
				logger = l
			}

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			cfg.Radio.ListenWindow = window
			cfg.Radio.ReceiveTimeout = window
			cfg.Schedule.StatusReport = 0
			if image != "" {
				cfg.OTA.ImagePath = image
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			color.Cyan("Silken Net simulation: %d leaves, %d ticks", opts.Leaves, opts.Ticks)
			report, err := mesh.Run(ctx, cfg, opts, logger)
			printReport(report)
			return err
		},
	}
	cmd.Flags().IntVarP(&opts.Leaves, "leaves", "n", 4, "Number of leaves in the chain")
	cmd.Flags().IntVarP(&opts.Ticks, "ticks", "t", 10, "Ticks per leaf")
	cmd.Flags().IntVar(&opts.Chainsaw, "chainsaw", 0, "1-based leaf that hears a chainsaw on its first tick")
	cmd.Flags().DurationVar(&window, "window", 20*time.Millisecond, "Leaf listen window and gateway receive timeout")
	cmd.Flags().StringVar(&image, "image", "", "Firmware image the gateway broadcasts")
	cmd.Flags().BoolVar(&debug, "debug", false, "Log node activity")
	return cmd
}

func printReport(r mesh.Report) {
	if len(r.Leaves) == 0 {
		return
	}
	color.Cyan("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	for _, l := range r.Leaves {
		line := fmt.Sprintf("%-8s %s  boots=%d own=%d relayed=%d chunks=%d",
			l.Name, l.DID, l.Boots, l.Stats.OwnFrames, l.Stats.Relayed, l.Stats.Chunks)
		if l.Stats.Panics > 0 {
			color.Red("%s panics=%d", line, l.Stats.Panics)
			continue
		}
		color.White("%s", line)
	}

	g := r.Gateway
	records := 0
	for _, b := range r.Batches {
		records += len(b) / cache.RecordSize
	}
	color.Cyan("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	color.Green("gateway  %s  received=%d dropped=%d cached=%d/%d", g.DID, g.Received, g.Dropped, g.Cached, g.Capacity)
	color.Green("uplink   batches=%d records=%d errors=%d", len(r.Batches), records, g.UplinkErrors)
	if g.OTA != nil {
		color.Yellow("ota      campaign=%s chunk=%d/%d passes=%d", g.OTA.Campaign, g.OTA.Index, g.OTA.Total, g.OTA.Passes)
	}
}
