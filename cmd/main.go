package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Alexey-Lukin/silken-net/internal/api/rest"
	"github.com/Alexey-Lukin/silken-net/internal/config"
	"github.com/Alexey-Lukin/silken-net/internal/node"
	"github.com/Alexey-Lukin/silken-net/internal/uplink"
)

var (
	cfgFile  string
	nodeType string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "silken",
		Short: "Silken Net - self-powered sensor mesh with gateway edge cache and OTA",
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (default: configs/config.yaml)")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a node on the simulated board",
		Long: `Start a single node on a host board: durable registers, file-backed code
storage, optional websocket uplink and REST API. The radio is a private
simulated medium with no links, so the node is a solitary bench node that
never hears peers or gateway chunks. Use "silken sim" for a connected mesh.`,
		RunE: runStart,
	}
	startCmd.Flags().StringVarP(&nodeType, "role", "r", "", "Node role: 'leaf' | 'gateway' (default: node.role from config)")
	rootCmd.AddCommand(startCmd)

	rootCmd.AddCommand(newSimCmd())
	rootCmd.AddCommand(newOTACmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	// Set up logger
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer logger.Sync()

	// Load config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	// Parse node role
	if nodeType == "" {
		nodeType = cfg.Node.Role
	}
	role, err := node.ParseRole(nodeType)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	board, err := hostBoard(cfg, logger)
	if err != nil {
		return err
	}
	if cfg.Uplink.URL != "" {
		t := uplink.NewWebSocketTransport(cfg.Uplink.URL, uplink.Options{
			Attempts: cfg.Uplink.Attempts,
			Delay:    cfg.Uplink.Delay,
			MaxDelay: cfg.Uplink.MaxDelay,
		}, logger)
		defer t.Close()
		board.Transport = t
	}

	logger.Info("Starting silken-net node", zap.String("role", role.String()))

	ctrl := node.NewController(cfg, role, board, logger)
	if cfg.API.Addr != "" {
		ctrl.OnGateway(func(gw *node.Gateway) {
			srv := rest.New(gw, logger)
			go func() {
				if err := srv.Start(ctx, cfg.API.Addr); err != nil {
					logger.Error("REST API stopped", zap.Error(err))
				}
			}()
		})
	}
	return ctrl.Run(ctx)
}
