// Command worker runs an agentctl worker node: it registers with the
// control plane, heartbeats, pulls leases over gRPC, and executes each
// lease's agent in a sandboxed agent-exec child process (spec §4.5).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/agentctl/pkg/connector"
	"github.com/cuemby/agentctl/pkg/executor"
	"github.com/cuemby/agentctl/pkg/leaseproto"
	"github.com/cuemby/agentctl/pkg/log"
	"github.com/cuemby/agentctl/pkg/worker"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "worker",
	Short:   "agentctl worker node",
	Version: Version,
	RunE:    runStart,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("worker version %s (%s)\n", Version, Commit))

	rootCmd.Flags().String("config", "", "Path to a YAML config file")
	rootCmd.Flags().String("node-id", "", "Unique node ID (required)")
	rootCmd.Flags().String("control-plane-http", "", "Control plane REST address")
	rootCmd.Flags().String("control-plane-grpc", "", "Control plane gRPC address")
	rootCmd.Flags().String("agent-exec-path", "", "Path to the agent-exec binary")
	rootCmd.Flags().String("output-endpoint", "", "HTTP endpoint the output sink delivers results to")
	rootCmd.Flags().Int("max-concurrent-leases", 0, "Maximum leases processed concurrently")
	rootCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
}

func runStart(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, &cfg)
	cfg = cfg.withDefaults()

	if cfg.NodeID == "" {
		return fmt.Errorf("--node-id is required")
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithNodeID(cfg.NodeID)

	conn, err := grpc.NewClient(cfg.ControlPlaneGRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dialing control plane gRPC: %w", err)
	}
	defer conn.Close()
	leaseClient := leaseproto.NewLeaseServiceClient(conn)

	input := connector.NewInMemoryQueue(connector.QueueConfig{MaxDeliveryCount: cfg.MaxDeliveryCount})
	output := connector.NewHTTPSink(connector.HTTPSinkConfig{Endpoint: cfg.OutputEndpoint})
	runner := executor.NewRunner(cfg.AgentExecPath)

	w := worker.NewWorker(worker.Config{
		NodeID:               cfg.NodeID,
		Metadata:             cfg.Metadata,
		Capacity:             cfg.Capacity,
		MaxConcurrentLeases:  cfg.MaxConcurrentLeases,
		MaxDeliveryCount:     cfg.MaxDeliveryCount,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		DrainTimeout:         cfg.DrainTimeout,
		ControlPlaneHTTPAddr: cfg.ControlPlaneHTTPAddr,
	}, leaseClient, input, output, runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	logger.Info().Str("control_plane_grpc", cfg.ControlPlaneGRPCAddr).Msg("worker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer stopCancel()
	w.Stop(stopCtx)

	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *Config) {
	if v, _ := cmd.Flags().GetString("node-id"); v != "" {
		cfg.NodeID = v
	}
	if v, _ := cmd.Flags().GetString("control-plane-http"); v != "" {
		cfg.ControlPlaneHTTPAddr = v
	}
	if v, _ := cmd.Flags().GetString("control-plane-grpc"); v != "" {
		cfg.ControlPlaneGRPCAddr = v
	}
	if v, _ := cmd.Flags().GetString("agent-exec-path"); v != "" {
		cfg.AgentExecPath = v
	}
	if v, _ := cmd.Flags().GetString("output-endpoint"); v != "" {
		cfg.OutputEndpoint = v
	}
	if v, _ := cmd.Flags().GetInt("max-concurrent-leases"); v != 0 {
		cfg.MaxConcurrentLeases = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetBool("log-json"); v {
		cfg.LogJSON = v
	}
}
