// Command control-plane runs the agentctl control plane: the REST API
// (registration, CRUD, operator run transitions), the gRPC Lease Service
// (spec §4.4) that hands leases to workers, the scheduler's least-loaded
// placement, the liveness reaper, the deployment reconciler, and a
// retention job that prunes old terminal runs.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/agentctl/pkg/events"
	"github.com/cuemby/agentctl/pkg/leaseservice"
	"github.com/cuemby/agentctl/pkg/leasestore"
	"github.com/cuemby/agentctl/pkg/log"
	"github.com/cuemby/agentctl/pkg/metrics"
	"github.com/cuemby/agentctl/pkg/reconciler"
	"github.com/cuemby/agentctl/pkg/restapi"
	"github.com/cuemby/agentctl/pkg/scheduler"
	"github.com/cuemby/agentctl/pkg/storage"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
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
	Use:     "control-plane",
	Short:   "agentctl control plane: scheduling, leasing and the REST API",
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("control-plane version %s (%s)\n", Version, Commit))

	rootCmd.Flags().String("config", "", "Path to a YAML config file")
	rootCmd.Flags().String("node-id", "control-plane-1", "Unique identifier for this control plane instance")
	rootCmd.Flags().String("data-dir", "", "Data directory for the embedded databases")
	rootCmd.Flags().String("http-addr", "", "Address for the REST API")
	rootCmd.Flags().String("grpc-addr", "", "Address for the gRPC Lease Service")
	rootCmd.Flags().String("redis-addr", "", "Redis address; when set, leases use RedisStore instead of the embedded BoltStore")
	rootCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, &cfg)
	cfg = cfg.withDefaults()

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("control-plane")
	metrics.SetVersion(Version)

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		metrics.RegisterComponent("storage", false, err.Error())
		return fmt.Errorf("opening entity store: %w", err)
	}
	metrics.RegisterComponent("storage", true, "")
	defer store.Close()

	leases, err := newLeaseStore(cfg)
	if err != nil {
		metrics.RegisterComponent("leaseStore", false, err.Error())
		return fmt.Errorf("opening lease store: %w", err)
	}
	metrics.RegisterComponent("leaseStore", true, "")
	defer leases.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sched := scheduler.New()

	recon := reconciler.NewReconciler(store, broker)
	recon.Start()
	defer recon.Stop()

	cronRunner, err := startRetentionPruner(store, cfg.RetentionCron, cfg.RunRetention, logger)
	if err != nil {
		return fmt.Errorf("starting retention job: %w", err)
	}
	defer cronRunner.Stop()

	leaseSrv := leaseservice.NewServer(store, leases, sched, broker, leaseservice.Config{
		LeaseTTLSeconds:       cfg.LeaseTTLSeconds,
		DispatchTickInterval:  cfg.DispatchTickInterval,
		LivenessCheckInterval: cfg.LivenessCheckInterval,
		NodeUnreachableAfter:  cfg.NodeUnreachableAfter,
	})
	grpcErrCh := make(chan error, 1)
	go func() {
		if err := leaseSrv.Start(cfg.GRPCAddr); err != nil {
			grpcErrCh <- fmt.Errorf("lease service: %w", err)
		}
	}()
	defer leaseSrv.Stop()

	api := restapi.New(store, leases, sched, broker)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: api}
	httpErrCh := make(chan error, 1)
	go func() {
		lis, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			httpErrCh <- fmt.Errorf("rest api listen: %w", err)
			return
		}
		if err := httpSrv.Serve(lis); err != nil && err != http.ErrServerClosed {
			httpErrCh <- fmt.Errorf("rest api: %w", err)
		}
	}()

	logger.Info().Str("http_addr", cfg.HTTPAddr).Str("grpc_addr", cfg.GRPCAddr).Msg("control plane started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-grpcErrCh:
		logger.Error().Err(err).Msg("lease service failed")
	case err := <-httpErrCh:
		logger.Error().Err(err).Msg("rest api failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	return nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *Config) {
	if v, _ := cmd.Flags().GetString("node-id"); v != "" {
		cfg.NodeID = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("http-addr"); v != "" {
		cfg.HTTPAddr = v
	}
	if v, _ := cmd.Flags().GetString("grpc-addr"); v != "" {
		cfg.GRPCAddr = v
	}
	if v, _ := cmd.Flags().GetString("redis-addr"); v != "" {
		cfg.RedisAddr = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetBool("log-json"); v {
		cfg.LogJSON = v
	}
}

// newLeaseStore picks BoltStore for single-node deployments or RedisStore
// when a Redis address is configured, letting multiple control-plane
// replicas share lease state (spec §4.4's Open Question on multi-replica
// deployments).
func newLeaseStore(cfg Config) (leasestore.Store, error) {
	if cfg.RedisAddr == "" {
		return leasestore.NewBoltStore(cfg.DataDir)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return leasestore.NewRedisStore(client), nil
}
