package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stevedore-io/stevedore/pkg/cgroups"
	"github.com/stevedore-io/stevedore/pkg/checkpoint"
	"github.com/stevedore-io/stevedore/pkg/config"
	"github.com/stevedore-io/stevedore/pkg/containerizer"
	"github.com/stevedore-io/stevedore/pkg/events"
	"github.com/stevedore-io/stevedore/pkg/fetcher"
	"github.com/stevedore-io/stevedore/pkg/log"
	"github.com/stevedore-io/stevedore/pkg/metrics"
	"github.com/stevedore-io/stevedore/pkg/runtime"
	"github.com/stevedore-io/stevedore/pkg/types"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the agent-side lifecycle manager",
	Long: `Start the lifecycle manager: open the checkpoint database, recover
containers left over from a previous incarnation and serve Prometheus
metrics until interrupted. Recovery failure is fatal.`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)

	agentCmd.Flags().String("config", "", "Path to YAML configuration file")
	agentCmd.Flags().String("agent-id", "", "Agent identity recorded in run records")
	agentCmd.Flags().String("runtime", "", "Container runtime backend (docker or containerd)")
	agentCmd.Flags().String("data-dir", "", "Directory for the checkpoint database")
	agentCmd.Flags().String("metrics-addr", "", "Listen address for the Prometheus endpoint")
	agentCmd.Flags().Bool("destroy-on-recover", false, "Tear down orphaned containers found during recovery")
	agentCmd.Flags().Bool("keep-containers", false, "Keep stopped containers instead of removing them (debug)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("destroy-on-recover") {
		cfg.DestroyOnRecover, _ = cmd.Flags().GetBool("destroy-on-recover")
	}
	if cmd.Flags().Changed("keep-containers") {
		cfg.KeepContainers, _ = cmd.Flags().GetBool("keep-containers")
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("agent")

	for _, dir := range []string{cfg.DataDir, cfg.SandboxRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	rt, err := newRuntimeClient(cfg)
	if err != nil {
		return err
	}

	writer, err := checkpoint.NewBoltWriter(cfg.DataDir)
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	cz := containerizer.New(cfg, rt, fetcher.NewLocal(), cgroups.NewFS(cfg.CgroupsRoot), writer, broker)
	defer cz.Close()

	// Log every lifecycle event
	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			logger.Info().
				Str("event", string(ev.Type)).
				Str("container_id", ev.ContainerID.String()).
				Msg(ev.Message)
		}
	}()

	agentID, _ := cmd.Flags().GetString("agent-id")
	runs, err := writer.Runs()
	if err != nil {
		return fmt.Errorf("failed to read run records: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	err = cz.Recover(ctx, &types.AgentState{AgentID: agentID, Runs: runs})
	cancel()
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	logger.Info().Int("containers", len(cz.Containers())).Msg("agent ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("runtime") {
		cfg.Runtime, _ = cmd.Flags().GetString("runtime")
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRuntimeClient(cfg *config.Config) (runtime.Client, error) {
	switch cfg.Runtime {
	case config.RuntimeContainerd:
		return runtime.NewContainerdClient(cfg.ContainerdSocket)
	default:
		return runtime.NewDockerClient(cfg.DockerHost)
	}
}
