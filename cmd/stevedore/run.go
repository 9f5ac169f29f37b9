package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stevedore-io/stevedore/pkg/cgroups"
	"github.com/stevedore-io/stevedore/pkg/checkpoint"
	"github.com/stevedore-io/stevedore/pkg/containerizer"
	"github.com/stevedore-io/stevedore/pkg/events"
	"github.com/stevedore-io/stevedore/pkg/fetcher"
	"github.com/stevedore-io/stevedore/pkg/log"
	"github.com/stevedore-io/stevedore/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run IMAGE [COMMAND...]",
	Short: "Launch a one-off container and wait for it to finish",
	Long: `Launch a single container through the full pipeline (fetch, pull,
run, monitor) and block until it exits. Ctrl+C destroys the container.

Artifacts given with --artifact are fetched into the sandbox before the
container starts; append ":exec" to make one executable or ":extract"
to unpack a .tar.gz archive.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOneOff,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("config", "", "Path to YAML configuration file")
	runCmd.Flags().String("runtime", "", "Container runtime backend (docker or containerd)")
	runCmd.Flags().Float64("cpus", 1, "CPU allocation in fractional cores")
	runCmd.Flags().String("mem", "128MiB", "Memory soft limit (e.g. 256MiB, 1GiB)")
	runCmd.Flags().String("network", "bridge", "Network mode (host, bridge or none)")
	runCmd.Flags().Bool("force-pull", false, "Pull the image even when present locally")
	runCmd.Flags().String("user", "", "User to run the container as")
	runCmd.Flags().StringArray("artifact", nil, "Artifact URI to fetch into the sandbox (repeatable)")
}

func runOneOff(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	cpus, _ := cmd.Flags().GetFloat64("cpus")
	memStr, _ := cmd.Flags().GetString("mem")
	memBytes, err := units.RAMInBytes(memStr)
	if err != nil {
		return fmt.Errorf("invalid --mem value %q: %w", memStr, err)
	}
	network, _ := cmd.Flags().GetString("network")
	forcePull, _ := cmd.Flags().GetBool("force-pull")
	user, _ := cmd.Flags().GetString("user")
	artifacts, _ := cmd.Flags().GetStringArray("artifact")

	uris, err := parseArtifacts(artifacts)
	if err != nil {
		return err
	}

	rt, err := newRuntimeClient(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	cz := containerizer.New(cfg, rt, fetcher.NewLocal(), cgroups.NewFS(cfg.CgroupsRoot), checkpoint.Null{}, broker)

	ctx := context.Background()
	if err := cz.Recover(ctx, nil); err != nil {
		return err
	}

	id := types.ContainerID(uuid.NewString())
	sandbox := filepath.Join(cfg.SandboxRoot, id.String())
	if err := os.MkdirAll(sandbox, 0o755); err != nil {
		return fmt.Errorf("failed to create sandbox: %w", err)
	}

	task := &types.TaskSpec{
		Name:    "run",
		Command: args[1:],
		Container: &types.ContainerSpec{
			Image:     args[0],
			ForcePull: forcePull,
			Network:   types.NetworkMode(network),
		},
		Resources: &types.Resources{CPUs: cpus, MemoryBytes: memBytes},
		URIs:      uris,
	}

	if err := cz.Launch(ctx, id, task, sandbox, user, "", false); err != nil {
		return err
	}
	fmt.Printf("Container %s running (sandbox %s)\n", id, sandbox)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nDestroying container...")
		if err := cz.Destroy(id); err != nil {
			fmt.Fprintf(os.Stderr, "destroy failed: %v\n", err)
		}
	}()

	term, err := cz.Wait(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("Container %s: %s", id, term.State)
	if term.ExitCode != nil {
		fmt.Printf(" (exit code %d)", *term.ExitCode)
	}
	fmt.Println()
	return nil
}

func parseArtifacts(values []string) ([]*types.ArtifactURI, error) {
	var uris []*types.ArtifactURI
	for _, v := range values {
		uri := &types.ArtifactURI{Value: v}
		for {
			switch {
			case strings.HasSuffix(uri.Value, ":exec"):
				uri.Value = strings.TrimSuffix(uri.Value, ":exec")
				uri.Executable = true
				continue
			case strings.HasSuffix(uri.Value, ":extract"):
				uri.Value = strings.TrimSuffix(uri.Value, ":extract")
				uri.Extract = true
				continue
			}
			break
		}
		if uri.Value == "" {
			return nil, fmt.Errorf("empty artifact URI")
		}
		uris = append(uris, uri)
	}
	return uris, nil
}
