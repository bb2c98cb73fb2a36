package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/edgerun/galileo-experiments/internal/common"
	"github.com/edgerun/galileo-experiments/internal/experiment"
	"github.com/edgerun/galileo-experiments/internal/experiment/configuration"
	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
)

const (
	configDirFlag  = "config"
	configFileFlag = "config-file"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "galileo-experiments",
		Short: "galileo-experiments runs load-test experiments against functions deployed at the edge.",
		Long: `galileo-experiments runs load-test experiments against functions deployed at the edge.

Each experiment deploys function pods, points the load balancer weights and the client routing table at
them, switches on tracing and telemetry and replays request workloads against the functions. Pods,
weights and routes are removed again when the experiment finished, also if it failed.

Connection settings are read from config.yaml in the directory passed with --config, for example:

kubernetes:
  namespace: default
redis:
  addr: localhost:6379
etcd:
  keyPrefix: golb/function

Environment variables prefixed with GALILEO_ override the file, etcd_host and etcd_port locate etcd.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String(configDirFlag, "./config", "Directory containing config.yaml.")
	cmd.PersistentFlags().StringSlice(configFileFlag, nil, "Additional config files merged on top of config.yaml.")

	cmd.AddCommand(
		versionCmd(),
		profileCmd(),
		scenarioCmd(),
		cleanupCmd(),
	)

	return cmd
}

// Print version info and exit.
func versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := &experiment.App{Out: cmd.OutOrStdout()}
			return app.Version()
		},
	}
	return cmd
}

// Profile one application on one host, once per pod count and workload.
func profileCmd() *cobra.Command {
	w := domain.ProfileWorkload{}
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Profile an application on a single host.",
		Long: `Profile an application on a single host.

Either pass one arrival profile per client with --profiles, or span synthetic workloads with --n, --ia
and --clients. Every workload is run once per entry of --pods.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := w.Validate(); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *experiment.App) error {
				_, err := app.Profile(ctx, w)
				return err
			})
		},
	}

	addProfileFlags(cmd.Flags(), &w)

	return cmd
}

func addProfileFlags(flags *pflag.FlagSet, w *domain.ProfileWorkload) {
	flags.StringVar(&w.App, "app", "", "Name of the application, e.g., mobilenet.")
	flags.StringVar(&w.Creator, "creator", "", "Creator stored with the experiment.")
	flags.StringVar(&w.Host, "host", "", "Host the pods are deployed on.")
	flags.StringVar(&w.Image, "image", "", "Container image of the function.")
	flags.StringVar(&w.Zone, "zone", "", "Zone of the host.")
	flags.StringVar(&w.MasterNode, "master-node", "", "Node the telemetry adapter is deployed on.")
	flags.StringSliceVar(&w.Profiles, "profiles", nil, "Arrival profiles, one per client.")
	flags.IntSliceVar(&w.PodCounts, "pods", []int{1}, "Number of pods, one run per entry.")
	flags.IntSliceVar(&w.N, "n", nil, "Requests per client of synthetic workloads.")
	flags.Float64SliceVar(&w.Interarrivals, "ia", nil, "Interarrival times in seconds of synthetic workloads.")
	flags.IntSliceVar(&w.ClientCounts, "clients", []int{1}, "Number of clients of synthetic workloads.")
	flags.StringVar(&w.LoadBalancerIp, "lb-ip", "", "Route clients to this load balancer instead of the host.")
	flags.StringToStringVar(&w.Params, "param", nil, "Application parameters, e.g., --param image_url=https://...")
}

// Run a multi-zone scenario described in a yaml file.
func scenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run a scenario deploying several functions across zones.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString("file")
			if err != nil {
				return err
			}
			scenario, err := experiment.LoadScenario(path)
			if err != nil {
				return err
			}
			if err := scenario.Validate(); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *experiment.App) error {
				_, err := app.Scenario(ctx, path)
				return err
			})
		},
	}

	cmd.Flags().String("file", "", "Scenario file, e.g., './scenarios/three-zones.yaml'.")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// Remove pods and weight keys left behind by interrupted experiments.
func cleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove function pods and weight keys left behind by interrupted experiments.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, err := cmd.Flags().GetString("prefix")
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *experiment.App) error {
				if err := app.Cleanup(ctx, prefix); err != nil {
					log.WithError(err).Error("Cleanup incomplete")
				}
				return nil
			})
		},
	}

	cmd.Flags().String("prefix", "", "Weight key prefix to clean up. Defaults to the configured prefix.")

	return cmd
}

// withApp loads the configuration, connects to the cluster, redis and etcd and runs action with a
// context that is cancelled on SIGINT/SIGTERM. Cancelling still releases the resources of the
// running experiment.
func withApp(cmd *cobra.Command, action func(ctx context.Context, app *experiment.App) error) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	common.SetLogLevel(config.LogLevel)
	stopMetrics := common.ServeMetrics(config.MetricsPort)
	defer stopMetrics()

	app, closeAll, err := experiment.Connect(config)
	if err != nil {
		return err
	}
	defer closeAll()
	app.Out = cmd.OutOrStdout()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stopSignal)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-stopSignal:
			log.Warn("Interrupted, cleaning up")
			cancel()
		}
	}()

	return action(ctx, app)
}

func loadConfig(cmd *cobra.Command) (configuration.ExperimentsConfiguration, error) {
	configDir, err := cmd.Flags().GetString(configDirFlag)
	if err != nil {
		return configuration.ExperimentsConfiguration{}, err
	}
	configFiles, err := cmd.Flags().GetStringSlice(configFileFlag)
	if err != nil {
		return configuration.ExperimentsConfiguration{}, err
	}

	config := configuration.Default()
	common.LoadConfig(&config, configDir, configFiles)
	config.Etcd = configuration.EtcdFromEnv(config.Etcd)
	if err := configuration.ValidateExperimentsConfiguration(config); err != nil {
		return config, errors.WithMessage(err, "invalid configuration")
	}
	return config, nil
}
