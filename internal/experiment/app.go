package experiment

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/go-redis/redis"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/edgerun/galileo-experiments/internal/experiment/build"
	"github.com/edgerun/galileo-experiments/internal/experiment/cluster"
	"github.com/edgerun/galileo-experiments/internal/experiment/configuration"
	"github.com/edgerun/galileo-experiments/internal/experiment/controlplane"
	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
	"github.com/edgerun/galileo-experiments/internal/experiment/orchestrator"
	"github.com/edgerun/galileo-experiments/internal/experiment/provisioner"
	"github.com/edgerun/galileo-experiments/internal/experiment/routing"
	"github.com/edgerun/galileo-experiments/internal/experiment/weights"
	"github.com/edgerun/galileo-experiments/internal/experiment/workload"
)

type App struct {
	Config     configuration.ExperimentsConfiguration
	Components Components
	// Store behind Components.Weights. Used to clean up keys under other prefixes.
	WeightStore weights.Store
	// Out is used to write the output. Defaults to standard out,
	// but can be overridden in tests to make assertions on the application's output.
	Out io.Writer
}

// New instantiates an App writing to standard out.
func New(config configuration.ExperimentsConfiguration, components Components, store weights.Store) *App {
	return &App{
		Config:      config,
		Components:  components,
		WeightStore: store,
		Out:         os.Stdout,
	}
}

// Connect creates the clients of the cluster api, redis and etcd and wires the components on top of them.
// The returned function closes the connections.
func Connect(config configuration.ExperimentsConfiguration) (*App, func(), error) {
	clientProvider, err := cluster.NewKubernetesClientProvider(config.Kubernetes)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "failed to create kubernetes client")
	}
	store, err := weights.NewEtcdStore(config.Etcd)
	if err != nil {
		return nil, nil, err
	}
	db := redis.NewClient(config.Redis.AsOptions())

	components := NewComponents(config, provisioner.NewKubernetesProvisioner(clientProvider, config.Kubernetes, config.Provisioning), store, db)
	closeAll := func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("Failed to close etcd client")
		}
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("Failed to close redis client")
		}
	}
	return New(config, components, store), closeAll, nil
}

// NewComponents wires the pipeline components. The provisioner also runs the telemetry adapter.
func NewComponents(
	config configuration.ExperimentsConfiguration,
	kubernetesProvisioner *provisioner.KubernetesProvisioner,
	store weights.Store,
	db redis.UniversalClient,
) Components {
	routes := routing.NewManager(routing.NewRedisTable(db, config.ControlPlane.RoutingPrefix))
	cp := controlplane.NewContext(db, config)
	return Components{
		Provisioner:  kubernetesProvisioner,
		Weights:      weights.NewCalculator(store, config.Etcd.KeyPrefix, config.Provisioning.PodPort),
		Routes:       routes,
		Driver:       workload.NewDriver(db, routes.Table(), config.Workload),
		Orchestrator: orchestrator.New(orchestrator.FromControlPlane(cp, kubernetesProvisioner), config),
		Applications: workload.DefaultRegistry(),
	}
}

// Version prints build information (e.g., current git commit) to the app output.
func (a *App) Version() error {
	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "Version:\t%s\n", build.ReleaseVersion)
	fmt.Fprintf(w, "Commit:\t%s\n", build.GitCommit)
	fmt.Fprintf(w, "Go version:\t%s\n", build.GoVersion)
	fmt.Fprintf(w, "Built:\t%s\n", build.BuildTime)
	return nil
}

// Profile runs the profile workload and prints one line per run. Failed runs are reported, not returned.
func (a *App) Profile(ctx context.Context, w domain.ProfileWorkload) ([]*RunSummary, error) {
	summaries, err := NewProfileRunner(a.Components, a.Config).Run(ctx, w)
	if err != nil {
		return nil, err
	}
	writeSummaries(a.Out, summaries)
	return summaries, nil
}

// Scenario loads the scenario file at path, runs it and prints its summary.
func (a *App) Scenario(ctx context.Context, path string) (*RunSummary, error) {
	scenario, err := LoadScenario(path)
	if err != nil {
		return nil, err
	}
	summary, err := NewScenarioRunner(a.Components, a.Config).Run(ctx, *scenario)
	if err != nil {
		return nil, err
	}
	writeSummaries(a.Out, []*RunSummary{summary})
	return summary, nil
}

// LoadScenario reads a yaml scenario description.
func LoadScenario(path string) (*domain.ScenarioWorkload, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	scenario := &domain.ScenarioWorkload{}
	if err := yaml.UnmarshalStrict(content, scenario); err != nil {
		return nil, errors.WithMessagef(err, "failed to parse scenario %s", path)
	}
	return scenario, nil
}

// Cleanup removes function pods spawned by experiments and weight keys left behind by interrupted runs. An empty prefix
// cleans up the configured key prefix.
func (a *App) Cleanup(ctx context.Context, prefix string) error {
	var result *multierror.Error

	names, err := a.Components.Provisioner.ListPodNames(ctx, domain.ManagedFunctionLabel)
	if err != nil {
		result = multierror.Append(result, err)
	} else if len(names) > 0 {
		if err := a.Components.Provisioner.RemovePods(ctx, names); err != nil {
			result = multierror.Append(result, err)
		}
	}

	calculator := a.Components.Weights
	if prefix != "" && prefix != a.Config.Etcd.KeyPrefix {
		calculator = weights.NewCalculator(a.WeightStore, prefix, a.Config.Provisioning.PodPort)
	}
	keys, err := calculator.RemoveAll(ctx)
	if err != nil {
		result = multierror.Append(result, err)
	}

	fmt.Fprintf(a.Out, "Removed %d pods and %d weight keys\n", len(names), len(keys))
	return result.ErrorOrNil()
}
