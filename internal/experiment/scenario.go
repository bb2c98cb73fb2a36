package experiment

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
	"github.com/edgerun/galileo-experiments/internal/common/util"
	"github.com/edgerun/galileo-experiments/internal/experiment/configuration"
	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
	"github.com/edgerun/galileo-experiments/internal/experiment/orchestrator"
	"github.com/edgerun/galileo-experiments/internal/experiment/provisioner"
	"github.com/edgerun/galileo-experiments/internal/experiment/weights"
	"github.com/edgerun/galileo-experiments/internal/experiment/workload"
)

const scenarioAppName = "scenario"

// ScenarioRunner deploys several functions across zones and drives one client group per zone and
// function concurrently.
type ScenarioRunner struct {
	components    Components
	podPort       int
	placementWait time.Duration
}

func NewScenarioRunner(components Components, config configuration.ExperimentsConfiguration) *ScenarioRunner {
	return &ScenarioRunner{
		components:    components,
		podPort:       config.Provisioning.PodPort,
		placementWait: config.Provisioning.PlacementWait,
	}
}

// Run executes the scenario once. Only an invalid scenario is returned as error.
func (r *ScenarioRunner) Run(ctx context.Context, w domain.ScenarioWorkload) (*RunSummary, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	config := &orchestrator.RunConfig{
		Creator:    w.Creator,
		MasterNode: w.MasterNode,
		App:        scenarioAppName,
		Metadata:   scenarioMetadata(w),
	}
	summary := &RunSummary{Experiment: config.ExperimentName()}
	res := &resources{}
	defer func() {
		summary.CleanupErr = r.components.release(ctx, res)
	}()

	requests, err := setUpSafely(func() (workload.RequestsFunc, error) {
		return r.setUp(ctx, w, res)
	})
	if err != nil {
		summary.SetupErr = err
		log.WithError(err).WithField("experiment", summary.Experiment).Error("Failed to set up scenario")
		return summary, nil
	}
	summary.Report = r.components.Orchestrator.Run(ctx, config, requests)
	return summary, nil
}

func (r *ScenarioRunner) setUp(ctx context.Context, w domain.ScenarioWorkload, res *resources) (workload.RequestsFunc, error) {
	groups, err := r.spawnClientGroups(ctx, w, res)
	if err != nil {
		return nil, err
	}

	pods, err := r.spawnPods(ctx, w, res)
	if err != nil {
		return nil, err
	}

	gateways, err := r.components.Provisioner.GetLoadBalancerPods(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := r.components.Weights.Publish(ctx, weights.NewTopology(pods, gateways))
	res.weightKeys = append(res.weightKeys, keys...)
	if err != nil {
		return nil, err
	}

	loadBalancers := w.LoadBalancerIps
	if len(loadBalancers) == 0 {
		loadBalancers = make(map[string]string, len(gateways))
		for zone, gateway := range gateways {
			loadBalancers[zone] = gateway.Ip
		}
	}
	services, err := r.components.Routes.SetZoneRoutes(w.FunctionNames(), loadBalancers, r.podPort)
	res.services = append(res.services, services...)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		return workload.RunAll(ctx, groups...)
	}, nil
}

// spawnClientGroups creates one client group per zone and image, each client replaying one profile.
func (r *ScenarioRunner) spawnClientGroups(ctx context.Context, w domain.ScenarioWorkload, res *resources) ([]workload.RequestsFunc, error) {
	var requests []workload.RequestsFunc
	for _, zone := range util.SortedKeys(w.Profiles) {
		images := w.Profiles[zone]
		for _, image := range util.SortedKeys(images) {
			app, err := r.components.Applications.Get(w.Applications[image])
			if err != nil {
				return nil, err
			}
			profiles := images[image]
			group, err := r.components.Driver.SpawnGroup(ctx, app, workload.GroupConfig{
				Clients:  len(profiles),
				Zone:     zone,
				Function: w.AppNames[image],
				Params:   w.AppParams[image],
			})
			if group != nil {
				res.groups = append(res.groups, group)
			}
			if err != nil {
				return nil, err
			}
			if err := r.components.Driver.LoadProfiles(group, profiles); err != nil {
				return nil, err
			}
			requests = append(requests, r.components.Driver.Requests(group, workload.Prerecorded()))
		}
	}
	return requests, nil
}

// spawnPods deploys the pods of every host and image and waits until all of them have an ip.
func (r *ScenarioRunner) spawnPods(ctx context.Context, w domain.ScenarioWorkload, res *resources) ([]domain.Pod, error) {
	var names []string
	for _, host := range util.SortedKeys(w.Services) {
		images := w.Services[host]
		for _, image := range util.SortedKeys(images) {
			app, err := r.components.Applications.Get(w.Applications[image])
			if err != nil {
				return nil, err
			}
			fn := w.AppNames[image]
			spawned, err := r.components.Provisioner.SpawnPods(ctx, provisioner.SpawnRequest{
				Image:      image,
				NamePrefix: fn,
				Node:       host,
				Labels:     map[string]string{domain.FunctionLabel: fn, domain.ZoneLabel: w.ZoneMapping[host]},
				Count:      images[image],
				Factory:    app.Container,
			})
			res.pods = append(res.pods, spawned...)
			names = append(names, spawned...)
			if err != nil {
				return nil, err
			}
		}
	}
	if len(names) == 0 {
		return nil, errors.WithStack(&experimenterrors.ErrInvalidArgument{
			Name:    "Services",
			Value:   w.Services,
			Message: "scenario does not deploy any pod",
		})
	}

	log.Infof("Wait %s for %d pods to be placed", r.placementWait, len(names))
	if err := sleep(ctx, r.placementWait); err != nil {
		return nil, err
	}
	return r.components.Provisioner.GetPods(ctx, names)
}

func scenarioMetadata(w domain.ScenarioWorkload) domain.RunMetadata {
	return domain.RunMetadata{
		Service: w.AppNames,
		Scenario: &domain.ScenarioMetadata{
			Services: w.Services,
			Profiles: w.Profiles,
			Zones:    w.ZoneMapping,
			Params:   w.Params,
		},
	}
}
