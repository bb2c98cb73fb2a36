package experiment

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edgerun/galileo-experiments/internal/experiment/configuration"
	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
	"github.com/edgerun/galileo-experiments/internal/experiment/orchestrator"
	"github.com/edgerun/galileo-experiments/internal/experiment/provisioner"
	"github.com/edgerun/galileo-experiments/internal/experiment/routing"
	"github.com/edgerun/galileo-experiments/internal/experiment/workload"
)

// ProfileRunner profiles one application on one host, once per pod count and workload.
type ProfileRunner struct {
	components    Components
	podPort       int
	placementWait time.Duration
	coolDown      time.Duration
}

func NewProfileRunner(components Components, config configuration.ExperimentsConfiguration) *ProfileRunner {
	return &ProfileRunner{
		components:    components,
		podPort:       config.Provisioning.PodPort,
		placementWait: config.Provisioning.PlacementWait,
		coolDown:      config.Workload.CoolDown,
	}
}

type profileRun struct {
	pods     int
	clients  int
	spec     workload.RequestSpec
	profiles []string
}

// profileRuns expands w into its runs. Prerecorded profiles run once per pod count, synthetic workloads
// once per combination of pod count, client count, request count and interarrival time.
func profileRuns(w domain.ProfileWorkload) []profileRun {
	var runs []profileRun
	for _, pods := range w.PodCounts {
		if w.UsesProfiles() {
			runs = append(runs, profileRun{pods: pods, clients: len(w.Profiles), spec: workload.Prerecorded(), profiles: w.Profiles})
			continue
		}
		for _, clients := range w.ClientCounts {
			for _, n := range w.N {
				for _, ia := range w.Interarrivals {
					runs = append(runs, profileRun{pods: pods, clients: clients, spec: workload.Synthetic(n, ia)})
				}
			}
		}
	}
	return runs
}

// Run executes every run of w. Only an invalid workload is returned as error, failures of individual
// runs are part of their summary.
func (r *ProfileRunner) Run(ctx context.Context, w domain.ProfileWorkload) ([]*RunSummary, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	app, err := r.components.Applications.Get(w.App)
	if err != nil {
		return nil, err
	}

	runs := profileRuns(w)
	summaries := make([]*RunSummary, 0, len(runs))
	for i, run := range runs {
		if i > 0 {
			log.Infof("Cool down for %s", r.coolDown)
			if err := sleep(ctx, r.coolDown); err != nil {
				log.WithError(err).Warnf("Skipping %d remaining runs", len(runs)-i)
				break
			}
		}
		log.WithFields(log.Fields{"app": w.App, "pods": run.pods, "clients": run.clients}).
			Infof("Run %d/%d: %d pods, %d clients, requests %s", i+1, len(runs), run.pods, run.clients, run.spec)
		summaries = append(summaries, r.runOnce(ctx, app, w, run))
	}
	return summaries, nil
}

func (r *ProfileRunner) runOnce(ctx context.Context, app workload.Application, w domain.ProfileWorkload, run profileRun) *RunSummary {
	config := &orchestrator.RunConfig{
		Creator:    w.Creator,
		MasterNode: w.MasterNode,
		Hosts:      []string{w.Host},
		App:        w.App,
		Metadata:   profileMetadata(w, run),
	}
	summary := &RunSummary{Experiment: config.ExperimentName()}
	res := &resources{}
	defer func() {
		summary.CleanupErr = r.components.release(ctx, res)
	}()

	requests, err := setUpSafely(func() (workload.RequestsFunc, error) {
		return r.setUp(ctx, app, w, run, res)
	})
	if err != nil {
		summary.SetupErr = err
		log.WithError(err).WithField("experiment", summary.Experiment).Error("Failed to set up experiment")
		return summary
	}
	summary.Report = r.components.Orchestrator.Run(ctx, config, requests)
	return summary
}

// setUp spawns the client group and the pods and points weights and routes at them. Everything
// provisioned is added to res, also when setUp fails half way.
func (r *ProfileRunner) setUp(ctx context.Context, app workload.Application, w domain.ProfileWorkload, run profileRun, res *resources) (workload.RequestsFunc, error) {
	group, err := r.components.Driver.SpawnGroup(ctx, app, workload.GroupConfig{
		Clients:  run.clients,
		Zone:     w.Zone,
		Function: w.App,
		Params:   w.Params,
	})
	if group != nil {
		res.groups = append(res.groups, group)
	}
	if err != nil {
		return nil, err
	}
	if len(run.profiles) > 0 {
		if err := r.components.Driver.LoadProfiles(group, run.profiles); err != nil {
			return nil, err
		}
	}

	names, err := r.components.Provisioner.SpawnPods(ctx, provisioner.SpawnRequest{
		Image:      w.Image,
		NamePrefix: w.App,
		Node:       w.Host,
		Labels:     map[string]string{domain.FunctionLabel: w.App, domain.ZoneLabel: w.Zone},
		Count:      run.pods,
		Factory:    app.Container,
	})
	res.pods = append(res.pods, names...)
	if err != nil {
		return nil, err
	}

	log.Infof("Wait %s for the pods to be placed", r.placementWait)
	if err := sleep(ctx, r.placementWait); err != nil {
		return nil, err
	}
	pods, err := r.components.Provisioner.GetPods(ctx, names)
	if err != nil {
		return nil, err
	}

	key, err := r.components.Weights.SetWeightsRoundRobin(ctx, pods, w.Zone, w.App)
	res.weightKeys = append(res.weightKeys, key)
	if err != nil {
		return nil, err
	}

	target := w.Host
	if w.LoadBalancerIp != "" {
		target = w.LoadBalancerIp
	}
	service := routing.ServiceName(w.App, w.Zone)
	res.services = append(res.services, service)
	if err := r.components.Routes.SetRoute(service, []string{fmt.Sprintf("%s:%d", target, r.podPort)}, []int{1}); err != nil {
		return nil, err
	}

	// the group is closed by the requests, closing it again on release is a no-op
	return r.components.Driver.Requests(group, run.spec), nil
}

func profileMetadata(w domain.ProfileWorkload, run profileRun) domain.RunMetadata {
	return domain.RunMetadata{
		Exp: domain.ExpMetadata{
			AppName: w.App,
			Image:   w.Image,
			Host:    w.Host,
			Zone:    w.Zone,
			Requests: domain.RequestsMetadata{
				Profiles:     run.profiles,
				N:            run.spec.N,
				Interarrival: run.spec.Interarrival.Seconds(),
				Clients:      run.clients,
				Pods:         run.pods,
			},
		},
	}
}
