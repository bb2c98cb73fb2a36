// Package orchestrator runs the lifecycle of a single experiment: it switches on tracing and telemetry,
// records the experiment, starts the telemetry adapter, waits until the system reports readiness and
// then runs the requests. Whatever happens on the way, tracing, telemetry, the record and the adapter
// are switched off again before Run returns.
//
// Pods, weights and routes are not touched here. Callers provision them before Run and release them
// after Run returns.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
	"github.com/edgerun/galileo-experiments/internal/experiment/configuration"
	"github.com/edgerun/galileo-experiments/internal/experiment/controlplane"
	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
	"github.com/edgerun/galileo-experiments/internal/experiment/metrics"
	"github.com/edgerun/galileo-experiments/internal/experiment/workload"
)

type Discovery interface {
	Discover() ([]string, error)
}

type Tracer interface {
	StartTracing() error
	StopTracing() error
}

type Telemetry interface {
	Start(hosts []string) error
	Stop(hosts []string) error
}

type Recorder interface {
	Start(record controlplane.ExperimentRecord) (string, error)
	Stop() error
}

// Waiter blocks until the system reported readiness.
type Waiter interface {
	Wait(ctx context.Context, timeout time.Duration) error
	Close() error
}

// Readiness starts listening for the readiness event. Arm is called before the adapter is started so
// that an event published right away is not lost.
type Readiness interface {
	Arm() (Waiter, error)
}

type Adapter interface {
	StartAdapterDeployment(ctx context.Context, masterNode string) error
	StopAdapterDeployment(ctx context.Context) error
}

type Collaborators struct {
	Discovery Discovery
	Tracer    Tracer
	Telemetry Telemetry
	Recorder  Recorder
	Readiness Readiness
	Adapter   Adapter
}

// FromControlPlane wires the redis backed collaborators of cp.
func FromControlPlane(cp *controlplane.Context, adapter Adapter) Collaborators {
	return Collaborators{
		Discovery: cp.Discovery,
		Tracer:    cp.Tracer,
		Telemetry: cp.Telemetry,
		Recorder:  cp.Recorder,
		Readiness: signalReadiness{signal: cp.Readiness},
		Adapter:   adapter,
	}
}

type signalReadiness struct {
	signal *controlplane.ReadinessSignal
}

func (r signalReadiness) Arm() (Waiter, error) {
	armed, err := r.signal.Arm()
	if err != nil {
		return nil, err
	}
	return armed, nil
}

type RunConfig struct {
	Creator    string
	MasterNode string
	// Hosts emitting telemetry. Every host emits if empty.
	Hosts []string
	App   string
	// Experiment name. Derived from App and the current time if empty.
	Name     string
	Metadata domain.RunMetadata
}

// ExperimentName returns the experiment name, deriving it as {app}-{unix seconds} on first use.
func (c *RunConfig) ExperimentName() string {
	if c.Name == "" {
		c.Name = fmt.Sprintf("%s-%d", c.App, time.Now().Unix())
	}
	return c.Name
}

type Orchestrator struct {
	collaborators    Collaborators
	readinessTimeout time.Duration
	settle           time.Duration
}

func New(collaborators Collaborators, config configuration.ExperimentsConfiguration) *Orchestrator {
	return &Orchestrator{
		collaborators:    collaborators,
		readinessTimeout: config.Readiness.Timeout,
		settle:           config.Workload.Settle,
	}
}

type step struct {
	phase  Phase
	action func() error
	// Pause after the phase succeeded.
	settle bool
}

// Run executes the lifecycle and reports the outcome of every phase. The forward path stops at the first
// failing phase. The phases switching things off are attempted regardless, each one independently.
func (o *Orchestrator) Run(ctx context.Context, config *RunConfig, requests workload.RequestsFunc) *RunReport {
	name := config.ExperimentName()
	logger := log.WithField("experiment", name)
	report := newRunReport(name)
	logger.Infof("Start experiment run %s", name)

	o.run(logger, report, Discover, func() error {
		workers, err := o.collaborators.Discovery.Discover()
		report.Workers = workers
		if err == nil {
			logger.Infof("Discovered workers: %v", workers)
		}
		return err
	})
	o.pause(ctx)

	var waiter Waiter
	var armErr error
	defer func() {
		if waiter != nil {
			if err := waiter.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close readiness subscription")
			}
		}
	}()

	forward := []step{
		{phase: TraceOn, action: o.collaborators.Tracer.StartTracing},
		{phase: TelemetryOn, action: func() error {
			return o.collaborators.Telemetry.Start(config.Hosts)
		}},
		{phase: RecordStart, settle: true, action: func() error {
			id, err := o.collaborators.Recorder.Start(controlplane.ExperimentRecord{
				Name:     name,
				Creator:  config.Creator,
				Metadata: config.Metadata,
			})
			report.ExperimentId = id
			return err
		}},
		{phase: AdapterOn, action: func() error {
			waiter, armErr = o.collaborators.Readiness.Arm()
			return o.collaborators.Adapter.StartAdapterDeployment(ctx, config.MasterNode)
		}},
		{phase: AwaitReady, settle: true, action: func() error {
			if armErr != nil {
				return armErr
			}
			return waiter.Wait(ctx, o.readinessTimeout)
		}},
		{phase: RunRequests, action: func() error {
			if requests == nil {
				return errors.WithStack(&experimenterrors.ErrInvalidArgument{Name: "requests", Message: "no requests to run"})
			}
			return requests(ctx)
		}},
	}

	// switching off must not be skipped because the run was cancelled or a step panicked
	defer func() {
		o.unwind(context.WithoutCancel(ctx), logger, report, config)
		o.finish(logger, report)
	}()

	failed := false
	for _, s := range forward {
		if failed {
			report.skip(s.phase)
			continue
		}
		if err := ctx.Err(); err != nil {
			o.run(logger, report, s.phase, func() error { return err })
			failed = true
			continue
		}
		failed = !o.run(logger, report, s.phase, s.action)
		if !failed && s.settle {
			o.pause(ctx)
		}
	}
	return report
}

// unwind attempts every switch-off phase, independent of the others.
func (o *Orchestrator) unwind(ctx context.Context, logger *log.Entry, report *RunReport, config *RunConfig) {
	o.run(logger, report, TraceOff, o.collaborators.Tracer.StopTracing)
	o.run(logger, report, TelemetryOff, func() error {
		return o.collaborators.Telemetry.Stop(config.Hosts)
	})
	if report.ExperimentId != "" {
		o.run(logger, report, RecordStop, o.collaborators.Recorder.Stop)
	} else {
		report.skip(RecordStop)
	}
	o.run(logger, report, AdapterOff, func() error {
		return o.collaborators.Adapter.StopAdapterDeployment(ctx)
	})
}

func (o *Orchestrator) finish(logger *log.Entry, report *RunReport) {
	report.End = time.Now()
	outcome := report.Outcome()
	metrics.RecordRun(string(outcome))
	if outcome == Succeeded {
		logger.Infof("Experiment %s succeeded after %s", report.Experiment, report.End.Sub(report.Start))
	} else {
		logger.WithError(report.Err()).Warnf("Experiment %s %s, failed phases: %v", report.Experiment, outcome, report.FailedPhases())
	}
}

func (o *Orchestrator) run(logger *log.Entry, report *RunReport, phase Phase, action func() error) bool {
	logger = logger.WithField("phase", phase)
	logger.Debugf("Enter phase %s", phase)

	start := time.Now()
	err := protect(action)
	outcome := PhaseOutcome{Phase: phase, Status: StatusSucceeded, Err: err, Duration: time.Since(start)}
	if err != nil {
		outcome.Status = StatusFailed
		metrics.RecordFailure(experimenterrors.Kind(err))
		logger.WithError(err).Errorf("Phase %s failed", phase)
	}
	metrics.RecordPhase(string(phase), string(outcome.Status), outcome.Duration)
	report.record(outcome)
	return err == nil
}

func (o *Orchestrator) pause(ctx context.Context) {
	if o.settle <= 0 {
		return
	}
	select {
	case <-time.After(o.settle):
	case <-ctx.Done():
	}
}

// protect runs action and turns a panic into an error, so a crashing collaborator fails its phase
// instead of skipping the unwind.
func protect(action func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return action()
}
