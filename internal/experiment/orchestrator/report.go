package orchestrator

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
)

type Phase string

const (
	Discover     Phase = "discover"
	TraceOn      Phase = "trace_on"
	TelemetryOn  Phase = "telemetry_on"
	RecordStart  Phase = "record_start"
	AdapterOn    Phase = "adapter_on"
	AwaitReady   Phase = "await_ready"
	RunRequests  Phase = "run_requests"
	TraceOff     Phase = "trace_off"
	TelemetryOff Phase = "telemetry_off"
	RecordStop   Phase = "record_stop"
	AdapterOff   Phase = "adapter_off"
)

// Phases lists the lifecycle phases in execution order.
var Phases = []Phase{
	Discover, TraceOn, TelemetryOn, RecordStart, AdapterOn, AwaitReady, RunRequests,
	TraceOff, TelemetryOff, RecordStop, AdapterOff,
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// The phase was not attempted because an earlier phase failed.
	StatusSkipped Status = "skipped"
)

type PhaseOutcome struct {
	Phase    Phase
	Status   Status
	Err      error
	Duration time.Duration
}

func (o PhaseOutcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %s (%s)", o.Phase, o.Status, o.Err)
	}
	return fmt.Sprintf("%s: %s", o.Phase, o.Status)
}

type Outcome string

const (
	// Every phase succeeded.
	Succeeded Outcome = "succeeded"
	// The requests ran but another phase failed, so the results may not be valid.
	Degraded Outcome = "degraded"
	// The requests never completed.
	Failed Outcome = "failed"
)

// RunReport collects the outcome of every phase of one experiment run.
type RunReport struct {
	Experiment string
	// Id of the experiment record, empty if the record was never started.
	ExperimentId string
	Workers      []string
	Start        time.Time
	End          time.Time
	Phases       []PhaseOutcome
}

func newRunReport(experiment string) *RunReport {
	return &RunReport{Experiment: experiment, Start: time.Now()}
}

func (r *RunReport) record(outcome PhaseOutcome) {
	r.Phases = append(r.Phases, outcome)
}

func (r *RunReport) skip(phase Phase) {
	r.record(PhaseOutcome{Phase: phase, Status: StatusSkipped})
}

// Phase returns the outcome of phase, if it was recorded.
func (r *RunReport) Phase(phase Phase) (PhaseOutcome, bool) {
	for _, outcome := range r.Phases {
		if outcome.Phase == phase {
			return outcome, true
		}
	}
	return PhaseOutcome{}, false
}

// FailedPhases returns the phases that were attempted and failed.
func (r *RunReport) FailedPhases() []Phase {
	var failed []Phase
	for _, outcome := range r.Phases {
		if outcome.Status == StatusFailed {
			failed = append(failed, outcome.Phase)
		}
	}
	return failed
}

// Outcome is Failed if the requests did not complete. A failed discovery does not degrade a run.
func (r *RunReport) Outcome() Outcome {
	requests, ok := r.Phase(RunRequests)
	if !ok || requests.Status != StatusSucceeded {
		return Failed
	}
	for _, outcome := range r.Phases {
		if outcome.Phase != Discover && outcome.Status == StatusFailed {
			return Degraded
		}
	}
	return Succeeded
}

// Err aggregates the errors of all failed phases.
func (r *RunReport) Err() error {
	var result *multierror.Error
	for _, outcome := range r.Phases {
		if outcome.Err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", outcome.Phase, outcome.Err))
		}
	}
	return result.ErrorOrNil()
}

// FailureKinds counts the failed phases by error kind.
func (r *RunReport) FailureKinds() map[string]int {
	kinds := make(map[string]int)
	for _, outcome := range r.Phases {
		if outcome.Err != nil {
			kinds[experimenterrors.Kind(outcome.Err)]++
		}
	}
	return kinds
}
