package experiment

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
	"github.com/edgerun/galileo-experiments/internal/experiment/orchestrator"
)

// RunSummary is the result of one experiment run including the resources provisioned around it.
type RunSummary struct {
	Experiment string
	// Error that prevented the lifecycle from being started. Report is nil in that case.
	SetupErr error
	Report   *orchestrator.RunReport
	// Error releasing pods, weights, routes or client groups.
	CleanupErr error
}

// Outcome is the outcome of the lifecycle. A run whose resources could not be released is at best degraded.
func (s *RunSummary) Outcome() orchestrator.Outcome {
	if s.SetupErr != nil || s.Report == nil {
		return orchestrator.Failed
	}
	outcome := s.Report.Outcome()
	if outcome == orchestrator.Succeeded && s.CleanupErr != nil {
		return orchestrator.Degraded
	}
	return outcome
}

// Err returns the first of setup, lifecycle and cleanup errors.
func (s *RunSummary) Err() error {
	if s.SetupErr != nil {
		return s.SetupErr
	}
	if s.Report != nil {
		if err := s.Report.Err(); err != nil {
			return err
		}
	}
	return s.CleanupErr
}

func writeSummaries(out io.Writer, summaries []*RunSummary) {
	w := tabwriter.NewWriter(out, 1, 1, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "EXPERIMENT\tID\tOUTCOME\tFAILED PHASES\tERROR\n")
	for _, summary := range summaries {
		id := ""
		var failed []orchestrator.Phase
		if summary.Report != nil {
			id = summary.Report.ExperimentId
			failed = summary.Report.FailedPhases()
		}
		kind := ""
		if err := summary.Err(); err != nil {
			kind = experimenterrors.Kind(err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", summary.Experiment, id, summary.Outcome(), failed, kind)
	}
}
