package experiment

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/edgerun/galileo-experiments/internal/experiment/orchestrator"
	"github.com/edgerun/galileo-experiments/internal/experiment/provisioner"
	"github.com/edgerun/galileo-experiments/internal/experiment/routing"
	"github.com/edgerun/galileo-experiments/internal/experiment/weights"
	"github.com/edgerun/galileo-experiments/internal/experiment/workload"
)

// Components are the collaborators shared by the pipelines.
type Components struct {
	Provisioner  provisioner.Provisioner
	Weights      *weights.Calculator
	Routes       *routing.Manager
	Driver       *workload.Driver
	Orchestrator *orchestrator.Orchestrator
	Applications *workload.Registry
}

// resources tracks everything a run provisioned outside the lifecycle, so that it can be released
// no matter where the run stopped.
type resources struct {
	groups     []workload.ClientGroup
	pods       []string
	weightKeys []string
	services   []string
}

// release removes routes, weights and pods and closes client groups. Every category is attempted
// even if an earlier one failed.
func (c *Components) release(ctx context.Context, res *resources) error {
	// a cancelled run still has to clean up
	ctx = context.WithoutCancel(ctx)
	var result *multierror.Error

	if len(res.services) > 0 {
		if err := c.Routes.RemoveRoutes(res.services); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if len(res.weightKeys) > 0 {
		if err := c.Weights.Remove(ctx, res.weightKeys); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if len(res.pods) > 0 {
		log.Infof("Remove %d pods", len(res.pods))
		if err := c.Provisioner.RemovePods(ctx, res.pods); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, group := range res.groups {
		if err := group.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		log.WithError(err).Error("Failed to release all resources of the run")
		return err
	}
	return nil
}

// setUpSafely runs setUp and turns a panic into its error, resources provisioned up to then stay
// tracked for release.
func setUpSafely(setUp func() (workload.RequestsFunc, error)) (requests workload.RequestsFunc, err error) {
	defer func() {
		if r := recover(); r != nil {
			requests, err = nil, errors.Errorf("panic during set-up: %v", r)
		}
	}()
	return setUp()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
