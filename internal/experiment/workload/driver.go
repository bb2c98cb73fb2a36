package workload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
	"github.com/edgerun/galileo-experiments/internal/experiment/configuration"
	"github.com/edgerun/galileo-experiments/internal/experiment/metrics"
	"github.com/edgerun/galileo-experiments/internal/experiment/routing"
)

// RequestsFunc runs the requests of one client group and blocks until they are done.
type RequestsFunc func(ctx context.Context) error

type Driver struct {
	env       Environment
	spawnWait time.Duration
}

func NewDriver(db redis.UniversalClient, routes routing.Table, config configuration.WorkloadConfiguration) *Driver {
	return &Driver{
		env: Environment{
			Routes:         routes,
			Queue:          NewProfileQueue(db),
			RequestTimeout: config.RequestTimeout,
		},
		spawnWait: config.SpawnWait,
	}
}

// SpawnGroup creates a client group of app and gives its clients time to start.
func (d *Driver) SpawnGroup(ctx context.Context, app Application, config GroupConfig) (ClientGroup, error) {
	log.WithFields(log.Fields{"group": config.GroupName(), "clients": config.Clients, "zone": config.Zone}).
		Infof("Spawn %d %s clients in %s", config.Clients, app.Name(), config.Zone)

	group, err := app.SpawnGroup(ctx, config, d.env)
	if err != nil {
		var workloadErr *experimenterrors.ErrWorkload
		if errors.As(err, &workloadErr) {
			return nil, err
		}
		return nil, errors.WithStack(&experimenterrors.ErrWorkload{Group: config.GroupName(), Message: err.Error()})
	}

	select {
	case <-time.After(d.spawnWait):
	case <-ctx.Done():
		return group, ctx.Err()
	}
	return group, nil
}

// LoadProfiles stores one arrival profile per client of group, replacing what the clients had queued.
func (d *Driver) LoadProfiles(group ClientGroup, paths []string) error {
	clients := group.Clients()
	if len(paths) != len(clients) {
		return errors.WithStack(&experimenterrors.ErrInvalidArgument{
			Name:    "profiles",
			Value:   paths,
			Message: fmt.Sprintf("group %s has %d clients", group.Name(), len(clients)),
		})
	}
	for i, client := range clients {
		intervals, err := LoadArrivalProfile(paths[i])
		if err != nil {
			return errors.WithStack(&experimenterrors.ErrWorkload{Group: group.Name(), Message: err.Error()})
		}
		if err := d.env.Queue.Replace(client.Id, SanitizeIntervals(intervals)); err != nil {
			return errors.WithStack(&experimenterrors.ErrWorkload{Group: group.Name(), Message: err.Error()})
		}
		log.WithField("client", client.Id).Infof("Loaded %d intervals from %s", len(intervals), paths[i])
	}
	return nil
}

// Requests returns the function that runs spec on group and closes the group afterwards.
func (d *Driver) Requests(group ClientGroup, spec RequestSpec) RequestsFunc {
	return func(ctx context.Context) error {
		var result *multierror.Error

		handle, err := group.Request(ctx, spec)
		if err != nil {
			result = multierror.Append(result, err)
		} else {
			res, err := handle.Wait()
			metrics.RecordRequests(group.Name(), res.StatusCodes)
			log.WithFields(log.Fields{
				"group":    group.Name(),
				"requests": res.Requests,
				"success":  res.Success,
				"mean":     res.MeanLatency,
				"p99":      res.P99Latency,
			}).Infof("Client group %s finished", group.Name())
			if err != nil {
				result = multierror.Append(result, err)
			}
		}

		if err := group.Close(); err != nil {
			result = multierror.Append(result, errors.WithStack(&experimenterrors.ErrWorkload{
				Group:   group.Name(),
				Message: err.Error(),
			}))
		}
		return result.ErrorOrNil()
	}
}

// RunAll runs fns concurrently and returns once every one of them finished. A panicking fn is
// reported as workload error.
func RunAll(ctx context.Context, fns ...RequestsFunc) error {
	if len(fns) == 0 {
		return nil
	}

	var mutex sync.Mutex
	var result *multierror.Error

	var g errgroup.Group
	g.SetLimit(len(fns))
	for _, fn := range fns {
		fn := fn
		g.Go(func() error {
			if err := runRecovered(ctx, fn); err != nil {
				mutex.Lock()
				result = multierror.Append(result, err)
				mutex.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return result.ErrorOrNil()
}

func runRecovered(ctx context.Context, fn RequestsFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WithStack(&experimenterrors.ErrWorkload{Message: fmt.Sprintf("client group panicked: %v", r)})
		}
	}()
	return fn(ctx)
}
