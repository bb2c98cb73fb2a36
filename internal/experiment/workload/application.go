package workload

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	v1 "k8s.io/api/core/v1"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
	"github.com/edgerun/galileo-experiments/internal/experiment/routing"
)

// Application is a workload application: it knows how to run its function in a pod and how to
// generate client traffic against it.
type Application interface {
	Name() string
	SpawnGroup(ctx context.Context, config GroupConfig, env Environment) (ClientGroup, error)
	Container(podName string, image string, resources v1.ResourceList) v1.Container
}

type GroupConfig struct {
	// Defaults to {function}-{zone}.
	Name     string
	Clients  int
	Zone     string
	Function string
	Params   map[string]string
	// host:port all clients send to. If empty the route of the function in the zone is used.
	Target string
}

func (c GroupConfig) GroupName() string {
	if c.Name != "" {
		return c.Name
	}
	return routing.ServiceName(c.Function, c.Zone)
}

// Environment holds what client groups need from the experiment to issue requests.
type Environment struct {
	Routes         routing.Table
	Queue          *ProfileQueue
	RequestTimeout time.Duration
}

type ClientDescription struct {
	Id    string
	Group string
	Zone  string
}

type ClientGroup interface {
	Name() string
	Clients() []ClientDescription
	Request(ctx context.Context, spec RequestSpec) (Handle, error)
	Close() error
}

type Handle interface {
	// Wait blocks until every client of the group finished.
	Wait() (Result, error)
}

type Result struct {
	Group       string
	Requests    uint64
	Success     float64
	StatusCodes map[string]int
	Errors      []string
	MeanLatency time.Duration
	P99Latency  time.Duration
}

// RequestSpec selects how clients issue requests: either every client replays the arrival profile
// stored in its queue, or every client sends N requests, one per Interarrival.
type RequestSpec struct {
	Prerecorded  bool
	N            int
	Interarrival time.Duration
}

func Prerecorded() RequestSpec {
	return RequestSpec{Prerecorded: true}
}

// Synthetic sends n requests per client, spaced by ia seconds.
func Synthetic(n int, ia float64) RequestSpec {
	return RequestSpec{N: n, Interarrival: time.Duration(ia * float64(time.Second))}
}

func (s RequestSpec) String() string {
	if s.Prerecorded {
		return "prerecorded"
	}
	return fmt.Sprintf("n=%d ia=%s", s.N, s.Interarrival)
}

func (s RequestSpec) Validate() error {
	if s.Prerecorded {
		return nil
	}
	if s.N <= 0 {
		return errors.WithStack(&experimenterrors.ErrInvalidArgument{Name: "N", Value: s.N, Message: "must be positive"})
	}
	if s.Interarrival < 0 {
		return errors.WithStack(&experimenterrors.ErrInvalidArgument{Name: "Interarrival", Value: s.Interarrival, Message: "must not be negative"})
	}
	return nil
}

type Registry struct {
	applications map[string]Application
}

func NewRegistry(applications ...Application) *Registry {
	registry := &Registry{applications: map[string]Application{}}
	for _, application := range applications {
		registry.applications[application.Name()] = application
	}
	return registry
}

func DefaultRegistry() *Registry {
	return NewRegistry(NewMobilenet(), NewEcho())
}

func (r *Registry) Get(name string) (Application, error) {
	application, ok := r.applications[name]
	if !ok {
		return nil, errors.WithStack(&experimenterrors.ErrInvalidArgument{
			Name:    "application",
			Value:   name,
			Message: fmt.Sprintf("known applications are %v", r.Names()),
		})
	}
	return application, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.applications))
	for name := range r.applications {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
