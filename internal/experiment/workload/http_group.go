package workload

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	vegeta "github.com/tsenart/vegeta/v12/lib"
	"golang.org/x/sync/errgroup"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
	"github.com/edgerun/galileo-experiments/internal/experiment/routing"
)

// HttpRequestTemplate is the request every client of a group sends.
type HttpRequestTemplate struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header
}

// HttpClientGroup issues HTTP requests with one vegeta attacker per client.
type HttpClientGroup struct {
	config   GroupConfig
	env      Environment
	template HttpRequestTemplate
	clients  []ClientDescription

	mutex  sync.Mutex
	closed bool
}

func NewHttpClientGroup(config GroupConfig, env Environment, template HttpRequestTemplate) (*HttpClientGroup, error) {
	if config.Clients <= 0 {
		return nil, errors.WithStack(&experimenterrors.ErrInvalidArgument{
			Name:    "Clients",
			Value:   config.Clients,
			Message: "a client group needs at least one client",
		})
	}
	name := config.GroupName()
	clients := make([]ClientDescription, 0, config.Clients)
	for i := 0; i < config.Clients; i++ {
		clients = append(clients, ClientDescription{
			Id:    fmt.Sprintf("%s-%d-%s", name, i, uuid.New().String()[:8]),
			Group: name,
			Zone:  config.Zone,
		})
	}
	return &HttpClientGroup{config: config, env: env, template: template, clients: clients}, nil
}

func (g *HttpClientGroup) Name() string {
	return g.config.GroupName()
}

func (g *HttpClientGroup) Clients() []ClientDescription {
	return append([]ClientDescription(nil), g.clients...)
}

// targets returns the host:port each client sends to.
func (g *HttpClientGroup) targets() ([]string, error) {
	if g.config.Target != "" {
		return []string{g.config.Target}, nil
	}
	if g.env.Routes == nil {
		return nil, errors.New("no target and no routing table configured")
	}
	service := routing.ServiceName(g.config.Function, g.config.Zone)
	record, err := g.env.Routes.Get(service)
	if err != nil {
		return nil, err
	}
	if record == nil || len(record.Hosts) == 0 {
		return nil, errors.Errorf("no route for service %s", service)
	}
	return record.Hosts, nil
}

func (g *HttpClientGroup) Request(ctx context.Context, spec RequestSpec) (Handle, error) {
	g.mutex.Lock()
	closed := g.closed
	g.mutex.Unlock()
	if closed {
		return nil, g.workloadError("group is closed")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	targets, err := g.targets()
	if err != nil {
		return nil, g.workloadError(err.Error())
	}

	pacers := make([]vegeta.Pacer, len(g.clients))
	for i, client := range g.clients {
		intervals, err := g.intervals(client, spec)
		if err != nil {
			return nil, g.workloadError(err.Error())
		}
		pacers[i] = newIntervalPacer(intervals)
	}

	handle := &httpHandle{group: g.Name(), done: make(chan struct{})}
	go handle.run(ctx, g, targets, pacers)
	log.WithFields(log.Fields{"group": g.Name(), "clients": len(g.clients)}).Infof("Clients of %s start requests (%s)", g.Name(), spec)
	return handle, nil
}

func (g *HttpClientGroup) intervals(client ClientDescription, spec RequestSpec) ([]float64, error) {
	if !spec.Prerecorded {
		intervals := make([]float64, spec.N)
		for i := range intervals {
			intervals[i] = spec.Interarrival.Seconds()
		}
		return intervals, nil
	}
	if g.env.Queue == nil {
		return nil, errors.New("prerecorded requests need a profile queue")
	}
	intervals, err := g.env.Queue.Intervals(client.Id)
	if err != nil {
		return nil, err
	}
	if len(intervals) == 0 {
		return nil, errors.Errorf("client %s has no arrival profile", client.Id)
	}
	return intervals, nil
}

func (g *HttpClientGroup) target(host string, client ClientDescription) vegeta.Target {
	header := g.template.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("X-Client-Id", client.Id)
	return vegeta.Target{
		Method: g.template.Method,
		URL:    fmt.Sprintf("http://%s%s", host, g.template.Path),
		Body:   g.template.Body,
		Header: header,
	}
}

// Close releases the profile queues of the group's clients.
func (g *HttpClientGroup) Close() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	if g.env.Queue == nil {
		return nil
	}
	ids := make([]string, 0, len(g.clients))
	for _, client := range g.clients {
		ids = append(ids, client.Id)
	}
	return g.env.Queue.Clear(ids...)
}

func (g *HttpClientGroup) requestTimeout() time.Duration {
	if g.env.RequestTimeout <= 0 {
		return vegeta.DefaultTimeout
	}
	return g.env.RequestTimeout
}

func (g *HttpClientGroup) workloadError(message string) error {
	return errors.WithStack(&experimenterrors.ErrWorkload{Group: g.Name(), Message: message})
}

type httpHandle struct {
	group  string
	done   chan struct{}
	result Result
}

func (h *httpHandle) run(ctx context.Context, g *HttpClientGroup, targets []string, pacers []vegeta.Pacer) {
	defer close(h.done)

	var mutex sync.Mutex
	var metrics vegeta.Metrics

	var attacks errgroup.Group
	for i, client := range g.clients {
		client := client
		target := g.target(targets[i%len(targets)], client)
		pacer := pacers[i]
		attacks.Go(func() error {
			attacker := vegeta.NewAttacker(vegeta.Timeout(g.requestTimeout()), vegeta.KeepAlive(true))
			stop := make(chan struct{})
			defer close(stop)
			go func() {
				select {
				case <-ctx.Done():
					attacker.Stop()
				case <-stop:
				}
			}()

			for res := range attacker.Attack(vegeta.NewStaticTargeter(target), pacer, 0, client.Id) {
				mutex.Lock()
				metrics.Add(res)
				mutex.Unlock()
			}
			return nil
		})
	}
	_ = attacks.Wait()
	if metrics.Requests > 0 {
		metrics.Close()
	}

	h.result = Result{
		Group:       h.group,
		Requests:    metrics.Requests,
		Success:     metrics.Success,
		StatusCodes: metrics.StatusCodes,
		Errors:      metrics.Errors,
		MeanLatency: metrics.Latencies.Mean,
		P99Latency:  metrics.Latencies.P99,
	}
}

func (h *httpHandle) Wait() (Result, error) {
	<-h.done
	if h.result.Requests > 0 && h.result.Success == 0 {
		return h.result, errors.WithStack(&experimenterrors.ErrWorkload{
			Group:   h.group,
			Message: fmt.Sprintf("all %d requests failed: %v", h.result.Requests, h.result.Errors),
		})
	}
	return h.result, nil
}

// intervalPacer sends request i once the sum of the first i+1 intervals has elapsed and stops
// after the last interval.
type intervalPacer struct {
	offsets []time.Duration
}

func newIntervalPacer(intervals []float64) intervalPacer {
	offsets := make([]time.Duration, len(intervals))
	var sum float64
	for i, ia := range intervals {
		sum += ia
		offsets[i] = time.Duration(sum * float64(time.Second))
	}
	return intervalPacer{offsets: offsets}
}

func (p intervalPacer) Pace(elapsed time.Duration, hits uint64) (time.Duration, bool) {
	if hits >= uint64(len(p.offsets)) {
		return 0, true
	}
	next := p.offsets[hits]
	if elapsed >= next {
		return 0, false
	}
	return next - elapsed, false
}

// Rate is the average rate of the requests due until elapsed.
func (p intervalPacer) Rate(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	due := 0
	for _, offset := range p.offsets {
		if offset > elapsed {
			break
		}
		due++
	}
	return float64(due) / elapsed.Seconds()
}
