// Package controlplane talks to the galileo control plane through redis: worker discovery,
// tracing and telemetry switches, the experiment record and the readiness signal.
package controlplane

import (
	"fmt"
	"sort"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/edgerun/galileo-experiments/internal/experiment/configuration"
)

const (
	pingMessage    = "ping"
	startMessage   = "start"
	stopMessage    = "stop"
	pauseCommand   = "pause"
	unpauseCommand = "unpause"
)

// Discovery lists the workers registered with the control plane.
type Discovery struct {
	db              redis.UniversalClient
	registerChannel string
	workersKey      string
}

func NewDiscovery(db redis.UniversalClient, config configuration.ControlPlaneConfiguration) *Discovery {
	return &Discovery{db: db, registerChannel: config.RegisterChannel, workersKey: config.WorkersKey}
}

// Discover asks workers to re-register and returns the currently registered ones.
func (d *Discovery) Discover() ([]string, error) {
	if err := d.db.Publish(d.registerChannel, pingMessage).Err(); err != nil {
		return nil, errors.WithMessagef(err, "failed to ping workers on %s", d.registerChannel)
	}
	workers, err := d.db.SMembers(d.workersKey).Result()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to read workers from %s", d.workersKey)
	}
	sort.Strings(workers)
	return workers, nil
}

type Tracer struct {
	db      redis.UniversalClient
	channel string
}

func NewTracer(db redis.UniversalClient, config configuration.ControlPlaneConfiguration) *Tracer {
	return &Tracer{db: db, channel: config.TraceChannel}
}

func (t *Tracer) StartTracing() error {
	return publish(t.db, t.channel, startMessage)
}

func (t *Tracer) StopTracing() error {
	return publish(t.db, t.channel, stopMessage)
}

// Telemetry pauses and unpauses the telemetry daemons, either all of them or those of the given hosts.
type Telemetry struct {
	db      redis.UniversalClient
	channel string
}

func NewTelemetry(db redis.UniversalClient, config configuration.ControlPlaneConfiguration) *Telemetry {
	return &Telemetry{db: db, channel: config.TelemetryChannel}
}

func (t *Telemetry) Start(hosts []string) error {
	return t.send(unpauseCommand, hosts)
}

func (t *Telemetry) Stop(hosts []string) error {
	return t.send(pauseCommand, hosts)
}

func (t *Telemetry) send(command string, hosts []string) error {
	if len(hosts) == 0 {
		return publish(t.db, fmt.Sprintf("%s/%s", t.channel, command), "")
	}
	for _, host := range hosts {
		if err := publish(t.db, fmt.Sprintf("%s/%s/%s", t.channel, command, host), ""); err != nil {
			return err
		}
	}
	return nil
}

func publish(db redis.UniversalClient, channel string, message string) error {
	log.WithField("channel", channel).Debugf("Publish %q on %s", message, channel)
	if err := db.Publish(channel, message).Err(); err != nil {
		return errors.WithMessagef(err, "failed to publish on %s", channel)
	}
	return nil
}

// Context bundles the control plane collaborators of one redis instance.
type Context struct {
	Discovery *Discovery
	Tracer    *Tracer
	Telemetry *Telemetry
	Recorder  *ExperimentRecorder
	Readiness *ReadinessSignal
}

func NewContext(db redis.UniversalClient, config configuration.ExperimentsConfiguration) *Context {
	return &Context{
		Discovery: NewDiscovery(db, config.ControlPlane),
		Tracer:    NewTracer(db, config.ControlPlane),
		Telemetry: NewTelemetry(db, config.ControlPlane),
		Recorder:  NewExperimentRecorder(db, config.ControlPlane),
		Readiness: NewReadinessSignal(db, config.Readiness.Channel),
	}
}
