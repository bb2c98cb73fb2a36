package routing

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
	"github.com/edgerun/galileo-experiments/internal/common/util"
	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
	"github.com/edgerun/galileo-experiments/internal/experiment/metrics"
)

// ServiceName is the name clients in zone use to address fn.
func ServiceName(fn string, zone string) string {
	return domain.FunctionZone{Function: fn, Zone: zone}.String()
}

// Manager sets and removes routing table entries. Concurrent writers to the same service are not
// coordinated, the last write wins.
type Manager struct {
	table Table

	mutex     sync.Mutex
	published map[string]bool
}

func NewManager(table Table) *Manager {
	return &Manager{table: table, published: map[string]bool{}}
}

func (m *Manager) SetRoute(service string, addresses []string, weights []int) error {
	if len(addresses) != len(weights) {
		return errors.WithStack(&experimenterrors.ErrInvalidArgument{
			Name:    "weights",
			Value:   weights,
			Message: fmt.Sprintf("%d weights given for %d addresses", len(weights), len(addresses)),
		})
	}

	log.WithField("service", service).Infof("Set routing table '%s - %v'", service, addresses)
	if err := m.table.Set(service, addresses, weights); err != nil {
		return errors.WithStack(&experimenterrors.ErrRoutePublish{Service: service, Message: err.Error()})
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.published[service] {
		m.published[service] = true
		metrics.RecordRoutes(1)
	}
	return nil
}

func (m *Manager) RemoveRoute(service string) error {
	log.WithField("service", service).Infof("Remove rtbl entry for: %s", service)
	if err := m.table.Remove(service); err != nil {
		return errors.WithStack(&experimenterrors.ErrRoutePublish{Service: service, Message: err.Error()})
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.published[service] {
		delete(m.published, service)
		metrics.RecordRoutes(-1)
	}
	return nil
}

// SetZoneRoutes routes the service of every function in every zone to the load balancer of that zone.
// loadBalancers maps zone to load balancer ip. The services set are returned also on failure.
func (m *Manager) SetZoneRoutes(fns []string, loadBalancers map[string]string, port int) ([]string, error) {
	var services []string
	for _, fn := range fns {
		for _, zone := range util.SortedKeys(loadBalancers) {
			service := ServiceName(fn, zone)
			url := fmt.Sprintf("%s:%d", loadBalancers[zone], port)
			if err := m.SetRoute(service, []string{url}, []int{1}); err != nil {
				return services, err
			}
			services = append(services, service)
		}
	}
	return services, nil
}

// RemoveRoutes removes every service. All removals are attempted; failures are aggregated.
func (m *Manager) RemoveRoutes(services []string) error {
	var result *multierror.Error
	for _, service := range services {
		if err := m.RemoveRoute(service); err != nil {
			log.WithError(err).Errorf("Failed to remove rtbl entry for %s", service)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m *Manager) Table() Table {
	return m.table
}
