package weights

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
	"github.com/edgerun/galileo-experiments/internal/experiment/metrics"
)

// Calculator publishes weight tables to a Store and keeps track of the keys it wrote.
type Calculator struct {
	store  Store
	prefix string
	port   int

	mutex     sync.Mutex
	published map[string]bool
}

func NewCalculator(store Store, prefix string, port int) *Calculator {
	return &Calculator{
		store:     store,
		prefix:    prefix,
		port:      port,
		published: map[string]bool{},
	}
}

func (c *Calculator) Key(zone string, fn string) string {
	return Key(c.prefix, zone, fn)
}

// Publish computes the weight table of topology and writes it to the store.
// The keys written are returned also on failure; removing them is up to the caller.
func (c *Calculator) Publish(ctx context.Context, topology Topology) ([]string, error) {
	for _, zone := range MissingGateways(topology) {
		log.WithField("zone", zone).Warnf("Zone %s hosts functions but has no gateway, other zones cannot forward to it", zone)
	}

	table := ComputeTable(topology, c.port)
	functionZones := make([]domain.FunctionZone, 0, len(table))
	for fz := range table {
		functionZones = append(functionZones, fz)
	}
	sort.Slice(functionZones, func(i, j int) bool {
		if functionZones[i].Zone != functionZones[j].Zone {
			return functionZones[i].Zone < functionZones[j].Zone
		}
		return functionZones[i].Function < functionZones[j].Function
	})

	keys := make([]string, 0, len(functionZones))
	for _, fz := range functionZones {
		key := c.Key(fz.Zone, fz.Function)
		if err := c.put(ctx, key, table[fz]); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// SetWeightsRoundRobin routes fn in zone to pods with equal weights.
func (c *Calculator) SetWeightsRoundRobin(ctx context.Context, pods []domain.Pod, zone string, fn string) (string, error) {
	entry := newEntry()
	for _, pod := range pods {
		entry.add(pod.Address(c.port), 1)
	}
	key := c.Key(zone, fn)
	return key, c.put(ctx, key, entry)
}

// SetWeight routes the function of pod in the zone of pod to that pod only.
func (c *Calculator) SetWeight(ctx context.Context, pod domain.Pod, weight int) (string, error) {
	entry := newEntry()
	entry.add(pod.Address(c.port), weight)
	key := c.Key(pod.Zone(), pod.Function())
	return key, c.put(ctx, key, entry)
}

func (c *Calculator) put(ctx context.Context, key string, entry Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return errors.WithStack(&experimenterrors.ErrWeightPublish{Key: key, Message: err.Error()})
	}

	log.WithField("key", key).Infof("Set weights %s - %s", key, value)
	if err := c.store.Put(ctx, key, string(value)); err != nil {
		return errors.WithStack(&experimenterrors.ErrWeightPublish{Key: key, Message: err.Error()})
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.published[key] {
		c.published[key] = true
		metrics.RecordWeightKeys(1)
	}
	return nil
}

// Remove deletes keys from the store. Every key is attempted; failures are aggregated.
func (c *Calculator) Remove(ctx context.Context, keys []string) error {
	var result *multierror.Error
	for _, key := range keys {
		log.WithField("key", key).Infof("Remove weights %s", key)
		if err := c.store.Delete(ctx, key); err != nil {
			result = multierror.Append(result, errors.WithStack(&experimenterrors.ErrWeightPublish{
				Key:     key,
				Message: err.Error(),
			}))
			continue
		}
		c.forget(key)
	}
	return result.ErrorOrNil()
}

func (c *Calculator) forget(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.published[key] {
		delete(c.published, key)
		metrics.RecordWeightKeys(-1)
	}
}

// RemoveAll deletes every key under the calculator's prefix, including keys left behind by earlier runs.
func (c *Calculator) RemoveAll(ctx context.Context) ([]string, error) {
	keys, err := c.store.Keys(ctx, c.prefix+"/")
	if err != nil {
		return nil, errors.WithStack(&experimenterrors.ErrWeightPublish{Key: c.prefix, Message: err.Error()})
	}
	return keys, c.Remove(ctx, keys)
}
