package weights

import (
	"fmt"
	"sort"

	"github.com/edgerun/galileo-experiments/internal/common/util"
	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
)

// Entry is the value the edge load balancer reads for one function in one zone.
// Ips and Weights always have the same length.
type Entry struct {
	Ips     []string `json:"ips"`
	Weights []int    `json:"weights"`
}

func (e *Entry) add(address string, weight int) {
	e.Ips = append(e.Ips, address)
	e.Weights = append(e.Weights, weight)
}

func newEntry() Entry {
	return Entry{Ips: []string{}, Weights: []int{}}
}

// Topology is the deployment the weight table is computed for.
// A function zone may be present with no pods, which makes the function known to the table
// without hosting it in that zone.
type Topology struct {
	Pods map[domain.FunctionZone][]domain.Pod
	// zone -> gateway pod of that zone
	Gateways map[string]domain.Pod
}

// NewTopology groups pods by their function and zone labels.
func NewTopology(pods []domain.Pod, gateways map[string]domain.Pod) Topology {
	return Topology{
		Pods:     domain.GroupByFunctionZone(pods),
		Gateways: gateways,
	}
}

func (t Topology) functions() []string {
	seen := map[string]bool{}
	for fz := range t.Pods {
		seen[fz.Function] = true
	}
	return util.SortedKeys(seen)
}

func (t Topology) zones() []string {
	seen := map[string]bool{}
	for zone := range t.Gateways {
		seen[zone] = true
	}
	for fz := range t.Pods {
		seen[fz.Zone] = true
	}
	return util.SortedKeys(seen)
}

// hostingZones returns the sorted zones with at least one pod of fn.
func (t Topology) hostingZones(fn string) []string {
	var zones []string
	for fz, pods := range t.Pods {
		if fz.Function == fn && len(pods) > 0 {
			zones = append(zones, fz.Zone)
		}
	}
	sort.Strings(zones)
	return zones
}

// ComputeTable computes the entry of every function known to the topology in every zone.
//
// A zone hosting the function routes to its own pods first, followed by the gateways of the other
// zones hosting it. A zone without pods of the function routes to the gateways of all zones hosting it,
// or nowhere if no zone does. Every address has weight 1. Hosting zones without a gateway cannot
// receive forwarded traffic and are left out of other zones' entries.
func ComputeTable(topology Topology, port int) map[domain.FunctionZone]Entry {
	table := make(map[domain.FunctionZone]Entry)
	zones := topology.zones()

	for _, fn := range topology.functions() {
		hosting := topology.hostingZones(fn)
		for _, zone := range zones {
			entry := newEntry()

			local := append([]domain.Pod(nil), topology.Pods[domain.FunctionZone{Function: fn, Zone: zone}]...)
			domain.SortPodsByName(local)
			for _, pod := range local {
				entry.add(pod.Address(port), 1)
			}

			for _, other := range hosting {
				if other == zone {
					continue
				}
				gateway, ok := topology.Gateways[other]
				if !ok {
					continue
				}
				entry.add(gateway.Address(port), 1)
			}

			table[domain.FunctionZone{Function: fn, Zone: zone}] = entry
		}
	}
	return table
}

// MissingGateways lists the hosting zones that have no gateway, i.e. zones whose pods can only be
// reached by clients inside them.
func MissingGateways(topology Topology) []string {
	missing := map[string]bool{}
	for fz, pods := range topology.Pods {
		if len(pods) == 0 {
			continue
		}
		if _, ok := topology.Gateways[fz.Zone]; !ok {
			missing[fz.Zone] = true
		}
	}
	return util.SortedKeys(missing)
}

// Key returns the store key of the entry for fn in zone.
func Key(prefix string, zone string, fn string) string {
	return fmt.Sprintf("%s/%s/%s", prefix, zone, fn)
}
