package weights

import (
	"fmt"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
)

func pod(name string, ip string, fn string, zone string) domain.Pod {
	return domain.Pod{
		Id:     name,
		Name:   name,
		Ip:     ip,
		Labels: map[string]string{domain.FunctionLabel: fn, domain.ZoneLabel: zone},
	}
}

func gateway(zone string, ip string) domain.Pod {
	return domain.Pod{
		Name:   "gateway-" + zone,
		Ip:     ip,
		Labels: map[string]string{domain.ZoneLabel: zone, domain.PodTypeLabel: domain.ApiGatewayType},
	}
}

func fz(fn string, zone string) domain.FunctionZone {
	return domain.FunctionZone{Function: fn, Zone: zone}
}

func TestComputeTable_SingleHostingZone(t *testing.T) {
	topology := Topology{
		Pods: map[domain.FunctionZone][]domain.Pod{
			fz("resnet", "a"): {pod("A1", "10.0.0.1", "resnet", "a")},
			fz("resnet", "b"): {},
		},
		Gateways: map[string]domain.Pod{
			"a": gateway("a", "192.168.0.1"),
			"b": gateway("b", "192.168.0.2"),
		},
	}

	expected := map[domain.FunctionZone]Entry{
		fz("resnet", "a"): {Ips: []string{"10.0.0.1:8080"}, Weights: []int{1}},
		fz("resnet", "b"): {Ips: []string{"192.168.0.1:8080"}, Weights: []int{1}},
	}
	table := ComputeTable(topology, 8080)
	if diff := cmp.Diff(expected, table); diff != "" {
		t.Errorf("unexpected weight table (-want +got):\n%s", diff)
	}
}

func TestComputeTable_LocalPodsFirstThenOtherHostingGateways(t *testing.T) {
	topology := NewTopology(
		[]domain.Pod{
			pod("a-2", "10.0.0.2", "fn", "a"),
			pod("a-1", "10.0.0.1", "fn", "a"),
			pod("c-1", "10.0.2.1", "fn", "c"),
			pod("b-1", "10.0.1.1", "fn", "b"),
		},
		map[string]domain.Pod{
			"a": gateway("a", "192.168.0.1"),
			"b": gateway("b", "192.168.0.2"),
			"c": gateway("c", "192.168.0.3"),
		},
	)

	table := ComputeTable(topology, 8080)

	assert.Equal(t, Entry{
		Ips:     []string{"10.0.0.1:8080", "10.0.0.2:8080", "192.168.0.2:8080", "192.168.0.3:8080"},
		Weights: []int{1, 1, 1, 1},
	}, table[fz("fn", "a")])
	assert.Equal(t, Entry{
		Ips:     []string{"10.0.1.1:8080", "192.168.0.1:8080", "192.168.0.3:8080"},
		Weights: []int{1, 1, 1},
	}, table[fz("fn", "b")])
}

func TestComputeTable_ZoneWithoutPodsFallsBackToAllHostingGateways(t *testing.T) {
	topology := NewTopology(
		[]domain.Pod{
			pod("a-1", "10.0.0.1", "fn", "a"),
			pod("c-1", "10.0.2.1", "fn", "c"),
			pod("c-2", "10.0.2.2", "fn", "c"),
		},
		map[string]domain.Pod{
			"a": gateway("a", "192.168.0.1"),
			"b": gateway("b", "192.168.0.2"),
			"c": gateway("c", "192.168.0.3"),
			"d": gateway("d", "192.168.0.4"),
		},
	)

	table := ComputeTable(topology, 8080)

	for _, zone := range []string{"b", "d"} {
		entry, ok := table[fz("fn", zone)]
		require.True(t, ok, zone)
		assert.ElementsMatch(t, []string{"192.168.0.1:8080", "192.168.0.3:8080"}, entry.Ips)
		assert.Equal(t, []int{1, 1}, entry.Weights)
	}
}

func TestComputeTable_FunctionHostedNowhere(t *testing.T) {
	topology := Topology{
		Pods: map[domain.FunctionZone][]domain.Pod{
			fz("idle", "a"): {},
		},
		Gateways: map[string]domain.Pod{
			"a": gateway("a", "192.168.0.1"),
			"b": gateway("b", "192.168.0.2"),
		},
	}

	table := ComputeTable(topology, 8080)

	require.Len(t, table, 2)
	for _, entry := range table {
		assert.Empty(t, entry.Ips)
		assert.Empty(t, entry.Weights)
		assert.NotNil(t, entry.Ips)
	}
}

func TestComputeTable_HostingZoneWithoutGatewayIsNotForwardedTo(t *testing.T) {
	topology := NewTopology(
		[]domain.Pod{
			pod("a-1", "10.0.0.1", "fn", "a"),
			pod("x-1", "10.0.9.1", "fn", "x"),
		},
		map[string]domain.Pod{
			"a": gateway("a", "192.168.0.1"),
			"b": gateway("b", "192.168.0.2"),
		},
	)

	table := ComputeTable(topology, 8080)

	assert.Equal(t, []string{"10.0.0.1:8080"}, table[fz("fn", "a")].Ips)
	assert.Equal(t, []string{"192.168.0.1:8080"}, table[fz("fn", "b")].Ips)
	assert.Equal(t, []string{"10.0.9.1:8080", "192.168.0.1:8080"}, table[fz("fn", "x")].Ips)
	assert.Equal(t, []string{"x"}, MissingGateways(topology))
}

func TestComputeTable_EveryFunctionZoneHasOneConsistentEntry(t *testing.T) {
	zones := []string{"a", "b", "c", "d"}
	functions := []string{"resnet", "mobilenet", "echo"}

	gateways := map[string]domain.Pod{}
	for i, zone := range zones {
		gateways[zone] = gateway(zone, fmt.Sprintf("192.168.0.%d", i+1))
	}

	// each function is hosted by a different subset of zones
	var pods []domain.Pod
	for f, fn := range functions {
		for z, zone := range zones {
			replicas := (f + z) % 3
			for r := 0; r < replicas; r++ {
				name := fmt.Sprintf("%s-%s-%d", fn, zone, r)
				pods = append(pods, pod(name, fmt.Sprintf("10.%d.%d.%d", f, z, r), fn, zone))
			}
		}
	}
	topology := NewTopology(pods, gateways)

	table := ComputeTable(topology, 8080)
	assert.Len(t, table, len(zones)*len(functions))

	for _, fn := range functions {
		hosting := topology.hostingZones(fn)
		for _, zone := range zones {
			entry, ok := table[fz(fn, zone)]
			require.True(t, ok)
			assert.Equal(t, len(entry.Ips), len(entry.Weights))

			local := topology.Pods[fz(fn, zone)]
			if len(local) > 0 {
				for _, p := range local {
					assert.Contains(t, entry.Ips, p.Address(8080))
				}
				continue
			}

			var expected []string
			for _, other := range hosting {
				expected = append(expected, gateways[other].Address(8080))
			}
			sort.Strings(expected)
			actual := append([]string(nil), entry.Ips...)
			sort.Strings(actual)
			assert.Equal(t, expected, actual, "%s in %s", fn, zone)
		}
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "golb/function/zone-a/resnet", Key("golb/function", "zone-a", "resnet"))
}
