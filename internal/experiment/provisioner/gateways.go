package provisioner

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
)

// Position of the zone in legacy gateway pod names, e.g. "go-lb-{zone}-{suffix}".
const legacyZoneNameIndex = 2

// GetLoadBalancerPods returns the gateway pod of every zone. The zone is read from the zone label;
// gateways deployed without it fall back to the zone encoded in their name.
func (p *KubernetesProvisioner) GetLoadBalancerPods(ctx context.Context) (map[string]domain.Pod, error) {
	selector := labels.SelectorFromSet(labels.Set{domain.PodTypeLabel: domain.ApiGatewayType})
	pods, err := p.ListPods(ctx, selector.String())
	if err != nil {
		return nil, err
	}

	gateways := make(map[string]domain.Pod, len(pods))
	for _, pod := range pods {
		zone := pod.Zone()
		if zone == "" {
			zone = legacyZoneFromName(pod.Name)
			if zone == "" {
				log.WithField("pod", pod.Name).Warnf("Ignoring gateway %s, it has no zone", pod.Name)
				continue
			}
			log.WithField("pod", pod.Name).Warnf("Gateway %s has no %s label, using zone %q from its name", pod.Name, domain.ZoneLabel, zone)
		}
		if !pod.HasIp() {
			log.WithFields(log.Fields{"pod": pod.Name, "zone": zone}).Warnf("Ignoring gateway %s, it has no ip address", pod.Name)
			continue
		}
		if existing, ok := gateways[zone]; ok {
			log.WithField("zone", zone).Warnf("Zone %s has more than one gateway, keeping %s over %s", zone, existing.Name, pod.Name)
			continue
		}
		gateways[zone] = pod
	}
	return gateways, nil
}

func legacyZoneFromName(name string) string {
	parts := strings.Split(name, "-")
	if len(parts) <= legacyZoneNameIndex {
		return ""
	}
	return parts[legacyZoneNameIndex]
}
