package provisioner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clientTesting "k8s.io/client-go/testing"

	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
)

func TestKubernetesProvisioner_StartAdapterDeployment(t *testing.T) {
	provisioner, client := setupTest()

	err := provisioner.StartAdapterDeployment(context.Background(), "master-1")
	assert.NoError(t, err)

	require.Equal(t, 1, len(client.Fake.Actions()))
	createAction, ok := client.Fake.Actions()[0].(clientTesting.CreateAction)
	require.True(t, ok)
	assert.True(t, createAction.Matches("create", "deployments"))

	deployment := createAction.GetObject().(*appsv1.Deployment)
	assert.Equal(t, "telemd-kubernetes-adapter", deployment.Name)
	assert.Equal(t, int32(1), *deployment.Spec.Replicas)
	assert.Equal(t, deployment.Spec.Selector.MatchLabels, deployment.Spec.Template.Labels)

	podSpec := deployment.Spec.Template.Spec
	assert.Equal(t, map[string]string{domain.HostnameLabel: "master-1"}, podSpec.NodeSelector)
	require.Len(t, podSpec.Tolerations, 2)
	assert.Equal(t, domain.MasterRoleLabel, podSpec.Tolerations[0].Key)
	assert.Equal(t, v1.TaintEffectNoSchedule, podSpec.Tolerations[0].Effect)
	assert.Equal(t, domain.ControlPlaneLabel, podSpec.Tolerations[1].Key)

	require.Len(t, podSpec.Containers, 1)
	container := podSpec.Containers[0]
	assert.Equal(t, "edgerun/telemd-kubernetes-adapter:0.1.18", container.Image)
	require.Len(t, container.EnvFrom, 1)
	assert.Equal(t, "telemd-kubernetes-adapter-config", container.EnvFrom[0].ConfigMapRef.Name)
}

func TestKubernetesProvisioner_StartAdapterDeployment_FailsWhenAlreadyRunning(t *testing.T) {
	provisioner, _ := setupTest()

	require.NoError(t, provisioner.StartAdapterDeployment(context.Background(), "master-1"))
	err := provisioner.StartAdapterDeployment(context.Background(), "master-1")
	assert.Error(t, err)
}

func TestKubernetesProvisioner_StopAdapterDeployment(t *testing.T) {
	provisioner, client := setupTest()
	require.NoError(t, provisioner.StartAdapterDeployment(context.Background(), "master-1"))

	err := provisioner.StopAdapterDeployment(context.Background())
	assert.NoError(t, err)

	deployments, err := client.AppsV1().Deployments(testNamespace).List(context.Background(), metav1.ListOptions{})
	assert.NoError(t, err)
	assert.Empty(t, deployments.Items)
}

func TestKubernetesProvisioner_StopAdapterDeployment_IsIdempotent(t *testing.T) {
	provisioner, _ := setupTest()

	assert.NoError(t, provisioner.StopAdapterDeployment(context.Background()))
	assert.NoError(t, provisioner.StopAdapterDeployment(context.Background()))
}

func TestKubernetesProvisioner_GetLoadBalancerPods(t *testing.T) {
	provisioner, client := setupTest()
	gatewayLabels := func(zone string) map[string]string {
		labels := map[string]string{domain.PodTypeLabel: domain.ApiGatewayType}
		if zone != "" {
			labels[domain.ZoneLabel] = zone
		}
		return labels
	}
	createPod(t, client, "gateway-a", "10.0.1.1", gatewayLabels("zone-a"))
	createPod(t, client, "go-lb-zone_b-5f7d", "10.0.2.1", gatewayLabels(""))
	createPod(t, client, "gateway-c", "", gatewayLabels("zone-c"))
	createPod(t, client, "fn-a", "10.0.1.5", map[string]string{domain.PodTypeLabel: domain.FunctionType, domain.ZoneLabel: "zone-a"})

	gateways, err := provisioner.GetLoadBalancerPods(context.Background())
	assert.NoError(t, err)
	require.Len(t, gateways, 2)
	assert.Equal(t, "gateway-a", gateways["zone-a"].Name)
	assert.Equal(t, "10.0.1.1", gateways["zone-a"].Ip)
	assert.Equal(t, "go-lb-zone_b-5f7d", gateways["zone_b"].Name)
}

func TestLegacyZoneFromName(t *testing.T) {
	assert.Equal(t, "zone_a", legacyZoneFromName("go-lb-zone_a-abc"))
	assert.Equal(t, "", legacyZoneFromName("gateway"))
	assert.Equal(t, "", legacyZoneFromName("a-b"))
}
