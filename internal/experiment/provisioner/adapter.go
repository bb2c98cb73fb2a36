package provisioner

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	appsv1 "k8s.io/api/apps/v1"
	v1 "k8s.io/api/core/v1"
	k8s_errors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/pointer"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
)

const appLabel = "app"

// StartAdapterDeployment creates the telemetry adapter deployment. The adapter pod is pinned to
// masterNode and tolerates the control plane taints.
func (p *KubernetesProvisioner) StartAdapterDeployment(ctx context.Context, masterNode string) error {
	deployment := p.createAdapterDeployment(masterNode)
	log.WithField("node", masterNode).Infof("Start %s on %s", deployment.Name, masterNode)

	_, err := p.client.AppsV1().Deployments(p.namespace).Create(ctx, deployment, metav1.CreateOptions{})
	if err != nil {
		return errors.WithStack(&experimenterrors.ErrProvisioning{
			Type:    "deployment",
			Name:    deployment.Name,
			Action:  "create",
			Message: err.Error(),
		})
	}
	return nil
}

// StopAdapterDeployment deletes the telemetry adapter deployment. A missing deployment is not an error.
func (p *KubernetesProvisioner) StopAdapterDeployment(ctx context.Context) error {
	log.Infof("Shutdown %s", p.adapter.Name)
	err := p.client.AppsV1().Deployments(p.namespace).Delete(ctx, p.adapter.Name, metav1.DeleteOptions{})
	if err != nil && !k8s_errors.IsNotFound(err) {
		return errors.WithStack(&experimenterrors.ErrProvisioning{
			Type:    "deployment",
			Name:    p.adapter.Name,
			Action:  "delete",
			Message: err.Error(),
		})
	}
	return nil
}

func (p *KubernetesProvisioner) createAdapterDeployment(masterNode string) *appsv1.Deployment {
	labels := map[string]string{appLabel: p.adapter.Name}

	container := v1.Container{
		Name:  p.adapter.Name,
		Image: p.adapter.Image,
	}
	if p.adapter.ConfigMap != "" {
		container.EnvFrom = []v1.EnvFromSource{
			{
				ConfigMapRef: &v1.ConfigMapEnvSource{
					LocalObjectReference: v1.LocalObjectReference{Name: p.adapter.ConfigMap},
				},
			},
		}
	}

	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "apps/v1",
			Kind:       "Deployment",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      p.adapter.Name,
			Namespace: p.namespace,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: pointer.Int32(1),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: v1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: v1.PodSpec{
					Tolerations: []v1.Toleration{
						{
							Key:      domain.MasterRoleLabel,
							Operator: v1.TolerationOpExists,
							Effect:   v1.TaintEffectNoSchedule,
						},
						{
							Key:      domain.ControlPlaneLabel,
							Operator: v1.TolerationOpExists,
							Effect:   v1.TaintEffectNoSchedule,
						},
					},
					NodeSelector: map[string]string{domain.HostnameLabel: masterNode},
					Containers:   []v1.Container{container},
				},
			},
		},
	}
}
