package provisioner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"
	k8s_errors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
	"github.com/edgerun/galileo-experiments/internal/common/util"
	"github.com/edgerun/galileo-experiments/internal/experiment/cluster"
	"github.com/edgerun/galileo-experiments/internal/experiment/configuration"
	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
	"github.com/edgerun/galileo-experiments/internal/experiment/metrics"
)

// ContainerFactory builds the single container of a workload pod.
type ContainerFactory func(podName string, image string, resources v1.ResourceList) v1.Container

type SpawnRequest struct {
	Image      string
	NamePrefix string
	Node       string
	Labels     map[string]string
	Count      int
	Factory    ContainerFactory
	// Appended to the environment of the container built by Factory.
	Env []v1.EnvVar
}

type Provisioner interface {
	SpawnPods(ctx context.Context, request SpawnRequest) ([]string, error)
	GetPods(ctx context.Context, names []string) ([]domain.Pod, error)
	RemovePods(ctx context.Context, names []string) error
	ListPods(ctx context.Context, labelSelector string) ([]domain.Pod, error)
	ListPodNames(ctx context.Context, labelSelector string) ([]string, error)
	StartAdapterDeployment(ctx context.Context, masterNode string) error
	StopAdapterDeployment(ctx context.Context) error
	GetLoadBalancerPods(ctx context.Context) (map[string]domain.Pod, error)
}

type KubernetesProvisioner struct {
	client              kubernetes.Interface
	namespace           string
	resourceRequests    v1.ResourceList
	ipResolutionBackoff time.Duration
	ipResolutionTimeout time.Duration
	deleteThreadCount   int
	adapter             configuration.AdapterConfiguration
}

func NewKubernetesProvisioner(
	clientProvider cluster.KubernetesClientProvider,
	kubernetesConfig configuration.KubernetesConfiguration,
	provisioningConfig configuration.ProvisioningConfiguration,
) *KubernetesProvisioner {
	resourceRequests := v1.ResourceList{}
	for name, quantity := range provisioningConfig.ResourceRequests {
		resourceRequests[v1.ResourceName(name)] = quantity
	}
	return &KubernetesProvisioner{
		client:              clientProvider.Client(),
		namespace:           kubernetesConfig.Namespace,
		resourceRequests:    resourceRequests,
		ipResolutionBackoff: provisioningConfig.IpResolutionBackoff,
		ipResolutionTimeout: provisioningConfig.IpResolutionTimeout,
		deleteThreadCount:   max(1, kubernetesConfig.DeleteConcurrencyLimit),
		adapter:             provisioningConfig.Adapter,
	}
}

func PodName(prefix string, node string, idx int) string {
	return fmt.Sprintf("%s-%s-%d", prefix, node, idx)
}

// SpawnPods creates request.Count pods on request.Node. The names of all pods created are returned,
// also when a later creation fails, so the caller can remove them again.
func (p *KubernetesProvisioner) SpawnPods(ctx context.Context, request SpawnRequest) ([]string, error) {
	if request.Factory == nil {
		return nil, errors.WithStack(&experimenterrors.ErrInvalidArgument{
			Name:    "Factory",
			Value:   request.Factory,
			Message: "no container factory provided",
		})
	}

	names := make([]string, 0, request.Count)
	for idx := 0; idx < request.Count; idx++ {
		podName := PodName(request.NamePrefix, request.Node, idx)
		pod := p.createPodSpec(podName, request)

		log.WithFields(log.Fields{"pod": podName, "node": request.Node}).Infof("Create pod '%s'", podName)
		_, err := p.client.CoreV1().Pods(p.namespace).Create(ctx, pod, metav1.CreateOptions{})
		if err != nil {
			metrics.RecordPodsSpawned(len(names))
			return names, errors.WithStack(&experimenterrors.ErrProvisioning{
				Type:    "pod",
				Name:    podName,
				Action:  "create",
				Message: err.Error(),
			})
		}
		names = append(names, podName)
	}
	metrics.RecordPodsSpawned(len(names))
	return names, nil
}

func (p *KubernetesProvisioner) createPodSpec(podName string, request SpawnRequest) *v1.Pod {
	container := request.Factory(podName, request.Image, p.resourceRequests.DeepCopy())
	container.Env = append(container.Env, request.Env...)
	labels := util.DeepCopy(request.Labels)
	if labels == nil {
		labels = map[string]string{}
	}
	labels[domain.ManagedFunctionLabel] = request.NamePrefix

	return &v1.Pod{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "Pod",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: p.namespace,
			Labels:    labels,
		},
		Spec: v1.PodSpec{
			NodeSelector: map[string]string{domain.HostnameLabel: request.Node},
			Containers:   []v1.Container{container},
		},
	}
}

// GetPods resolves the named pods. A pod counts as resolved once it reports an ip address;
// until all pods are resolved the lookup is repeated with a fixed backoff.
// If that does not happen within the configured timeout an ErrResolutionTimeout is returned.
func (p *KubernetesProvisioner) GetPods(ctx context.Context, names []string) ([]domain.Pod, error) {
	var resolved []domain.Pod
	var unresolved []string

	attempts := p.resolutionAttempts()
	err := retry.Do(
		func() error {
			// a failing list must not be reported with the pods of an earlier attempt
			unresolved = nil
			podsByName, err := p.listPodsByName(ctx, names)
			if err != nil {
				return err
			}
			resolved, unresolved = splitResolved(names, podsByName)
			if len(unresolved) > 0 {
				return errors.Errorf("%d of %d pods have no ip address yet", len(unresolved), len(names))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.ipResolutionBackoff),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Infof("Pods not ready (attempt %d/%d), retry in %s", n+1, attempts, p.ipResolutionBackoff)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if len(unresolved) > 0 {
			return nil, errors.WithStack(&experimenterrors.ErrResolutionTimeout{
				Pods:    unresolved,
				Timeout: p.ipResolutionTimeout,
			})
		}
		return nil, err
	}
	return resolved, nil
}

// One attempt per backoff interval within the timeout, plus the initial one.
func (p *KubernetesProvisioner) resolutionAttempts() uint {
	if p.ipResolutionBackoff <= 0 || p.ipResolutionTimeout <= 0 {
		return 1
	}
	return uint(p.ipResolutionTimeout/p.ipResolutionBackoff) + 1
}

func (p *KubernetesProvisioner) listPodsByName(ctx context.Context, names []string) (map[string]*v1.Pod, error) {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	podList, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to list pods in namespace %s", p.namespace)
	}

	result := make(map[string]*v1.Pod, len(names))
	for i := range podList.Items {
		pod := &podList.Items[i]
		if wanted[pod.Name] {
			result[pod.Name] = pod
		}
	}
	return result, nil
}

func splitResolved(names []string, podsByName map[string]*v1.Pod) ([]domain.Pod, []string) {
	resolved := make([]domain.Pod, 0, len(names))
	var unresolved []string
	for _, name := range names {
		pod, ok := podsByName[name]
		if !ok || pod.Status.PodIP == "" {
			unresolved = append(unresolved, name)
			continue
		}
		resolved = append(resolved, toDomainPod(pod))
	}
	return resolved, unresolved
}

// RemovePods deletes the named pods. Pods that do not exist (anymore) are skipped.
func (p *KubernetesProvisioner) RemovePods(ctx context.Context, names []string) error {
	var mutex sync.Mutex
	var result *multierror.Error
	removed := 0

	util.ProcessItemsWithThreadPool(ctx, p.deleteThreadCount, names, func(name string) {
		err := p.client.CoreV1().Pods(p.namespace).Delete(ctx, name, metav1.DeleteOptions{})

		mutex.Lock()
		defer mutex.Unlock()
		switch {
		case err == nil:
			removed++
		case k8s_errors.IsNotFound(err):
			log.WithField("pod", name).Debugf("Pod %s already deleted", name)
		default:
			log.WithError(err).WithField("pod", name).Errorf("Failed to delete pod %s", name)
			result = multierror.Append(result, errors.WithStack(&experimenterrors.ErrProvisioning{
				Type:    "pod",
				Name:    name,
				Action:  "delete",
				Message: err.Error(),
			}))
		}
	})
	metrics.RecordPodsRemoved(removed)

	if ctx.Err() != nil {
		result = multierror.Append(result, ctx.Err())
	}
	return result.ErrorOrNil()
}

// ListPods returns all pods in the namespace that match labelSelector.
func (p *KubernetesProvisioner) ListPods(ctx context.Context, labelSelector string) ([]domain.Pod, error) {
	podList, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to list pods with selector %q", labelSelector)
	}
	pods := make([]domain.Pod, 0, len(podList.Items))
	for i := range podList.Items {
		pods = append(pods, toDomainPod(&podList.Items[i]))
	}
	domain.SortPodsByName(pods)
	return pods, nil
}

func (p *KubernetesProvisioner) ListPodNames(ctx context.Context, labelSelector string) ([]string, error) {
	pods, err := p.ListPods(ctx, labelSelector)
	if err != nil {
		return nil, err
	}
	return domain.PodNames(pods), nil
}

func toDomainPod(pod *v1.Pod) domain.Pod {
	return domain.Pod{
		Id:     string(pod.UID),
		Name:   pod.Name,
		Ip:     pod.Status.PodIP,
		Labels: util.DeepCopy(pod.Labels),
	}
}
