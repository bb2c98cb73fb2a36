package configuration

import (
	"time"

	"k8s.io/apimachinery/pkg/api/resource"

	commonconfig "github.com/edgerun/galileo-experiments/internal/common/config"
)

type KubernetesConfiguration struct {
	Namespace string `validate:"required"`
	// Path to a kubeconfig file. The default loading rules are used when empty.
	KubeConfig string
	QPS        float32
	Burst      int
	// Number of pods deleted concurrently during teardown.
	DeleteConcurrencyLimit int `validate:"gte=1"`
}

type EtcdConfiguration struct {
	Host        string `validate:"required"`
	Port        int    `validate:"gt=0"`
	DialTimeout time.Duration
	// Prefix of every weight-table key.
	KeyPrefix string `validate:"required"`
}

type ProvisioningConfiguration struct {
	// Port the function containers and gateways listen on.
	PodPort int `validate:"gt=0"`
	// Time to wait after spawning pods before resolving their addresses.
	PlacementWait time.Duration
	// Fixed delay between two pod ip resolution attempts.
	IpResolutionBackoff time.Duration `validate:"gt=0"`
	// Upper bound for pod ip resolution.
	IpResolutionTimeout time.Duration `validate:"gt=0"`
	ResourceRequests    map[string]resource.Quantity
	Adapter             AdapterConfiguration
}

type AdapterConfiguration struct {
	Name      string `validate:"required"`
	Image     string `validate:"required"`
	ConfigMap string
}

type ReadinessConfiguration struct {
	Channel string        `validate:"required"`
	Timeout time.Duration `validate:"gt=0"`
}

type ControlPlaneConfiguration struct {
	TraceChannel      string `validate:"required"`
	TelemetryChannel  string `validate:"required"`
	ExperimentChannel string `validate:"required"`
	RegisterChannel   string `validate:"required"`
	WorkersKey        string `validate:"required"`
	RoutingPrefix     string `validate:"required"`
}

type WorkloadConfiguration struct {
	// Pause between two runs of a profile series.
	CoolDown time.Duration
	// Pause after spawning a client group.
	SpawnWait time.Duration
	// Pause between lifecycle steps.
	Settle         time.Duration
	RequestTimeout time.Duration
}

type ExperimentsConfiguration struct {
	LogLevel     string
	MetricsPort  uint16
	Kubernetes   KubernetesConfiguration
	Etcd         EtcdConfiguration
	Redis        commonconfig.RedisConfig
	Provisioning ProvisioningConfiguration
	Readiness    ReadinessConfiguration
	ControlPlane ControlPlaneConfiguration
	Workload     WorkloadConfiguration
}
