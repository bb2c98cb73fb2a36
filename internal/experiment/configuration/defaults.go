package configuration

import (
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	commonconfig "github.com/edgerun/galileo-experiments/internal/common/config"
)

const (
	EtcdHostEnvVar = "etcd_host"
	EtcdPortEnvVar = "etcd_port"

	defaultEtcdHost = "localhost"
	defaultEtcdPort = 2379
)

// Default returns the configuration used when no config file overrides a value.
func Default() ExperimentsConfiguration {
	return ExperimentsConfiguration{
		LogLevel: "info",
		Kubernetes: KubernetesConfiguration{
			Namespace:              "default",
			QPS:                    50,
			Burst:                  100,
			DeleteConcurrencyLimit: 8,
		},
		Etcd: EtcdConfiguration{
			Host:        defaultEtcdHost,
			Port:        defaultEtcdPort,
			DialTimeout: 5 * time.Second,
			KeyPrefix:   "golb/function",
		},
		Redis: commonconfig.RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Provisioning: ProvisioningConfiguration{
			PodPort:             8080,
			PlacementWait:       5 * time.Second,
			IpResolutionBackoff: 5 * time.Second,
			IpResolutionTimeout: 5 * time.Minute,
			Adapter: AdapterConfiguration{
				Name:      "telemd-kubernetes-adapter",
				Image:     "edgerun/telemd-kubernetes-adapter:0.1.18",
				ConfigMap: "telemd-kubernetes-adapter-config",
			},
		},
		Readiness: ReadinessConfiguration{
			Channel: "galileo/events",
			Timeout: 2 * time.Minute,
		},
		ControlPlane: ControlPlaneConfiguration{
			TraceChannel:      "galileo/trace",
			TelemetryChannel:  "telemcmd",
			ExperimentChannel: "galileo/experiment",
			RegisterChannel:   "galileo/register",
			WorkersKey:        "galileo:workers",
			RoutingPrefix:     "galileo:rtbl",
		},
		Workload: WorkloadConfiguration{
			CoolDown:       15 * time.Second,
			SpawnWait:      time.Second,
			Settle:         time.Second,
			RequestTimeout: 30 * time.Second,
		},
	}
}

// EtcdFromEnv overrides host and port of config with the etcd_host and etcd_port environment
// variables. It is applied after the config files are loaded, so the environment takes precedence
// over an etcd block in config.yaml. Host and port left empty fall back to localhost:2379.
func EtcdFromEnv(config EtcdConfiguration) EtcdConfiguration {
	if config.Host == "" {
		config.Host = defaultEtcdHost
	}
	if config.Port == 0 {
		config.Port = defaultEtcdPort
	}
	if host, ok := os.LookupEnv(EtcdHostEnvVar); ok && host != "" {
		config.Host = host
	}
	if port, ok := os.LookupEnv(EtcdPortEnvVar); ok && port != "" {
		parsed, err := strconv.Atoi(port)
		if err != nil {
			log.WithError(err).Warnf("Ignoring invalid %s %q", EtcdPortEnvVar, port)
		} else {
			config.Port = parsed
		}
	}
	return config
}
