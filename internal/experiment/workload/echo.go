package workload

import (
	"context"
	"fmt"
	"net/http"

	v1 "k8s.io/api/core/v1"
)

const (
	EchoName = "echo"

	functionPort     = 8080
	functionPortName = "function-port"
)

// functionContainer is the container every function shares: one port and the name of its node.
func functionContainer(podName string, image string, resources v1.ResourceList) v1.Container {
	return v1.Container{
		Name:  podName,
		Image: image,
		Ports: []v1.ContainerPort{
			{Name: functionPortName, ContainerPort: functionPort},
		},
		Resources: v1.ResourceRequirements{Requests: resources},
		Env: []v1.EnvVar{
			{
				Name: "NODE_NAME",
				ValueFrom: &v1.EnvVarSource{
					FieldRef: &v1.ObjectFieldSelector{FieldPath: "spec.nodeName"},
				},
			},
		},
	}
}

// Echo is a function without payload. Clients send plain GET requests.
type Echo struct{}

func NewEcho() *Echo {
	return &Echo{}
}

func (e *Echo) Name() string {
	return EchoName
}

func (e *Echo) SpawnGroup(_ context.Context, config GroupConfig, env Environment) (ClientGroup, error) {
	if config.Function == "" {
		config.Function = e.Name()
	}
	group, err := NewHttpClientGroup(config, env, HttpRequestTemplate{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/function/%s", config.Function),
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (e *Echo) Container(podName string, image string, resources v1.ResourceList) v1.Container {
	return functionContainer(podName, image, resources)
}
