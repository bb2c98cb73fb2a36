package domain

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
)

// ProfileWorkload describes a series of profiling runs of one application on one host.
// Either Profiles is set (one arrival profile per client), or N, Interarrivals and ClientCounts
// span the synthetic workloads to run. Every workload is run once per entry of PodCounts.
type ProfileWorkload struct {
	App        string `yaml:"app"`
	Creator    string `yaml:"creator"`
	Host       string `yaml:"host"`
	Zone       string `yaml:"zone"`
	MasterNode string `yaml:"masterNode"`
	Image      string `yaml:"image"`
	PodCounts  []int  `yaml:"pods"`
	// One profile path per client.
	Profiles      []string  `yaml:"profiles"`
	N             []int     `yaml:"n"`
	Interarrivals []float64 `yaml:"ia"`
	ClientCounts  []int     `yaml:"clients"`
	// If set, clients are routed to this address instead of the host.
	LoadBalancerIp string            `yaml:"lbIp"`
	Params         map[string]string `yaml:"params"`
}

func (w *ProfileWorkload) UsesProfiles() bool {
	return len(w.Profiles) > 0
}

func (w *ProfileWorkload) Validate() error {
	required := map[string]string{
		"App":        w.App,
		"Creator":    w.Creator,
		"Host":       w.Host,
		"Zone":       w.Zone,
		"MasterNode": w.MasterNode,
		"Image":      w.Image,
	}
	for name, value := range required {
		if value == "" {
			return errors.WithStack(&experimenterrors.ErrInvalidArgument{
				Name:    name,
				Value:   value,
				Message: "not provided",
			})
		}
	}
	if len(w.PodCounts) == 0 {
		return errors.WithStack(&experimenterrors.ErrInvalidArgument{
			Name:    "PodCounts",
			Value:   w.PodCounts,
			Message: "at least one pod count must be provided",
		})
	}
	for _, pods := range w.PodCounts {
		if pods <= 0 {
			return errors.WithStack(&experimenterrors.ErrInvalidArgument{
				Name:    "PodCounts",
				Value:   w.PodCounts,
				Message: "pod counts must be positive",
			})
		}
	}
	if w.UsesProfiles() {
		return nil
	}
	if len(w.N) == 0 || len(w.Interarrivals) == 0 || len(w.ClientCounts) == 0 {
		return errors.WithStack(&experimenterrors.ErrInvalidArgument{
			Name:    "Profiles",
			Value:   w.Profiles,
			Message: "either profiles or n, ia and clients must be provided",
		})
	}
	for _, n := range w.N {
		if n <= 0 {
			return errors.WithStack(&experimenterrors.ErrInvalidArgument{Name: "N", Value: w.N, Message: "request counts must be positive"})
		}
	}
	for _, ia := range w.Interarrivals {
		if ia < 0 {
			return errors.WithStack(&experimenterrors.ErrInvalidArgument{Name: "Interarrivals", Value: w.Interarrivals, Message: "interarrival times must not be negative"})
		}
	}
	for _, clients := range w.ClientCounts {
		if clients <= 0 {
			return errors.WithStack(&experimenterrors.ErrInvalidArgument{Name: "ClientCounts", Value: w.ClientCounts, Message: "client counts must be positive"})
		}
	}
	return nil
}

// ScenarioWorkload describes a multi-zone deployment with one client group per zone and image.
type ScenarioWorkload struct {
	Creator    string `yaml:"creator"`
	MasterNode string `yaml:"masterNode"`
	// host -> image -> number of pods
	Services map[string]map[string]int `yaml:"services"`
	// zone -> image -> profile paths, one per client
	Profiles map[string]map[string][]string `yaml:"profiles"`
	// image -> function name
	AppNames map[string]string `yaml:"appNames"`
	// image -> name of the registered application driving the image
	Applications map[string]string `yaml:"applications"`
	// image -> application parameters
	AppParams map[string]map[string]string `yaml:"appParams"`
	// host -> zone
	ZoneMapping map[string]string `yaml:"zoneMapping"`
	// zone -> load balancer ip. Discovered from the gateway pods when empty.
	LoadBalancerIps map[string]string `yaml:"lbIps"`
	Params          map[string]string `yaml:"params"`
}

func (w *ScenarioWorkload) Validate() error {
	if w.Creator == "" {
		return errors.WithStack(&experimenterrors.ErrInvalidArgument{Name: "Creator", Value: w.Creator, Message: "not provided"})
	}
	if w.MasterNode == "" {
		return errors.WithStack(&experimenterrors.ErrInvalidArgument{Name: "MasterNode", Value: w.MasterNode, Message: "not provided"})
	}
	if len(w.Services) == 0 {
		return errors.WithStack(&experimenterrors.ErrInvalidArgument{Name: "Services", Value: w.Services, Message: "no services provided"})
	}
	for host, images := range w.Services {
		if _, ok := w.ZoneMapping[host]; !ok {
			return errors.WithStack(&experimenterrors.ErrInvalidArgument{Name: "ZoneMapping", Value: host, Message: "host has no zone"})
		}
		for image := range images {
			if err := w.validateImage(image); err != nil {
				return err
			}
		}
	}
	for _, images := range w.Profiles {
		for image, profiles := range images {
			if err := w.validateImage(image); err != nil {
				return err
			}
			if len(profiles) == 0 {
				return errors.WithStack(&experimenterrors.ErrInvalidArgument{Name: "Profiles", Value: image, Message: "client group without profiles"})
			}
		}
	}
	return nil
}

func (w *ScenarioWorkload) validateImage(image string) error {
	if _, ok := w.AppNames[image]; !ok {
		return errors.WithStack(&experimenterrors.ErrInvalidArgument{Name: "AppNames", Value: image, Message: "image has no function name"})
	}
	if _, ok := w.Applications[image]; !ok {
		return errors.WithStack(&experimenterrors.ErrInvalidArgument{Name: "Applications", Value: image, Message: "image has no application"})
	}
	return nil
}

// FunctionNames returns the distinct function names of the scenario, sorted.
func (w *ScenarioWorkload) FunctionNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, name := range w.AppNames {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
