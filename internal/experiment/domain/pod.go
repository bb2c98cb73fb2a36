package domain

import (
	"fmt"
	"sort"
)

// Pod is the view of a provisioned pod the experiment pipeline works with.
type Pod struct {
	Id     string
	Name   string
	Ip     string
	Labels map[string]string
}

func (p Pod) Zone() string {
	return p.Labels[ZoneLabel]
}

func (p Pod) Function() string {
	return p.Labels[FunctionLabel]
}

func (p Pod) HasIp() bool {
	return p.Ip != ""
}

// Address returns ip:port of the pod.
func (p Pod) Address(port int) string {
	return fmt.Sprintf("%s:%d", p.Ip, port)
}

// FunctionZone identifies the pods of one function deployed in one zone.
type FunctionZone struct {
	Function string
	Zone     string
}

func (fz FunctionZone) String() string {
	return fmt.Sprintf("%s-%s", fz.Function, fz.Zone)
}

// GroupByFunctionZone groups pods by their function and zone labels.
func GroupByFunctionZone(pods []Pod) map[FunctionZone][]Pod {
	result := make(map[FunctionZone][]Pod)
	for _, pod := range pods {
		key := FunctionZone{Function: pod.Function(), Zone: pod.Zone()}
		result[key] = append(result[key], pod)
	}
	return result
}

func PodNames(pods []Pod) []string {
	names := make([]string, 0, len(pods))
	for _, pod := range pods {
		names = append(names, pod.Name)
	}
	return names
}

func SortPodsByName(pods []Pod) {
	sort.Slice(pods, func(i, j int) bool {
		return pods[i].Name < pods[j].Name
	})
}
