package domain

// RunMetadata is stored with the experiment record. Each stage of a pipeline fills in its own field.
type RunMetadata struct {
	Service  map[string]string `json:"service,omitempty"`
	Exp      ExpMetadata       `json:"exp"`
	Scenario *ScenarioMetadata `json:"scenario,omitempty"`
}

type ExpMetadata struct {
	AppName  string           `json:"app_name,omitempty"`
	Image    string           `json:"app_container_image,omitempty"`
	Host     string           `json:"host,omitempty"`
	Zone     string           `json:"zone,omitempty"`
	Requests RequestsMetadata `json:"requests"`
}

type RequestsMetadata struct {
	Profiles     []string `json:"profiles,omitempty"`
	N            int      `json:"n,omitempty"`
	Interarrival float64  `json:"ia,omitempty"`
	Clients      int      `json:"n_clients"`
	Pods         int      `json:"no_pods"`
}

type ScenarioMetadata struct {
	Services map[string]map[string]int      `json:"services"`
	Profiles map[string]map[string][]string `json:"profiles"`
	Zones    map[string]string              `json:"zones"`
	Params   map[string]string              `json:"params,omitempty"`
}
