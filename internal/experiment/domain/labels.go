package domain

const (
	ZoneLabel     = "ether.edgerun.io/zone"
	FunctionLabel = "ether.edgerun.io/function"
	PodTypeLabel  = "type"
	// Set on every pod spawned by an experiment, cleanup only selects on it.
	ManagedFunctionLabel = "galileo.edgerun.io/function"

	ApiGatewayType = "api-gateway"
	FunctionType   = "fn"

	HostnameLabel     = "kubernetes.io/hostname"
	MasterRoleLabel   = "node-role.kubernetes.io/master"
	ControlPlaneLabel = "node-role.kubernetes.io/control-plane"
)
