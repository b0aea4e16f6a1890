package audit

import "strings"

// ActionResource holds action and resource derived from a gRPC full method name.
type ActionResource struct {
	Action   string
	Resource string
}

// Method overrides for RPCs whose names do not follow the verb prefix convention.
var methodOverrides = map[string]ActionResource{
	"/labaccess.provisioning.v1.ProvisioningService/Provision": {Action: "provision", Resource: "account"},
	"/grpc.health.v1.Health/Check":                             {Action: "check", Resource: "health"},
	"/grpc.health.v1.Health/Watch":                             {Action: "watch", Resource: "health"},
}

// ParseFullMethod returns action and resource for a gRPC full method
// (e.g. /labaccess.provisioning.v1.ProvisioningService/Provision).
// Action is a verb derived from the method prefix; resource is the service name without "Service".
func ParseFullMethod(fullMethod string) ActionResource {
	if ar, ok := methodOverrides[fullMethod]; ok {
		return ar
	}
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	method := fullMethod[slash+1:]
	beforeSlash := fullMethod[:slash]
	dot := strings.LastIndex(beforeSlash, ".")
	if dot < 0 {
		return ActionResource{Action: strings.ToLower(method), Resource: "unknown"}
	}
	return ActionResource{
		Action:   methodToAction(method),
		Resource: serviceToResource(beforeSlash[dot+1:]),
	}
}

func serviceToResource(serviceName string) string {
	s := strings.TrimSuffix(serviceName, "Service")
	if s == "" {
		return "unknown"
	}
	return strings.ToLower(s[0:1]) + s[1:]
}

func methodToAction(method string) string {
	for _, prefix := range []string{"Get", "List", "Create", "Update", "Delete", "Provision"} {
		if strings.HasPrefix(method, prefix) && method != prefix {
			return strings.ToLower(prefix)
		}
	}
	return strings.ToLower(method)
}
