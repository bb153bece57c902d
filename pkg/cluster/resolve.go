package cluster

import "strings"

// Resolver maps service names from incoming signals to workload names. All
// managed workloads carry a fixed name prefix; signals usually name the bare
// service.
type Resolver struct {
	Namespace string
	Prefix    string
}

// WorkloadName returns the prefixed workload name for a service. A name that
// already carries the prefix passes through unchanged.
func (r Resolver) WorkloadName(service string) string {
	if strings.HasPrefix(service, r.Prefix) {
		return service
	}
	return r.Prefix + service
}
