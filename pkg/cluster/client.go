package cluster

import (
	"context"
	"errors"
	"time"

	"github.com/mendhq/mend/pkg/types"
)

var (
	// ErrNotFound means the target workload does not exist
	ErrNotFound = errors.New("workload not found")

	// ErrGuardrail marks an action refused by a safety check. Guardrail
	// refusals are deliberate and must never be retried.
	ErrGuardrail = errors.New("guardrail violation")
)

// Workload is the observed state of one managed workload.
type Workload struct {
	Kind               string    `json:"kind"`
	Namespace          string    `json:"namespace"`
	Name               string    `json:"name"`
	SpecReplicas       int       `json:"spec_replicas"`
	Generation         int64     `json:"generation"`
	ObservedGeneration int64     `json:"observed_generation"`
	UpdatedReplicas    int       `json:"updated_replicas"`
	ReadyReplicas      int       `json:"ready_replicas"`
	AvailableReplicas  int       `json:"available_replicas"`
	RestartedAt        time.Time `json:"restarted_at,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Target returns the workload's identity triple.
func (w *Workload) Target() types.Target {
	return types.Target{Kind: w.Kind, Namespace: w.Namespace, Name: w.Name}
}

// Client is the surface the remediation layers use to read and mutate
// workloads. Mutations accept dryRun, which must validate without changing
// anything.
type Client interface {
	GetWorkload(ctx context.Context, target types.Target) (*Workload, error)
	ListWorkloads(ctx context.Context, namespace string) ([]*Workload, error)
	Scale(ctx context.Context, target types.Target, replicas int, dryRun bool) error
	Restart(ctx context.Context, target types.Target, dryRun bool) error
	Patch(ctx context.Context, target types.Target, body map[string]interface{}, dryRun bool) error
}
