package types

import (
	"time"
)

// AnomalyType classifies an anomaly signal from the detection layer
type AnomalyType string

const (
	AnomalyLatency  AnomalyType = "latency"
	AnomalyError    AnomalyType = "error"
	AnomalyResource AnomalyType = "resource"
	AnomalyOther    AnomalyType = "other"
)

// AnomalySignal is one anomaly detection event for a service
type AnomalySignal struct {
	WindowID     string            `json:"windowId"`
	Service      string            `json:"service"`
	IsAnomaly    bool              `json:"isAnomaly"`
	Score        float64           `json:"score"`
	Type         AnomalyType       `json:"type"`
	ModelVersion string            `json:"modelVersion,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RankedCause is one entry in an RCA signal's cause ranking
type RankedCause struct {
	Svc         string  `json:"svc"`
	Cause       string  `json:"cause"`
	Probability float64 `json:"probability"`
}

// RcaSignal is one root-cause-analysis event for a service
type RcaSignal struct {
	WindowID     string        `json:"windowId"`
	Service      string        `json:"service"`
	RankedCauses []RankedCause `json:"rankedCauses"`
	Confidence   float64       `json:"confidence"`
	Explanation  string        `json:"explanation,omitempty"`
	ModelVersion string        `json:"modelVersion,omitempty"`
}

// SignalKind discriminates the Signal union
type SignalKind string

const (
	SignalAnomaly SignalKind = "anomaly"
	SignalRCA     SignalKind = "rca"
)

// Signal is a tagged union of the two signal contracts. Exactly one of
// Anomaly or RCA is non-nil, matching Kind.
type Signal struct {
	Kind    SignalKind
	Anomaly *AnomalySignal
	RCA     *RcaSignal
}

// NewAnomalySignal wraps an anomaly event as a Signal
func NewAnomalySignal(s *AnomalySignal) Signal {
	return Signal{Kind: SignalAnomaly, Anomaly: s}
}

// NewRcaSignal wraps an RCA event as a Signal
func NewRcaSignal(s *RcaSignal) Signal {
	return Signal{Kind: SignalRCA, RCA: s}
}

// Service returns the service name the signal refers to
func (s Signal) Service() string {
	switch s.Kind {
	case SignalAnomaly:
		if s.Anomaly != nil {
			return s.Anomaly.Service
		}
	case SignalRCA:
		if s.RCA != nil {
			return s.RCA.Service
		}
	}
	return ""
}

// WindowID returns the detection window identifier of the signal
func (s Signal) WindowID() string {
	switch s.Kind {
	case SignalAnomaly:
		if s.Anomaly != nil {
			return s.Anomaly.WindowID
		}
	case SignalRCA:
		if s.RCA != nil {
			return s.RCA.WindowID
		}
	}
	return ""
}

// ActionType identifies the kind of corrective action
type ActionType string

const (
	ActionScale   ActionType = "scale"
	ActionRestart ActionType = "restart"
	ActionPatch   ActionType = "patch"
)

// Target identifies one workload in the cluster
type Target struct {
	Kind      string `json:"kind"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// Key returns the namespace/name form used for guardrail bookkeeping
func (t Target) Key() string {
	return t.Namespace + "/" + t.Name
}

// ScaleSpec carries parameters for a scale action
type ScaleSpec struct {
	Replicas int `json:"replicas"`
}

// PatchSpec carries the body for a patch action
type PatchSpec struct {
	Body map[string]interface{} `json:"body"`
}

// ActionPlan is a fully specified, guardrail-adjusted instruction to change
// a workload's state. Plans are immutable once produced; a new plan is
// synthesized per evaluation.
type ActionPlan struct {
	Type   ActionType `json:"type"`
	Target Target     `json:"target"`
	DryRun bool       `json:"dry_run"`
	Verify bool       `json:"verify"`
	Reason string     `json:"reason,omitempty"`
	Scale  *ScaleSpec `json:"scale,omitempty"`
	Patch  *PatchSpec `json:"patch,omitempty"`
}

// RunnerStatus is the outcome of one ActionRunner invocation
type RunnerStatus string

const (
	RunSuccess RunnerStatus = "success"
	RunFailed  RunnerStatus = "failed"
	RunDryRun  RunnerStatus = "dry_run"
)

// RunnerResult is the structured output of the ActionRunner
type RunnerResult struct {
	Status   RunnerStatus  `json:"status"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// VerificationStatus is the high-level rollout verification state
type VerificationStatus string

const (
	VerifyPending  VerificationStatus = "PENDING"
	VerifySuccess  VerificationStatus = "SUCCESS"
	VerifyFailed   VerificationStatus = "FAILED"
	VerifyTimedOut VerificationStatus = "TIMED_OUT"
)

// VerificationResult is the normalized outcome of a rollout verification,
// always carrying the last observed replica counts
type VerificationResult struct {
	Status            VerificationStatus `json:"status"`
	Message           string             `json:"message"`
	Target            Target             `json:"target"`
	DesiredReplicas   int                `json:"desired_replicas"`
	UpdatedReplicas   int                `json:"updated_replicas"`
	ReadyReplicas     int                `json:"ready_replicas"`
	AvailableReplicas int                `json:"available_replicas"`
	Detail            string             `json:"detail,omitempty"`
}

// MatchedPolicy summarizes one policy that matched during evaluation
type MatchedPolicy struct {
	Name       string `json:"name"`
	Priority   int    `json:"priority"`
	Conditions int    `json:"conditions"`
}

// Decision captures the final action fields of an evaluation for the audit
// trail; replaying a decision must reproduce these fields byte-for-byte
type Decision struct {
	Type              ActionType `json:"type"`
	DryRun            bool       `json:"dry_run"`
	Verify            bool       `json:"verify"`
	RequestedReplicas int        `json:"requested_replicas,omitempty"`
	Replicas          int        `json:"replicas,omitempty"`
}

// SignalSummary is the compact signal description kept in audit events
type SignalSummary struct {
	SignalType     string  `json:"signal_type"`
	Service        string  `json:"service"`
	WindowID       string  `json:"windowId"`
	AnomalyType    string  `json:"anomaly_type,omitempty"`
	AnomalyScore   float64 `json:"anomaly_score,omitempty"`
	TopCause       string  `json:"top_cause,omitempty"`
	TopProbability float64 `json:"top_probability,omitempty"`
}

// Summary builds the audit-log view of the signal
func (s Signal) Summary() SignalSummary {
	switch s.Kind {
	case SignalAnomaly:
		if s.Anomaly != nil {
			return SignalSummary{
				SignalType:   string(SignalAnomaly),
				Service:      s.Anomaly.Service,
				WindowID:     s.Anomaly.WindowID,
				AnomalyType:  string(s.Anomaly.Type),
				AnomalyScore: s.Anomaly.Score,
			}
		}
	case SignalRCA:
		if s.RCA != nil {
			sum := SignalSummary{
				SignalType: string(SignalRCA),
				Service:    s.RCA.Service,
				WindowID:   s.RCA.WindowID,
			}
			if len(s.RCA.RankedCauses) > 0 {
				sum.TopCause = s.RCA.RankedCauses[0].Cause
				sum.TopProbability = s.RCA.RankedCauses[0].Probability
			}
			return sum
		}
	}
	return SignalSummary{}
}

// AuditEvent is one immutable record of an evaluation or a closed-loop
// terminal outcome. Events are append-only and never mutated.
type AuditEvent struct {
	Timestamp       time.Time          `json:"ts_utc"`
	RequestID       string             `json:"request_id"`
	Source          string             `json:"source"` // "evaluation" or "closed_loop"
	PolicyPath      string             `json:"policy_file_path,omitempty"`
	PolicyCount     int                `json:"policy_count_loaded,omitempty"`
	Signal          SignalSummary      `json:"signal"`
	MatchedPolicies []MatchedPolicy    `json:"matched_policies,omitempty"`
	ChosenPolicy    *MatchedPolicy     `json:"chosen_policy,omitempty"`
	Decision        Decision           `json:"decision"`
	GuardrailReason string             `json:"guardrail_reason"`
	Outcome         string             `json:"outcome,omitempty"`
	Attempts        int                `json:"attempts,omitempty"`
	Verification    VerificationStatus `json:"verification,omitempty"`
}
