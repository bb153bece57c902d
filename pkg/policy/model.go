package policy

import "fmt"

// Fields a condition may reference. Any other field is a parse error.
const (
	FieldAnomalyType    = "anomaly.type"
	FieldAnomalyScore   = "anomaly.score"
	FieldRcaCause       = "rca.cause"
	FieldRcaProbability = "rca.probability"
)

// Comparison operators supported by the rule language.
const (
	OpEq = "=="
	OpGt = ">"
	OpLt = "<"
	OpGe = ">="
	OpLe = "<="
)

// ValueKind discriminates condition literal values
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueNumber
)

// Value is a condition literal: a quoted string or a number
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
}

// String returns the literal in rule-source form
func (v Value) String() string {
	if v.Kind == ValueString {
		return fmt.Sprintf("%q", v.Str)
	}
	return fmt.Sprintf("%g", v.Num)
}

// Condition is one field comparison, e.g. anomaly.score > 0.85
type Condition struct {
	Field string
	Op    string
	Value Value
}

// ActionKind identifies the action form of a policy
type ActionKind string

const (
	ActionRestart ActionKind = "restart"
	ActionScale   ActionKind = "scale"
)

// Action is the THEN clause of a policy. Replicas is set only for scale.
type Action struct {
	Kind     ActionKind
	Replicas int
}

// Policy is one complete rule: all conditions must hold (AND) for the
// action to apply. Higher priority wins on conflict; ties break toward the
// policy with more conditions.
type Policy struct {
	Name       string
	Conditions []Condition
	Action     Action
	Priority   int
}
