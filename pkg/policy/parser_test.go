package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSinglePolicy(t *testing.T) {
	src := `POLICY "restart-on-errors":
  WHEN anomaly.type == "error" AND anomaly.score > 0.9
  THEN restart(service)
  PRIORITY 5`

	policies, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, policies, 1)

	pol := policies[0]
	assert.Equal(t, "restart-on-errors", pol.Name)
	assert.Equal(t, 5, pol.Priority)
	assert.Equal(t, ActionRestart, pol.Action.Kind)

	require.Len(t, pol.Conditions, 2)
	assert.Equal(t, FieldAnomalyType, pol.Conditions[0].Field)
	assert.Equal(t, OpEq, pol.Conditions[0].Op)
	assert.Equal(t, "error", pol.Conditions[0].Value.Str)
	assert.Equal(t, FieldAnomalyScore, pol.Conditions[1].Field)
	assert.Equal(t, OpGt, pol.Conditions[1].Op)
	assert.InDelta(t, 0.9, pol.Conditions[1].Value.Num, 1e-9)
}

func TestParseScaleAction(t *testing.T) {
	src := `POLICY "scale-up": WHEN rca.cause == "cpu" THEN scale(service, 4)`

	policies, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, policies, 1)

	assert.Equal(t, ActionScale, policies[0].Action.Kind)
	assert.Equal(t, 4, policies[0].Action.Replicas)
	// Priority defaults to zero when the clause is absent
	assert.Equal(t, 0, policies[0].Priority)
}

func TestParseMultiplePolicies(t *testing.T) {
	src := `
# fleet rules
POLICY "a": WHEN anomaly.score >= 0.5 THEN restart(service)
POLICY "b": WHEN rca.probability < 0.3 THEN scale(service, 2) PRIORITY 1
`
	policies, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, "a", policies[0].Name)
	assert.Equal(t, "b", policies[1].Name)
}

func TestParseEmptyDocument(t *testing.T) {
	policies, err := Parse("")
	require.NoError(t, err)
	assert.Empty(t, policies)

	policies, err = Parse("# only comments\n\n")
	require.NoError(t, err)
	assert.Empty(t, policies)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown field", `POLICY "x": WHEN foo.bar == "y" THEN restart(service)`},
		{"unknown action", `POLICY "x": WHEN anomaly.score > 1 THEN reboot(service)`},
		{"missing colon", `POLICY "x" WHEN anomaly.score > 1 THEN restart(service)`},
		{"missing name", `POLICY : WHEN anomaly.score > 1 THEN restart(service)`},
		{"empty name", `POLICY "": WHEN anomaly.score > 1 THEN restart(service)`},
		{"ordering op on string", `POLICY "x": WHEN anomaly.type > "error" THEN restart(service)`},
		{"single equals", `POLICY "x": WHEN anomaly.score = 1 THEN restart(service)`},
		{"scale without count", `POLICY "x": WHEN anomaly.score > 1 THEN scale(service)`},
		{"unterminated string", `POLICY "x`},
		{"trailing garbage", `POLICY "x": WHEN anomaly.score > 1 THEN restart(service) !!!`},
		{"fractional priority", `POLICY "x": WHEN anomaly.score > 1 THEN restart(service) PRIORITY 1.5`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			require.Error(t, err)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Greater(t, perr.Line, 0)
		})
	}
}

func TestParseErrorReportsPosition(t *testing.T) {
	src := "POLICY \"x\":\n  WHEN anomaly.typo == \"error\"\n  THEN restart(service)"
	_, err := Parse(src)
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Line)
	assert.Contains(t, perr.Msg, "anomaly.typo")
}

func TestParseIsAtomic(t *testing.T) {
	// Second policy is broken, so nothing from the document survives
	src := `POLICY "good": WHEN anomaly.score > 0.5 THEN restart(service)
POLICY "bad": WHEN nope == 1 THEN restart(service)`

	policies, err := Parse(src)
	require.Error(t, err)
	assert.Nil(t, policies)
}

func TestParseNegativeAndFloatLiterals(t *testing.T) {
	src := `POLICY "x": WHEN rca.probability >= -0.25 THEN scale(service, 3)`
	policies, err := Parse(src)
	require.NoError(t, err)
	assert.InDelta(t, -0.25, policies[0].Conditions[0].Value.Num, 1e-9)
}
