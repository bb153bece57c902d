package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendhq/mend/pkg/audit"
	"github.com/mendhq/mend/pkg/cluster"
	"github.com/mendhq/mend/pkg/evaluator"
	"github.com/mendhq/mend/pkg/events"
	"github.com/mendhq/mend/pkg/loop"
	"github.com/mendhq/mend/pkg/policy"
	"github.com/mendhq/mend/pkg/runner"
	"github.com/mendhq/mend/pkg/signals"
	"github.com/mendhq/mend/pkg/types"
	"github.com/mendhq/mend/pkg/verify"
)

const testRules = `
POLICY "restart-on-errors": WHEN anomaly.type == "error" AND anomaly.score > 0.8 THEN restart(service) PRIORITY 5
POLICY "scale-on-resource": WHEN anomaly.type == "resource" THEN scale(service, 4)
`

type testEnv struct {
	server *Server
	store  *policy.Store
	client *cluster.BoltClient
	broker *events.Broker
	rules  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "policies.rules")
	require.NoError(t, os.WriteFile(rulesPath, []byte(testRules), 0644))

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	store := policy.NewStore(rulesPath)
	store.SetBroker(broker)
	require.True(t, store.Reload().OK)

	client, err := cluster.NewBoltClient(dir)
	require.NoError(t, err)
	client.SetSettleDelay(0)
	t.Cleanup(func() { client.Close() })

	resolver := cluster.Resolver{Namespace: "mend-dev", Prefix: "mend-"}
	_, err = client.EnsureWorkload(context.Background(),
		types.Target{Kind: "Deployment", Namespace: "mend-dev", Name: "mend-checkout"}, 2)
	require.NoError(t, err)

	auditLog, err := audit.Open(filepath.Join(dir, "audit.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	eval := evaluator.New(evaluator.Config{
		MinReplicas: 1, MaxReplicas: 10, RestartCooldown: 120 * time.Second,
	}, store, auditLog, resolver)

	run := runner.New(runner.Config{
		MaxRetries: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond,
		MinReplicas: 1, MaxReplicas: 10,
	}, client)
	verifier := verify.New(verify.Config{
		Timeout: time.Second, PollInterval: time.Millisecond,
	}, client)

	lp := loop.New(loop.Config{
		Cooldown: 300 * time.Second, MaxRetries: 2, BaseBackoff: time.Millisecond,
		MaxActionsPerHour: 6, MaxReplicas: 8, MaxScaleIncrease15m: 3,
	}, client, run, verifier, auditLog, broker, resolver)

	sigStore := signals.NewStore(0)

	server := NewServer(Config{Address: ":0", GracefulTimeout: time.Second}, Deps{
		Policies:  store,
		Evaluator: eval,
		Loop:      lp,
		Signals:   sigStore,
		Audit:     auditLog,
		Cluster:   client,
		Runner:    run,
		Verifier:  verifier,
		Events:    broker,
		Namespace: "mend-dev",
	})

	return &testEnv{server: server, store: store, client: client, broker: broker, rules: rulesPath}
}

func jsonTarget(name string) map[string]string {
	return map[string]string{"kind": "Deployment", "namespace": "mend-dev", "name": name}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/readyz", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, float64(2), body["policyCount"])
}

func TestEvaluateAnomaly(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/policy/evaluate", map[string]interface{}{
		"kind": "anomaly",
		"anomaly": map[string]interface{}{
			"windowId": "w-1", "service": "checkout",
			"isAnomaly": true, "type": "resource", "score": 0.9,
		},
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	plan := body["plan"].(map[string]interface{})
	assert.Equal(t, "scale", plan["type"])
	assert.Equal(t, "scale_within_limits", body["guardrail_reason"])
	assert.NotEmpty(t, body["request_id"])
}

func TestEvaluateRejectsMismatchedPayload(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/policy/evaluate", map[string]interface{}{
		"kind": "anomaly",
		"rca":  map[string]interface{}{"windowId": "w-1", "service": "checkout"},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPolicyReloadAndStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/policy/reload", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Break the rule file; reload must answer 422 and keep the old set
	require.NoError(t, os.WriteFile(env.rules, []byte("POLICY nope"), 0644))
	w = env.do(t, http.MethodPost, "/v1/policy/reload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodGet, "/v1/policy/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["policyCount"])
	assert.NotEmpty(t, body["error"])
}

func TestPolicyValidate(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/policy/validate", map[string]string{
		"source": `POLICY "x": WHEN anomaly.score > 0.5 THEN restart(service)`,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["policyCount"])

	w = env.do(t, http.MethodPost, "/v1/policy/validate", map[string]string{
		"source": `POLICY "x": WHEN bogus.field == 1 THEN restart(service)`,
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["ok"])
	assert.NotZero(t, body["line"])
}

func TestSignalIngestion(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/signals/anomaly", map[string]interface{}{
		"windowId": "w-9", "service": "checkout",
		"isAnomaly": true, "type": "resource", "score": 0.95,
	})

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, "w-9", body["windowId"])

	w = env.do(t, http.MethodGet, "/v1/signals/recent?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	recent := decode(t, w)
	assert.Len(t, recent["anomalies"], 1)
}

func TestSignalIngestionValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/signals/rca", map[string]interface{}{
		"service": "checkout",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListWorkloads(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/workloads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])
}

func TestExecuteActionWithVerification(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/actions/execute", map[string]interface{}{
		"type":   "scale",
		"target": jsonTarget("mend-checkout"),
		"verify": true,
		"scale":  map[string]interface{}{"replicas": 4},
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "success", result["status"])
	verification := body["verification"].(map[string]interface{})
	assert.Equal(t, "SUCCESS", verification["status"])
	assert.Equal(t, float64(4), verification["ready_replicas"])
}

func TestVerifyRolloutEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/verify/rollout", map[string]interface{}{
		"target": jsonTarget("mend-checkout"),
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "SUCCESS", body["status"])
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/events/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		env.server.Handler().ServeHTTP(w, req)
		close(done)
	}()

	// Give the handler time to subscribe before publishing
	require.Eventually(t, func() bool {
		return env.broker.SubscriberCount() > 0
	}, time.Second, 5*time.Millisecond)

	env.broker.Publish(&events.Event{
		ID:      "e-1",
		Type:    events.EventPolicyReloaded,
		Message: "rules loaded",
	})

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not close on client disconnect")
	}

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, w.Body.String(), "policy.reloaded")
}

func TestAuditEndpoint(t *testing.T) {
	env := newTestEnv(t)

	// Each evaluation produces one audit event
	for _, id := range []string{"w-1", "w-2", "w-3"} {
		env.do(t, http.MethodPost, "/v1/policy/evaluate", map[string]interface{}{
			"kind": "anomaly",
			"anomaly": map[string]interface{}{
				"windowId": id, "service": "checkout",
				"isAnomaly": true, "type": "error", "score": 0.9,
			},
		})
	}

	w := env.do(t, http.MethodGet, "/v1/policy/audit?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["count"])

	// Newest first
	events := body["events"].([]interface{})
	require.Len(t, events, 2)
	first := events[0].(map[string]interface{})["signal"].(map[string]interface{})
	second := events[1].(map[string]interface{})["signal"].(map[string]interface{})
	assert.Equal(t, "w-3", first["windowId"])
	assert.Equal(t, "w-2", second["windowId"])
}
