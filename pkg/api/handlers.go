package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mendhq/mend/pkg/policy"
	"github.com/mendhq/mend/pkg/types"
)

// signalRequest is the wire form of a signal for evaluation: exactly one of
// the payloads must be present, matching kind.
type signalRequest struct {
	Kind    types.SignalKind     `json:"kind" binding:"required"`
	Anomaly *types.AnomalySignal `json:"anomaly,omitempty"`
	RCA     *types.RcaSignal     `json:"rca,omitempty"`
}

func (r *signalRequest) toSignal() (types.Signal, bool) {
	switch r.Kind {
	case types.SignalAnomaly:
		if r.Anomaly != nil && r.Anomaly.Service != "" {
			return types.NewAnomalySignal(r.Anomaly), true
		}
	case types.SignalRCA:
		if r.RCA != nil && r.RCA.Service != "" {
			return types.NewRcaSignal(r.RCA), true
		}
	}
	return types.Signal{}, false
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sig, ok := req.toSignal()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signal payload missing or does not match kind"})
		return
	}

	out := s.deps.Evaluator.Evaluate(sig)
	c.JSON(http.StatusOK, gin.H{
		"request_id":       out.RequestID,
		"plan":             out.Plan,
		"matched_policies": out.Matched,
		"chosen_policy":    out.Chosen,
		"guardrail_reason": out.GuardrailReason,
	})
}

func (s *Server) handleReload(c *gin.Context) {
	res := s.deps.Policies.Reload()
	if !res.OK {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handlePolicyStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Policies.Status())
}

type validateRequest struct {
	Source string `json:"source" binding:"required"`
}

func (s *Server) handleValidate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policies, err := policy.Parse(req.Source)
	if err != nil {
		var perr *policy.ParseError
		if errors.As(err, &perr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"ok":    false,
				"error": perr.Msg,
				"line":  perr.Line,
				"col":   perr.Col,
			})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "policyCount": len(policies)})
}

func (s *Server) handleAudit(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	events, err := s.deps.Audit.ReadLast(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// ReadLast yields the tail oldest-first; the API serves newest-first
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) handleAnomalySignal(c *gin.Context) {
	var sig types.AnomalySignal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if sig.Service == "" || sig.WindowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service and windowId are required"})
		return
	}

	s.deps.Signals.AddAnomaly(sig)
	accepted := s.deps.Loop.Enqueue(types.NewAnomalySignal(&sig))
	if !accepted {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"accepted": false,
			"kind":     types.SignalAnomaly,
			"windowId": sig.WindowID,
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"accepted": true,
		"kind":     types.SignalAnomaly,
		"windowId": sig.WindowID,
	})
}

func (s *Server) handleRcaSignal(c *gin.Context) {
	var sig types.RcaSignal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if sig.Service == "" || sig.WindowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service and windowId are required"})
		return
	}

	s.deps.Signals.AddRCA(sig)
	accepted := s.deps.Loop.Enqueue(types.NewRcaSignal(&sig))
	if !accepted {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"accepted": false,
			"kind":     types.SignalRCA,
			"windowId": sig.WindowID,
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"accepted": true,
		"kind":     types.SignalRCA,
		"windowId": sig.WindowID,
	})
}

func (s *Server) handleRecentSignals(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	c.JSON(http.StatusOK, gin.H{
		"anomalies": s.deps.Signals.RecentAnomalies(limit),
		"rca":       s.deps.Signals.RecentRCAs(limit),
	})
}

func (s *Server) handleListWorkloads(c *gin.Context) {
	namespace := c.DefaultQuery("namespace", s.deps.Namespace)
	workloads, err := s.deps.Cluster.ListWorkloads(c.Request.Context(), namespace)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workloads": workloads, "count": len(workloads)})
}

func (s *Server) handleExecute(c *gin.Context) {
	var plan types.ActionPlan
	if err := c.ShouldBindJSON(&plan); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if plan.Target.Name == "" || plan.Target.Namespace == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target namespace and name are required"})
		return
	}

	res := s.deps.Runner.Run(c.Request.Context(), plan)

	response := gin.H{"result": res}
	if res.Status == types.RunSuccess && plan.Verify {
		var expected *int
		if plan.Scale != nil {
			expected = &plan.Scale.Replicas
		}
		response["verification"] = s.deps.Verifier.Rollout(c.Request.Context(), plan.Target, expected)
	}
	c.JSON(http.StatusOK, response)
}

type verifyRequest struct {
	Target           types.Target `json:"target" binding:"required"`
	ExpectedReplicas *int         `json:"expected_replicas,omitempty"`
}

func (s *Server) handleVerifyRollout(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Target.Name == "" || req.Target.Namespace == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target namespace and name are required"})
		return
	}

	res := s.deps.Verifier.Rollout(c.Request.Context(), req.Target, req.ExpectedReplicas)
	c.JSON(http.StatusOK, res)
}

// handleEventStream serves remediation lifecycle events over SSE until the
// client disconnects.
func (s *Server) handleEventStream(c *gin.Context) {
	if s.deps.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream not available"})
		return
	}

	sub := s.deps.Events.Subscribe()
	defer s.deps.Events.Unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)

	// The request context ends when the client disconnects
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			c.SSEvent(string(ev.Type), ev)
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReadyz(c *gin.Context) {
	status := s.deps.Policies.Status()
	if !status.OK {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "policy_error": status.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ready",
		"policyCount": status.PolicyCount,
		"queueDepth":  s.deps.Loop.QueueDepth(),
	})
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
