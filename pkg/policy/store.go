package policy

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mendhq/mend/pkg/events"
	"github.com/mendhq/mend/pkg/log"
	"github.com/mendhq/mend/pkg/metrics"
)

// ReloadResult reports the outcome of one reload attempt.
type ReloadResult struct {
	OK          bool      `json:"ok"`
	PolicyCount int       `json:"policyCount"`
	SourcePath  string    `json:"sourcePath"`
	LoadedAt    time.Time `json:"loadedAt"`
	Error       string    `json:"error,omitempty"`
}

// Store holds the active policy set and swaps it atomically on reload.
// A failed reload keeps the previous set untouched, so the evaluator never
// sees a half-parsed document.
type Store struct {
	mu       sync.RWMutex
	path     string
	policies []Policy
	loadedAt time.Time
	lastErr  string
	broker   *events.Broker
}

// NewStore creates a store bound to a rule-source path. No rules are loaded
// until the first Reload.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// SetBroker attaches an event broker; reload outcomes are published to it.
func (s *Store) SetBroker(b *events.Broker) {
	s.broker = b
}

// Reload re-reads and re-parses the rule source. On success the active set
// is replaced; on failure it is left as it was and the error is recorded.
func (s *Store) Reload() ReloadResult {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return s.fail(fmt.Sprintf("read rules: %v", err))
	}

	policies, err := Parse(string(data))
	if err != nil {
		return s.fail(err.Error())
	}

	s.mu.Lock()
	s.policies = policies
	s.loadedAt = time.Now().UTC()
	s.lastErr = ""
	res := ReloadResult{
		OK:          true,
		PolicyCount: len(policies),
		SourcePath:  s.path,
		LoadedAt:    s.loadedAt,
	}
	s.mu.Unlock()

	metrics.PoliciesLoaded.Set(float64(len(policies)))
	metrics.PolicyReloadsTotal.WithLabelValues("success").Inc()
	log.WithComponent("policy").Info().
		Str("path", s.path).
		Int("policies", len(policies)).
		Msg("Policy rules loaded")
	s.publish(events.EventPolicyReloaded, "rules loaded", map[string]string{
		"path":     s.path,
		"policies": strconv.Itoa(len(policies)),
	})
	return res
}

func (s *Store) fail(msg string) ReloadResult {
	s.mu.Lock()
	s.lastErr = msg
	count := len(s.policies)
	s.mu.Unlock()

	metrics.PolicyReloadsTotal.WithLabelValues("error").Inc()
	log.WithComponent("policy").Error().
		Str("path", s.path).
		Str("error", msg).
		Msg("Policy reload failed, keeping previous rules")
	s.publish(events.EventPolicyLoadError, msg, map[string]string{"path": s.path})
	return ReloadResult{
		OK:          false,
		PolicyCount: count,
		SourcePath:  s.path,
		Error:       msg,
	}
}

func (s *Store) publish(typ events.EventType, message string, meta map[string]string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     typ,
		Message:  message,
		Metadata: meta,
	})
}

// Policies returns a copy of the active set. Callers may not mutate the
// store through the returned slice.
func (s *Store) Policies() []Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Policy, len(s.policies))
	copy(out, s.policies)
	return out
}

// Status reports the active set without re-reading the source.
func (s *Store) Status() ReloadResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ReloadResult{
		OK:          s.lastErr == "",
		PolicyCount: len(s.policies),
		SourcePath:  s.path,
		LoadedAt:    s.loadedAt,
		Error:       s.lastErr,
	}
}

// Path returns the rule-source path the store is bound to.
func (s *Store) Path() string {
	return s.path
}
