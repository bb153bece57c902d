package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mendhq/mend/pkg/metrics"
	"github.com/mendhq/mend/pkg/types"
)

var bucketWorkloads = []byte("workloads")

// settleDelay is how long a mutated workload reports an in-progress rollout
// before its observed counts converge on spec
const defaultSettleDelay = 2 * time.Second

// BoltClient implements Client against a local BoltDB file. It models
// workloads as records whose status converges on spec a short settle delay
// after each mutation, which gives rollout verification something real to
// poll against without an external orchestrator.
type BoltClient struct {
	db          *bolt.DB
	settleDelay time.Duration
}

// NewBoltClient opens (or creates) the workload database under dataDir.
func NewBoltClient(dataDir string) (*BoltClient, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "mend.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketWorkloads)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltClient{db: db, settleDelay: defaultSettleDelay}, nil
}

// SetSettleDelay overrides the rollout settle delay. Used by tests.
func (c *BoltClient) SetSettleDelay(d time.Duration) {
	c.settleDelay = d
}

// Close closes the database.
func (c *BoltClient) Close() error {
	return c.db.Close()
}

// EnsureWorkload creates the workload if absent and returns its state.
// Existing workloads are left untouched.
func (c *BoltClient) EnsureWorkload(ctx context.Context, target types.Target, replicas int) (*Workload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var w *Workload
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkloads)
		key := []byte(target.Key())
		if data := b.Get(key); data != nil {
			return json.Unmarshal(data, &w)
		}
		now := time.Now().UTC()
		w = &Workload{
			Kind:               "Deployment",
			Namespace:          target.Namespace,
			Name:               target.Name,
			SpecReplicas:       replicas,
			Generation:         1,
			ObservedGeneration: 1,
			UpdatedReplicas:    replicas,
			ReadyReplicas:      replicas,
			AvailableReplicas:  replicas,
			UpdatedAt:          now,
		}
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// GetWorkload reads one workload, settling its status first.
func (c *BoltClient) GetWorkload(ctx context.Context, target types.Target) (*Workload, error) {
	if err := ctx.Err(); err != nil {
		metrics.ClusterCallsTotal.WithLabelValues("get", "error").Inc()
		return nil, err
	}

	var w *Workload
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkloads)
		data := b.Get([]byte(target.Key()))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, target.Key())
		}
		return json.Unmarshal(data, &w)
	})
	if err != nil {
		metrics.ClusterCallsTotal.WithLabelValues("get", "error").Inc()
		return nil, err
	}

	c.settle(w)
	metrics.ClusterCallsTotal.WithLabelValues("get", "success").Inc()
	metrics.WorkloadDesiredReplicas.WithLabelValues(w.Namespace, w.Name).Set(float64(w.SpecReplicas))
	metrics.WorkloadReadyReplicas.WithLabelValues(w.Namespace, w.Name).Set(float64(w.ReadyReplicas))
	return w, nil
}

// ListWorkloads returns all workloads, optionally filtered by namespace.
func (c *BoltClient) ListWorkloads(ctx context.Context, namespace string) ([]*Workload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var workloads []*Workload
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkloads)
		return b.ForEach(func(k, v []byte) error {
			var w Workload
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if namespace != "" && w.Namespace != namespace {
				return nil
			}
			c.settle(&w)
			workloads = append(workloads, &w)
			return nil
		})
	})
	if err != nil {
		metrics.ClusterCallsTotal.WithLabelValues("list", "error").Inc()
		return nil, err
	}
	metrics.ClusterCallsTotal.WithLabelValues("list", "success").Inc()
	return workloads, nil
}

// Scale sets the desired replica count and starts a new rollout.
func (c *BoltClient) Scale(ctx context.Context, target types.Target, replicas int, dryRun bool) error {
	if replicas < 0 {
		metrics.ClusterCallsTotal.WithLabelValues("scale", "error").Inc()
		return fmt.Errorf("%w: replicas must be non-negative, got %d", ErrGuardrail, replicas)
	}
	err := c.mutate(ctx, target, dryRun, func(w *Workload) {
		w.SpecReplicas = replicas
	})
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.ClusterCallsTotal.WithLabelValues("scale", result).Inc()
	return err
}

// Restart triggers a rolling restart by bumping the generation.
func (c *BoltClient) Restart(ctx context.Context, target types.Target, dryRun bool) error {
	err := c.mutate(ctx, target, dryRun, func(w *Workload) {
		w.RestartedAt = time.Now().UTC()
	})
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.ClusterCallsTotal.WithLabelValues("restart", result).Inc()
	return err
}

// Patch applies an arbitrary field patch and starts a new rollout. Only
// replica changes affect the modeled status; other fields are stored as a
// generation bump.
func (c *BoltClient) Patch(ctx context.Context, target types.Target, body map[string]interface{}, dryRun bool) error {
	err := c.mutate(ctx, target, dryRun, func(w *Workload) {
		if spec, ok := body["spec"].(map[string]interface{}); ok {
			if r, ok := spec["replicas"].(float64); ok && r >= 0 {
				w.SpecReplicas = int(r)
			}
		}
	})
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.ClusterCallsTotal.WithLabelValues("patch", result).Inc()
	return err
}

// mutate loads, settles, applies fn, bumps the generation and stores. A dry
// run validates existence and skips the write.
func (c *BoltClient) mutate(ctx context.Context, target types.Target, dryRun bool, fn func(*Workload)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkloads)
		key := []byte(target.Key())
		data := b.Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, target.Key())
		}
		if dryRun {
			return nil
		}

		var w Workload
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		c.settle(&w)

		fn(&w)
		w.Generation++
		w.UpdatedAt = time.Now().UTC()

		out, err := json.Marshal(&w)
		if err != nil {
			return err
		}
		return b.Put(key, out)
	})
}

// settle converges observed status on spec once the settle delay has passed
// since the last mutation. Before that the workload reports the in-progress
// rollout: stale observed generation and previous counts.
func (c *BoltClient) settle(w *Workload) {
	if w.ObservedGeneration >= w.Generation {
		return
	}
	if time.Since(w.UpdatedAt) < c.settleDelay {
		return
	}
	w.ObservedGeneration = w.Generation
	w.UpdatedReplicas = w.SpecReplicas
	w.ReadyReplicas = w.SpecReplicas
	w.AvailableReplicas = w.SpecReplicas
}
