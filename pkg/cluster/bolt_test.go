package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendhq/mend/pkg/types"
)

func newTestClient(t *testing.T) *BoltClient {
	t.Helper()
	c, err := NewBoltClient(t.TempDir())
	require.NoError(t, err)
	c.SetSettleDelay(0)
	t.Cleanup(func() { c.Close() })
	return c
}

func target(name string) types.Target {
	return types.Target{Kind: "Deployment", Namespace: "mend-dev", Name: name}
}

func TestEnsureAndGetWorkload(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	w, err := c.EnsureWorkload(ctx, target("mend-checkout"), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, w.SpecReplicas)
	assert.Equal(t, int64(1), w.Generation)

	got, err := c.GetWorkload(ctx, target("mend-checkout"))
	require.NoError(t, err)
	assert.Equal(t, 3, got.SpecReplicas)
	assert.Equal(t, 3, got.ReadyReplicas)
}

func TestEnsureWorkloadIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.EnsureWorkload(ctx, target("mend-cart"), 2)
	require.NoError(t, err)

	// Second ensure with a different count must not overwrite
	w, err := c.EnsureWorkload(ctx, target("mend-cart"), 9)
	require.NoError(t, err)
	assert.Equal(t, 2, w.SpecReplicas)
}

func TestGetWorkloadNotFound(t *testing.T) {
	c := newTestClient(t)

	_, err := c.GetWorkload(context.Background(), target("absent"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScaleBumpsGenerationAndSettles(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.EnsureWorkload(ctx, target("mend-api"), 2)
	require.NoError(t, err)

	require.NoError(t, c.Scale(ctx, target("mend-api"), 5, false))

	w, err := c.GetWorkload(ctx, target("mend-api"))
	require.NoError(t, err)
	assert.Equal(t, 5, w.SpecReplicas)
	assert.Equal(t, int64(2), w.Generation)
	// Zero settle delay: status converges on first read
	assert.Equal(t, int64(2), w.ObservedGeneration)
	assert.Equal(t, 5, w.ReadyReplicas)
}

func TestScaleInProgressBeforeSettle(t *testing.T) {
	c := newTestClient(t)
	c.SetSettleDelay(time.Hour)
	ctx := context.Background()

	_, err := c.EnsureWorkload(ctx, target("mend-api"), 2)
	require.NoError(t, err)
	require.NoError(t, c.Scale(ctx, target("mend-api"), 5, false))

	w, err := c.GetWorkload(ctx, target("mend-api"))
	require.NoError(t, err)
	assert.Equal(t, 5, w.SpecReplicas)
	// Rollout still in progress: observed generation trails spec
	assert.Less(t, w.ObservedGeneration, w.Generation)
	assert.Equal(t, 2, w.ReadyReplicas)
}

func TestScaleDryRunChangesNothing(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.EnsureWorkload(ctx, target("mend-api"), 2)
	require.NoError(t, err)
	require.NoError(t, c.Scale(ctx, target("mend-api"), 5, true))

	w, err := c.GetWorkload(ctx, target("mend-api"))
	require.NoError(t, err)
	assert.Equal(t, 2, w.SpecReplicas)
	assert.Equal(t, int64(1), w.Generation)
}

func TestScaleNegativeReplicasIsGuardrail(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.EnsureWorkload(ctx, target("mend-api"), 2)
	require.NoError(t, err)

	err = c.Scale(ctx, target("mend-api"), -1, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGuardrail)
}

func TestRestartBumpsGeneration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.EnsureWorkload(ctx, target("mend-api"), 2)
	require.NoError(t, err)
	require.NoError(t, c.Restart(ctx, target("mend-api"), false))

	w, err := c.GetWorkload(ctx, target("mend-api"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), w.Generation)
	assert.False(t, w.RestartedAt.IsZero())
	assert.Equal(t, 2, w.SpecReplicas)
}

func TestPatchReplicas(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.EnsureWorkload(ctx, target("mend-api"), 2)
	require.NoError(t, err)

	body := map[string]interface{}{
		"spec": map[string]interface{}{"replicas": float64(4)},
	}
	require.NoError(t, c.Patch(ctx, target("mend-api"), body, false))

	w, err := c.GetWorkload(ctx, target("mend-api"))
	require.NoError(t, err)
	assert.Equal(t, 4, w.SpecReplicas)
}

func TestListWorkloadsFiltersNamespace(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.EnsureWorkload(ctx, target("mend-a"), 1)
	require.NoError(t, err)
	_, err = c.EnsureWorkload(ctx, types.Target{Kind: "Deployment", Namespace: "other", Name: "mend-b"}, 1)
	require.NoError(t, err)

	all, err := c.ListWorkloads(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := c.ListWorkloads(ctx, "mend-dev")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "mend-a", scoped[0].Name)
}

func TestResolverPrefixing(t *testing.T) {
	r := Resolver{Namespace: "mend-dev", Prefix: "mend-"}

	assert.Equal(t, "mend-checkout", r.WorkloadName("checkout"))
	assert.Equal(t, "mend-checkout", r.WorkloadName("mend-checkout"))
}
