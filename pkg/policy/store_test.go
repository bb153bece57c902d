package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendhq/mend/pkg/events"
)

func writeRules(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "policies.rules")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestStoreReload(t *testing.T) {
	path := writeRules(t, t.TempDir(),
		`POLICY "a": WHEN anomaly.score > 0.5 THEN restart(service)`)

	store := NewStore(path)
	res := store.Reload()

	assert.True(t, res.OK)
	assert.Equal(t, 1, res.PolicyCount)
	assert.Equal(t, path, res.SourcePath)
	assert.False(t, res.LoadedAt.IsZero())
	require.Len(t, store.Policies(), 1)
}

func TestStoreReloadFailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir,
		`POLICY "a": WHEN anomaly.score > 0.5 THEN restart(service)`)

	store := NewStore(path)
	require.True(t, store.Reload().OK)

	// Break the file and reload: the active set must survive
	require.NoError(t, os.WriteFile(path, []byte(`POLICY broken`), 0644))
	res := store.Reload()

	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 1, res.PolicyCount)
	require.Len(t, store.Policies(), 1)
	assert.Equal(t, "a", store.Policies()[0].Name)

	status := store.Status()
	assert.False(t, status.OK)
	assert.NotEmpty(t, status.Error)
}

func TestStoreReloadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.rules"))
	res := store.Reload()

	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "read rules")
	assert.Empty(t, store.Policies())
}

func TestStorePoliciesReturnsCopy(t *testing.T) {
	path := writeRules(t, t.TempDir(),
		`POLICY "a": WHEN anomaly.score > 0.5 THEN restart(service)`)

	store := NewStore(path)
	require.True(t, store.Reload().OK)

	got := store.Policies()
	got[0].Name = "mutated"
	assert.Equal(t, "a", store.Policies()[0].Name)
}

func TestStoreReloadPublishesEvents(t *testing.T) {
	path := writeRules(t, t.TempDir(),
		`POLICY "a": WHEN anomaly.score > 0.5 THEN restart(service)`)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	store := NewStore(path)
	store.SetBroker(broker)

	require.True(t, store.Reload().OK)
	ev := waitEvent(t, sub)
	assert.Equal(t, events.EventPolicyReloaded, ev.Type)
	assert.Equal(t, "1", ev.Metadata["policies"])

	require.NoError(t, os.WriteFile(path, []byte(`POLICY broken`), 0644))
	require.False(t, store.Reload().OK)
	ev = waitEvent(t, sub)
	assert.Equal(t, events.EventPolicyLoadError, ev.Type)
}

func waitEvent(t *testing.T, sub events.Subscriber) *events.Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func TestStoreStatusBeforeFirstLoad(t *testing.T) {
	store := NewStore("whatever.rules")
	status := store.Status()

	assert.True(t, status.OK)
	assert.Zero(t, status.PolicyCount)
	assert.True(t, status.LoadedAt.IsZero())
}
