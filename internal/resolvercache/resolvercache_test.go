package resolvercache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopeforge/scoperesolve/internal/resolver"
	"github.com/scopeforge/scoperesolve/internal/roles"
	"github.com/scopeforge/scoperesolve/internal/roletable"
)

func TestCache_CurrentBeforeRebuild(t *testing.T) {
	c := New(resolver.Build(nil))
	current := c.Current()
	require.NotNil(t, current)
	assert.Empty(t, current.Expand(nil))
}

func TestCache_Rebuild(t *testing.T) {
	src := roletable.NewStaticSource([]roles.Role{
		{RoleID: "admin", Scopes: []string{"files:*"}},
	})
	c := New(resolver.Build(nil))

	err := c.Rebuild(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Generation())

	expanded := c.Current().Expand([]string{"assume:admin"})
	assert.Equal(t, []string{"assume:admin", "files:*"}, expanded)
}

type errSource struct{}

func (errSource) Load(context.Context) ([]roles.Role, error) {
	return nil, errors.New("boom")
}

func TestCache_Rebuild_LoadError(t *testing.T) {
	c := New(resolver.Build(nil))
	err := c.Rebuild(context.Background(), errSource{})
	require.Error(t, err)
	assert.Equal(t, uint64(0), c.Generation())
}

type stubMetrics struct {
	rebuilds   []string
	generation uint64
}

func (s *stubMetrics) RecordRebuild(status string, _ time.Duration, _ int) {
	s.rebuilds = append(s.rebuilds, status)
}

func (s *stubMetrics) UpdateActiveGeneration(generation uint64) {
	s.generation = generation
}

func TestCache_Rebuild_RecordsMetrics(t *testing.T) {
	m := &stubMetrics{}
	c := New(resolver.Build(nil)).WithMetrics(m)

	require.NoError(t, c.Rebuild(context.Background(), roletable.NewStaticSource(nil)))
	assert.Equal(t, []string{"success"}, m.rebuilds)
	assert.Equal(t, uint64(1), m.generation)

	_ = c.Rebuild(context.Background(), errSource{})
	assert.Equal(t, []string{"success", "failure"}, m.rebuilds)
}

func TestBuilder_Run_RebuildsOnTrigger(t *testing.T) {
	src := roletable.NewStaticSource([]roles.Role{
		{RoleID: "admin", Scopes: []string{"files:*"}},
	})
	c := New(resolver.Build(nil))
	triggers := make(chan struct{}, 1)
	b := &Builder{Cache: c, Source: src, Debounce: 5 * time.Millisecond, Triggers: triggers}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	// initial synchronous build already happened by the time Run starts
	// servicing the select loop; give it a moment and confirm a second
	// rebuild fires off a trigger too.
	time.Sleep(20 * time.Millisecond)
	triggers <- struct{}{}
	time.Sleep(30 * time.Millisecond)

	assert.GreaterOrEqual(t, c.Generation(), uint64(2))

	cancel()
	<-done
}
