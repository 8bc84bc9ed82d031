package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"Steward/backend/go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
app:
  name: steward
logger:
  level: warn
databases:
  store:
    driver: sqlite
    path: ":memory:"
`

func TestBootstrap_SQLiteSyncsRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0o600))

	ctx := context.Background()
	rt, err := Bootstrap(ctx, path, "test")
	require.NoError(t, err)
	defer rt.Close()

	agents, err := rt.Store.ListAgents(ctx, false)
	require.NoError(t, err)
	assert.Len(t, agents, len(config.DefaultAgents()))

	gen, err := rt.Generator(ctx)
	require.NoError(t, err)
	assert.Nil(t, gen)

	v, err := rt.Voice(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	fan, err := rt.Notifier(nil)
	require.NoError(t, err)
	assert.NotNil(t, fan)

	d, err := rt.Dispatcher(ctx, nil, fan)
	require.NoError(t, err)
	res, err := d.Dispatch(ctx, dispatchRequest("research the Atlas grant"))
	require.NoError(t, err)
	assert.Equal(t, "research-agent", res.Agent.ID)
}

func TestBootstrap_BadConfig(t *testing.T) {
	_, err := Bootstrap(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), "test")
	assert.Error(t, err)
}

func TestAgentsFromConfig(t *testing.T) {
	agents := AgentsFromConfig([]config.AgentConfig{{ID: "a", Name: "A", CapabilityKeywords: []string{"x"}, AutonomyLevel: 2, Enabled: true}})
	require.Len(t, agents, 1)
	assert.Equal(t, []string{"x"}, []string(agents[0].CapabilityKeywords))
	assert.True(t, agents[0].Enabled)
}

func TestBootstrap_OptionsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0o600))

	rt, err := Bootstrap(context.Background(), path, "test", func(cfg *config.AppConfig) {
		cfg.Logger.Stderr = true
		cfg.Dispatcher.Agents = cfg.Dispatcher.Agents[:1]
	})
	require.NoError(t, err)
	defer rt.Close()

	assert.True(t, rt.Config.Logger.Stderr)
	agents, err := rt.Store.ListAgents(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}
