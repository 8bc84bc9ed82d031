package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("app:\n  name: steward\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.App.Address)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "mysql", cfg.Databases.Store.Driver)
	assert.Equal(t, "task_events", cfg.Databases.Kafka.EventsTopic)
	assert.Equal(t, "inbound_requests", cfg.Databases.Kafka.InboundTopic)
	assert.Equal(t, "knowledge-agent", cfg.Dispatcher.DefaultAgent)
	assert.Len(t, cfg.Dispatcher.Agents, len(DefaultAgents()))
	assert.Equal(t, 15*time.Minute, Duration(cfg.Scheduler.WorkingTimeout))
	assert.Equal(t, 30*time.Minute, Duration(cfg.Scheduler.ReviewReminder))
	assert.Equal(t, 0.7, cfg.Voice.SimilarityThreshold)
}

func TestParse_KeepsExplicitValues(t *testing.T) {
	yaml := `
databases:
  store:
    driver: sqlite
    path: ":memory:"
scheduler:
  interval: 1m
  workingTimeout: 5m
dispatcher:
  defaultAgent: ops-agent
  agents:
    - id: ops-agent
      name: Ops
      autonomyLevel: 4
      enabled: true
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Databases.Store.Driver)
	assert.Equal(t, time.Minute, Duration(cfg.Scheduler.Interval))
	assert.Equal(t, 5*time.Minute, Duration(cfg.Scheduler.WorkingTimeout))
	require.Len(t, cfg.Dispatcher.Agents, 1)
	assert.Equal(t, "ops-agent", cfg.Dispatcher.Agents[0].ID)
}

func TestParse_RejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"bad duration":   "scheduler:\n  interval: soon\n",
		"missing id":     "dispatcher:\n  agents:\n    - name: x\n      autonomyLevel: 2\n",
		"duplicate id":   "dispatcher:\n  agents:\n    - id: a\n      autonomyLevel: 2\n    - id: a\n      autonomyLevel: 2\n",
		"autonomy high":  "dispatcher:\n  agents:\n    - id: a\n      autonomyLevel: 5\n",
		"not yaml":       "app: [",
		"slack unsigned": "channels:\n  slack:\n    enabled: true\n    botToken: xoxb-1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
		})
	}
}

func TestParse_SlackWithSigningSecret(t *testing.T) {
	cfg, err := Parse([]byte("channels:\n  slack:\n    enabled: true\n    botToken: xoxb-1\n    signingSecret: s3cret\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Channels.Slack.Enabled)
}

func TestDefaultAgents_AreValid(t *testing.T) {
	cfg := &AppConfig{Dispatcher: DispatcherConfig{Agents: DefaultAgents()}}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  address: \":9090\"\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.App.Address)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
