package dispatcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"Steward/backend/go/internal/config"
	"Steward/backend/go/internal/database/sqldb"
	"Steward/backend/go/internal/llm"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/notify"
	"Steward/backend/go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registry() []models.Agent {
	var agents []models.Agent
	for _, a := range config.DefaultAgents() {
		agents = append(agents, models.Agent{
			ID:                 a.ID,
			Name:               a.Name,
			Domain:             a.Domain,
			CapabilityKeywords: a.CapabilityKeywords,
			AutonomyLevel:      a.AutonomyLevel,
			Enabled:            a.Enabled,
		})
	}
	return agents
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sqldb.Open(config.StoreConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close(db) })
	s := store.New(db)
	require.NoError(t, s.AutoMigrate(context.Background()))
	require.NoError(t, s.SyncAgents(context.Background(), registry()))
	return s
}

type memoryLog struct {
	entries []*models.InboundMessage
	err     error
}

func (m *memoryLog) Append(_ context.Context, msg *models.InboundMessage) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, msg)
	return nil
}

func failingGenerator() llm.Generator {
	return llm.GeneratorFunc(func(context.Context, string, string, int) (string, error) {
		return "", errors.New("provider unavailable")
	})
}

func replyingGenerator(reply string) llm.Generator {
	return llm.GeneratorFunc(func(context.Context, string, string, int) (string, error) {
		return reply, nil
	})
}

func TestDispatch_InvoiceFallsBackToFinance(t *testing.T) {
	s := newStore(t)
	rec := &notify.Recorder{}
	msgLog := &memoryLog{}
	d := New(s, Options{
		Rules:      RulesFromConfig(config.DefaultAgents()),
		Generator:  failingGenerator(),
		MessageLog: msgLog,
		Notifier:   rec,
	})

	res, err := d.Dispatch(context.Background(), Request{
		Message:     "please chase up the invoice for Acme Corp",
		Source:      "slack",
		RequestedBy: "U123",
	})
	require.NoError(t, err)
	assert.Equal(t, "finance-agent", res.Agent.ID)
	assert.Equal(t, models.TaskTypeFinancial, res.Task.TaskType)
	assert.Equal(t, 2, res.Task.Priority)
	assert.Equal(t, MethodKeyword, res.Classification.Method)

	stored, err := s.GetTask(context.Background(), res.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskQueued, stored.Status)
	assert.Equal(t, "finance-agent", stored.AssignedAgent)
	assert.Nil(t, stored.CompletedAt)

	require.Len(t, msgLog.entries, 1)
	assert.Contains(t, msgLog.entries[0].Categories, "financial")
	assert.Equal(t, []models.TaskEventKind{models.EventTaskQueued}, rec.Kinds())
}

func TestDispatch_UsesLLMClassification(t *testing.T) {
	s := newStore(t)
	reply := "Sure!\n```json\n{\"summary\":\"Compare vendor quotes\",\"taskType\":\"research\",\"urgency\":1,\"agent\":\"Research\"}\n```"
	d := New(s, Options{Rules: RulesFromConfig(config.DefaultAgents()), Generator: replyingGenerator(reply)})

	res, err := d.Dispatch(context.Background(), Request{Message: "can you compare the three vendor quotes?"})
	require.NoError(t, err)
	assert.Equal(t, "research-agent", res.Agent.ID)
	assert.Equal(t, models.TaskTypeResearch, res.Task.TaskType)
	assert.Equal(t, 1, res.Task.Priority)
	assert.Equal(t, "Compare vendor quotes", res.Task.Title)
	assert.Equal(t, MethodLLM, res.Classification.Method)
}

func TestDispatch_UnparsableLLMOutputFallsBack(t *testing.T) {
	s := newStore(t)
	for _, reply := range []string{"I think finance should handle it", `{"agent":"nobody-at-all-xyz","taskType":"qa"}`} {
		d := New(s, Options{Rules: RulesFromConfig(config.DefaultAgents()), Generator: replyingGenerator(reply)})
		res, err := d.Dispatch(context.Background(), Request{Message: "what is our budget for Q3?"})
		require.NoError(t, err)
		assert.Equal(t, MethodKeyword, res.Classification.Method, reply)
		assert.Equal(t, "finance-agent", res.Agent.ID, "budget is a finance keyword and finance precedes knowledge")
	}
}

func TestDispatch_NoKeywordGoesToKnowledgeAgent(t *testing.T) {
	s := newStore(t)
	d := New(s, Options{Rules: RulesFromConfig(config.DefaultAgents())})

	res, err := d.Dispatch(context.Background(), Request{Message: "hmm, the plants need watering"})
	require.NoError(t, err)
	assert.Equal(t, "knowledge-agent", res.Agent.ID)
	assert.Equal(t, models.TaskTypeAction, res.Task.TaskType)
	assert.Equal(t, 2, res.Task.Priority)
}

func TestDispatch_DisabledAgentIsRerouted(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SetAgentEnabled(context.Background(), "finance-agent", false))
	d := New(s, Options{Rules: RulesFromConfig(config.DefaultAgents())})

	res, err := d.Dispatch(context.Background(), Request{Message: "pay the electricity bill"})
	require.NoError(t, err)
	assert.Equal(t, "knowledge-agent", res.Agent.ID)
	assert.Equal(t, models.TaskTypeFinancial, res.Task.TaskType)
}

func TestDispatch_MessageLogFailureIsNotFatal(t *testing.T) {
	s := newStore(t)
	d := New(s, Options{Rules: RulesFromConfig(config.DefaultAgents()), MessageLog: &memoryLog{err: errors.New("mongo down")}})

	_, err := d.Dispatch(context.Background(), Request{Message: "draft a letter to the landlord"})
	require.NoError(t, err)
}

func TestDispatch_EmptyMessage(t *testing.T) {
	d := New(newStore(t), Options{})
	_, err := d.Dispatch(context.Background(), Request{Message: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestResolveAgent(t *testing.T) {
	agents := registry()
	cases := map[string]string{
		"finance-agent": "finance-agent",
		"Finance":       "finance-agent",
		"outreach":      "outreach-agent",
		"knowldge":      "knowledge-agent",
	}
	for label, want := range cases {
		got, ok := resolveAgent(label, agents)
		require.True(t, ok, label)
		assert.Equal(t, want, got, label)
	}
	_, ok := resolveAgent("", agents)
	assert.False(t, ok)
}

func TestParseUrgency(t *testing.T) {
	cls, err := parseClassification(`{"agent":"status-agent","urgency":"low","taskType":"STATUS"}`, registry(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cls.Urgency)
	assert.Equal(t, models.TaskTypeStatus, cls.TaskType)

	cls, err = parseClassification(`{"agent":"status-agent","urgency":9}`, registry(), RulesFromConfig(config.DefaultAgents()))
	require.NoError(t, err)
	assert.Equal(t, 2, cls.Urgency)
	assert.Equal(t, models.TaskTypeStatus, cls.TaskType, "unknown task type falls back to the agent's default")
}

func TestTitleAndDescription(t *testing.T) {
	long := strings.Repeat("a", 200)
	assert.Equal(t, 80, len([]rune(title("", long))))
	assert.Equal(t, "first line", title("", "first line\nsecond"))
	assert.Equal(t, "msg\n\na: 1\nb: 2", describe("msg", map[string]string{"b": "2", "a": "1"}))
}

func TestNormalizeMessage(t *testing.T) {
	assert.Equal(t, "plain text", NormalizeMessage("  plain text "))
	md := NormalizeMessage("<p>Please <strong>follow up</strong> with Jane</p>")
	assert.Contains(t, md, "**follow up**")
	assert.NotContains(t, md, "<p>")
}
