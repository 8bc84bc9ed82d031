package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"Steward/backend/go/internal/llm"
	"Steward/backend/go/internal/models"

	"github.com/sahilm/fuzzy"
	"github.com/tidwall/gjson"
)

var (
	errNoJSON       = errors.New("classifier output contains no JSON object")
	errUnknownAgent = errors.New("classifier named an agent that is not registered")
)

const classifierPrompt = `You route requests for an operations team to exactly one agent.
Agents:
%s
Reply with a single JSON object and nothing else:
{"summary": "<one line, at most 80 characters>", "taskType": "<one of: research, draft, financial, outreach, status, qa, notification, action>", "urgency": <1 urgent, 2 normal, 3 low, 4 whenever>, "agent": "<agent id>"}`

// classifyWithLLM 请求生成能力给出分类，并宽松地解析它的输出。
func classifyWithLLM(ctx context.Context, gen llm.Generator, maxTokens int, message string, agents []models.Agent, rules []RoutingRule) (Classification, error) {
	var roster strings.Builder
	for _, a := range agents {
		if !a.Enabled {
			continue
		}
		fmt.Fprintf(&roster, "- %s (%s): %s\n", a.ID, a.Domain, strings.Join(a.CapabilityKeywords, ", "))
	}

	out, err := gen.Complete(ctx, fmt.Sprintf(classifierPrompt, roster.String()), message, maxTokens)
	if err != nil {
		return Classification{}, fmt.Errorf("classifier call failed: %w", err)
	}
	return parseClassification(out, agents, rules)
}

// parseClassification 取输出中的第一个 JSON 对象。agent 必须能解析到注册表中的某个 Agent。
func parseClassification(out string, agents []models.Agent, rules []RoutingRule) (Classification, error) {
	obj, ok := llm.FirstJSONObject(out)
	if !ok {
		return Classification{}, errNoJSON
	}

	agentID, ok := resolveAgent(obj.Get("agent").String(), agents)
	if !ok {
		return Classification{}, fmt.Errorf("%w: %q", errUnknownAgent, obj.Get("agent").String())
	}

	taskType := models.TaskType(strings.ToLower(strings.TrimSpace(obj.Get("taskType").String())))
	if !models.KnownTaskType(taskType) {
		taskType = models.TaskTypeAction
		if rule, found := ruleFor(rules, agentID); found {
			taskType = rule.DefaultTaskType
		}
	}

	return Classification{
		Summary:  strings.TrimSpace(obj.Get("summary").String()),
		TaskType: taskType,
		Urgency:  parseUrgency(obj.Get("urgency")),
		AgentID:  agentID,
		Method:   MethodLLM,
	}, nil
}

// parseUrgency 接受 1..4 的数字，也接受常见的文字写法。其他值一律视为 2。
func parseUrgency(v gjson.Result) int {
	if v.Type == gjson.Number {
		if n := int(v.Int()); n >= models.PriorityUrgent && n <= models.PriorityWhenever {
			return n
		}
		return DefaultUrgency
	}
	switch strings.ToLower(strings.TrimSpace(v.String())) {
	case "1", "urgent", "critical", "high":
		return models.PriorityUrgent
	case "3", "low":
		return models.PriorityLow
	case "4", "whenever", "someday":
		return models.PriorityWhenever
	}
	return DefaultUrgency
}

// resolveAgent 依次按精确 id、精确名称、"<label>-agent" 和模糊名称匹配解析 Agent 标签。
func resolveAgent(label string, agents []models.Agent) (string, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" || len(agents) == 0 {
		return "", false
	}
	for _, a := range agents {
		if strings.ToLower(a.ID) == label || strings.ToLower(a.Name) == label || strings.ToLower(a.ID) == label+"-agent" {
			return a.ID, true
		}
	}

	candidates := make([]string, 0, 2*len(agents))
	owners := make([]string, 0, 2*len(agents))
	for _, a := range agents {
		candidates = append(candidates, strings.ToLower(a.ID), strings.ToLower(a.Name))
		owners = append(owners, a.ID, a.ID)
	}
	matches := fuzzy.Find(label, candidates)
	if len(matches) == 0 {
		return "", false
	}
	return owners[matches[0].Index], true
}
