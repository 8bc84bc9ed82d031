package dispatcher

import (
	"strings"

	"Steward/backend/go/internal/config"
	"Steward/backend/go/internal/models"
)

// DefaultUrgency 是关键词路由和兜底路由使用的优先级。
const DefaultUrgency = models.PriorityNormal

// Method 记录分类结果来自哪一层。
type Method string

const (
	MethodLLM     Method = "llm"
	MethodKeyword Method = "keyword"
	MethodDefault Method = "default"
)

// RoutingRule 是声明式关键词路由表中的一行。
type RoutingRule struct {
	AgentID         string
	Keywords        []string // 小写, 按子串匹配
	DefaultTaskType models.TaskType
	DefaultUrgency  int
}

// Classification 是一条消息的分类结果。
type Classification struct {
	Summary  string
	TaskType models.TaskType
	Urgency  int
	AgentID  string
	Method   Method
}

// RulesFromConfig 按注册表顺序生成路由表。停用的 Agent 也保留规则，由分发时的重路由处理。
func RulesFromConfig(agents []config.AgentConfig) []RoutingRule {
	rules := make([]RoutingRule, 0, len(agents))
	for _, a := range agents {
		if len(a.CapabilityKeywords) == 0 {
			continue
		}
		keywords := make([]string, 0, len(a.CapabilityKeywords))
		for _, kw := range a.CapabilityKeywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		taskType := models.TaskType(a.DefaultTaskType)
		if !models.KnownTaskType(taskType) {
			taskType = models.TaskTypeAction
		}
		rules = append(rules, RoutingRule{
			AgentID:         a.ID,
			Keywords:        keywords,
			DefaultTaskType: taskType,
			DefaultUrgency:  DefaultUrgency,
		})
	}
	return rules
}

// Classify 是关键词兜底路由: 大小写不敏感的子串匹配，按表顺序取第一条命中的规则。
// 没有规则命中时路由到 defaultAgent，任务类型为 action。
func Classify(rules []RoutingRule, message, defaultAgent string) Classification {
	text := strings.ToLower(message)
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(text, kw) {
				urgency := rule.DefaultUrgency
				if urgency == 0 {
					urgency = DefaultUrgency
				}
				return Classification{
					TaskType: rule.DefaultTaskType,
					Urgency:  urgency,
					AgentID:  rule.AgentID,
					Method:   MethodKeyword,
				}
			}
		}
	}
	return Classification{
		TaskType: models.TaskTypeAction,
		Urgency:  DefaultUrgency,
		AgentID:  defaultAgent,
		Method:   MethodDefault,
	}
}

// ruleFor 返回某个 Agent 的规则。
func ruleFor(rules []RoutingRule, agentID string) (RoutingRule, bool) {
	for _, r := range rules {
		if r.AgentID == agentID {
			return r, true
		}
	}
	return RoutingRule{}, false
}
