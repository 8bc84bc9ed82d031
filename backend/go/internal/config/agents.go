package config

// DefaultAgents 返回内置的 Agent 注册表。顺序即关键词匹配的优先级。
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{
			ID:                 "research-agent",
			Name:               "Research",
			Domain:             "research",
			CapabilityKeywords: []string{"research", "investigate", "find out", "look into", "compare"},
			DefaultTaskType:    "research",
			AutonomyLevel:      3,
			Enabled:            true,
		},
		{
			ID:                 "drafting-agent",
			Name:               "Drafting",
			Domain:             "communications",
			CapabilityKeywords: []string{"draft", "write", "email", "letter", "proposal"},
			DefaultTaskType:    "draft",
			AutonomyLevel:      2,
			Enabled:            true,
		},
		{
			ID:                 "finance-agent",
			Name:               "Finance",
			Domain:             "finance",
			CapabilityKeywords: []string{"invoice", "payment", "budget", "expense", "quote", "bill"},
			DefaultTaskType:    "financial",
			AutonomyLevel:      2,
			Enabled:            true,
		},
		{
			ID:                 "outreach-agent",
			Name:               "Outreach",
			Domain:             "relationships",
			CapabilityKeywords: []string{"reach out", "follow up", "introduce", "contact", "connect with"},
			DefaultTaskType:    "outreach",
			AutonomyLevel:      2,
			Enabled:            true,
		},
		{
			ID:                 "status-agent",
			Name:               "Status",
			Domain:             "projects",
			CapabilityKeywords: []string{"status", "progress", "update on", "where are we"},
			DefaultTaskType:    "status",
			AutonomyLevel:      3,
			Enabled:            true,
		},
		{
			ID:                 "broadcast-agent",
			Name:               "Broadcast",
			Domain:             "communications",
			CapabilityKeywords: []string{"announce", "newsletter", "broadcast", "notify everyone"},
			DefaultTaskType:    "notification",
			AutonomyLevel:      1,
			Enabled:            true,
		},
		{
			ID:                 "knowledge-agent",
			Name:               "Knowledge",
			Domain:             "knowledge",
			CapabilityKeywords: []string{"what is", "how do", "explain", "who is"},
			DefaultTaskType:    "qa",
			AutonomyLevel:      3,
			Enabled:            true,
		},
	}
}
