package executor

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"Steward/backend/go/internal/models"

	"golang.org/x/sync/errgroup"
)

const retrievalLimit = 5

// Sources 是执行器检索上下文用到的语料。
type Sources interface {
	SearchContacts(ctx context.Context, terms []string, limit int) ([]models.Contact, error)
	SearchKnowledge(ctx context.Context, terms []string, limit int) ([]models.KnowledgeEntry, error)
	ActiveProjects(ctx context.Context, limit int) ([]models.Project, error)
}

// Retrieved 是一次检索的结果。
type Retrieved struct {
	Contacts  []models.Contact
	Knowledge []models.KnowledgeEntry
	Projects  []models.Project
}

// RetrievalFunc 为任务检索上下文。错误会让这次执行失败。
type RetrievalFunc func(ctx context.Context, src Sources, t *models.Task) (*Retrieved, error)

// Strategy 描述一个 Agent 如何执行任务。
type Strategy struct {
	Name               string
	SystemFraming      string
	Retrieve           RetrievalFunc
	DefaultNeedsReview bool
	FilesProposal      bool // 进入审核时创建外联提案
}

// DefaultStrategies 返回以 Agent ID 为键的策略表。
func DefaultStrategies() map[string]Strategy {
	return map[string]Strategy{
		"research-agent": {
			Name:          "research",
			SystemFraming: "You are a careful research assistant. Answer from the supplied knowledge entries and say plainly what is unknown.",
			Retrieve:      retrieveKnowledge,
		},
		"drafting-agent": {
			Name:               "drafting",
			SystemFraming:      "You draft messages and documents for the team. Match a warm, professional tone and address the recipient by name when known.",
			Retrieve:           retrieveContactsAndKnowledge,
			DefaultNeedsReview: true,
		},
		"finance-agent": {
			Name:               "financial",
			SystemFraming:      "You handle invoices, payments, budgets and quotes. Be exact with figures and never invent amounts.",
			Retrieve:           retrieveProjects,
			DefaultNeedsReview: true,
		},
		"outreach-agent": {
			Name:               "outreach",
			SystemFraming:      "You write short outreach and follow-up messages to contacts. Produce only the message body.",
			Retrieve:           retrieveContacts,
			DefaultNeedsReview: true,
			FilesProposal:      true,
		},
		"status-agent": {
			Name:          "status",
			SystemFraming: "You summarise the status of active projects in a few bullet points.",
			Retrieve:      retrieveProjects,
		},
		"knowledge-agent": {
			Name:          "knowledge",
			SystemFraming: "You answer questions from the team's knowledge base. Keep answers short.",
			Retrieve:      retrieveKnowledge,
		},
		"broadcast-agent": {
			Name:               "broadcast",
			SystemFraming:      "You write announcements for the whole team based on current project activity.",
			Retrieve:           retrieveProjects,
			DefaultNeedsReview: true,
		},
	}
}

func retrieveKnowledge(ctx context.Context, src Sources, t *models.Task) (*Retrieved, error) {
	entries, err := src.SearchKnowledge(ctx, searchTerms(t), retrievalLimit)
	if err != nil {
		return nil, err
	}
	return &Retrieved{Knowledge: entries}, nil
}

func retrieveContacts(ctx context.Context, src Sources, t *models.Task) (*Retrieved, error) {
	contacts, err := src.SearchContacts(ctx, searchTerms(t), retrievalLimit)
	if err != nil {
		return nil, err
	}
	return &Retrieved{Contacts: contacts}, nil
}

func retrieveProjects(ctx context.Context, src Sources, _ *models.Task) (*Retrieved, error) {
	projects, err := src.ActiveProjects(ctx, retrievalLimit)
	if err != nil {
		return nil, err
	}
	return &Retrieved{Projects: projects}, nil
}

// retrieveContactsAndKnowledge 并发查询联系人和知识条目。
func retrieveContactsAndKnowledge(ctx context.Context, src Sources, t *models.Task) (*Retrieved, error) {
	terms := searchTerms(t)
	out := &Retrieved{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		contacts, err := src.SearchContacts(gctx, terms, retrievalLimit)
		out.Contacts = contacts
		return err
	})
	g.Go(func() error {
		entries, err := src.SearchKnowledge(gctx, terms, retrievalLimit)
		out.Knowledge = entries
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

var stopWords = map[string]bool{
	"about": true, "after": true, "again": true, "could": true, "please": true, "should": true,
	"their": true, "there": true, "these": true, "thing": true, "would": true, "with": true,
	"from": true, "that": true, "this": true, "what": true, "when": true, "where": true,
	"which": true, "your": true, "have": true, "into": true, "them": true, "they": true,
}

// searchTerms 从标题和描述中取出最多 8 个检索词。
func searchTerms(t *models.Task) []string {
	seen := make(map[string]bool)
	var terms []string
	fields := strings.FieldsFunc(t.Title+" "+t.Description, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		w := strings.ToLower(f)
		if len([]rune(w)) < 4 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
		if len(terms) == 8 {
			break
		}
	}
	return terms
}

// Render 把检索结果渲染为提示词中的上下文段落。
func (r *Retrieved) Render() string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	if len(r.Contacts) > 0 {
		sb.WriteString("Contacts:\n")
		for _, c := range r.Contacts {
			fmt.Fprintf(&sb, "- %s (%s) %s %s\n", c.Name, c.Organisation, c.Email, c.Notes)
		}
	}
	if len(r.Knowledge) > 0 {
		sb.WriteString("Knowledge:\n")
		for _, k := range r.Knowledge {
			fmt.Fprintf(&sb, "- %s: %s\n", k.Title, k.Body)
		}
	}
	if len(r.Projects) > 0 {
		sb.WriteString("Active projects:\n")
		for _, p := range r.Projects {
			fmt.Fprintf(&sb, "- %s [%s]: %s\n", p.Name, p.Status, p.Summary)
		}
	}
	return sb.String()
}
