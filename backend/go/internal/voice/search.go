package voice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"Steward/backend/go/internal/models"
)

// ErrSearchUnavailable 表示没有配置向量化或向量索引。
var ErrSearchUnavailable = errors.New("voice: search is not configured")

// SearchQuery 是一次语义检索。
type SearchQuery struct {
	Query   string
	Viewer  string
	Scope   models.Visibility // 为空时检索所有非私有笔记
	Project string            // Scope 为 project 时限定项目
	TopK    int
}

// SearchResult 是一条检索结果。
type SearchResult struct {
	Note       models.VoiceNote `json:"note"`
	Similarity float32          `json:"similarity"`
}

// Search 向量化查询，检索近邻，并在取回的文档上重新检查可见性。
// 相似度低于阈值的结果被丢弃，其余按相似度降序截断到 TopK。
func (p *Pipeline) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	if p.opts.Embedder == nil || p.opts.Index == nil {
		return nil, ErrSearchUnavailable
	}
	topK := q.TopK
	if topK <= 0 {
		topK = p.opts.TopK
	}

	vec, err := p.opts.Embedder.Embed(ctx, q.Query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}
	// 多取一些候选，留给可见性复查和阈值过滤。
	hits, err := p.opts.Index.Search(ctx, vec, topK*3, FilterExpr(q.Viewer, q.Scope))
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	scores := make(map[string]float32, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if float64(h.Score) < p.opts.SimilarityThreshold {
			continue
		}
		if _, dup := scores[h.NoteID]; !dup {
			ids = append(ids, h.NoteID)
		}
		scores[h.NoteID] = h.Score
	}
	if len(ids) == 0 {
		return nil, nil
	}

	notes, err := p.notes.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("读取语音笔记失败: %w", err)
	}
	results := make([]SearchResult, 0, len(notes))
	for _, n := range notes {
		if !accessible(&n, q) {
			continue
		}
		results = append(results, SearchResult{Note: n, Similarity: scores[n.ID]})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// accessible 报告 viewer 能否在给定范围内看到这条笔记:
// 自己的笔记和分享给自己的笔记总是可见，其他笔记必须非私有且符合范围。
func accessible(n *models.VoiceNote, q SearchQuery) bool {
	if !n.VisibleTo(q.Viewer) {
		return false
	}
	if n.Visibility == models.VisibilityPrivate || n.RecordedBy == q.Viewer || q.Scope == "" {
		return true
	}
	if n.Visibility != q.Scope {
		return false
	}
	if q.Scope == models.VisibilityProject && q.Project != "" {
		return n.ProjectContext != nil && *n.ProjectContext == q.Project
	}
	return true
}

// FilterExpr 构建向量索引的标量过滤表达式。
func FilterExpr(viewer string, scope models.Visibility) string {
	viewer = quoteSafe(viewer)
	var visible string
	if scope == "" {
		visible = `visibility != "private"`
	} else {
		visible = fmt.Sprintf(`visibility == "%s"`, quoteSafe(string(scope)))
	}
	if viewer == "" {
		return visible
	}
	return fmt.Sprintf(`owner == "%s" or shared_with like "%%,%s,%%" or %s`, viewer, viewer, visible)
}

func quoteSafe(s string) string {
	return strings.NewReplacer(`"`, "", `\`, "", `%`, "", `,`, "").Replace(s)
}

// SharedWithField 把分享列表编码为向量索引里可以用 like 匹配的字符串。
func SharedWithField(users []string) string {
	if len(users) == 0 {
		return ""
	}
	clean := make([]string, 0, len(users))
	for _, u := range users {
		clean = append(clean, quoteSafe(u))
	}
	return "," + strings.Join(clean, ",") + ","
}
