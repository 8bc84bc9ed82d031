package voice

import (
	"context"
	"fmt"
	"strings"

	"Steward/backend/go/internal/llm"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/pkg/logger"

	"github.com/tidwall/gjson"
)

const enrichPrompt = `You summarise voice notes for a personal assistant.
Reply with one JSON object and nothing else:
{"summary": "...", "topics": ["..."], "action_items": ["..."], "key_points": ["..."], "mentioned_people": ["..."]}
mentioned_people holds full names of people referred to in the note. Use empty arrays when nothing applies.`

func (p *Pipeline) enrich(ctx context.Context, note *models.VoiceNote, log *logger.Logger) {
	if p.opts.Generator == nil {
		return
	}
	out, err := p.opts.Generator.Complete(ctx, enrichPrompt, "Voice note transcript:\n"+*note.Transcript, p.opts.MaxTokens)
	if err != nil {
		log.WithError(err).Warn("提炼失败")
		return
	}
	obj, ok := llm.FirstJSONObject(out)
	if !ok {
		log.Warn(fmt.Sprintf("提炼结果不是 JSON: %.80q", out))
		return
	}

	if summary := strings.TrimSpace(obj.Get("summary").String()); summary != "" {
		note.Summary = &summary
	}
	note.Topics = stringList(obj.Get("topics"))
	note.ActionItems = stringList(obj.Get("action_items"))
	note.KeyPoints = stringList(obj.Get("key_points"))
	note.MentionedPeople = stringList(obj.Get("mentioned_people"))
	now := p.opts.Now()
	note.EnrichedAt = &now
}

// stringList 读取字符串数组，跳过空值并去重。
func stringList(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, v := range r.Array() {
		s := strings.TrimSpace(v.String())
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
