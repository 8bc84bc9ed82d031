package models

import "time"

// Visibility 决定谁可以检索到一条语音笔记。
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityTeam    Visibility = "team"
	VisibilityProject Visibility = "project"
	VisibilityPublic  Visibility = "public"
)

// ParseVisibility 把未知值归为 private。
func ParseVisibility(s string) Visibility {
	switch v := Visibility(s); v {
	case VisibilityTeam, VisibilityProject, VisibilityPublic:
		return v
	}
	return VisibilityPrivate
}

// VoiceNote 是语音管道产出的复合记录。
// 转写、摘要和向量都可能为空，但记录本身总会被保存。
type VoiceNote struct {
	ID                   string     `bson:"_id" json:"id"`
	SourceChannel        string     `bson:"source_channel" json:"source_channel"`
	RecordedBy           string     `bson:"recorded_by" json:"recorded_by"`
	AudioRef             string     `bson:"audio_ref" json:"audio_ref"`
	AudioFormat          string     `bson:"audio_format" json:"audio_format"`
	Transcript           *string    `bson:"transcript" json:"transcript"`
	TranscriptConfidence *float64   `bson:"transcript_confidence" json:"transcript_confidence"`
	Summary              *string    `bson:"summary" json:"summary"`
	Topics               []string   `bson:"topics" json:"topics"`
	ActionItems          []string   `bson:"action_items" json:"action_items"`
	KeyPoints            []string   `bson:"key_points" json:"key_points"`
	MentionedPeople      []string   `bson:"mentioned_people" json:"mentioned_people"`
	Embedding            []float32  `bson:"embedding" json:"-"`
	Visibility           Visibility `bson:"visibility" json:"visibility"`
	ProjectContext       *string    `bson:"project_context" json:"project_context,omitempty"`
	RelatedContactID     *string    `bson:"related_contact_id" json:"related_contact_id,omitempty"`
	SharedWith           []string   `bson:"shared_with" json:"shared_with"`
	RecordedAt           time.Time  `bson:"recorded_at" json:"recorded_at"`
	TranscribedAt        *time.Time `bson:"transcribed_at" json:"transcribed_at,omitempty"`
	EnrichedAt           *time.Time `bson:"enriched_at" json:"enriched_at,omitempty"`
}

// VisibleTo 报告 viewer 是否可以读取这条笔记。
// 私有笔记只对录制者和被显式分享的人可见。
func (n *VoiceNote) VisibleTo(viewer string) bool {
	if viewer != "" && n.RecordedBy == viewer {
		return true
	}
	for _, u := range n.SharedWith {
		if u == viewer && viewer != "" {
			return true
		}
	}
	return n.Visibility != VisibilityPrivate
}

// HasEmbedding 报告笔记是否带有向量。
func (n *VoiceNote) HasEmbedding() bool {
	return len(n.Embedding) > 0
}
