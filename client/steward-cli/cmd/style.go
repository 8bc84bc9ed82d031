package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	statusStyles = map[string]lipgloss.Style{
		"queued":   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		"approved": lipgloss.NewStyle().Foreground(lipgloss.Color("69")),
		"working":  lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		"review":   lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		"done":     lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		"rejected": lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		"failed":   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

func renderStatus(s string) string {
	if st, ok := statusStyles[s]; ok {
		return st.Render(s)
	}
	return s
}

func field(label, value string) string {
	return labelStyle.Render(label+": ") + value
}

func renderTask(t *Task) string {
	lines := []string{
		titleStyle.Render(t.Title),
		field("id", t.ID),
		field("agent", t.AssignedAgent),
		field("status", renderStatus(t.Status)),
	}
	if t.Confidence > 0 {
		lines = append(lines, field("confidence", fmt.Sprintf("%.2f", t.Confidence)))
	}
	if t.ReviewedBy != "" {
		lines = append(lines, field("reviewed by", t.ReviewedBy))
	}
	if t.Error != "" {
		lines = append(lines, field("error", errorStyle.Render(t.Error)))
	}
	if t.Output != "" {
		lines = append(lines, "", t.Output)
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderProposal(p *Proposal) string {
	var payload map[string]interface{}
	_ = json.Unmarshal(p.ActionPayload, &payload)
	lines := []string{
		titleStyle.Render("Outreach proposal"),
		field("id", p.ID),
		field("task", p.TaskID),
		field("channel", p.ExecutionChannel),
		field("status", renderStatus(p.Status)),
	}
	for _, k := range []string{"to", "subject"} {
		if s, ok := payload[k].(string); ok && s != "" {
			lines = append(lines, field(k, s))
		}
	}
	if body, ok := payload["body"].(string); ok && body != "" {
		lines = append(lines, "", body)
	}
	if p.ExecutionResult != "" {
		lines = append(lines, field("result", p.ExecutionResult))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderItem(item *ReviewItem) string {
	if item.Proposal != nil {
		return renderProposal(item.Proposal)
	}
	if item.Task != nil {
		return renderTask(item.Task)
	}
	return ""
}

func renderTaskRow(t Task) string {
	return fmt.Sprintf("%-36s  %-10s  %-16s  %s", t.ID, renderStatus(t.Status), t.AssignedAgent, t.Title)
}

func renderNote(n VoiceNote, similarity float32) string {
	lines := []string{
		titleStyle.Render(fmt.Sprintf("%s  (%.2f)", n.ID, similarity)),
		field("recorded", n.RecordedAt.Format("2006-01-02 15:04")+" by "+n.RecordedBy),
		field("visibility", n.Visibility),
	}
	if n.Summary != nil {
		lines = append(lines, "", *n.Summary)
	} else if n.Transcript != nil {
		lines = append(lines, "", *n.Transcript)
	}
	if len(n.ActionItems) > 0 {
		lines = append(lines, field("action items", strings.Join(n.ActionItems, "; ")))
	}
	if len(n.MentionedPeople) > 0 {
		lines = append(lines, field("mentions", strings.Join(n.MentionedPeople, ", ")))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderEvent(e Event) string {
	head := fmt.Sprintf("%s %s", labelStyle.Render(e.Timestamp.Local().Format("15:04:05")), titleStyle.Render(e.Kind))
	if e.Status != "" {
		head += " " + renderStatus(e.Status)
	}
	if e.TaskID != "" {
		head += " " + labelStyle.Render(e.TaskID)
	}
	return head + "\n  " + e.Message
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
