package channel

import (
	"encoding/json"
	"fmt"
	"strings"

	"Steward/backend/go/internal/dispatcher"
	"Steward/backend/go/internal/models"
	"Steward/backend/go/internal/review"
)

const maxOutputRunes = 2500

func reviewButtons(taskID string) []Button {
	return []Button{
		{Name: ActionApprove, Label: "Approve", Value: taskID, Style: "primary"},
		{Name: ActionReject, Label: "Reject", Value: taskID, Style: "danger"},
		{Name: ActionView, Label: "View", Value: taskID},
	}
}

func proposalButtons(proposalID string) []Button {
	return []Button{
		{Name: ActionSend, Label: "Send", Value: proposalID, Style: "primary"},
		{Name: ActionEdit, Label: "Edit", Value: proposalID},
		{Name: ActionSkip, Label: "Skip", Value: proposalID, Style: "danger"},
	}
}

// RenderAck 渲染分发成功后的确认消息。
func RenderAck(res *dispatcher.DispatchResult) Message {
	return Message{Text: fmt.Sprintf("已收到，交给 %s 处理 (%s, 紧急度 %d)。任务 ID: %s",
		res.Agent.Name, res.Classification.TaskType, res.Classification.Urgency, res.Task.ID)}
}

// RenderTask 渲染任务状态。待审核和排队中的任务附带 approve/reject/view 动作。
func RenderTask(t *models.Task) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n状态: %s | Agent: %s", t.Title, t.Status, t.AssignedAgent)
	if t.Confidence > 0 {
		fmt.Fprintf(&b, " | 置信度: %.2f", t.Confidence)
	}
	if t.Output != "" {
		b.WriteString("\n\n")
		b.WriteString(truncate(t.Output, maxOutputRunes))
	}
	if t.Error != "" {
		fmt.Fprintf(&b, "\n\n错误: %s", t.Error)
	}

	msg := Message{Text: b.String()}
	if t.Status == models.TaskReview || t.Status == models.TaskQueued {
		msg.Buttons = reviewButtons(t.ID)
	}
	return msg
}

// RenderProposal 渲染外联提案。待审核的提案附带 send/edit/skip 动作。
func RenderProposal(p *models.Proposal) Message {
	var payload map[string]interface{}
	_ = json.Unmarshal(p.ActionPayload, &payload)

	var b strings.Builder
	fmt.Fprintf(&b, "*外联提案* (%s, 状态: %s)", p.ExecutionChannel, p.Status)
	if to, ok := payload["to"].(string); ok && to != "" {
		fmt.Fprintf(&b, "\n收件人: %s", to)
	}
	if subject, ok := payload["subject"].(string); ok && subject != "" {
		fmt.Fprintf(&b, "\n主题: %s", subject)
	}
	if body, ok := payload["body"].(string); ok && body != "" {
		b.WriteString("\n\n")
		b.WriteString(truncate(body, maxOutputRunes))
	}
	if p.ExecutionResult != "" {
		fmt.Fprintf(&b, "\n\n执行结果: %s", p.ExecutionResult)
	}

	msg := Message{Text: b.String()}
	if p.Status == models.ProposalPendingReview {
		msg.Buttons = proposalButtons(p.ID)
	}
	return msg
}

// RenderItem 渲染一个审核对象。
func RenderItem(item *review.Item) Message {
	if item.Kind == review.KindProposal {
		return RenderProposal(item.Proposal)
	}
	return RenderTask(item.Task)
}

// RenderEvent 渲染一条生命周期事件。需要人工处理的事件附带对应的动作。
func RenderEvent(ev models.TaskEvent) Message {
	msg := Message{Text: ev.Message}
	switch ev.Kind {
	case models.EventTaskNeedsReview, models.EventTaskSuggested:
		if ev.TaskID != "" {
			msg.Buttons = reviewButtons(ev.TaskID)
		}
	case models.EventProposalFiled:
		if ev.ProposalID != "" {
			msg.Buttons = proposalButtons(ev.ProposalID)
		}
	}
	return msg
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
