package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/events"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/notify"
)

const previewLen = 500

// Notification tells admins about new and decided drafts and escalated
// questions, and tells users when their question was answered. The sender
// can be attached after startup, once the outbound channels are connected.
type Notification struct {
	mu     sync.RWMutex
	sender notify.Sender
	logger *zap.Logger
}

func NewNotification(sender notify.Sender, logger *zap.Logger) *Notification {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notification{sender: sender, logger: logger.Named("notification")}
}

func (n *Notification) Name() string { return "notification" }

// SetSender replaces the outbound sender. Safe for concurrent use.
func (n *Notification) SetSender(s notify.Sender) {
	n.mu.Lock()
	n.sender = s
	n.mu.Unlock()
}

func (n *Notification) Handle(ctx context.Context, e events.Event) error {
	n.mu.RLock()
	sender := n.sender
	n.mu.RUnlock()
	if sender == nil {
		n.logger.Warn("no notification sender configured")
		return events.ErrSkipped
	}

	channel, msg, ok := BuildMessage(e)
	if !ok {
		return events.ErrSkipped
	}
	delivered, err := sender.Send(ctx, channel, msg)
	if err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	if !delivered {
		return fmt.Errorf("notify %s: %w", channel, notify.ErrNotDelivered)
	}
	n.logger.Info("notification sent", zap.String("channel", channel), zap.String("event_type", e.Type.String()))
	return nil
}

// BuildMessage renders the notification for an event and the channel it
// belongs to. ok is false for events that carry no notification.
func BuildMessage(e events.Event) (channel string, msg notify.Message, ok bool) {
	switch e.Type {
	case events.DraftCreated:
		msg = notify.Message{
			Title:       "New Draft Submitted",
			Description: "A new draft update has been submitted for review.",
			Color:       notify.ColorBlue,
			Fields: []notify.Field{
				{Name: "Draft ID", Value: orDefault(e.DraftID, "Unknown"), Inline: true},
				{Name: "Target Section", Value: orDefault(e.TargetSection, "Not specified"), Inline: true},
				{Name: "Submitted By", Value: orDefault(e.UserEmail, "Unknown"), Inline: true},
			},
			Footer: fmt.Sprintf("Use /accept-draft %s or /reject-draft %s <reason>", e.DraftID, e.DraftID),
		}
		if e.DraftContent != "" {
			msg.Fields = append(msg.Fields, notify.Field{
				Name:  "Content Preview",
				Value: "```\n" + notify.Preview(e.DraftContent, previewLen) + "\n```",
			})
		}
		return notify.ChannelDraftAdmin, msg, true

	case events.DraftApproved:
		return notify.ChannelDraftAdmin, notify.Message{
			Title:       "Draft Approved",
			Description: fmt.Sprintf("Draft **%s** has been approved.", e.DraftID),
			Color:       notify.ColorGreen,
			Fields: []notify.Field{
				{Name: "Approved By", Value: orDefault(e.UserEmail, "Unknown"), Inline: true},
				{Name: "Target", Value: orDefault(e.TargetSection, "Not specified"), Inline: true},
				{Name: "Applied", Value: yesNo(e.Meta("applied") == "true"), Inline: true},
			},
		}, true

	case events.DraftRejected:
		return notify.ChannelDraftAdmin, notify.Message{
			Title:       "Draft Rejected",
			Description: fmt.Sprintf("Draft **%s** has been rejected.", e.DraftID),
			Color:       notify.ColorRed,
			Fields: []notify.Field{
				{Name: "Rejected By", Value: orDefault(e.UserEmail, "Unknown"), Inline: true},
				{Name: "Reason", Value: orDefault(e.Meta("reason"), "No reason provided")},
			},
		}, true

	case events.QuestionCreated:
		msg = notify.Message{
			Title:       "Question Escalated for Review",
			Description: "A user has rejected the bot's answer and escalated the question for admin review.",
			Color:       notify.ColorOrange,
			Fields: []notify.Field{
				{Name: "Question ID", Value: orDefault(e.QuestionID, "Unknown"), Inline: true},
				{Name: "Submitted By", Value: orDefault(e.UserEmail, "Unknown"), Inline: true},
				{Name: "Platform", Value: capitalize(orDefault(e.Meta("platform"), "unknown")), Inline: true},
			},
			Footer: fmt.Sprintf("Use /answer-question %s <your_answer> to respond", e.QuestionID),
		}
		if e.QuestionText != "" {
			msg.Fields = append(msg.Fields, notify.Field{Name: "Question", Value: notify.Preview(e.QuestionText, previewLen)})
		}
		if reason := e.Meta("rejection_reason"); reason != "" {
			msg.Fields = append(msg.Fields, notify.Field{Name: "Rejection Reason", Value: notify.Preview(reason, previewLen)})
		}
		return notify.ChannelQuestionsAdmin, msg, true

	case events.QuestionAnswered:
		msg = notify.Message{
			Title:       "Your Question Has Been Answered!",
			Description: "An administrator has answered your escalated question.",
			Color:       notify.ColorGreen,
			Fields: []notify.Field{
				{Name: "Question ID", Value: orDefault(e.QuestionID, "Unknown"), Inline: true},
				{Name: "Answered By", Value: orDefault(e.UserEmail, "Unknown"), Inline: true},
			},
			Recipient: e.Meta("original_user"),
		}
		if e.QuestionText != "" {
			msg.Fields = append(msg.Fields, notify.Field{Name: "Your Question", Value: notify.Preview(e.QuestionText, previewLen)})
		}
		if e.AnswerText != "" {
			msg.Fields = append(msg.Fields, notify.Field{Name: "Answer", Value: notify.Preview(e.AnswerText, 2*previewLen)})
		}
		return notify.ChannelQuestionsAdmin, msg, true
	}
	return "", notify.Message{}, false
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	return strings.ToUpper(string(r[0])) + string(r[1:])
}
