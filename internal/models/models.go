// Package models defines the workflow entities and their lifecycle rules.
//
// Entities are plain values. Transition methods mutate the receiver and
// refuse moves the lifecycle does not allow; persisting the result is the
// repository's job.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/util"
)

// Language is a supported documentation language code.
type Language string

const (
	LangEN Language = "en"
	LangHU Language = "hu"
)

// Now is the clock used for entity timestamps. Times are UTC without a
// monotonic reading so they survive a JSON round trip unchanged.
func Now() time.Time {
	return time.Now().UTC()
}

type DraftUpdate struct {
	ID              string         `json:"id"`
	UserEmail       string         `json:"user_email"`
	UserName        string         `json:"user_name"`
	Content         string         `json:"content"`
	TargetSection   string         `json:"target_section"`
	Description     string         `json:"description"`
	Language        Language       `json:"language"`
	Status          DraftStatus    `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Version         int64          `json:"version"`
	ApprovedBy      string         `json:"approved_by,omitempty"`
	AppliedAt       *time.Time     `json:"applied_at,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	Metadata        map[string]any `json:"metadata"`
}

func NewDraftUpdate(userEmail, userName, content, target, description string, lang Language, now time.Time) DraftUpdate {
	return DraftUpdate{
		ID:            util.NewID(util.PrefixDraft),
		UserEmail:     userEmail,
		UserName:      userName,
		Content:       content,
		TargetSection: target,
		Description:   description,
		Language:      lang,
		Status:        DraftPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (d *DraftUpdate) Approve(admin string, now time.Time) error {
	if d.Status != DraftPending {
		return transitionErr("draft", d.ID, d.Status, DraftApproved)
	}
	d.Status = DraftApproved
	d.ApprovedBy = admin
	d.UpdatedAt = now
	return nil
}

func (d *DraftUpdate) Reject(reason string, now time.Time) error {
	if d.Status != DraftPending {
		return transitionErr("draft", d.ID, d.Status, DraftRejected)
	}
	if strings.TrimSpace(reason) == "" {
		reason = "No reason provided"
	}
	d.Status = DraftRejected
	d.RejectionReason = reason
	d.UpdatedAt = now
	return nil
}

func (d *DraftUpdate) MarkApplied(now time.Time) error {
	if d.Status != DraftApproved {
		return transitionErr("draft", d.ID, d.Status, DraftApplied)
	}
	d.Status = DraftApplied
	d.AppliedAt = &now
	d.UpdatedAt = now
	return nil
}

// CheckInvariants reports the first field that disagrees with the status.
func (d DraftUpdate) CheckInvariants() error {
	approved := d.Status == DraftApproved || d.Status == DraftApplied
	switch {
	case !d.Status.Valid():
		return fmt.Errorf("draft %s: %w", d.ID, ErrUnknownStatus)
	case approved != (d.ApprovedBy != ""):
		return fmt.Errorf("draft %s: approved_by inconsistent with status %s", d.ID, d.Status)
	case (d.Status == DraftRejected) != (d.RejectionReason != ""):
		return fmt.Errorf("draft %s: rejection_reason inconsistent with status %s", d.ID, d.Status)
	case (d.Status == DraftApplied) != (d.AppliedAt != nil):
		return fmt.Errorf("draft %s: applied_at inconsistent with status %s", d.ID, d.Status)
	}
	return nil
}

type PendingQuestion struct {
	ID              string         `json:"id"`
	UserEmail       string         `json:"user_email"`
	UserName        string         `json:"user_name"`
	Question        string         `json:"question"`
	BotAnswer       string         `json:"bot_answer"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	Language        Language       `json:"language"`
	Status          QuestionStatus `json:"status"`
	Platform        string         `json:"platform"`
	ConversationID  string         `json:"conversation_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Version         int64          `json:"version"`
	AdminResponse   string         `json:"admin_response,omitempty"`
	RespondedBy     string         `json:"responded_by,omitempty"`
	RespondedAt     *time.Time     `json:"responded_at,omitempty"`
	Metadata        map[string]any `json:"metadata"`
}

func NewPendingQuestion(userEmail, userName, question, botAnswer, reason, platform string, lang Language, now time.Time) PendingQuestion {
	if platform == "" {
		platform = "api"
	}
	return PendingQuestion{
		ID:              util.NewID(util.PrefixQuestion),
		UserEmail:       userEmail,
		UserName:        userName,
		Question:        question,
		BotAnswer:       botAnswer,
		RejectionReason: reason,
		Language:        lang,
		Status:          QuestionEscalated,
		Platform:        platform,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (q *PendingQuestion) Respond(admin, response string, now time.Time) error {
	if q.Status == QuestionAnswered {
		return transitionErr("question", q.ID, q.Status, QuestionAnswered)
	}
	q.Status = QuestionAnswered
	q.AdminResponse = response
	q.RespondedBy = admin
	q.RespondedAt = &now
	q.UpdatedAt = now
	return nil
}

func (q *PendingQuestion) PutOnHold(now time.Time) error {
	if q.Status != QuestionEscalated {
		return transitionErr("question", q.ID, q.Status, QuestionOnHold)
	}
	q.Status = QuestionOnHold
	q.UpdatedAt = now
	return nil
}

type Comment struct {
	UserEmail string    `json:"user_email"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

type FeatureSuggestion struct {
	ID          string         `json:"id"`
	UserEmail   string         `json:"user_email"`
	UserName    string         `json:"user_name"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Language    Language       `json:"language"`
	Status      FeatureStatus  `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Version     int64          `json:"version"`
	Votes       int            `json:"votes"`
	Comments    []Comment      `json:"comments"`
	Metadata    map[string]any `json:"metadata"`
}

func NewFeatureSuggestion(userEmail, userName, title, description string, lang Language, now time.Time) FeatureSuggestion {
	return FeatureSuggestion{
		ID:          util.NewID(util.PrefixFeature),
		UserEmail:   userEmail,
		UserName:    userName,
		Title:       title,
		Description: description,
		Language:    lang,
		Status:      FeatureOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
		Comments:    []Comment{},
	}
}

func (f *FeatureSuggestion) Upvote(now time.Time) {
	f.Votes++
	f.UpdatedAt = now
}

func (f *FeatureSuggestion) AddComment(userEmail, comment string, now time.Time) {
	f.Comments = append(f.Comments, Comment{UserEmail: userEmail, Comment: comment, CreatedAt: now})
	f.UpdatedAt = now
}

func (f *FeatureSuggestion) UpdateStatus(status FeatureStatus, now time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("feature %s: %w", f.ID, ErrUnknownStatus)
	}
	f.Status = status
	f.UpdatedAt = now
	return nil
}

type AcceptedQA struct {
	ID        string         `json:"id"`
	Question  string         `json:"question"`
	Answer    string         `json:"answer"`
	UserEmail string         `json:"user_email"`
	Language  Language       `json:"language"`
	CreatedAt time.Time      `json:"created_at"`
	Sources   []string       `json:"sources"`
	Metadata  map[string]any `json:"metadata"`
}

func NewAcceptedQA(question, answer, userEmail string, lang Language, sources []string, now time.Time) AcceptedQA {
	return AcceptedQA{
		ID:        util.NewID(util.PrefixQA),
		Question:  question,
		Answer:    answer,
		UserEmail: userEmail,
		Language:  lang,
		CreatedAt: now,
		Sources:   sources,
	}
}

// Markdown renders the entry appended to the accepted Q&A document. The
// question becomes a single-line heading.
func (qa AcceptedQA) Markdown() string {
	heading := strings.Join(strings.Fields(qa.Question), " ")
	return fmt.Sprintf("### %s\n<!-- QA_ID: %s -->\n\n%s\n\n_ID: %s | Accepted on %s_\n\n---\n",
		heading, qa.ID, qa.Answer, qa.ID, qa.CreatedAt.Format("2006-01-02"))
}

func transitionErr(kind, id string, from, to fmt.Stringer) error {
	return fmt.Errorf("%w: %s %s is %s, cannot become %s", ErrInvalidTransition, kind, id, from, to)
}
