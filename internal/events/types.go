// Package events carries workflow events from the orchestrator to the side
// effect handlers.
package events

import (
	"fmt"
	"maps"
	"time"
)

type EventType string

const (
	DocCreated       EventType = "doc.created"
	DocUpdated       EventType = "doc.updated"
	DocDeleted       EventType = "doc.deleted"
	DraftCreated     EventType = "draft.created"
	DraftApproved    EventType = "draft.approved"
	DraftRejected    EventType = "draft.rejected"
	QuestionCreated  EventType = "question.created"
	QuestionAnswered EventType = "question.answered"
	GitSyncRequested EventType = "git.sync_requested"
	GitSyncCompleted EventType = "git.sync_completed"
)

var allTypes = []EventType{
	DocCreated, DocUpdated, DocDeleted,
	DraftCreated, DraftApproved, DraftRejected,
	QuestionCreated, QuestionAnswered,
	GitSyncRequested, GitSyncCompleted,
}

// MetaCommitted marks an event whose files the emitter has already
// committed (or deliberately left uncommitted). The VCS handler skips it.
const MetaCommitted = "committed"

// Types returns every known event type.
func Types() []EventType {
	return append([]EventType(nil), allTypes...)
}

func (t EventType) Valid() bool {
	for _, known := range allTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t EventType) String() string { return string(t) }

func ParseEventType(raw string) (EventType, error) {
	t := EventType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type %q", raw)
	}
	return t, nil
}

// Event is an immutable record of something that happened. Fields that do not
// apply to a type are left empty.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Source    string
	UserEmail string

	FilePath string

	DraftID       string
	DraftContent  string
	TargetSection string

	QuestionID   string
	QuestionText string
	AnswerText   string

	CommitSHA  string
	BranchName string

	Metadata map[string]any
}

// New returns an event of type t stamped with the current UTC time.
func New(t EventType, source string) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Metadata:  map[string]any{},
	}
}

// withOwnMetadata returns a copy of e whose metadata map is not shared with
// any other handler.
func (e Event) withOwnMetadata() Event {
	e.Metadata = maps.Clone(e.Metadata)
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	return e
}

// Meta returns the metadata value for key as a string, or "".
func (e Event) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	switch v := e.Metadata[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
