// Package handlers holds the side effects that run when workflow events are
// emitted: navigation upkeep, git synchronization, admin notifications and
// search re-indexing.
package handlers

import (
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/events"
)

// Event sets each handler subscribes to.
var (
	NavigationEvents = []events.EventType{
		events.DocCreated, events.DocUpdated, events.DocDeleted,
		events.DraftApproved, events.QuestionAnswered,
	}
	VCSEvents = []events.EventType{
		events.DraftApproved, events.QuestionAnswered,
		events.DocUpdated, events.GitSyncRequested,
	}
	NotificationEvents = []events.EventType{
		events.DraftCreated, events.DraftApproved, events.DraftRejected,
		events.QuestionCreated, events.QuestionAnswered,
	}
	IndexEvents = []events.EventType{
		events.DocCreated, events.DocUpdated, events.DocDeleted,
		events.DraftCreated, events.DraftApproved,
		events.QuestionCreated, events.QuestionAnswered,
	}
)

// Set is the group of handlers wired at startup. Nil members are not
// subscribed.
type Set struct {
	Navigation   *Navigation
	VCS          *VCS
	Notification *Notification
	Index        *Index
}

// Register subscribes every handler in set. Navigation runs before VCS so a
// regenerated mkdocs.yml is part of the same commit.
func Register(bus *events.Bus, set Set) {
	if set.Navigation != nil {
		bus.SubscribeMany(NavigationEvents, set.Navigation)
	}
	if set.VCS != nil {
		bus.SubscribeMany(VCSEvents, set.VCS)
	}
	if set.Notification != nil {
		bus.SubscribeMany(NotificationEvents, set.Notification)
	}
	if set.Index != nil {
		bus.SubscribeMany(IndexEvents, set.Index)
	}
}
