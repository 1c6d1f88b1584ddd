// Package permission decides which identities may run admin-only workflow
// transitions.
package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

var ErrPermissionDenied = errors.New("permission denied")

type Role string
type Action string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const (
	ActionSubmit          Action = "submit"
	ActionAcceptDraft     Action = "accept_draft"
	ActionRejectDraft     Action = "reject_draft"
	ActionRespondQuestion Action = "respond_question"
	ActionGitSync         Action = "git_sync"
	ActionModerateFeature Action = "moderate_feature"
	ActionViewQueue       Action = "view_queue"
)

// discordDomain is appended to Discord usernames to form an identity.
const discordDomain = "@discord.user"

// Can reports whether role may perform action.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionSubmit
	default:
		return false
	}
}

// DeniedError is returned by RequireAdmin. It matches ErrPermissionDenied.
type DeniedError struct {
	Identity string
	Action   Action
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s may not %s: %s", e.Identity, e.Action, ErrPermissionDenied)
}

func (e *DeniedError) Unwrap() error { return ErrPermissionDenied }

// Gate holds the admin allow-list. It is immutable after construction.
type Gate struct {
	admins map[string]struct{}
	logger *zap.Logger
}

// NewGate builds a gate from admin e-mails and Discord admin usernames.
// Entries are trimmed and lower-cased; blanks are ignored.
func NewGate(adminEmails, discordAdmins []string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{admins: make(map[string]struct{}), logger: logger.Named("permission")}
	for _, email := range adminEmails {
		if id := normalize(email); id != "" {
			g.admins[id] = struct{}{}
		}
	}
	for _, name := range discordAdmins {
		if strings.TrimSpace(name) != "" {
			g.admins[DiscordIdentity(name)] = struct{}{}
		}
	}
	return g
}

// DiscordIdentity maps a Discord username onto the identity namespace.
func DiscordIdentity(username string) string {
	return normalize(username) + discordDomain
}

func (g *Gate) Role(identity string) Role {
	if g.IsAdmin(identity) {
		return RoleAdmin
	}
	return RoleUser
}

func (g *Gate) IsAdmin(identity string) bool {
	id := normalize(identity)
	if id == "" {
		return false
	}
	_, ok := g.admins[id]
	return ok
}

// RequireAdmin returns a *DeniedError unless identity is on the allow-list.
// The action only labels the denial.
func (g *Gate) RequireAdmin(identity string, action Action) error {
	if g.IsAdmin(identity) {
		return nil
	}
	g.logger.Warn("permission denied", zap.String("identity", identity), zap.String("action", string(action)))
	return &DeniedError{Identity: identity, Action: action}
}

// Admins returns a sorted copy of the allow-list.
func (g *Gate) Admins() []string {
	out := make([]string, 0, len(g.admins))
	for id := range g.admins {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
