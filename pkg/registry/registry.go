package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// ErrDuplicateSession is returned when a session id is registered twice.
// Registration is append-only per session id; a duplicate indicates a
// protocol violation upstream, never a legitimate overwrite.
var ErrDuplicateSession = errors.New("registry: session id already registered")

// SessionHandle is the narrow view of a live gateway session the registry
// stores. Collaborators obtained through the registry only address
// delivery; they never reach into session internals.
type SessionHandle interface {
	SessionID() string
	UserID() snowflake.ID
}

// Entry pairs a registered session with its inbox sender.
type Entry struct {
	Session SessionHandle
	Inbox   *Inbox
}

// Registry is the process-wide connected-user store. It maps user
// identities to their active sessions (a user may hold several for
// multi-device use) and keeps the role→users reverse index used for
// role-scoped broadcast.
//
// Construct it explicitly with New and pass it by reference; there is no
// package-level singleton.
type Registry struct {
	mu    sync.RWMutex
	users map[snowflake.ID]map[string]Entry
	roles map[snowflake.ID]map[snowflake.ID]struct{}

	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		users:  make(map[snowflake.ID]map[string]Entry),
		roles:  make(map[snowflake.ID]map[snowflake.ID]struct{}),
		logger: logger.With("component", "registry"),
	}
}

// Register inserts a session and its inbox under the user's entry. It is
// called exactly once per successful handshake. Registering an already
// present session id fails with ErrDuplicateSession.
func (r *Registry) Register(user snowflake.ID, sess SessionHandle, inbox *Inbox) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := r.users[user]
	if sessions == nil {
		sessions = make(map[string]Entry)
		r.users[user] = sessions
	}
	id := sess.SessionID()
	if _, exists := sessions[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	sessions[id] = Entry{Session: sess, Inbox: inbox}

	r.logger.Debug("session registered",
		"user_id", user,
		"session_id", id,
		"user_sessions", len(sessions))
	return nil
}

// Unregister removes the matching session from the user's entry. Removing
// a session id that is not present is a no-op, so cancellation firing
// twice or racing a crash-triggered cleanup cannot corrupt state.
func (r *Registry) Unregister(user snowflake.ID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := r.users[user]
	if sessions == nil {
		return
	}
	if _, exists := sessions[sessionID]; !exists {
		return
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.users, user)
	}

	r.logger.Debug("session unregistered",
		"user_id", user,
		"session_id", sessionID)
}

// InboxesFor returns the inbox handles of every active session of the
// user. Zero, one, or many inboxes may be returned.
func (r *Registry) InboxesFor(user snowflake.ID) []*Inbox {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inboxesForLocked(user)
}

// InboxesForRole resolves the role through the role→users index and then
// through each member's sessions. Users without an active session
// contribute nothing.
func (r *Registry) InboxesForRole(role snowflake.ID) []*Inbox {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.roles[role]
	if len(members) == 0 {
		return nil
	}
	var inboxes []*Inbox
	for user := range members {
		inboxes = append(inboxes, r.inboxesForLocked(user)...)
	}
	return inboxes
}

func (r *Registry) inboxesForLocked(user snowflake.ID) []*Inbox {
	sessions := r.users[user]
	if len(sessions) == 0 {
		return nil
	}
	inboxes := make([]*Inbox, 0, len(sessions))
	for _, e := range sessions {
		inboxes = append(inboxes, e.Inbox)
	}
	return inboxes
}

// SessionCount returns the number of active sessions across all users.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, sessions := range r.users {
		n += len(sessions)
	}
	return n
}

// SeedRoles replaces the role→users index with a storage-backed snapshot.
// Called once at startup before the gateway accepts connections.
func (r *Registry) SeedRoles(snapshot map[snowflake.ID][]snowflake.ID) {
	roles := make(map[snowflake.ID]map[snowflake.ID]struct{}, len(snapshot))
	for role, members := range snapshot {
		set := make(map[snowflake.ID]struct{}, len(members))
		for _, user := range members {
			set[user] = struct{}{}
		}
		roles[role] = set
	}

	r.mu.Lock()
	r.roles = roles
	r.mu.Unlock()

	r.logger.Info("role-user index seeded", "roles", len(roles))
}

// UpdateRoleMembership applies an incremental membership change. Domain
// collaborators call it whenever a member gains or loses a role. Both
// directions are idempotent, and readers never observe a half-updated set.
func (r *Registry) UpdateRoleMembership(role, user snowflake.ID, added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if added {
		members := r.roles[role]
		if members == nil {
			members = make(map[snowflake.ID]struct{})
			r.roles[role] = members
		}
		members[user] = struct{}{}
	} else {
		members := r.roles[role]
		if members == nil {
			return
		}
		delete(members, user)
		if len(members) == 0 {
			delete(r.roles, role)
		}
	}
}

// RoleMembers returns the current members of a role. Primarily a read path
// for tests and diagnostics; fan-out goes through InboxesForRole.
func (r *Registry) RoleMembers(role snowflake.ID) []snowflake.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.roles[role]
	if len(members) == 0 {
		return nil
	}
	out := make([]snowflake.ID, 0, len(members))
	for user := range members {
		out = append(out, user)
	}
	return out
}
