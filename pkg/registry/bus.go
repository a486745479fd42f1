package registry

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zert3x/spacebar-gateway/pkg/protocol"
)

// ScopeKind selects the addressing mode of a published event. The kind
// space is open ended; new delivery scopes extend it without touching the
// publish path's callers.
type ScopeKind uint8

const (
	// ScopeUser addresses every active session of one user.
	ScopeUser ScopeKind = iota
	// ScopeRole addresses every user currently holding a role.
	ScopeRole
	// ScopeGuild addresses a whole guild through its everyone-role, whose
	// identity equals the guild's.
	ScopeGuild
)

// String returns the scope kind's name.
func (k ScopeKind) String() string {
	switch k {
	case ScopeUser:
		return "user"
	case ScopeRole:
		return "role"
	case ScopeGuild:
		return "guild"
	default:
		return "unknown"
	}
}

// Scope is the addressing target of a published event.
type Scope struct {
	Kind ScopeKind
	ID   snowflake.ID
}

// UserScope addresses a single user across all their devices.
func UserScope(id snowflake.ID) Scope { return Scope{Kind: ScopeUser, ID: id} }

// RoleScope addresses the holders of a role.
func RoleScope(id snowflake.ID) Scope { return Scope{Kind: ScopeRole, ID: id} }

// GuildScope addresses a whole guild.
func GuildScope(id snowflake.ID) Scope { return Scope{Kind: ScopeGuild, ID: id} }

// Bus is the publish half of the fan-out substrate. Domain collaborators
// publish events into it; the bus resolves recipients through the registry
// and enqueues onto each recipient's inbox. Enqueue is fire-and-forget: a
// slow consumer never stalls the publisher or the other recipients.
type Bus struct {
	reg     *Registry
	tracer  trace.Tracer
	metrics *BusMetrics
	logger  *slog.Logger
}

// NewBus creates a bus over the given registry. metrics may be nil to
// disable instrumentation (tests).
func NewBus(reg *Registry, metrics *BusMetrics, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		reg:     reg,
		tracer:  otel.Tracer("gateway"),
		metrics: metrics,
		logger:  logger.With("component", "event_bus"),
	}
}

// Publish fans an event out to every recipient the scope currently
// resolves to, and returns the number of inboxes reached. Recipients with
// a full inbox lose their oldest queued event rather than delaying anyone
// else.
func (b *Bus) Publish(ctx context.Context, scope Scope, ev protocol.Event) int {
	_, span := b.tracer.Start(ctx, "bus.publish")
	defer span.End()

	var inboxes []*Inbox
	switch scope.Kind {
	case ScopeUser:
		inboxes = b.reg.InboxesFor(scope.ID)
	case ScopeRole, ScopeGuild:
		// A guild's everyone-role shares the guild's identity, so both
		// kinds resolve through the role index.
		inboxes = b.reg.InboxesForRole(scope.ID)
	default:
		b.logger.Warn("publish with unknown scope kind", "kind", uint8(scope.Kind))
	}

	dropped := 0
	for _, inbox := range inboxes {
		if inbox.Push(ev) {
			dropped++
		}
	}

	span.SetAttributes(
		attribute.String("scope.kind", scope.Kind.String()),
		attribute.Int("recipients", len(inboxes)),
		attribute.Int("dropped", dropped),
	)
	if b.metrics != nil {
		b.metrics.observePublish(scope.Kind, len(inboxes), dropped)
	}
	if dropped > 0 {
		b.logger.Debug("events dropped for saturated inboxes",
			"scope_kind", scope.Kind.String(),
			"scope_id", scope.ID,
			"dropped", dropped)
	}
	return len(inboxes)
}
