package protocol

import (
	"encoding/json"

	"github.com/bwmarrin/snowflake"
)

// Event is the closed union over the gateway's operation space.
// Exactly one concrete variant is active per decoded frame; Decode
// always yields a variant or a structured error, never a partial event.
type Event interface {
	// Op returns the opcode of the envelope this event travels in.
	Op() Opcode

	isEvent()
}

// DispatchType names the sub-event carried by a Dispatch envelope.
type DispatchType string

const (
	DispatchReady             DispatchType = "READY"
	DispatchResumed           DispatchType = "RESUMED"
	DispatchGuildCreate       DispatchType = "GUILD_CREATE"
	DispatchGuildUpdate       DispatchType = "GUILD_UPDATE"
	DispatchGuildDelete       DispatchType = "GUILD_DELETE"
	DispatchChannelCreate     DispatchType = "CHANNEL_CREATE"
	DispatchChannelUpdate     DispatchType = "CHANNEL_UPDATE"
	DispatchChannelDelete     DispatchType = "CHANNEL_DELETE"
	DispatchMessageCreate     DispatchType = "MESSAGE_CREATE"
	DispatchMessageUpdate     DispatchType = "MESSAGE_UPDATE"
	DispatchMessageDelete     DispatchType = "MESSAGE_DELETE"
	DispatchGuildMemberAdd    DispatchType = "GUILD_MEMBER_ADD"
	DispatchGuildMemberRemove DispatchType = "GUILD_MEMBER_REMOVE"
	DispatchGuildMemberUpdate DispatchType = "GUILD_MEMBER_UPDATE"
	DispatchGuildRoleCreate   DispatchType = "GUILD_ROLE_CREATE"
	DispatchGuildRoleUpdate   DispatchType = "GUILD_ROLE_UPDATE"
	DispatchGuildRoleDelete   DispatchType = "GUILD_ROLE_DELETE"
	DispatchPresenceUpdate    DispatchType = "PRESENCE_UPDATE"
	DispatchTypingStart       DispatchType = "TYPING_START"
)

// IsValid reports whether the dispatch type is part of the known event space.
func (dt DispatchType) IsValid() bool {
	switch dt {
	case DispatchReady, DispatchResumed,
		DispatchGuildCreate, DispatchGuildUpdate, DispatchGuildDelete,
		DispatchChannelCreate, DispatchChannelUpdate, DispatchChannelDelete,
		DispatchMessageCreate, DispatchMessageUpdate, DispatchMessageDelete,
		DispatchGuildMemberAdd, DispatchGuildMemberRemove, DispatchGuildMemberUpdate,
		DispatchGuildRoleCreate, DispatchGuildRoleUpdate, DispatchGuildRoleDelete,
		DispatchPresenceUpdate, DispatchTypingStart:
		return true
	default:
		return false
	}
}

// String returns the wire name of the dispatch type.
func (dt DispatchType) String() string { return string(dt) }

// Dispatch is a server-to-client notification of a domain state change.
// Clients never send Dispatch; receiving one from a client is a protocol
// violation.
type Dispatch struct {
	Type    DispatchType
	Seq     *uint64
	Payload json.RawMessage
}

func (Dispatch) Op() Opcode { return OpDispatch }
func (Dispatch) isEvent()   {}

// Heartbeat is the client's periodic liveness ping. Seq carries the last
// sequence number the client received, or nil if it has received none.
type Heartbeat struct {
	Seq *uint64
}

func (Heartbeat) Op() Opcode { return OpHeartbeat }
func (Heartbeat) isEvent()   {}

// HeartbeatAck acknowledges a Heartbeat.
type HeartbeatAck struct{}

func (HeartbeatAck) Op() Opcode { return OpHeartbeatAck }
func (HeartbeatAck) isEvent()   {}

// IdentifyProperties describes the connecting client.
type IdentifyProperties struct {
	OS      string `json:"os,omitempty"`
	Browser string `json:"browser,omitempty"`
	Device  string `json:"device,omitempty"`
}

// Identify authenticates a fresh connection.
type Identify struct {
	Token      string             `json:"token"`
	Properties IdentifyProperties `json:"properties,omitempty"`
	Intents    uint64             `json:"intents,omitempty"`
}

func (Identify) Op() Opcode { return OpIdentify }
func (Identify) isEvent()   {}

// Resume re-attaches a client to a previously established session.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       uint64 `json:"seq"`
}

func (Resume) Op() Opcode { return OpResume }
func (Resume) isEvent()   {}

// Reconnect instructs the client to disconnect and establish a new
// connection. Sent during graceful shutdown.
type Reconnect struct{}

func (Reconnect) Op() Opcode { return OpReconnect }
func (Reconnect) isEvent()   {}

// InvalidSession rejects a Resume. Resumable indicates whether the client
// may retry resuming or must re-Identify.
type InvalidSession struct {
	Resumable bool
}

func (InvalidSession) Op() Opcode { return OpInvalidSession }
func (InvalidSession) isEvent()   {}

// Hello opens the handshake and tells the client how often to heartbeat.
type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

func (Hello) Op() Opcode { return OpHello }
func (Hello) isEvent()   {}

// Version is the gateway protocol version reported in READY.
const Version = 9

// ReadyUser is the minimal user record carried in a READY dispatch.
type ReadyUser struct {
	ID snowflake.ID `json:"id"`
}

// Ready is the payload of the READY dispatch sent after a successful
// Identify.
type Ready struct {
	Version   int       `json:"v"`
	User      ReadyUser `json:"user"`
	SessionID string    `json:"session_id"`
}

// NewDispatch builds a Dispatch event with a marshaled payload.
func NewDispatch(dt DispatchType, payload any) (Dispatch, error) {
	d, err := json.Marshal(payload)
	if err != nil {
		return Dispatch{}, err
	}
	return Dispatch{Type: dt, Payload: d}, nil
}
