package protocol

// Opcode identifies the operation carried by a gateway envelope.
// The numbering mirrors the well-known gateway protocol so existing
// client libraries can connect unchanged.
type Opcode int

const (
	OpDispatch       Opcode = 0  // Server → Client event notification
	OpHeartbeat      Opcode = 1  // Client → Server liveness ping
	OpIdentify       Opcode = 2  // Client → Server handshake
	OpResume         Opcode = 6  // Client → Server session resumption
	OpReconnect      Opcode = 7  // Server → Client reconnect request
	OpInvalidSession Opcode = 9  // Server → Client resume rejection
	OpHello          Opcode = 10 // Server → Client handshake opener
	OpHeartbeatAck   Opcode = 11 // Server → Client heartbeat acknowledgement
)

// String returns the string representation of the opcode.
func (op Opcode) String() string {
	switch op {
	case OpDispatch:
		return "Dispatch"
	case OpHeartbeat:
		return "Heartbeat"
	case OpIdentify:
		return "Identify"
	case OpResume:
		return "Resume"
	case OpReconnect:
		return "Reconnect"
	case OpInvalidSession:
		return "InvalidSession"
	case OpHello:
		return "Hello"
	case OpHeartbeatAck:
		return "HeartbeatAck"
	default:
		return "Unknown"
	}
}

// IsValid reports whether the opcode belongs to the protocol's operation space.
func (op Opcode) IsValid() bool {
	switch op {
	case OpDispatch, OpHeartbeat, OpIdentify, OpResume, OpReconnect,
		OpInvalidSession, OpHello, OpHeartbeatAck:
		return true
	default:
		return false
	}
}

// CloseCode is a WebSocket close status sent when a session terminates.
type CloseCode int

const (
	CloseNormal           CloseCode = 1000 // Clean shutdown
	CloseInternalError    CloseCode = 4000 // INTERNAL_SERVER_ERROR
	CloseUnknownOpcode    CloseCode = 4001 // UNKNOWN_OPCODE
	CloseDecodeError      CloseCode = 4002 // DECODE_ERROR
	CloseNotAuthenticated CloseCode = 4003 // NOT_AUTHENTICATED
	CloseAuthFailed       CloseCode = 4004 // AUTHENTICATION_FAILED
)

// Reason returns the protocol close reason string for the code.
func (c CloseCode) Reason() string {
	switch c {
	case CloseNormal:
		return "NORMAL"
	case CloseInternalError:
		return "INTERNAL_SERVER_ERROR"
	case CloseUnknownOpcode:
		return "UNKNOWN_OPCODE"
	case CloseDecodeError:
		return "DECODE_ERROR"
	case CloseNotAuthenticated:
		return "NOT_AUTHENTICATED"
	case CloseAuthFailed:
		return "AUTHENTICATION_FAILED"
	default:
		return "UNKNOWN"
	}
}
