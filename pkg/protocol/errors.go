package protocol

import "fmt"

// UnexpectedOpcodeError reports a frame whose opcode is outside the
// protocol's operation space, or an opcode the current session state does
// not allow. Sessions close with CloseUnknownOpcode on this error.
type UnexpectedOpcodeError struct {
	Op Opcode
}

func (e *UnexpectedOpcodeError) Error() string {
	return fmt.Sprintf("protocol: unexpected opcode %d (%s)", int(e.Op), e.Op)
}

// UnexpectedMessageError reports a structurally invalid frame: malformed
// JSON, a missing required field, or a payload of the wrong shape.
// Sessions close with CloseDecodeError on this error.
type UnexpectedMessageError struct {
	Reason string
}

func (e *UnexpectedMessageError) Error() string {
	return "protocol: unexpected message: " + e.Reason
}

func unexpectedMessage(format string, args ...any) error {
	return &UnexpectedMessageError{Reason: fmt.Sprintf(format, args...)}
}
