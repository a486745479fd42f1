package protocol

import (
	"bytes"
	"encoding/json"
)

// Decode classifies a raw frame into a typed Event. Classification reads
// the opcode first; for Dispatch it additionally resolves the event name
// into a concrete DispatchType. Decoding is total: every input yields an
// Event or an *UnexpectedOpcodeError / *UnexpectedMessageError, never a
// best-effort partial event.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, unexpectedMessage("malformed envelope: %v", err)
	}

	if !env.Op.IsValid() {
		return nil, &UnexpectedOpcodeError{Op: env.Op}
	}

	switch env.Op {
	case OpDispatch:
		if env.T == nil || *env.T == "" {
			return nil, unexpectedMessage("dispatch envelope missing event name")
		}
		dt := DispatchType(*env.T)
		if !dt.IsValid() {
			return nil, unexpectedMessage("unknown dispatch event %q", *env.T)
		}
		return Dispatch{Type: dt, Seq: env.S, Payload: env.D}, nil

	case OpHeartbeat:
		// The heartbeat payload is the client's last received sequence
		// number, or null.
		if len(env.D) == 0 || bytes.Equal(env.D, []byte("null")) {
			return Heartbeat{}, nil
		}
		var seq uint64
		if err := json.Unmarshal(env.D, &seq); err != nil {
			return nil, unexpectedMessage("heartbeat payload is not a sequence number: %v", err)
		}
		return Heartbeat{Seq: &seq}, nil

	case OpIdentify:
		var id Identify
		if err := strictUnmarshal(env.D, &id); err != nil {
			return nil, unexpectedMessage("identify payload: %v", err)
		}
		if id.Token == "" {
			return nil, unexpectedMessage("identify payload missing token")
		}
		return id, nil

	case OpResume:
		var res Resume
		if err := strictUnmarshal(env.D, &res); err != nil {
			return nil, unexpectedMessage("resume payload: %v", err)
		}
		if res.Token == "" || res.SessionID == "" {
			return nil, unexpectedMessage("resume payload missing token or session_id")
		}
		return res, nil

	case OpReconnect:
		return Reconnect{}, nil

	case OpInvalidSession:
		var resumable bool
		if len(env.D) > 0 && !bytes.Equal(env.D, []byte("null")) {
			if err := json.Unmarshal(env.D, &resumable); err != nil {
				return nil, unexpectedMessage("invalid-session payload: %v", err)
			}
		}
		return InvalidSession{Resumable: resumable}, nil

	case OpHello:
		var hello Hello
		if err := strictUnmarshal(env.D, &hello); err != nil {
			return nil, unexpectedMessage("hello payload: %v", err)
		}
		return hello, nil

	case OpHeartbeatAck:
		return HeartbeatAck{}, nil
	}

	// Unreachable: IsValid covered the full opcode space above.
	return nil, &UnexpectedOpcodeError{Op: env.Op}
}

// Encode serializes an event into its wire envelope. Encoding is pure and
// is the inverse of Decode for every variant.
func Encode(ev Event) ([]byte, error) {
	env := Envelope{Op: ev.Op()}

	switch e := ev.(type) {
	case Dispatch:
		name := string(e.Type)
		env.T = &name
		env.S = e.Seq
		env.D = e.Payload
	case Heartbeat:
		if e.Seq != nil {
			d, err := json.Marshal(*e.Seq)
			if err != nil {
				return nil, err
			}
			env.D = d
		}
	case Identify:
		d, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		env.D = d
	case Resume:
		d, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		env.D = d
	case InvalidSession:
		d, err := json.Marshal(e.Resumable)
		if err != nil {
			return nil, err
		}
		env.D = d
	case Hello:
		d, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		env.D = d
	case Reconnect, HeartbeatAck:
		// No payload.
	}

	return env.Marshal()
}

// strictUnmarshal decodes a required JSON payload, rejecting null, absent,
// or type-mismatched data.
func strictUnmarshal(d json.RawMessage, v any) error {
	if len(d) == 0 || bytes.Equal(d, []byte("null")) {
		return unexpectedMessage("missing payload")
	}
	return json.Unmarshal(d, v)
}
