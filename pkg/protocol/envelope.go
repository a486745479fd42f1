package protocol

import "encoding/json"

// Envelope is the wire-level record framing every gateway message.
//
// JSON shape:
//
//	{"op": 0, "d": {...}, "s": 42, "t": "MESSAGE_CREATE"}
//
// The sequence number s and event name t are only present on Dispatch
// envelopes; d may be null for opcodes that carry no payload.
type Envelope struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *uint64         `json:"s,omitempty"`
	T  *string         `json:"t,omitempty"`
}

// NewEnvelope builds an envelope with a marshaled payload.
func NewEnvelope(op Opcode, payload any) (Envelope, error) {
	env := Envelope{Op: op}
	if payload == nil {
		return env, nil
	}
	d, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.D = d
	return env, nil
}

// Marshal serializes the envelope to its wire form.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
