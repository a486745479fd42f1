// Package protocol implements the gateway wire codec: the JSON envelope
// framing every message, the opcode and close-code spaces, and the typed
// event union that classification produces.
//
// The package is pure. Decode and Encode hold no shared state and are safe
// for concurrent use; session and delivery concerns live in pkg/gateway
// and pkg/registry.
//
// # Wire format
//
// Every message is a JSON envelope:
//
//	{"op": <opcode>, "d": <payload|null>, "s": <seq|null>, "t": <name|null>}
//
// The sequence number and event name are present only on Dispatch (op 0)
// envelopes, which the server sends and clients must never send.
package protocol
