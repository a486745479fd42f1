// Package gateway implements the real-time transport core: the WebSocket
// listener, the per-connection session state machine driving the
// Identify/Resume handshake, the heartbeat monitor that kills zombie
// connections, and the inbox processor delivering published events to the
// socket.
//
// Each session runs three cooperating goroutines — the inbound decode
// loop, the heartbeat monitor, and the inbox processor — all racing the
// session's cancellation context at every suspension point. A failure in
// any of them terminates only that session; sibling sessions and the
// shared registry are never affected beyond the session's own
// unregistration.
package gateway
