package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gorilla/websocket"

	"github.com/Zert3x/spacebar-gateway/pkg/protocol"
	"github.com/Zert3x/spacebar-gateway/pkg/registry"
)

// State is a session's position in its lifecycle.
type State int32

const (
	// StateConnecting covers the window between socket accept and Hello.
	StateConnecting State = iota
	// StateAwaitingIdentify means Hello was sent and the handshake is open.
	StateAwaitingIdentify
	// StateActive means the handshake completed and delivery is running.
	StateActive
	// StateClosing means cancellation fired; tasks are winding down.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

// String returns the state's name.
func (st State) String() string {
	switch st {
	case StateConnecting:
		return "Connecting"
	case StateAwaitingIdentify:
		return "AwaitingIdentify"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is one connected socket and the state machine driving it. After
// activation it owns three goroutines — readLoop, heartbeatMonitor, and
// inboxLoop — which share only the socket's write half (behind writeMu)
// and the cancellation context.
type Session struct {
	id        string
	userID    snowflake.ID
	createdAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex

	cfg     *SessionConfig
	reg     *registry.Registry
	metrics *Metrics
	logger  *slog.Logger

	state     atomic.Int32
	sendSeq   atomic.Uint64 // outbound dispatch sequence
	clientSeq atomic.Uint64 // highest sequence the client reported back
	activated atomic.Bool

	inbox *registry.Inbox

	// heartbeats forwards client heartbeats to the monitor; monitorDone
	// lets the read loop detect a dead monitor instead of hanging.
	heartbeats  chan protocol.Heartbeat
	monitorDone chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// onClose is invoked exactly once after teardown; the bool reports
	// whether the session is eligible for resumption.
	onClose func(*Session, bool)
}

// generateSessionID returns a cryptographically random session id.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}

func newSession(conn *websocket.Conn, cfg *SessionConfig, reg *registry.Registry, metrics *Metrics, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := generateSessionID()

	return &Session{
		id:          id,
		createdAt:   time.Now(),
		conn:        conn,
		cfg:         cfg,
		reg:         reg,
		metrics:     metrics,
		logger:      logger.With("session_id", id),
		heartbeats:  make(chan protocol.Heartbeat, 4),
		monitorDone: make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SessionID implements registry.SessionHandle.
func (s *Session) SessionID() string { return s.id }

// UserID implements registry.SessionHandle.
func (s *Session) UserID() snowflake.ID { return s.userID }

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Seq returns the last outbound dispatch sequence number.
func (s *Session) Seq() uint64 { return s.sendSeq.Load() }

// Done is closed when the session's cancellation signal fires.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// sendHello opens the handshake and moves the session to AwaitingIdentify.
func (s *Session) sendHello() error {
	if err := s.writeEvent(protocol.Hello{
		HeartbeatInterval: s.cfg.HeartbeatInterval.Milliseconds(),
	}); err != nil {
		return err
	}
	s.setState(StateAwaitingIdentify)
	return nil
}

// writeEvent encodes and writes one envelope under the write lock.
func (s *Session) writeEvent(ev protocol.Event) error {
	raw, err := protocol.Encode(ev)
	if err != nil {
		return &SessionError{SessionID: s.id, Op: "encode", Err: err}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() >= StateClosing {
		return ErrSessionClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

// sendDispatch assigns the next outbound sequence number (unless the
// publisher pinned one) and writes the dispatch envelope.
func (s *Session) sendDispatch(d protocol.Dispatch) error {
	if d.Seq == nil {
		seq := s.sendSeq.Add(1)
		d.Seq = &seq
	}
	return s.writeEvent(d)
}

// recordClientSeq keeps the client-reported sequence counter monotonic.
func (s *Session) recordClientSeq(seq *uint64) {
	if seq == nil {
		return
	}
	for {
		cur := s.clientSeq.Load()
		if *seq <= cur || s.clientSeq.CompareAndSwap(cur, *seq) {
			return
		}
	}
}

// start launches the session's three cooperating goroutines. Called once
// the handshake completes and the session is registered.
func (s *Session) start() {
	go s.readLoop()
	go s.heartbeatMonitor()
	go s.inboxLoop()
}

// readLoop decodes inbound frames and drives the Active state machine.
func (s *Session) readLoop() {
	defer s.recovered("read_loop")

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Debug("socket read failed", "error", err)
			s.close(0, "transport", true)
			return
		}

		ev, err := protocol.Decode(msg)
		if err != nil {
			s.closeOnDecodeError(err)
			return
		}

		switch e := ev.(type) {
		case protocol.Heartbeat:
			s.recordClientSeq(e.Seq)
			select {
			case s.heartbeats <- e:
			case <-s.monitorDone:
				// The monitor died; hanging here would zombify the
				// session without anyone noticing.
				s.logger.Warn("cannot forward heartbeat", "error", ErrMonitorUnreachable)
				s.close(protocol.CloseInternalError, "internal", false)
				return
			case <-s.ctx.Done():
				return
			}

		case protocol.Dispatch:
			// Dispatch is strictly server→client.
			s.logger.Debug("client sent a dispatch event")
			s.close(protocol.CloseDecodeError, "client_dispatch", false)
			return

		default:
			s.logger.Debug("opcode not valid post-handshake", "opcode", ev.Op().String())
			s.close(protocol.CloseUnknownOpcode, "unexpected_opcode", false)
			return
		}
	}
}

// inboxLoop delivers queued events to the socket in publish order.
func (s *Session) inboxLoop() {
	defer s.recovered("inbox_loop")

	for {
		ev, ok := s.inbox.Pop(s.ctx)
		if !ok {
			return
		}

		var err error
		if d, isDispatch := ev.(protocol.Dispatch); isDispatch {
			err = s.sendDispatch(d)
		} else {
			err = s.writeEvent(ev)
		}
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Debug("inbox delivery failed", "error", err)
				s.close(0, "transport", true)
			}
			return
		}
	}
}

// closeOnDecodeError maps the codec's error taxonomy onto close codes.
func (s *Session) closeOnDecodeError(err error) {
	var uo *protocol.UnexpectedOpcodeError
	if errors.As(err, &uo) {
		s.logger.Debug("unexpected opcode", "opcode", int(uo.Op))
		s.close(protocol.CloseUnknownOpcode, "unexpected_opcode", false)
		return
	}
	s.logger.Debug("frame decode failed", "error", err)
	s.close(protocol.CloseDecodeError, "decode_error", false)
}

// recovered converts a panic in a session goroutine into that session's
// termination only; sibling sessions keep running.
func (s *Session) recovered(task string) {
	if r := recover(); r != nil {
		s.logger.Error("session task panicked",
			"task", task,
			"panic", r,
			"stack", string(debug.Stack()))
		s.close(protocol.CloseInternalError, "panic", false)
	}
}

// close tears the session down exactly once: close frame (when code is
// non-zero), cancellation, socket close, inbox close, registry removal.
// Racing callers — a socket error and a heartbeat timeout firing
// together — collapse into a single teardown.
func (s *Session) close(code protocol.CloseCode, reason string, resumable bool) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)

		if code != 0 {
			msg := websocket.FormatCloseMessage(int(code), code.Reason())
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			s.writeMu.Lock()
			s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			s.writeMu.Unlock()
		}

		s.cancel()
		s.conn.Close()
		if s.inbox != nil {
			s.inbox.Close()
		}

		if s.activated.Load() {
			s.reg.Unregister(s.userID, s.id)
			s.metrics.sessionClosed(reason)
		}
		s.setState(StateClosed)

		s.logger.Info("session closed",
			"close_code", int(code),
			"reason", reason,
			"resumable", resumable)

		if s.onClose != nil {
			s.onClose(s, resumable)
		}
	})
}

// Kill raises the session's cancellation from outside the session's own
// goroutines, closing the socket with an internal-error code.
func (s *Session) Kill() {
	s.close(protocol.CloseInternalError, "killed", false)
}
