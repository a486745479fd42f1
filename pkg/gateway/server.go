package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Zert3x/spacebar-gateway/pkg/protocol"
	"github.com/Zert3x/spacebar-gateway/pkg/registry"
)

// Authenticator resolves an Identify or Resume token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (snowflake.ID, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, token string) (snowflake.ID, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (snowflake.ID, error) {
	return f(ctx, token)
}

// detachedSession is the resumable remnant of a closed session. It holds
// just enough to re-authenticate a Resume and continue the dispatch
// sequence; entries expire after the configured resume window.
type detachedSession struct {
	userID    snowflake.ID
	seq       uint64
	expiresAt time.Time
}

// Server accepts websocket connections, runs the identify/resume
// handshake, and hands authenticated sessions to the registry.
type Server struct {
	cfg     *ServerConfig
	reg     *registry.Registry
	bus     *registry.Bus
	auth    Authenticator
	metrics *Metrics
	logger  *slog.Logger

	upgrader   websocket.Upgrader
	router     chi.Router
	httpServer *http.Server

	mu       sync.Mutex
	sessions map[string]*Session
	detached map[string]detachedSession
}

// NewServer wires the HTTP surface around the given registry and
// authenticator. Passing a nil config uses DefaultServerConfig.
func NewServer(cfg *ServerConfig, reg *registry.Registry, auth Authenticator, metrics *Metrics, logger *slog.Logger) *Server {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		reg:     reg,
		bus:     registry.NewBus(reg, cfg.BusMetrics, logger),
		auth:    auth,
		metrics: metrics,
		logger:  logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		sessions: make(map[string]*Session),
		detached: make(map[string]detachedSession),
	}

	r := chi.NewRouter()
	for _, mw := range cfg.Middlewares {
		r.Use(mw)
	}
	r.Get("/", s.handleConnection)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/publish", s.handlePublish)
	r.Put("/roles/{roleID}/members/{userID}", s.handleRoleMemberPut)
	r.Delete("/roles/{roleID}/members/{userID}", s.handleRoleMemberDelete)
	s.router = r

	s.httpServer = &http.Server{
		Addr:    cfg.Address,
		Handler: r,
	}
	return s
}

// Handler exposes the server's router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleConnection upgrades the socket and runs the handshake inline;
// the session's own goroutines take over once it activates.
func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	sess := newSession(conn, s.cfg.Session, s.reg, s.metrics, s.logger)

	if err := sess.sendHello(); err != nil {
		s.logger.Debug("hello failed", "error", err)
		sess.close(0, "transport", false)
		return
	}

	s.handshake(r.Context(), sess)
}

// handshake awaits the client's first frame and routes it. Only Identify
// and Resume are legal here.
func (s *Server) handshake(ctx context.Context, sess *Session) {
	sess.conn.SetReadDeadline(time.Now().Add(s.cfg.Session.HandshakeTimeout))
	_, msg, err := sess.conn.ReadMessage()
	if err != nil {
		sess.logger.Debug("handshake abandoned", "error", ErrHandshakeTimeout, "cause", err)
		sess.close(0, "handshake_timeout", false)
		return
	}

	ev, err := protocol.Decode(msg)
	if err != nil {
		sess.closeOnDecodeError(err)
		return
	}

	switch e := ev.(type) {
	case protocol.Identify:
		s.identify(ctx, sess, e)
	case protocol.Resume:
		s.resume(ctx, sess, e)
	case protocol.Heartbeat:
		sess.logger.Debug("heartbeat before identify")
		sess.close(protocol.CloseNotAuthenticated, "not_authenticated", false)
	default:
		sess.logger.Debug("opcode not valid during handshake", "opcode", ev.Op().String())
		sess.close(protocol.CloseUnknownOpcode, "unexpected_opcode", false)
	}
}

func (s *Server) identify(ctx context.Context, sess *Session, id protocol.Identify) {
	userID, err := s.auth.Authenticate(ctx, id.Token)
	if err != nil {
		sess.logger.Info("identify rejected", "error", err)
		sess.close(protocol.CloseAuthFailed, "auth_failed", false)
		return
	}
	sess.userID = userID

	if err := s.activate(sess); err != nil {
		return
	}

	ready, err := protocol.NewDispatch(protocol.DispatchReady, protocol.Ready{
		Version:   protocol.Version,
		User:      protocol.ReadyUser{ID: userID},
		SessionID: sess.id,
	})
	if err != nil {
		sess.logger.Error("ready payload encode failed", "error", err)
		sess.close(protocol.CloseInternalError, "internal", false)
		return
	}
	if err := sess.sendDispatch(ready); err != nil {
		sess.close(0, "transport", true)
		return
	}

	sess.logger.Info("session identified", "user_id", userID.String())
	sess.start()
}

func (s *Server) resume(ctx context.Context, sess *Session, res protocol.Resume) {
	userID, err := s.auth.Authenticate(ctx, res.Token)
	if err != nil {
		sess.logger.Info("resume rejected", "error", err)
		sess.close(protocol.CloseAuthFailed, "auth_failed", false)
		return
	}

	det, ok := s.takeDetached(res.SessionID)
	if !ok || det.userID != userID {
		// Not resumable: tell the client to start over with a fresh
		// Identify rather than slamming the socket.
		sess.logger.Info("resume rejected", "error", ErrSessionNotResumable, "resume_session_id", res.SessionID)
		sess.writeEvent(protocol.InvalidSession{Resumable: false})
		sess.close(protocol.CloseNormal, "invalid_session", false)
		return
	}

	// Adopt the old identity and continue its dispatch sequence.
	sess.id = res.SessionID
	sess.logger = s.logger.With("session_id", sess.id)
	sess.userID = userID
	sess.sendSeq.Store(det.seq)
	sess.clientSeq.Store(res.Seq)

	if err := s.activate(sess); err != nil {
		return
	}

	resumed, err := protocol.NewDispatch(protocol.DispatchResumed, struct{}{})
	if err != nil {
		sess.logger.Error("resumed payload encode failed", "error", err)
		sess.close(protocol.CloseInternalError, "internal", false)
		return
	}
	if err := sess.sendDispatch(resumed); err != nil {
		sess.close(0, "transport", true)
		return
	}

	s.metrics.sessionResumed()
	sess.logger.Info("session resumed", "user_id", userID.String(), "seq", det.seq)
	sess.start()
}

// activate registers the session, attaches its inbox, and installs the
// teardown hook. The session is visible to publishers from here on.
func (s *Server) activate(sess *Session) error {
	sess.inbox = registry.NewInbox(s.cfg.Session.InboxCapacity, s.cfg.Session.SaturationLimit)
	sess.inbox.OnSaturated(func() {
		sess.logger.Warn("inbox saturated, dropping session")
		sess.close(protocol.CloseInternalError, "saturated", false)
	})
	sess.onClose = s.sessionClosed

	if err := s.reg.Register(sess.userID, sess, sess.inbox); err != nil {
		if errors.Is(err, registry.ErrDuplicateSession) {
			sess.logger.Error("session id collision", "session_id", sess.id)
		}
		sess.close(protocol.CloseInternalError, "internal", false)
		return err
	}
	sess.activated.Store(true)
	sess.setState(StateActive)

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.metrics.sessionOpened()
	return nil
}

// sessionClosed runs once per session after teardown. Resumable closes
// leave a detached remnant behind for the resume window.
func (s *Server) sessionClosed(sess *Session, resumable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sess.id)
	if resumable && s.cfg.Session.ResumeWindow > 0 {
		s.detached[sess.id] = detachedSession{
			userID:    sess.userID,
			seq:       sess.sendSeq.Load(),
			expiresAt: time.Now().Add(s.cfg.Session.ResumeWindow),
		}
	}
}

// takeDetached claims a detached remnant, removing it so a session id can
// only be resumed once.
func (s *Server) takeDetached(id string) (detachedSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	det, ok := s.detached[id]
	if !ok {
		return detachedSession{}, false
	}
	delete(s.detached, id)
	if time.Now().After(det.expiresAt) {
		return detachedSession{}, false
	}
	return det, true
}

// cleanupLoop prunes expired detached sessions.
func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for id, det := range s.detached {
				if now.After(det.expiresAt) {
					delete(s.detached, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.cleanupLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "address", s.cfg.Address)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown asks every connected client to reconnect, closes their
// sessions, and stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("gateway shutting down")

	s.mu.Lock()
	live := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		sess.writeEvent(protocol.Reconnect{})
		sess.close(protocol.CloseNormal, "shutdown", true)
	}

	return s.httpServer.Shutdown(ctx)
}

// SessionCount reports the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
