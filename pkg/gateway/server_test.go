package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gorilla/websocket"

	"github.com/Zert3x/spacebar-gateway/pkg/protocol"
	"github.com/Zert3x/spacebar-gateway/pkg/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	aliceToken = "tok-alice"
	bobToken   = "tok-bob"
)

var (
	aliceID = snowflake.ID(100)
	bobID   = snowflake.ID(200)
)

func testAuth() Authenticator {
	return AuthenticatorFunc(func(_ context.Context, token string) (snowflake.ID, error) {
		switch token {
		case aliceToken:
			return aliceID, nil
		case bobToken:
			return bobID, nil
		default:
			return 0, ErrAuthenticationFailed
		}
	})
}

func newTestGateway(t *testing.T, mutate func(*ServerConfig)) (*Server, *registry.Registry, string) {
	t.Helper()

	reg := registry.New(testLogger())
	cfg := DefaultServerConfig()
	if mutate != nil {
		mutate(cfg)
	}
	srv := NewServer(cfg, reg, testAuth(), nil, testLogger())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return srv, reg, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// expectClose reads until the peer closes the socket and asserts the
// close code.
func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("expected close error, got %v", err)
		}
		if ce.Code != code {
			t.Fatalf("close code = %d, want %d", ce.Code, code)
		}
		return
	}
}

// identify dials, completes the handshake, and returns the connection
// along with the READY payload.
func identify(t *testing.T, url, token string) (*websocket.Conn, protocol.Ready) {
	t.Helper()

	conn := dial(t, url)
	readEnvelope(t, conn) // Hello

	send(t, conn, `{"op":2,"d":{"token":"`+token+`"}}`)
	env := readEnvelope(t, conn)
	if env.Op != protocol.OpDispatch || env.T == nil || *env.T != "READY" {
		t.Fatalf("expected READY dispatch, got op=%d t=%v", env.Op, env.T)
	}
	var ready protocol.Ready
	if err := json.Unmarshal(env.D, &ready); err != nil {
		t.Fatalf("unmarshal READY: %v", err)
	}
	return conn, ready
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHandshakeHello(t *testing.T) {
	_, _, url := newTestGateway(t, nil)
	conn := dial(t, url)

	env := readEnvelope(t, conn)
	if env.Op != protocol.OpHello {
		t.Fatalf("first frame op = %d, want %d", env.Op, protocol.OpHello)
	}
	var hello protocol.Hello
	if err := json.Unmarshal(env.D, &hello); err != nil {
		t.Fatalf("unmarshal hello: %v", err)
	}
	if hello.HeartbeatInterval <= 0 {
		t.Fatalf("heartbeat_interval = %d, want > 0", hello.HeartbeatInterval)
	}
}

func TestIdentifyReady(t *testing.T) {
	_, reg, url := newTestGateway(t, nil)
	_, ready := identify(t, url, aliceToken)

	if ready.SessionID == "" {
		t.Fatal("READY carried empty session_id")
	}
	if ready.User.ID != aliceID {
		t.Fatalf("READY user = %s, want %s", ready.User.ID, aliceID)
	}
	if got := reg.SessionCount(); got != 1 {
		t.Fatalf("SessionCount() = %d, want 1", got)
	}
}

func TestIdentifyBadToken(t *testing.T) {
	_, _, url := newTestGateway(t, nil)
	conn := dial(t, url)
	readEnvelope(t, conn)

	send(t, conn, `{"op":2,"d":{"token":"nope"}}`)
	expectClose(t, conn, int(protocol.CloseAuthFailed))
}

func TestHeartbeatAck(t *testing.T) {
	_, _, url := newTestGateway(t, nil)
	conn, _ := identify(t, url, aliceToken)

	send(t, conn, `{"op":1,"d":1}`)
	env := readEnvelope(t, conn)
	if env.Op != protocol.OpHeartbeatAck {
		t.Fatalf("op = %d, want %d", env.Op, protocol.OpHeartbeatAck)
	}

	// A null heartbeat payload is legal too.
	send(t, conn, `{"op":1,"d":null}`)
	env = readEnvelope(t, conn)
	if env.Op != protocol.OpHeartbeatAck {
		t.Fatalf("op = %d, want %d", env.Op, protocol.OpHeartbeatAck)
	}
}

func TestHeartbeatBeforeIdentify(t *testing.T) {
	_, _, url := newTestGateway(t, nil)
	conn := dial(t, url)
	readEnvelope(t, conn)

	send(t, conn, `{"op":1,"d":null}`)
	expectClose(t, conn, int(protocol.CloseNotAuthenticated))
}

func TestClientDispatchRejected(t *testing.T) {
	_, _, url := newTestGateway(t, nil)
	conn, _ := identify(t, url, aliceToken)

	send(t, conn, `{"op":0,"t":"MESSAGE_CREATE","d":{}}`)
	expectClose(t, conn, int(protocol.CloseDecodeError))
}

func TestIdentifyTwice(t *testing.T) {
	_, _, url := newTestGateway(t, nil)
	conn, _ := identify(t, url, aliceToken)

	send(t, conn, `{"op":2,"d":{"token":"`+aliceToken+`"}}`)
	expectClose(t, conn, int(protocol.CloseUnknownOpcode))
}

func TestUnknownOpcode(t *testing.T) {
	_, _, url := newTestGateway(t, nil)
	conn := dial(t, url)
	readEnvelope(t, conn)

	send(t, conn, `{"op":42}`)
	expectClose(t, conn, int(protocol.CloseUnknownOpcode))
}

func TestMalformedFrame(t *testing.T) {
	_, _, url := newTestGateway(t, nil)
	conn := dial(t, url)
	readEnvelope(t, conn)

	send(t, conn, `this is not json`)
	expectClose(t, conn, int(protocol.CloseDecodeError))
}

func TestPublishDelivery(t *testing.T) {
	_, reg, url := newTestGateway(t, nil)
	conn, _ := identify(t, url, aliceToken)

	bus := registry.NewBus(reg, nil, testLogger())
	d, err := protocol.NewDispatch(protocol.DispatchMessageCreate, map[string]string{"content": "hi"})
	if err != nil {
		t.Fatalf("NewDispatch: %v", err)
	}
	if n := bus.Publish(context.Background(), registry.UserScope(aliceID), d); n != 1 {
		t.Fatalf("Publish recipients = %d, want 1", n)
	}

	env := readEnvelope(t, conn)
	if env.T == nil || *env.T != "MESSAGE_CREATE" {
		t.Fatalf("dispatch t = %v, want MESSAGE_CREATE", env.T)
	}
	// READY was seq 1, so the first published dispatch is seq 2.
	if env.S == nil || *env.S != 2 {
		t.Fatalf("dispatch s = %v, want 2", env.S)
	}
}

func TestMultiDeviceFanout(t *testing.T) {
	_, reg, url := newTestGateway(t, nil)
	connA, _ := identify(t, url, aliceToken)
	connB, _ := identify(t, url, aliceToken)
	connOther, _ := identify(t, url, bobToken)

	bus := registry.NewBus(reg, nil, testLogger())
	d, _ := protocol.NewDispatch(protocol.DispatchTypingStart, map[string]string{"channel_id": "5"})
	if n := bus.Publish(context.Background(), registry.UserScope(aliceID), d); n != 2 {
		t.Fatalf("Publish recipients = %d, want 2", n)
	}

	for _, conn := range []*websocket.Conn{connA, connB} {
		env := readEnvelope(t, conn)
		if env.T == nil || *env.T != "TYPING_START" {
			t.Fatalf("dispatch t = %v, want TYPING_START", env.T)
		}
	}

	// Bob must not see Alice's event.
	connOther.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := connOther.ReadMessage(); err == nil {
		t.Fatal("unrelated session received the dispatch")
	}
}

func TestRegistryCleanupOnDisconnect(t *testing.T) {
	_, reg, url := newTestGateway(t, nil)
	conn, _ := identify(t, url, aliceToken)

	conn.Close()
	waitFor(t, func() bool { return reg.SessionCount() == 0 }, "session never left the registry")
}

func TestZombieTimeout(t *testing.T) {
	srv, reg, url := newTestGateway(t, func(cfg *ServerConfig) {
		cfg.Session.HeartbeatInterval = 50 * time.Millisecond
	})
	conn, _ := identify(t, url, aliceToken)

	// Never heartbeat; the monitor must drop the connection.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the server to drop a silent session")
	}
	waitFor(t, func() bool { return reg.SessionCount() == 0 }, "zombie never left the registry")
	waitFor(t, func() bool { return srv.SessionCount() == 0 }, "zombie still tracked by server")
}

func TestSaturationCancelsOnlyStalledSession(t *testing.T) {
	srv, reg, url := newTestGateway(t, func(cfg *ServerConfig) {
		cfg.Session.InboxCapacity = 1
		cfg.Session.SaturationLimit = 2
		cfg.Session.WriteTimeout = 500 * time.Millisecond
	})
	// This client never reads again, so its inbox processor eventually
	// blocks on the clogged socket and the inbox saturates.
	_, _ = identify(t, url, aliceToken)
	healthy, _ := identify(t, url, bobToken)

	bus := registry.NewBus(reg, nil, testLogger())
	d, err := protocol.NewDispatch(protocol.DispatchMessageCreate,
		map[string]string{"content": strings.Repeat("x", 64<<10)})
	if err != nil {
		t.Fatalf("NewDispatch: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for reg.SessionCount() == 2 && time.Now().Before(deadline) {
		bus.Publish(context.Background(), registry.UserScope(aliceID), d)
		time.Sleep(time.Millisecond)
	}
	if got := reg.SessionCount(); got != 1 {
		t.Fatalf("SessionCount() = %d, want 1 after saturation", got)
	}
	waitFor(t, func() bool { return srv.SessionCount() == 1 }, "stalled session still tracked by server")

	// The sibling stays fully functional.
	send(t, healthy, `{"op":1,"d":null}`)
	env := readEnvelope(t, healthy)
	if env.Op != protocol.OpHeartbeatAck {
		t.Fatalf("surviving session op = %d, want %d", env.Op, protocol.OpHeartbeatAck)
	}
	if n := bus.Publish(context.Background(), registry.UserScope(bobID), d); n != 1 {
		t.Fatalf("Publish to sibling = %d recipients, want 1", n)
	}
	env = readEnvelope(t, healthy)
	if env.T == nil || *env.T != "MESSAGE_CREATE" {
		t.Fatalf("sibling dispatch t = %v, want MESSAGE_CREATE", env.T)
	}
}

func TestResume(t *testing.T) {
	_, reg, url := newTestGateway(t, nil)
	conn, ready := identify(t, url, aliceToken)

	conn.Close()
	waitFor(t, func() bool { return reg.SessionCount() == 0 }, "session never detached")

	conn2 := dial(t, url)
	readEnvelope(t, conn2) // Hello
	send(t, conn2, `{"op":6,"d":{"token":"`+aliceToken+`","session_id":"`+ready.SessionID+`","seq":1}}`)

	env := readEnvelope(t, conn2)
	if env.T == nil || *env.T != "RESUMED" {
		t.Fatalf("expected RESUMED dispatch, got op=%d t=%v", env.Op, env.T)
	}
	// The dispatch sequence continues where the old session left off.
	if env.S == nil || *env.S != 2 {
		t.Fatalf("RESUMED s = %v, want 2", env.S)
	}

	// The resumed session is addressable again.
	bus := registry.NewBus(reg, nil, testLogger())
	d, _ := protocol.NewDispatch(protocol.DispatchMessageCreate, map[string]string{"content": "again"})
	if n := bus.Publish(context.Background(), registry.UserScope(aliceID), d); n != 1 {
		t.Fatalf("Publish recipients = %d, want 1", n)
	}
	env = readEnvelope(t, conn2)
	if env.S == nil || *env.S != 3 {
		t.Fatalf("post-resume s = %v, want 3", env.S)
	}
}

func TestResumeUnknownSession(t *testing.T) {
	_, _, url := newTestGateway(t, nil)
	conn := dial(t, url)
	readEnvelope(t, conn)

	send(t, conn, `{"op":6,"d":{"token":"`+aliceToken+`","session_id":"deadbeef","seq":0}}`)

	env := readEnvelope(t, conn)
	if env.Op != protocol.OpInvalidSession {
		t.Fatalf("op = %d, want %d", env.Op, protocol.OpInvalidSession)
	}
	expectClose(t, conn, int(protocol.CloseNormal))
}

func TestResumeWrongUser(t *testing.T) {
	_, reg, url := newTestGateway(t, nil)
	conn, ready := identify(t, url, aliceToken)

	conn.Close()
	waitFor(t, func() bool { return reg.SessionCount() == 0 }, "session never detached")

	conn2 := dial(t, url)
	readEnvelope(t, conn2)
	send(t, conn2, `{"op":6,"d":{"token":"`+bobToken+`","session_id":"`+ready.SessionID+`","seq":1}}`)

	env := readEnvelope(t, conn2)
	if env.Op != protocol.OpInvalidSession {
		t.Fatalf("op = %d, want %d", env.Op, protocol.OpInvalidSession)
	}
}

func TestShutdownReconnect(t *testing.T) {
	srv, _, url := newTestGateway(t, nil)
	conn, _ := identify(t, url, aliceToken)

	go srv.Shutdown(context.Background())

	env := readEnvelope(t, conn)
	if env.Op != protocol.OpReconnect {
		t.Fatalf("op = %d, want %d", env.Op, protocol.OpReconnect)
	}
	expectClose(t, conn, int(protocol.CloseNormal))
}

func TestHandshakeTimeout(t *testing.T) {
	_, _, url := newTestGateway(t, func(cfg *ServerConfig) {
		cfg.Session.HandshakeTimeout = 50 * time.Millisecond
	})
	conn := dial(t, url)
	readEnvelope(t, conn)

	// Send nothing; the server must abandon the handshake.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the server to drop an idle handshake")
	}
}

func httpURL(wsURL string) string {
	return "http" + strings.TrimPrefix(wsURL, "ws")
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPublishEndpoint(t *testing.T) {
	_, _, url := newTestGateway(t, nil)
	conn, _ := identify(t, url, aliceToken)

	body := `{"scope":{"kind":"user","id":"` + aliceID.String() + `"},"type":"MESSAGE_CREATE","payload":{"content":"hi"}}`
	resp := postJSON(t, httpURL(url)+"/publish", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var pr struct {
		Recipients int `json:"recipients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if pr.Recipients != 1 {
		t.Fatalf("recipients = %d, want 1", pr.Recipients)
	}

	env := readEnvelope(t, conn)
	if env.T == nil || *env.T != "MESSAGE_CREATE" {
		t.Fatalf("dispatch t = %v, want MESSAGE_CREATE", env.T)
	}
}

func TestPublishEndpointRejectsBadInput(t *testing.T) {
	_, _, url := newTestGateway(t, nil)

	for name, body := range map[string]string{
		"bad scope kind":    `{"scope":{"kind":"planet","id":"1"},"type":"MESSAGE_CREATE","payload":{}}`,
		"bad dispatch type": `{"scope":{"kind":"user","id":"1"},"type":"NOT_A_THING","payload":{}}`,
		"not json":          `nope`,
	} {
		resp := postJSON(t, httpURL(url)+"/publish", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}
}

func TestRoleMembershipEndpoints(t *testing.T) {
	_, _, url := newTestGateway(t, nil)
	conn, _ := identify(t, url, aliceToken)

	roleID := snowflake.ID(777)
	memberURL := httpURL(url) + "/roles/" + roleID.String() + "/members/" + aliceID.String()

	req, _ := http.NewRequest(http.MethodPut, memberURL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT role member: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("PUT status = %d, want 204", resp.StatusCode)
	}

	body := `{"scope":{"kind":"role","id":"` + roleID.String() + `"},"type":"GUILD_ROLE_UPDATE","payload":{}}`
	resp = postJSON(t, httpURL(url)+"/publish", body)
	var pr struct {
		Recipients int `json:"recipients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if pr.Recipients != 1 {
		t.Fatalf("recipients after PUT = %d, want 1", pr.Recipients)
	}
	readEnvelope(t, conn)

	req, _ = http.NewRequest(http.MethodDelete, memberURL, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE role member: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", resp.StatusCode)
	}

	resp = postJSON(t, httpURL(url)+"/publish", body)
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if pr.Recipients != 0 {
		t.Fatalf("recipients after DELETE = %d, want 0", pr.Recipients)
	}
}

func TestConcurrentSessionsIsolated(t *testing.T) {
	_, reg, url := newTestGateway(t, nil)

	conns := make([]*websocket.Conn, 0, 4)
	for i := 0; i < 4; i++ {
		token := aliceToken
		if i%2 == 1 {
			token = bobToken
		}
		conn, _ := identify(t, url, token)
		conns = append(conns, conn)
	}
	if got := reg.SessionCount(); got != 4 {
		t.Fatalf("SessionCount() = %d, want 4", got)
	}

	// Killing one connection leaves the rest untouched.
	conns[0].Close()
	waitFor(t, func() bool { return reg.SessionCount() == 3 }, "closed session never unregistered")

	send(t, conns[1], `{"op":1,"d":null}`)
	env := readEnvelope(t, conns[1])
	if env.Op != protocol.OpHeartbeatAck {
		t.Fatalf("surviving session op = %d, want %d", env.Op, protocol.OpHeartbeatAck)
	}
}
