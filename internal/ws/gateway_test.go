package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pulseapp/pulse/internal/auth"
	"github.com/pulseapp/pulse/internal/channels"
	"github.com/pulseapp/pulse/internal/chat"
	"github.com/pulseapp/pulse/internal/identity"
	"github.com/pulseapp/pulse/internal/presence"
	"github.com/pulseapp/pulse/internal/ws/event"
)

type fakeVerifier struct {
	idents map[string]identity.Identity
}

func (f *fakeVerifier) Verify(_ context.Context, token string) (identity.Identity, error) {
	if ident, ok := f.idents[token]; ok {
		return ident, nil
	}
	return identity.Identity{}, auth.ErrAuthenticationFailed
}

type fakeMembership struct {
	members map[string][]string
}

func (f *fakeMembership) IsParticipant(_ context.Context, conversationID, identityID string) (bool, error) {
	for _, id := range f.members[conversationID] {
		if id == identityID {
			return true, nil
		}
	}
	return false, nil
}

type fakeChat struct {
	mu    sync.Mutex
	sends []chat.SendInput
	reads []string
	err   error
}

func (f *fakeChat) Send(_ context.Context, in chat.SendInput) (chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return chat.Message{}, f.err
	}
	f.sends = append(f.sends, in)
	return chat.Message{ID: "m1", ConversationID: in.ConversationID, SenderID: in.SenderID, Body: in.Body}, nil
}

func (f *fakeChat) MarkRead(_ context.Context, readerID, conversationID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.reads = append(f.reads, readerID+":"+conversationID)
	return []string{"m1"}, nil
}

func (f *fakeChat) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeChat) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads)
}

type fakeFriends struct {
	friends map[string][]string
}

func (f *fakeFriends) FriendIDs(_ context.Context, userID string) ([]string, error) {
	return f.friends[userID], nil
}

type harness struct {
	gateway  *Gateway
	registry *presence.Registry
	router   *channels.Router
	chats    *fakeChat
	srv      *httptest.Server
}

func newHarness(t *testing.T, opts Options, membership *fakeMembership, friends *fakeFriends) *harness {
	t.Helper()
	if opts.ProbeInterval == 0 {
		opts.ProbeInterval = time.Hour
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = time.Hour
	}
	if opts.SendBuffer == 0 {
		opts.SendBuffer = 16
	}
	if membership == nil {
		membership = &fakeMembership{}
	}
	if friends == nil {
		friends = &fakeFriends{}
	}
	verifier := &fakeVerifier{idents: map[string]identity.Identity{
		"token-u1": {ID: "u1", DisplayName: "Ada"},
		"token-u2": {ID: "u2", DisplayName: "Ben"},
	}}
	registry := presence.NewRegistry(nil)
	router := channels.NewRouter(nil, membership)
	chats := &fakeChat{}
	g := NewGateway(nil, opts, verifier, registry, router, chats, friends)

	e := echo.New()
	g.Register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	t.Cleanup(g.Shutdown)

	return &harness{gateway: g, registry: registry, router: router, chats: chats, srv: srv}
}

func (h *harness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?token=" + token
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func writeEvent(t *testing.T, c *websocket.Conn, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := c.WriteJSON(event.Envelope{Type: typ, Payload: raw}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readEvent(t *testing.T, c *websocket.Conn) event.Envelope {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env event.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return env
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	h := newHarness(t, Options{}, nil, nil)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("handshake without credentials should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %v, want 401", resp)
	}
	if h.registry.OnlineCount() != 0 {
		t.Error("rejected handshake must not register presence")
	}
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	h := newHarness(t, Options{}, nil, nil)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("handshake with a bad token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %v, want 401", resp)
	}
}

func TestConnectRegistersPresence(t *testing.T) {
	h := newHarness(t, Options{}, nil, nil)
	c := h.dial(t, "token-u1")

	waitFor(t, "u1 never came online", func() bool { return h.registry.IsOnline("u1") })
	waitFor(t, "u1 never joined personal channel", func() bool {
		return len(h.router.Members(channels.Personal("u1"))) == 1
	})

	c.Close()
	waitFor(t, "u1 never went offline", func() bool { return !h.registry.IsOnline("u1") })
	waitFor(t, "personal channel not drained", func() bool {
		return len(h.router.Members(channels.Personal("u1"))) == 0
	})
}

func TestJoinUnauthorizedGetsError(t *testing.T) {
	h := newHarness(t, Options{}, &fakeMembership{members: map[string][]string{"c1": {"u2"}}}, nil)
	c := h.dial(t, "token-u1")

	writeEvent(t, c, event.ChatJoin, event.JoinPayload{ConversationID: "c1"})

	env := readEvent(t, c)
	if env.Type != event.Error {
		t.Fatalf("type = %q, want error", env.Type)
	}
	var p event.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Op != event.ChatJoin {
		t.Errorf("op = %q, want %q", p.Op, event.ChatJoin)
	}
	if len(h.router.Members(channels.Conversation("c1"))) != 0 {
		t.Error("unauthorized join must leave the channel empty")
	}
}

func TestMessageSendDispatches(t *testing.T) {
	h := newHarness(t, Options{}, &fakeMembership{members: map[string][]string{"c1": {"u1"}}}, nil)
	c := h.dial(t, "token-u1")

	writeEvent(t, c, event.MessageSend, event.SendPayload{ConversationID: "c1", Body: "hello"})

	waitFor(t, "send never reached the delivery service", func() bool { return h.chats.sendCount() == 1 })
	h.chats.mu.Lock()
	in := h.chats.sends[0]
	h.chats.mu.Unlock()
	if in.SenderID != "u1" || in.ConversationID != "c1" || in.Body != "hello" {
		t.Errorf("send input = %+v", in)
	}
}

func TestMessageSendFailureYieldsErrorEvent(t *testing.T) {
	h := newHarness(t, Options{}, nil, nil)
	c := h.dial(t, "token-u1")
	h.chats.mu.Lock()
	h.chats.err = chat.ErrPolicyForbidden
	h.chats.mu.Unlock()

	writeEvent(t, c, event.MessageSend, event.SendPayload{ConversationID: "c1", Body: "hello"})

	env := readEvent(t, c)
	if env.Type != event.Error {
		t.Fatalf("type = %q, want error", env.Type)
	}
	var p event.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Op != event.MessageSend {
		t.Errorf("op = %q, want %q", p.Op, event.MessageSend)
	}
}

func TestMessagesReadDispatches(t *testing.T) {
	h := newHarness(t, Options{}, nil, nil)
	c := h.dial(t, "token-u1")

	writeEvent(t, c, event.MessagesRead, event.ReadPayload{ConversationID: "c1"})

	waitFor(t, "read never reached the delivery service", func() bool { return h.chats.readCount() == 1 })
	h.chats.mu.Lock()
	got := h.chats.reads[0]
	h.chats.mu.Unlock()
	if got != "u1:c1" {
		t.Errorf("read = %q, want u1:c1", got)
	}
}

func TestTypingRelay(t *testing.T) {
	membership := &fakeMembership{members: map[string][]string{"c1": {"u1", "u2"}}}
	h := newHarness(t, Options{}, membership, nil)
	c1 := h.dial(t, "token-u1")
	c2 := h.dial(t, "token-u2")

	writeEvent(t, c1, event.ChatJoin, event.JoinPayload{ConversationID: "c1"})
	writeEvent(t, c2, event.ChatJoin, event.JoinPayload{ConversationID: "c1"})
	waitFor(t, "both connections should join c1", func() bool {
		return len(h.router.Members(channels.Conversation("c1"))) == 2
	})

	writeEvent(t, c1, event.TypingStart, event.TypingPayload{ConversationID: "c1"})

	env := readEvent(t, c2)
	if env.Type != event.TypingStart {
		t.Fatalf("type = %q, want %q", env.Type, event.TypingStart)
	}
	var p event.TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.UserID != "u1" || p.UserName != "Ada" || p.ConversationID != "c1" {
		t.Errorf("relay = %+v", p)
	}

	// The originator must not hear its own typing echo.
	c1.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := c1.ReadMessage(); err == nil {
		t.Error("originator received its own typing relay")
	}
}

func TestTypingRequiresJoin(t *testing.T) {
	membership := &fakeMembership{members: map[string][]string{"c1": {"u1"}}}
	h := newHarness(t, Options{}, membership, nil)
	c := h.dial(t, "token-u1")

	// A member who never joined the channel gets no relay privileges.
	writeEvent(t, c, event.TypingStart, event.TypingPayload{ConversationID: "c1"})

	env := readEvent(t, c)
	if env.Type != event.Error {
		t.Fatalf("type = %q, want error", env.Type)
	}
}

func TestUnknownEventGetsError(t *testing.T) {
	h := newHarness(t, Options{}, nil, nil)
	c := h.dial(t, "token-u1")

	writeEvent(t, c, "bogus:event", map[string]any{})

	env := readEvent(t, c)
	if env.Type != event.Error {
		t.Fatalf("type = %q, want error", env.Type)
	}
	var p event.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Message != "unknown event type" {
		t.Errorf("message = %q", p.Message)
	}
}

func TestPresenceFanoutToFriends(t *testing.T) {
	friends := &fakeFriends{friends: map[string][]string{
		"u1": {"u2"},
		"u2": {"u1"},
	}}
	h := newHarness(t, Options{}, nil, friends)

	c1 := h.dial(t, "token-u1")
	waitFor(t, "u1 never joined personal channel", func() bool {
		return len(h.router.Members(channels.Personal("u1"))) == 1
	})

	c2 := h.dial(t, "token-u2")

	env := readEvent(t, c1)
	if env.Type != event.PresenceOnline {
		t.Fatalf("type = %q, want %q", env.Type, event.PresenceOnline)
	}
	var p event.PresencePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.UserID != "u2" || !p.Online {
		t.Errorf("payload = %+v", p)
	}

	c2.Close()
	env = readEvent(t, c1)
	if env.Type != event.PresenceOffline {
		t.Fatalf("type = %q, want %q", env.Type, event.PresenceOffline)
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.UserID != "u2" || p.Online || p.LastSeen.IsZero() {
		t.Errorf("payload = %+v", p)
	}
}

func TestHeartbeatDisconnectsSilentPeer(t *testing.T) {
	h := newHarness(t, Options{ProbeInterval: 30 * time.Millisecond, ProbeTimeout: 100 * time.Millisecond}, nil, nil)
	c := h.dial(t, "token-u1")

	// Swallow pings instead of answering them.
	c.SetPingHandler(func(string) error { return nil })

	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := c.ReadMessage(); err == nil {
		t.Fatal("silent peer should have been disconnected")
	}
	waitFor(t, "presence not cleaned up after timeout", func() bool { return !h.registry.IsOnline("u1") })
}

func TestHealthyPeerSurvivesHeartbeat(t *testing.T) {
	h := newHarness(t, Options{ProbeInterval: 20 * time.Millisecond, ProbeTimeout: 80 * time.Millisecond}, nil, nil)
	c := h.dial(t, "token-u1")

	// The default ping handler answers with pongs; read to let it run.
	done := make(chan struct{})
	go func() {
		c.SetReadDeadline(time.Now().Add(5 * time.Second))
		c.ReadMessage()
		close(done)
	}()

	time.Sleep(400 * time.Millisecond)
	if !h.registry.IsOnline("u1") {
		t.Fatal("responsive peer was disconnected by the heartbeat")
	}
	c.Close()
	<-done
}

func TestShutdownClosesConnections(t *testing.T) {
	h := newHarness(t, Options{}, nil, nil)
	c := h.dial(t, "token-u1")
	waitFor(t, "u1 never came online", func() bool { return h.registry.IsOnline("u1") })

	h.gateway.Shutdown()

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := c.ReadMessage(); err == nil {
		t.Fatal("connection should be closed after shutdown")
	}
	waitFor(t, "presence not drained after shutdown", func() bool { return h.registry.OnlineCount() == 0 })
}
