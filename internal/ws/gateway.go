package ws

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pulseapp/pulse/internal/auth"
	"github.com/pulseapp/pulse/internal/channels"
	"github.com/pulseapp/pulse/internal/chat"
	"github.com/pulseapp/pulse/internal/identity"
	"github.com/pulseapp/pulse/internal/metrics"
	"github.com/pulseapp/pulse/internal/presence"
	"github.com/pulseapp/pulse/internal/ws/event"
)

// Verifier authenticates a raw handshake credential.
type Verifier interface {
	Verify(ctx context.Context, token string) (identity.Identity, error)
}

// ChatService is the delivery surface the gateway dispatches to.
type ChatService interface {
	Send(ctx context.Context, in chat.SendInput) (chat.Message, error)
	MarkRead(ctx context.Context, readerID, conversationID string) ([]string, error)
}

// FriendSource lists the users who should see an identity's presence changes.
type FriendSource interface {
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}

// Options tunes gateway behavior per connection.
type Options struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	SendBuffer    int
}

// Gateway owns the websocket endpoint and every live connection's lifecycle.
type Gateway struct {
	identities Verifier
	registry   *presence.Registry
	router     *channels.Router
	chats      ChatService
	friends    FriendSource
	opts       Options
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewGateway creates the gateway and hooks presence fan-out into the registry.
func NewGateway(log *slog.Logger, opts Options, identities Verifier, registry *presence.Registry, router *channels.Router, chats ChatService, friends FriendSource) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		identities: identities,
		registry:   registry,
		router:     router,
		chats:      chats,
		friends:    friends,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.With(slog.String("service", "gateway")),
		conns:  map[string]*Conn{},
	}
	registry.OnChange(g.fanoutPresence)
	return g
}

// Register mounts the websocket endpoint.
func (g *Gateway) Register(e *echo.Echo) {
	e.GET("/ws", g.handle)
}

// Shutdown force-closes every live connection. Each read loop then runs its
// own cleanup, so channel and presence state drains normally.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	open := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		open = append(open, c)
	}
	g.mu.Unlock()
	for _, c := range open {
		c.Close()
	}
}

// handle authenticates the handshake, upgrades, and runs the connection to
// completion. Authentication failures are rejected before the upgrade, so a
// bad credential never registers any state.
func (g *Gateway) handle(c echo.Context) error {
	r := c.Request()
	token := auth.ExtractToken(r)
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
	}
	ident, err := g.identities.Verify(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationFailed) || errors.Is(err, identity.ErrIdentityNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
		}
		g.logger.Error("handshake verification failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "verification unavailable")
	}

	sock, err := g.upgrader.Upgrade(c.Response(), r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return nil
	}

	conn := newConn(g.logger, sock, ident.ID, ident.DisplayName, g.opts.SendBuffer)
	g.track(conn)
	g.registry.Register(ident.ID, conn.ID())
	g.router.JoinPersonal(conn)
	metrics.ConnectionsOpen.Inc()
	metrics.IdentitiesOnline.Set(float64(g.registry.OnlineCount()))
	g.logger.Info("connection opened",
		slog.String("conn_id", conn.ID()),
		slog.String("user_id", ident.ID),
	)

	monitor := NewMonitor(g.opts.ProbeInterval, g.opts.ProbeTimeout, conn.ping, func() {
		metrics.HeartbeatTimeouts.Inc()
		g.logger.Info("heartbeat timeout",
			slog.String("conn_id", conn.ID()),
			slog.String("user_id", conn.IdentityID()),
		)
		conn.Close()
	})
	sock.SetPongHandler(func(string) error {
		monitor.Ack()
		return nil
	})
	monitor.Start()

	g.readLoop(r.Context(), conn, sock)

	// Cleanup is synchronous: by the time the handler returns, no channel or
	// presence entry references this connection.
	monitor.Stop()
	g.router.DropConnection(conn.ID())
	g.registry.Unregister(conn.IdentityID(), conn.ID())
	conn.Close()
	g.untrack(conn)
	metrics.ConnectionsOpen.Dec()
	metrics.IdentitiesOnline.Set(float64(g.registry.OnlineCount()))
	g.logger.Info("connection closed",
		slog.String("conn_id", conn.ID()),
		slog.String("user_id", conn.IdentityID()),
	)
	return nil
}

func (g *Gateway) readLoop(ctx context.Context, conn *Conn, sock *websocket.Conn) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			return
		}
		typ, payload, err := event.Decode(data)
		if err != nil {
			conn.Send(errorEvent(typ, err))
			continue
		}
		g.dispatch(ctx, conn, typ, payload)
	}
}

func (g *Gateway) dispatch(ctx context.Context, conn *Conn, typ string, payload any) {
	switch typ {
	case event.ChatJoin:
		p := payload.(event.JoinPayload)
		if err := g.router.Join(ctx, conn, p.ConversationID); err != nil {
			conn.Send(errorEvent(typ, err))
		}
	case event.ChatLeave:
		p := payload.(event.JoinPayload)
		g.router.Leave(conn, p.ConversationID)
	case event.MessageSend:
		p := payload.(event.SendPayload)
		in := chat.SendInput{
			SenderID:       conn.IdentityID(),
			ConversationID: p.ConversationID,
			Body:           p.Body,
			ReplyToID:      p.ReplyToID,
		}
		if p.Attachment != nil {
			in.Attachment = &chat.AttachmentUpload{
				Name:        p.Attachment.Name,
				ContentType: p.Attachment.ContentType,
				Size:        int64(len(p.Attachment.Data)),
				Data:        bytes.NewReader(p.Attachment.Data),
			}
		}
		if _, err := g.chats.Send(ctx, in); err != nil {
			conn.Send(errorEvent(typ, err))
			return
		}
		metrics.MessagesSent.Inc()
	case event.MessagesRead:
		p := payload.(event.ReadPayload)
		if _, err := g.chats.MarkRead(ctx, conn.IdentityID(), p.ConversationID); err != nil {
			conn.Send(errorEvent(typ, err))
		}
	case event.TypingStart, event.TypingStop:
		p := payload.(event.TypingPayload)
		channelID := channels.Conversation(p.ConversationID)
		// Typing relays piggyback on channel membership; no join, no relay.
		if !g.router.IsJoined(conn.ID(), channelID) {
			conn.Send(errorEvent(typ, channels.ErrNotAMember))
			return
		}
		g.router.BroadcastExcept(channelID, conn.ID(), event.ServerEvent{
			Type: typ,
			Payload: event.TypingPayload{
				ConversationID: p.ConversationID,
				UserID:         conn.IdentityID(),
				UserName:       conn.name,
			},
		})
	}
}

// fanoutPresence tells an identity's friends about its online transition.
// Runs off the caller's goroutine so a slow friend lookup never holds up a
// connect or disconnect.
func (g *Gateway) fanoutPresence(ev presence.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		friendIDs, err := g.friends.FriendIDs(ctx, ev.IdentityID)
		if err != nil {
			g.logger.Error("presence fan-out friend lookup failed",
				slog.String("user_id", ev.IdentityID), slog.Any("error", err))
			return
		}
		typ := event.PresenceOnline
		if !ev.Online {
			typ = event.PresenceOffline
		}
		out := event.ServerEvent{Type: typ, Payload: event.PresencePayload{
			UserID:   ev.IdentityID,
			Online:   ev.Online,
			LastSeen: ev.At,
		}}
		for _, id := range friendIDs {
			g.router.Push(id, out)
		}
	}()
}

func (g *Gateway) track(c *Conn) {
	g.mu.Lock()
	g.conns[c.ID()] = c
	g.mu.Unlock()
}

func (g *Gateway) untrack(c *Conn) {
	g.mu.Lock()
	delete(g.conns, c.ID())
	g.mu.Unlock()
}

// errorEvent shapes a failed operation into the error frame clients consume.
// Internal wording stays server-side; clients get the sentinel text.
func errorEvent(op string, err error) event.ServerEvent {
	msg := "internal error"
	switch {
	case errors.Is(err, event.ErrUnknownEvent):
		msg = "unknown event type"
	case errors.Is(err, event.ErrBadPayload):
		msg = "malformed payload"
	case errors.Is(err, channels.ErrNotAMember):
		msg = "not a member of this conversation"
	case errors.Is(err, chat.ErrValidation):
		msg = err.Error()
	case errors.Is(err, chat.ErrPolicyForbidden):
		msg = "recipient is not accepting messages from you"
	case errors.Is(err, chat.ErrInvalidReply):
		msg = "invalid reply target"
	case errors.Is(err, chat.ErrStorageUnavailable):
		msg = "attachment upload failed, try again"
	case errors.Is(err, chat.ErrConversationNotFound):
		msg = "conversation not found"
	case errors.Is(err, chat.ErrPersistence):
		msg = "could not complete the request"
	}
	return event.ServerEvent{Type: event.Error, Payload: event.ErrorPayload{Op: op, Message: msg}}
}
