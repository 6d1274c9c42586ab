// Package channels routes realtime events to the connections joined to a
// named broadcast scope.
package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNotAMember is returned when an identity is not a participant of the
// conversation backing a channel.
var ErrNotAMember = errors.New("not a member of conversation")

// Connection is the non-owning view of a live transport session. The
// transport layer owns the lifetime; the router only looks connections up.
type Connection interface {
	ID() string
	IdentityID() string
	// Send enqueues an event without blocking. It reports false when the
	// connection's outbound buffer is saturated or the connection is closed.
	Send(event any) bool
}

// MembershipChecker authorizes conversation-channel joins against durable
// membership records.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, conversationID, identityID string) (bool, error)
}

// Conversation returns the channel id for a conversation scope.
func Conversation(conversationID string) string {
	return "chat:" + conversationID
}

// Personal returns the channel id for an identity's personal scope.
func Personal(identityID string) string {
	return "user:" + identityID
}

// Router manages channel membership and fan-out. The mutex guards only map
// mutation; membership checks and deliveries run outside it so one slow
// database call never blocks routing for unrelated connections.
type Router struct {
	mu     sync.RWMutex
	chans  map[string]map[string]Connection
	byConn map[string]map[string]struct{}

	memberships MembershipChecker
	logger      *slog.Logger
}

// NewRouter creates an empty router.
func NewRouter(log *slog.Logger, memberships MembershipChecker) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		chans:       map[string]map[string]Connection{},
		byConn:      map[string]map[string]struct{}{},
		memberships: memberships,
		logger:      log.With(slog.String("component", "channels")),
	}
}

// JoinPersonal adds the connection to its identity's personal channel. No
// authorization beyond the identity match is needed.
func (r *Router) JoinPersonal(conn Connection) {
	r.add(Personal(conn.IdentityID()), conn)
}

// Join adds the connection to a conversation channel after confirming the
// connection's identity is a participant. An unauthorized join returns
// ErrNotAMember and leaves channel state untouched.
func (r *Router) Join(ctx context.Context, conn Connection, conversationID string) error {
	ok, err := r.memberships.IsParticipant(ctx, conversationID, conn.IdentityID())
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return ErrNotAMember
	}
	r.add(Conversation(conversationID), conn)
	return nil
}

// Leave removes the connection from a conversation channel. Leaving a
// channel the connection never joined is a no-op.
func (r *Router) Leave(conn Connection, conversationID string) {
	channelID := Conversation(conversationID)
	r.mu.Lock()
	if members, ok := r.chans[channelID]; ok {
		delete(members, conn.ID())
		if len(members) == 0 {
			delete(r.chans, channelID)
		}
	}
	if joined, ok := r.byConn[conn.ID()]; ok {
		delete(joined, channelID)
	}
	r.mu.Unlock()
}

// Broadcast delivers an event to every connection joined to the channel.
// Delivery is best-effort per connection: a saturated or closed connection
// is skipped and never blocks the remaining recipients.
func (r *Router) Broadcast(channelID string, event any) {
	r.broadcast(channelID, "", event)
}

// BroadcastExcept delivers to every member except the named connection
// (used for typing relays, where the originator already knows).
func (r *Router) BroadcastExcept(channelID, exceptConnID string, event any) {
	r.broadcast(channelID, exceptConnID, event)
}

// Push delivers an event to every connection in an identity's personal
// channel. This is the one-directional primitive the notification path
// depends on.
func (r *Router) Push(identityID string, event any) {
	r.broadcast(Personal(identityID), "", event)
}

// DropConnection removes the connection from every channel it had joined.
// Called synchronously on disconnect so no channel ever references a dead
// connection.
func (r *Router) DropConnection(connID string) {
	r.mu.Lock()
	joined := r.byConn[connID]
	delete(r.byConn, connID)
	for channelID := range joined {
		if members, ok := r.chans[channelID]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(r.chans, channelID)
			}
		}
	}
	r.mu.Unlock()
}

// IsJoined reports whether the connection is currently joined to the channel.
func (r *Router) IsJoined(connID, channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byConn[connID][channelID]
	return ok
}

// Members returns the connection ids currently joined to a channel.
func (r *Router) Members(channelID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.chans[channelID]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

func (r *Router) add(channelID string, conn Connection) {
	r.mu.Lock()
	members, ok := r.chans[channelID]
	if !ok {
		members = map[string]Connection{}
		r.chans[channelID] = members
	}
	members[conn.ID()] = conn

	joined, ok := r.byConn[conn.ID()]
	if !ok {
		joined = map[string]struct{}{}
		r.byConn[conn.ID()] = joined
	}
	joined[channelID] = struct{}{}
	r.mu.Unlock()
}

func (r *Router) broadcast(channelID, exceptConnID string, event any) {
	r.mu.RLock()
	members := r.chans[channelID]
	targets := make([]Connection, 0, len(members))
	for id, conn := range members {
		if id == exceptConnID {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		if !conn.Send(event) {
			// Saturated peers are reaped by the heartbeat path; fan-out
			// stays fire-and-forget.
			r.logger.Debug("dropped event for slow connection",
				slog.String("conn_id", conn.ID()),
				slog.String("channel", channelID),
			)
		}
	}
}
