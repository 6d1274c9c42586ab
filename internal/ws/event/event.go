// Package event defines the typed wire events exchanged over the realtime
// connection. Every event name maps to a fixed payload shape; anything else
// is rejected at the boundary.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Client-to-server event names.
const (
	ChatJoin    = "chat:join"
	ChatLeave   = "chat:leave"
	MessageSend = "message:send"
	TypingStart = "typing:start"
	TypingStop  = "typing:stop"
)

// MessagesRead flows both ways: as a client command ("mark this conversation
// read") and as the fan-out to other participants.
const MessagesRead = "messages:read"

// Server-to-client event names.
const (
	MessageNew          = "message:new"
	ConversationUpdated = "conversation:updated"
	Notification        = "notification"
	PresenceOnline      = "presence:online"
	PresenceOffline     = "presence:offline"
	Error               = "error"
)

// ErrUnknownEvent is returned for an unrecognized event name.
var ErrUnknownEvent = errors.New("unknown event type")

// ErrBadPayload is returned when a payload does not match its event's shape.
var ErrBadPayload = errors.New("malformed event payload")

// Envelope is the raw frame shape: a tag plus an opaque payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerEvent is an outbound frame; the payload marshals in place.
type ServerEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// JoinPayload carries chat:join and chat:leave.
type JoinPayload struct {
	ConversationID string `json:"conversationId"`
}

// AttachmentUpload is inline attachment content on message:send. Data is
// base64 on the wire (encoding/json's []byte convention).
type AttachmentUpload struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// SendPayload carries message:send.
type SendPayload struct {
	ConversationID string            `json:"conversationId"`
	Body           string            `json:"body"`
	ReplyToID      string            `json:"replyToId,omitempty"`
	Attachment     *AttachmentUpload `json:"attachment,omitempty"`
}

// ReadPayload carries the client messages:read command.
type ReadPayload struct {
	ConversationID string `json:"conversationId"`
}

// ReadFanout carries the server messages:read fan-out.
type ReadFanout struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	ReadBy         string   `json:"readBy"`
}

// ConversationHint tells the client to refetch a conversation summary.
type ConversationHint struct {
	ConversationID string `json:"conversationId"`
}

// TypingPayload carries typing relays. UserName is filled server-side.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	UserName       string `json:"userName,omitempty"`
}

// PresencePayload carries presence transitions.
type PresencePayload struct {
	UserID   string    `json:"userId"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

// ErrorPayload names the operation that failed so the client can react.
type ErrorPayload struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}

// Decode parses a raw inbound frame into its typed payload. Unknown event
// names return ErrUnknownEvent; payloads with missing or extra fields return
// ErrBadPayload.
func Decode(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	switch env.Type {
	case ChatJoin, ChatLeave:
		var p JoinPayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return env.Type, nil, err
		}
		return env.Type, p, nil
	case MessageSend:
		var p SendPayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return env.Type, nil, err
		}
		return env.Type, p, nil
	case MessagesRead:
		var p ReadPayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return env.Type, nil, err
		}
		return env.Type, p, nil
	case TypingStart, TypingStop:
		var p TypingPayload
		if err := strictUnmarshal(env.Payload, &p); err != nil {
			return env.Type, nil, err
		}
		return env.Type, p, nil
	default:
		return env.Type, nil, ErrUnknownEvent
	}
}

func strictUnmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: payload is required", ErrBadPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
