package chat

import (
	"context"
	"errors"
	"io"
	"time"
)

// Conversation kinds.
const (
	KindDirect = "direct"
	KindGroup  = "group"
)

// MaxBodyLength is the maximum message body length in characters.
const MaxBodyLength = 10000

var (
	// ErrValidation covers an empty message (no body, no attachment) or an
	// oversized body.
	ErrValidation = errors.New("message validation failed")
	// ErrPolicyForbidden is a business-rule refusal from the recipient's
	// messaging-policy setting.
	ErrPolicyForbidden = errors.New("recipient's messaging policy forbids this message")
	// ErrInvalidReply is returned when the reply target does not exist or
	// belongs to a different conversation.
	ErrInvalidReply = errors.New("invalid reply target")
	// ErrStorageUnavailable wraps attachment upload failures; transient and
	// user-facing, the connection survives it.
	ErrStorageUnavailable = errors.New("attachment storage unavailable")
	// ErrPersistence wraps durable-store write failures for a requested action.
	ErrPersistence = errors.New("persistence failure")
	// ErrConversationNotFound is returned for an unknown conversation id.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound is returned for an unknown message id.
	ErrMessageNotFound = errors.New("message not found")
)

// Conversation is the durable conversation row this subsystem reads.
type Conversation struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Participant is a conversation member with display attributes.
type Participant struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Attachment is persisted attachment metadata plus a signed retrieval URL.
type Attachment struct {
	Key         string `json:"-"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	URL         string `json:"url,omitempty"`
}

// ReplyPreview is the trimmed view of a reply target embedded in a message.
type ReplyPreview struct {
	ID       string `json:"id"`
	SenderID string `json:"senderId"`
	Body     string `json:"body"`
}

// Message is a persisted chat message formatted for fan-out.
type Message struct {
	ID              string        `json:"id"`
	ConversationID  string        `json:"conversationId"`
	SenderID        string        `json:"senderId"`
	SenderName      string        `json:"senderName,omitempty"`
	SenderAvatarURL string        `json:"senderAvatarUrl,omitempty"`
	Body            string        `json:"body"`
	Attachment      *Attachment   `json:"attachment,omitempty"`
	ReplyTo         *ReplyPreview `json:"replyTo,omitempty"`
	IsRead          bool          `json:"isRead"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// AttachmentUpload is inbound attachment content for a send.
type AttachmentUpload struct {
	Name        string
	ContentType string
	Size        int64
	Data        io.Reader
}

// SendInput is the input to Send.
type SendInput struct {
	SenderID       string
	ConversationID string
	Body           string
	ReplyToID      string
	Attachment     *AttachmentUpload
}

// InsertMessage is the persistence input for a validated message.
type InsertMessage struct {
	ConversationID string
	SenderID       string
	Body           string
	ReplyToID      string
	Attachment     *Attachment
}

// Store is the durable-store surface the delivery service needs.
type Store interface {
	Conversation(ctx context.Context, id string) (Conversation, error)
	Participants(ctx context.Context, conversationID string) ([]Participant, error)
	IsParticipant(ctx context.Context, conversationID, identityID string) (bool, error)
	Message(ctx context.Context, id string) (Message, error)
	// InsertMessage persists the message and bumps the conversation's
	// last-activity timestamp in the same transaction.
	InsertMessage(ctx context.Context, in InsertMessage) (Message, error)
	// MarkRead inserts missing receipts for every message in the
	// conversation not authored by readerID, skipping pairs that already
	// have one, and returns the newly-read message ids.
	MarkRead(ctx context.Context, conversationID, readerID string) ([]string, error)
}

// Broadcaster fans events out to live connections.
type Broadcaster interface {
	Broadcast(channelID string, event any)
	Push(identityID string, event any)
}

// PolicySource reads a user's messaging-policy setting.
type PolicySource interface {
	MessagingPolicy(ctx context.Context, userID string) (string, error)
}

// FriendChecker reports whether two users have an accepted friendship.
type FriendChecker interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
}
