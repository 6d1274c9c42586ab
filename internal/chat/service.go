// Package chat orchestrates message delivery and read receipts: validation,
// policy, persistence, then fan-out to live connections.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulseapp/pulse/internal/channels"
	"github.com/pulseapp/pulse/internal/settings"
	"github.com/pulseapp/pulse/internal/storage"
	"github.com/pulseapp/pulse/internal/ws/event"
)

// Service implements message delivery and read-receipt tracking.
type Service struct {
	store    Store
	objects  storage.Provider
	events   Broadcaster
	policies PolicySource
	friends  FriendChecker
	signTTL  time.Duration
	logger   *slog.Logger

	// Per-conversation locks keep broadcast order aligned with commit order
	// when two sends race inside the same conversation.
	sendLocks sync.Map
}

// NewService creates the delivery service.
func NewService(log *slog.Logger, store Store, objects storage.Provider, events Broadcaster, policies PolicySource, friends FriendChecker, signTTL time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		objects:  objects,
		events:   events,
		policies: policies,
		friends:  friends,
		signTTL:  signTTL,
		logger:   log.With(slog.String("service", "chat")),
	}
}

// IsParticipant exposes the durable membership check for channel joins.
func (s *Service) IsParticipant(ctx context.Context, conversationID, identityID string) (bool, error) {
	return s.store.IsParticipant(ctx, conversationID, identityID)
}

// Send validates, persists, and fans out a new message. Durability precedes
// visibility: nothing is broadcast unless the write committed.
func (s *Service) Send(ctx context.Context, in SendInput) (Message, error) {
	body := in.Body
	if strings.TrimSpace(body) == "" && in.Attachment == nil {
		return Message{}, fmt.Errorf("%w: message needs a body or an attachment", ErrValidation)
	}
	if len([]rune(body)) > MaxBodyLength {
		return Message{}, fmt.Errorf("%w: body exceeds %d characters", ErrValidation, MaxBodyLength)
	}

	conv, err := s.store.Conversation(ctx, in.ConversationID)
	if err != nil {
		return Message{}, err
	}

	member, err := s.store.IsParticipant(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !member {
		return Message{}, channels.ErrNotAMember
	}

	participants, err := s.store.Participants(ctx, in.ConversationID)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// Policy may change between messages; evaluate on every send.
	if conv.Kind == KindDirect {
		if err := s.checkPolicy(ctx, in.SenderID, participants); err != nil {
			return Message{}, err
		}
	}

	if in.ReplyToID != "" {
		target, err := s.store.Message(ctx, in.ReplyToID)
		if err != nil {
			return Message{}, ErrInvalidReply
		}
		if target.ConversationID != in.ConversationID {
			return Message{}, ErrInvalidReply
		}
	}

	var attachment *Attachment
	if in.Attachment != nil {
		attachment, err = s.uploadAttachment(ctx, in.Attachment)
		if err != nil {
			return Message{}, err
		}
	}

	mu := s.conversationLock(in.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := s.store.InsertMessage(ctx, InsertMessage{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Body:           body,
		ReplyToID:      in.ReplyToID,
		Attachment:     attachment,
	})
	if err != nil {
		if attachment != nil {
			// Compensating cleanup: never leave an orphaned upload behind.
			if delErr := s.objects.Delete(ctx, attachment.Key); delErr != nil {
				s.logger.Error("orphaned attachment cleanup failed",
					slog.String("key", attachment.Key), slog.Any("error", delErr))
			}
		}
		return Message{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	msg.IsRead = false
	s.signAttachment(ctx, &msg)

	s.events.Broadcast(channels.Conversation(in.ConversationID),
		event.ServerEvent{Type: event.MessageNew, Payload: msg})
	hint := event.ServerEvent{
		Type:    event.ConversationUpdated,
		Payload: event.ConversationHint{ConversationID: in.ConversationID},
	}
	for _, p := range participants {
		// Personal-channel copy lets a toast render even when the user has
		// not joined the conversation channel.
		s.events.Push(p.UserID, event.ServerEvent{Type: event.MessageNew, Payload: msg})
		s.events.Push(p.UserID, hint)
	}

	return msg, nil
}

// MarkRead records receipts for every unread message in the conversation not
// authored by readerID and fans the new read state out to the other
// participants. Calling it again immediately yields no new ids and no events.
func (s *Service) MarkRead(ctx context.Context, readerID, conversationID string) ([]string, error) {
	member, err := s.store.IsParticipant(ctx, conversationID, readerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !member {
		return nil, channels.ErrNotAMember
	}

	ids, err := s.store.MarkRead(ctx, conversationID, readerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	participants, err := s.store.Participants(ctx, conversationID)
	if err != nil {
		// Receipts are already durable; fan-out failure is logged, not raised.
		s.logger.Error("read fan-out participant lookup failed",
			slog.String("conversation_id", conversationID), slog.Any("error", err))
		return ids, nil
	}

	fanout := event.ServerEvent{
		Type: event.MessagesRead,
		Payload: event.ReadFanout{
			ConversationID: conversationID,
			MessageIDs:     ids,
			ReadBy:         readerID,
		},
	}
	hint := event.ServerEvent{
		Type:    event.ConversationUpdated,
		Payload: event.ConversationHint{ConversationID: conversationID},
	}
	for _, p := range participants {
		if p.UserID != readerID {
			s.events.Push(p.UserID, fanout)
		}
		// Unread counts changed for everyone, the reader's other devices
		// included.
		s.events.Push(p.UserID, hint)
	}

	return ids, nil
}

func (s *Service) checkPolicy(ctx context.Context, senderID string, participants []Participant) error {
	for _, p := range participants {
		if p.UserID == senderID {
			continue
		}
		policy, err := s.policies.MessagingPolicy(ctx, p.UserID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		switch policy {
		case settings.PolicyNobody:
			return ErrPolicyForbidden
		case settings.PolicyFriends:
			friends, err := s.friends.AreFriends(ctx, senderID, p.UserID)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrPersistence, err)
			}
			if !friends {
				return ErrPolicyForbidden
			}
		}
	}
	return nil
}

func (s *Service) uploadAttachment(ctx context.Context, up *AttachmentUpload) (*Attachment, error) {
	name := path.Base(strings.TrimSpace(up.Name))
	if name == "" || name == "." || name == "/" {
		name = "attachment"
	}
	key := "attachments/" + uuid.NewString() + "/" + name
	if err := s.objects.Put(ctx, key, up.Data, up.Size, up.ContentType); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &Attachment{
		Key:         key,
		Name:        name,
		ContentType: up.ContentType,
		Size:        up.Size,
	}, nil
}

func (s *Service) signAttachment(ctx context.Context, msg *Message) {
	if msg.Attachment == nil || msg.Attachment.Key == "" {
		return
	}
	url, err := s.objects.SignedURL(ctx, msg.Attachment.Key, s.signTTL)
	if err != nil {
		s.logger.Warn("sign attachment url failed",
			slog.String("key", msg.Attachment.Key), slog.Any("error", err))
		return
	}
	msg.Attachment.URL = url
}

func (s *Service) conversationLock(conversationID string) *sync.Mutex {
	mu, _ := s.sendLocks.LoadOrStore(conversationID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
