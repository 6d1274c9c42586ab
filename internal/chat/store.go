package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulseapp/pulse/internal/db"
)

// PgStore implements Store over PostgreSQL.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL-backed chat store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Conversation returns the conversation row for id.
func (s *PgStore) Conversation(ctx context.Context, id string) (Conversation, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Conversation{}, ErrConversationNotFound
	}
	var (
		conv      Conversation
		updatedAt pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx,
		`SELECT id, kind, last_activity_at FROM conversations WHERE id = $1`, pgID,
	).Scan(&conv.ID, &conv.Kind, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrConversationNotFound
		}
		return Conversation{}, err
	}
	conv.LastActivityAt = db.TimeFromPg(updatedAt)
	return conv, nil
}

// Participants returns the conversation's members with display names.
func (s *PgStore) Participants(ctx context.Context, conversationID string) ([]Participant, error) {
	pgID, err := db.ParseUUID(conversationID)
	if err != nil {
		return nil, ErrConversationNotFound
	}
	rows, err := s.pool.Query(ctx,
		`SELECT p.user_id, u.display_name
		 FROM conversation_participants p
		 JOIN users u ON u.id = p.user_id
		 WHERE p.conversation_id = $1 AND u.deleted_at IS NULL`, pgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.UserID, &p.DisplayName); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// IsParticipant reports durable membership of identityID in the conversation.
func (s *PgStore) IsParticipant(ctx context.Context, conversationID, identityID string) (bool, error) {
	pgConv, err := db.ParseUUID(conversationID)
	if err != nil {
		return false, nil
	}
	pgUser, err := db.ParseUUID(identityID)
	if err != nil {
		return false, nil
	}
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM conversation_participants
		    WHERE conversation_id = $1 AND user_id = $2
		 )`, pgConv, pgUser,
	).Scan(&exists)
	return exists, err
}

// Message returns one message row, used for reply-target checks.
func (s *PgStore) Message(ctx context.Context, id string) (Message, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Message{}, ErrMessageNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT m.id, m.conversation_id, m.sender_id, u.display_name, m.body, m.created_at
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, pgID)

	var (
		msg       Message
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderName, &msg.Body, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotFound
		}
		return Message{}, err
	}
	msg.CreatedAt = db.TimeFromPg(createdAt)
	return msg, nil
}

// InsertMessage persists the message and bumps the conversation's
// last-activity timestamp in one transaction.
func (s *PgStore) InsertMessage(ctx context.Context, in InsertMessage) (Message, error) {
	pgConv, err := db.ParseUUID(in.ConversationID)
	if err != nil {
		return Message{}, ErrConversationNotFound
	}
	pgSender, err := db.ParseUUID(in.SenderID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid sender id: %w", err)
	}
	var pgReply pgtype.UUID
	if in.ReplyToID != "" {
		pgReply, err = db.ParseUUID(in.ReplyToID)
		if err != nil {
			return Message{}, ErrInvalidReply
		}
	}

	var (
		attachKey, attachName, attachMime pgtype.Text
		attachSize                        *int64
	)
	if in.Attachment != nil {
		attachKey = db.ToPgText(in.Attachment.Key)
		attachName = db.ToPgText(in.Attachment.Name)
		attachMime = db.ToPgText(in.Attachment.ContentType)
		attachSize = &in.Attachment.Size
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback(ctx)

	var (
		msg       Message
		createdAt pgtype.Timestamptz
	)
	err = tx.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, sender_id, body, reply_to_id,
		                       attachment_key, attachment_name, attachment_mime, attachment_size)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		pgConv, pgSender, in.Body, pgReply, attachKey, attachName, attachMime, attachSize,
	).Scan(&msg.ID, &createdAt)
	if err != nil {
		return Message{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET last_activity_at = now() WHERE id = $1`, pgConv); err != nil {
		return Message{}, err
	}

	var senderName string
	if err := tx.QueryRow(ctx,
		`SELECT display_name FROM users WHERE id = $1`, pgSender,
	).Scan(&senderName); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}

	msg.ConversationID = in.ConversationID
	msg.SenderID = in.SenderID
	msg.SenderName = senderName
	msg.Body = in.Body
	msg.CreatedAt = db.TimeFromPg(createdAt)
	if in.Attachment != nil {
		attachment := *in.Attachment
		msg.Attachment = &attachment
	}
	if in.ReplyToID != "" {
		if target, err := s.Message(ctx, in.ReplyToID); err == nil {
			msg.ReplyTo = &ReplyPreview{ID: target.ID, SenderID: target.SenderID, Body: previewBody(target.Body)}
		}
	}
	return msg, nil
}

// MarkRead inserts one receipt per unread message authored by someone else.
// Existing (message, reader) receipts are skipped, never duplicated.
func (s *PgStore) MarkRead(ctx context.Context, conversationID, readerID string) ([]string, error) {
	pgConv, err := db.ParseUUID(conversationID)
	if err != nil {
		return nil, ErrConversationNotFound
	}
	pgReader, err := db.ParseUUID(readerID)
	if err != nil {
		return nil, fmt.Errorf("invalid reader id: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`INSERT INTO message_reads (message_id, reader_id)
		 SELECT m.id, $2
		 FROM messages m
		 WHERE m.conversation_id = $1
		   AND m.sender_id <> $2
		   AND NOT EXISTS (
		       SELECT 1 FROM message_reads r
		       WHERE r.message_id = m.id AND r.reader_id = $2
		   )
		 RETURNING message_id`,
		pgConv, pgReader)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		// Two reads can race past the NOT EXISTS filter; the receipt was
		// recorded by whichever call won, so this call has nothing new.
		if db.IsUniqueViolation(err) {
			return nil, nil
		}
		return nil, err
	}
	return ids, nil
}

const maxPreviewLength = 120

func previewBody(body string) string {
	runes := []rune(body)
	if len(runes) <= maxPreviewLength {
		return body
	}
	return string(runes[:maxPreviewLength]) + "…"
}
