// Package pipeline orchestrates the outgoing-message path: validate,
// moderate, authorize, persist, fan out, acknowledge. It is the one place
// that enforces the core invariant: content the moderation gateway blocked
// never reaches persistence or any other participant, and nothing is ever
// broadcast that was not first persisted.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/safenest/safenest/internal/metrics"
	"github.com/safenest/safenest/internal/models"
	"github.com/safenest/safenest/internal/store"
)

// EditWindow is how long after creation the author may edit a message.
const EditWindow = 15 * time.Minute

// persistTimeout bounds message-store writes so a stuck upstream cannot hang
// a send forever.
const persistTimeout = 10 * time.Second

// BlockedUserMessage is the non-technical reason string returned to senders
// of blocked content, deliberately distinct from generic failures.
const BlockedUserMessage = "This message can't be sent because it may not be safe."

// Moderator is the content-safety check on the synchronous path.
type Moderator interface {
	Check(ctx context.Context, text string) models.Verdict
	CheckImage(ctx context.Context, imageRef string) models.Verdict
}

// Notifier schedules guardian alerts off the critical path.
type Notifier interface {
	NotifyAsync(blockedText string, senderID, roomID uuid.UUID, kind models.ContentKind)
}

// Broadcaster fans events out to currently-connected members. Delivery is
// at-most-once; identities with no live connection drop the event.
type Broadcaster interface {
	ToRoom(roomID, event string, payload any)
	ToRoomExcept(roomID, exceptIdentityID, event string, payload any)
	ToIdentity(identityID, event string, payload any)
}

// MessageStore is the external message persistence collaborator.
type MessageStore interface {
	AddMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, roomID, msgID string) (*models.Message, error)
	UpdateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error)
	MarkRead(ctx context.Context, roomID, msgID, identityID string) (bool, error)
	ToggleReaction(ctx context.Context, roomID, msgID, identityID, emoji string) (bool, error)
}

// Pipeline wires the send path's collaborators together.
type Pipeline struct {
	db       store.DataStore
	msgs     MessageStore
	mod      Moderator
	guardian Notifier
	bcast    Broadcaster
	logger   zerolog.Logger
}

// New creates a Pipeline.
func New(db store.DataStore, msgs MessageStore, mod Moderator, guardian Notifier, bcast Broadcaster, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		db:       db,
		msgs:     msgs,
		mod:      mod,
		guardian: guardian,
		bcast:    bcast,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
}

// SendResult is the outcome of a send or edit attempt that passed validation.
type SendResult struct {
	// Message is set when the content was approved and persisted.
	Message *models.Message
	// Blocked is set when moderation rejected the content. The message was
	// not persisted and no one but the sender learns about it.
	Blocked     bool
	Reason      models.VerdictReason
	UserMessage string
}

// NewMessagePayload is the fan-out body for new-message events.
type NewMessagePayload struct {
	Message    *models.Message `json:"message"`
	SenderName string          `json:"sender_name"`
}

// SendMessage runs the full outgoing-message state machine:
// received → moderating → {blocked | approved} → persisting → broadcasting.
func (p *Pipeline) SendMessage(ctx context.Context, sender *models.Identity, roomID, content string, kind models.ContentKind, replyTo string) (*SendResult, error) {
	// Validation first: cheapest check, before any moderation call.
	roomUUID, err := uuid.Parse(roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid room id", ErrInvalidInput)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if kind == "" {
		kind = models.ContentText
	}

	// Moderation, bounded by the client's own timeout. A blocked verdict
	// halts the pipeline before persistence or broadcast.
	verdict := p.moderate(ctx, content, kind)
	if verdict.Blocked {
		return p.block(sender, roomUUID, content, kind, verdict), nil
	}
	if verdict.Reason == models.ReasonServiceFallback {
		p.logger.Warn().
			Str("sender_id", sender.ID.String()).
			Str("room_id", roomID).
			Msg("message approved via fail-open fallback")
	}

	// Authorization is re-checked here, not only at connect time: membership
	// can change mid-session.
	if err := p.authorize(ctx, roomUUID, sender.ID); err != nil {
		return nil, err
	}

	if replyTo != "" {
		parent, err := p.msgs.GetMessage(ctx, roomID, replyTo)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
		if parent == nil || parent.Deleted {
			return nil, fmt.Errorf("%w: parent message not found in this room", ErrInvalidInput)
		}
	}

	msg := &models.Message{
		RoomID:   roomID,
		SenderID: sender.ID.String(),
		Body:     content,
		Kind:     kind,
		ReplyTo:  replyTo,
	}

	// Persistence failure aborts the send: an unsaved-but-broadcast message
	// must never happen.
	persistCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := p.msgs.AddMessage(persistCtx, msg); err != nil {
		p.logger.Error().Err(err).Str("room_id", roomID).Msg("message persistence failed")
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	// Activity pointers are best-effort; the message is already durable.
	if err := p.db.UpdateRoomActivity(persistCtx, roomUUID, msg.ID); err != nil {
		p.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to update room activity")
	}

	metrics.MessagesSent.WithLabelValues(string(kind)).Inc()
	p.bcast.ToRoom(roomID, "new-message", NewMessagePayload{Message: msg, SenderName: sender.DisplayName})

	return &SendResult{Message: msg}, nil
}

// EditMessage applies a sender-only edit within the edit window. Text edits
// re-run moderation.
func (p *Pipeline) EditMessage(ctx context.Context, sender *models.Identity, roomID, msgID, content string) (*SendResult, error) {
	roomUUID, err := uuid.Parse(roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid room id", ErrInvalidInput)
	}
	content = strings.TrimSpace(content)
	if content == "" || msgID == "" {
		return nil, fmt.Errorf("%w: message id and content are required", ErrInvalidInput)
	}

	msg, err := p.msgs.GetMessage(ctx, roomID, msgID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if msg == nil || msg.Deleted {
		return nil, ErrMessageNotFound
	}
	if msg.SenderID != sender.ID.String() {
		return nil, ErrNotMessageAuthor
	}
	if time.Since(time.UnixMilli(msg.Timestamp)) > EditWindow {
		return nil, ErrEditWindowClosed
	}

	if msg.Kind == models.ContentText {
		verdict := p.mod.Check(ctx, content)
		if verdict.Blocked {
			return p.block(sender, roomUUID, content, msg.Kind, verdict), nil
		}
	}

	if err := p.authorize(ctx, roomUUID, sender.ID); err != nil {
		return nil, err
	}

	msg.Body = content
	msg.EditedAt = time.Now().UnixMilli()

	persistCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := p.msgs.UpdateMessage(persistCtx, msg); err != nil {
		p.logger.Error().Err(err).Str("message_id", msgID).Msg("message edit persistence failed")
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	p.bcast.ToRoom(roomID, "message-edited", NewMessagePayload{Message: msg, SenderName: sender.DisplayName})
	return &SendResult{Message: msg}, nil
}

// DeletedPayload is the fan-out body for message-deleted events.
type DeletedPayload struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	DeletedBy string `json:"deleted_by"`
}

// DeleteMessage tombstones a message. Allowed for the author and for any
// active member holding a moderator or admin role in the room.
func (p *Pipeline) DeleteMessage(ctx context.Context, sender *models.Identity, roomID, msgID string) error {
	roomUUID, err := uuid.Parse(roomID)
	if err != nil {
		return fmt.Errorf("%w: invalid room id", ErrInvalidInput)
	}
	if msgID == "" {
		return fmt.Errorf("%w: message id is required", ErrInvalidInput)
	}

	msg, err := p.msgs.GetMessage(ctx, roomID, msgID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if msg == nil || msg.Deleted {
		return ErrMessageNotFound
	}

	membership, err := p.db.GetMembership(ctx, roomUUID, sender.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if membership == nil || !membership.Active {
		return ErrNotRoomMember
	}
	if msg.SenderID != sender.ID.String() && !membership.Role.CanModerate() {
		return ErrInsufficientRole
	}

	msg.Deleted = true
	msg.Body = ""

	persistCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := p.msgs.UpdateMessage(persistCtx, msg); err != nil {
		p.logger.Error().Err(err).Str("message_id", msgID).Msg("message delete persistence failed")
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	p.bcast.ToRoom(roomID, "message-deleted", DeletedPayload{
		RoomID:    roomID,
		MessageID: msgID,
		DeletedBy: sender.ID.String(),
	})
	return nil
}

// ReadPayload is the fan-out delta for messages-read events: only the ids
// newly marked, never the full read state.
type ReadPayload struct {
	RoomID     string   `json:"room_id"`
	ReaderID   string   `json:"reader_id"`
	MessageIDs []string `json:"message_ids"`
}

// MarkRead records read receipts. The operation is idempotent: ids already in
// the reader's read set add nothing and rebroadcast nothing.
func (p *Pipeline) MarkRead(ctx context.Context, sender *models.Identity, roomID string, msgIDs []string) ([]string, error) {
	roomUUID, err := uuid.Parse(roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid room id", ErrInvalidInput)
	}
	if len(msgIDs) == 0 {
		return nil, fmt.Errorf("%w: message ids are required", ErrInvalidInput)
	}
	if err := p.authorize(ctx, roomUUID, sender.ID); err != nil {
		return nil, err
	}

	var newlyRead []string
	for _, id := range msgIDs {
		added, err := p.msgs.MarkRead(ctx, roomID, id, sender.ID.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
		}
		if added {
			newlyRead = append(newlyRead, id)
		}
	}

	if len(newlyRead) > 0 {
		p.bcast.ToRoomExcept(roomID, sender.ID.String(), "messages-read", ReadPayload{
			RoomID:     roomID,
			ReaderID:   sender.ID.String(),
			MessageIDs: newlyRead,
		})
	}
	return newlyRead, nil
}

// ReactionPayload is the fan-out delta for reaction-updated events.
type ReactionPayload struct {
	RoomID     string `json:"room_id"`
	MessageID  string `json:"message_id"`
	IdentityID string `json:"identity_id"`
	Emoji      string `json:"emoji"`
	Added      bool   `json:"added"`
}

// ToggleReaction flips one (identity, emoji) reaction: the second identical
// call removes what the first added.
func (p *Pipeline) ToggleReaction(ctx context.Context, sender *models.Identity, roomID, msgID, emoji string) (bool, error) {
	roomUUID, err := uuid.Parse(roomID)
	if err != nil {
		return false, fmt.Errorf("%w: invalid room id", ErrInvalidInput)
	}
	if msgID == "" || emoji == "" {
		return false, fmt.Errorf("%w: message id and emoji are required", ErrInvalidInput)
	}
	if err := p.authorize(ctx, roomUUID, sender.ID); err != nil {
		return false, err
	}

	msg, err := p.msgs.GetMessage(ctx, roomID, msgID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if msg == nil || msg.Deleted {
		return false, ErrMessageNotFound
	}

	added, err := p.msgs.ToggleReaction(ctx, roomID, msgID, sender.ID.String(), emoji)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	p.bcast.ToRoom(roomID, "reaction-updated", ReactionPayload{
		RoomID:     roomID,
		MessageID:  msgID,
		IdentityID: sender.ID.String(),
		Emoji:      emoji,
		Added:      added,
	})
	return added, nil
}

// History returns recent messages for a reconnecting client, newest first.
// Membership is checked against the store, not the in-memory snapshot.
func (p *Pipeline) History(ctx context.Context, sender *models.Identity, roomID string, before int64, limit int) ([]models.Message, error) {
	roomUUID, err := uuid.Parse(roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid room id", ErrInvalidInput)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if err := p.authorize(ctx, roomUUID, sender.ID); err != nil {
		return nil, err
	}

	msgs, err := p.msgs.ListMessages(ctx, roomID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return msgs, nil
}

// moderate routes content to the right classifier path for its kind.
func (p *Pipeline) moderate(ctx context.Context, content string, kind models.ContentKind) models.Verdict {
	if kind == models.ContentImage {
		return p.mod.CheckImage(ctx, content)
	}
	return p.mod.Check(ctx, content)
}

// block finalizes a blocked send: count it, schedule the guardian alert off
// the call stack, and build the sender-only rejection. Persistence and
// broadcast are never reached on this path.
func (p *Pipeline) block(sender *models.Identity, roomID uuid.UUID, content string, kind models.ContentKind, verdict models.Verdict) *SendResult {
	metrics.MessagesBlocked.WithLabelValues(string(kind)).Inc()
	p.logger.Info().
		Str("sender_id", sender.ID.String()).
		Str("room_id", roomID.String()).
		Str("kind", string(kind)).
		Float64("confidence", verdict.Confidence).
		Msg("message blocked by moderation")

	p.guardian.NotifyAsync(content, sender.ID, roomID, kind)

	return &SendResult{
		Blocked:     true,
		Reason:      verdict.Reason,
		UserMessage: BlockedUserMessage,
	}
}

// authorize verifies the room is live and the identity holds an active
// membership right now.
func (p *Pipeline) authorize(ctx context.Context, roomID, identityID uuid.UUID) error {
	room, err := p.db.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if room == nil || !room.Active {
		return ErrRoomNotFound
	}

	membership, err := p.db.GetMembership(ctx, roomID, identityID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if membership == nil || !membership.Active {
		return ErrNotRoomMember
	}
	return nil
}
