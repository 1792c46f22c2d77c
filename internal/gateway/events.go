package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/safenest/safenest/internal/models"
)

// EventKind is the closed set of inbound socket events. Adding a kind means
// extending decodeEvent and the dispatcher switch, which keeps the change
// compile-time visible.
type EventKind string

const (
	EventSendMessage    EventKind = "send-message"
	EventEditMessage    EventKind = "edit-message"
	EventDeleteMessage  EventKind = "delete-message"
	EventMarkRead       EventKind = "mark-read"
	EventToggleReaction EventKind = "toggle-reaction"
	EventTypingStart    EventKind = "typing-start"
	EventTypingStop     EventKind = "typing-stop"
	EventUpdatePresence EventKind = "update-presence"
	EventJoinRoom       EventKind = "join-room"
	EventLeaveRoom      EventKind = "leave-room"
	EventFetchHistory   EventKind = "fetch-history"
)

// Outbound event names.
const (
	OutNewMessage        = "new-message"
	OutMessageEdited     = "message-edited"
	OutMessageDeleted    = "message-deleted"
	OutMessageBlocked    = "message-blocked"
	OutMessageSent       = "message-sent"
	OutMessagesRead      = "messages-read"
	OutReactionUpdated   = "reaction-updated"
	OutPresenceUpdate    = "presence-update"
	OutUserJoinedChat    = "user-joined-chat"
	OutUserLeftChat      = "user-left-chat"
	OutChatCreated       = "chat-created"
	OutParticipantsAdded = "participants-added"
	OutHistory           = "history"
	OutTypingStart       = "typing-start"
	OutTypingStop        = "typing-stop"
	OutError             = "error"
)

// envelope is the wire frame for every inbound event.
type envelope struct {
	Event   EventKind       `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound payloads.

type sendMessagePayload struct {
	RoomID  string             `json:"room_id"`
	Content string             `json:"content"`
	Kind    models.ContentKind `json:"content_kind,omitempty"`
	ReplyTo string             `json:"reply_to,omitempty"`
}

type editMessagePayload struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type deleteMessagePayload struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
}

type markReadPayload struct {
	RoomID     string   `json:"room_id"`
	MessageIDs []string `json:"message_ids"`
}

type toggleReactionPayload struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type roomPayload struct {
	RoomID string `json:"room_id"`
}

type presencePayload struct {
	Status models.PresenceStatus `json:"status"`
}

type fetchHistoryPayload struct {
	RoomID string `json:"room_id"`
	Before int64  `json:"before,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// decodeEvent decodes an envelope's payload into its typed form. Unknown
// kinds are rejected here, before any handler runs.
func decodeEvent(env envelope) (any, error) {
	var (
		payload any
		err     error
	)

	switch env.Event {
	case EventSendMessage:
		p := sendMessagePayload{}
		err = json.Unmarshal(env.Payload, &p)
		payload = p
	case EventEditMessage:
		p := editMessagePayload{}
		err = json.Unmarshal(env.Payload, &p)
		payload = p
	case EventDeleteMessage:
		p := deleteMessagePayload{}
		err = json.Unmarshal(env.Payload, &p)
		payload = p
	case EventMarkRead:
		p := markReadPayload{}
		err = json.Unmarshal(env.Payload, &p)
		payload = p
	case EventToggleReaction:
		p := toggleReactionPayload{}
		err = json.Unmarshal(env.Payload, &p)
		payload = p
	case EventTypingStart, EventTypingStop, EventJoinRoom, EventLeaveRoom:
		p := roomPayload{}
		err = json.Unmarshal(env.Payload, &p)
		payload = p
	case EventUpdatePresence:
		p := presencePayload{}
		err = json.Unmarshal(env.Payload, &p)
		payload = p
	case EventFetchHistory:
		p := fetchHistoryPayload{}
		err = json.Unmarshal(env.Payload, &p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}

	if err != nil {
		return nil, fmt.Errorf("malformed %s payload: %w", env.Event, err)
	}
	return payload, nil
}

// Outbound payloads built by the gateway itself.

type presenceUpdatePayload struct {
	UserID string                `json:"user_id"`
	Status models.PresenceStatus `json:"status"`
	Online bool                  `json:"online"`
}

type typingPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type membershipChangedPayload struct {
	RoomID      string `json:"room_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type blockedPayload struct {
	RoomID            string `json:"room_id"`
	Reason            string `json:"reason"`
	UserFacingMessage string `json:"user_facing_message"`
}

type ackPayload struct {
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"ts"`
}

type historyPayload struct {
	RoomID   string           `json:"room_id"`
	Messages []models.Message `json:"messages"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
