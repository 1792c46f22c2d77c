// Package gateway accepts and authenticates long-lived websocket connections,
// owns the room/presence directory, and dispatches inbound events to the
// messaging pipeline. One bad event reports an error back to its own
// connection and nothing else; only authentication failure terminates a
// connection.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/safenest/safenest/internal/metrics"
	"github.com/safenest/safenest/internal/models"
	"github.com/safenest/safenest/internal/pipeline"
	"github.com/safenest/safenest/internal/store"
)

// Gateway is the connection gateway.
type Gateway struct {
	auth     *Authenticator
	db       store.DataStore
	dir      *Directory
	pipe     *pipeline.Pipeline
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	eventRate  float64
	eventBurst int
}

// New creates a Gateway. The pipeline's Broadcaster must be the same
// directory passed here.
func New(auth *Authenticator, db store.DataStore, dir *Directory, pipe *pipeline.Pipeline, eventRate float64, eventBurst int, logger zerolog.Logger) *Gateway {
	return &Gateway{
		auth: auth,
		db:   db,
		dir:  dir,
		pipe: pipe,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin enforcement happens at the edge; tokens are the gate here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:     logger.With().Str("component", "gateway").Logger(),
		eventRate:  eventRate,
		eventBurst: eventBurst,
	}
}

// Directory exposes the broadcast primitive to the rest of the system.
func (g *Gateway) Directory() *Directory {
	return g.dir
}

// ServeWS authenticates and upgrades a websocket connection. Rejected
// connections get a structured error before any event dispatch is possible.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := g.auth.Authenticate(r.Context(), bearerToken(r))
	if err != nil {
		metrics.ConnectionsTotal.WithLabelValues("auth_failed").Inc()
		g.logger.Info().Err(err).Str("remote_addr", r.RemoteAddr).Msg("connection refused")
		writeAuthError(w, err)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own response.
		return
	}

	c := newClient(g, conn, identity)
	g.onConnect(c)

	go c.writePump()
	go c.readPump()
}

// onConnect records the connection, joins the identity's current rooms from a
// membership-store snapshot, and propagates presence-online.
func (g *Gateway) onConnect(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g.dir.Add(c)

	// Snapshot, not a subscription: membership changes after this instant are
	// caught by the pipeline's per-operation authorization re-check.
	rooms, err := g.db.ListIdentityRooms(ctx, c.identity.ID)
	if err != nil {
		g.logger.Error().Err(err).Str("identity_id", c.identityID()).Msg("failed to load room snapshot")
	}
	for _, room := range rooms {
		g.dir.JoinRoom(c, room.ID.String())
	}

	c.identity.Status = models.StatusOnline
	if err := g.db.UpdatePresence(ctx, c.identity.ID, models.StatusOnline); err != nil {
		g.logger.Warn().Err(err).Str("identity_id", c.identityID()).Msg("failed to persist presence")
	}
	for _, room := range rooms {
		g.dir.ToRoomExcept(room.ID.String(), c.identityID(), OutPresenceUpdate, presenceUpdatePayload{
			UserID: c.identityID(),
			Status: models.StatusOnline,
			Online: true,
		})
	}

	metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
	metrics.ConnectionsActive.Inc()
	g.logger.Info().
		Str("identity_id", c.identityID()).
		Int("rooms", len(rooms)).
		Msg("client connected")
}

// onDisconnect removes the connection record and propagates presence-offline.
// Guarded by the client's cleanupOnce, it runs exactly once per connection
// whether the client went away, logged out, or the process is shutting down.
func (g *Gateway) onDisconnect(c *Client) {
	rooms := g.dir.JoinedRooms(c)
	if !g.dir.Remove(c) {
		// Superseded by a newer connection for the same identity; the live
		// connection owns presence now.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := g.db.UpdatePresence(ctx, c.identity.ID, models.StatusOffline); err != nil {
		g.logger.Warn().Err(err).Str("identity_id", c.identityID()).Msg("failed to persist offline presence")
	}
	for _, roomID := range rooms {
		g.dir.ToRoom(roomID, OutPresenceUpdate, presenceUpdatePayload{
			UserID: c.identityID(),
			Status: models.StatusOffline,
			Online: false,
		})
	}

	metrics.ConnectionsActive.Dec()
	g.logger.Info().Str("identity_id", c.identityID()).Msg("client disconnected")
}

// dispatch routes one inbound event. Handler errors and panics are converted
// to an error event on the originating connection; the connection survives.
func (g *Gateway) dispatch(c *Client, raw []byte) {
	if !c.limiter.Allow() {
		metrics.EventsDropped.Inc()
		g.sendError(c, "rate_limited", "too many events, slow down")
		return
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		g.sendError(c, "invalid_event", "malformed event frame")
		return
	}
	metrics.EventsReceived.WithLabelValues(string(env.Event)).Inc()

	payload, err := decodeEvent(env)
	if err != nil {
		g.sendError(c, "invalid_event", err.Error())
		return
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().
				Interface("panic", r).
				Str("event", string(env.Event)).
				Str("identity_id", c.identityID()).
				Msg("handler panic recovered")
			g.sendError(c, "internal", "internal error")
		}
	}()

	// Deliberately not tied to the connection: a disconnect does not cancel
	// an in-flight operation. A send that completes after disconnect still
	// persists and reaches the other members.
	ctx := context.Background()

	if err := g.handleEvent(ctx, c, env.Event, payload); err != nil {
		g.reportError(c, env.Event, err)
	}
}

// handleEvent is the single exhaustive dispatcher over the closed event set.
func (g *Gateway) handleEvent(ctx context.Context, c *Client, kind EventKind, payload any) error {
	switch p := payload.(type) {
	case sendMessagePayload:
		return g.handleSend(ctx, c, p)
	case editMessagePayload:
		return g.handleEdit(ctx, c, p)
	case deleteMessagePayload:
		return g.pipe.DeleteMessage(ctx, c.identity, p.RoomID, p.MessageID)
	case markReadPayload:
		_, err := g.pipe.MarkRead(ctx, c.identity, p.RoomID, p.MessageIDs)
		return err
	case toggleReactionPayload:
		_, err := g.pipe.ToggleReaction(ctx, c.identity, p.RoomID, p.MessageID, p.Emoji)
		return err
	case roomPayload:
		switch kind {
		case EventTypingStart, EventTypingStop:
			return g.handleTyping(c, kind, p)
		case EventJoinRoom:
			return g.handleJoinRoom(ctx, c, p)
		case EventLeaveRoom:
			return g.handleLeaveRoom(c, p)
		}
		return nil
	case presencePayload:
		return g.handlePresence(ctx, c, p)
	case fetchHistoryPayload:
		return g.handleHistory(ctx, c, p)
	default:
		return errors.New("unhandled event payload")
	}
}

func (g *Gateway) handleSend(ctx context.Context, c *Client, p sendMessagePayload) error {
	res, err := g.pipe.SendMessage(ctx, c.identity, p.RoomID, p.Content, p.Kind, p.ReplyTo)
	if err != nil {
		return err
	}
	if res.Blocked {
		// Sender only. Other members never learn the message existed.
		g.dir.ToIdentity(c.identityID(), OutMessageBlocked, blockedPayload{
			RoomID:            p.RoomID,
			Reason:            string(res.Reason),
			UserFacingMessage: res.UserMessage,
		})
		return nil
	}
	g.dir.ToIdentity(c.identityID(), OutMessageSent, ackPayload{
		MessageID: res.Message.ID,
		Timestamp: res.Message.Timestamp,
	})
	return nil
}

func (g *Gateway) handleEdit(ctx context.Context, c *Client, p editMessagePayload) error {
	res, err := g.pipe.EditMessage(ctx, c.identity, p.RoomID, p.MessageID, p.Content)
	if err != nil {
		return err
	}
	if res.Blocked {
		g.dir.ToIdentity(c.identityID(), OutMessageBlocked, blockedPayload{
			RoomID:            p.RoomID,
			Reason:            string(res.Reason),
			UserFacingMessage: res.UserMessage,
		})
	}
	return nil
}

func (g *Gateway) handleTyping(c *Client, kind EventKind, p roomPayload) error {
	if !g.dir.InRoom(c, p.RoomID) {
		return pipeline.ErrNotRoomMember
	}
	event := OutTypingStart
	if kind == EventTypingStop {
		event = OutTypingStop
	}
	// Ephemeral: no persistence, no delivery guarantee.
	g.dir.ToRoomExcept(p.RoomID, c.identityID(), event, typingPayload{
		RoomID: p.RoomID,
		UserID: c.identityID(),
	})
	return nil
}

func (g *Gateway) handleJoinRoom(ctx context.Context, c *Client, p roomPayload) error {
	roomID, err := uuid.Parse(p.RoomID)
	if err != nil {
		return pipeline.ErrInvalidInput
	}
	room, err := g.db.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil || !room.Active {
		return pipeline.ErrRoomNotFound
	}
	membership, err := g.db.GetMembership(ctx, roomID, c.identity.ID)
	if err != nil {
		return err
	}
	if membership == nil || !membership.Active {
		return pipeline.ErrNotRoomMember
	}

	g.dir.JoinRoom(c, p.RoomID)
	g.dir.ToRoomExcept(p.RoomID, c.identityID(), OutUserJoinedChat, membershipChangedPayload{
		RoomID:      p.RoomID,
		UserID:      c.identityID(),
		DisplayName: c.identity.DisplayName,
	})
	return nil
}

func (g *Gateway) handleLeaveRoom(c *Client, p roomPayload) error {
	if !g.dir.InRoom(c, p.RoomID) {
		return nil
	}
	g.dir.LeaveRoom(c, p.RoomID)
	g.dir.ToRoom(p.RoomID, OutUserLeftChat, membershipChangedPayload{
		RoomID:      p.RoomID,
		UserID:      c.identityID(),
		DisplayName: c.identity.DisplayName,
	})
	return nil
}

func (g *Gateway) handlePresence(ctx context.Context, c *Client, p presencePayload) error {
	if !p.Status.Valid() {
		return pipeline.ErrInvalidInput
	}
	if err := g.db.UpdatePresence(ctx, c.identity.ID, p.Status); err != nil {
		return err
	}
	c.identity.Status = p.Status

	// Contacts are derived from shared-room membership: everyone currently in
	// a room channel with this identity hears about the change.
	update := presenceUpdatePayload{
		UserID: c.identityID(),
		Status: p.Status,
		Online: p.Status != models.StatusOffline,
	}
	for _, roomID := range g.dir.JoinedRooms(c) {
		g.dir.ToRoomExcept(roomID, c.identityID(), OutPresenceUpdate, update)
	}
	return nil
}

func (g *Gateway) handleHistory(ctx context.Context, c *Client, p fetchHistoryPayload) error {
	msgs, err := g.pipe.History(ctx, c.identity, p.RoomID, p.Before, p.Limit)
	if err != nil {
		return err
	}
	g.dir.ToIdentity(c.identityID(), OutHistory, historyPayload{
		RoomID:   p.RoomID,
		Messages: msgs,
	})
	return nil
}

// AnnounceChatCreated joins currently-connected members to a freshly created
// room's channel and tells them about it. Called by the internal API on
// behalf of the external chat-administration service.
func (g *Gateway) AnnounceChatCreated(ctx context.Context, roomID uuid.UUID) error {
	room, err := g.db.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return pipeline.ErrRoomNotFound
	}
	members, err := g.db.ListRoomMembers(ctx, roomID)
	if err != nil {
		return err
	}
	for _, m := range members {
		g.dir.JoinIdentity(m.IdentityID.String(), room.ID.String())
	}
	g.dir.ToRoom(room.ID.String(), OutChatCreated, room)
	return nil
}

// AnnounceParticipantsAdded joins newly added members' live connections to
// the room channel and notifies the room.
func (g *Gateway) AnnounceParticipantsAdded(ctx context.Context, roomID uuid.UUID, identityIDs []uuid.UUID) error {
	room, err := g.db.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return pipeline.ErrRoomNotFound
	}
	added := make([]string, 0, len(identityIDs))
	for _, id := range identityIDs {
		g.dir.JoinIdentity(id.String(), room.ID.String())
		added = append(added, id.String())
	}
	g.dir.ToRoom(room.ID.String(), OutParticipantsAdded, struct {
		RoomID       string   `json:"room_id"`
		Participants []string `json:"participants"`
	}{RoomID: room.ID.String(), Participants: added})
	return nil
}

// Shutdown closes every tracked connection, which drives each one through its
// normal disconnect cleanup.
func (g *Gateway) Shutdown() {
	for _, c := range g.dir.allClients() {
		c.conn.Close()
	}
}

// reportError converts a handler error to an error event on the originating
// connection.
func (g *Gateway) reportError(c *Client, kind EventKind, err error) {
	code, message := classifyError(err)
	metrics.EventErrors.WithLabelValues(string(kind), code).Inc()
	if code == "internal" || code == "send_failed" {
		g.logger.Error().Err(err).Str("event", string(kind)).Str("identity_id", c.identityID()).Msg("handler error")
	}
	g.sendError(c, code, message)
}

func (g *Gateway) sendError(c *Client, code, message string) {
	g.dir.ToIdentity(c.identityID(), OutError, errorPayload{Code: code, Message: message})
}

// classifyError maps pipeline errors to wire codes and user-safe messages.
// Upstream failures get a non-specific message so internal state never leaks.
func classifyError(err error) (code, message string) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput):
		return "invalid_input", err.Error()
	case errors.Is(err, pipeline.ErrRoomNotFound), errors.Is(err, pipeline.ErrMessageNotFound):
		return "not_found", err.Error()
	case errors.Is(err, pipeline.ErrNotRoomMember),
		errors.Is(err, pipeline.ErrInsufficientRole),
		errors.Is(err, pipeline.ErrNotMessageAuthor):
		return "forbidden", err.Error()
	case errors.Is(err, pipeline.ErrEditWindowClosed):
		return "edit_window_closed", pipeline.ErrEditWindowClosed.Error()
	case errors.Is(err, pipeline.ErrSendFailed):
		return "send_failed", "failed to send"
	default:
		return "internal", "internal error"
	}
}

// writeAuthError reports an authentication failure as structured JSON before
// the connection is refused.
func writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	if errors.Is(err, ErrIdentityInactive) {
		status = http.StatusForbidden
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
