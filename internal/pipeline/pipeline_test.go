package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/safenest/safenest/internal/models"
)

// fakeDB is an in-memory DataStore.
type fakeDB struct {
	identities  map[uuid.UUID]*models.Identity
	rooms       map[uuid.UUID]*models.Room
	memberships map[string]*models.Membership
	incidents   []*models.Incident
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		identities:  make(map[uuid.UUID]*models.Identity),
		rooms:       make(map[uuid.UUID]*models.Room),
		memberships: make(map[string]*models.Membership),
	}
}

func memberKey(roomID, identityID uuid.UUID) string {
	return roomID.String() + "|" + identityID.String()
}

func (f *fakeDB) Close() {}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	return f.identities[id], nil
}
func (f *fakeDB) UpdatePresence(ctx context.Context, id uuid.UUID, status models.PresenceStatus) error {
	if ident, ok := f.identities[id]; ok {
		ident.Status = status
	}
	return nil
}
func (f *fakeDB) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return f.rooms[id], nil
}
func (f *fakeDB) GetMembership(ctx context.Context, roomID, identityID uuid.UUID) (*models.Membership, error) {
	return f.memberships[memberKey(roomID, identityID)], nil
}
func (f *fakeDB) ListRoomMembers(ctx context.Context, roomID uuid.UUID) ([]models.Membership, error) {
	var members []models.Membership
	for _, m := range f.memberships {
		if m.RoomID == roomID && m.Active {
			members = append(members, *m)
		}
	}
	return members, nil
}
func (f *fakeDB) ListIdentityRooms(ctx context.Context, identityID uuid.UUID) ([]models.Room, error) {
	var rooms []models.Room
	for _, m := range f.memberships {
		if m.IdentityID == identityID && m.Active {
			if r, ok := f.rooms[m.RoomID]; ok && r.Active {
				rooms = append(rooms, *r)
			}
		}
	}
	return rooms, nil
}
func (f *fakeDB) UpdateRoomActivity(ctx context.Context, id uuid.UUID, lastMessageID string) error {
	if r, ok := f.rooms[id]; ok {
		r.LastMessageID = lastMessageID
		r.LastActiveAt = time.Now()
	}
	return nil
}
func (f *fakeDB) RecordIncident(ctx context.Context, inc *models.Incident) error {
	f.incidents = append(f.incidents, inc)
	return nil
}

// fakeMsgs is an in-memory MessageStore with error injection.
type fakeMsgs struct {
	messages  map[string]*models.Message // key room|msg
	readers   map[string]map[string]bool // key room|msg -> identity set
	reactions map[string]map[string]bool // key room|msg|emoji -> identity set
	addErr    error
}

func newFakeMsgs() *fakeMsgs {
	return &fakeMsgs{
		messages:  make(map[string]*models.Message),
		readers:   make(map[string]map[string]bool),
		reactions: make(map[string]map[string]bool),
	}
}

func msgKey(roomID, msgID string) string { return roomID + "|" + msgID }

func (f *fakeMsgs) AddMessage(ctx context.Context, msg *models.Message) error {
	if f.addErr != nil {
		return f.addErr
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	cp := *msg
	f.messages[msgKey(msg.RoomID, msg.ID)] = &cp
	return nil
}
func (f *fakeMsgs) GetMessage(ctx context.Context, roomID, msgID string) (*models.Message, error) {
	m, ok := f.messages[msgKey(roomID, msgID)]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}
func (f *fakeMsgs) UpdateMessage(ctx context.Context, msg *models.Message) error {
	cp := *msg
	f.messages[msgKey(msg.RoomID, msg.ID)] = &cp
	return nil
}
func (f *fakeMsgs) ListMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	var out []models.Message
	for _, m := range f.messages {
		if m.RoomID == roomID {
			out = append(out, *m)
		}
	}
	return out, nil
}
func (f *fakeMsgs) MarkRead(ctx context.Context, roomID, msgID, identityID string) (bool, error) {
	key := msgKey(roomID, msgID)
	if f.readers[key] == nil {
		f.readers[key] = make(map[string]bool)
	}
	if f.readers[key][identityID] {
		return false, nil
	}
	f.readers[key][identityID] = true
	return true, nil
}
func (f *fakeMsgs) ToggleReaction(ctx context.Context, roomID, msgID, identityID, emoji string) (bool, error) {
	key := msgKey(roomID, msgID) + "|" + emoji
	if f.reactions[key] == nil {
		f.reactions[key] = make(map[string]bool)
	}
	if f.reactions[key][identityID] {
		delete(f.reactions[key], identityID)
		return false, nil
	}
	f.reactions[key][identityID] = true
	return true, nil
}

// fakeMod returns scripted verdicts and records whether it was called.
type fakeMod struct {
	verdict models.Verdict
	calls   int
}

func (f *fakeMod) Check(ctx context.Context, text string) models.Verdict {
	f.calls++
	return f.verdict
}
func (f *fakeMod) CheckImage(ctx context.Context, ref string) models.Verdict {
	f.calls++
	return f.verdict
}

// fakeNotifier records guardian alert requests.
type fakeNotifier struct {
	alerts []string
}

func (f *fakeNotifier) NotifyAsync(blockedText string, senderID, roomID uuid.UUID, kind models.ContentKind) {
	f.alerts = append(f.alerts, blockedText)
}

// fakeBcast records fan-out events.
type broadcastCall struct {
	roomID  string
	except  string
	event   string
	payload any
}

type fakeBcast struct {
	calls []broadcastCall
}

func (f *fakeBcast) ToRoom(roomID, event string, payload any) {
	f.calls = append(f.calls, broadcastCall{roomID: roomID, event: event, payload: payload})
}
func (f *fakeBcast) ToRoomExcept(roomID, except, event string, payload any) {
	f.calls = append(f.calls, broadcastCall{roomID: roomID, except: except, event: event, payload: payload})
}
func (f *fakeBcast) ToIdentity(identityID, event string, payload any) {
	f.calls = append(f.calls, broadcastCall{roomID: identityID, event: event, payload: payload})
}

func (f *fakeBcast) events() []string {
	var names []string
	for _, c := range f.calls {
		names = append(names, c.event)
	}
	return names
}

type fixture struct {
	pipe   *Pipeline
	db     *fakeDB
	msgs   *fakeMsgs
	mod    *fakeMod
	notify *fakeNotifier
	bcast  *fakeBcast
	sender *models.Identity
	room   *models.Room
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newFakeDB()
	msgs := newFakeMsgs()
	mod := &fakeMod{}
	notify := &fakeNotifier{}
	bcast := &fakeBcast{}

	sender := &models.Identity{
		ID:          uuid.New(),
		DisplayName: "Alice",
		Active:      true,
	}
	room := &models.Room{ID: uuid.New(), Active: true, IsGroup: true}

	db.identities[sender.ID] = sender
	db.rooms[room.ID] = room
	db.memberships[memberKey(room.ID, sender.ID)] = &models.Membership{
		RoomID:     room.ID,
		IdentityID: sender.ID,
		Role:       models.RoleMember,
		Active:     true,
	}

	return &fixture{
		pipe:   New(db, msgs, mod, notify, bcast, zerolog.Nop()),
		db:     db,
		msgs:   msgs,
		mod:    mod,
		notify: notify,
		bcast:  bcast,
		sender: sender,
		room:   room,
	}
}

func TestSendMessageApproved(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipe.SendMessage(context.Background(), f.sender, f.room.ID.String(), "hello", models.ContentText, "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Blocked {
		t.Fatal("safe message blocked")
	}
	if res.Message == nil || res.Message.ID == "" {
		t.Fatal("expected persisted message with id")
	}
	if len(f.msgs.messages) != 1 {
		t.Fatalf("stored %d messages, want 1", len(f.msgs.messages))
	}
	if f.db.rooms[f.room.ID].LastMessageID != res.Message.ID {
		t.Error("room activity pointer not updated")
	}

	if len(f.bcast.calls) != 1 || f.bcast.calls[0].event != "new-message" {
		t.Fatalf("broadcast events = %v, want [new-message]", f.bcast.events())
	}
	if f.bcast.calls[0].roomID != f.room.ID.String() {
		t.Errorf("broadcast room = %s, want %s", f.bcast.calls[0].roomID, f.room.ID)
	}
}

func TestSendMessageBlockedNeverPersistsOrBroadcasts(t *testing.T) {
	f := newFixture(t)
	f.mod.verdict = models.Verdict{Blocked: true, Reason: models.ReasonUnsafeText}

	res, err := f.pipe.SendMessage(context.Background(), f.sender, f.room.ID.String(), "nasty words", models.ContentText, "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !res.Blocked {
		t.Fatal("expected blocked result")
	}
	if res.Reason != models.ReasonUnsafeText {
		t.Errorf("reason = %q, want %q", res.Reason, models.ReasonUnsafeText)
	}
	if res.UserMessage != BlockedUserMessage {
		t.Errorf("user message = %q", res.UserMessage)
	}

	if len(f.msgs.messages) != 0 {
		t.Error("blocked message reached the message store")
	}
	if len(f.bcast.calls) != 0 {
		t.Errorf("blocked message broadcast: %v", f.bcast.events())
	}
	if len(f.notify.alerts) != 1 || f.notify.alerts[0] != "nasty words" {
		t.Errorf("guardian alerts = %v, want the blocked text", f.notify.alerts)
	}
}

func TestSendMessageFailOpenStillDelivers(t *testing.T) {
	f := newFixture(t)
	f.mod.verdict = models.Verdict{Blocked: false, Reason: models.ReasonServiceFallback}

	res, err := f.pipe.SendMessage(context.Background(), f.sender, f.room.ID.String(), "hello", models.ContentText, "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Blocked {
		t.Fatal("fail-open send blocked")
	}
	if len(f.msgs.messages) != 1 {
		t.Error("fail-open message not persisted")
	}
	if len(f.notify.alerts) != 0 {
		t.Error("fail-open approval scheduled a guardian alert")
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		roomID  string
		content string
	}{
		{"empty content", f.room.ID.String(), ""},
		{"whitespace content", f.room.ID.String(), "   \n"},
		{"bad room id", "not-a-uuid", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pipe.SendMessage(context.Background(), f.sender, tt.roomID, tt.content, models.ContentText, "")
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}

	if f.mod.calls != 0 {
		t.Errorf("moderation called %d times before validation passed", f.mod.calls)
	}
}

func TestSendMessageMembershipRecheckedAtPersistence(t *testing.T) {
	f := newFixture(t)

	// The sender held a membership at connect time but was removed
	// mid-session.
	f.db.memberships[memberKey(f.room.ID, f.sender.ID)].Active = false

	_, err := f.pipe.SendMessage(context.Background(), f.sender, f.room.ID.String(), "hello", models.ContentText, "")
	if !errors.Is(err, ErrNotRoomMember) {
		t.Fatalf("err = %v, want ErrNotRoomMember", err)
	}
	if len(f.msgs.messages) != 0 {
		t.Error("unauthorized message persisted")
	}
}

func TestSendMessageInactiveRoom(t *testing.T) {
	f := newFixture(t)
	f.room.Active = false

	_, err := f.pipe.SendMessage(context.Background(), f.sender, f.room.ID.String(), "hello", models.ContentText, "")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestSendMessagePersistenceFailureAbortsBeforeBroadcast(t *testing.T) {
	f := newFixture(t)
	f.msgs.addErr = fmt.Errorf("redis down")

	_, err := f.pipe.SendMessage(context.Background(), f.sender, f.room.ID.String(), "hello", models.ContentText, "")
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("err = %v, want ErrSendFailed", err)
	}
	if len(f.bcast.calls) != 0 {
		t.Error("unsaved message was broadcast")
	}
}

func TestSendMessageReplyToMissingParent(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipe.SendMessage(context.Background(), f.sender, f.room.ID.String(), "hello", models.ContentText, "01JMISSING")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func seedMessage(f *fixture, age time.Duration) *models.Message {
	msg := &models.Message{
		RoomID:    f.room.ID.String(),
		SenderID:  f.sender.ID.String(),
		Body:      "original",
		Kind:      models.ContentText,
		Timestamp: time.Now().Add(-age).UnixMilli(),
	}
	f.msgs.AddMessage(context.Background(), msg)
	return msg
}

func TestEditMessageWindow(t *testing.T) {
	f := newFixture(t)

	fresh := seedMessage(f, 14*time.Minute)
	stale := seedMessage(f, 16*time.Minute)

	res, err := f.pipe.EditMessage(context.Background(), f.sender, f.room.ID.String(), fresh.ID, "updated")
	if err != nil {
		t.Fatalf("edit at 14 minutes: %v", err)
	}
	if res.Message.Body != "updated" || res.Message.EditedAt == 0 {
		t.Error("edit not applied")
	}

	_, err = f.pipe.EditMessage(context.Background(), f.sender, f.room.ID.String(), stale.ID, "updated")
	if !errors.Is(err, ErrEditWindowClosed) {
		t.Fatalf("edit at 16 minutes: err = %v, want ErrEditWindowClosed", err)
	}
}

func TestEditMessageAuthorOnly(t *testing.T) {
	f := newFixture(t)
	msg := seedMessage(f, time.Minute)

	other := &models.Identity{ID: uuid.New(), DisplayName: "Mallory", Active: true}
	f.db.memberships[memberKey(f.room.ID, other.ID)] = &models.Membership{
		RoomID: f.room.ID, IdentityID: other.ID, Role: models.RoleModerator, Active: true,
	}

	// Even a moderator cannot edit someone else's message.
	_, err := f.pipe.EditMessage(context.Background(), other, f.room.ID.String(), msg.ID, "hijacked")
	if !errors.Is(err, ErrNotMessageAuthor) {
		t.Fatalf("err = %v, want ErrNotMessageAuthor", err)
	}
}

func TestEditMessageRemoderatesText(t *testing.T) {
	f := newFixture(t)
	msg := seedMessage(f, time.Minute)

	f.mod.verdict = models.Verdict{Blocked: true, Reason: models.ReasonUnsafeText}

	res, err := f.pipe.EditMessage(context.Background(), f.sender, f.room.ID.String(), msg.ID, "now nasty")
	if err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if !res.Blocked {
		t.Fatal("unsafe edit not blocked")
	}

	stored, _ := f.msgs.GetMessage(context.Background(), f.room.ID.String(), msg.ID)
	if stored.Body != "original" {
		t.Errorf("blocked edit changed stored body to %q", stored.Body)
	}
	if len(f.notify.alerts) != 1 {
		t.Errorf("guardian alerts = %d, want 1", len(f.notify.alerts))
	}
}

func TestDeleteMessageRoles(t *testing.T) {
	f := newFixture(t)

	moderator := &models.Identity{ID: uuid.New(), DisplayName: "Mod", Active: true}
	member := &models.Identity{ID: uuid.New(), DisplayName: "Bob", Active: true}
	f.db.memberships[memberKey(f.room.ID, moderator.ID)] = &models.Membership{
		RoomID: f.room.ID, IdentityID: moderator.ID, Role: models.RoleModerator, Active: true,
	}
	f.db.memberships[memberKey(f.room.ID, member.ID)] = &models.Membership{
		RoomID: f.room.ID, IdentityID: member.ID, Role: models.RoleMember, Active: true,
	}

	// Plain member cannot delete someone else's message.
	msg := seedMessage(f, time.Minute)
	if err := f.pipe.DeleteMessage(context.Background(), member, f.room.ID.String(), msg.ID); !errors.Is(err, ErrInsufficientRole) {
		t.Fatalf("member delete: err = %v, want ErrInsufficientRole", err)
	}

	// Author can.
	if err := f.pipe.DeleteMessage(context.Background(), f.sender, f.room.ID.String(), msg.ID); err != nil {
		t.Fatalf("author delete: %v", err)
	}
	stored, _ := f.msgs.GetMessage(context.Background(), f.room.ID.String(), msg.ID)
	if !stored.Deleted || stored.Body != "" {
		t.Error("delete did not tombstone the message")
	}

	// Moderator can delete another author's message.
	msg2 := seedMessage(f, time.Minute)
	if err := f.pipe.DeleteMessage(context.Background(), moderator, f.room.ID.String(), msg2.ID); err != nil {
		t.Fatalf("moderator delete: %v", err)
	}
}

func TestMarkReadIdempotent(t *testing.T) {
	f := newFixture(t)
	m1 := seedMessage(f, time.Minute)
	m2 := seedMessage(f, time.Minute)
	ids := []string{m1.ID, m2.ID}

	first, err := f.pipe.MarkRead(context.Background(), f.sender, f.room.ID.String(), ids)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first call marked %d, want 2", len(first))
	}

	second, err := f.pipe.MarkRead(context.Background(), f.sender, f.room.ID.String(), ids)
	if err != nil {
		t.Fatalf("MarkRead repeat: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second call marked %d, want 0", len(second))
	}

	// Only the first call broadcast a delta.
	reads := 0
	for _, c := range f.bcast.calls {
		if c.event == "messages-read" {
			reads++
		}
	}
	if reads != 1 {
		t.Errorf("messages-read broadcasts = %d, want 1", reads)
	}
}

func TestToggleReactionBothDirections(t *testing.T) {
	f := newFixture(t)
	msg := seedMessage(f, time.Minute)

	added, err := f.pipe.ToggleReaction(context.Background(), f.sender, f.room.ID.String(), msg.ID, "🔥")
	if err != nil || !added {
		t.Fatalf("first toggle: added=%v err=%v, want true", added, err)
	}

	// The second identical call is the removal direction.
	added, err = f.pipe.ToggleReaction(context.Background(), f.sender, f.room.ID.String(), msg.ID, "🔥")
	if err != nil || added {
		t.Fatalf("second toggle: added=%v err=%v, want false", added, err)
	}

	added, err = f.pipe.ToggleReaction(context.Background(), f.sender, f.room.ID.String(), msg.ID, "🔥")
	if err != nil || !added {
		t.Fatalf("third toggle: added=%v err=%v, want true", added, err)
	}
}

func TestHistoryRequiresMembership(t *testing.T) {
	f := newFixture(t)
	seedMessage(f, time.Minute)

	stranger := &models.Identity{ID: uuid.New(), DisplayName: "Eve", Active: true}
	_, err := f.pipe.History(context.Background(), stranger, f.room.ID.String(), 0, 50)
	if !errors.Is(err, ErrNotRoomMember) {
		t.Fatalf("err = %v, want ErrNotRoomMember", err)
	}

	msgs, err := f.pipe.History(context.Background(), f.sender, f.room.ID.String(), 0, 50)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("history returned %d messages, want 1", len(msgs))
	}
}
