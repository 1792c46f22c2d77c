package gateway

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/safenest/safenest/internal/metrics"
)

// Directory owns the identity↔connection mapping and room channel sets. It is
// the single writer for both: only Add/Remove/JoinRoom/LeaveRoom mutate, every
// broadcast only reads. An identity has at most one tracked connection; a new
// connection supersedes the old one's tracking without closing it.
//
// Delivery through the directory is at-most-once to currently-connected
// members. There is no queueing: an identity with no live connection silently
// drops the event. This is a presence layer, not a message bus.
type Directory struct {
	mu         sync.RWMutex
	byIdentity map[string]*Client            // identity id -> current client
	rooms      map[string]map[string]*Client // room id -> identity id -> client
	logger     zerolog.Logger
}

// NewDirectory creates an empty Directory.
func NewDirectory(logger zerolog.Logger) *Directory {
	return &Directory{
		byIdentity: make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		logger:     logger.With().Str("component", "directory").Logger(),
	}
}

// Add records a client as its identity's current connection. Returns the
// superseded client, if any; the caller decides what to tell it.
func (d *Directory) Add(c *Client) *Client {
	d.mu.Lock()
	defer d.mu.Unlock()

	old := d.byIdentity[c.identityID()]
	d.byIdentity[c.identityID()] = c
	if old != nil {
		// The superseded connection stops receiving room traffic; it is not
		// closed.
		for roomID, members := range d.rooms {
			if members[c.identityID()] == old {
				delete(members, c.identityID())
				if len(members) == 0 {
					delete(d.rooms, roomID)
				}
			}
		}
	}
	return old
}

// Remove drops a client from the directory and from every room channel.
// Returns false when the client was already superseded, so disconnect
// handling for a stale connection does not disturb the live one.
func (d *Directory) Remove(c *Client) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.byIdentity[c.identityID()]
	if current != c {
		return false
	}
	delete(d.byIdentity, c.identityID())
	for roomID, members := range d.rooms {
		if members[c.identityID()] == c {
			delete(members, c.identityID())
			if len(members) == 0 {
				delete(d.rooms, roomID)
			}
		}
	}
	return true
}

// JoinRoom adds the client to a room channel. Channel membership only; the
// persistent membership store is not touched.
func (d *Directory) JoinRoom(c *Client, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		d.rooms[roomID] = members
	}
	members[c.identityID()] = c
}

// JoinIdentity adds an identity's current connection, if any, to a room
// channel. Used when membership changes arrive from the external
// administration service while the identity is online.
func (d *Directory) JoinIdentity(identityID, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := d.byIdentity[identityID]
	if c == nil {
		return
	}
	members, ok := d.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		d.rooms[roomID] = members
	}
	members[identityID] = c
}

// LeaveRoom removes the client from a room channel.
func (d *Directory) LeaveRoom(c *Client, roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if members, ok := d.rooms[roomID]; ok {
		if members[c.identityID()] == c {
			delete(members, c.identityID())
			if len(members) == 0 {
				delete(d.rooms, roomID)
			}
		}
	}
}

// JoinedRooms returns the room ids the client currently belongs to.
func (d *Directory) JoinedRooms(c *Client) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []string
	for roomID, members := range d.rooms {
		if members[c.identityID()] == c {
			ids = append(ids, roomID)
		}
	}
	return ids
}

// InRoom reports whether the client currently belongs to a room channel.
func (d *Directory) InRoom(c *Client, roomID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[roomID][c.identityID()] == c
}

// IsConnected reports whether the identity has a live tracked connection.
func (d *Directory) IsConnected(identityID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byIdentity[identityID]
	return ok
}

// ConnectionCount returns the number of tracked connections.
func (d *Directory) ConnectionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byIdentity)
}

// ToRoom fans an event out to every connected member of a room.
func (d *Directory) ToRoom(roomID, event string, payload any) {
	d.ToRoomExcept(roomID, "", event, payload)
}

// ToRoomExcept fans an event out to every connected member of a room except
// one identity, typically the originator.
func (d *Directory) ToRoomExcept(roomID, exceptIdentityID, event string, payload any) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		d.logger.Error().Err(err).Str("event", event).Msg("failed to marshal broadcast")
		return
	}

	d.mu.RLock()
	members := d.rooms[roomID]
	targets := make([]*Client, 0, len(members))
	for identityID, c := range members {
		if identityID == exceptIdentityID {
			continue
		}
		targets = append(targets, c)
	}
	d.mu.RUnlock()

	metrics.BroadcastFanout.Observe(float64(len(targets)))
	for _, c := range targets {
		c.enqueue(data)
	}
}

// ToIdentity delivers an event to one identity's current connection, if any.
func (d *Directory) ToIdentity(identityID, event string, payload any) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		d.logger.Error().Err(err).Str("event", event).Msg("failed to marshal event")
		return
	}

	d.mu.RLock()
	c := d.byIdentity[identityID]
	d.mu.RUnlock()

	if c != nil {
		c.enqueue(data)
	}
}

// ToAll delivers an event to every tracked connection.
func (d *Directory) ToAll(event string, payload any) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		d.logger.Error().Err(err).Str("event", event).Msg("failed to marshal event")
		return
	}

	d.mu.RLock()
	targets := make([]*Client, 0, len(d.byIdentity))
	for _, c := range d.byIdentity {
		targets = append(targets, c)
	}
	d.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

// allClients snapshots every tracked connection, used at shutdown.
func (d *Directory) allClients() []*Client {
	d.mu.RLock()
	defer d.mu.RUnlock()

	clients := make([]*Client, 0, len(d.byIdentity))
	for _, c := range d.byIdentity {
		clients = append(clients, c)
	}
	return clients
}

// marshalEvent frames an outbound event.
func marshalEvent(event string, payload any) ([]byte, error) {
	return json.Marshal(struct {
		Event   string `json:"event"`
		Payload any    `json:"payload"`
	}{Event: event, Payload: payload})
}
