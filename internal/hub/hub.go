// internal/hub/hub.go
// Provides the Hub, the owner of the client registry and room membership index.
package hub

import (
	"sync"

	"github.com/cardroom/switchboard/internal/logger"
	"github.com/cardroom/switchboard/internal/message"
	"github.com/cardroom/switchboard/internal/presence"
)

const defaultQueueSize = 256

// membershipRequest asks the hub loop to change a client's room membership.
// When client is set the change applies only to that exact record; otherwise
// it applies to whichever record is currently live for the username. reply,
// if non-nil, receives whether a live connection was found.
type membershipRequest struct {
	room     string
	username string
	client   *Client
	join     bool
	reply    chan bool
}

type presenceQuery struct {
	username string
	reply    chan bool
}

type snapshotQuery struct {
	reply chan Snapshot
}

// Snapshot is a point-in-time copy of the hub's presence state.
type Snapshot struct {
	Online []string
	Rooms  map[string][]string
}

// Hub owns the registry (username to live client record) and the room
// membership index. A single goroutine started by Run serializes every
// mutation and query; nothing else touches the maps, so the hub holds no
// locks. All exported methods are safe from any goroutine and become no-ops
// once Stop has been called.
type Hub struct {
	registry map[string]*Client
	rooms    map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	direct     chan message.Message
	room       chan message.Message
	broadcast  chan message.Message
	membership chan membershipRequest
	presenceQ  chan presenceQuery
	snapshotQ  chan snapshotQuery

	done     chan struct{}
	stopOnce sync.Once

	queueSize int
	notifier  presence.Notifier
	logger    *logger.Logger
}

// NewHub creates a new Hub instance. queueSize bounds each client's outbound
// queue; values below one fall back to the default. The notifier receives
// every online/offline transition from the hub loop.
func NewHub(queueSize int, notifier presence.Notifier, logger *logger.Logger) *Hub {
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}
	if notifier == nil {
		notifier = presence.Nop{}
	}
	return &Hub{
		registry:   make(map[string]*Client),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan message.Message),
		room:       make(chan message.Message),
		broadcast:  make(chan message.Message),
		membership: make(chan membershipRequest),
		presenceQ:  make(chan presenceQuery),
		snapshotQ:  make(chan snapshotQuery),
		done:       make(chan struct{}),
		queueSize:  queueSize,
		notifier:   notifier,
		logger:     logger,
	}
}

// Run starts the hub's event loop. It returns after Stop, once every
// remaining client has been retired.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.install(client)

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.direct:
			h.routeDirect(msg)

		case msg := <-h.room:
			h.routeRoom(msg)

		case msg := <-h.broadcast:
			h.routeAll(msg)

		case req := <-h.membership:
			ok := h.applyMembership(req)
			if req.reply != nil {
				req.reply <- ok
			}

		case q := <-h.presenceQ:
			_, ok := h.registry[q.username]
			q.reply <- ok

		case q := <-h.snapshotQ:
			q.reply <- h.snapshot()

		case <-h.done:
			for _, client := range h.registry {
				h.retire(client, true)
			}
			return
		}
	}
}

// Stop shuts the hub down. Idempotent.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register hands a fully formed client record to the hub loop, reporting
// whether the loop received it. Registration is refused once Stop has been
// called, so a caller seeing false must close the connection itself.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister retires the record if it is still the live one for its
// username. Safe to call any number of times, from either pump.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// RouteDirect delivers msg to its receiver's outbound queue, best effort.
func (h *Hub) RouteDirect(msg message.Message) {
	select {
	case h.direct <- msg:
	case <-h.done:
	}
}

// RouteToRoom delivers msg to every current member of its room, best effort.
func (h *Hub) RouteToRoom(msg message.Message) {
	select {
	case h.room <- msg:
	case <-h.done:
	}
}

// RouteAll delivers msg to every registered client, best effort. Not
// reachable from the wire; used for server announcements.
func (h *Hub) RouteAll(msg message.Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// JoinRoom adds the exact record to the room's member set.
func (h *Hub) JoinRoom(roomID string, client *Client) {
	select {
	case h.membership <- membershipRequest{room: roomID, username: client.Username, client: client, join: true}:
	case <-h.done:
	}
}

// LeaveRoom removes the exact record from the room's member set, pruning the
// room if it becomes empty. Leaving a room never joined is a no-op.
func (h *Hub) LeaveRoom(roomID string, client *Client) {
	select {
	case h.membership <- membershipRequest{room: roomID, username: client.Username, client: client, join: false}:
	case <-h.done:
	}
}

// JoinRoomUser joins the username's live connection to the room, reporting
// whether such a connection exists. Used by the HTTP join handler, which
// holds a username rather than a record.
func (h *Hub) JoinRoomUser(roomID, username string) bool {
	return h.requestMembership(membershipRequest{room: roomID, username: username, join: true})
}

// LeaveRoomUser removes the username's live connection from the room.
func (h *Hub) LeaveRoomUser(roomID, username string) bool {
	return h.requestMembership(membershipRequest{room: roomID, username: username, join: false})
}

func (h *Hub) requestMembership(req membershipRequest) bool {
	req.reply = make(chan bool, 1)
	select {
	case h.membership <- req:
	case <-h.done:
		return false
	}
	select {
	case ok := <-req.reply:
		return ok
	case <-h.done:
		return false
	}
}

// IsOnline reports whether a live registry entry exists for the username.
func (h *Hub) IsOnline(username string) bool {
	reply := make(chan bool, 1)
	select {
	case h.presenceQ <- presenceQuery{username: username, reply: reply}:
	case <-h.done:
		return false
	}
	select {
	case online := <-reply:
		return online
	case <-h.done:
		return false
	}
}

// Snapshot returns a copy of the hub's current presence state.
func (h *Hub) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case h.snapshotQ <- snapshotQuery{reply: reply}:
	case <-h.done:
		return Snapshot{}
	}
	select {
	case snap := <-reply:
		return snap
	case <-h.done:
		return Snapshot{}
	}
}

// OnlineUsers returns the usernames currently registered, order unspecified.
func (h *Hub) OnlineUsers() []string {
	return h.Snapshot().Online
}

// install puts the client in the registry, retiring any previous record
// under the same username first. The username stays online across a swap,
// so only the install emits a presence event. Re-submitting the record that
// is already live is a no-op, and a record the hub has retired stays out:
// its queue is closed for good.
func (h *Hub) install(client *Client) {
	if client.retired {
		h.logger.Warnf("Registration of retired record dropped: %s (%s)", client.Username, client.ID)
		return
	}
	if old, ok := h.registry[client.Username]; ok {
		if old == client {
			return
		}
		h.retire(old, false)
		h.logger.Infof("Client replaced: %s (%s -> %s)", client.Username, old.ID, client.ID)
	}
	client.online = true
	h.registry[client.Username] = client
	h.notifier.Notify(client.Username, true)
	h.logger.Infof("Client registered: %s (%s)", client.Username, client.ID)
}

// remove handles an unregister request from a pump. Records already retired,
// or replaced by a newer connection, are ignored.
func (h *Hub) remove(client *Client) {
	if current, ok := h.registry[client.Username]; !ok || current != client {
		return
	}
	h.retire(client, true)
	h.logger.Infof("Client unregistered: %s (%s)", client.Username, client.ID)
}

// retire takes the client out of the registry and every room, pruning rooms
// that become empty, and closes its outbound queue so the writer pump exits.
func (h *Hub) retire(client *Client, notify bool) {
	if !client.online {
		return
	}
	client.online = false
	client.retired = true
	if h.registry[client.Username] == client {
		delete(h.registry, client.Username)
	}
	for id, members := range h.rooms {
		if members[client] {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, id)
			}
		}
	}
	close(client.Send)
	if notify {
		h.notifier.Notify(client.Username, false)
	}
}

// deliver enqueues an encoded frame, evicting the recipient if its queue is
// full. Eviction happens inline; sending to the hub's own unregister channel
// from here would deadlock the loop.
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		h.logger.Warnf("Outbound queue full, evicting %s (%s)", client.Username, client.ID)
		h.retire(client, true)
	}
}

func (h *Hub) routeDirect(msg message.Message) {
	if msg.Receiver == "" {
		h.logger.Debugf("Direct message from %s dropped: no receiver", msg.Sender)
		return
	}
	target, ok := h.registry[msg.Receiver]
	if !ok {
		h.logger.Infof("Message from %s to unknown receiver %s dropped", msg.Sender, msg.Receiver)
		return
	}
	data, err := msg.Encode()
	if err != nil {
		h.logger.Errorf("Failed to encode message from %s: %v", msg.Sender, err)
		return
	}
	h.deliver(target, data)
}

func (h *Hub) routeRoom(msg message.Message) {
	if msg.Room == "" {
		h.logger.Debugf("Room message from %s dropped: no room", msg.Sender)
		return
	}
	members, ok := h.rooms[msg.Room]
	if !ok {
		h.logger.Infof("Message from %s to unknown room %s dropped", msg.Sender, msg.Room)
		return
	}
	data, err := msg.Encode()
	if err != nil {
		h.logger.Errorf("Failed to encode message from %s: %v", msg.Sender, err)
		return
	}
	for member := range members {
		h.deliver(member, data)
	}
}

func (h *Hub) routeAll(msg message.Message) {
	data, err := msg.Encode()
	if err != nil {
		h.logger.Errorf("Failed to encode broadcast from %s: %v", msg.Sender, err)
		return
	}
	for _, client := range h.registry {
		h.deliver(client, data)
	}
}

func (h *Hub) applyMembership(req membershipRequest) bool {
	current, ok := h.registry[req.username]
	if !ok || (req.client != nil && current != req.client) {
		h.logger.Debugf("Membership change for %s in room %s dropped: no live connection", req.username, req.room)
		return false
	}
	if req.join {
		members, ok := h.rooms[req.room]
		if !ok {
			members = make(map[*Client]bool)
			h.rooms[req.room] = members
		}
		members[current] = true
		h.logger.Infof("Client %s joined room %s", req.username, req.room)
		return true
	}
	if members, ok := h.rooms[req.room]; ok && members[current] {
		delete(members, current)
		if len(members) == 0 {
			delete(h.rooms, req.room)
		}
		h.logger.Infof("Client %s left room %s", req.username, req.room)
	}
	return true
}

func (h *Hub) snapshot() Snapshot {
	snap := Snapshot{
		Online: make([]string, 0, len(h.registry)),
		Rooms:  make(map[string][]string, len(h.rooms)),
	}
	for username := range h.registry {
		snap.Online = append(snap.Online, username)
	}
	for id, members := range h.rooms {
		names := make([]string, 0, len(members))
		for member := range members {
			names = append(names, member.Username)
		}
		snap.Rooms[id] = names
	}
	return snap
}
