package relay

import (
	"log"
	"slices"
	"sync"
	"time"

	"github.com/collabcode/relay/internal/store"
	"github.com/collabcode/relay/internal/types"
	"github.com/google/uuid"
)

type joinReq struct {
	client *Client
	roomId string
}

type leaveReq struct {
	client     *Client
	disconnect bool
}

type roomEvent struct {
	client  *Client
	typ     string
	payload any
	at      time.Time
}

// Room is a broadcast domain scoped to one project. Each room runs its own
// goroutine which owns membership, typing state, and the expiry sweep, so
// unrelated rooms never contend on a shared lock.
type Room struct {
	id        string
	rs        *RelayServer
	joinChan  chan *joinReq
	leaveChan chan *leaveReq
	eventChan chan *roomEvent

	clients   map[*Client]struct{}
	joinOrder []*Client
	userMap   map[string]map[*Client]struct{}
	// clientLock guards the membership maps, which are also read by
	// broadcast paths and the server's empty check.
	clientLock sync.RWMutex

	typing *typingTracker
	log    *log.Logger
	exit   chan struct{}
	done   chan struct{}
}

func newRoom(rs *RelayServer, id string) *Room {
	return &Room{
		id:        id,
		rs:        rs,
		joinChan:  make(chan *joinReq, 256),
		leaveChan: make(chan *leaveReq, 256),
		eventChan: make(chan *roomEvent, 256),
		clients:   make(map[*Client]struct{}),
		userMap:   make(map[string]map[*Client]struct{}),
		typing:    newTypingTracker(rs.typingTimeout),
		log:       rs.log,
		exit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	sweep := time.NewTicker(r.rs.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leave := <-r.leaveChan:
			r.handleLeave(leave)
		case ev := <-r.eventChan:
			r.handleEvent(ev)
		case <-sweep.C:
			r.sweepTyping()
		case <-r.exit:
			r.handleExit()
			return
		}
	}
}

func (r *Room) handleJoin(join *joinReq) {
	c := join.client

	if r.isMember(c) {
		// joining twice is a no-op; resend the current snapshot so the
		// client converges anyway
		c.queueEvent(r.presenceEvent())
		return
	}

	r.addClient(c)

	// a queued join can arrive after the connection's disconnect cleanup
	// already ran; admitting it would leave a dead member in the room. The
	// registry record disappears first during cleanup, so a failed SetRoom
	// identifies the ghost. If the record is still present here, cleanup has
	// not started and its leave pass will see this membership.
	if err := r.rs.registry.SetRoom(c.id, r.id); err != nil {
		r.log.Printf("refusing join for %q: %v", c.id, err)
		r.removeClient(c)
		if r.empty() {
			r.rs.requestUnload(r.id)
		}
		return
	}

	r.broadcast(&ServerEvent{
		Type:      EventUserJoined,
		ProjectId: r.id,
		UserId:    c.user.Id,
		Username:  c.user.Username,
		Timestamp: Now(),
	}, c)

	// full-state push, including the member that triggered the change
	r.broadcast(r.presenceEvent(), nil)
}

func (r *Room) handleLeave(leave *leaveReq) {
	c := leave.client
	if !r.isMember(c) {
		return
	}

	r.removeClient(c)

	if !leave.disconnect {
		// on disconnect the registry record is already gone
		if err := r.rs.registry.SetRoom(c.id, ""); err != nil {
			r.log.Printf("clear room for %q: %v", c.id, err)
		}
	}

	if !r.userPresent(c.user.Id) {
		for _, key := range r.typing.stopAllForUser(c.user.Id) {
			r.broadcastTyping(key.file, c.user.Id, c.user.Username, false)
		}

		r.broadcast(&ServerEvent{
			Type:      EventUserLeft,
			ProjectId: r.id,
			UserId:    c.user.Id,
			Username:  c.user.Username,
			Timestamp: Now(),
		}, c)
	}

	r.broadcast(r.presenceEvent(), c)

	if r.empty() {
		r.rs.requestUnload(r.id)
	}
}

func (r *Room) handleEvent(ev *roomEvent) {
	switch p := ev.payload.(type) {
	case *MessagePayload:
		r.handleMessage(ev, p)
	case *TypingPayload:
		r.handleTyping(ev, p)
	case *CursorPayload:
		r.broadcast(&ServerEvent{
			Type:      EventCursorUpdate,
			ProjectId: r.id,
			UserId:    ev.client.user.Id,
			Username:  ev.client.user.Username,
			Timestamp: ev.at,
			Payload:   p,
		}, ev.client)
	case *SelectionPayload:
		r.broadcast(&ServerEvent{
			Type:      EventSelectionUpdate,
			ProjectId: r.id,
			UserId:    ev.client.user.Id,
			Username:  ev.client.user.Username,
			Timestamp: ev.at,
			Payload:   p,
		}, ev.client)
	case *CodeChangePayload:
		r.handleCodeChange(ev, p)
	case *StatusPayload:
		r.broadcast(r.presenceEvent(), nil)
	case *CurrentFilePayload:
		r.handleCurrentFile(ev, p)
	case *FileSharePayload:
		r.handleFileShare(ev, p)
	case *CallPayload:
		r.handleCallSignal(ev)
	default:
		r.log.Printf("room %q: unhandled event %q", r.id, ev.typ)
	}
}

func (r *Room) handleMessage(ev *roomEvent, p *MessagePayload) {
	msgType := p.MessageType
	if msgType == "" {
		msgType = "text"
	}

	id := uuid.NewString()

	// chat goes to the full room, sender included, so the sender observes
	// its own message in delivery order
	r.broadcast(&ServerEvent{
		Type:      EventMessage,
		ProjectId: r.id,
		UserId:    ev.client.user.Id,
		Username:  ev.client.user.Username,
		Timestamp: ev.at,
		Payload: MessageBroadcast{
			Id:          id,
			Content:     p.Content,
			MessageType: msgType,
		},
	}, nil)

	r.persistMessage(store.Message{
		Id:          id,
		RoomId:      r.id,
		UserId:      ev.client.user.Id,
		Username:    ev.client.user.Username,
		Content:     p.Content,
		MessageType: msgType,
		CreatedAt:   ev.at,
	})
}

func (r *Room) handleTyping(ev *roomEvent, p *TypingPayload) {
	if p.IsTyping {
		if r.typing.start(p.File, ev.client.user.Id, ev.at) {
			r.broadcastTyping(p.File, ev.client.user.Id, ev.client.user.Username, true)
		}
		return
	}

	if r.typing.stop(p.File, ev.client.user.Id) {
		r.broadcastTyping(p.File, ev.client.user.Id, ev.client.user.Username, false)
	}
}

func (r *Room) handleCodeChange(ev *roomEvent, p *CodeChangePayload) {
	// the server clock is authoritative; a client-supplied timestamp is
	// advisory only
	p.Timestamp = ev.at

	r.broadcast(&ServerEvent{
		Type:      EventCodeChange,
		ProjectId: r.id,
		UserId:    ev.client.user.Id,
		Username:  ev.client.user.Username,
		Timestamp: ev.at,
		Payload:   p,
	}, ev.client)

	r.persistEdit(store.Operation{
		Id:        uuid.NewString(),
		RoomId:    r.id,
		UserId:    ev.client.user.Id,
		File:      p.File,
		Payload:   append([]byte(nil), p.Changes...),
		CreatedAt: ev.at,
	})
}

func (r *Room) handleCurrentFile(ev *roomEvent, p *CurrentFilePayload) {
	r.broadcast(&ServerEvent{
		Type:      EventFileChange,
		ProjectId: r.id,
		UserId:    ev.client.user.Id,
		Username:  ev.client.user.Username,
		Timestamp: ev.at,
		Payload:   FileChangeBroadcast{Filename: p.Filename},
	}, ev.client)

	r.broadcast(r.presenceEvent(), nil)
}

func (r *Room) handleFileShare(ev *roomEvent, p *FileSharePayload) {
	id := uuid.NewString()

	r.broadcast(&ServerEvent{
		Type:      EventMessage,
		ProjectId: r.id,
		UserId:    ev.client.user.Id,
		Username:  ev.client.user.Username,
		Timestamp: ev.at,
		Payload: MessageBroadcast{
			Id:          id,
			Content:     "Shared a file: " + p.Name,
			MessageType: "file",
			Metadata: &FileMetadata{
				Filename: p.Name,
				Size:     p.Size,
				MimeType: p.MimeType,
				Url:      p.Url,
			},
		},
	}, nil)

	r.persistMessage(store.Message{
		Id:          id,
		RoomId:      r.id,
		UserId:      ev.client.user.Id,
		Username:    ev.client.user.Username,
		Content:     "Shared a file: " + p.Name,
		MessageType: "file",
		CreatedAt:   ev.at,
	})
}

var callBroadcastTypes = map[string]string{
	EventScreenShareStart: EventScreenShareStarted,
	EventScreenShareStop:  EventScreenShareStopped,
	EventVoiceChatStart:   EventVoiceChatStarted,
	EventVoiceChatStop:    EventVoiceChatStopped,
}

// handleCallSignal relays start/stop notifications only; media never
// touches this server.
func (r *Room) handleCallSignal(ev *roomEvent) {
	outType, ok := callBroadcastTypes[ev.typ]
	if !ok {
		r.log.Printf("room %q: unknown call signal %q", r.id, ev.typ)
		return
	}

	r.broadcast(&ServerEvent{
		Type:      outType,
		ProjectId: r.id,
		UserId:    ev.client.user.Id,
		Username:  ev.client.user.Username,
		Timestamp: ev.at,
	}, ev.client)
}

func (r *Room) sweepTyping() {
	for _, key := range r.typing.expire(Now()) {
		r.broadcastTyping(key.file, key.userId, r.usernameFor(key.userId), false)
	}
}

func (r *Room) broadcastTyping(file, userId, username string, isTyping bool) {
	r.broadcast(&ServerEvent{
		Type:      EventTyping,
		ProjectId: r.id,
		UserId:    userId,
		Username:  username,
		Timestamp: Now(),
		Payload:   TypingBroadcast{File: file, IsTyping: isTyping},
	}, nil)
}

func (r *Room) handleExit() {
	r.log.Printf("room %q is exiting", r.id)

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.id)
	}
	r.clients = make(map[*Client]struct{})
	r.userMap = make(map[string]map[*Client]struct{})
	r.joinOrder = nil
	r.clientLock.Unlock()

	// a join racing with the unload is re-routed so the server can spin up
	// a fresh room for it
	for {
		select {
		case join := <-r.joinChan:
			go func(j *joinReq) {
				r.rs.joinChan <- j
			}(join)
			continue
		default:
		}
		break
	}

	close(r.done)
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	r.joinOrder = append(r.joinOrder, c)
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	if i := slices.Index(r.joinOrder, c); i >= 0 {
		r.joinOrder = slices.Delete(r.joinOrder, i, i+1)
	}

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	c.delRoom(r.id)
}

func (r *Room) isMember(c *Client) bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	_, ok := r.clients[c]
	return ok
}

func (r *Room) userPresent(userId string) bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	return r.userMap[userId] != nil
}

func (r *Room) usernameFor(userId string) string {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for c := range r.userMap[userId] {
		return c.user.Username
	}
	return ""
}

func (r *Room) empty() bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	return len(r.clients) == 0
}

func (r *Room) memberCount() int {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	return len(r.clients)
}

// presenceList derives one entry per user in join order from the registry,
// which holds the authoritative status and current-file state.
func (r *Room) presenceList() []types.PresenceEntry {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	entries := make([]types.PresenceEntry, 0, len(r.joinOrder))
	seen := make(map[string]struct{}, len(r.joinOrder))
	for _, c := range r.joinOrder {
		if _, ok := seen[c.user.Id]; ok {
			continue
		}
		seen[c.user.Id] = struct{}{}

		conn, ok := r.rs.registry.Get(c.id)
		if !ok {
			// connection already unregistered; it is mid-disconnect
			continue
		}

		entries = append(entries, types.PresenceEntry{
			UserId:      conn.User.Id,
			Username:    conn.User.Username,
			Status:      conn.Status,
			CurrentFile: conn.CurrentFile,
		})
	}

	return entries
}

func (r *Room) presenceEvent() *ServerEvent {
	return &ServerEvent{
		Type:      EventPresenceUpdate,
		ProjectId: r.id,
		Timestamp: Now(),
		Payload:   r.presenceList(),
	}
}

// broadcast queues the event on every member except skip. A member whose
// outbound queue is full is treated as dead and torn down through the
// normal disconnect path; delivery to the rest proceeds regardless.
func (r *Room) broadcast(ev *ServerEvent, skip *Client) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	r.rs.stats.Incr(StatEventsBroadcast)
	for c := range r.clients {
		if c == skip {
			continue
		}

		if !c.queueEvent(ev) {
			r.rs.stats.Incr(StatEventsDropped)
			r.log.Printf("dropping slow connection %q in room %q", c.id, r.id)
			go c.close()
		}
	}
}

func (r *Room) persistMessage(msg store.Message) {
	go func() {
		if err := r.rs.store.RecordMessage(msg); err != nil {
			r.log.Printf("record message: %v", err)
		}
	}()
}

func (r *Room) persistEdit(op store.Operation) {
	go func() {
		if err := r.rs.store.RecordEdit(op); err != nil {
			r.log.Printf("record edit: %v", err)
		}
	}()
}
