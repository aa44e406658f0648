package relay

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/collabcode/relay/internal/types"
	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
)

const (
	writeWait = 10 * time.Second
	// maxMessageSize is generous because code-change payloads carry edit
	// batches
	maxMessageSize = 64 * 1024
)

// Client is one live connection: a read goroutine routing inbound events
// and a write goroutine draining the bounded send queue.
type Client struct {
	id        string
	conn      *websocket.Conn
	rs        *RelayServer
	log       *log.Logger
	user      types.User
	send      chan *ServerEvent
	rooms     map[string]*Room
	roomsLock sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewClient registers the connection and returns a client ready for its
// pumps. The connection id is server-assigned and stable for the
// transport's lifetime.
func NewClient(user types.User, conn *websocket.Conn, rs *RelayServer, l *log.Logger) (*Client, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate connection id: %w", err)
	}

	if _, err := rs.registry.Register(id, user); err != nil {
		return nil, fmt.Errorf("register connection: %w", err)
	}

	return &Client{
		id:    id,
		conn:  conn,
		rs:    rs,
		log:   l,
		user:  user,
		send:  make(chan *ServerEvent, 256),
		rooms: make(map[string]*Room),
		stop:  make(chan struct{}),
	}, nil
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(c.rs.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("write pump for %q exiting", c.id)
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeEvent(ev)
			if err != nil {
				c.log.Println("failed to serialize event:", err)
				continue
			}

			if !c.writeMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Printf("read pump for %q exiting", c.id)
	}()

	pongWait := c.rs.pingInterval * 2
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		ev, payload, err := parseClientEvent(raw)
		if err != nil {
			// reported to the sender only; the connection stays open
			c.queueEvent(validationError(err.Error()))
			continue
		}

		if err := c.rs.registry.Touch(c.id); err != nil {
			c.log.Printf("touch %q: %v", c.id, err)
		}

		c.route(ev, payload)
	}
}

func (c *Client) route(ev *ClientEvent, payload any) {
	switch ev.Type {
	case EventPing:
		c.queueEvent(&ServerEvent{Type: EventPong, Timestamp: Now()})
	case EventJoinProject:
		p := payload.(*JoinPayload)
		c.joinProject(p.ProjectId)
	case EventLeaveProject:
		p := payload.(*LeavePayload)
		r := c.getRoom(p.ProjectId)
		if r == nil {
			c.queueEvent(notFoundError(fmt.Sprintf("not joined to project %q", p.ProjectId)))
			return
		}
		c.sendLeave(r, false)
	case EventPresenceUpdate:
		p := payload.(*StatusPayload)
		// registry first, then the room derives presence from it
		if err := c.rs.registry.UpdateStatus(c.id, p.Status); err != nil {
			c.log.Printf("update status for %q: %v", c.id, err)
			return
		}
		c.forwardToRooms(ev.Type, payload)
	case EventCurrentFile:
		p := payload.(*CurrentFilePayload)
		if err := c.rs.registry.SetCurrentFile(c.id, p.Filename); err != nil {
			c.log.Printf("set current file for %q: %v", c.id, err)
			return
		}
		c.forwardToRooms(ev.Type, payload)
	default:
		projectId := projectIdOf(payload)
		r := c.getRoom(projectId)
		if r == nil {
			c.queueEvent(notFoundError(fmt.Sprintf("not joined to project %q", projectId)))
			return
		}
		c.forward(r, ev.Type, payload)
	}
}

func projectIdOf(payload any) string {
	switch p := payload.(type) {
	case *MessagePayload:
		return p.ProjectId
	case *TypingPayload:
		return p.ProjectId
	case *CursorPayload:
		return p.ProjectId
	case *SelectionPayload:
		return p.ProjectId
	case *CodeChangePayload:
		return p.ProjectId
	case *FileSharePayload:
		return p.ProjectId
	case *CallPayload:
		return p.ProjectId
	}
	return ""
}

func (c *Client) forward(r *Room, typ string, payload any) {
	select {
	case r.eventChan <- &roomEvent{client: c, typ: typ, payload: payload, at: Now()}:
	default:
		c.log.Printf("eventChan full for room %q", r.id)
		c.queueEvent(capacityError(fmt.Sprintf("project %q is congested, event dropped", r.id)))
	}
}

func (c *Client) forwardToRooms(typ string, payload any) {
	c.roomsLock.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.roomsLock.RUnlock()

	for _, r := range rooms {
		c.forward(r, typ, payload)
	}
}

// joinProject switches rooms: joining a project while joined to another
// leaves the previous one first.
func (c *Client) joinProject(projectId string) {
	c.roomsLock.RLock()
	var previous []*Room
	for _, r := range c.rooms {
		if r.id != projectId {
			previous = append(previous, r)
		}
	}
	c.roomsLock.RUnlock()

	for _, r := range previous {
		c.sendLeave(r, false)
	}

	select {
	case c.rs.joinChan <- &joinReq{client: c, roomId: projectId}:
	default:
		c.log.Println("joinChan full")
		c.queueEvent(capacityError("server is congested, join dropped"))
	}
}

// Join binds the connection to a project room. Used for the optional
// handshake-time join and exercised by join-project events thereafter.
func (c *Client) Join(projectId string) {
	c.joinProject(projectId)
}

// SendConnectionEstablished emits the post-handshake hello exactly once.
func (c *Client) SendConnectionEstablished() {
	c.queueEvent(&ServerEvent{
		Type:      EventConnectionEstablished,
		UserId:    c.user.Id,
		Username:  c.user.Username,
		Timestamp: Now(),
		Payload: WelcomePayload{
			Message:      "connected to collaboration relay",
			ConnectionId: c.id,
			UserId:       c.user.Id,
			Username:     c.user.Username,
		},
	})
}

func (c *Client) sendLeave(r *Room, disconnect bool) {
	select {
	case r.leaveChan <- &leaveReq{client: c, disconnect: disconnect}:
	case <-r.done:
		// room already unloaded
	}
}

// queueEvent attempts a non-blocking enqueue on the bounded outbound
// queue. A false return means the peer is too slow or gone.
func (c *Client) queueEvent(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
	default:
		return false
	}

	return true
}

func (c *Client) writeMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// close tears the connection down from the server side: stopping the write
// pump closes the transport, which unblocks the read pump into cleanup.
func (c *Client) close() {
	c.stopClient()
}

func (c *Client) cleanup() {
	// registry state goes first so no presence list derived afterwards can
	// still include this connection
	if _, err := c.rs.registry.Unregister(c.id); err != nil && err != ErrConnectionNotFound {
		c.log.Printf("unregister %q: %v", c.id, err)
	}

	c.rs.deRegisterChan <- c
	c.leaveAllRooms()
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.roomsLock.RUnlock()

	for _, r := range rooms {
		c.sendLeave(r, true)
	}
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.id] = r
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[id]
}
