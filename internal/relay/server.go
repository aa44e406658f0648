package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/collabcode/relay/internal/config"
	"github.com/collabcode/relay/internal/stats"
	"github.com/collabcode/relay/internal/store"
)

const (
	StatActiveConnections = "ActiveConnections"
	StatActiveRooms       = "ActiveRooms"
	StatEventsBroadcast   = "EventsBroadcast"
	StatEventsDropped     = "EventsDropped"
)

// RelayServer owns the room table and the connection registry. Rooms are
// created implicitly on first join and unloaded as soon as their last
// member leaves.
type RelayServer struct {
	log      *log.Logger
	registry *Registry
	store    store.Store
	stats    stats.StatsProvider

	typingTimeout time.Duration
	sweepInterval time.Duration
	pingInterval  time.Duration

	joinChan       chan *joinReq
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan string

	rooms     map[string]*Room
	roomsLock sync.RWMutex

	clients     map[*Client]struct{}
	clientsLock sync.Mutex

	stop chan struct{}
	done chan struct{}
}

func NewRelayServer(logger *log.Logger, st store.Store, su stats.StatsProvider, cfg *config.Config) (*RelayServer, error) {
	su.RegisterMetric(StatActiveConnections)
	su.RegisterMetric(StatActiveRooms)
	su.RegisterMetric(StatEventsBroadcast)
	su.RegisterMetric(StatEventsDropped)

	return &RelayServer{
		log:            logger,
		registry:       NewRegistry(),
		store:          st,
		stats:          su,
		typingTimeout:  cfg.TypingTimeout,
		sweepInterval:  cfg.SweepInterval,
		pingInterval:   cfg.PingInterval,
		joinChan:       make(chan *joinReq, 256),
		RegisterChan:   make(chan *Client, 256),
		deRegisterChan: make(chan *Client, 256),
		unloadRoomChan: make(chan string, 256),
		rooms:          make(map[string]*Room),
		clients:        make(map[*Client]struct{}),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

func (rs *RelayServer) Run() {
	for {
		select {
		case join := <-rs.joinChan:
			rs.handleJoin(join)
		case client := <-rs.RegisterChan:
			rs.log.Printf("adding connection %q for %q", client.id, client.user.Username)
			rs.addClient(client)
			rs.stats.Incr(StatActiveConnections)
		case client := <-rs.deRegisterChan:
			rs.log.Printf("removing connection %q for %q", client.id, client.user.Username)
			if rs.removeClient(client) {
				rs.stats.Decr(StatActiveConnections)
			}
		case id := <-rs.unloadRoomChan:
			rs.unloadRoom(id)
		case <-rs.stop:
			rs.log.Println("shutting down rooms")
			rs.roomsLock.Lock()
			for _, r := range rs.rooms {
				close(r.exit)
				<-r.done
			}
			rs.rooms = make(map[string]*Room)
			rs.roomsLock.Unlock()

			close(rs.done)
			return
		}
	}
}

func (rs *RelayServer) handleJoin(join *joinReq) {
	room := rs.getRoom(join.roomId)
	if room == nil {
		room = newRoom(rs, join.roomId)
		rs.roomsLock.Lock()
		rs.rooms[join.roomId] = room
		rs.roomsLock.Unlock()
		rs.stats.Incr(StatActiveRooms)

		go room.start()
	}

	select {
	case room.joinChan <- join:
	default:
		rs.log.Printf("join channel full on room %q", room.id)
		join.client.queueEvent(capacityError("project is congested, join dropped"))
	}
}

// unloadRoom garbage-collects a room that reported itself empty. A join
// that raced the unload wins: the room stays.
func (rs *RelayServer) unloadRoom(id string) {
	room := rs.getRoom(id)
	if room == nil || !room.empty() {
		return
	}

	rs.log.Printf("unloading room %q", id)
	rs.roomsLock.Lock()
	delete(rs.rooms, id)
	rs.roomsLock.Unlock()
	rs.stats.Decr(StatActiveRooms)

	close(room.exit)
	<-room.done
}

func (rs *RelayServer) requestUnload(id string) {
	select {
	case rs.unloadRoomChan <- id:
	default:
		rs.log.Printf("unload channel full, room %q left loaded", id)
	}
}

func (rs *RelayServer) getRoom(id string) *Room {
	rs.roomsLock.RLock()
	defer rs.roomsLock.RUnlock()

	return rs.rooms[id]
}

func (rs *RelayServer) addClient(c *Client) {
	rs.clientsLock.Lock()
	defer rs.clientsLock.Unlock()
	rs.clients[c] = struct{}{}
}

func (rs *RelayServer) removeClient(c *Client) bool {
	rs.clientsLock.Lock()
	defer rs.clientsLock.Unlock()

	if _, ok := rs.clients[c]; !ok {
		return false
	}
	delete(rs.clients, c)
	return true
}

func (rs *RelayServer) ConnectionCount() int {
	return rs.registry.Count()
}

func (rs *RelayServer) RoomCount() int {
	rs.roomsLock.RLock()
	defer rs.roomsLock.RUnlock()

	return len(rs.rooms)
}

func (rs *RelayServer) Shutdown(ctx context.Context) error {
	rs.log.Println("received shutdown signal")

	rs.clientsLock.Lock()
	for c := range rs.clients {
		c.stopClient()
	}
	rs.clientsLock.Unlock()

	close(rs.stop)

	select {
	case <-rs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
