package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/collabcode/relay/internal/types"
)

var (
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrConnectionNotFound  = errors.New("connection not found")
)

// Connection is the registry's record of one live transport session. The
// registry owns these records exclusively; rooms only hold membership
// references keyed by client.
type Connection struct {
	Id           string
	User         types.User
	RoomId       string
	CurrentFile  string
	Status       types.Status
	LastActivity time.Time
	ConnectedAt  time.Time
}

// Registry tracks every live connection and the metadata bound to it. It
// performs no network I/O; every method is a single atomic operation.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
	}
}

func (reg *Registry) Register(id string, user types.User) (Connection, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.conns[id]; ok {
		return Connection{}, ErrDuplicateConnection
	}

	now := Now()
	conn := &Connection{
		Id:           id,
		User:         user,
		Status:       types.StatusOnline,
		LastActivity: now,
		ConnectedAt:  now,
	}
	reg.conns[id] = conn

	return *conn, nil
}

func (reg *Registry) UpdateStatus(id string, status types.Status) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	conn, ok := reg.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}

	conn.Status = status
	conn.LastActivity = Now()
	return nil
}

func (reg *Registry) SetCurrentFile(id, path string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	conn, ok := reg.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}

	conn.CurrentFile = path
	conn.LastActivity = Now()
	return nil
}

func (reg *Registry) SetRoom(id, roomId string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	conn, ok := reg.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}

	conn.RoomId = roomId
	conn.LastActivity = Now()
	return nil
}

// Touch refreshes the last-activity timestamp.
func (reg *Registry) Touch(id string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	conn, ok := reg.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}

	conn.LastActivity = Now()
	return nil
}

// Unregister removes and returns the record. Callers must tolerate
// ErrConnectionNotFound as a no-op since disconnect paths can race.
func (reg *Registry) Unregister(id string) (Connection, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	conn, ok := reg.conns[id]
	if !ok {
		return Connection{}, ErrConnectionNotFound
	}

	delete(reg.conns, id)
	return *conn, nil
}

// Get returns a copy of the record so callers never observe concurrent
// mutation.
func (reg *Registry) Get(id string) (Connection, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	conn, ok := reg.conns[id]
	if !ok {
		return Connection{}, false
	}

	return *conn, true
}

func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return len(reg.conns)
}
