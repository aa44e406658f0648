package store

import "time"

// Store is the persistence bridge: a best-effort collaborator that durably
// records chat messages and edit operations. The relay invokes it off the
// broadcast path and never surfaces its failures to clients.
type Store interface {
	Ping() error
	RecordMessage(msg Message) error
	RecordEdit(op Operation) error
	Close() error
}

type Message struct {
	Id          string
	RoomId      string
	UserId      string
	Username    string
	Content     string
	MessageType string
	CreatedAt   time.Time
}

type Operation struct {
	Id        string
	RoomId    string
	UserId    string
	File      string
	Payload   []byte
	CreatedAt time.Time
}

// NoopStore is used when no database is configured; the relay's own
// correctness does not depend on persistence.
type NoopStore struct{}

func (NoopStore) Ping() error                 { return nil }
func (NoopStore) RecordMessage(Message) error { return nil }
func (NoopStore) RecordEdit(Operation) error  { return nil }
func (NoopStore) Close() error                { return nil }
