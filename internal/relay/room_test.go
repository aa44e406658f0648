package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/collabcode/relay/internal/stats"
	"github.com/collabcode/relay/internal/store"
	"github.com/collabcode/relay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// nextEvent pops the next queued event for a client or fails the test.
func nextEvent(t *testing.T, c *Client) *ServerEvent {
	t.Helper()

	select {
	case ev := <-c.send:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout: no event queued")
		return nil
	}
}

// drainEvents empties a client's send queue so assertions start clean.
func drainEvents(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func Test_room_handleJoin(t *testing.T) {
	rs := newTestRelayServer(t, &store.MockStore{}, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1 := newTestClient(t, rs, "conn-1", types.User{Id: "u1", Username: "alice"})
	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})

	assert.Equal(t, 1, room.memberCount(), "expected one member after join")
	assert.Equal(t, room, c1.getRoom("proj-1"), "expected client to track the room")

	conn, ok := rs.registry.Get("conn-1")
	require.True(t, ok, "expected connection in registry")
	assert.Equal(t, "proj-1", conn.RoomId, "expected registry room to be set")

	// the joiner only sees the presence snapshot, not its own user-joined
	ev := nextEvent(t, c1)
	assert.Equal(t, EventPresenceUpdate, ev.Type, "expected presence snapshot for joiner")
	entries := ev.Payload.([]types.PresenceEntry)
	require.Len(t, entries, 1, "expected one presence entry")
	assert.Equal(t, "u1", entries[0].UserId, "expected joiner in presence list")
	assert.Equal(t, types.StatusOnline, entries[0].Status, "expected joiner to be online")

	c2 := newTestClient(t, rs, "conn-2", types.User{Id: "u2", Username: "bob"})
	room.handleJoin(&joinReq{client: c2, roomId: "proj-1"})

	ev = nextEvent(t, c1)
	assert.Equal(t, EventUserJoined, ev.Type, "expected existing member to see user-joined")
	assert.Equal(t, "u2", ev.UserId, "expected joiner identity on the event")
	assert.Equal(t, "bob", ev.Username, "expected joiner username on the event")

	ev = nextEvent(t, c1)
	assert.Equal(t, EventPresenceUpdate, ev.Type, "expected presence push after join")
	entries = ev.Payload.([]types.PresenceEntry)
	require.Len(t, entries, 2, "expected both users in presence list")
	assert.Equal(t, "u1", entries[0].UserId, "expected presence list in join order")
	assert.Equal(t, "u2", entries[1].UserId, "expected presence list in join order")

	ev = nextEvent(t, c2)
	assert.Equal(t, EventPresenceUpdate, ev.Type, "expected presence snapshot for joiner")
}

func Test_room_handleJoin_idempotent(t *testing.T) {
	rs := newTestRelayServer(t, &store.MockStore{}, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1 := newTestClient(t, rs, "conn-1", types.User{Id: "u1", Username: "alice"})
	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})
	drainEvents(c1)

	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})
	assert.Equal(t, 1, room.memberCount(), "expected re-join not to duplicate membership")

	ev := nextEvent(t, c1)
	assert.Equal(t, EventPresenceUpdate, ev.Type, "expected snapshot resend on re-join")
	assert.Len(t, ev.Payload.([]types.PresenceEntry), 1, "expected single presence entry")
}

func Test_room_handleJoin_afterDisconnect(t *testing.T) {
	rs := newTestRelayServer(t, &store.MockStore{}, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1 := newTestClient(t, rs, "conn-1", types.User{Id: "u1", Username: "alice"})
	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})
	drainEvents(c1)

	// the second connection disconnects while its join is still queued
	c2 := newTestClient(t, rs, "conn-2", types.User{Id: "u2", Username: "bob"})
	rs.addClient(c2)
	c2.cleanup()
	<-rs.deRegisterChan

	room.handleJoin(&joinReq{client: c2, roomId: "proj-1"})

	assert.False(t, room.isMember(c2), "expected the dead connection to be refused")
	assert.Equal(t, 1, room.memberCount(), "expected membership unchanged")
	assert.Nil(t, c2.getRoom("proj-1"), "expected the dead client not to track the room")
	assert.Empty(t, c1.send, "expected no user-joined for a dead connection")

	// a refused join into a fresh room still lets the room unload
	room.handleLeave(&leaveReq{client: c1})
	empty := newRoom(rs, "proj-2")
	empty.handleJoin(&joinReq{client: c2, roomId: "proj-2"})

	assert.True(t, empty.empty(), "expected the room to stay empty")

	unloads := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-rs.unloadRoomChan:
			unloads[id] = true
		default:
			t.Fatal("expected an unload request")
		}
	}
	assert.True(t, unloads["proj-1"], "expected the emptied room to request unload")
	assert.True(t, unloads["proj-2"], "expected the refused-join room to request unload")
}

func Test_room_handleLeave(t *testing.T) {
	rs := newTestRelayServer(t, &store.MockStore{}, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1 := newTestClient(t, rs, "conn-1", types.User{Id: "u1", Username: "alice"})
	c2 := newTestClient(t, rs, "conn-2", types.User{Id: "u2", Username: "bob"})
	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})
	room.handleJoin(&joinReq{client: c2, roomId: "proj-1"})
	drainEvents(c1)
	drainEvents(c2)

	room.handleLeave(&leaveReq{client: c1})
	assert.Equal(t, 1, room.memberCount(), "expected one member after leave")
	assert.Nil(t, c1.getRoom("proj-1"), "expected client to forget the room")

	conn, ok := rs.registry.Get("conn-1")
	require.True(t, ok, "expected connection to stay registered on explicit leave")
	assert.Empty(t, conn.RoomId, "expected registry room to be cleared")

	ev := nextEvent(t, c2)
	assert.Equal(t, EventUserLeft, ev.Type, "expected remaining member to see user-left")
	assert.Equal(t, "u1", ev.UserId, "expected leaver identity on the event")

	ev = nextEvent(t, c2)
	assert.Equal(t, EventPresenceUpdate, ev.Type, "expected presence push after leave")
	entries := ev.Payload.([]types.PresenceEntry)
	require.Len(t, entries, 1, "expected only the remaining user")
	assert.Equal(t, "u2", entries[0].UserId, "expected the remaining user in presence list")

	// a repeat leave for a non-member is a no-op
	room.handleLeave(&leaveReq{client: c1})
	assert.Empty(t, c2.send, "expected no broadcast for a non-member leave")

	room.handleLeave(&leaveReq{client: c2})
	assert.True(t, room.empty(), "expected empty room")

	select {
	case id := <-rs.unloadRoomChan:
		assert.Equal(t, "proj-1", id, "expected unload request for the emptied room")
	default:
		t.Error("expected an unload request once the room emptied")
	}
}

func Test_room_handleLeave_secondConnectionSameUser(t *testing.T) {
	rs := newTestRelayServer(t, &store.MockStore{}, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1a := newTestClient(t, rs, "conn-1a", types.User{Id: "u1", Username: "alice"})
	c1b := newTestClient(t, rs, "conn-1b", types.User{Id: "u1", Username: "alice"})
	c2 := newTestClient(t, rs, "conn-2", types.User{Id: "u2", Username: "bob"})
	room.handleJoin(&joinReq{client: c1a, roomId: "proj-1"})
	room.handleJoin(&joinReq{client: c1b, roomId: "proj-1"})
	room.handleJoin(&joinReq{client: c2, roomId: "proj-1"})
	drainEvents(c1a)
	drainEvents(c1b)
	drainEvents(c2)

	// the user still has a live connection, so no user-left is announced
	room.handleLeave(&leaveReq{client: c1a})

	ev := nextEvent(t, c2)
	assert.Equal(t, EventPresenceUpdate, ev.Type, "expected only a presence push")
	entries := ev.Payload.([]types.PresenceEntry)
	assert.Len(t, entries, 2, "expected presence deduplicated per user")

	room.handleLeave(&leaveReq{client: c1b})
	ev = nextEvent(t, c2)
	assert.Equal(t, EventUserLeft, ev.Type, "expected user-left once the last connection leaves")
}

func Test_room_handleMessage(t *testing.T) {
	st := &store.MockStore{}
	defer st.AssertExpectations(t)

	persisted := make(chan store.Message, 1)
	st.On("RecordMessage", mock.AnythingOfType("store.Message")).Return(nil).
		Run(func(args mock.Arguments) {
			persisted <- args.Get(0).(store.Message)
		})

	rs := newTestRelayServer(t, st, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1 := newTestClient(t, rs, "conn-1", types.User{Id: "u1", Username: "alice"})
	c2 := newTestClient(t, rs, "conn-2", types.User{Id: "u2", Username: "bob"})
	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})
	room.handleJoin(&joinReq{client: c2, roomId: "proj-1"})
	drainEvents(c1)
	drainEvents(c2)

	at := Now()
	room.handleEvent(&roomEvent{
		client:  c1,
		typ:     EventMessage,
		payload: &MessagePayload{ProjectId: "proj-1", Content: "hello"},
		at:      at,
	})

	// chat is delivered to the full room, sender included
	for _, c := range []*Client{c1, c2} {
		ev := nextEvent(t, c)
		assert.Equal(t, EventMessage, ev.Type, "expected message event")
		assert.Equal(t, "u1", ev.UserId, "expected sender identity on the event")
		msg := ev.Payload.(MessageBroadcast)
		assert.Equal(t, "hello", msg.Content, "expected message content")
		assert.Equal(t, "text", msg.MessageType, "expected default message type")
		assert.NotEmpty(t, msg.Id, "expected a server-assigned message id")
	}

	select {
	case msg := <-persisted:
		assert.Equal(t, "proj-1", msg.RoomId, "expected room id on the stored message")
		assert.Equal(t, "u1", msg.UserId, "expected sender on the stored message")
		assert.Equal(t, "hello", msg.Content, "expected content on the stored message")
		assert.Equal(t, at, msg.CreatedAt, "expected broadcast timestamp on the stored message")
	case <-time.After(time.Second):
		t.Error("timeout: message was not persisted")
	}
}

func Test_room_handleTyping(t *testing.T) {
	rs := newTestRelayServer(t, &store.MockStore{}, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1 := newTestClient(t, rs, "conn-1", types.User{Id: "u1", Username: "alice"})
	c2 := newTestClient(t, rs, "conn-2", types.User{Id: "u2", Username: "bob"})
	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})
	room.handleJoin(&joinReq{client: c2, roomId: "proj-1"})
	drainEvents(c1)
	drainEvents(c2)

	typing := func(isTyping bool) *roomEvent {
		return &roomEvent{
			client:  c1,
			typ:     EventTyping,
			payload: &TypingPayload{ProjectId: "proj-1", File: "main.ts", IsTyping: isTyping},
			at:      Now(),
		}
	}

	room.handleEvent(typing(true))
	ev := nextEvent(t, c2)
	assert.Equal(t, EventTyping, ev.Type, "expected typing event")
	payload := ev.Payload.(TypingBroadcast)
	assert.True(t, payload.IsTyping, "expected typing started")
	assert.Equal(t, "main.ts", payload.File, "expected file on the typing event")
	drainEvents(c1)

	// a refresh while already typing is not re-broadcast
	room.handleEvent(typing(true))
	assert.Empty(t, c2.send, "expected no broadcast for a typing refresh")

	room.handleEvent(typing(false))
	ev = nextEvent(t, c2)
	payload = ev.Payload.(TypingBroadcast)
	assert.False(t, payload.IsTyping, "expected typing stopped")

	room.handleEvent(typing(false))
	assert.Empty(t, c2.send, "expected no broadcast for a repeated stop")
}

func Test_room_sweepTyping(t *testing.T) {
	rs := newTestRelayServer(t, &store.MockStore{}, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1 := newTestClient(t, rs, "conn-1", types.User{Id: "u1", Username: "alice"})
	c2 := newTestClient(t, rs, "conn-2", types.User{Id: "u2", Username: "bob"})
	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})
	room.handleJoin(&joinReq{client: c2, roomId: "proj-1"})
	drainEvents(c1)
	drainEvents(c2)

	// typing started beyond the expiry window
	room.handleEvent(&roomEvent{
		client:  c1,
		typ:     EventTyping,
		payload: &TypingPayload{ProjectId: "proj-1", File: "main.ts", IsTyping: true},
		at:      Now().Add(-time.Minute),
	})
	drainEvents(c1)
	drainEvents(c2)

	room.sweepTyping()

	ev := nextEvent(t, c2)
	assert.Equal(t, EventTyping, ev.Type, "expected sweep to announce a stop")
	assert.Equal(t, "u1", ev.UserId, "expected the stale typist on the event")
	assert.Equal(t, "alice", ev.Username, "expected the typist username on the event")
	payload := ev.Payload.(TypingBroadcast)
	assert.False(t, payload.IsTyping, "expected typing stopped by the sweep")

	// the stop is announced once
	room.sweepTyping()
	assert.Empty(t, c2.send, "expected no repeat announcement")
}

func Test_room_handleLeave_clearsTyping(t *testing.T) {
	rs := newTestRelayServer(t, &store.MockStore{}, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1 := newTestClient(t, rs, "conn-1", types.User{Id: "u1", Username: "alice"})
	c2 := newTestClient(t, rs, "conn-2", types.User{Id: "u2", Username: "bob"})
	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})
	room.handleJoin(&joinReq{client: c2, roomId: "proj-1"})
	drainEvents(c1)
	drainEvents(c2)

	room.handleEvent(&roomEvent{
		client:  c1,
		typ:     EventTyping,
		payload: &TypingPayload{ProjectId: "proj-1", File: "main.ts", IsTyping: true},
		at:      Now(),
	})
	drainEvents(c2)

	room.handleLeave(&leaveReq{client: c1, disconnect: true})

	ev := nextEvent(t, c2)
	assert.Equal(t, EventTyping, ev.Type, "expected typing stop before user-left")
	assert.False(t, ev.Payload.(TypingBroadcast).IsTyping, "expected typing stopped on leave")

	ev = nextEvent(t, c2)
	assert.Equal(t, EventUserLeft, ev.Type, "expected user-left after typing stop")
}

func Test_room_handleCursor_skipsSender(t *testing.T) {
	rs := newTestRelayServer(t, &store.MockStore{}, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1 := newTestClient(t, rs, "conn-1", types.User{Id: "u1", Username: "alice"})
	c2 := newTestClient(t, rs, "conn-2", types.User{Id: "u2", Username: "bob"})
	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})
	room.handleJoin(&joinReq{client: c2, roomId: "proj-1"})
	drainEvents(c1)
	drainEvents(c2)

	room.handleEvent(&roomEvent{
		client: c1,
		typ:    EventCursorUpdate,
		payload: &CursorPayload{
			ProjectId: "proj-1",
			File:      "main.ts",
			Position:  types.Position{Line: 4, Column: 10},
		},
		at: Now(),
	})

	ev := nextEvent(t, c2)
	assert.Equal(t, EventCursorUpdate, ev.Type, "expected cursor event for the other member")
	payload := ev.Payload.(*CursorPayload)
	assert.Equal(t, 4, payload.Position.Line, "expected cursor position")

	assert.Empty(t, c1.send, "expected no echo to the sender")
}

func Test_room_handleCodeChange(t *testing.T) {
	st := &store.MockStore{}
	defer st.AssertExpectations(t)

	persisted := make(chan store.Operation, 1)
	st.On("RecordEdit", mock.AnythingOfType("store.Operation")).Return(nil).
		Run(func(args mock.Arguments) {
			persisted <- args.Get(0).(store.Operation)
		})

	rs := newTestRelayServer(t, st, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1 := newTestClient(t, rs, "conn-1", types.User{Id: "u1", Username: "alice"})
	c2 := newTestClient(t, rs, "conn-2", types.User{Id: "u2", Username: "bob"})
	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})
	room.handleJoin(&joinReq{client: c2, roomId: "proj-1"})
	drainEvents(c1)
	drainEvents(c2)

	at := Now()
	changes := json.RawMessage(`[{"op":"insert","text":"x"}]`)
	room.handleEvent(&roomEvent{
		client: c1,
		typ:    EventCodeChange,
		payload: &CodeChangePayload{
			ProjectId: "proj-1",
			File:      "main.ts",
			Changes:   changes,
			// client-supplied timestamp gets overwritten
			Timestamp: at.Add(-time.Hour),
		},
		at: at,
	})

	ev := nextEvent(t, c2)
	assert.Equal(t, EventCodeChange, ev.Type, "expected code-change event")
	payload := ev.Payload.(*CodeChangePayload)
	assert.Equal(t, at, payload.Timestamp, "expected the server timestamp to be authoritative")
	assert.JSONEq(t, string(changes), string(payload.Changes), "expected changes to pass through untouched")

	assert.Empty(t, c1.send, "expected no echo to the sender")

	select {
	case op := <-persisted:
		assert.Equal(t, "proj-1", op.RoomId, "expected room id on the stored operation")
		assert.Equal(t, "main.ts", op.File, "expected file on the stored operation")
		assert.JSONEq(t, string(changes), string(op.Payload), "expected changes on the stored operation")
	case <-time.After(time.Second):
		t.Error("timeout: edit was not persisted")
	}
}

func Test_room_handleCurrentFile(t *testing.T) {
	rs := newTestRelayServer(t, &store.MockStore{}, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1 := newTestClient(t, rs, "conn-1", types.User{Id: "u1", Username: "alice"})
	c2 := newTestClient(t, rs, "conn-2", types.User{Id: "u2", Username: "bob"})
	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})
	room.handleJoin(&joinReq{client: c2, roomId: "proj-1"})
	drainEvents(c1)
	drainEvents(c2)

	require.NoError(t, rs.registry.SetCurrentFile("conn-1", "main.ts"),
		"failed to set current file")

	room.handleEvent(&roomEvent{
		client:  c1,
		typ:     EventCurrentFile,
		payload: &CurrentFilePayload{Filename: "main.ts"},
		at:      Now(),
	})

	ev := nextEvent(t, c2)
	assert.Equal(t, EventFileChange, ev.Type, "expected file-change for the other member")
	assert.Equal(t, "main.ts", ev.Payload.(FileChangeBroadcast).Filename, "expected filename on the event")

	ev = nextEvent(t, c2)
	assert.Equal(t, EventPresenceUpdate, ev.Type, "expected presence push with the new file")
	entries := ev.Payload.([]types.PresenceEntry)
	assert.Equal(t, "main.ts", entries[0].CurrentFile, "expected current file in presence")

	// the sender only sees the presence push
	ev = nextEvent(t, c1)
	assert.Equal(t, EventPresenceUpdate, ev.Type, "expected only presence for the sender")
	assert.Empty(t, c1.send, "expected no file-change echo to the sender")
}

func Test_room_handleFileShare(t *testing.T) {
	st := &store.MockStore{}
	defer st.AssertExpectations(t)

	persisted := make(chan store.Message, 1)
	st.On("RecordMessage", mock.AnythingOfType("store.Message")).Return(nil).
		Run(func(args mock.Arguments) {
			persisted <- args.Get(0).(store.Message)
		})

	rs := newTestRelayServer(t, st, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1 := newTestClient(t, rs, "conn-1", types.User{Id: "u1", Username: "alice"})
	c2 := newTestClient(t, rs, "conn-2", types.User{Id: "u2", Username: "bob"})
	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})
	room.handleJoin(&joinReq{client: c2, roomId: "proj-1"})
	drainEvents(c1)
	drainEvents(c2)

	room.handleEvent(&roomEvent{
		client: c1,
		typ:    EventFileShare,
		payload: &FileSharePayload{
			ProjectId: "proj-1",
			Name:      "report.pdf",
			Size:      2048,
			MimeType:  "application/pdf",
		},
		at: Now(),
	})

	for _, c := range []*Client{c1, c2} {
		ev := nextEvent(t, c)
		assert.Equal(t, EventMessage, ev.Type, "expected a file message")
		msg := ev.Payload.(MessageBroadcast)
		assert.Equal(t, "Shared a file: report.pdf", msg.Content, "expected file announcement content")
		assert.Equal(t, "file", msg.MessageType, "expected file message type")
		require.NotNil(t, msg.Metadata, "expected file metadata")
		assert.Equal(t, int64(2048), msg.Metadata.Size, "expected file size in metadata")
	}

	select {
	case msg := <-persisted:
		assert.Equal(t, "file", msg.MessageType, "expected file type on the stored message")
	case <-time.After(time.Second):
		t.Error("timeout: file message was not persisted")
	}
}

func Test_room_handleCallSignal(t *testing.T) {
	rs := newTestRelayServer(t, &store.MockStore{}, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1 := newTestClient(t, rs, "conn-1", types.User{Id: "u1", Username: "alice"})
	c2 := newTestClient(t, rs, "conn-2", types.User{Id: "u2", Username: "bob"})
	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})
	room.handleJoin(&joinReq{client: c2, roomId: "proj-1"})
	drainEvents(c1)
	drainEvents(c2)

	tcases := []struct {
		in  string
		out string
	}{
		{EventScreenShareStart, EventScreenShareStarted},
		{EventScreenShareStop, EventScreenShareStopped},
		{EventVoiceChatStart, EventVoiceChatStarted},
		{EventVoiceChatStop, EventVoiceChatStopped},
	}

	for _, tc := range tcases {
		t.Run(tc.in, func(t *testing.T) {
			room.handleEvent(&roomEvent{
				client:  c1,
				typ:     tc.in,
				payload: &CallPayload{ProjectId: "proj-1"},
				at:      Now(),
			})

			ev := nextEvent(t, c2)
			assert.Equal(t, tc.out, ev.Type, "expected the started/stopped notification")
			assert.Equal(t, "u1", ev.UserId, "expected the initiator on the event")
			assert.Empty(t, c1.send, "expected no echo to the initiator")
		})
	}
}

func Test_room_broadcast_dropsSlowClient(t *testing.T) {
	rs := newTestRelayServer(t, &store.MockStore{}, &stats.MockStatsUpdater{})
	room := newRoom(rs, "proj-1")

	c1 := newTestClient(t, rs, "conn-1", types.User{Id: "u1", Username: "alice"})
	room.handleJoin(&joinReq{client: c1, roomId: "proj-1"})

	// a second client with a saturated queue
	_, err := rs.registry.Register("conn-2", types.User{Id: "u2", Username: "bob"})
	require.NoError(t, err, "failed to register slow client")
	slow := &Client{
		id:    "conn-2",
		rs:    rs,
		log:   c1.log,
		user:  types.User{Id: "u2", Username: "bob"},
		send:  make(chan *ServerEvent, 1),
		rooms: make(map[string]*Room),
		stop:  make(chan struct{}),
	}
	slow.send <- &ServerEvent{Type: EventPong}
	room.addClient(slow)

	room.broadcast(&ServerEvent{Type: EventUserJoined, ProjectId: "proj-1", Timestamp: Now()}, nil)

	// the slow peer is torn down; the healthy one still got the event
	assert.Eventually(t, func() bool {
		select {
		case <-slow.stop:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond, "expected the slow client to be stopped")

	ev := nextEvent(t, c1)
	assert.Equal(t, EventUserJoined, ev.Type, "expected delivery to the healthy client")
}
