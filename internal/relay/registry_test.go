package relay

import (
	"testing"

	"github.com/collabcode/relay/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()

	conn, err := reg.Register("conn-1", types.User{Id: "u1", Username: "alice"})
	assert.NoError(t, err, "expected no error registering connection")
	assert.Equal(t, "conn-1", conn.Id, "expected connection id to match")
	assert.Equal(t, types.StatusOnline, conn.Status, "expected new connection to be online")
	assert.False(t, conn.LastActivity.IsZero(), "expected last activity to be set")
	assert.Equal(t, 1, reg.Count(), "expected one registered connection")

	_, err = reg.Register("conn-1", types.User{Id: "u2", Username: "bob"})
	assert.ErrorIs(t, err, ErrDuplicateConnection, "expected duplicate registration to fail")
	assert.Equal(t, 1, reg.Count(), "expected count unchanged after duplicate")
}

func TestRegistryUpdateStatus(t *testing.T) {
	reg := NewRegistry()
	reg.Register("conn-1", types.User{Id: "u1", Username: "alice"})

	err := reg.UpdateStatus("conn-1", types.StatusAway)
	assert.NoError(t, err, "expected no error updating status")

	conn, ok := reg.Get("conn-1")
	assert.True(t, ok, "expected connection to exist")
	assert.Equal(t, types.StatusAway, conn.Status, "expected status to be updated")

	err = reg.UpdateStatus("unknown", types.StatusBusy)
	assert.ErrorIs(t, err, ErrConnectionNotFound, "expected error for unknown connection")
}

func TestRegistrySetCurrentFile(t *testing.T) {
	reg := NewRegistry()
	reg.Register("conn-1", types.User{Id: "u1", Username: "alice"})

	err := reg.SetCurrentFile("conn-1", "main.ts")
	assert.NoError(t, err, "expected no error setting current file")

	conn, _ := reg.Get("conn-1")
	assert.Equal(t, "main.ts", conn.CurrentFile, "expected current file to be set")

	err = reg.SetCurrentFile("unknown", "main.ts")
	assert.ErrorIs(t, err, ErrConnectionNotFound, "expected error for unknown connection")
}

func TestRegistrySetRoom(t *testing.T) {
	reg := NewRegistry()
	reg.Register("conn-1", types.User{Id: "u1", Username: "alice"})

	err := reg.SetRoom("conn-1", "proj-1")
	assert.NoError(t, err, "expected no error setting room")

	conn, _ := reg.Get("conn-1")
	assert.Equal(t, "proj-1", conn.RoomId, "expected room to be set")
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry()
	reg.Register("conn-1", types.User{Id: "u1", Username: "alice"})

	conn, err := reg.Unregister("conn-1")
	assert.NoError(t, err, "expected no error unregistering connection")
	assert.Equal(t, "u1", conn.User.Id, "expected removed record to be returned")
	assert.Equal(t, 0, reg.Count(), "expected no registered connections")

	// disconnect paths can race; a second unregister is a tolerated no-op
	_, err = reg.Unregister("conn-1")
	assert.ErrorIs(t, err, ErrConnectionNotFound, "expected error for already removed connection")
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	reg := NewRegistry()
	reg.Register("conn-1", types.User{Id: "u1", Username: "alice"})

	conn, ok := reg.Get("conn-1")
	assert.True(t, ok, "expected connection to exist")

	conn.Status = types.StatusOffline

	stored, _ := reg.Get("conn-1")
	assert.Equal(t, types.StatusOnline, stored.Status, "expected stored record to be unaffected by caller mutation")
}
