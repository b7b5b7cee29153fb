package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinLeave_SlotReuse(t *testing.T) {
	m := NewRoomManager()

	a := m.Join("alice")
	b := m.Join("alice")
	assert.Equal(t, 0, a.slot)
	assert.Equal(t, 1, b.slot)
	assert.Equal(t, 2, m.Members("alice"))

	m.Leave("alice", a.slot)
	assert.Equal(t, 1, m.Members("alice"))

	c := m.Join("alice")
	assert.Equal(t, 0, c.slot)
}

func TestLeave_LastMemberDropsRoom(t *testing.T) {
	m := NewRoomManager()

	s := m.Join("alice")
	m.Leave("alice", s.slot)

	assert.Equal(t, 0, m.Members("alice"))
	m.mu.Lock()
	_, ok := m.rooms["alice"]
	m.mu.Unlock()
	assert.False(t, ok)
}

func TestBroadcast_SkipsOriginator(t *testing.T) {
	m := NewRoomManager()

	a := m.Join("alice")
	b := m.Join("alice")

	n := m.Broadcast("alice", a.slot)
	assert.Equal(t, 1, n)

	select {
	case <-b.outdated:
	default:
		t.Fatal("sibling session was not notified")
	}
	select {
	case <-a.outdated:
		t.Fatal("originating session must not be notified")
	default:
	}
}

func TestBroadcast_LossyWhenLagging(t *testing.T) {
	m := NewRoomManager()

	m.Join("alice")
	b := m.Join("alice")

	// fill b's buffer; further notifications are dropped, not blocked
	assert.Equal(t, 1, m.Broadcast("alice", 0))
	assert.Equal(t, 0, m.Broadcast("alice", 0))

	<-b.outdated
	assert.Equal(t, 1, m.Broadcast("alice", 0))
}

func TestBroadcast_OtherUsersUnaffected(t *testing.T) {
	m := NewRoomManager()

	m.Join("alice")
	bob := m.Join("bob")

	m.Broadcast("alice", -1)
	select {
	case <-bob.outdated:
		t.Fatal("bob must not receive alice's broadcast")
	default:
	}
}
