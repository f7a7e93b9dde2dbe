package memory

import (
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/agyn-ub/eth-minority-rule-sub000/backend/model/modeltest"
)

func newIndex() *RoomIndex {
	logger := zerolog.Nop()
	return NewRoomIndex(&logger)
}

func TestRoomIndex_SubscribeIsIdempotent(t *testing.T) {
	ri := newIndex()
	s := modeltest.NewSession("a")

	assert.True(t, ri.Subscribe(s, "game:1"))
	assert.False(t, ri.Subscribe(s, "game:1"))

	assert.Equal(t, map[string]int{"game:1": 1}, ri.Rooms())
	assert.Len(t, ri.Members("game:1"), 1)
	assert.Equal(t, []string{"game:1"}, ri.UnsubscribeAll(s))
}

func TestRoomIndex_UnsubscribeRemovesEmptyRoom(t *testing.T) {
	ri := newIndex()
	a := modeltest.NewSession("a")
	b := modeltest.NewSession("b")

	ri.Subscribe(a, "game:1")
	ri.Subscribe(b, "game:1")

	assert.True(t, ri.Unsubscribe(a, "game:1"))
	assert.Equal(t, map[string]int{"game:1": 1}, ri.Rooms())

	assert.True(t, ri.Unsubscribe(b, "game:1"))
	assert.Empty(t, ri.Rooms())
	assert.Empty(t, ri.Members("game:1"))
	assert.Empty(t, ri.UnsubscribeAll(a), "joined set must be cleared")
	assert.Empty(t, ri.UnsubscribeAll(b), "joined set must be cleared")
}

func TestRoomIndex_UnsubscribeNotAMember(t *testing.T) {
	ri := newIndex()
	a := modeltest.NewSession("a")
	b := modeltest.NewSession("b")
	ri.Subscribe(a, "game:1")

	assert.False(t, ri.Unsubscribe(b, "game:1"))
	assert.False(t, ri.Unsubscribe(a, "game:2"))
	assert.Equal(t, map[string]int{"game:1": 1}, ri.Rooms())
	assert.Empty(t, ri.Rooms()["game:2"])
}

func TestRoomIndex_UnsubscribeAll(t *testing.T) {
	ri := newIndex()
	a := modeltest.NewSession("a")
	b := modeltest.NewSession("b")

	for _, room := range []string{"game:1", "game:2", "list:active"} {
		ri.Subscribe(a, room)
	}
	ri.Subscribe(b, "game:2")

	left := ri.UnsubscribeAll(a)

	assert.ElementsMatch(t, []string{"game:1", "game:2", "list:active"}, left)
	assert.Equal(t, map[string]int{"game:2": 1}, ri.Rooms())
	for _, room := range left {
		for _, m := range ri.Members(room) {
			assert.NotEqual(t, "a", m.ID())
		}
	}

	assert.Empty(t, ri.UnsubscribeAll(a), "second call is a no-op")
}

func TestRoomIndex_MembersIsSnapshot(t *testing.T) {
	ri := newIndex()
	a := modeltest.NewSession("a")
	ri.Subscribe(a, "game:1")

	members := ri.Members("game:1")
	ri.Unsubscribe(a, "game:1")

	assert.Len(t, members, 1)
	assert.Empty(t, ri.Members("game:1"))
}

func TestRoomIndex_ConcurrentChurn(t *testing.T) {
	ri := newIndex()
	wg := &sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s := modeltest.NewSession(strconv.Itoa(id))
			ri.Subscribe(s, "game:1")
			ri.Subscribe(s, "list:active")
			_ = ri.Members("game:1")
			ri.UnsubscribeAll(s)
		}(i)
	}
	wg.Wait()

	assert.Empty(t, ri.Rooms())
}
