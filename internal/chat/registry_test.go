package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubSession struct {
	id   string
	user int64
}

func (s stubSession) ID() string    { return s.id }
func (s stubSession) UserID() int64 { return s.user }

func TestNonexistentInEmptyRoom(t *testing.T) {
	r := NewRegistry()
	require.True(t, r.Nonexistent(1, 1))
	require.True(t, r.Nonexistent(42, 0))
	require.Nil(t, r.Sessions(1))
}

func TestNonexistentAfterAddingFiveUsers(t *testing.T) {
	r := NewRegistry()
	for u := int64(1); u <= 5; u++ {
		r.Add(1, stubSession{id: fmt.Sprintf("s%d", u), user: u})
	}
	require.True(t, r.Nonexistent(1, 6))
	for u := int64(1); u <= 5; u++ {
		require.False(t, r.Nonexistent(1, u))
	}
	require.True(t, r.Nonexistent(2, 1))
	require.Equal(t, 1, r.Rooms())
	require.Equal(t, 5, r.Len())
}

func TestAddIsIdempotentForSameHandle(t *testing.T) {
	r := NewRegistry()
	s := stubSession{id: "a", user: 7}
	require.Nil(t, r.Add(3, s))
	require.Nil(t, r.Add(3, s))
	require.Len(t, r.Sessions(3), 1)
}

func TestRemoveOnlySessionPrunesRoom(t *testing.T) {
	r := NewRegistry()
	s := stubSession{id: "a", user: 7}
	r.Add(3, s)
	require.False(t, r.Nonexistent(3, 7))

	require.True(t, r.Remove(3, s))
	require.True(t, r.Nonexistent(3, 7))
	require.Equal(t, 0, r.Rooms())

	require.False(t, r.Remove(3, s))
	require.False(t, r.Remove(99, s))
}

func TestMultipleSessionsPerUser(t *testing.T) {
	r := NewRegistry()
	a := stubSession{id: "a", user: 7}
	b := stubSession{id: "b", user: 7}
	r.Add(1, a)
	require.Nil(t, r.Add(1, b))
	require.Len(t, r.Sessions(1), 2)

	r.Remove(1, a)
	require.False(t, r.Nonexistent(1, 7))
	r.Remove(1, b)
	require.True(t, r.Nonexistent(1, 7))
}

func TestSingleSessionPerUserEvicts(t *testing.T) {
	r := NewRegistry(WithSingleSessionPerUser())
	a := stubSession{id: "a", user: 7}
	b := stubSession{id: "b", user: 7}
	other := stubSession{id: "c", user: 8}
	r.Add(1, a)
	r.Add(1, other)

	evicted := r.Add(1, b)
	require.Equal(t, []Session{a}, evicted)
	require.ElementsMatch(t, []Session{b, other}, r.Sessions(1))
	require.Nil(t, r.Add(1, b))
}

func TestKickRemovesAllSessionsOfUser(t *testing.T) {
	r := NewRegistry()
	a := stubSession{id: "a", user: 7}
	b := stubSession{id: "b", user: 7}
	c := stubSession{id: "c", user: 8}
	r.Add(1, a)
	r.Add(1, b)
	r.Add(1, c)
	r.Add(2, stubSession{id: "d", user: 7})

	kicked := r.Kick(1, 7)
	require.ElementsMatch(t, []Session{a, b}, kicked)
	require.True(t, r.Nonexistent(1, 7))
	require.False(t, r.Nonexistent(1, 8))
	require.False(t, r.Nonexistent(2, 7))

	require.Empty(t, r.Kick(1, 7))
	require.Empty(t, r.Kick(5, 7))

	r.Kick(1, 8)
	require.Equal(t, 1, r.Rooms())
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry()
	const rooms, perRoom = 8, 50
	var wg sync.WaitGroup
	for room := int64(0); room < rooms; room++ {
		for i := 0; i < perRoom; i++ {
			wg.Add(1)
			go func(room int64, i int) {
				defer wg.Done()
				s := stubSession{id: fmt.Sprintf("%d-%d", room, i), user: int64(i)}
				r.Add(room, s)
				_ = r.Nonexistent(room, int64(i))
				if i%2 == 0 {
					r.Remove(room, s)
				}
			}(room, i)
		}
	}
	wg.Wait()

	require.Equal(t, rooms, r.Rooms())
	require.Equal(t, rooms*perRoom/2, r.Len())
	for room := int64(0); room < rooms; room++ {
		require.True(t, r.Nonexistent(room, 0))
		require.False(t, r.Nonexistent(room, 1))
	}
}

func TestJoinAndLeaveReportPresenceTransitions(t *testing.T) {
	r := NewRegistry()
	a := stubSession{id: "a", user: 1}
	b := stubSession{id: "b", user: 1}

	_, entered := r.Join(7, a)
	require.True(t, entered)
	_, entered = r.Join(7, b)
	require.False(t, entered)
	_, entered = r.Join(7, a)
	require.False(t, entered)

	removed, exited := r.Leave(7, a)
	require.True(t, removed)
	require.False(t, exited)
	removed, exited = r.Leave(7, a)
	require.False(t, removed)
	require.False(t, exited)
	removed, exited = r.Leave(7, b)
	require.True(t, removed)
	require.True(t, exited)
	require.Zero(t, r.Rooms())
}

func TestConcurrentJoinsOfOneUserEnterOnce(t *testing.T) {
	r := NewRegistry()
	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		entered int
		exited  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, ok := r.Join(3, stubSession{id: fmt.Sprintf("s%d", i), user: 9}); ok {
				mu.Lock()
				entered++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, entered)
	require.Equal(t, n, r.Len())

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, ok := r.Leave(3, stubSession{id: fmt.Sprintf("s%d", i), user: 9}); ok {
				mu.Lock()
				exited++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, exited)
	require.Zero(t, r.Len())
	require.Zero(t, r.Rooms())
}
