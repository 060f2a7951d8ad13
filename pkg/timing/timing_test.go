package timing

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func listOf(l *List) []int {
	var res []int
	for i := l.Front(); i != None; i = l.Next(i) {
		res = append(res, i)
	}
	return res
}

func TestList(t *testing.T) {
	l := NewList(4)
	require.True(t, l.Empty())
	require.Equal(t, None, l.Front())
	for i := 0; i < 4; i++ {
		require.True(t, l.Detached(i))
	}

	l.InsertBefore(None, 2)
	l.InsertBefore(None, 0)
	l.InsertBefore(2, 3)
	require.Equal(t, []int{3, 2, 0}, listOf(l))
	require.Equal(t, 3, l.Count())
	require.False(t, l.Detached(3))

	l.Remove(2)
	require.True(t, l.Detached(2))
	require.Equal(t, []int{3, 0}, listOf(l))
	l.Remove(2)
	require.Equal(t, []int{3, 0}, listOf(l))

	require.Panics(t, func() { l.InsertBefore(None, 3) })
	require.Panics(t, func() { l.InsertBefore(2, 1) })
	require.Panics(t, func() { l.Detached(4) })
	require.Panics(t, func() { l.Detached(-1) })

	l.Remove(3)
	l.Remove(0)
	require.True(t, l.Empty())
}

func TestDue(t *testing.T) {
	require.True(t, Due(10, 10))
	require.True(t, Due(11, 10))
	require.False(t, Due(9, 10))
	require.True(t, Due(5, 0xfffffff0))
	require.False(t, Due(0xfffffff0, 5))
	require.True(t, Before(0xfffffff0, 5))
	require.False(t, Before(5, 5))
}

func TestArmOrderAndTies(t *testing.T) {
	tm := NewTimeouts(5)
	tm.Arm(0, 100, 30, false)
	tm.Arm(1, 100, 10, false)
	tm.Arm(2, 100, 30, false)
	tm.Arm(3, 100, 20, true)
	require.Equal(t, []int{1, 3, 0, 2}, tm.Pending())
	require.Equal(t, Entry{Interval: 20, Deadline: 120}, tm.Entry(3))
	require.Equal(t, Entry{Interval: 0, Deadline: 130}, tm.Entry(0))

	// re-arm moves the entry.
	tm.Arm(1, 100, 40, false)
	require.Equal(t, []int{3, 0, 2, 1}, tm.Pending())

	// zero delay disarms, twice is fine.
	tm.Arm(0, 100, 0, false)
	tm.Arm(0, 100, 0, false)
	require.False(t, tm.Armed(0))
	require.Equal(t, []int{3, 2, 1}, tm.Pending())
	tm.Disarm(4)
}

func TestExpireInOrder(t *testing.T) {
	tm := NewTimeouts(4)
	for i, delay := range []uint32{40, 10, 30, 20} {
		tm.Arm(i, 0, delay, false)
	}
	var fired []int
	n := tm.Expire(25, func(i int) { fired = append(fired, i) })
	require.Equal(t, 2, n)
	require.Equal(t, []int{1, 3}, fired)
	n = tm.Expire(100, func(i int) { fired = append(fired, i) })
	require.Equal(t, 2, n)
	require.Equal(t, []int{1, 3, 2, 0}, fired)
	require.Empty(t, tm.Pending())
	require.Equal(t, 0, tm.Expire(200, nil))
}

func TestExpirePeriodic(t *testing.T) {
	tm := NewTimeouts(1)
	tm.Arm(0, 0, 10, true)
	var fires []uint32
	now := uint32(0)
	for step := 0; step < 10; step++ {
		now += 5
		tm.Expire(now, func(i int) { fires = append(fires, now) })
		if tm.Armed(0) {
			require.True(t, tm.Entry(0).Deadline-now <= 10)
		}
	}
	require.Equal(t, []uint32{10, 20, 30, 40, 50}, fires)

	// a late update slips once, it does not catch up.
	now += 25
	fires = nil
	tm.Expire(now, func(int) { fires = append(fires, now) })
	require.Len(t, fires, 1)
	require.Equal(t, now+10, tm.Entry(0).Deadline)
}

func TestWraparoundOrder(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		start := uint32(0xffffffff) - uint32(rnd.Intn(1000))
		n := 8
		tm := NewTimeouts(n)
		deadlines := make(map[int]uint32)
		var order []int
		for i := 0; i < n; i++ {
			delay := uint32(rnd.Intn(2000) + 1)
			tm.Arm(i, start, delay, false)
			deadlines[i] = start + delay
			order = append(order, i)
		}
		sort.SliceStable(order, func(a, b int) bool {
			return uint64(deadlines[order[a]]-start) < uint64(deadlines[order[b]]-start)
		})
		var fired []int
		now := start
		for tm.list.Front() != None {
			now += uint32(rnd.Intn(50) + 1)
			tm.Expire(now, func(i int) {
				require.True(t, Due(now, deadlines[i]))
				fired = append(fired, i)
			})
		}
		require.Equal(t, order, fired)
	}
}
