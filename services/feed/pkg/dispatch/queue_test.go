package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropOldest_KeepsNewest(t *testing.T) {
	q := New[string](2, DropOldest)
	require.NoError(t, q.Push("A"))
	require.NoError(t, q.Push("B"))
	require.NoError(t, q.Push("C"))

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "B", v)
	v, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "C", v)

	st := q.Stats()
	assert.Equal(t, uint64(3), st.Pushed)
	assert.Equal(t, uint64(2), st.Popped)
	assert.Equal(t, uint64(1), st.Dropped)
}

func TestDropOldest_RetainedNewerThanDropped(t *testing.T) {
	var dropped []int
	q := New[int](8, DropOldest, WithDropHook(func(v int) { dropped = append(dropped, v) }))
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Push(i))
		assert.LessOrEqual(t, q.Len(), q.Cap())
	}

	maxDropped := -1
	for _, d := range dropped {
		if d > maxDropped {
			maxDropped = d
		}
	}
	for {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		assert.Greater(t, v, maxDropped)
	}
	assert.Len(t, dropped, 92)
}

func TestDropNewest_ReturnsErrFull(t *testing.T) {
	q := New[int](1, DropNewest)
	require.NoError(t, q.Push(1))
	assert.ErrorIs(t, q.Push(2), ErrFull)

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, uint64(1), q.Stats().Dropped)
}

func TestBlock_WaitsForSpace(t *testing.T) {
	q := New[int](1, Block)
	require.NoError(t, q.Push(1))

	done := make(chan error, 1)
	go func() { done <- q.Push(2) }()

	select {
	case <-done:
		t.Fatal("push should block while full")
	case <-time.After(50 * time.Millisecond):
	}

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked push did not resume")
	}
	v, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestClose_WakesProducersAndConsumers(t *testing.T) {
	full := New[int](1, Block)
	require.NoError(t, full.Push(1))
	empty := New[int](1, DropOldest)

	var wg sync.WaitGroup
	wg.Add(2)
	var pushErr error
	var popOK bool
	go func() { defer wg.Done(); pushErr = full.Push(2) }()
	go func() { defer wg.Done(); _, popOK = empty.Pop() }()

	time.Sleep(20 * time.Millisecond)
	full.Close()
	empty.Close()
	wg.Wait()

	assert.ErrorIs(t, pushErr, ErrClosed)
	assert.False(t, popOK)
}

func TestClose_DiscardsBuffered(t *testing.T) {
	q := New[int](4, DropOldest)
	require.NoError(t, q.Push(1))
	q.Close()
	q.Close()

	_, ok := q.Pop()
	assert.False(t, ok)
	_, ok = q.TryPop()
	assert.False(t, ok)
	assert.ErrorIs(t, q.Push(3), ErrClosed)
	assert.True(t, q.Closed())
	assert.Equal(t, 0, q.Len())
}

func TestDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New[int](0, DropOldest).Cap())
}

func TestParsePolicy(t *testing.T) {
	cases := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", DropOldest, false},
		{"drop_oldest", DropOldest, false},
		{"DROP-NEWEST", DropNewest, false},
		{"block", Block, false},
		{"lifo", DropOldest, true},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, err := ParsePolicy(c.in)
			assert.Equal(t, c.wantErr, err != nil)
			assert.Equal(t, c.want, got)
		})
	}

	var p Policy
	require.NoError(t, p.UnmarshalText([]byte("block")))
	assert.Equal(t, Block, p)
	assert.Error(t, p.UnmarshalText([]byte("nope")))
}
