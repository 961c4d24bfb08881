package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID string `json:"id"`
	N  int    `json:"n"`
}

func rec(n int) record { return record{ID: fmt.Sprintf("r%d", n), N: n} }

func ids(rs []record) []int {
	out := make([]int, len(rs))
	for i, r := range rs {
		out[i] = r.N
	}
	return out
}

func TestHistory_AppendUnderCapacity(t *testing.T) {
	h := NewHistory[record](NewMemorySlot("test"), 10)

	for i := 1; i <= 4; i++ {
		require.NoError(t, h.Append(rec(i)))
	}

	assert.Equal(t, []int{4, 3, 2, 1}, ids(h.List()))
	assert.Equal(t, 4, h.Len())
}

func TestHistory_BoundedEviction(t *testing.T) {
	for _, capacity := range []int{1, 10, 20} {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			h := NewHistory[record](NewMemorySlot("test"), capacity)
			total := capacity + 7
			for i := 1; i <= total; i++ {
				require.NoError(t, h.Append(rec(i)))
			}

			got := h.List()
			require.Len(t, got, capacity)
			assert.Equal(t, total, got[0].N)
			assert.Equal(t, total-capacity+1, got[len(got)-1].N)
		})
	}
}

func TestHistory_ClearIsIdempotent(t *testing.T) {
	slot := NewMemorySlot("test")
	h := NewHistory[record](slot, 10)
	require.NoError(t, h.Append(rec(1)))
	require.NoError(t, h.Append(rec(2)))

	require.NoError(t, h.Clear())
	require.NoError(t, h.Clear())
	assert.Empty(t, h.List())

	data, err := slot.Read()
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, h.Append(rec(3)))
	assert.Equal(t, []int{3}, ids(h.List()))
}

func TestHistory_ListIsSnapshot(t *testing.T) {
	h := NewHistory[record](NewMemorySlot("test"), 10)
	require.NoError(t, h.Append(rec(1)))

	snap := h.List()
	snap[0].N = 99
	require.NoError(t, h.Append(rec(2)))

	assert.Equal(t, []int{99}, ids(snap))
	assert.Equal(t, []int{2, 1}, ids(h.List()))
}

func TestHistory_RoundTripAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	store, err := New(dir)
	require.NoError(t, err)
	h := NewHistory[record](store.Slot("retrainHistory"), 10)
	for i := 1; i <= 13; i++ {
		require.NoError(t, h.Append(rec(i)))
	}
	before := h.List()
	require.NoError(t, store.Close())

	store, err = New(dir)
	require.NoError(t, err)
	defer store.Close()

	reloaded := NewHistory[record](store.Slot("retrainHistory"), 10)
	assert.Equal(t, before, reloaded.List())
	assert.Equal(t, before, reloaded.Load())
}

func TestHistory_LoadFailsOpen(t *testing.T) {
	t.Run("corrupt data", func(t *testing.T) {
		slot := NewMemorySlot("test")
		slot.SetRaw([]byte(`{not json`))
		h := NewHistory[record](slot, 10)
		assert.Empty(t, h.List())
	})

	t.Run("wrong shape", func(t *testing.T) {
		slot := NewMemorySlot("test")
		slot.SetRaw([]byte(`{"id":"x"}`))
		h := NewHistory[record](slot, 10)
		assert.Empty(t, h.List())
	})

	t.Run("read error", func(t *testing.T) {
		slot := NewMemorySlot("test")
		slot.ReadErr = errors.New("disk gone")
		h := NewHistory[record](slot, 10)
		assert.Empty(t, h.Load())
	})

	t.Run("oversized slot is truncated", func(t *testing.T) {
		slot := NewMemorySlot("test")
		slot.SetRaw([]byte(`[{"n":5},{"n":4},{"n":3},{"n":2},{"n":1}]`))
		h := NewHistory[record](slot, 3)
		assert.Equal(t, []int{5, 4, 3}, ids(h.List()))
	})
}

func TestHistory_WriteFailureLeavesStateUntouched(t *testing.T) {
	slot := NewMemorySlot("test")
	h := NewHistory[record](slot, 10)
	require.NoError(t, h.Append(rec(1)))

	slot.WriteErr = errors.New("read-only")

	err := h.Append(rec(2))
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "write", perr.Op)
	assert.Equal(t, []int{1}, ids(h.List()))

	err = h.Clear()
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "delete", perr.Op)
	assert.Equal(t, []int{1}, ids(h.List()))

	slot.WriteErr = nil
	assert.Equal(t, []int{1}, ids(h.Load()))
}

func TestHistory_ConcurrentAppendsAreSerialized(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	h := NewHistory[record](store.Slot("customerPredictions"), 20)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, h.Append(rec(n)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, h.List(), 20)
	// the durable slot matches memory exactly
	assert.Equal(t, h.List(), h.Load())
}

// gatedSlot parks the next Read after arm until release is closed.
type gatedSlot struct {
	*MemorySlot
	mu      sync.Mutex
	armed   bool
	reading chan struct{}
	release chan struct{}
}

func newGatedSlot(name string) *gatedSlot {
	return &gatedSlot{
		MemorySlot: NewMemorySlot(name),
		reading:    make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (g *gatedSlot) arm() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *gatedSlot) Read() ([]byte, error) {
	g.mu.Lock()
	gated := g.armed
	g.armed = false
	g.mu.Unlock()

	data, err := g.MemorySlot.Read()
	if gated {
		close(g.reading)
		<-g.release
	}
	return data, err
}

func TestHistory_LoadDoesNotLoseConcurrentAppend(t *testing.T) {
	slot := newGatedSlot("test")
	h := NewHistory[record](slot, 10)
	slot.arm()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.Load()
	}()
	<-slot.reading

	go func() {
		defer wg.Done()
		assert.NoError(t, h.Append(rec(1)))
	}()
	// give Append the chance to commit while Load is mid-read
	time.Sleep(50 * time.Millisecond)
	close(slot.release)
	wg.Wait()

	assert.Equal(t, []int{1}, ids(h.List()))
	assert.Equal(t, h.List(), h.Load())
}

func TestHistory_NotifyHooksRunInCommitOrder(t *testing.T) {
	h := NewHistory[record](NewMemorySlot("test"), 5)

	var mu sync.Mutex
	var seen [][]int
	var wg sync.WaitGroup
	for i := 1; i <= 30; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, h.AppendNotify(rec(n), func(entries []record) {
				mu.Lock()
				seen = append(seen, ids(entries))
				mu.Unlock()
			}))
		}(i)
	}
	wg.Wait()

	require.Len(t, seen, 30)
	// each hook sees the previous hook's sequence with one entry pushed on
	for i := 1; i < len(seen); i++ {
		prev, cur := seen[i-1], seen[i]
		want := append([]int{cur[0]}, prev...)
		if len(want) > 5 {
			want = want[:5]
		}
		assert.Equal(t, want, cur)
	}
	assert.Equal(t, seen[len(seen)-1], ids(h.List()))

	cleared := false
	require.NoError(t, h.ClearNotify(func() {
		cleared = true
		assert.Empty(t, h.entries)
	}))
	assert.True(t, cleared)
}

func TestHistory_NotifyHookSkippedOnFailure(t *testing.T) {
	slot := NewMemorySlot("test")
	slot.WriteErr = errors.New("read-only")
	h := NewHistory[record](slot, 10)

	called := false
	assert.Error(t, h.AppendNotify(rec(1), func([]record) { called = true }))
	assert.Error(t, h.ClearNotify(func() { called = true }))
	assert.False(t, called)
}

func TestNewHistory_RejectsZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { NewHistory[record](NewMemorySlot("x"), 0) })
}
