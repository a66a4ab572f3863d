package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_OnOff(t *testing.T) {
	b := New()

	var got []Kind
	all := b.On(func(e Event) { got = append(got, e.Kind) })
	sortOnly := b.On(func(e Event) { got = append(got, "only:"+e.Kind) }, Sort)
	assert.Equal(t, 2, b.Len())

	b.Emit(Event{Kind: Filter})
	assert.Equal(t, []Kind{Filter}, got)

	got = nil
	b.Emit(Event{Kind: Sort})
	assert.ElementsMatch(t, []Kind{Sort, "only:sort"}, got)

	b.Off(all)
	b.Off(sortOnly)
	b.Off("unknown")
	got = nil
	b.Emit(Event{Kind: Sort})
	assert.Empty(t, got)
	assert.Equal(t, 0, b.Len())
}

func TestBus_ListenerMayUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	var tok Token
	tok = b.On(func(Event) {
		calls++
		b.Off(tok)
	})

	b.Emit(Event{Kind: Data})
	b.Emit(Event{Kind: Data})
	assert.Equal(t, 1, calls)
}

func TestBus_Subscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe(4, Load)
	defer b.Unsubscribe(ch)

	b.Emit(Event{Kind: Sort})
	b.Emit(Event{Kind: Load, RowCount: 10})

	select {
	case e := <-ch:
		assert.Equal(t, Load, e.Kind)
		assert.Equal(t, int64(10), e.RowCount)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("load event not delivered")
	}
	assert.Empty(t, ch)
}

func TestBus_SubscribeNonBlocking(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		b.Emit(Event{Kind: Data})
		b.Emit(Event{Kind: Data})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Emit blocked on full channel")
	}
	require.Len(t, ch, 1)
}

func TestBus_Concurrent(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := b.Subscribe(1)
			tok := b.On(func(Event) {})
			b.Emit(Event{Kind: Settings})
			b.Off(tok)
			b.Unsubscribe(ch)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, b.Len())
}
