package correlate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(opts ...Option) *Table {
	return New(append([]Option{WithIDGenerator(NewSequenceGenerator("test"))}, opts...)...)
}

func TestTable_ResolveThenAwait(t *testing.T) {
	tbl := newTestTable()
	id := tbl.NewID(nil)
	assert.Equal(t, "test-1", id)

	require.NoError(t, tbl.Resolve(id, "value"))

	got, err := tbl.Await(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "value", got)
}

func TestTable_AwaitBlocksUntilResolved(t *testing.T) {
	tbl := newTestTable()
	id := tbl.NewID(nil)

	result := make(chan any, 1)
	go func() {
		v, err := tbl.Await(context.Background(), id)
		if err != nil {
			result <- err
			return
		}
		result <- v
	}()

	select {
	case <-result:
		t.Fatal("await returned before resolve")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, tbl.Resolve(id, 42))
	select {
	case v := <-result:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("await did not return after resolve")
	}
}

func TestTable_SingleResolution(t *testing.T) {
	tbl := newTestTable()
	id := tbl.NewID(nil)

	require.NoError(t, tbl.Resolve(id, "first"))
	err := tbl.Resolve(id, "second")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	got, err := tbl.Await(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "first", got)
}

func TestTable_ConcurrentResolveOnlyOneWins(t *testing.T) {
	tbl := newTestTable()
	id := tbl.NewID(nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tbl.Resolve(id, i) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestTable_UnknownID(t *testing.T) {
	tbl := newTestTable()
	other := tbl.NewID(nil)

	err := tbl.Resolve("never-issued", "x")
	assert.ErrorIs(t, err, ErrUnknownID)

	_, err = tbl.Await(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrUnknownID)

	assert.Equal(t, 1, tbl.Pending(), "resolving a different id leaves the pending one untouched")
	require.NoError(t, tbl.Resolve(other, "ok"))
	assert.Equal(t, 0, tbl.Pending())
}

func TestTable_HookRunsOnceAndTransforms(t *testing.T) {
	tbl := newTestTable()
	calls := 0
	id := tbl.NewID(func(v any) (any, error) {
		calls++
		return v.(string) + "!", nil
	})

	require.NoError(t, tbl.Resolve(id, "done"))
	_ = tbl.Resolve(id, "again")

	got, err := tbl.Await(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "done!", got)
	assert.Equal(t, 1, calls)
}

func TestTable_HookErrorReachesWaiters(t *testing.T) {
	tbl := newTestTable()
	boom := errors.New("boom")
	id := tbl.NewID(func(any) (any, error) { return nil, boom })

	err := tbl.Resolve(id, nil)
	assert.ErrorIs(t, err, boom)

	_, err = tbl.Await(context.Background(), id)
	assert.ErrorIs(t, err, boom)
}

func TestTable_CloseReleasesPending(t *testing.T) {
	tbl := newTestTable()
	id := tbl.NewID(nil)

	done := make(chan error, 1)
	go func() {
		_, err := tbl.Await(context.Background(), id)
		done <- err
	}()

	streamEnded := errors.New("stream ended")
	tbl.Close(streamEnded)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, streamEnded)
	case <-time.After(time.Second):
		t.Fatal("close did not release the waiter")
	}

	late := tbl.NewID(nil)
	_, err := tbl.Await(context.Background(), late)
	assert.ErrorIs(t, err, streamEnded)
	assert.ErrorIs(t, tbl.Resolve(late, 1), ErrAlreadyResolved)
}

func TestTable_CloseDefaultError(t *testing.T) {
	tbl := newTestTable()
	id := tbl.NewID(nil)
	tbl.Close(nil)
	tbl.Close(errors.New("ignored"))

	_, err := tbl.Await(context.Background(), id)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTable_AwaitRespectsContext(t *testing.T) {
	tbl := newTestTable()
	id := tbl.NewID(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := tbl.Await(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, tbl.Pending(), "cancelling a wait does not resolve the id")
}

func TestTable_AwaitTimeout(t *testing.T) {
	tbl := newTestTable(WithAwaitTimeout(10 * time.Millisecond))
	id := tbl.NewID(nil)

	_, err := tbl.Await(context.Background(), id)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	g := UUIDv7Generator{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.Generate()
		assert.Len(t, id, 36)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
