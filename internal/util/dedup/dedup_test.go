package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentDuplicatesRunOnce(t *testing.T) {
	g := New(nil)
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32

	fn := func(context.Context) (string, error) {
		calls.Add(1)
		close(started)
		<-release
		return "ok", nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var firstRan bool
	go func() {
		defer wg.Done()
		_, firstRan, _ = Do(context.Background(), g, "pause-t1", fn)
	}()
	<-started

	assert.True(t, g.IsPending("pause-t1"))
	v, ran, err := Do(context.Background(), g, "pause-t1", fn)
	assert.False(t, ran)
	assert.NoError(t, err)
	assert.Empty(t, v)

	close(release)
	wg.Wait()
	assert.True(t, firstRan)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, g.IsPending("pause-t1"))
}

func TestKeyReleasedAfterFailure(t *testing.T) {
	g := New(nil)
	boom := errors.New("服务器内部错误")

	_, ran, err := Do(context.Background(), g, "k", func(context.Context) (int, error) { return 0, boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)

	v, ran, err := Do(context.Background(), g, "k", func(context.Context) (int, error) { return 3, nil })
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 3, v)
}

func TestKeyReleasedAfterPanic(t *testing.T) {
	g := New(nil)
	assert.Panics(t, func() {
		_, _, _ = Do(context.Background(), g, "k", func(context.Context) (int, error) { panic("boom") })
	})
	assert.False(t, g.IsPending("k"))
}

func TestDistinctKeysDoNotBlock(t *testing.T) {
	g := New(nil)
	_, ran, _ := Do(context.Background(), g, TaskOperationKey("pause", "a"), func(ctx context.Context) (int, error) {
		_, inner, _ := Do(ctx, g, TaskOperationKey("pause", "b"), func(context.Context) (int, error) { return 1, nil })
		assert.True(t, inner)
		return 0, nil
	})
	assert.True(t, ran)
	assert.Equal(t, "cancel-42", TaskOperationKey("cancel", "42"))
}

func TestWrapDefaultsToOneKeyPerWrapper(t *testing.T) {
	g := New(nil)
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	slow := func(_ context.Context, id string) (string, error) {
		started <- struct{}{}
		<-release
		return id, nil
	}
	generate := Wrap(g, slow, nil)
	other := Wrap(g, func(_ context.Context, id string) (string, error) { return "other-" + id, nil }, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, ran, err := generate(context.Background(), "a")
		assert.NoError(t, err)
		assert.True(t, ran)
		assert.Equal(t, "a", v)
	}()
	<-started

	// a different argument still collides under the default key
	_, ran, err := generate(context.Background(), "b")
	require.NoError(t, err)
	assert.False(t, ran)

	// a separate wrapper has its own key
	v, ran, err := other(context.Background(), "b")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, "other-b", v)

	close(release)
	wg.Wait()
}

func TestWrapUsesKeyFunc(t *testing.T) {
	g := New(nil)
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	pause := Wrap(g, func(_ context.Context, id string) (string, error) {
		started <- struct{}{}
		<-release
		return id, nil
	}, func(id string) string { return TaskOperationKey("pause", id) })

	var wg sync.WaitGroup
	for _, id := range []string{"t-1", "t-2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, ran, err := pause(context.Background(), id)
			assert.NoError(t, err)
			assert.True(t, ran)
		}(id)
	}
	<-started
	<-started
	assert.True(t, g.IsPending("pause-t-1"))

	_, ran, err := pause(context.Background(), "t-1")
	require.NoError(t, err)
	assert.False(t, ran)

	close(release)
	wg.Wait()
	assert.False(t, g.IsPending("pause-t-1"))
}
