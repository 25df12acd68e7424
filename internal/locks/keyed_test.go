package locks

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteRunsWork(t *testing.T) {
	km := NewKeyedMutex()

	ran := false
	err := km.Execute("aapl", false, func() error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestExecutePropagatesError(t *testing.T) {
	km := NewKeyedMutex()

	wantErr := errors.New("upstream unavailable")
	err := km.Execute("aapl", true, func() error { return wantErr })
	assert.ErrorIs(t, err, wantErr)

	// A failed attempt must not mark the key as completed.
	ran := false
	err = km.Execute("aapl", true, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestExecuteOnceElidesSecondCall(t *testing.T) {
	km := NewKeyedMutex()

	var calls int32
	work := func() error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	require.NoError(t, km.Execute("spy", true, work))
	require.NoError(t, km.Execute("spy", true, work))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// A different key still runs.
	require.NoError(t, km.Execute("qqq", true, work))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecuteSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	var inside int32
	var maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = km.Do("msft", func() error {
				n := atomic.AddInt32(&inside, 1)
				if n > atomic.LoadInt32(&maxInside) {
					atomic.StoreInt32(&maxInside, n)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside, "work for one key must never overlap")
}

func TestExecuteConcurrentOnceRunsExactlyOnce(t *testing.T) {
	km := NewKeyedMutex()

	var calls int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = km.Execute("coarse-20240102", true, func() error {
				atomic.AddInt32(&calls, 1)
				time.Sleep(time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDistinctKeysProceedInParallel(t *testing.T) {
	km := NewKeyedMutex()

	start := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = km.Do("slow", func() error {
			close(start)
			<-release
			return nil
		})
	}()

	<-start

	// While "slow" holds its lock, another key must not block.
	done := make(chan struct{})
	go func() {
		_ = km.Do("fast", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("independent key blocked behind unrelated lock")
	}

	close(release)
	wg.Wait()
}
