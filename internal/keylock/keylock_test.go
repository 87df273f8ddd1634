package keylock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestLocker_SerializesSameKey(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("checkout")
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxInside)
	assert.Zero(t, l.Len())
}

func TestLocker_IndependentKeys(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New()
	unlockA := l.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestLocker_UnlockIsIdempotent(t *testing.T) {
	l := New()
	unlock := l.Lock("a")
	unlock()
	unlock()
	assert.Zero(t, l.Len())
}
