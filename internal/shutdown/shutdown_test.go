package shutdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignalClosesDoneExactlyOnce(t *testing.T) {
	c := New(context.Background())
	c.Signal()
	c.Signal()
	select {
	case <-c.Done():
	default:
		t.Fatal("Done() should be closed after Signal()")
	}
}

func TestSignalIsIdempotentAcrossGoroutines(t *testing.T) {
	c := New(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Signal()
		}()
	}
	wg.Wait()
	select {
	case <-c.Done():
	default:
		t.Fatal("Done() should be closed")
	}
}

func TestDrainReturnsTrueWhenWaitCompletesInTime(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		wg.Done()
	}()
	completed := Drain(wg.Wait, time.Second)
	assert.True(t, completed)
}

func TestDrainReturnsFalseOnTimeout(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	completed := Drain(wg.Wait, 10*time.Millisecond)
	assert.False(t, completed)
	wg.Done()
}

func TestDrainUsesDefaultTimeoutWhenNonPositive(t *testing.T) {
	start := time.Now()
	completed := Drain(func() {}, 0)
	assert.True(t, completed)
	assert.Less(t, time.Since(start), DefaultDrainTimeout)
}
