package keylock_test

import (
	"sync"
	"testing"

	"github.com/xraph/rewind/internal/keylock"
)

func TestLockSerializesPerKey(t *testing.T) {
	m := keylock.New()
	counter := 0
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("sess")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50, got %d", counter)
	}
	if m.Len() != 0 {
		t.Fatalf("expected released keys to be dropped, %d remain", m.Len())
	}
}

func TestDistinctKeysDoNotBlock(t *testing.T) {
	m := keylock.New()
	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock("b")
		unlock()
		close(done)
	}()
	<-done
}
