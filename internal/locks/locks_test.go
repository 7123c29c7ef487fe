package locks

import (
	"sync"
	"testing"
)

func TestPerKeySerializesSameKey(t *testing.T) {
	pk := NewPerKey()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := pk.Lock("doc-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
}

func TestPerKeyIndependentKeys(t *testing.T) {
	pk := NewPerKey()
	unlockA := pk.Lock("a")
	// must not block on a different key
	unlockB := pk.Lock("b")
	unlockB()
	unlockA()

	// same key is reusable after unlock
	unlock := pk.Lock("a")
	unlock()
}
