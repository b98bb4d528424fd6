package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencerConcurrentNextIsUnique(t *testing.T) {
	s := New(10)
	const workers, per = 8, 500

	var mu sync.Mutex
	seen := make(map[uint64]bool, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				v := s.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*per)
	assert.Equal(t, uint64(10+workers*per), s.Current())
	assert.False(t, seen[10])
}

func TestSequencerAdvanceNeverMovesBack(t *testing.T) {
	s := New(0)
	s.Advance(42)
	assert.Equal(t, uint64(43), s.Next())
	s.Advance(5)
	assert.Equal(t, uint64(43), s.Current())
}
