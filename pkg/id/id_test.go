package id

import (
	"sort"
	"sync"
	"testing"
)

func TestNextIsStrictlyIncreasing(t *testing.T) {
	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 10000; i++ {
		next := g.Next()
		if next <= prev {
			t.Fatalf("id regressed: %d then %d", prev, next)
		}
		prev = next
	}
}

func TestNextIsUniqueUnderConcurrency(t *testing.T) {
	g := NewGenerator()
	const workers, per = 8, 2000
	var mu sync.Mutex
	var all []int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, per)
			for i := 0; i < per; i++ {
				ids = append(ids, g.Next())
			}
			mu.Lock()
			all = append(all, ids...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i := 1; i < len(all); i++ {
		if all[i] == all[i-1] {
			t.Fatalf("duplicate id %d", all[i])
		}
	}
}
