package utils

import (
	"strings"
	"sync"
	"testing"
)

func TestIDGeneratorUnique(t *testing.T) {
	g := NewIDGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		id := g.Generate()
		if seen[id] {
			t.Fatalf("duplicate ID: %s", id)
		}
		seen[id] = true
	}
}

func TestIDGeneratorConcurrent(t *testing.T) {
	g := NewIDGenerator()

	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := g.Generate()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate ID: %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestIDGeneratorWithPrefix(t *testing.T) {
	g := NewIDGenerator()

	id := g.GenerateWithPrefix("eval")
	if !strings.HasPrefix(id, "eval_") {
		t.Errorf("id = %q, want eval_ prefix", id)
	}
}
