package bench

import (
	"errors"
	"sync"
	"testing"
)

func TestInputGenerator_WrapsAround(t *testing.T) {
	n := 0
	g, err := NewInputGenerator(3, func() int {
		n++
		return n
	})
	if err != nil {
		t.Fatalf("NewInputGenerator failed: %v", err)
	}

	want := []int{1, 2, 3, 1, 2, 3, 1}
	for i, w := range want {
		if got := g.Next(); got != w {
			t.Errorf("Next() #%d = %d, want %d", i, got, w)
		}
	}
	if g.Len() != 3 {
		t.Errorf("Len() = %d, want 3", g.Len())
	}
}

func TestInputGenerator_Empty(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, err := NewInputGenerator(n, func() int { return 0 }); !errors.Is(err, ErrEmptyGenerator) {
			t.Errorf("NewInputGenerator(%d) error = %v, want ErrEmptyGenerator", n, err)
		}
	}
}

func TestInputGenerator_Concurrent(t *testing.T) {
	g, _ := NewInputGenerator(4, func() int { return 1 })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if g.Next() != 1 {
					t.Error("unexpected value")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestKey_Size(t *testing.T) {
	for _, size := range []int{0, 1, 16, 100} {
		if got := len(Key(size)); got != size {
			t.Errorf("len(Key(%d)) = %d", size, got)
		}
	}
	kv := KV(8, 32)
	if len(kv.Key) != 8 || len(kv.Value) != 32 {
		t.Errorf("KV(8, 32) sizes = %d, %d", len(kv.Key), len(kv.Value))
	}
}

func TestRandomPair_Distinct(t *testing.T) {
	for i := 0; i < 200; i++ {
		p := RandomPair(3)
		if p.From == p.To {
			t.Fatalf("RandomPair returned the same account twice: %+v", p)
		}
		if p.From < 0 || p.From >= 3 || p.To < 0 || p.To >= 3 {
			t.Fatalf("RandomPair out of range: %+v", p)
		}
	}
}
