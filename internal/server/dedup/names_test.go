package dedup

import "testing"

func TestNameNextIsStrictlyGreater(t *testing.T) {
	var n Name
	for i := 0; i < 1000; i++ {
		next := n.Next()
		if !n.Less(next) {
			t.Fatalf("iteration %d: Next() did not produce a strictly greater name", i)
		}
		n = next
	}
}

func TestNameNextCarries(t *testing.T) {
	var n Name
	n[len(n)-1] = 0xFF
	next := n.Next()
	if next[len(next)-1] != 0 || next[len(next)-2] != 1 {
		t.Errorf("expected carry into the second-to-last byte, got %x", next)
	}
}

func TestNameOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Next() to panic on full overflow")
		}
	}()
	var n Name
	for i := range n {
		n[i] = 0xFF
	}
	n.Next()
}
