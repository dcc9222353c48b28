package tunnel

import "testing"

func TestResourceIDMonotonic(t *testing.T) {
	a := NewResourceIDAllocator()
	prev := uint32(0)
	for i := 0; i < 1000; i++ {
		id := a.Next()
		if id == 0 {
			t.Fatalf("allocator returned reserved id 0 at iteration %d", i)
		}
		if id != prev+1 {
			t.Fatalf("expected monotonic increment, got %d after %d", id, prev)
		}
		prev = id
	}
}

func TestResourceIDWrapsSkippingZero(t *testing.T) {
	a := &ResourceIDAllocator{next: 0xfffffffe}
	if id := a.Next(); id != 0xffffffff {
		t.Fatalf("want 0xffffffff, got 0x%x", id)
	}
	if id := a.Next(); id != 1 {
		t.Fatalf("want wraparound to 1, got 0x%x", id)
	}
}
