package tunnel

import "sync/atomic"

// ResourceIDAllocator hands out stream identifiers for frames originated by
// an initiator. Identifiers are monotonically increasing u32 values starting
// at 1, wrapping past 0xffffffff back to 1 — zero is reserved for HEARTBEAT
// and is never allocated.
type ResourceIDAllocator struct {
	next uint32
}

// NewResourceIDAllocator returns an allocator whose first Next() call yields 1.
func NewResourceIDAllocator() *ResourceIDAllocator {
	return &ResourceIDAllocator{next: 0}
}

// Next returns the next resourceId, skipping zero on wraparound.
func (a *ResourceIDAllocator) Next() uint32 {
	for {
		id := atomic.AddUint32(&a.next, 1)
		if id != 0 {
			return id
		}
	}
}
