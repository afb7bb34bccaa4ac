package chat

import "time"

// idAllocator hands out message ids: unix milliseconds, bumped past the previous id when
// the clock has not advanced (or went backwards). Owned by the hub loop.
type idAllocator struct {
	last int64
	now  func() time.Time
}

func newIDAllocator(last int64, now func() time.Time) *idAllocator {
	if now == nil {
		now = time.Now
	}
	return &idAllocator{last: last, now: now}
}

// next returns a fresh id and the clock reading it was derived from.
func (a *idAllocator) next() (int64, time.Time) {
	at := a.now()

	id := at.UnixMilli()
	if id <= a.last {
		id = a.last + 1
	}
	a.last = id

	return id, at
}
