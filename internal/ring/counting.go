package ring

// CountingBuffer wraps a Buffer, additionally tracking how many discarded
// (overwritten) elements matched a caller-supplied predicate — used by
// console capture to report discarded errors/warnings separately from the
// raw overflow count, so operators can detect capture loss of the messages
// that matter most.
type CountingBuffer[T any] struct {
	buf           *Buffer[T]
	notable       func(T) bool
	discardedNote int
}

// NewCounting wraps a new Buffer[T] of the given capacity, counting
// discards that satisfy notable.
func NewCounting[T any](capacity int, notable func(T) bool) *CountingBuffer[T] {
	return &CountingBuffer[T]{buf: New[T](capacity), notable: notable}
}

// Push pushes item, incrementing the notable-discard counter if this push
// evicts an existing notable element.
func (c *CountingBuffer[T]) Push(item T) {
	full := c.buf.Size() == c.buf.Capacity()
	var evicted T
	var hadEvicted bool
	if full {
		evicted, hadEvicted = c.buf.Peek()
	}
	c.buf.Push(item)
	if hadEvicted && c.notable(evicted) {
		c.discardedNote++
	}
}

// DiscardedNotable returns the count of evicted elements that matched the
// notable predicate (e.g. console error/warning messages lost to overflow).
func (c *CountingBuffer[T]) DiscardedNotable() int { return c.discardedNote }

// Buffer exposes the underlying Buffer for read operations (Size, ToArray,
// Slice, Find, Filter, ...).
func (c *CountingBuffer[T]) Buffer() *Buffer[T] { return c.buf }

// Clear empties the buffer and resets both the overflow and notable-discard
// counters.
func (c *CountingBuffer[T]) Clear() {
	c.buf.Clear()
	c.discardedNote = 0
}
