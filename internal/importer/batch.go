package importer

// buffer is a bounded accumulator. Rows are appended until the
// configured limit, then the owner drains it; drain returns the
// contents and resets the buffer, so there is never aliasing between a
// flushed batch and rows accumulated afterwards.
type buffer[T any] struct {
	rows  []T
	limit int
}

func newBuffer[T any](limit int) *buffer[T] {
	return &buffer[T]{limit: limit}
}

// add appends a row and reports whether the buffer reached its limit.
func (b *buffer[T]) add(row T) bool {
	b.rows = append(b.rows, row)
	return len(b.rows) >= b.limit
}

// drain returns the buffered rows and resets the buffer to empty.
func (b *buffer[T]) drain() []T {
	rows := b.rows
	b.rows = nil
	return rows
}

func (b *buffer[T]) len() int { return len(b.rows) }
