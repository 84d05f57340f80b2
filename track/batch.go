package track

// Source is a forward-only sequence.
type Source[T any] interface {
	Next() (T, bool)
}

// Batcher regroups a Source into chunks of at most size items.
type Batcher[T any] struct {
	src  Source[T]
	size int
	done bool
}

func NewBatcher[T any](src Source[T], size int) *Batcher[T] {
	if size < 1 {
		size = 1
	}
	return &Batcher[T]{src: src, size: size}
}

// Next pulls from the source until the chunk is full or the source ends.
// Only the final chunk may be short; an empty chunk is never returned.
func (b *Batcher[T]) Next() ([]T, bool) {
	if b.done {
		return nil, false
	}
	batch := make([]T, 0, b.size)
	for len(batch) < b.size {
		v, ok := b.src.Next()
		if !ok {
			b.done = true
			break
		}
		batch = append(batch, v)
	}
	if len(batch) == 0 {
		return nil, false
	}
	return batch, true
}

// Lookahead lets the first item of a Source be inspected before the
// Source is handed on; Next replays it.
type Lookahead[T any] struct {
	src    Source[T]
	head   T
	has    bool
	peeked bool
}

func NewLookahead[T any](src Source[T]) *Lookahead[T] {
	return &Lookahead[T]{src: src}
}

// Peek returns the next item without consuming it.
func (l *Lookahead[T]) Peek() (T, bool) {
	if !l.peeked {
		l.head, l.has = l.src.Next()
		l.peeked = true
	}
	return l.head, l.has
}

func (l *Lookahead[T]) Next() (T, bool) {
	if l.peeked {
		l.peeked = false
		v, ok := l.head, l.has
		var zero T
		l.head, l.has = zero, false
		return v, ok
	}
	return l.src.Next()
}
