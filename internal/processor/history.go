package processor

import (
	"github.com/fushengyk/tickflow/internal/domain"
)

// historyBuffer is a fixed-capacity FIFO of data items for one (symbol, kind)
// key. Appending beyond capacity evicts the oldest entry.
type historyBuffer struct {
	buf   []domain.DataItem
	head  int
	count int
}

func newHistoryBuffer(capacity int) *historyBuffer {
	return &historyBuffer{
		buf: make([]domain.DataItem, capacity),
	}
}

func (b *historyBuffer) append(item domain.DataItem) {
	if b.count < len(b.buf) {
		b.buf[(b.head+b.count)%len(b.buf)] = item
		b.count++
		return
	}
	// Full: overwrite the oldest slot and advance
	b.buf[b.head] = item
	b.head = (b.head + 1) % len(b.buf)
}

func (b *historyBuffer) size() int {
	return b.count
}

// latest returns the last min(n, size) items oldest-to-newest as a copy
func (b *historyBuffer) latest(n int) []domain.DataItem {
	if n <= 0 || b.count == 0 {
		return []domain.DataItem{}
	}
	if n > b.count {
		n = b.count
	}

	out := make([]domain.DataItem, n)
	start := b.head + b.count - n
	for i := 0; i < n; i++ {
		out[i] = b.buf[(start+i)%len(b.buf)]
	}
	return out
}
