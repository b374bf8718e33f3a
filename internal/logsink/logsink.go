package logsink

import (
	"sync"
	"time"
)

const DefaultCapacity = 200

// Appender receives human readable status strings. Implementations must be
// safe for concurrent use and must not block the caller.
type Appender interface {
	Append(message string)
}

type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Buffer keeps the most recent entries in a fixed ring.
type Buffer struct {
	mu    sync.Mutex
	list  []Entry
	head  int
	count int
	total uint64
	now   func() time.Time
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		list: make([]Entry, capacity),
		now:  time.Now,
	}
}

func (b *Buffer) Append(message string) {
	b.mu.Lock()
	b.list[b.head] = Entry{Time: b.now(), Message: message}
	b.head = b.head + 1
	if b.head == len(b.list) {
		b.head = 0
	}
	if b.count < len(b.list) {
		b.count = b.count + 1
	}
	b.total = b.total + 1
	b.mu.Unlock()
}

// Entries returns the retained entries, oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, 0, b.count)
	start := b.head - b.count
	if start < 0 {
		start = start + len(b.list)
	}
	for i := 0; i < b.count; i++ {
		out = append(out, b.list[(start+i)%len(b.list)])
	}
	return out
}

// Total is the number of messages appended since creation, including
// those already overwritten.
func (b *Buffer) Total() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

type discard struct{}

func (discard) Append(string) {}

// Discard drops every message.
var Discard Appender = discard{}
