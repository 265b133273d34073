package bus

import "sync"

// DefaultLogSize is the number of messages retained when no size is configured.
const DefaultLogSize = 100

// messageLog is a fixed-capacity ring of the most recently published messages.
type messageLog struct {
	mu    sync.Mutex
	buf   []*Message
	start int // index of the oldest entry
	n     int
}

func newMessageLog(size int) *messageLog {
	if size <= 0 {
		size = DefaultLogSize
	}
	return &messageLog{buf: make([]*Message, size)}
}

// append inserts msg, evicting the oldest entry once the ring is full.
func (l *messageLog) append(msg *Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.n < len(l.buf) {
		l.buf[(l.start+l.n)%len(l.buf)] = msg
		l.n++
		return
	}
	l.buf[l.start] = msg
	l.start = (l.start + 1) % len(l.buf)
}

// snapshot returns the retained messages oldest-first.
func (l *messageLog) snapshot() []*Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Message, l.n)
	for i := 0; i < l.n; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}
