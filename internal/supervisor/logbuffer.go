package supervisor

import "sync"

// LogBuffer is a bounded ring of output lines. Appends drop the oldest
// line once the cap is reached; snapshots copy under a short lock so
// readers never stall the drain path.
type LogBuffer struct {
	mu     sync.Mutex
	lines  []string
	start  int
	count  int
	cap    int
	onLine func(string)
}

// NewLogBuffer returns a buffer holding at most capacity lines.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &LogBuffer{lines: make([]string, capacity), cap: capacity}
}

// OnLine registers a callback invoked outside the buffer lock for every
// appended line. Used to fan lines out to streaming subscribers.
func (b *LogBuffer) OnLine(fn func(string)) {
	b.mu.Lock()
	b.onLine = fn
	b.mu.Unlock()
}

// Append records one line, evicting the oldest when full.
func (b *LogBuffer) Append(line string) {
	b.mu.Lock()
	idx := (b.start + b.count) % b.cap
	if b.count == b.cap {
		b.start = (b.start + 1) % b.cap
		b.count--
	}
	b.lines[idx] = line
	b.count++
	fn := b.onLine
	b.mu.Unlock()
	if fn != nil {
		fn(line)
	}
}

// Snapshot returns the buffered lines, oldest first.
func (b *LogBuffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.lines[(b.start+i)%b.cap])
	}
	return out
}

// Len reports the number of buffered lines.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
