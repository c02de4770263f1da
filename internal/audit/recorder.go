package audit

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Recorder accepts audit entries. Implementations must be safe for
// concurrent use and must not reorder entries from one caller.
type Recorder interface {
	Record(Entry) error
}

// Memory keeps entries in process. Used by tests and embedders that
// ship entries elsewhere.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemory creates an empty Memory recorder.
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends e.
func (m *Memory) Record(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// Entries returns a copy of all recorded entries in order.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Len returns the number of recorded entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// ForRequest returns the entries with the given request ID.
func (m *Memory) ForRequest(id string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.RequestID == id {
			out = append(out, e)
		}
	}
	return out
}

type tee []Recorder

// Tee records every entry to each recorder in order. All recorders are
// attempted; their errors are joined.
func Tee(recorders ...Recorder) Recorder {
	return tee(recorders)
}

func (t tee) Record(e Entry) error {
	var errs []error
	for _, r := range t {
		if r == nil {
			continue
		}
		if err := r.Record(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stream fans entries out to live subscribers. Delivery is best-effort:
// a subscriber whose buffer is full misses the entry and the drop is
// counted. The durable record is the Log.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]chan Entry
	next    int
	dropped atomic.Int64
}

// NewStream creates a Stream with no subscribers.
func NewStream() *Stream {
	return &Stream{subs: make(map[int]chan Entry)}
}

// Record delivers e to every subscriber without blocking.
func (s *Stream) Record(e Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe returns a channel of future entries and a cancel func that
// unsubscribes and closes the channel.
func (s *Stream) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Entry, buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}
