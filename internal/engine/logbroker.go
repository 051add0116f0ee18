package engine

import "sync"

// subscriberBufferSize is the channel buffer for each log subscriber.
// Lines are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// DefaultBacklog is how many recent lines a topic replays to a new
// subscriber.
const DefaultBacklog = 256

// LogBroker fans out the mw.log lines of running invocations to
// subscribers. It is safe for concurrent use.
//
// A subscriber joining mid-run first receives the topic's backlog. Closed
// topics keep their backlog, so a late subscriber gets the tail of the run
// and then a closed channel.
type LogBroker struct {
	mu      sync.Mutex
	topics  map[string]*logTopic
	backlog int
}

type logTopic struct {
	subs   map[int]chan string
	nextID int
	recent []string
	closed bool
}

// NewLogBroker creates a log broker keeping backlog lines per invocation.
// A backlog of zero or less uses DefaultBacklog.
func NewLogBroker(backlog int) *LogBroker {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &LogBroker{
		topics:  make(map[string]*logTopic),
		backlog: backlog,
	}
}

func (b *LogBroker) topic(id string) *logTopic {
	t, ok := b.topics[id]
	if !ok {
		t = &logTopic{subs: make(map[int]chan string)}
		b.topics[id] = t
	}
	return t
}

// Subscribe returns a channel of log lines for the invocation and an
// unsubscribe function.
func (b *LogBroker) Subscribe(invocationID string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(invocationID)
	size := subscriberBufferSize
	if len(t.recent) > size {
		size = len(t.recent)
	}
	ch := make(chan string, size)
	for _, line := range t.recent {
		ch <- line
	}
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a line to every subscriber of the invocation and appends it
// to the backlog.
func (b *LogBroker) Publish(invocationID string, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(invocationID)
	if t.closed {
		return
	}
	t.recent = append(t.recent, line)
	if len(t.recent) > b.backlog {
		t.recent = t.recent[len(t.recent)-b.backlog:]
	}
	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
			// Slow subscriber; the run must not block on it.
		}
	}
}

// Close ends the invocation's stream. Subscriber channels are closed.
func (b *LogBroker) Close(invocationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(invocationID)
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Forget drops a closed topic and its backlog.
func (b *LogBroker) Forget(invocationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[invocationID]; ok && t.closed {
		delete(b.topics, invocationID)
	}
}
