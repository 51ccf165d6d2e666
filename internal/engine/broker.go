package engine

import "sync"

// subscriberBufferSize is the channel buffer for each subscriber.
// Messages are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// maxClosedTopics caps the closed-topic markers kept for late subscribers.
// The oldest marker is evicted first.
const maxClosedTopics = 1024

// Broker fans out per-job messages (progress percentages, engine log lines)
// to subscribers. It is safe for concurrent use.
//
// Closed topics are retained as markers so that subscribers arriving after a
// job finishes receive a closed channel instead of blocking forever. Only the
// most recent maxClosedTopics markers are kept; callers that may subscribe to
// an older job check its stored status first. An open topic is dropped when
// its last subscriber leaves.
type Broker[T any] struct {
	mu     sync.Mutex
	topics map[string]*topic[T]
	closed []string
}

type topic[T any] struct {
	subs   map[int]chan T
	nextID int
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		topics: make(map[string]*topic[T]),
	}
}

// Subscribe returns a channel that receives messages for the given job and
// an unsubscribe function. If the job has already finished, the returned
// channel is closed.
func (b *Broker[T]) Subscribe(jobID string) (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &topic[T]{subs: make(map[int]chan T)}
		b.topics[jobID] = t
	}

	ch := make(chan T, subscriberBufferSize)
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
		if !t.closed && len(t.subs) == 0 && b.topics[jobID] == t {
			delete(b.topics, jobID)
		}
	}
}

// Len reports how many topics the broker is tracking, markers included.
func (b *Broker[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

// Publish sends msg to every subscriber of the job in publish order.
// Messages are dropped for subscribers whose buffers are full.
func (b *Broker[T]) Publish(jobID string, msg T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- msg:
		default:
			// Never block the encode on a slow reader.
		}
	}
}

// Close signals that nothing more will be published for the job. All
// subscriber channels are closed and later Subscribe calls return a closed
// channel.
func (b *Broker[T]) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &topic[T]{subs: make(map[int]chan T)}
		b.topics[jobID] = t
	}
	if t.closed {
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}

	b.closed = append(b.closed, jobID)
	if len(b.closed) > maxClosedTopics {
		delete(b.topics, b.closed[0])
		b.closed = b.closed[1:]
	}
}
