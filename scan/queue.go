package scan

// Message is one formatted reading awaiting publication.
type Message struct {
	Topic   string
	Payload string
}

// PublishQueueDepth is the capacity of the publish queue. When full, new
// messages are dropped rather than blocking the radio event context.
const PublishQueueDepth = 16

// queue is a bounded FIFO with a non-blocking producer side and a blocking
// consumer side. That asymmetry is load-bearing: producers run in the radio
// event context and must never stall, consumers are worker goroutines that
// wait indefinitely.
type queue[T any] struct {
	ch chan T
}

func newQueue[T any](capacity int) *queue[T] {
	return &queue[T]{ch: make(chan T, capacity)}
}

// trySend enqueues v without blocking. Returns false when the queue is
// full; the message is dropped.
func (q *queue[T]) trySend(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// receive blocks until a message is available or stop is closed.
func (q *queue[T]) receive(stop <-chan struct{}) (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	case <-stop:
		var zero T
		return zero, false
	}
}

// flush discards all queued messages.
func (q *queue[T]) flush() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}

// depth returns the number of queued messages.
func (q *queue[T]) depth() int {
	return len(q.ch)
}
