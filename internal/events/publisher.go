package events

import "sync"

// Publisher fans events out to all active subscribers. Slow subscribers
// are skipped (non-blocking send with a per-subscriber buffer), so one
// stuck consumer never stalls the pipeline.
type Publisher struct {
	mu   sync.RWMutex
	subs map[chan Event]string
}

// NewPublisher returns an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[chan Event]string)}
}

// Subscribe returns a channel receiving events for jobID, or for all
// jobs when jobID is empty. The caller must Unsubscribe when done.
func (p *Publisher) Subscribe(jobID string) chan Event {
	ch := make(chan Event, 32)
	p.mu.Lock()
	p.subs[ch] = jobID
	p.mu.Unlock()
	return ch
}

// Unsubscribe removes ch and closes it.
func (p *Publisher) Unsubscribe(ch chan Event) {
	p.mu.Lock()
	_, ok := p.subs[ch]
	delete(p.subs, ch)
	p.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish delivers evt to every matching subscriber.
func (p *Publisher) Publish(evt Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for ch, filter := range p.subs {
		if filter != "" && filter != evt.JobID {
			continue
		}
		select {
		case ch <- evt:
		default:
			// slow subscriber, skip this event
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
