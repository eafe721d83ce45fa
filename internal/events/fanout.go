package events

import "docify/internal/domain"

// Publisher receives job events.
type Publisher interface {
	Publish(ev domain.JobEvent)
}

// Fanout delivers every event to each of its publishers in order.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ev domain.JobEvent) {
	for _, p := range f {
		if p != nil {
			p.Publish(ev)
		}
	}
}
