package worker

import "container/list"

// seenSet is a bounded LRU set of request ids used to deduplicate deliveries
// across the stream and polling channels. It is owned by the subscriber task
// and is not safe for concurrent use.
type seenSet struct {
	capacity int
	ids      map[string]*list.Element
	order    *list.List // front = most recently seen
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		capacity: capacity,
		ids:      map[string]*list.Element{},
		order:    list.New(),
	}
}

// Add records id and reports whether it was new. Re-seeing an id refreshes its
// recency; the least recently seen id is evicted beyond capacity.
func (s *seenSet) Add(id string) bool {
	if element, ok := s.ids[id]; ok {
		s.order.MoveToFront(element)
		return false
	}
	s.ids[id] = s.order.PushFront(id)
	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.ids, oldest.Value.(string))
	}
	return true
}

// Len returns the number of retained ids.
func (s *seenSet) Len() int {
	return s.order.Len()
}
