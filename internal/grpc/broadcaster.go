package grpc

import (
	"sync"
	"sync/atomic"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

// subscriberBuffer holds a few polls' worth of statuses per subscriber.
const subscriberBuffer = 64

// Filter selects the statuses a subscriber receives. The zero Filter
// receives everything.
type Filter struct {
	Group    models.ConstellationGroup // empty matches every group
	MinLevel models.RiskLevel          // empty matches every level
	// ChangesOnly skips a status whose level equals the one previously
	// broadcast for its group.
	ChangesOnly bool
}

// Matches applies Group and MinLevel. UNKNOWN ranks above RED, so a
// MinLevel subscriber always hears when a group cannot be evaluated.
func (f Filter) Matches(st *models.RiskStatus) bool {
	if f.Group != "" && st.Group != f.Group {
		return false
	}
	if f.MinLevel != "" && st.Level.Worse(f.MinLevel) != st.Level {
		return false
	}
	return true
}

type subscriber struct {
	ch     chan *models.RiskStatus
	filter Filter
}

// Broadcaster fans published statuses out to stream subscribers and keeps
// the most recent status per constellation group.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[uint64]*subscriber
	latest      map[models.ConstellationGroup]*models.RiskStatus
	closed      bool
	nextID      atomic.Uint64
	dropped     atomic.Uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]*subscriber),
		latest:      make(map[models.ConstellationGroup]*models.RiskStatus),
	}
}

// Subscribe registers a filtered subscriber. After Close the returned
// channel is already closed.
func (b *Broadcaster) Subscribe(f Filter) (uint64, <-chan *models.RiskStatus) {
	id := b.nextID.Add(1)
	ch := make(chan *models.RiskStatus, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subscribers[id] = &subscriber{ch: ch, filter: f}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Broadcast never blocks: a subscriber whose buffer is full misses s.
// Statuses a subscriber's filter rejects never reach its buffer and are not
// counted as dropped.
func (b *Broadcaster) Broadcast(s *models.RiskStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.latest[s.Group]
	changed := prev == nil || prev.Level != s.Level
	b.latest[s.Group] = s

	for _, sub := range b.subscribers {
		if !sub.filter.Matches(s) || sub.filter.ChangesOnly && !changed {
			continue
		}
		select {
		case sub.ch <- s:
		default:
			b.dropped.Add(1)
		}
	}
}

// Latest returns the last status broadcast for group.
func (b *Broadcaster) Latest(group models.ConstellationGroup) (*models.RiskStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.latest[group]
	return s, ok
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Dropped counts statuses skipped for slow subscribers.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Close ends every stream. Later subscribers get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
