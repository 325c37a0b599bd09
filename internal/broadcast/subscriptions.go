package broadcast

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/marketpulse/internal/domain"
)

type connSet map[uuid.UUID]*Connection

// SubscriptionIndex maps the topics of one channel to the connections that
// receive them. A member is either in the broadcast set or in at least one
// topic set, never both. On opt-in channels a member with no topics is in
// neither and receives nothing.
type SubscriptionIndex struct {
	mu        sync.RWMutex
	mode      domain.SubscriptionMode
	members   connSet
	broadcast connSet
	topics    map[string]connSet
	byConn    map[uuid.UUID]map[string]struct{}
}

func NewSubscriptionIndex(mode domain.SubscriptionMode) *SubscriptionIndex {
	return &SubscriptionIndex{
		mode:      mode,
		members:   make(connSet),
		broadcast: make(connSet),
		topics:    make(map[string]connSet),
		byConn:    make(map[uuid.UUID]map[string]struct{}),
	}
}

// Attach adds a connection with its initial topics.
func (x *SubscriptionIndex) Attach(c *Connection, topics []string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.members[c.id] = c
	x.byConn[c.id] = make(map[string]struct{})
	if len(topics) == 0 {
		if x.mode == domain.ModeBroadcast {
			x.broadcast[c.id] = c
		}
		return
	}
	x.addTopics(c, topics)
}

// Subscribe adds topics to a member and returns the resulting topic set.
func (x *SubscriptionIndex) Subscribe(id uuid.UUID, topics []string) ([]string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	c, ok := x.members[id]
	if !ok {
		return nil, false
	}
	if len(topics) > 0 {
		delete(x.broadcast, id)
		x.addTopics(c, topics)
	}
	return x.topicsOf(id), true
}

// Unsubscribe removes topics from a member; an empty list removes all of
// them. It returns the topics that were actually removed.
func (x *SubscriptionIndex) Unsubscribe(id uuid.UUID, topics []string) ([]string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	c, ok := x.members[id]
	if !ok {
		return nil, false
	}
	own := x.byConn[id]
	if len(topics) == 0 {
		topics = sortedKeys(own)
	}

	removed := make([]string, 0, len(topics))
	for _, t := range topics {
		if _, subscribed := own[t]; !subscribed {
			continue
		}
		delete(own, t)
		if set := x.topics[t]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(x.topics, t)
			}
		}
		removed = append(removed, t)
	}

	if len(own) == 0 && x.mode == domain.ModeBroadcast {
		x.broadcast[id] = c
	}
	return removed, true
}

// Remove drops a connection from every set.
func (x *SubscriptionIndex) Remove(id uuid.UUID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.members[id]; !ok {
		return false
	}
	for t := range x.byConn[id] {
		if set := x.topics[t]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(x.topics, t)
			}
		}
	}
	delete(x.byConn, id)
	delete(x.broadcast, id)
	delete(x.members, id)
	return true
}

// Targets returns the broadcast set plus the members subscribed to topic, in
// registration order. Events without a topic only reach the broadcast set.
func (x *SubscriptionIndex) Targets(topic string) []*Connection {
	x.mu.RLock()
	set := x.topics[topic]
	if topic == "" {
		set = nil
	}
	out := make([]*Connection, 0, len(x.broadcast)+len(set))
	for _, c := range x.broadcast {
		out = append(out, c)
	}
	for _, c := range set {
		out = append(out, c)
	}
	x.mu.RUnlock()

	sortBySeq(out)
	return out
}

// Topics returns a member's subscribed topics in sorted order.
func (x *SubscriptionIndex) Topics(id uuid.UUID) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.topicsOf(id)
}

// InBroadcast reports whether the member receives every event.
func (x *SubscriptionIndex) InBroadcast(id uuid.UUID) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.broadcast[id]
	return ok
}

func (x *SubscriptionIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.members)
}

func (x *SubscriptionIndex) addTopics(c *Connection, topics []string) {
	own := x.byConn[c.id]
	for _, t := range topics {
		own[t] = struct{}{}
		set := x.topics[t]
		if set == nil {
			set = make(connSet)
			x.topics[t] = set
		}
		set[c.id] = c
	}
}

func (x *SubscriptionIndex) topicsOf(id uuid.UUID) []string {
	return sortedKeys(x.byConn[id])
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
