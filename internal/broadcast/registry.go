package broadcast

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/marketpulse/internal/domain"
)

// Registry is the authoritative set of live connections across all channels.
type Registry struct {
	mu            sync.RWMutex
	conns         map[uuid.UUID]*Connection
	byChannel     map[string]map[uuid.UUID]*Connection
	nextSeq       uint64
	maxPerChannel int
}

// NewRegistry creates a registry. maxPerChannel <= 0 disables the per-channel limit.
func NewRegistry(maxPerChannel int) *Registry {
	return &Registry{
		conns:         make(map[uuid.UUID]*Connection),
		byChannel:     make(map[string]map[uuid.UUID]*Connection),
		maxPerChannel: maxPerChannel,
	}
}

// Register adds a connection. It fails on a duplicate id or when the
// connection's channel is at capacity.
func (r *Registry) Register(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c.id]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateConnection, c.id)
	}
	members := r.byChannel[c.channel]
	if r.maxPerChannel > 0 && len(members) >= r.maxPerChannel {
		return fmt.Errorf("%w: %s has %d connections", domain.ErrChannelFull, c.channel, len(members))
	}
	if members == nil {
		members = make(map[uuid.UUID]*Connection)
		r.byChannel[c.channel] = members
	}

	r.nextSeq++
	c.seq = r.nextSeq
	r.conns[c.id] = c
	members[c.id] = c
	return nil
}

// Unregister removes a connection. Returns false if it was not registered.
func (r *Registry) Unregister(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return false
	}
	delete(r.conns, id)
	if members := r.byChannel[c.channel]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(r.byChannel, c.channel)
		}
	}
	return true
}

// Get returns a registered connection.
func (r *Registry) Get(id uuid.UUID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Snapshot returns the channel's connections in registration order. Fan-out
// uses the SubscriptionIndex copy instead; Shutdown drains through Snapshot.
func (r *Registry) Snapshot(channel string) []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.byChannel[channel]))
	for _, c := range r.byChannel[channel] {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sortBySeq(out)
	return out
}

// All returns every registered connection in registration order.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sortBySeq(out)
	return out
}

func (r *Registry) Count(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byChannel[channel])
}

// Counts returns the number of connections per channel.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.byChannel))
	for name, members := range r.byChannel {
		out[name] = len(members)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func sortBySeq(conns []*Connection) {
	sort.Slice(conns, func(i, j int) bool { return conns[i].seq < conns[j].seq })
}
