package broadcast

import (
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func ids(conns []*Connection) []uuid.UUID {
	out := make([]uuid.UUID, len(conns))
	for i, c := range conns {
		out[i] = c.ID()
	}
	return out
}

func TestSubscriptionIndex_BroadcastModeDefaultsToEverything(t *testing.T) {
	x := NewSubscriptionIndex(domain.ModeBroadcast)
	all := testConn("market")
	aapl := testConn("market")
	x.Attach(all, nil)
	x.Attach(aapl, []string{"AAPL"})

	assert.ElementsMatch(t, []uuid.UUID{all.ID(), aapl.ID()}, ids(x.Targets("AAPL")))
	assert.Equal(t, []uuid.UUID{all.ID()}, ids(x.Targets("MSFT")))
	assert.Equal(t, []uuid.UUID{all.ID()}, ids(x.Targets("")))
	assert.True(t, x.InBroadcast(all.ID()))
	assert.False(t, x.InBroadcast(aapl.ID()))
}

func TestSubscriptionIndex_OptInDeliversOnlyToSubscribers(t *testing.T) {
	x := NewSubscriptionIndex(domain.ModeOptIn)
	idle := testConn("alerts")
	aapl := testConn("alerts")
	x.Attach(idle, nil)
	x.Attach(aapl, []string{"AAPL"})

	assert.Equal(t, []uuid.UUID{aapl.ID()}, ids(x.Targets("AAPL")))
	assert.Empty(t, x.Targets("MSFT"))
	assert.Empty(t, x.Targets(""))
	assert.Equal(t, 2, x.Len())
}

func TestSubscriptionIndex_SubscribeLeavesBroadcastSet(t *testing.T) {
	x := NewSubscriptionIndex(domain.ModeBroadcast)
	c := testConn("market")
	x.Attach(c, nil)

	topics, ok := x.Subscribe(c.ID(), []string{"MSFT", "AAPL"})
	require.True(t, ok)
	assert.Equal(t, []string{"AAPL", "MSFT"}, topics)
	assert.False(t, x.InBroadcast(c.ID()))
	assert.Empty(t, x.Targets("TSLA"))
}

func TestSubscriptionIndex_UnsubscribeAllReturnsToBroadcastOnlyInBroadcastMode(t *testing.T) {
	tests := []struct {
		mode          domain.SubscriptionMode
		wantBroadcast bool
	}{
		{domain.ModeBroadcast, true},
		{domain.ModeOptIn, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			x := NewSubscriptionIndex(tt.mode)
			c := testConn("ch")
			x.Attach(c, []string{"AAPL", "MSFT"})

			removed, ok := x.Unsubscribe(c.ID(), nil)
			require.True(t, ok)
			assert.Equal(t, []string{"AAPL", "MSFT"}, removed)
			assert.Empty(t, x.Topics(c.ID()))
			assert.Equal(t, tt.wantBroadcast, x.InBroadcast(c.ID()))
			assert.Equal(t, tt.wantBroadcast, len(x.Targets("AAPL")) == 1)
		})
	}
}

func TestSubscriptionIndex_UnsubscribeUnknownTopicIsNoop(t *testing.T) {
	x := NewSubscriptionIndex(domain.ModeBroadcast)
	c := testConn("market")
	x.Attach(c, []string{"AAPL"})

	removed, ok := x.Unsubscribe(c.ID(), []string{"TSLA"})
	require.True(t, ok)
	assert.Empty(t, removed)
	assert.Equal(t, []string{"AAPL"}, x.Topics(c.ID()))
	assert.False(t, x.InBroadcast(c.ID()))
}

func TestSubscriptionIndex_RemoveAndUnknownMember(t *testing.T) {
	x := NewSubscriptionIndex(domain.ModeBroadcast)
	c := testConn("market")
	x.Attach(c, []string{"AAPL"})

	assert.True(t, x.Remove(c.ID()))
	assert.False(t, x.Remove(c.ID()))
	assert.Empty(t, x.Targets("AAPL"))

	_, ok := x.Subscribe(c.ID(), []string{"AAPL"})
	assert.False(t, ok)
	_, ok = x.Unsubscribe(c.ID(), nil)
	assert.False(t, ok)
}

// The index must agree with a naive model after any sequence of operations,
// and a member must never be in the broadcast set and a topic set at once.
func TestSubscriptionIndex_MatchesModel(t *testing.T) {
	topicPool := []string{"AAPL", "MSFT", "TSLA", "NVDA"}

	rapid.Check(t, func(t *rapid.T) {
		mode := rapid.SampledFrom([]domain.SubscriptionMode{domain.ModeBroadcast, domain.ModeOptIn}).Draw(t, "mode")
		x := NewSubscriptionIndex(mode)

		conns := make([]*Connection, rapid.IntRange(1, 5).Draw(t, "conns"))
		model := make(map[uuid.UUID]map[string]bool)
		for i := range conns {
			conns[i] = testConn("ch")
			initial := rapid.SliceOfNDistinct(rapid.SampledFrom(topicPool), 0, 2, rapid.ID[string]).Draw(t, "initial")
			x.Attach(conns[i], initial)
			model[conns[i].ID()] = make(map[string]bool)
			for _, topic := range initial {
				model[conns[i].ID()][topic] = true
			}
		}

		steps := rapid.IntRange(0, 30).Draw(t, "steps")
		for range steps {
			c := rapid.SampledFrom(conns).Draw(t, "conn")
			topics := rapid.SliceOfNDistinct(rapid.SampledFrom(topicPool), 0, 3, rapid.ID[string]).Draw(t, "topics")
			own := model[c.ID()]
			if rapid.Bool().Draw(t, "subscribe") {
				x.Subscribe(c.ID(), topics)
				for _, topic := range topics {
					own[topic] = true
				}
				continue
			}
			x.Unsubscribe(c.ID(), topics)
			if len(topics) == 0 {
				clear(own)
			}
			for _, topic := range topics {
				delete(own, topic)
			}
		}

		for _, topic := range append(topicPool, "") {
			var want []uuid.UUID
			for _, c := range conns {
				own := model[c.ID()]
				inBroadcast := len(own) == 0 && mode == domain.ModeBroadcast
				if inBroadcast || (topic != "" && own[topic]) {
					want = append(want, c.ID())
				}
			}
			got := ids(x.Targets(topic))
			slices.SortFunc(got, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
			slices.SortFunc(want, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
			if !slices.Equal(want, got) {
				t.Fatalf("targets for %q: want %v, got %v", topic, want, got)
			}
		}

		for _, c := range conns {
			topics := x.Topics(c.ID())
			if len(topics) > 0 && x.InBroadcast(c.ID()) {
				t.Fatalf("connection %s is in the broadcast set and subscribed to %v", c.ID(), topics)
			}
		}
	})
}
