package broadcast

import (
	"testing"

	"github.com/pscheid92/marketpulse/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRouteControl(t *testing.T) {
	tests := []struct {
		name       string
		mode       domain.SubscriptionMode
		initial    []string
		frame      string
		wantType   domain.ReplyType
		wantTopics []string
		wantErr    string
		wantAfter  []string
	}{
		{
			name:       "subscribe",
			mode:       domain.ModeBroadcast,
			frame:      `{"action":"subscribe","topics":["AAPL"," MSFT ","AAPL"]}`,
			wantType:   domain.ReplySubscribed,
			wantTopics: []string{"AAPL", "MSFT"},
			wantAfter:  []string{"AAPL", "MSFT"},
		},
		{
			name:       "unsubscribe some",
			mode:       domain.ModeOptIn,
			initial:    []string{"AAPL", "MSFT"},
			frame:      `{"action":"unsubscribe","topics":["MSFT","TSLA"]}`,
			wantType:   domain.ReplyUnsubscribed,
			wantTopics: []string{"MSFT"},
			wantAfter:  []string{"AAPL"},
		},
		{
			name:       "unsubscribe all",
			mode:       domain.ModeOptIn,
			initial:    []string{"AAPL", "MSFT"},
			frame:      `{"action":"unsubscribe"}`,
			wantType:   domain.ReplyUnsubscribed,
			wantTopics: []string{"AAPL", "MSFT"},
			wantAfter:  []string{},
		},
		{
			name:      "invalid json",
			mode:      domain.ModeBroadcast,
			initial:   []string{"AAPL"},
			frame:     `{"action":`,
			wantType:  domain.ReplyError,
			wantErr:   "malformed control message",
			wantAfter: []string{"AAPL"},
		},
		{
			name:      "unknown action",
			mode:      domain.ModeBroadcast,
			frame:     `{"action":"publish","topics":["AAPL"]}`,
			wantType:  domain.ReplyError,
			wantErr:   "unknown action",
			wantAfter: []string{},
		},
		{
			name:      "subscribe without topics",
			mode:      domain.ModeBroadcast,
			frame:     `{"action":"subscribe","topics":[]}`,
			wantType:  domain.ReplyError,
			wantErr:   "at least one topic",
			wantAfter: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := NewSubscriptionIndex(tt.mode)
			conn := activeConn("ch")
			x.Attach(conn, tt.initial)

			reply := routeControl(x, conn, []byte(tt.frame))

			assert.Equal(t, tt.wantType, reply.Type)
			if tt.wantErr != "" {
				assert.Contains(t, reply.Error, tt.wantErr)
			} else {
				assert.Equal(t, tt.wantTopics, reply.Topics)
			}
			assert.Equal(t, tt.wantAfter, x.Topics(conn.ID()))
		})
	}
}

func TestRouteControl_DetachedConnection(t *testing.T) {
	x := NewSubscriptionIndex(domain.ModeBroadcast)
	conn := activeConn("ch")

	reply := routeControl(x, conn, []byte(`{"action":"subscribe","topics":["AAPL"]}`))
	assert.Equal(t, domain.ReplyError, reply.Type)
}
