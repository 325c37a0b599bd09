package broadcast

import (
	"log/slog"

	"github.com/pscheid92/marketpulse/internal/domain"
)

// routeControl applies one inbound control frame to the index and builds the
// reply for the client. Malformed frames produce an error reply and leave the
// subscriptions untouched.
func routeControl(index *SubscriptionIndex, conn *Connection, data []byte) domain.ControlReply {
	msg, err := domain.ParseControlMessage(data)
	if err != nil {
		slog.Debug("Rejected control message", append(conn.logAttrs(), "error", err)...)
		return domain.ControlReply{Type: domain.ReplyError, Error: err.Error()}
	}

	switch msg.Action {
	case domain.ActionSubscribe:
		topics, ok := index.Subscribe(conn.id, msg.Topics)
		if !ok {
			return domain.ControlReply{Type: domain.ReplyError, Error: "connection is not attached"}
		}
		return domain.ControlReply{Type: domain.ReplySubscribed, Topics: topics}
	default:
		removed, ok := index.Unsubscribe(conn.id, msg.Topics)
		if !ok {
			return domain.ControlReply{Type: domain.ReplyError, Error: "connection is not attached"}
		}
		return domain.ControlReply{Type: domain.ReplyUnsubscribed, Topics: removed}
	}
}
