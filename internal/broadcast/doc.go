// Package broadcast implements the multi-channel WebSocket broadcast engine.
//
// Producers call Hub.Publish, which enqueues onto a per-channel bounded queue without blocking
// (drop-oldest when full). One dispatch goroutine per channel drains the queue, runs the optional
// enrichment hook under a deadline, resolves targets from the channel's SubscriptionIndex and hands
// each frame to the target connections without blocking. Per-connection write goroutines own the
// socket, so a slow client only ever loses its own messages. A HeartbeatMonitor evicts connections
// that stop acknowledging pings.
package broadcast
