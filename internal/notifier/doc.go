// Package notifier delivers alert text to the one configured destination
// chat.
//
// Delivery is synchronous: Send returns once the transport accepted or
// rejected the message. There is no queue and no retry; a failed send is
// reported as ErrDelivery and the message is lost. A token bucket limits
// bursts when several loops alert at once.
//
// # History
//
// The service keeps a small in-memory history of delivered messages and,
// when a store is configured, appends every attempt to it.
package notifier
