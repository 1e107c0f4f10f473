package replyfeed

import "errors"

var (
	// ErrFeedClosed indicates an operation on a feed that has been shut down.
	ErrFeedClosed = errors.New("replyfeed: feed closed")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("replyfeed: subscription closed")
	// ErrThreadMismatch indicates a subscription request against a feed
	// bound to a different thread.
	ErrThreadMismatch = errors.New("replyfeed: thread mismatch")
	// ErrUnknownPeer indicates a page request for a peer the transport
	// cannot resolve to an input reference.
	ErrUnknownPeer = errors.New("replyfeed: unknown peer")
)
