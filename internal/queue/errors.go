package queue

import "errors"

var (
	// ErrStoreClosed is returned when the store is used after Close.
	ErrStoreClosed = errors.New("queue store is closed")

	// ErrNotDequeued is returned by Ack and Nack for messages that did
	// not come from Dequeue.
	ErrNotDequeued = errors.New("message was not dequeued from the store")

	// ErrUnknownKind is returned by ParseKind.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrCorruptPayload is returned when a stored row cannot be decoded.
	ErrCorruptPayload = errors.New("corrupt message payload")
)
